// SPDX-License-Identifier: GPL-3.0-or-later

package xhrproxy_test

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"

	"github.com/bassosimone/xhrproxy"
)

// This example rewrites a )]}'-prefixed response before the host sees it.
func Example() {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, ")]}'\n\n[[\"hello\",,1]]\n")
	}))
	defer srv.Close()

	cfg := xhrproxy.NewConfig()
	wrappers := xhrproxy.NewWrapperList(&xhrproxy.Wrapper{
		Name: "greeting",
		IsRelevantTo: func(conn *xhrproxy.Connection) bool {
			return conn.Params().Get("q") == "greet"
		},
		ResponseTextChanger: xhrproxy.NewWireResponseTextChanger(
			func(ctx context.Context, conn *xhrproxy.Connection, chunks []any) ([]any, error) {
				chunks[0].([]any)[0].([]any)[0] = "goodbye"
				return chunks, nil
			}),
	})
	native := xhrproxy.NewHTTPRequestConstructor(cfg, xhrproxy.DefaultSLogger())
	factory := xhrproxy.NewProxyFactory(cfg, native, wrappers, xhrproxy.DefaultSLogger())

	proxy := factory.New()
	done := make(chan struct{})
	proxy.AddEventListener(xhrproxy.EventLoadEnd, func(ev *xhrproxy.Event) {
		close(done)
	})
	if err := proxy.Open("GET", srv.URL+"/?q=greet", true); err != nil {
		log.Fatal(err)
	}
	if err := proxy.Send(""); err != nil {
		log.Fatal(err)
	}
	<-done

	fmt.Printf("%d %q\n", proxy.Status(), proxy.ResponseText())
	// Output:
	// 200 ")]}'\n\n[[\"goodbye\",,1]]\n"
}
