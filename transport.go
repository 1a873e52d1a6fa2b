// SPDX-License-Identifier: GPL-3.0-or-later

package xhrproxy

import (
	"crypto/tls"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/bassosimone/safeconn"
	"github.com/bassosimone/sud"
	"golang.org/x/net/http2"
)

// NewConnTransport returns a new [*ConnTransport] owning conn.
//
// The cfg argument contains the common configuration.
//
// The conn argument is an established connection. When it exposes a TLS
// ConnectionState negotiating "h2" the transport speaks HTTP/2, otherwise
// HTTP/1.1.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewConnTransport(cfg *Config, conn net.Conn, logger SLogger) *ConnTransport {
	type connectionStater interface {
		ConnectionState() tls.ConnectionState
	}
	var alpn string
	if csp, ok := conn.(connectionStater); ok {
		alpn = csp.ConnectionState().NegotiatedProtocol
	}

	// the dialer hands out conn exactly once
	dialer := sud.NewSingleUseDialer(conn)

	ct := &ConnTransport{
		ALPN:          alpn,
		ErrClassifier: cfg.ErrClassifier,
		Logger:        logger,
		TimeNow:       cfg.TimeNow,
		conn:          conn,
	}
	switch alpn {
	case "h2":
		txp := &http2.Transport{DialTLSContext: dialer.DialTLSContext}
		ct.txp, ct.closeIdle = txp, txp.CloseIdleConnections
	default:
		txp := &http.Transport{
			DialContext:       dialer.DialContext,
			DialTLSContext:    dialer.DialContext,
			DisableKeepAlives: true,
		}
		ct.txp, ct.closeIdle = txp, txp.CloseIdleConnections
	}
	return ct
}

// ConnTransport is an [http.RoundTripper] bound to a single connection.
//
// It is meant to be used as [Config.Transport] when an [*HTTPRequest]
// must reuse a connection established elsewhere. Round trips emit the
// httpRoundTripStart and httpRoundTripDone events and response bodies
// are observed lazily.
//
// The caller is responsible for calling [ConnTransport.Close] when done.
type ConnTransport struct {
	// ALPN is the protocol negotiated by the TLS handshake, if any.
	//
	// Set by [NewConnTransport] from the connection state.
	ALPN string

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewConnTransport] from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use (configurable for testing or custom logging).
	//
	// Set by [NewConnTransport] to the user-provided logger.
	Logger SLogger

	// TimeNow is the function to get the current time (configurable for testing).
	//
	// Set by [NewConnTransport] from [Config.TimeNow].
	TimeNow func() time.Time

	conn      net.Conn
	txp       http.RoundTripper
	closeIdle func()
}

var _ http.RoundTripper = &ConnTransport{}

// RoundTrip implements [http.RoundTripper].
func (ct *ConnTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t0 := ct.TimeNow()
	deadline, _ := req.Context().Deadline()
	ct.Logger.Info(
		"httpRoundTripStart",
		slog.String("alpn", ct.ALPN),
		slog.Time("deadline", deadline),
		slog.String("httpMethod", req.Method),
		slog.Any("httpRequestHeaders", req.Header),
		slog.String("httpUrl", req.URL.String()),
		slog.String("localAddr", safeconn.LocalAddr(ct.conn)),
		slog.String("protocol", safeconn.Network(ct.conn)),
		slog.String("remoteAddr", safeconn.RemoteAddr(ct.conn)),
		slog.Time("t", t0),
	)

	resp, err := ct.txp.RoundTrip(req)

	var (
		statusCode int
		headers    http.Header
	)
	if resp != nil {
		statusCode, headers = resp.StatusCode, resp.Header
	}
	ct.Logger.Info(
		"httpRoundTripDone",
		slog.String("alpn", ct.ALPN),
		slog.Time("deadline", deadline),
		slog.Any("err", err),
		slog.String("errClass", ct.ErrClassifier.Classify(err)),
		slog.String("httpMethod", req.Method),
		slog.Any("httpResponseHeaders", headers),
		slog.Int("httpResponseStatusCode", statusCode),
		slog.String("httpUrl", req.URL.String()),
		slog.String("localAddr", safeconn.LocalAddr(ct.conn)),
		slog.String("protocol", safeconn.Network(ct.conn)),
		slog.String("remoteAddr", safeconn.RemoteAddr(ct.conn)),
		slog.Time("t0", t0),
		slog.Time("t", ct.TimeNow()),
	)
	if err != nil {
		return nil, err
	}

	resp.Body = httpBodyObserve(
		resp.Body,
		ct.ErrClassifier,
		safeconn.LocalAddr(ct.conn),
		ct.Logger,
		safeconn.Network(ct.conn),
		safeconn.RemoteAddr(ct.conn),
		ct.TimeNow,
	)
	return resp, nil
}

// Conn returns the underlying connection.
func (ct *ConnTransport) Conn() net.Conn {
	return ct.conn
}

// Close closes idle connections and the underlying connection.
func (ct *ConnTransport) Close() error {
	ct.closeIdle()
	return ct.conn.Close()
}
