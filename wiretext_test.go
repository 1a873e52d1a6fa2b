// SPDX-License-Identifier: GPL-3.0-or-later

package xhrproxy

import (
	"context"
	"errors"
	"testing"

	"github.com/bassosimone/xhrproxy/wirecodec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A wire editor rewrites a chunk and keeps the message framing.
func TestNewWireResponseTextChanger(t *testing.T) {
	changer := NewWireResponseTextChanger(func(ctx context.Context, conn *Connection, chunks []any) ([]any, error) {
		return append(chunks, []any{"added"}), nil
	})
	text, err := changer(context.Background(), &Connection{}, "5\n)]}'\n5\r\n[1,2]")
	require.NoError(t, err)
	assert.Equal(t, "5\n)]}'\n5\r\n[1,2]9\r\n[\"added\"]", text)

	t.Run("decode error", func(t *testing.T) {
		text, err := changer(context.Background(), &Connection{}, "not a message")
		require.ErrorIs(t, err, wirecodec.ErrMissingPrefix)
		assert.Empty(t, text)
	})

	t.Run("editor error", func(t *testing.T) {
		wantErr := errors.New("mocked error")
		failing := NewWireResponseTextChanger(func(context.Context, *Connection, []any) ([]any, error) {
			return nil, wantErr
		})
		_, err := failing(context.Background(), &Connection{}, ")]}'\n\n[1]\n")
		require.ErrorIs(t, err, wantErr)
	})

	t.Run("encode error", func(t *testing.T) {
		// a second chunk cannot be framed without lengths
		_, err := changer(context.Background(), &Connection{}, ")]}'\n\n[1]\n")
		require.ErrorIs(t, err, wirecodec.ErrAmbiguousFraming)
	})
}

// Within a proxy, undecodable responses reach the host unchanged.
func TestProxyWireResponseTextChanger(t *testing.T) {
	proxy, native, faults := newTestProxy(&Wrapper{
		Name:         "wire",
		IsRelevantTo: always,
		ResponseTextChanger: NewWireResponseTextChanger(func(ctx context.Context, conn *Connection, chunks []any) ([]any, error) {
			chunks[0].([]any)[0] = "edited"
			return chunks, nil
		}),
	})
	rec := listenAll(proxy)

	require.NoError(t, proxy.Open("GET", "/wire", true))
	require.NoError(t, proxy.Send(""))
	native.respond(200, ")]}'\n\n[\"orig\",,1]\n")
	waitFor(t, rec.done)
	assert.Equal(t, ")]}'\n\n[\"edited\",,1]\n", proxy.ResponseText())
	assert.Empty(t, faults.Labels())

	require.NoError(t, proxy.Open("GET", "/plain", true))
	require.NoError(t, proxy.Send(""))
	native.respond(200, "plain text")
	waitFor(t, rec.done)
	assert.Equal(t, "plain text", proxy.ResponseText())
	assert.Equal(t, []string{"wire.responseTextChanger"}, faults.Labels())
}
