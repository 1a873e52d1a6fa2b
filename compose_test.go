// SPDX-License-Identifier: GPL-3.0-or-later

package xhrproxy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompose2(t *testing.T) {
	t.Run("success path", func(t *testing.T) {
		op1 := FuncAdapter[Request, string](func(ctx context.Context, req Request) (string, error) {
			return req.URL, nil
		})
		op2 := FuncAdapter[string, int](func(ctx context.Context, s string) (int, error) {
			return len(s), nil
		})

		composed := Compose2[Request, string, int](op1, op2)
		result, err := composed.Call(context.Background(), Request{URL: "/hello"})

		require.NoError(t, err)
		assert.Equal(t, 6, result)
	})

	t.Run("first operation fails", func(t *testing.T) {
		wantErr := errors.New("op1 failed")
		op1 := FuncAdapter[int, string](func(ctx context.Context, n int) (string, error) {
			return "", wantErr
		})
		op2 := FuncAdapter[string, int](func(ctx context.Context, s string) (int, error) {
			t.Fatal("op2 should not be called")
			return 0, nil
		})

		composed := Compose2[int, string, int](op1, op2)
		_, err := composed.Call(context.Background(), 42)

		require.ErrorIs(t, err, wantErr)
	})

	t.Run("second operation fails", func(t *testing.T) {
		wantErr := errors.New("op2 failed")
		op1 := FuncAdapter[int, string](func(ctx context.Context, n int) (string, error) {
			return "hello", nil
		})
		op2 := FuncAdapter[string, int](func(ctx context.Context, s string) (int, error) {
			return 0, wantErr
		})

		composed := Compose2[int, string, int](op1, op2)
		_, err := composed.Call(context.Background(), 42)

		require.ErrorIs(t, err, wantErr)
	})
}

func TestComposeAll(t *testing.T) {
	appendStage := func(suffix string) Func[Request, Request] {
		return FuncAdapter[Request, Request](func(ctx context.Context, req Request) (Request, error) {
			req.Body += suffix
			return req, nil
		})
	}

	t.Run("no stages returns the input", func(t *testing.T) {
		want := Request{Method: "GET", URL: "/x", Body: "b"}
		got, err := ComposeAll[Request]().Call(context.Background(), want)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("stages run left to right", func(t *testing.T) {
		composed := ComposeAll(appendStage("a"), appendStage("b"), appendStage("c"))
		got, err := composed.Call(context.Background(), Request{Body: ">"})
		require.NoError(t, err)
		assert.Equal(t, ">abc", got.Body)
	})

	t.Run("the first failing stage stops the fold", func(t *testing.T) {
		wantErr := errors.New("mocked error")
		failing := FuncAdapter[Request, Request](func(ctx context.Context, req Request) (Request, error) {
			return Request{}, wantErr
		})
		never := FuncAdapter[Request, Request](func(ctx context.Context, req Request) (Request, error) {
			t.Fatal("should not be called")
			return req, nil
		})
		_, err := ComposeAll(appendStage("a"), failing, never).Call(context.Background(), Request{})
		require.ErrorIs(t, err, wantErr)
	})
}
