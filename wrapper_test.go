// SPDX-License-Identifier: GPL-3.0-or-later

package xhrproxy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapperLabel(t *testing.T) {
	assert.Equal(t, "requestChanger", (&Wrapper{}).label("requestChanger"))
	assert.Equal(t, "compose.requestChanger", (&Wrapper{Name: "compose"}).label("requestChanger"))
}

func TestWrapperList(t *testing.T) {
	a, b, c := &Wrapper{Name: "a"}, &Wrapper{Name: "b"}, &Wrapper{Name: "c"}

	list := NewWrapperList(a, b)
	assert.Equal(t, 2, list.Len())

	snapshot := list.Snapshot()
	removeC := list.Add(c)
	assert.Equal(t, []*Wrapper{a, b}, snapshot)
	assert.Equal(t, []*Wrapper{a, b, c}, list.Snapshot())

	assert.True(t, list.Remove(a))
	assert.False(t, list.Remove(a))
	removeC()
	assert.Equal(t, []*Wrapper{b}, list.Snapshot())
	assert.Equal(t, []*Wrapper{a, b}, snapshot)

	var zero WrapperList
	assert.Equal(t, 0, zero.Len())
	zero.Add(a)
	assert.Equal(t, []*Wrapper{a}, zero.Snapshot())
}

func TestNewHookSet(t *testing.T) {
	changeRequest := func(ctx context.Context, conn *Connection, req Request) (Request, error) {
		return req, nil
	}
	changeText := func(ctx context.Context, conn *Connection, text string) (string, error) {
		return text, nil
	}
	loggerOnly := &Wrapper{Name: "logger", FinalResponseTextLogger: func(*Connection, string) {}}
	requester := &Wrapper{Name: "requester", RequestChanger: changeRequest}
	both := &Wrapper{Name: "both", RequestChanger: changeRequest, ResponseTextChanger: changeText}

	t.Run("async", func(t *testing.T) {
		hs := newHookSet([]*Wrapper{loggerOnly, requester, both}, true)
		assert.Equal(t, []*Wrapper{requester, both}, hs.requestChangers)
		assert.Equal(t, []*Wrapper{both}, hs.responseTextChangers)
		assert.True(t, hs.defersRequest())
		assert.True(t, hs.transformsResponse())
	})

	t.Run("sync never collects changers", func(t *testing.T) {
		hs := newHookSet([]*Wrapper{loggerOnly, requester, both}, false)
		assert.Len(t, hs.active, 3)
		assert.False(t, hs.defersRequest())
		assert.False(t, hs.transformsResponse())
	})

	t.Run("loggers only", func(t *testing.T) {
		hs := newHookSet([]*Wrapper{loggerOnly}, true)
		assert.False(t, hs.defersRequest())
		assert.False(t, hs.transformsResponse())
	})

	t.Run("nil", func(t *testing.T) {
		var hs *hookSet
		assert.False(t, hs.defersRequest())
		assert.False(t, hs.transformsResponse())
	})
}
