// SPDX-License-Identifier: GPL-3.0-or-later

package xhrproxy

import "sync"

// taskQueue serializes the deferred work of a [*Proxy].
//
// Native callbacks, chain continuations and event dispatches are pushed as
// tasks and run one at a time in FIFO order by whichever goroutine calls
// drain first. This gives listeners and hooks the run-to-completion
// semantics of a single-threaded event loop: a listener that calls back
// into the proxy only enqueues more work, which runs after it returns.
//
// While a goroutine is calling into the native object (see enterNative),
// drain from other goroutines is a no-op; the caller drains once the
// native call returns. This prevents a native callback fired synchronously
// inside a proxy method from running tasks that need the proxy lock.
type taskQueue struct {
	mu          sync.Mutex
	tasks       []func()
	draining    bool
	nativeDepth int

	// onPanic is called with the value recovered from a panicking task.
	onPanic func(v any)
}

// push appends task to the queue without running it.
func (q *taskQueue) push(task func()) {
	q.mu.Lock()
	q.tasks = append(q.tasks, task)
	q.mu.Unlock()
}

// enterNative marks the beginning of a call into the native object.
func (q *taskQueue) enterNative() {
	q.mu.Lock()
	q.nativeDepth++
	q.mu.Unlock()
}

// leaveNative marks the end of a call into the native object.
func (q *taskQueue) leaveNative() {
	q.mu.Lock()
	q.nativeDepth--
	q.mu.Unlock()
}

// drain runs queued tasks until the queue is empty.
func (q *taskQueue) drain() {
	q.mu.Lock()
	if q.draining || q.nativeDepth > 0 {
		q.mu.Unlock()
		return
	}
	q.draining = true
	for len(q.tasks) > 0 {
		task := q.tasks[0]
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		q.mu.Unlock()
		q.run(task)
		q.mu.Lock()
	}
	q.draining = false
	q.mu.Unlock()
}

func (q *taskQueue) run(task func()) {
	defer func() {
		if r := recover(); r != nil && q.onPanic != nil {
			q.onPanic(r)
		}
	}()
	task()
}
