package collab

import (
	"context"
	"sync"
)

// taskTracker holds a cancel function per in-flight task so timeout watchers
// can be stopped the moment a terminal progress report arrives.
type taskTracker struct {
	mu     sync.Mutex
	active map[string]context.CancelFunc
}

func newTaskTracker() *taskTracker {
	return &taskTracker{active: make(map[string]context.CancelFunc)}
}

// track registers the cancel function for a task, replacing (and firing) any
// previous entry under the same ID.
func (t *taskTracker) track(taskID string, cancel context.CancelFunc) {
	t.mu.Lock()
	prev, ok := t.active[taskID]
	t.active[taskID] = cancel
	t.mu.Unlock()

	if ok {
		prev()
	}
}

// settle cancels and removes the watcher for a task. It reports whether the
// task was still being tracked, so exactly one caller wins the terminal
// transition.
func (t *taskTracker) settle(taskID string) bool {
	t.mu.Lock()
	cancel, ok := t.active[taskID]
	delete(t.active, taskID)
	t.mu.Unlock()

	if ok {
		cancel()
	}

	return ok
}

// settleAll cancels every tracked task. Used on server shutdown.
func (t *taskTracker) settleAll() {
	t.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(t.active))
	for _, cancel := range t.active {
		cancels = append(cancels, cancel)
	}
	t.active = make(map[string]context.CancelFunc)
	t.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

func (t *taskTracker) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.active)
}
