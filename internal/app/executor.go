package app

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Do after the executor stopped.
var ErrClosed = errors.New("executor closed")

type task struct {
	fn     func() error
	result chan error
}

// Executor runs tree mutations one at a time on a dedicated goroutine.
// fn must not call Do itself.
type Executor struct {
	tasks chan task
	done  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup
}

// NewExecutor starts the writer goroutine.
func NewExecutor() *Executor {
	e := &Executor{
		tasks: make(chan task),
		done:  make(chan struct{}),
	}
	e.wg.Add(1)
	go e.loop()
	return e
}

func (e *Executor) loop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.done:
			return
		case t := <-e.tasks:
			t.result <- t.fn()
		}
	}
}

// Do runs fn on the writer goroutine and returns its error. Once fn was
// accepted Do waits for it to finish even if ctx is cancelled.
func (e *Executor) Do(ctx context.Context, fn func() error) error {
	t := task{fn: fn, result: make(chan error, 1)}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrClosed
	case e.tasks <- t:
	}
	return <-t.result
}

// Close stops accepting work and waits for the running task.
func (e *Executor) Close() {
	e.once.Do(func() { close(e.done) })
	e.wg.Wait()
}
