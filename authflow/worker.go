package authflow

import (
	"context"
	"sync"
)

// Job is a unit of background work. ctx is cancelled when the worker stops.
type Job func(ctx context.Context)

// Worker runs submitted jobs one at a time, in submission order, on a
// single goroutine.
type Worker struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	queue   []Job
	stopped bool
	wake    chan struct{}
	done    chan struct{}
}

// NewWorker starts a worker.
func NewWorker() *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		ctx:    ctx,
		cancel: cancel,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go w.loop()
	return w
}

// Submit queues job. It fails with ErrWorkerStopped after Stop.
func (w *Worker) Submit(job Job) error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return ErrWorkerStopped
	}
	w.queue = append(w.queue, job)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
	return nil
}

// Stop cancels the running job's context and drops queued jobs. It does
// not wait; use Done for that.
func (w *Worker) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	w.queue = nil
	w.mu.Unlock()

	w.cancel()
}

// Done is closed once the worker goroutine has exited.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

func (w *Worker) loop() {
	defer close(w.done)

	for {
		job, ok := w.next()
		if !ok {
			select {
			case <-w.wake:
				continue
			case <-w.ctx.Done():
				return
			}
		}
		if w.ctx.Err() != nil {
			return
		}
		job(w.ctx)
	}
}

func (w *Worker) next() (Job, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.queue) == 0 {
		return nil, false
	}
	job := w.queue[0]
	w.queue[0] = nil
	w.queue = w.queue[1:]
	return job, true
}
