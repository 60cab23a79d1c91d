package webhook

import (
	"context"
	"sync"

	"github.com/zulandar/orderbot/internal/conversation"
)

// job is one queued unit of work. done is closed when it has run.
type job struct {
	run  func()
	done chan struct{}
}

// keyedQueue runs jobs in FIFO order per conversation key, with one
// goroutine per key that has work. Idle keys hold no goroutine.
type keyedQueue struct {
	mu      sync.Mutex
	workers map[conversation.Key][]*job
	wg      sync.WaitGroup
	closed  bool
}

func newKeyedQueue() *keyedQueue {
	return &keyedQueue{workers: map[conversation.Key][]*job{}}
}

// enqueue schedules run behind any earlier work for key and returns a
// channel closed after it ran. It returns nil once the queue is closed.
func (q *keyedQueue) enqueue(key conversation.Key, run func()) <-chan struct{} {
	j := &job{run: run, done: make(chan struct{})}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	backlog, busy := q.workers[key]
	q.workers[key] = append(backlog, j)
	if !busy {
		q.wg.Add(1)
		go q.drain(key)
	}
	q.mu.Unlock()
	return j.done
}

func (q *keyedQueue) drain(key conversation.Key) {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		backlog := q.workers[key]
		if len(backlog) == 0 {
			delete(q.workers, key)
			q.mu.Unlock()
			return
		}
		j := backlog[0]
		q.workers[key] = backlog[1:]
		q.mu.Unlock()

		j.run()
		close(j.done)
	}
}

// depth returns the number of jobs waiting, excluding running ones.
func (q *keyedQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, b := range q.workers {
		n += len(b)
	}
	return n
}

// close stops accepting work and waits for queued jobs to finish or ctx to
// expire.
func (q *keyedQueue) close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
