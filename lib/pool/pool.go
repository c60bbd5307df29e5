// Package pool provides a fixed-size worker pool consuming a FIFO of jobs.
//
// Jobs must be self-contained: they run on pool workers with no result
// channel and no cancellation, so nothing they touch may be shared with
// other goroutines. The server uses the pool exclusively to tear down large
// value subgraphs after they have been unlinked from the keyspace.
package pool

import (
	"sync"

	"github.com/lhartmann/kedis/lib/container/dlist"
)

// Pool is the worker set. Create with New.
type Pool struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	jobs     dlist.Node[func()] // FIFO, linked through intrusive list nodes
	closed   bool
	workers  sync.WaitGroup
}

// New starts a pool with n workers. n must be at least 1.
func New(n int) *Pool {
	if n < 1 {
		n = 1
	}
	p := &Pool{}
	p.notEmpty = sync.NewCond(&p.mu)
	p.jobs.Init()
	p.workers.Add(n)
	for i := 0; i < n; i++ {
		go p.worker()
	}
	return p
}

// Submit appends a job to the queue and wakes one worker. Submitting after
// Close is a no-op.
func (p *Pool) Submit(job func()) {
	n := &dlist.Node[func()]{Elem: job}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.jobs.InsertBefore(n)
	p.mu.Unlock()
	p.notEmpty.Signal()
}

// Close stops the workers after the queued jobs have run and waits for them
// to exit.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.notEmpty.Broadcast()
	p.workers.Wait()
}

func (p *Pool) worker() {
	defer p.workers.Done()
	for {
		p.mu.Lock()
		for p.jobs.Empty() && !p.closed {
			p.notEmpty.Wait()
		}
		if p.jobs.Empty() {
			p.mu.Unlock()
			return
		}
		front := p.jobs.Next()
		front.Detach()
		p.mu.Unlock()

		front.Elem()
	}
}
