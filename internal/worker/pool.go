package worker

import (
	"fmt"
	"log/slog"
	"sync"
)

type task func()

// Pool runs submitted tasks on a fixed set of goroutines. A panicking task
// is logged and does not take its worker down.
type Pool struct {
	wg   sync.WaitGroup
	jobs chan task
	log  *slog.Logger
}

func NewPool(n, backlog int, log *slog.Logger) *Pool {
	if n < 1 {
		n = 1
	}
	if backlog < 0 {
		backlog = 0
	}
	p := &Pool{jobs: make(chan task, backlog), log: log}
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for job := range p.jobs {
				p.run(job)
			}
		}()
	}
	return p
}

func (p *Pool) run(job task) {
	defer func() {
		if r := recover(); r != nil && p.log != nil {
			p.log.Error("worker task panicked", "panic", fmt.Sprint(r))
		}
	}()
	job()
}

func (p *Pool) Submit(f task) { p.jobs <- f }

// Stop closes the pool and waits for every submitted task to finish.
func (p *Pool) Stop() { close(p.jobs); p.wg.Wait() }
