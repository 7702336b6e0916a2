package mlp

import (
	"runtime"
	"sync"
)

type poolTask struct {
	fn   func(int)
	i    int
	done *sync.WaitGroup
}

// Pool is a fixed set of worker goroutines that execute indexed tasks. Run
// is the barrier between the stages of a forward pass. Tasks must not call
// Run on the same pool.
type Pool struct {
	size  int
	tasks chan poolTask
	once  sync.Once
}

// NewPool starts size workers; size <= 0 means GOMAXPROCS.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = runtime.GOMAXPROCS(0)
	}
	p := &Pool{
		size:  size,
		tasks: make(chan poolTask, size*2),
	}
	for w := 0; w < size; w++ {
		go func() {
			for task := range p.tasks {
				task.fn(task.i)
				task.done.Done()
			}
		}()
	}
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int { return p.size }

// Run calls fn(0) .. fn(n-1) on the workers and returns when all have
// finished. A single task runs on the calling goroutine.
func (p *Pool) Run(n int, fn func(i int)) {
	if n <= 0 {
		return
	}
	if n == 1 || p.size == 1 {
		for i := 0; i < n; i++ {
			fn(i)
		}
		return
	}
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		p.tasks <- poolTask{fn: fn, i: i, done: &wg}
	}
	wg.Wait()
}

// Close stops the workers. Run must not be called afterwards.
func (p *Pool) Close() {
	p.once.Do(func() { close(p.tasks) })
}
