package augment

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/memori-go/memori/internal/logging"
	"github.com/memori-go/memori/internal/remote"
	"github.com/memori-go/memori/internal/storage"
	"github.com/memori-go/memori/internal/writer"
)

// enqueueWriteTimeout bounds how long a finished task waits for the
// batched writer's queue to have room before dropping a write —
// augmentation is best-effort by design.
const enqueueWriteTimeout = time.Second

// Pool runs each augmentation task on its own goroutine, with the number
// of tasks running at once bounded by a semaphore. It has no
// per-task cancellation: dropping the owning handle only stops new
// enqueues, in-flight tasks run to completion against their own borrowed
// connection.
type Pool struct {
	factory       storage.ConnectionFactory
	augmentations []Augmentation
	writer        *writer.Writer
	sem           chan struct{}

	mu     sync.Mutex
	active bool
	err    error

	wg sync.WaitGroup
}

// NewPool builds a Pool bounded to workers concurrent tasks, handing
// staged writes to w.
func NewPool(factory storage.ConnectionFactory, workers int, w *writer.Writer) *Pool {
	if workers <= 0 {
		workers = 1
	}
	return &Pool{
		factory: factory,
		writer:  w,
		sem:     make(chan struct{}, workers),
		active:  true,
	}
}

// Register adds an augmentation to the per-task pipeline, run in
// registration order.
func (p *Pool) Register(a Augmentation) {
	p.augmentations = append(p.augmentations, a)
}

// Enqueue schedules one augmentation task. It returns the pool's stored
// error (a *remote.QuotaExceededError, typically) if a prior task already
// disabled the pool.
func (p *Pool) Enqueue(input Input) error {
	p.mu.Lock()
	if !p.active {
		err := p.err
		p.mu.Unlock()
		if err == nil {
			err = errors.New("augmentation pool disabled")
		}
		return err
	}
	p.mu.Unlock()

	p.wg.Add(1)
	go p.runTask(input)
	return nil
}

// Wait blocks until every enqueued task has finished — used by tests and
// graceful shutdown paths, never by the request path itself.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) runTask(input Input) {
	defer p.wg.Done()

	p.sem <- struct{}{}
	defer func() { <-p.sem }()

	adapter, driver, err := p.factory()
	if err != nil {
		logging.Info("augment", "failed to acquire connection for task: %v", err)
		return
	}
	defer adapter.Close()

	ctx := context.Background()
	actx := &Context{Input: input}

	for _, a := range p.augmentations {
		if err := a.Process(ctx, actx, driver); err != nil {
			var qerr *remote.QuotaExceededError
			if errors.As(err, &qerr) {
				p.disable(err)
				return
			}
			logging.Info("augment", "augmentation %q failed: %v", a.Name(), err)
		}
	}

	for _, t := range actx.Writes {
		if !p.writer.Enqueue(t, enqueueWriteTimeout) {
			logging.Info("augment", "batched writer queue full, dropping write %q", t.MethodPath)
		}
	}
}

func (p *Pool) disable(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active {
		return
	}
	p.active = false
	p.err = err
	logging.Info("augment", "worker pool disabled: %v", err)
}

// Active reports whether the pool is still accepting new tasks.
func (p *Pool) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}
