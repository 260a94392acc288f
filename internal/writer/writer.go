// Package writer implements the Batched DB Writer: a single background
// thread draining a bounded queue of deferred write operations, applying
// each batch against one long-lived connection.
package writer

import (
	"time"

	"github.com/memori-go/memori/internal/logging"
	"github.com/memori-go/memori/internal/storage"
)

// Task is one deferred write, staged by an augmentation task and later
// resolved against the batched writer's own driver. MethodPath names the
// driver method to invoke ("entity_fact.create", "knowledge_graph.create",
// "process_attribute.create", "conversation.update_summary"); Apply
// performs it.
type Task struct {
	MethodPath string
	Apply      func(storage.Driver) error
}

// Writer drains queued Tasks in bounded batches against one long-lived
// connection, committing once per batch and rolling back (logging, not
// dying) on a mid-batch failure.
type Writer struct {
	factory storage.ConnectionFactory

	queue chan Task

	batchSize    int
	batchTimeout time.Duration

	stop chan struct{}
	done chan struct{}
}

// New builds a Writer against factory, with the given queue size, batch
// size, and batch timeout (spec defaults: 1000 / 100 / 0.1s).
func New(factory storage.ConnectionFactory, queueSize, batchSize int, batchTimeout time.Duration) *Writer {
	return &Writer{
		factory:      factory,
		queue:        make(chan Task, queueSize),
		batchSize:    batchSize,
		batchTimeout: batchTimeout,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Enqueue stages task for the next batch. It returns false if the queue
// is full within timeout — the caller (augmentation, best-effort by
// design) is then free to drop the write.
func (w *Writer) Enqueue(task Task, timeout time.Duration) bool {
	select {
	case w.queue <- task:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Start launches the background batch loop. It owns exactly one
// connection, opened on the goroutine itself (not the caller's), and
// reopens it after a connection-acquisition failure following a one
// second backoff.
func (w *Writer) Start() {
	go w.run()
}

// Stop signals the batch loop to exit after draining whatever is
// currently queued, and blocks until it does.
func (w *Writer) Stop() {
	close(w.stop)
	<-w.done
}

func (w *Writer) run() {
	defer close(w.done)

	for {
		adapter, driver, err := w.factory()
		if err != nil {
			logging.Info("writer", "failed to acquire connection: %v — retrying in 1s", err)
			select {
			case <-w.stop:
				return
			case <-time.After(time.Second):
				continue
			}
		}
		w.loop(adapter, driver)
		adapter.Close()
		select {
		case <-w.stop:
			return
		default:
			// loop returns only once stop is closed, so this branch is
			// not taken.
		}
	}
}

// loop runs the batch-collect-apply cycle against one connection until
// Stop is called. A failed batch is rolled back and the loop carries on
// with the same connection.
func (w *Writer) loop(adapter storage.Adapter, driver storage.Driver) {
	for {
		select {
		case <-w.stop:
			w.drainRemaining(adapter, driver)
			return
		default:
		}

		batch := w.collectBatch()
		if len(batch) == 0 {
			select {
			case <-w.stop:
				return
			case <-time.After(w.batchTimeout):
			}
			continue
		}
		w.applyBatch(adapter, driver, batch)
	}
}

// collectBatch drains up to batchSize queued tasks, bounded by
// batchTimeout: it waits for the first task (or the deadline), then keeps
// pulling whatever is immediately available without extending the
// deadline.
func (w *Writer) collectBatch() []Task {
	deadline := time.After(w.batchTimeout)

	var first Task
	select {
	case first = <-w.queue:
	case <-deadline:
		return nil
	}
	batch := []Task{first}

	for len(batch) < w.batchSize {
		select {
		case t := <-w.queue:
			batch = append(batch, t)
		default:
			return batch
		}
	}
	return batch
}

// drainRemaining flushes whatever is still queued (non-blocking) before a
// final shutdown, best-effort.
func (w *Writer) drainRemaining(adapter storage.Adapter, driver storage.Driver) {
	for {
		var batch []Task
		for len(batch) < w.batchSize {
			select {
			case t := <-w.queue:
				batch = append(batch, t)
			default:
				goto collected
			}
		}
	collected:
		if len(batch) == 0 {
			return
		}
		w.applyBatch(adapter, driver, batch)
	}
}

func (w *Writer) applyBatch(adapter storage.Adapter, driver storage.Driver, batch []Task) {
	for _, t := range batch {
		if err := t.Apply(driver); err != nil {
			logging.Info("writer", "task %q failed: %v", t.MethodPath, err)
			if rerr := adapter.Rollback(); rerr != nil {
				logging.Info("writer", "rollback after failed batch also failed: %v", rerr)
			}
			return
		}
	}
	if err := adapter.Flush(); err != nil {
		logging.Info("writer", "flush failed: %v", err)
		_ = adapter.Rollback()
		return
	}
	if err := adapter.Commit(); err != nil {
		logging.Info("writer", "commit failed: %v", err)
		_ = adapter.Rollback()
	}
}
