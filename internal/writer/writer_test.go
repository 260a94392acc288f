package writer

import (
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/memori-go/memori/internal/storage"
)

type fakeAdapter struct {
	mu        sync.Mutex
	commits   int
	rollbacks int
}

func (f *fakeAdapter) Exec(string, ...any) (sql.Result, error) { return nil, nil }
func (f *fakeAdapter) Query(string, ...any) (*sql.Rows, error) { return nil, nil }
func (f *fakeAdapter) QueryRow(string, ...any) *sql.Row        { return nil }
func (f *fakeAdapter) Flush() error                            { return nil }
func (f *fakeAdapter) Close() error                            { return nil }
func (f *fakeAdapter) Dialect() storage.Dialect                { return storage.DialectSQLite }
func (f *fakeAdapter) Commit() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits++
	return nil
}
func (f *fakeAdapter) Rollback() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rollbacks++
	return nil
}

type fakeDriver struct{ storage.Driver }

func newFactory(adapter *fakeAdapter) storage.ConnectionFactory {
	return func() (storage.Adapter, storage.Driver, error) {
		return adapter, fakeDriver{}, nil
	}
}

func TestWriterAppliesEnqueuedTasksInBatches(t *testing.T) {
	adapter := &fakeAdapter{}
	w := New(newFactory(adapter), 100, 10, 20*time.Millisecond)
	w.Start()
	defer w.Stop()

	var mu sync.Mutex
	var applied []int
	for i := 0; i < 25; i++ {
		i := i
		ok := w.Enqueue(Task{
			MethodPath: "entity_fact.create",
			Apply: func(storage.Driver) error {
				mu.Lock()
				applied = append(applied, i)
				mu.Unlock()
				return nil
			},
		}, time.Second)
		if !ok {
			t.Fatalf("enqueue %d was rejected", i)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(applied)
		mu.Unlock()
		if n == 25 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected 25 tasks applied, got %d", n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWriterRollsBackFailedBatchWithoutDying(t *testing.T) {
	adapter := &fakeAdapter{}
	w := New(newFactory(adapter), 100, 100, 20*time.Millisecond)
	w.Start()
	defer w.Stop()

	var mu sync.Mutex
	var applied []int
	failAt := 5

	for i := 0; i < 10; i++ {
		i := i
		w.Enqueue(Task{
			MethodPath: "entity_fact.create",
			Apply: func(storage.Driver) error {
				if i == failAt {
					return errors.New("boom")
				}
				mu.Lock()
				applied = append(applied, i)
				mu.Unlock()
				return nil
			},
		}, time.Second)
	}

	// Give the batch loop time to collect and apply/roll back this batch,
	// then prove the loop is still alive by enqueuing one more task.
	time.Sleep(100 * time.Millisecond)

	done := make(chan struct{})
	w.Enqueue(Task{
		MethodPath: "entity_fact.create",
		Apply: func(storage.Driver) error {
			close(done)
			return nil
		},
	}, time.Second)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("writer loop appears to have died after a failed batch")
	}

	adapter.mu.Lock()
	rollbacks := adapter.rollbacks
	adapter.mu.Unlock()
	if rollbacks == 0 {
		t.Fatal("expected at least one rollback after the failing task")
	}
}

func TestEnqueueTimesOutWhenQueueFull(t *testing.T) {
	adapter := &fakeAdapter{}
	// No Start(): nothing drains the queue, so the second enqueue must
	// time out once the one-slot queue is full.
	w := New(newFactory(adapter), 1, 10, time.Second)

	if ok := w.Enqueue(Task{MethodPath: "x", Apply: func(storage.Driver) error { return nil }}, time.Second); !ok {
		t.Fatal("expected first enqueue into an empty queue to succeed")
	}
	if ok := w.Enqueue(Task{MethodPath: "x", Apply: func(storage.Driver) error { return nil }}, 50*time.Millisecond); ok {
		t.Fatal("expected second enqueue to time out against a full, undrained queue")
	}
}
