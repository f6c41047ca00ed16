package checkpoint

import (
	"context"
	"errors"
	"sync"

	"github.com/workseek/workseek/pkg/state"
)

// ErrStoreClosed reports a submission to a closed AsyncStore.
var ErrStoreClosed = errors.New("async store is closed")

// PutOutcome carries the result of an asynchronous Put.
type PutOutcome struct {
	Checkpoint *state.Checkpoint
	Err        error
}

// GetOutcome carries the result of an asynchronous GetLatest.
type GetOutcome struct {
	Checkpoint *state.Checkpoint
	Found      bool
	Err        error
}

// HistoryOutcome carries the result of an asynchronous ListHistory.
type HistoryOutcome struct {
	Checkpoints []*state.Checkpoint
	Err         error
}

// AsyncStore is a non-blocking binding over a synchronous Store. A single
// worker drains submissions in order and delegates each to the wrapped store,
// so ordering and atomicity are byte-for-byte those of the synchronous
// contract. It is a wrapper, not a second implementation.
type AsyncStore struct {
	store Store
	jobs  chan func()

	closeOnce sync.Once
	done      chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewAsyncStore wraps store with a submission queue of the given depth.
func NewAsyncStore(store Store, depth int) *AsyncStore {
	if depth <= 0 {
		depth = 16
	}

	a := &AsyncStore{
		store: store,
		jobs:  make(chan func(), depth),
		done:  make(chan struct{}),
	}

	go func() {
		defer close(a.done)
		for job := range a.jobs {
			job()
		}
	}()

	return a
}

func (a *AsyncStore) submit(job func()) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return false
	}
	a.jobs <- job
	return true
}

// PutAsync schedules a Put and returns a channel that receives its outcome.
func (a *AsyncStore) PutAsync(ctx context.Context, threadID string, st *state.AgentState) <-chan PutOutcome {
	out := make(chan PutOutcome, 1)
	ok := a.submit(func() {
		cp, err := a.store.Put(ctx, threadID, st)
		out <- PutOutcome{Checkpoint: cp, Err: err}
	})
	if !ok {
		out <- PutOutcome{Err: ErrStoreClosed}
	}
	return out
}

// PutBatchAsync schedules a PutBatch and returns a channel that receives its
// error, if any.
func (a *AsyncStore) PutBatchAsync(ctx context.Context, threadID string, states []*state.AgentState) <-chan error {
	out := make(chan error, 1)
	ok := a.submit(func() {
		out <- a.store.PutBatch(ctx, threadID, states)
	})
	if !ok {
		out <- ErrStoreClosed
	}
	return out
}

// GetLatestAsync schedules a GetLatest and returns a channel that receives
// its outcome.
func (a *AsyncStore) GetLatestAsync(ctx context.Context, threadID string) <-chan GetOutcome {
	out := make(chan GetOutcome, 1)
	ok := a.submit(func() {
		cp, found, err := a.store.GetLatest(ctx, threadID)
		out <- GetOutcome{Checkpoint: cp, Found: found, Err: err}
	})
	if !ok {
		out <- GetOutcome{Err: ErrStoreClosed}
	}
	return out
}

// ListHistoryAsync schedules a ListHistory and returns a channel that
// receives its outcome.
func (a *AsyncStore) ListHistoryAsync(ctx context.Context, threadID string) <-chan HistoryOutcome {
	out := make(chan HistoryOutcome, 1)
	ok := a.submit(func() {
		history, err := a.store.ListHistory(ctx, threadID)
		out <- HistoryOutcome{Checkpoints: history, Err: err}
	})
	if !ok {
		out <- HistoryOutcome{Err: ErrStoreClosed}
	}
	return out
}

// Close stops accepting submissions and waits for in-flight jobs to finish.
func (a *AsyncStore) Close() {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		a.mu.Unlock()
		close(a.jobs)
		<-a.done
	})
}
