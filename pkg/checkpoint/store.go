// Package checkpoint provides durable, versioned storage of serialized agent
// state keyed by conversation thread. The synchronous Store contract is
// authoritative; AsyncStore is a mechanically derived non-blocking wrapper.
package checkpoint

import (
	"context"
	"errors"

	"github.com/workseek/workseek/pkg/state"
)

// ErrStorage reports a backend I/O failure. Corrupt payloads surface as
// state.ErrCorruptCheckpoint instead.
var ErrStorage = errors.New("storage error")

// Store persists checkpoints for conversation threads. Checkpoints for one
// thread are totally ordered by creation time.
type Store interface {
	// GetLatest returns the thread's most recent checkpoint. The boolean
	// reports whether one exists. Corruption of the latest checkpoint is
	// fatal to the caller.
	GetLatest(ctx context.Context, threadID string) (*state.Checkpoint, bool, error)

	// ListHistory returns all checkpoints for the thread, oldest first.
	// Individual corrupt entries are skipped with a logged warning.
	ListHistory(ctx context.Context, threadID string) ([]*state.Checkpoint, error)

	// Put serializes the state and appends a checkpoint whose parent is the
	// pre-write latest checkpoint. The write is atomic against concurrent
	// writers on the same thread.
	Put(ctx context.Context, threadID string, st *state.AgentState) (*state.Checkpoint, error)

	// PutBatch appends the states as one atomic unit, chaining parent
	// timestamps within the batch to produce one linear sub-history.
	PutBatch(ctx context.Context, threadID string, states []*state.AgentState) error
}
