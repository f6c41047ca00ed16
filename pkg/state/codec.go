package state

import (
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"
)

// ErrCorruptCheckpoint reports a checkpoint payload that cannot be decoded.
// Decode never returns partial data alongside it.
var ErrCorruptCheckpoint = fmt.Errorf("corrupt checkpoint")

const (
	envelopeFormat  = "workseek.state"
	envelopeVersion = 1
)

// envelope is the self-describing wrapper around serialized agent state.
type envelope struct {
	Format  string     `json:"format"`
	Version int        `json:"version"`
	State   AgentState `json:"state"`
}

// View is a zero-copy byte window as returned by some storage drivers. Decode
// materializes it to an owned buffer before interpreting it.
type View interface {
	Bytes() []byte
}

// Codec encodes and decodes agent state to its canonical byte form.
type Codec struct{}

// NewCodec returns a Codec.
func NewCodec() *Codec {
	return &Codec{}
}

// Encode serializes the full state, including nested tool call payloads.
func (c *Codec) Encode(s *AgentState) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("state cannot be nil")
	}

	env := envelope{
		Format:  envelopeFormat,
		Version: envelopeVersion,
		State:   *s,
	}

	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode state: %w", err)
	}
	return data, nil
}

// Decode parses previously encoded bytes back into agent state. It accepts an
// owned buffer; use DecodeView for driver-owned windows.
func (c *Codec) Decode(data []byte) (*AgentState, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrCorruptCheckpoint)
	}
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: payload is not valid UTF-8", ErrCorruptCheckpoint)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: malformed envelope: %v", ErrCorruptCheckpoint, err)
	}
	if env.Format != envelopeFormat {
		return nil, fmt.Errorf("%w: unexpected format %q", ErrCorruptCheckpoint, env.Format)
	}
	if env.Version != envelopeVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptCheckpoint, env.Version)
	}

	st := env.State
	return &st, nil
}

// DecodeView copies the view into an owned buffer and decodes it. The copy
// keeps the result valid after the driver reclaims its buffer.
func (c *Codec) DecodeView(view View) (*AgentState, error) {
	if view == nil {
		return nil, fmt.Errorf("%w: nil view", ErrCorruptCheckpoint)
	}
	src := view.Bytes()
	owned := make([]byte, len(src))
	copy(owned, src)
	return c.Decode(owned)
}

// Checkpoint is an immutable, timestamped snapshot of agent state for a
// thread. Checkpoints for one thread are totally ordered by CreatedAt.
type Checkpoint struct {
	ThreadID        string `json:"thread_id"`
	CreatedAt       int64  `json:"created_at"` // unix nanoseconds
	ParentCreatedAt *int64 `json:"parent_created_at,omitempty"`
	State           []byte `json:"state"`
}

// Time returns the checkpoint creation time.
func (c *Checkpoint) Time() time.Time {
	return time.Unix(0, c.CreatedAt)
}
