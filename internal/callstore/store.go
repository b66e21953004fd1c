// Package callstore persists call transcripts and serves stored agent
// configurations. Persistence is optional: [Nop] satisfies [Store] without a
// database, and callers treat write failures as non-fatal.
package callstore

import (
	"context"
	"errors"

	"github.com/MrWong99/phonoxa/internal/agent"
)

// ErrUnavailable is returned when the database cannot be reached.
var ErrUnavailable = errors.New("callstore: store unavailable")

// Role identifies the speaker of a transcript entry.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Store is the persistence collaborator of a call.
// Implementations must be safe for concurrent use.
type Store interface {
	// AppendTranscriptEntry records one utterance of a call.
	AppendTranscriptEntry(ctx context.Context, callID string, role Role, text string) error

	// LoadAgentConfig returns the agent configured for phoneNumber, or
	// (nil, nil) if none is stored.
	LoadAgentConfig(ctx context.Context, phoneNumber string) (*agent.Config, error)
}

// Nop is a [Store] that persists nothing and stores no agents.
type Nop struct{}

var _ Store = Nop{}

// AppendTranscriptEntry implements [Store].
func (Nop) AppendTranscriptEntry(context.Context, string, Role, string) error { return nil }

// LoadAgentConfig implements [Store].
func (Nop) LoadAgentConfig(context.Context, string) (*agent.Config, error) { return nil, nil }
