// Package mock provides a test double for the callstore.Store interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/phonoxa/internal/agent"
	"github.com/MrWong99/phonoxa/internal/callstore"
)

// Entry records a single AppendTranscriptEntry call.
type Entry struct {
	CallID string
	Role   callstore.Role
	Text   string
}

// Store is a mock implementation of callstore.Store.
type Store struct {
	mu sync.Mutex

	// Agents maps phone numbers to the configurations returned by
	// LoadAgentConfig.
	Agents map[string]*agent.Config

	// AppendErr, if non-nil, is returned by AppendTranscriptEntry. The entry
	// is still recorded.
	AppendErr error

	// LoadErr, if non-nil, is returned by LoadAgentConfig.
	LoadErr error

	// Entries records every AppendTranscriptEntry call in order.
	Entries []Entry

	// LoadCalls records every number passed to LoadAgentConfig.
	LoadCalls []string
}

// AppendTranscriptEntry records the entry and returns AppendErr.
func (s *Store) AppendTranscriptEntry(_ context.Context, callID string, role callstore.Role, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Entries = append(s.Entries, Entry{CallID: callID, Role: role, Text: text})
	return s.AppendErr
}

// LoadAgentConfig records the call and returns the configured agent.
func (s *Store) LoadAgentConfig(_ context.Context, phoneNumber string) (*agent.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LoadCalls = append(s.LoadCalls, phoneNumber)
	if s.LoadErr != nil {
		return nil, s.LoadErr
	}
	return s.Agents[phoneNumber], nil
}

// Snapshot returns a copy of the recorded entries. Thread-safe.
func (s *Store) Snapshot() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.Entries))
	copy(out, s.Entries)
	return out
}

var _ callstore.Store = (*Store)(nil)
