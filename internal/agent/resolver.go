package agent

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
)

// ErrNoAgent is returned when no configuration resolves for a call.
var ErrNoAgent = errors.New("agent: no configuration for number")

// Source names where a resolved configuration came from.
type Source string

const (
	SourceInline  Source = "inline"
	SourceStore   Source = "store"
	SourceStatic  Source = "static"
	SourceDefault Source = "default"
)

// Loader looks up a stored configuration by phone number. It returns
// (nil, nil) when none exists.
type Loader interface {
	LoadAgentConfig(ctx context.Context, phoneNumber string) (*Config, error)
}

// Request identifies the call being resolved.
type Request struct {
	// Inline is the raw agent_config start parameter, if any.
	Inline string

	// PhoneNumber is the agent-side number of the call.
	PhoneNumber string
}

// Resolver picks the agent configuration for a call. It is safe for
// concurrent use; [Resolver.SetStatic] may be called while calls resolve.
type Resolver struct {
	loader Loader

	mu        sync.RWMutex
	byNumber  map[string]Config
	byID      map[string]Config
	defaultID string
}

// NewResolver creates a Resolver. loader may be nil.
func NewResolver(loader Loader, static []Config, defaultID string) *Resolver {
	r := &Resolver{loader: loader}
	r.SetStatic(static, defaultID)
	return r
}

// SetStatic replaces the static agents and the default agent ID.
func (r *Resolver) SetStatic(static []Config, defaultID string) {
	byNumber := make(map[string]Config, len(static))
	byID := make(map[string]Config, len(static))
	for _, c := range static {
		if c.PhoneNumber != "" {
			byNumber[normalizeNumber(c.PhoneNumber)] = c
		}
		if c.ID != "" {
			byID[c.ID] = c
		}
	}
	r.mu.Lock()
	r.byNumber, r.byID, r.defaultID = byNumber, byID, defaultID
	r.mu.Unlock()
}

// Resolve returns the configuration for req with defaults applied. It
// returns [ErrNoAgent] when every source comes up empty. Invalid inline
// documents and store failures are logged and skipped.
func (r *Resolver) Resolve(ctx context.Context, req Request) (Config, Source, error) {
	if strings.TrimSpace(req.Inline) != "" {
		var c Config
		err := json.Unmarshal([]byte(req.Inline), &c)
		if err == nil {
			err = c.Validate()
		}
		if err == nil {
			return c.WithDefaults(), SourceInline, nil
		}
		slog.Warn("agent: ignoring invalid inline configuration", "err", err)
	}

	number := normalizeNumber(req.PhoneNumber)
	if r.loader != nil && number != "" {
		c, err := r.loader.LoadAgentConfig(ctx, number)
		switch {
		case err != nil:
			slog.Warn("agent: store lookup failed", "number", number, "err", err)
		case c != nil:
			return c.WithDefaults(), SourceStore, nil
		}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.byNumber[number]; ok && number != "" {
		return c.WithDefaults(), SourceStatic, nil
	}
	if c, ok := r.byID[r.defaultID]; ok && r.defaultID != "" {
		return c.WithDefaults(), SourceDefault, nil
	}
	return Config{}, "", ErrNoAgent
}

// normalizeNumber strips formatting characters from a phone number.
func normalizeNumber(n string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(n) {
		if r == '+' || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
