package agent_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/MrWong99/phonoxa/internal/agent"
)

// stubLoader is a hand-written agent.Loader.
type stubLoader struct {
	mu      sync.Mutex
	configs map[string]*agent.Config
	err     error
	calls   []string
}

var _ agent.Loader = (*stubLoader)(nil)

func (s *stubLoader) LoadAgentConfig(_ context.Context, number string) (*agent.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, number)
	if s.err != nil {
		return nil, s.err
	}
	return s.configs[number], nil
}

var (
	staticSales = agent.Config{ID: "sales", Name: "Sales", PhoneNumber: "+15550001", SystemPrompt: "Sell."}
	staticFront = agent.Config{ID: "front", Name: "Front desk", SystemPrompt: "Route calls."}
)

func TestResolver_Order(t *testing.T) {
	t.Parallel()

	stored := &agent.Config{ID: "db", Name: "Stored", SystemPrompt: "From DB."}
	loader := &stubLoader{configs: map[string]*agent.Config{"+15550002": stored}}
	r := agent.NewResolver(loader, []agent.Config{staticSales, staticFront}, "front")

	tests := []struct {
		name       string
		req        agent.Request
		wantID     string
		wantSource agent.Source
	}{
		{"inline wins", agent.Request{Inline: `{"id":"inline","name":"Inline","system_prompt":"x"}`, PhoneNumber: "+15550002"}, "inline", agent.SourceInline},
		{"invalid inline falls through", agent.Request{Inline: `{"name":""}`, PhoneNumber: "+15550002"}, "db", agent.SourceStore},
		{"store", agent.Request{PhoneNumber: "+1 (555) 000-2"}, "db", agent.SourceStore},
		{"static by number", agent.Request{PhoneNumber: "+15550001"}, "sales", agent.SourceStatic},
		{"default", agent.Request{PhoneNumber: "+19999999"}, "front", agent.SourceDefault},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c, src, err := r.Resolve(context.Background(), tc.req)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if c.ID != tc.wantID {
				t.Errorf("want id %q, got %q", tc.wantID, c.ID)
			}
			if src != tc.wantSource {
				t.Errorf("want source %q, got %q", tc.wantSource, src)
			}
			if c.Prompts.Rejection == "" {
				t.Error("defaults not applied")
			}
		})
	}
}

func TestResolver_StoreErrorFallsBack(t *testing.T) {
	t.Parallel()
	loader := &stubLoader{err: errors.New("connection refused")}
	r := agent.NewResolver(loader, []agent.Config{staticSales}, "")

	c, src, err := r.Resolve(context.Background(), agent.Request{PhoneNumber: "+15550001"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if c.ID != "sales" || src != agent.SourceStatic {
		t.Errorf("want static sales, got %q from %q", c.ID, src)
	}
}

func TestResolver_NoAgent(t *testing.T) {
	t.Parallel()
	r := agent.NewResolver(nil, nil, "")
	if _, _, err := r.Resolve(context.Background(), agent.Request{PhoneNumber: "+1555"}); !errors.Is(err, agent.ErrNoAgent) {
		t.Errorf("want ErrNoAgent, got %v", err)
	}
}

func TestResolver_SetStatic(t *testing.T) {
	t.Parallel()
	r := agent.NewResolver(nil, []agent.Config{staticSales}, "")
	r.SetStatic([]agent.Config{staticFront}, "front")

	c, src, err := r.Resolve(context.Background(), agent.Request{PhoneNumber: "+15550001"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if c.ID != "front" || src != agent.SourceDefault {
		t.Errorf("want default front after reload, got %q from %q", c.ID, src)
	}
}
