package anyllm

import (
	"slices"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/phonoxa/pkg/provider/llm"
)

func TestBackends_Sorted(t *testing.T) {
	t.Parallel()
	if !slices.IsSorted(Backends) {
		t.Errorf("want sorted backends, got %v", Backends)
	}
	for _, name := range []string{"anthropic", "ollama", "openai"} {
		if !slices.Contains(Backends, name) {
			t.Errorf("want %q in %v", name, Backends)
		}
	}
}

func TestCapabilities(t *testing.T) {
	t.Parallel()
	p := &Provider{model: "claude-3-5-haiku-latest"}
	if got := p.Capabilities(); got.ContextWindow != 200_000 || !got.SupportsStreaming {
		t.Errorf("want 200k streaming window, got %+v", got)
	}
}

// ── buildParams ───────────────────────────────────────────────────────────────

func TestBuildParams(t *testing.T) {
	t.Parallel()
	p := &Provider{model: "llama3"}
	params := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "Be brief.",
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: "Hi"},
			{Role: llm.RoleAssistant, Content: "Hello!"},
		},
		Temperature: 0.4,
		MaxTokens:   150,
	})

	if params.Model != "llama3" {
		t.Errorf("model: want llama3, got %q", params.Model)
	}
	if len(params.Messages) != 3 {
		t.Fatalf("want 3 messages, got %d", len(params.Messages))
	}
	if params.Messages[0].Role != anyllmlib.RoleSystem {
		t.Errorf("want system message first, got role %q", params.Messages[0].Role)
	}
	if params.Temperature == nil || *params.Temperature != 0.4 {
		t.Errorf("want temperature 0.4, got %v", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 150 {
		t.Errorf("want max tokens 150, got %v", params.MaxTokens)
	}
}

func TestBuildParams_ZeroSamplingLeavesDefaults(t *testing.T) {
	t.Parallel()
	p := &Provider{model: "m"}
	params := p.buildParams(llm.CompletionRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: "x"}}})
	if params.Temperature != nil || params.MaxTokens != nil {
		t.Error("want nil temperature and max tokens for zero request values")
	}
}

// ── Constructor ───────────────────────────────────────────────────────────────

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	if _, err := New("", "gpt-4o"); err == nil {
		t.Error("expected error for empty providerName")
	}
	if _, err := New("openai", ""); err == nil {
		t.Error("expected error for empty model")
	}
	if _, err := New("fakecloud", "some-model", anyllmlib.WithAPIKey("dummy")); err == nil {
		t.Error("expected error for unsupported provider")
	}
	if _, err := New("OLLAMA", "llama3"); err != nil {
		t.Errorf("want backend names case-insensitive, got %v", err)
	}
}

func TestNew_Backends(t *testing.T) {
	cases := []struct {
		name string
		opts []anyllmlib.Option
	}{
		{"openai", []anyllmlib.Option{anyllmlib.WithAPIKey("sk-test")}},
		{"anthropic", []anyllmlib.Option{anyllmlib.WithAPIKey("sk-ant-test")}},
		{"ollama", nil},
		{"llamacpp", nil},
		{"llamafile", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := New(tc.name, "model", tc.opts...)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p.model != "model" {
				t.Errorf("want model %q, got %q", "model", p.model)
			}
		})
	}
}

func TestCountTokens_Estimation(t *testing.T) {
	t.Parallel()
	p := &Provider{model: "m"}
	n, err := p.CountTokens([]llm.Message{{Role: llm.RoleUser, Content: "12345678"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// (8+3)/4 = 2 content tokens + 4 overhead.
	if n != 6 {
		t.Errorf("want 6, got %d", n)
	}
}
