package config_test

import (
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/phonoxa/internal/config"
)

func loadSample(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("sample invalid: %v", err)
	}
	return cfg
}

func TestDiff_Identical(t *testing.T) {
	t.Parallel()
	d := config.Diff(loadSample(t), loadSample(t))
	if d.Changed() {
		t.Errorf("want no changes, got %+v", d)
	}
}

func TestDiff_LogLevel(t *testing.T) {
	t.Parallel()
	old, new := loadSample(t), loadSample(t)
	new.Server.LogLevel = config.LogWarn

	d := config.Diff(old, new)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogWarn {
		t.Errorf("want log level change to warn, got %+v", d)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("log level alone must not require a restart, got %v", d.RestartRequired)
	}
}

func TestDiff_Agents(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   config.AgentDiff
	}{
		{
			name:   "prompt",
			mutate: func(c *config.Config) { c.Agents[0].SystemPrompt = "You answer questions about opening hours." },
			want:   config.AgentDiff{ID: "front-desk", PromptChanged: true},
		},
		{
			name:   "greeting",
			mutate: func(c *config.Config) { c.Agents[0].Greeting = "Ciao!" },
			want:   config.AgentDiff{ID: "front-desk", PromptChanged: true},
		},
		{
			name:   "voice",
			mutate: func(c *config.Config) { c.Agents[0].Voice.ID = "adam" },
			want:   config.AgentDiff{ID: "front-desk", VoiceChanged: true},
		},
		{
			name:   "number",
			mutate: func(c *config.Config) { c.Agents[0].PhoneNumber = "+15550111" },
			want:   config.AgentDiff{ID: "front-desk", NumberChanged: true},
		},
		{
			name:   "other",
			mutate: func(c *config.Config) { c.Agents[0].Keywords = []string{"gelato"} },
			want:   config.AgentDiff{ID: "front-desk", OtherChanged: true},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			old, new := loadSample(t), loadSample(t)
			tc.mutate(new)

			d := config.Diff(old, new)
			if !d.AgentsChanged {
				t.Fatal("want AgentsChanged")
			}
			if len(d.AgentChanges) != 1 {
				t.Fatalf("want 1 agent change, got %d", len(d.AgentChanges))
			}
			if d.AgentChanges[0] != tc.want {
				t.Errorf("want %+v, got %+v", tc.want, d.AgentChanges[0])
			}
		})
	}
}

func TestDiff_AgentAddedAndRemoved(t *testing.T) {
	t.Parallel()
	old, new := loadSample(t), loadSample(t)
	added := new.Agents[0]
	added.ID = "bakery"
	added.PhoneNumber = "+15550200"
	new.Agents = append(new.Agents, added)
	new.Agents[0].ID = "a-desk"
	new.DefaultAgent = "a-desk"

	d := config.Diff(old, new)
	want := []config.AgentDiff{
		{ID: "a-desk", Added: true},
		{ID: "bakery", Added: true},
		{ID: "front-desk", Removed: true},
	}
	if !slices.Equal(d.AgentChanges, want) {
		t.Errorf("want %+v, got %+v", want, d.AgentChanges)
	}
	if !d.DefaultAgentChanged {
		t.Error("want DefaultAgentChanged")
	}
}

func TestDiff_CallTuning(t *testing.T) {
	t.Parallel()
	old, new := loadSample(t), loadSample(t)
	new.Call.Lifecycle.MaxCallDuration = 5 * time.Minute

	d := config.Diff(old, new)
	if !d.CallTuningChanged {
		t.Error("want CallTuningChanged")
	}
	if d.AgentsChanged || len(d.RestartRequired) != 0 {
		t.Errorf("want only tuning change, got %+v", d)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	old, new := loadSample(t), loadSample(t)
	new.Server.ListenAddr = ":7000"
	new.Providers.LLM.Model = "gpt-4o"
	new.Database.PostgresDSN = "postgres://localhost/phonoxa"

	d := config.Diff(old, new)
	want := []string{"server", "providers", "database"}
	if !slices.Equal(d.RestartRequired, want) {
		t.Errorf("want %v, got %v", want, d.RestartRequired)
	}
	if !d.Changed() {
		t.Error("want Changed")
	}
}
