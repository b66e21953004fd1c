package agent_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/phonoxa/internal/agent"
	"github.com/MrWong99/phonoxa/pkg/provider/tts"
)

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	valid := agent.Config{Name: "Reception", SystemPrompt: "You answer calls."}
	tests := []struct {
		name    string
		mutate  func(c *agent.Config)
		wantErr []string
	}{
		{name: "valid minimal", mutate: func(*agent.Config) {}},
		{name: "valid full", mutate: func(c *agent.Config) {
			c.PhoneNumber = "+15550001"
			c.Temperature = 0.7
			c.MaxTokens = 200
			c.Voice = tts.VoiceProfile{ID: "v", SpeedFactor: 1.2}
		}},
		{name: "empty name", mutate: func(c *agent.Config) { c.Name = " " }, wantErr: []string{"name must not be empty"}},
		{name: "empty prompt", mutate: func(c *agent.Config) { c.SystemPrompt = "" }, wantErr: []string{"system_prompt must not be empty"}},
		{name: "temperature", mutate: func(c *agent.Config) { c.Temperature = 3 }, wantErr: []string{"temperature must be in [0, 2]"}},
		{name: "max tokens", mutate: func(c *agent.Config) { c.MaxTokens = -1 }, wantErr: []string{"max_tokens must be >= 0"}},
		{name: "speed", mutate: func(c *agent.Config) { c.Voice.SpeedFactor = 3 }, wantErr: []string{"speed_factor must be in [0.5, 2.0]"}},
		{name: "phone format", mutate: func(c *agent.Config) { c.PhoneNumber = "5550001" }, wantErr: []string{"E.164"}},
		{name: "multiple", mutate: func(c *agent.Config) { c.Name = ""; c.MaxTokens = -5 }, wantErr: []string{"name must not be empty", "max_tokens"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c := valid
			tc.mutate(&c)
			err := c.Validate()
			if len(tc.wantErr) == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			for _, want := range tc.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error %q does not contain %q", err, want)
				}
			}
		})
	}
}

func TestConfig_WithDefaults(t *testing.T) {
	t.Parallel()
	c := agent.Config{Name: "A", Prompts: agent.Prompts{StillThere: "Hello?"}}
	got := c.WithDefaults()

	if got.Prompts.StillThere != "Hello?" {
		t.Errorf("override lost: got %q", got.Prompts.StillThere)
	}
	if got.Prompts.DidntCatch != agent.DefaultPrompts().DidntCatch {
		t.Errorf("want default didn't-catch prompt, got %q", got.Prompts.DidntCatch)
	}
	if got.Language != "en-US" {
		t.Errorf("want en-US, got %q", got.Language)
	}
	if len(got.FarewellPhrases) == 0 {
		t.Error("want default farewell phrases")
	}
	if c.Prompts.DidntCatch != "" {
		t.Error("WithDefaults must not modify the receiver")
	}
}

func TestConfig_GreetingFor(t *testing.T) {
	t.Parallel()
	c := agent.Config{Greeting: "Hi, thanks for calling.", OutboundGreeting: "Hi, this is Acme calling."}
	if got := c.GreetingFor(false); got != c.Greeting {
		t.Errorf("inbound: got %q", got)
	}
	if got := c.GreetingFor(true); got != c.OutboundGreeting {
		t.Errorf("outbound: got %q", got)
	}
	c.OutboundGreeting = ""
	if got := c.GreetingFor(true); got != c.Greeting {
		t.Errorf("outbound without override: got %q", got)
	}
}
