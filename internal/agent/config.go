// Package agent defines the configuration of a telephone agent (persona,
// greetings, voice, sampling parameters and fallback prompts) and the
// [Resolver] that picks the configuration for an incoming call.
//
// A configuration can come from three places, tried in order: an inline JSON
// document carried in the stream's start event, the persistence store keyed
// by phone number, and the static agents in the YAML config file.
package agent

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/phonoxa/pkg/provider/tts"
)

// Config is the full declarative configuration for one agent.
type Config struct {
	// ID uniquely identifies the agent.
	ID string `yaml:"id" json:"id"`

	// Name is the agent's display name, used in logs and the system prompt.
	Name string `yaml:"name" json:"name"`

	// PhoneNumber is the E.164 number the agent answers.
	PhoneNumber string `yaml:"phone_number" json:"phone_number"`

	// SystemPrompt is sent to the LLM on every turn.
	SystemPrompt string `yaml:"system_prompt" json:"system_prompt"`

	// Greeting is spoken when an inbound call is answered.
	Greeting string `yaml:"greeting" json:"greeting"`

	// OutboundGreeting replaces Greeting on calls placed by the agent. Empty
	// means use Greeting.
	OutboundGreeting string `yaml:"outbound_greeting" json:"outbound_greeting,omitempty"`

	// Language is the BCP-47 hint passed to STT (e.g., "en-US").
	Language string `yaml:"language" json:"language"`

	// Voice selects the TTS voice.
	Voice tts.VoiceProfile `yaml:"voice" json:"voice"`

	// Temperature is the LLM sampling temperature. Zero uses the provider default.
	Temperature float64 `yaml:"temperature" json:"temperature,omitempty"`

	// MaxTokens caps each reply. Zero uses the provider default.
	MaxTokens int `yaml:"max_tokens" json:"max_tokens,omitempty"`

	// FarewellPhrases end the call when the agent says one of them.
	FarewellPhrases []string `yaml:"farewell_phrases" json:"farewell_phrases,omitempty"`

	// Keywords are boosted during transcription (names, products).
	Keywords []string `yaml:"keywords" json:"keywords,omitempty"`

	// Prompts overrides the built-in fallback utterances.
	Prompts Prompts `yaml:"prompts" json:"prompts"`
}

// Prompts are the fixed utterances spoken outside the LLM.
type Prompts struct {
	// DidntCatch is spoken when transcription fails.
	DidntCatch string `yaml:"didnt_catch" json:"didnt_catch,omitempty"`

	// GenericError is spoken once when generation or synthesis fails.
	GenericError string `yaml:"generic_error" json:"generic_error,omitempty"`

	// StillThere is spoken after the inactivity prompt interval.
	StillThere string `yaml:"still_there" json:"still_there,omitempty"`

	// Farewell is spoken before a timeout hangup.
	Farewell string `yaml:"farewell" json:"farewell,omitempty"`

	// Rejection is spoken when no agent is configured for the number.
	Rejection string `yaml:"rejection" json:"rejection,omitempty"`
}

// DefaultPrompts returns the English fallback utterances.
func DefaultPrompts() Prompts {
	return Prompts{
		DidntCatch:   "Sorry, I didn't catch that. Could you say it again?",
		GenericError: "Sorry, I'm having trouble right now. Could you repeat that?",
		StillThere:   "Are you still there?",
		Farewell:     "It seems you're busy. Thanks for calling, goodbye!",
		Rejection:    "Sorry, this number is not in service. Goodbye.",
	}
}

// DefaultFarewellPhrases are matched when an agent defines none.
var DefaultFarewellPhrases = []string{"goodbye", "bye", "have a nice day", "have a great day", "take care"}

// Validate checks the configuration for logical consistency. It returns a
// joined error describing every violation found, or nil if valid.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Name) == "" {
		errs = append(errs, errors.New("agent: name must not be empty"))
	}
	if strings.TrimSpace(c.SystemPrompt) == "" {
		errs = append(errs, fmt.Errorf("agent %q: system_prompt must not be empty", c.Name))
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		errs = append(errs, fmt.Errorf("agent %q: temperature must be in [0, 2], got %g", c.Name, c.Temperature))
	}
	if c.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("agent %q: max_tokens must be >= 0, got %d", c.Name, c.MaxTokens))
	}
	if c.Voice.SpeedFactor != 0 && (c.Voice.SpeedFactor < 0.5 || c.Voice.SpeedFactor > 2.0) {
		errs = append(errs, fmt.Errorf("agent %q: voice speed_factor must be in [0.5, 2.0], got %g", c.Name, c.Voice.SpeedFactor))
	}
	if c.PhoneNumber != "" && !strings.HasPrefix(c.PhoneNumber, "+") {
		errs = append(errs, fmt.Errorf("agent %q: phone_number must be in E.164 format, got %q", c.Name, c.PhoneNumber))
	}

	return errors.Join(errs...)
}

// WithDefaults returns a copy of c with empty prompts, language and farewell
// phrases filled in.
func (c Config) WithDefaults() Config {
	d := DefaultPrompts()
	fill := func(v *string, def string) {
		if strings.TrimSpace(*v) == "" {
			*v = def
		}
	}
	fill(&c.Prompts.DidntCatch, d.DidntCatch)
	fill(&c.Prompts.GenericError, d.GenericError)
	fill(&c.Prompts.StillThere, d.StillThere)
	fill(&c.Prompts.Farewell, d.Farewell)
	fill(&c.Prompts.Rejection, d.Rejection)
	fill(&c.Language, "en-US")
	if len(c.FarewellPhrases) == 0 {
		c.FarewellPhrases = DefaultFarewellPhrases
	}
	return c
}

// GreetingFor returns the greeting for an inbound or outbound call.
func (c *Config) GreetingFor(outbound bool) string {
	if outbound && c.OutboundGreeting != "" {
		return c.OutboundGreeting
	}
	return c.Greeting
}
