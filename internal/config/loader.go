package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile", "openai-native"},
	"stt": {"deepgram", "openai", "whisper"},
	"tts": {"coqui", "elevenlabs", "openai"},
	"vad": {"energy"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default] and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil && (cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Telephony
	if cfg.Telephony.PublicURL == "" {
		errs = append(errs, errors.New("telephony.public_url is required"))
	} else if u, err := url.Parse(cfg.Telephony.PublicURL); err != nil || (u.Scheme != "wss" && u.Scheme != "ws") || u.Host == "" {
		errs = append(errs, fmt.Errorf("telephony.public_url %q must be a ws:// or wss:// URL", cfg.Telephony.PublicURL))
	}
	for name, p := range map[string]string{"stream_path": cfg.Telephony.StreamPath, "webhook_path": cfg.Telephony.WebhookPath} {
		if !strings.HasPrefix(p, "/") {
			errs = append(errs, fmt.Errorf("telephony.%s %q must start with /", name, p))
		}
	}

	// Providers
	required := []struct {
		kind  string
		entry ProviderEntry
	}{
		{"llm", cfg.Providers.LLM},
		{"stt", cfg.Providers.STT},
		{"tts", cfg.Providers.TTS},
	}
	for _, r := range required {
		if r.entry.Name == "" {
			errs = append(errs, fmt.Errorf("providers.%s.name is required", r.kind))
		}
		validateProviderName(r.kind, r.entry.Name)
		for i, fb := range r.entry.Fallbacks {
			if fb.Name == "" {
				errs = append(errs, fmt.Errorf("providers.%s.fallbacks[%d].name is required", r.kind, i))
			}
			validateProviderName(r.kind, fb.Name)
		}
	}
	validateProviderName("vad", cfg.Providers.VAD.Name)

	// Database
	if cfg.Database.PostgresDSN == "" {
		if cfg.Database.SeedAgents {
			errs = append(errs, errors.New("database.seed_agents requires database.postgres_dsn"))
		}
		slog.Warn("database.postgres_dsn is empty; transcripts will not be persisted")
	}

	// Call tuning
	if err := cfg.Call.Validate(); err != nil {
		errs = append(errs, err)
	}

	// Agents
	idsSeen := make(map[string]int, len(cfg.Agents))
	numbersSeen := make(map[string]int, len(cfg.Agents))
	for i := range cfg.Agents {
		a := &cfg.Agents[i]
		prefix := fmt.Sprintf("agents[%d]", i)
		if a.ID == "" {
			errs = append(errs, fmt.Errorf("%s.id is required", prefix))
		} else {
			if prev, ok := idsSeen[a.ID]; ok {
				errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of agents[%d]", prefix, a.ID, prev))
			}
			idsSeen[a.ID] = i
		}
		if a.PhoneNumber != "" {
			if prev, ok := numbersSeen[a.PhoneNumber]; ok {
				errs = append(errs, fmt.Errorf("%s.phone_number %q is a duplicate of agents[%d]", prefix, a.PhoneNumber, prev))
			}
			numbersSeen[a.PhoneNumber] = i
		}
		if err := a.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", prefix, err))
		}
	}
	if cfg.DefaultAgent != "" {
		if _, ok := idsSeen[cfg.DefaultAgent]; !ok {
			errs = append(errs, fmt.Errorf("default_agent %q does not match any agents[].id", cfg.DefaultAgent))
		}
	}
	if len(cfg.Agents) == 0 && cfg.Database.PostgresDSN == "" {
		slog.Warn("no agents configured and no database; every call will be rejected unless it carries an inline agent")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
