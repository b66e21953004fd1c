package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MrWong99/phonoxa/internal/call"
	"github.com/MrWong99/phonoxa/internal/config"
	"github.com/MrWong99/phonoxa/internal/observe"
	"github.com/MrWong99/phonoxa/internal/resilience"
	"github.com/MrWong99/phonoxa/pkg/provider/llm"
	"github.com/MrWong99/phonoxa/pkg/provider/stt"
	"github.com/MrWong99/phonoxa/pkg/provider/tts"
)

// Providers holds the provider chains shared by every call.
type Providers struct {
	call.Providers

	// Names label provider metrics. A chain with fallbacks is named after
	// its members, e.g. "deepgram>openai".
	Names call.ProviderNames
}

// BuildProviders instantiates the providers named in cfg through reg. Stages
// that declare fallbacks are wrapped in a circuit-breaking fallback chain.
func BuildProviders(cfg config.ProvidersConfig, reg *config.Registry) (*Providers, error) {
	fc := func(kind string) resilience.FallbackConfig {
		return resilience.FallbackConfig{
			CircuitBreaker: resilience.CircuitBreakerConfig{
				MaxFailures:   cfg.CircuitBreaker.MaxFailures,
				ResetTimeout:  cfg.CircuitBreaker.ResetTimeout,
				HalfOpenMax:   cfg.CircuitBreaker.HalfOpenMax,
				OnStateChange: circuitLogger(kind),
			},
		}
	}
	ps := &Providers{}

	var err error
	if ps.STT, ps.Names.STT, err = buildSTT(cfg.STT, reg, fc("stt")); err != nil {
		return nil, err
	}
	if ps.LLM, ps.Names.LLM, err = buildLLM(cfg.LLM, reg, fc("llm")); err != nil {
		return nil, err
	}
	if ps.TTS, ps.Names.TTS, err = buildTTS(cfg.TTS, reg, fc("tts")); err != nil {
		return nil, err
	}

	if cfg.VAD.Name != "" {
		ps.VAD, err = reg.CreateVAD(cfg.VAD)
		if err != nil {
			return nil, fmt.Errorf("app: create vad %q: %w", cfg.VAD.Name, err)
		}
		slog.Info("provider created", "kind", "vad", "name", cfg.VAD.Name)
	}
	return ps, nil
}

func buildSTT(entry config.ProviderEntry, reg *config.Registry, fc resilience.FallbackConfig) (stt.Provider, string, error) {
	primary, err := reg.CreateSTT(entry)
	if err != nil {
		return nil, "", fmt.Errorf("app: create stt %q: %w", entry.Name, err)
	}
	logCreated("stt", entry)
	if len(entry.Fallbacks) == 0 {
		return primary, entry.Name, nil
	}

	chain := resilience.NewSTTFallback(primary, entry.Name, fc)
	for _, fb := range entry.Fallbacks {
		p, err := reg.CreateSTT(fb)
		if err != nil {
			return nil, "", fmt.Errorf("app: create stt fallback %q: %w", fb.Name, err)
		}
		logCreated("stt", fb)
		chain.AddFallback(fb.Name, p)
	}
	return chain, chain.String(), nil
}

func buildLLM(entry config.ProviderEntry, reg *config.Registry, fc resilience.FallbackConfig) (llm.Provider, string, error) {
	primary, err := reg.CreateLLM(entry)
	if err != nil {
		return nil, "", fmt.Errorf("app: create llm %q: %w", entry.Name, err)
	}
	logCreated("llm", entry)
	if len(entry.Fallbacks) == 0 {
		return primary, entry.Name, nil
	}

	chain := resilience.NewLLMFallback(primary, entry.Name, fc)
	for _, fb := range entry.Fallbacks {
		p, err := reg.CreateLLM(fb)
		if err != nil {
			return nil, "", fmt.Errorf("app: create llm fallback %q: %w", fb.Name, err)
		}
		logCreated("llm", fb)
		chain.AddFallback(fb.Name, p)
	}
	return chain, chain.String(), nil
}

func buildTTS(entry config.ProviderEntry, reg *config.Registry, fc resilience.FallbackConfig) (tts.Provider, string, error) {
	primary, err := reg.CreateTTS(entry)
	if err != nil {
		return nil, "", fmt.Errorf("app: create tts %q: %w", entry.Name, err)
	}
	logCreated("tts", entry)
	if len(entry.Fallbacks) == 0 {
		return primary, entry.Name, nil
	}

	chain := resilience.NewTTSFallback(primary, entry.Name, fc)
	for _, fb := range entry.Fallbacks {
		p, err := reg.CreateTTS(fb)
		if err != nil {
			return nil, "", fmt.Errorf("app: create tts fallback %q: %w", fb.Name, err)
		}
		if err := chain.AddFallback(fb.Name, p); err != nil {
			return nil, "", fmt.Errorf("app: tts fallback %q: %w", fb.Name, err)
		}
		logCreated("tts", fb)
	}
	return chain, chain.String(), nil
}

// circuitLogger reports breaker transitions of one provider kind.
func circuitLogger(kind string) func(name string, from, to resilience.State) {
	return func(name string, from, to resilience.State) {
		level := slog.LevelInfo
		if to == resilience.StateOpen {
			level = slog.LevelWarn
		}
		slog.Log(context.Background(), level, "provider circuit changed",
			"kind", kind, "provider", name, "from", from.String(), "to", to.String())
		observe.DefaultMetrics().RecordCircuitTransition(context.Background(), name, kind, to.String())
	}
}

// chain is implemented by providers wrapped in a fallback chain.
type chain interface {
	Available() bool
	Status() []resilience.EntryStatus
}

// unavailableChains names the stages whose every backend has an open circuit.
func (ps *Providers) unavailableChains() []string {
	var down []string
	for _, st := range []struct {
		kind string
		p    any
	}{{"stt", ps.STT}, {"llm", ps.LLM}, {"tts", ps.TTS}} {
		if c, ok := st.p.(chain); ok && !c.Available() {
			down = append(down, st.kind)
		}
	}
	return down
}

func logCreated(kind string, entry config.ProviderEntry) {
	slog.Info("provider created", "kind", kind, "name", entry.Name, "model", entry.Model)
}
