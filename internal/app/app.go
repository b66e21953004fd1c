// Package app wires the phonoxa subsystems into a running server.
//
// The App owns the full lifecycle: New connects the store and builds the
// HTTP routes, Run serves calls until its context is cancelled and then
// drains them, and Shutdown releases what New acquired.
//
// For testing, inject doubles via functional options (WithStore,
// WithMetrics). When an option is not provided, New creates the real
// implementation from the config.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/phonoxa/internal/agent"
	"github.com/MrWong99/phonoxa/internal/call"
	"github.com/MrWong99/phonoxa/internal/callstore"
	"github.com/MrWong99/phonoxa/internal/config"
	"github.com/MrWong99/phonoxa/internal/health"
	"github.com/MrWong99/phonoxa/internal/mediastream"
	"github.com/MrWong99/phonoxa/internal/observe"
)

// App owns all subsystem lifetimes of the phonoxa server.
type App struct {
	cfg       *config.Config
	providers *Providers

	store    callstore.Store
	resolver *agent.Resolver
	calls    *CallManager
	health   *health.Handler
	metrics  *observe.Metrics
	level    *slog.LevelVar
	tuning   atomic.Pointer[call.Tuning]
	watcher  *config.Watcher
	server   *http.Server

	configPath string

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithStore injects a call store instead of opening one from config.
func WithStore(s callstore.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics injects the metric instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel lets config reloads change the level of the process logger.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithConfigFile watches path and applies hot-reloadable changes while Run
// is active.
func WithConfigFile(path string) Option {
	return func(a *App) { a.configPath = path }
}

// New creates an App from cfg and the already built providers.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.STT == nil || providers.LLM == nil || providers.TTS == nil {
		return nil, errors.New("app: stt, llm and tts providers are required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		calls:     NewCallManager(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	tuning := cfg.Call
	a.tuning.Store(&tuning)

	// ── 1. Store ─────────────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Agents ────────────────────────────────────────────────────────
	a.resolver = agent.NewResolver(a.store, cfg.Agents, cfg.DefaultAgent)

	// ── 3. Config watcher ────────────────────────────────────────────────
	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.Reload)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		a.watcher = w
		a.closers = append(a.closers, func() error {
			w.Stop()
			return nil
		})
	}

	// ── 4. Health + HTTP ─────────────────────────────────────────────────
	checkers := []health.Checker{{Name: "providers", Check: a.checkProviders}}
	if p, ok := a.store.(health.Pinger); ok {
		checkers = append(checkers, health.PingChecker("database", p))
	}
	a.health = health.New(checkers...)

	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

// initStore opens the PostgreSQL store unless one was injected. Without a
// DSN or a reachable database transcripts are not persisted.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	dsn := a.cfg.Database.PostgresDSN
	if dsn == "" {
		a.store = callstore.Nop{}
		return nil
	}

	pg, err := callstore.Open(ctx, dsn)
	if errors.Is(err, callstore.ErrUnavailable) {
		slog.Warn("database unreachable, transcripts will not be persisted", "err", err)
		a.store = callstore.Nop{}
		return nil
	}
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() error {
		pg.Close()
		return nil
	})
	a.store = pg

	if a.cfg.Database.SeedAgents {
		seedAgents(ctx, pg, a.cfg.Agents)
	}
	return nil
}

// seedAgents upserts the static agents that have a phone number.
func seedAgents(ctx context.Context, pg *callstore.Postgres, agents []agent.Config) {
	for i := range agents {
		ag := &agents[i]
		if ag.PhoneNumber == "" {
			slog.Warn("not seeding agent without phone number", "agent_id", ag.ID)
			continue
		}
		if err := pg.UpsertAgentConfig(ctx, ag); err != nil {
			slog.Warn("failed to seed agent", "agent_id", ag.ID, "err", err)
			continue
		}
		slog.Info("seeded agent", "agent_id", ag.ID, "phone_number", ag.PhoneNumber)
	}
}

// Handler returns the HTTP routes of the server wrapped in the telemetry
// middleware.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	tel := a.cfg.Telephony

	mux.Handle("POST "+tel.WebhookPath, a.accepting(mediastream.VoiceWebhook(tel.StreamURL())))
	mux.Handle("GET "+tel.StreamPath, a.accepting(mediastream.Handler(a.serveCall)))
	mux.HandleFunc("GET /calls", a.listCalls)
	mux.HandleFunc("DELETE /calls/{id}", a.hangupCall)

	metricsPath := a.cfg.Observability.MetricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	mux.Handle("GET "+metricsPath, promhttp.Handler())
	a.health.Register(mux)

	return observe.Middleware(a.metrics)(mux)
}

// accepting answers 503 once the server drains, so the telephony provider
// retries elsewhere.
func (a *App) accepting(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.calls.Draining() {
			http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// serveCall runs one call on an upgraded media stream.
func (a *App) serveCall(ctx context.Context, c *mediastream.Conn) {
	ctx, release, err := a.calls.acquire(ctx)
	if err != nil {
		slog.Info("refusing media stream", "err", err)
		return
	}
	defer release()

	sess := call.NewSession(call.Deps{
		Providers: a.providers.Providers,
		Names:     a.providers.Names,
		Store:     a.store,
		Resolver:  a.resolver,
		Tuning:    *a.tuning.Load(),
		Metrics:   a.metrics,
		OnStart:   func(s *call.Session) { a.calls.Track(s) },
	})
	defer a.calls.Untrack(sess)

	switch err := sess.Run(ctx, c); {
	case err == nil:
	case errors.Is(err, agent.ErrNoAgent):
		slog.Info("call rejected", "call_id", sess.ID(), "err", err)
	default:
		slog.Warn("call failed", "call_id", sess.ID(), "err", err)
	}
}

func (a *App) listCalls(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"calls": a.calls.List()})
}

func (a *App) hangupCall(w http.ResponseWriter, r *http.Request) {
	err := a.calls.Hangup(r.PathValue("id"))
	if errors.Is(err, ErrCallNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "call not found"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) checkProviders(context.Context) error {
	p := a.providers
	if p.STT == nil || p.LLM == nil || p.TTS == nil {
		return errors.New("providers not configured")
	}
	if down := p.unavailableChains(); len(down) > 0 {
		return fmt.Errorf("every %s backend has an open circuit", strings.Join(down, ", "))
	}
	return nil
}

// Calls returns the active-call manager.
func (a *App) Calls() *CallManager {
	return a.calls
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// Reload applies the hot-reloadable differences between old and new. Calls
// in progress keep the settings they started with.
func (a *App) Reload(old, new *config.Config) {
	d := config.Diff(old, new)
	if !d.Changed() {
		return
	}

	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.SlogLevel())
	}
	if d.AgentsChanged || d.DefaultAgentChanged {
		a.resolver.SetStatic(new.Agents, new.DefaultAgent)
		for _, ad := range d.AgentChanges {
			slog.Info("agent reloaded", "agent_id", ad.ID, "added", ad.Added, "removed", ad.Removed,
				"prompt", ad.PromptChanged, "voice", ad.VoiceChanged, "number", ad.NumberChanged)
		}
	}
	if d.CallTuningChanged {
		tuning := new.Call
		a.tuning.Store(&tuning)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes take effect after restart", "sections", d.RestartRequired)
	}
	slog.Info("config reloaded",
		"agents_changed", d.AgentsChanged,
		"tuning_changed", d.CallTuningChanged,
		"log_level_changed", d.LogLevelChanged,
	)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP and media streams until ctx is cancelled, then stops
// accepting calls and drains the active ones within the configured shutdown
// timeout. It returns nil after a clean drain.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("listening", "addr", a.server.Addr, "tls", a.cfg.Server.TLS != nil)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})

	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		return a.drain()
	})

	return g.Wait()
}

// drain stops the listener and waits for active calls.
func (a *App) drain() error {
	a.health.SetDraining(true)
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := a.server.Shutdown(ctx); err != nil {
		slog.Warn("http shutdown error", "err", err)
	}
	if err := a.calls.Drain(ctx); err != nil {
		slog.Warn("calls did not end before the shutdown timeout", "err", err)
	}
	return nil
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown releases the resources acquired by New in order. It respects the
// context deadline: remaining closers are skipped once ctx expires.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
