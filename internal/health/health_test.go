package health

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"net/http"
	"net/http/httptest"
	"testing"
)

var _ Pinger = fakePinger{}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func check(name string, err error) Checker {
	return Checker{Name: name, Check: func(context.Context) error { return err }}
}

// fetch serves path through a mux with h registered.
func fetch(t *testing.T, h *Handler, ctx context.Context, path string) (int, result) {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil).WithContext(ctx))

	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("want JSON content type, got %q", ct)
	}
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return rec.Code, body
}

func TestHealthz_IgnoresCheckers(t *testing.T) {
	h := New(check("database", errors.New("down")))
	h.SetDraining(true)

	code, body := fetch(t, h, context.Background(), "/healthz")
	if code != http.StatusOK || body.Status != "ok" {
		t.Errorf("want 200 ok, got %d %q", code, body.Status)
	}
	if len(body.Checks) != 0 {
		t.Errorf("want no checks in liveness, got %v", body.Checks)
	}
}

func TestReadyz(t *testing.T) {
	tests := []struct {
		name       string
		checkers   []Checker
		draining   bool
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantCode:   http.StatusOK,
			wantStatus: "ok",
			wantChecks: map[string]string{},
		},
		{
			name:       "all pass",
			checkers:   []Checker{check("database", nil), check("providers", nil)},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
			wantChecks: map[string]string{"database": "ok", "providers": "ok"},
		},
		{
			name:       "one fails",
			checkers:   []Checker{check("database", errors.New("connection refused")), check("providers", nil)},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{"database": "fail: connection refused", "providers": "ok"},
		},
		{
			name: "all fail",
			checkers: []Checker{
				check("database", errors.New("timeout")),
				check("providers", errors.New("every stt backend has an open circuit")),
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{
				"database":  "fail: timeout",
				"providers": "fail: every stt backend has an open circuit",
			},
		},
		{
			name:       "draining",
			checkers:   []Checker{check("database", nil)},
			draining:   true,
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{"accepting_calls": "fail: draining", "database": "ok"},
		},
		{
			name: "pingers",
			checkers: []Checker{
				PingChecker("database", fakePinger{err: errors.New("dial tcp: refused")}),
				PingChecker("cache", fakePinger{}),
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{"database": "fail: dial tcp: refused", "cache": "ok"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New(tt.checkers...)
			h.SetDraining(tt.draining)

			code, body := fetch(t, h, context.Background(), "/readyz")
			if code != tt.wantCode {
				t.Errorf("want code %d, got %d", tt.wantCode, code)
			}
			if body.Status != tt.wantStatus {
				t.Errorf("want status %q, got %q", tt.wantStatus, body.Status)
			}
			got := body.Checks
			if got == nil {
				got = map[string]string{}
			}
			if !maps.Equal(got, tt.wantChecks) {
				t.Errorf("want checks %v, got %v", tt.wantChecks, got)
			}
		})
	}
}

func TestReadyz_RecoversAfterDrainCleared(t *testing.T) {
	h := New()
	h.SetDraining(true)
	if !h.Draining() {
		t.Fatal("want Draining after SetDraining(true)")
	}
	h.SetDraining(false)
	if code, _ := fetch(t, h, context.Background(), "/readyz"); code != http.StatusOK {
		t.Errorf("want 200 after drain cleared, got %d", code)
	}
}

func TestReadyz_CancelledRequest(t *testing.T) {
	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	code, body := fetch(t, h, ctx, "/readyz")
	if code != http.StatusServiceUnavailable {
		t.Errorf("want 503, got %d", code)
	}
	if body.Checks["slow"] != "fail: "+context.Canceled.Error() {
		t.Errorf("want cancellation reported, got %q", body.Checks["slow"])
	}
}

func TestNew_CopiesCheckers(t *testing.T) {
	checkers := []Checker{check("database", nil)}
	h := New(checkers...)
	checkers[0] = check("database", errors.New("swapped"))

	if code, _ := fetch(t, h, context.Background(), "/readyz"); code != http.StatusOK {
		t.Errorf("want handler unaffected by caller slice, got %d", code)
	}
}
