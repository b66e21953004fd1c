package callstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MrWong99/phonoxa/internal/agent"
)

// ---------------------------------------------------------------------------
// Test doubles for the pgx pool.
// ---------------------------------------------------------------------------

type mockRow struct {
	scanFunc func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error { return r.scanFunc(dest...) }

type execCall struct {
	sql  string
	args []any
}

type mockDB struct {
	queryRowFunc func(ctx context.Context, sql string, args ...any) pgx.Row
	execErr      error
	execs        []execCall
}

func (m *mockDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if m.queryRowFunc != nil {
		return m.queryRowFunc(ctx, sql, args...)
	}
	return &mockRow{scanFunc: func(dest ...any) error { return pgx.ErrNoRows }}
}

func (m *mockDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	m.execs = append(m.execs, execCall{sql: sql, args: args})
	return pgconn.CommandTag{}, m.execErr
}

// ---------------------------------------------------------------------------

func TestMigrate(t *testing.T) {
	t.Parallel()
	db := &mockDB{}
	if err := NewPostgres(db).Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if len(db.execs) != 1 || db.execs[0].sql != Schema {
		t.Fatalf("want schema executed once, got %d execs", len(db.execs))
	}

	db = &mockDB{execErr: errors.New("permission denied")}
	if err := NewPostgres(db).Migrate(context.Background()); err == nil || !strings.Contains(err.Error(), "migrate") {
		t.Errorf("want wrapped migrate error, got %v", err)
	}
}

func TestAppendTranscriptEntry(t *testing.T) {
	t.Parallel()
	db := &mockDB{}
	s := NewPostgres(db)
	if err := s.AppendTranscriptEntry(context.Background(), "CA1", RoleUser, "hello"); err != nil {
		t.Fatalf("AppendTranscriptEntry: %v", err)
	}
	if len(db.execs) != 1 {
		t.Fatalf("want 1 exec, got %d", len(db.execs))
	}
	args := db.execs[0].args
	if len(args) != 4 {
		t.Fatalf("want 4 args, got %d", len(args))
	}
	if _, err := uuid.Parse(args[0].(string)); err != nil {
		t.Errorf("want uuid row id, got %v", args[0])
	}
	if args[1] != "CA1" || args[2] != "user" || args[3] != "hello" {
		t.Errorf("unexpected args: %v", args[1:])
	}

	db.execErr = errors.New("boom")
	if err := s.AppendTranscriptEntry(context.Background(), "CA1", RoleAgent, "x"); err == nil {
		t.Error("expected error")
	}
}

func TestLoadAgentConfig(t *testing.T) {
	t.Parallel()

	stored := agent.Config{Name: "Sales", SystemPrompt: "Sell.", Greeting: "Hi!"}
	raw, _ := json.Marshal(stored)

	tests := []struct {
		name     string
		scan     func(dest ...any) error
		wantNil  bool
		wantErr  bool
		wantName string
	}{
		{
			name: "found",
			scan: func(dest ...any) error {
				*dest[0].(*string) = "sales"
				*dest[1].(*[]byte) = raw
				return nil
			},
			wantName: "Sales",
		},
		{
			name:    "not found",
			scan:    func(...any) error { return pgx.ErrNoRows },
			wantNil: true,
		},
		{
			name:    "query error",
			scan:    func(...any) error { return fmt.Errorf("conn reset") },
			wantErr: true,
		},
		{
			name: "corrupt json",
			scan: func(dest ...any) error {
				*dest[0].(*string) = "bad"
				*dest[1].(*[]byte) = []byte("{")
				return nil
			},
			wantErr: true,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			db := &mockDB{queryRowFunc: func(context.Context, string, ...any) pgx.Row {
				return &mockRow{scanFunc: tc.scan}
			}}
			c, err := NewPostgres(db).LoadAgentConfig(context.Background(), "+15550001")
			if (err != nil) != tc.wantErr {
				t.Fatalf("want err=%v, got %v", tc.wantErr, err)
			}
			if tc.wantErr {
				return
			}
			if tc.wantNil {
				if c != nil {
					t.Errorf("want nil config, got %+v", c)
				}
				return
			}
			if c.Name != tc.wantName || c.ID != "sales" || c.PhoneNumber != "+15550001" {
				t.Errorf("unexpected config: %+v", c)
			}
		})
	}
}

func TestUpsertAgentConfig(t *testing.T) {
	t.Parallel()
	db := &mockDB{}
	s := NewPostgres(db)

	if err := s.UpsertAgentConfig(context.Background(), &agent.Config{Name: "x"}); err == nil {
		t.Error("expected validation error")
	}
	if err := s.UpsertAgentConfig(context.Background(), &agent.Config{Name: "x", SystemPrompt: "y"}); err == nil {
		t.Error("expected error for missing id and number")
	}
	c := &agent.Config{ID: "a1", Name: "x", SystemPrompt: "y", PhoneNumber: "+15550001"}
	if err := s.UpsertAgentConfig(context.Background(), c); err != nil {
		t.Fatalf("UpsertAgentConfig: %v", err)
	}
	if len(db.execs) != 1 || !strings.Contains(db.execs[0].sql, "ON CONFLICT") {
		t.Errorf("want one upsert exec, got %+v", db.execs)
	}
}

func TestPing_WithoutPool(t *testing.T) {
	t.Parallel()
	if err := NewPostgres(&mockDB{}).Ping(context.Background()); err != nil {
		t.Errorf("want nil, got %v", err)
	}
}

func TestNop(t *testing.T) {
	t.Parallel()
	var s Store = Nop{}
	if err := s.AppendTranscriptEntry(context.Background(), "c", RoleUser, "t"); err != nil {
		t.Errorf("append: %v", err)
	}
	c, err := s.LoadAgentConfig(context.Background(), "+1")
	if c != nil || err != nil {
		t.Errorf("want (nil, nil), got (%v, %v)", c, err)
	}
}
