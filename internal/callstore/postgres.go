package callstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/phonoxa/internal/agent"
)

// Schema is the SQL DDL for the agent_configs and transcript_entries tables.
// Execute it via [Postgres.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS agent_configs (
    id           TEXT PRIMARY KEY,
    phone_number TEXT NOT NULL UNIQUE,
    config       JSONB NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS transcript_entries (
    id         UUID PRIMARY KEY,
    call_id    TEXT NOT NULL,
    role       TEXT NOT NULL,
    text       TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_transcript_entries_call ON transcript_entries(call_id, created_at);
`

// DB is the database interface used by [Postgres]. Both *pgxpool.Pool and
// *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Postgres is a [Store] backed by a PostgreSQL database.
type Postgres struct {
	db   DB
	pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

// NewPostgres creates a Postgres store on an existing connection or pool.
// The caller is responsible for calling [Postgres.Migrate].
func NewPostgres(db DB) *Postgres {
	return &Postgres{db: db}
}

// Open connects a pool to dsn, verifies it with a ping and applies the schema.
// Connection failures wrap [ErrUnavailable].
func Open(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("callstore: parse dsn: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	s := &Postgres{db: pool, pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate executes the [Schema] DDL against the database.
func (s *Postgres) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("callstore: migrate: %w", err)
	}
	return nil
}

// Ping checks connectivity. Stores built by [NewPostgres] always report healthy.
func (s *Postgres) Ping(ctx context.Context) error {
	if s.pool == nil {
		return nil
	}
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

// Close releases the pool opened by [Open].
func (s *Postgres) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// AppendTranscriptEntry implements [Store].
func (s *Postgres) AppendTranscriptEntry(ctx context.Context, callID string, role Role, text string) error {
	const query = `INSERT INTO transcript_entries (id, call_id, role, text) VALUES ($1, $2, $3, $4)`
	if _, err := s.db.Exec(ctx, query, uuid.NewString(), callID, string(role), text); err != nil {
		return fmt.Errorf("callstore: append transcript for %q: %w", callID, err)
	}
	return nil
}

// LoadAgentConfig implements [Store].
func (s *Postgres) LoadAgentConfig(ctx context.Context, phoneNumber string) (*agent.Config, error) {
	const query = `SELECT id, config FROM agent_configs WHERE phone_number = $1`

	var (
		id  string
		raw []byte
	)
	err := s.db.QueryRow(ctx, query, phoneNumber).Scan(&id, &raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("callstore: load agent for %q: %w", phoneNumber, err)
	}

	var c agent.Config
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("callstore: unmarshal agent %q: %w", id, err)
	}
	c.ID = id
	c.PhoneNumber = phoneNumber
	return &c, nil
}

// UpsertAgentConfig creates or replaces the stored configuration for
// c.PhoneNumber. The configuration is validated before persistence.
func (s *Postgres) UpsertAgentConfig(ctx context.Context, c *agent.Config) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.ID == "" || c.PhoneNumber == "" {
		return errors.New("callstore: agent id and phone_number are required")
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("callstore: marshal agent %q: %w", c.ID, err)
	}

	const query = `
		INSERT INTO agent_configs (id, phone_number, config)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			phone_number = EXCLUDED.phone_number,
			config = EXCLUDED.config,
			updated_at = now()`
	if _, err := s.db.Exec(ctx, query, c.ID, c.PhoneNumber, raw); err != nil {
		return fmt.Errorf("callstore: upsert agent %q: %w", c.ID, err)
	}
	return nil
}
