// Package archive persists terminal call records. The registry is purely
// in-memory with a TTL sweep; the archive is the durable sink for anyone who
// needs call history after eviction.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"voice-concierge/internal/registry"
)

// Archiver receives each record exactly once, at its terminal transition.
type Archiver interface {
	Archive(ctx context.Context, rec registry.CallRecord) error
}

// Noop discards records. Used when no database is configured.
type Noop struct{}

func (Noop) Archive(context.Context, registry.CallRecord) error { return nil }

const schema = `
CREATE TABLE IF NOT EXISTS call_archive (
    call_id          TEXT PRIMARY KEY,
    provider_sid     TEXT,
    status           TEXT NOT NULL,
    call_type        TEXT NOT NULL,
    restaurant_name  TEXT,
    phone_number     TEXT,
    request_params   JSONB NOT NULL,
    transcript       JSONB NOT NULL,
    result           JSONB,
    error            TEXT,
    created_at       TIMESTAMPTZ NOT NULL,
    completed_at     TIMESTAMPTZ NOT NULL,
    duration_seconds DOUBLE PRECISION NOT NULL
)`

// Postgres writes terminal records through database/sql (pgx stdlib driver).
type Postgres struct {
	db  *sql.DB
	log *slog.Logger
}

func NewPostgres(db *sql.DB, log *slog.Logger) (*Postgres, error) {
	if db == nil {
		return nil, errors.New("archive: db is required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Postgres{db: db, log: log}, nil
}

// EnsureSchema creates the archive table. Called once at startup.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("archive: ensure schema: %w", err)
	}
	return nil
}

func (p *Postgres) Archive(ctx context.Context, rec registry.CallRecord) error {
	params, err := json.Marshal(rec.Params)
	if err != nil {
		return fmt.Errorf("archive: marshal params: %w", err)
	}
	transcript, err := json.Marshal(rec.Transcript)
	if err != nil {
		return fmt.Errorf("archive: marshal transcript: %w", err)
	}
	var result []byte
	if rec.Result != nil {
		if result, err = json.Marshal(rec.Result); err != nil {
			return fmt.Errorf("archive: marshal result: %w", err)
		}
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO call_archive (
			call_id, provider_sid, status, call_type, restaurant_name,
			phone_number, request_params, transcript, result, error,
			created_at, completed_at, duration_seconds
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (call_id) DO NOTHING`,
		rec.CallID, rec.ProviderSID, string(rec.Status), string(rec.Params.CallType),
		rec.Params.RestaurantName, rec.Params.PhoneNumber,
		params, transcript, nullableJSON(result), nullableString(rec.Error),
		rec.CreatedAt, rec.CompletedAt, rec.Duration().Seconds())
	if err != nil {
		return fmt.Errorf("archive: insert record: %w", err)
	}

	p.log.Info("call archived", "call_id", rec.CallID, "status", rec.Status)
	return nil
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
