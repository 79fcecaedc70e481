// Package profile provides PostgreSQL-backed contact payloads. A payload is
// the opaque JSON a user chose to share for a sharing category; the exchange
// engine only hands it to the matched partner and never inspects it.
package profile

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
)

// DefaultCategory is used when a profile has no payload for the requested
// sharing category.
const DefaultCategory = "default"

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Store manages contact payloads in PostgreSQL.
type Store struct {
	db *sql.DB
}

// Open connects to PostgreSQL using the lib/pq driver.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("profile: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("profile: ping: %w", err)
	}
	return NewStore(db), nil
}

// NewStore creates a profile store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate applies the embedded schema migrations.
func (s *Store) Migrate() error {
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("profile: migrations source: %w", err)
	}
	driver, err := postgres.WithInstance(s.db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("profile: migrations driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("profile: migrate: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("profile: migrate up: %w", err)
	}
	return nil
}

// Put stores the payload a profile shares for category.
func (s *Store) Put(ctx context.Context, profileID, userID, category string, payload json.RawMessage) error {
	if category == "" {
		category = DefaultCategory
	}
	if !json.Valid(payload) {
		return fmt.Errorf("profile: payload for %s is not valid JSON", profileID)
	}

	const query = `
		INSERT INTO contact_profiles (profile_id, category, user_id, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (profile_id, category)
		DO UPDATE SET user_id = EXCLUDED.user_id, payload = EXCLUDED.payload, updated_at = NOW()`

	if _, err := s.db.ExecContext(ctx, query, profileID, category, userID, []byte(payload)); err != nil {
		return fmt.Errorf("profile: put: %w", err)
	}
	return nil
}

// Payload returns what profileID shares for category, falling back to its
// default payload. Only profiles owned by userID are considered. It returns
// nil when the user owns no such profile.
func (s *Store) Payload(ctx context.Context, userID, profileID, category string) (json.RawMessage, error) {
	if category == "" {
		category = DefaultCategory
	}

	const query = `
		SELECT payload
		FROM contact_profiles
		WHERE profile_id = $1 AND user_id = $4 AND category IN ($2, $3)
		ORDER BY category = $2 DESC
		LIMIT 1`

	var payload []byte
	err := s.db.QueryRowContext(ctx, query, profileID, category, DefaultCategory, userID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("profile: payload: %w", err)
	}
	return json.RawMessage(payload), nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
