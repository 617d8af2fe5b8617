package artifacts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/frontier/internal/database"
	"github.com/rs/zerolog"
)

// SQLiteStore keeps artifact versions as rows of the artifacts table
type SQLiteStore struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSQLiteStore creates a store over a migrated artifacts database
func NewSQLiteStore(db *sql.DB, log zerolog.Logger) *SQLiteStore {
	return &SQLiteStore{
		db:  db,
		log: log.With().Str("component", "artifact_store").Str("backend", "sqlite").Logger(),
	}
}

// Save inserts a new version
func (s *SQLiteStore) Save(ctx context.Context, a *Artifact) error {
	if err := prepare(a); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO artifacts (version, kind, universe_hash, as_of, created_at, payload)
		VALUES (?, ?, ?, ?, ?, ?)
	`, a.Version, string(a.Key.Kind), a.Key.Universe, a.AsOf.Format(dateLayout), a.CreatedAt.UnixNano(), a.Payload)
	if err != nil {
		return fmt.Errorf("failed to save artifact %s: %w", a.Key, err)
	}

	s.log.Debug().
		Str("key", a.Key.String()).
		Str("version", a.Version).
		Int("size_bytes", len(a.Payload)).
		Msg("Artifact saved")
	return nil
}

// Load returns the newest version of key
func (s *SQLiteStore) Load(ctx context.Context, key Key, asOf time.Time) (*Artifact, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT version, as_of, created_at, payload
		FROM artifacts
		WHERE kind = ? AND universe_hash = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1
	`, string(key.Kind), key.Universe)

	a, err := scanArtifact(row, key)
	if err != nil {
		return nil, err
	}
	return checkFresh(a, asOf)
}

// LoadVersion returns one version of key
func (s *SQLiteStore) LoadVersion(ctx context.Context, key Key, version string) (*Artifact, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT version, as_of, created_at, payload
		FROM artifacts
		WHERE kind = ? AND universe_hash = ? AND version = ?
	`, string(key.Kind), key.Universe, version)

	return scanArtifact(row, key)
}

func scanArtifact(row *sql.Row, key Key) (*Artifact, error) {
	var (
		version   string
		asOfStr   string
		createdAt int64
		payload   []byte
	)
	if err := row.Scan(&version, &asOfStr, &createdAt, &payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to load artifact %s: %w", key, err)
	}

	asOf, err := time.Parse(dateLayout, asOfStr)
	if err != nil {
		return nil, fmt.Errorf("artifact %s has invalid as_of %q: %w", key, asOfStr, err)
	}

	return &Artifact{
		Key:       key,
		Version:   version,
		AsOf:      asOf,
		CreatedAt: time.Unix(0, createdAt).UTC(),
		Payload:   payload,
	}, nil
}

// Versions lists versions of key, newest first
func (s *SQLiteStore) Versions(ctx context.Context, key Key) ([]Info, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT version, as_of, created_at, LENGTH(payload)
		FROM artifacts
		WHERE kind = ? AND universe_hash = ?
		ORDER BY created_at DESC, rowid DESC
	`, string(key.Kind), key.Universe)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifact versions: %w", err)
	}
	defer rows.Close()

	var out []Info
	for rows.Next() {
		var (
			info      Info
			asOfStr   string
			createdAt int64
		)
		if err := rows.Scan(&info.Version, &asOfStr, &createdAt, &info.SizeBytes); err != nil {
			return nil, fmt.Errorf("failed to scan artifact version: %w", err)
		}
		info.Key = key
		asOf, err := time.Parse(dateLayout, asOfStr)
		if err != nil {
			return nil, fmt.Errorf("artifact %s version %s has invalid as_of %q: %w", key, info.Version, asOfStr, err)
		}
		info.AsOf = asOf
		info.CreatedAt = time.Unix(0, createdAt).UTC()
		out = append(out, info)
	}
	return out, rows.Err()
}

// Prune keeps the newest keep versions of key
func (s *SQLiteStore) Prune(ctx context.Context, key Key, keep int) (int, error) {
	if keep < 1 {
		keep = 1
	}

	var removed int64
	err := database.WithTransaction(s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM artifacts
			WHERE kind = ? AND universe_hash = ? AND version NOT IN (
				SELECT version FROM artifacts
				WHERE kind = ? AND universe_hash = ?
				ORDER BY created_at DESC, rowid DESC
				LIMIT ?
			)
		`, string(key.Kind), key.Universe, string(key.Kind), key.Universe, keep)
		if err != nil {
			return err
		}
		removed, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to prune artifacts %s: %w", key, err)
	}
	return int(removed), nil
}

// Keys lists every key with at least one stored version
func (s *SQLiteStore) Keys(ctx context.Context) ([]Key, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT kind, universe_hash FROM artifacts ORDER BY kind, universe_hash`)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifact keys: %w", err)
	}
	defer rows.Close()

	var keys []Key
	for rows.Next() {
		var k Key
		var kind string
		if err := rows.Scan(&kind, &k.Universe); err != nil {
			return nil, fmt.Errorf("failed to scan artifact key: %w", err)
		}
		k.Kind = Kind(kind)
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
