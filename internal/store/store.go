package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/yangwenmai/infographer/internal/model"
)

// Verify at compile time that Store implements all interfaces.
var (
	_ StatusStore     = (*Store)(nil)
	_ CredentialStore = (*Store)(nil)
	_ Backend         = (*Store)(nil)
)

// credentialName is the fixed row name of the single credential record.
const credentialName = "default"

// Store provides data access to the SQLite database.
type Store struct {
	db *sql.DB
}

// New creates a new Store and initialises the schema.
func New(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var version int
	err := s.db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := s.db.Exec(`INSERT INTO schema_version (version) VALUES (0)`); err != nil {
			return fmt.Errorf("init schema version: %w", err)
		}
		version = 0
	} else if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	// Index 0 = migration from v0 to v1, etc.
	migrations := []func() error{
		s.migrateV1, // v0 → v1: work item state
		s.migrateV2, // v1 → v2: credential record
	}

	for i := version; i < len(migrations); i++ {
		if err := migrations[i](); err != nil {
			return fmt.Errorf("migration v%d→v%d: %w", i, i+1, err)
		}
		if _, err := s.db.Exec(`UPDATE schema_version SET version = ?`, i+1); err != nil {
			return fmt.Errorf("update schema version to %d: %w", i+1, err)
		}
	}
	return nil
}

func (s *Store) migrateV1() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS work_items (
		item_key     TEXT PRIMARY KEY,
		status       TEXT NOT NULL,
		operation_id TEXT NOT NULL DEFAULT '',
		image_url    TEXT NOT NULL DEFAULT '',
		error        TEXT NOT NULL DEFAULT '',
		updated_at   TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_work_items_status ON work_items(status, updated_at);
	`)
	return err
}

func (s *Store) migrateV2() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS credentials (
		name       TEXT PRIMARY KEY,
		cookie     TEXT NOT NULL,
		at_token   TEXT NOT NULL,
		updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	`)
	return err
}

// ---------------------------------------------------------------------------
// Work items
// ---------------------------------------------------------------------------

// GetStatus returns the record for key, or model.ErrNotFound.
func (s *Store) GetStatus(ctx context.Context, key string) (*model.StatusRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT item_key, status, operation_id, image_url, error, updated_at
		FROM work_items WHERE item_key = ?`, key)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	return rec, err
}

// SetStatus replaces the record for rec.Key.
func (s *Store) SetStatus(ctx context.Context, rec model.StatusRecord) error {
	if rec.Key == "" {
		return fmt.Errorf("set status: empty key")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO work_items (item_key, status, operation_id, image_url, error, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(item_key) DO UPDATE SET
			status = excluded.status,
			operation_id = excluded.operation_id,
			image_url = excluded.image_url,
			error = excluded.error,
			updated_at = excluded.updated_at`,
		rec.Key, string(rec.Status), rec.OperationID, rec.ArtifactURL, rec.ErrorDetail, rec.UpdatedAt,
	)
	return err
}

// ListByStatus returns every record currently in status.
func (s *Store) ListByStatus(ctx context.Context, status model.Status) ([]model.StatusRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT item_key, status, operation_id, image_url, error, updated_at
		FROM work_items WHERE status = ? ORDER BY updated_at ASC`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.StatusRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Credential
// ---------------------------------------------------------------------------

// GetCredential returns the stored credential, or model.ErrNotFound.
func (s *Store) GetCredential(ctx context.Context) (*model.Credential, error) {
	var c model.Credential
	err := s.db.QueryRowContext(ctx, `SELECT cookie, at_token FROM credentials WHERE name = ?`, credentialName).
		Scan(&c.Cookie, &c.ATToken)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// SetCredential replaces the stored credential.
func (s *Store) SetCredential(ctx context.Context, c model.Credential) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (name, cookie, at_token, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(name) DO UPDATE SET cookie = excluded.cookie, at_token = excluded.at_token, updated_at = excluded.updated_at`,
		credentialName, c.Cookie, c.ATToken,
	)
	return err
}

// ClearCredential removes the stored credential. Clearing an absent
// credential is not an error.
func (s *Store) ClearCredential(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE name = ?`, credentialName)
	return err
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*model.StatusRecord, error) {
	var rec model.StatusRecord
	var status string
	if err := row.Scan(&rec.Key, &status, &rec.OperationID, &rec.ArtifactURL, &rec.ErrorDetail, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.Status = model.Status(status)
	return &rec, nil
}
