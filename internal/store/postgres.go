package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/yangwenmai/infographer/internal/model"
)

const (
	postgresItemsTable       = "infographer_work_items"
	postgresCredentialsTable = "infographer_credentials"
	postgresOperationTimeout = 5 * time.Second
)

var _ Backend = (*PostgresStore)(nil)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresStore keeps work-item state and the credential in Postgres.
// Tables are created lazily on first use.
type PostgresStore struct {
	dsn    string
	openDB sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

// NewPostgresStore returns a store for dsn. No connection is made until the
// first operation.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres: empty dsn")
	}
	return &PostgresStore{dsn: dsn, openDB: sql.Open}, nil
}

func (p *PostgresStore) GetStatus(ctx context.Context, key string) (*model.StatusRecord, error) {
	if err := p.ensureReady(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	row := p.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT item_key, status, operation_id, image_url, error, updated_at
		FROM %s WHERE item_key = $1`, postgresItemsTable), key)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	return rec, err
}

func (p *PostgresStore) SetStatus(ctx context.Context, rec model.StatusRecord) error {
	if rec.Key == "" {
		return fmt.Errorf("set status: empty key")
	}
	if err := p.ensureReady(ctx); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	_, err := p.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (item_key, status, operation_id, image_url, error, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (item_key)
		DO UPDATE SET status = EXCLUDED.status, operation_id = EXCLUDED.operation_id,
			image_url = EXCLUDED.image_url, error = EXCLUDED.error, updated_at = EXCLUDED.updated_at`,
		postgresItemsTable),
		rec.Key, string(rec.Status), rec.OperationID, rec.ArtifactURL, rec.ErrorDetail, rec.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) ListByStatus(ctx context.Context, status model.Status) ([]model.StatusRecord, error) {
	if err := p.ensureReady(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT item_key, status, operation_id, image_url, error, updated_at
		FROM %s WHERE status = $1 ORDER BY updated_at ASC`, postgresItemsTable), string(status))
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

func (p *PostgresStore) GetCredential(ctx context.Context) (*model.Credential, error) {
	if err := p.ensureReady(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	var c model.Credential
	err := p.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT cookie, at_token FROM %s WHERE name = $1`, postgresCredentialsTable), credentialName).
		Scan(&c.Cookie, &c.ATToken)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (p *PostgresStore) SetCredential(ctx context.Context, c model.Credential) error {
	if err := p.ensureReady(ctx); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	_, err := p.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (name, cookie, at_token, updated_at) VALUES ($1, $2, $3, NOW())
		ON CONFLICT (name) DO UPDATE SET cookie = EXCLUDED.cookie, at_token = EXCLUDED.at_token, updated_at = NOW()`,
		postgresCredentialsTable), credentialName, c.Cookie, c.ATToken)
	return err
}

func (p *PostgresStore) ClearCredential(ctx context.Context) error {
	if err := p.ensureReady(ctx); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	_, err := p.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE name = $1`, postgresCredentialsTable), credentialName)
	return err
}

func (p *PostgresStore) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

func (p *PostgresStore) ensureReady(ctx context.Context) error {
	p.initOnce.Do(func() {
		db, err := p.openDB("postgres", p.dsn)
		if err != nil {
			p.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
		defer cancel()

		for _, ddl := range []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				item_key TEXT PRIMARY KEY,
				status TEXT NOT NULL,
				operation_id TEXT NOT NULL DEFAULT '',
				image_url TEXT NOT NULL DEFAULT '',
				error TEXT NOT NULL DEFAULT '',
				updated_at TEXT NOT NULL
			)`, postgresItemsTable),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_status_idx ON %s (status)`, postgresItemsTable, postgresItemsTable),
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				name TEXT PRIMARY KEY,
				cookie TEXT NOT NULL,
				at_token TEXT NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, postgresCredentialsTable),
		} {
			if _, err := db.ExecContext(ctx, ddl); err != nil {
				_ = db.Close()
				p.initErr = fmt.Errorf("postgres schema: %w", err)
				return
			}
		}
		p.db = db
	})
	return p.initErr
}
