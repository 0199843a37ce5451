package repo

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/url"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/tinoosan/vodcache/internal/data"
)

// PostgresRepo implements AssetRepo backed by PostgreSQL.
type PostgresRepo struct {
	db *sql.DB
}

// NewPostgresRepo constructs a repository using the provided DSN.
func NewPostgresRepo(dsn string) (*PostgresRepo, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	r := &PostgresRepo{db: db}
	if err := r.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

// NewPostgresRepoFromEnv connects using the POSTGRES_* variables, see DSNFromEnv.
func NewPostgresRepoFromEnv() (*PostgresRepo, error) {
	return NewPostgresRepo(DSNFromEnv())
}

// DSNFromEnv builds a DSN from component env vars (with defaults):
//
//	POSTGRES_HOST (postgres), POSTGRES_PORT (5432), POSTGRES_DB (vodcache),
//	POSTGRES_USER (vodcache), POSTGRES_PASSWORD (empty), POSTGRES_SSLMODE (disable)
//
// Credentials and db name are URL-encoded.
func DSNFromEnv() string {
	host := getenv("POSTGRES_HOST", "postgres")
	port := getenv("POSTGRES_PORT", "5432")
	db := getenv("POSTGRES_DB", "vodcache")
	user := getenv("POSTGRES_USER", "vodcache")
	pass := getenv("POSTGRES_PASSWORD", "")
	ssl := getenv("POSTGRES_SSLMODE", "disable")

	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(user, pass),
		Host:   net.JoinHostPort(host, port),
		Path:   "/" + db,
	}
	q := url.Values{}
	q.Set("sslmode", ssl)
	u.RawQuery = q.Encode()
	return u.String()
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func (r *PostgresRepo) Close() error { return r.db.Close() }

// Ping reports whether the database is reachable.
func (r *PostgresRepo) Ping(ctx context.Context) error { return r.db.PingContext(ctx) }

func (r *PostgresRepo) ensureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS assets (
    id TEXT PRIMARY KEY,
    source TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    progress DOUBLE PRECISION NOT NULL DEFAULT 0,
    last_error TEXT NOT NULL DEFAULT '',
    failure_kind TEXT NOT NULL DEFAULT '',
    updated_at TIMESTAMPTZ NOT NULL
);
`)
	return err
}

const assetColumns = `id,source,status,progress,last_error,failure_kind,updated_at`

func (r *PostgresRepo) List(ctx context.Context) (data.Assets, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+assetColumns+` FROM assets ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := data.Assets{}
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*data.Asset, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+assetColumns+` FROM assets WHERE id=$1`, id)
	a, err := scanAsset(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, data.ErrNotFound
		}
		return nil, err
	}
	return a, nil
}

// Upsert serializes writers per row with SELECT ... FOR UPDATE; a first
// write for id races only on the INSERT, which ON CONFLICT resolves.
func (r *PostgresRepo) Upsert(ctx context.Context, id string, mutate func(*data.Asset) error) (*data.Asset, error) {
	id, err := data.ValidateAssetID(id)
	if err != nil {
		return nil, err
	}
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+assetColumns+` FROM assets WHERE id=$1 FOR UPDATE`, id)
	cur, err := scanAsset(row)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		cur = &data.Asset{ID: id, Status: data.KindNotStarted}
	case err != nil:
		return nil, err
	}

	next := cur.Clone()
	if mutate != nil {
		if err := mutate(next); err != nil {
			return nil, err
		}
	}
	next.ID = id
	if next.UpdatedAt.IsZero() {
		next.UpdatedAt = time.Now()
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO assets (`+assetColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (id) DO UPDATE SET
    source=EXCLUDED.source, status=EXCLUDED.status, progress=EXCLUDED.progress,
    last_error=EXCLUDED.last_error, failure_kind=EXCLUDED.failure_kind, updated_at=EXCLUDED.updated_at`,
		next.ID, next.Source, string(next.Status), next.Progress, next.LastError, string(next.FailureKind), next.UpdatedAt); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return next, nil
}

func (r *PostgresRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM assets WHERE id=$1`, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return data.ErrNotFound
	}
	return nil
}

type rowScanner interface{ Scan(dest ...any) error }

func scanAsset(rs rowScanner) (*data.Asset, error) {
	var (
		a             data.Asset
		status, fkind string
	)
	if err := rs.Scan(&a.ID, &a.Source, &status, &a.Progress, &a.LastError, &fkind, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Status = data.StateKind(status)
	a.FailureKind = data.FailureKind(fkind)
	return &a, nil
}
