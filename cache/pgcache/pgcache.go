// Package pgcache implements cache.Provider on a PostgreSQL table via pgx.
//
// Values are stored as serialized cache.Payloads, so Get returns a
// cache.Payload that callers decode with cache.Decode.
package pgcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/guoyu07/SlimWebApi/cache"
)

const logPrefix = "pgcache"

// DefaultTable is the table used when Options.Table is empty.
const DefaultTable = "slimapi_cache"

// DB is the subset of *pgxpool.Pool used by Provider.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Options configures a Provider.
type Options struct {
	Table      string
	Serializer cache.Serializer
	Logger     *zap.Logger
}

// Provider is a cache.Provider backed by PostgreSQL.
type Provider struct {
	db     DB
	table  string
	ser    cache.Serializer
	logger *zap.Logger
	now    func() time.Time
}

var _ cache.Provider = (*Provider)(nil)

// New returns a Provider using db. Call EnsureSchema before first use.
func New(db DB, opts Options) *Provider {
	table := opts.Table
	if table == "" {
		table = DefaultTable
	}
	ser := opts.Serializer
	if ser == nil {
		ser = cache.JSON
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		db:     db,
		table:  pgx.Identifier{table}.Sanitize(),
		ser:    ser,
		logger: logger,
		now:    time.Now,
	}
}

// NewPool creates a pgx connection pool for databaseURL and verifies it.
func NewPool(ctx context.Context, databaseURL string, logger *zap.Logger) (*pgxpool.Pool, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%s: parse database URL: %w", logPrefix, err)
	}
	config.MaxConns = 20
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("%s: create pool: %w", logPrefix, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: ping database: %w", logPrefix, err)
	}
	logger.Info("database connection established", zap.String("component", logPrefix))
	return pool, nil
}

// EnsureSchema creates the cache table if it does not exist.
func (p *Provider) EnsureSchema(ctx context.Context) error {
	sql := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	key        TEXT PRIMARY KEY,
	format     TEXT NOT NULL,
	data       BYTEA NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
)`, p.table)
	if _, err := p.db.Exec(ctx, sql); err != nil {
		return fmt.Errorf("%s: ensure schema: %w", logPrefix, err)
	}
	return nil
}

// Get returns the stored cache.Payload for key. A stored JSON null is
// reported as a present nil value.
func (p *Provider) Get(ctx context.Context, key string) (any, bool, error) {
	var payload cache.Payload
	err := p.db.QueryRow(ctx,
		fmt.Sprintf(`SELECT format, data FROM %s WHERE key = $1 AND expires_at > $2`, p.table),
		key, p.now()).Scan(&payload.Format, &payload.Data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%s: get %q: %w", logPrefix, key, err)
	}
	if payload.Format == cache.FormatJSON && string(payload.Data) == "null" {
		return nil, true, nil
	}
	return payload, true, nil
}

func (p *Provider) Set(ctx context.Context, key string, value any, expiration time.Duration) error {
	payload, err := p.serialize(value)
	if err != nil {
		return err
	}
	_, err = p.db.Exec(ctx, fmt.Sprintf(`INSERT INTO %s (key, format, data, expires_at) VALUES ($1, $2, $3, $4)
ON CONFLICT (key) DO UPDATE SET format = EXCLUDED.format, data = EXCLUDED.data, expires_at = EXCLUDED.expires_at`, p.table),
		key, payload.Format, payload.Data, p.now().Add(expiration))
	if err != nil {
		return fmt.Errorf("%s: set %q: %w", logPrefix, key, err)
	}
	return nil
}

// Add inserts value unless a live row exists. Expired rows are replaced.
func (p *Provider) Add(ctx context.Context, key string, value any, expiration time.Duration) error {
	payload, err := p.serialize(value)
	if err != nil {
		return err
	}
	now := p.now()
	tag, err := p.db.Exec(ctx, fmt.Sprintf(`INSERT INTO %[1]s (key, format, data, expires_at) VALUES ($1, $2, $3, $4)
ON CONFLICT (key) DO UPDATE SET format = EXCLUDED.format, data = EXCLUDED.data, expires_at = EXCLUDED.expires_at
WHERE %[1]s.expires_at <= $5`, p.table),
		key, payload.Format, payload.Data, now.Add(expiration), now)
	if err != nil {
		return fmt.Errorf("%s: add %q: %w", logPrefix, key, err)
	}
	if tag.RowsAffected() == 0 {
		p.logger.Debug("cache entry already present", zap.String("key", key))
	}
	return nil
}

// Purge deletes expired rows and returns how many were removed.
func (p *Provider) Purge(ctx context.Context) (int64, error) {
	tag, err := p.db.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE expires_at <= $1`, p.table), p.now())
	if err != nil {
		return 0, fmt.Errorf("%s: purge: %w", logPrefix, err)
	}
	return tag.RowsAffected(), nil
}

func (p *Provider) serialize(value any) (cache.Payload, error) {
	if payload, ok := value.(cache.Payload); ok {
		return payload, nil
	}
	payload, err := p.ser.Serialize(value)
	if err != nil {
		return cache.Payload{}, fmt.Errorf("%s: serialize: %w", logPrefix, err)
	}
	return payload, nil
}
