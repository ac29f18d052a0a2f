package pgcache

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guoyu07/SlimWebApi/cache"
)

type execCall struct {
	sql  string
	args []any
}

type fakeRow struct {
	format string
	data   []byte
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*string) = r.format
	*dest[1].(*[]byte) = r.data
	return nil
}

type fakeDB struct {
	execs    []execCall
	row      fakeRow
	affected int64
	execErr  error
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, execCall{sql: sql, args: args})
	if f.execErr != nil {
		return pgconn.CommandTag{}, f.execErr
	}
	if f.affected == 0 {
		return pgconn.NewCommandTag("INSERT 0 0"), nil
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (f *fakeDB) QueryRow(_ context.Context, _ string, _ ...any) pgx.Row {
	return f.row
}

func TestEnsureSchemaUsesQuotedTable(t *testing.T) {
	t.Parallel()

	db := &fakeDB{}
	p := New(db, Options{Table: "api cache"})
	require.NoError(t, p.EnsureSchema(context.Background()))
	require.Len(t, db.execs, 1)
	assert.Contains(t, db.execs[0].sql, `CREATE TABLE IF NOT EXISTS "api cache"`)
}

func TestGet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	db := &fakeDB{row: fakeRow{err: pgx.ErrNoRows}}
	_, ok, err := New(db, Options{}).Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	db.row = fakeRow{format: cache.FormatJSON, data: []byte(`{"id":3}`)}
	v, ok, err := New(db, Options{}).Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	var out struct{ ID int }
	require.NoError(t, cache.Decode(v, &out))
	assert.Equal(t, 3, out.ID)

	db.row = fakeRow{format: cache.FormatJSON, data: []byte("null")}
	v, ok, err = New(db, Options{}).Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Nil(t, v)

	db.row = fakeRow{err: errors.New("boom")}
	_, _, err = New(db, Options{}).Get(ctx, "k")
	assert.ErrorContains(t, err, "boom")
}

func TestSetAndAdd(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := &fakeDB{affected: 1}
	p := New(db, Options{Serializer: cache.CBOR})
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	require.NoError(t, p.Set(ctx, "k", 42, time.Minute))
	require.NoError(t, p.Add(ctx, "k", 43, time.Minute))
	require.Len(t, db.execs, 2)

	set := db.execs[0]
	assert.True(t, strings.HasPrefix(set.sql, `INSERT INTO "slimapi_cache"`))
	assert.Equal(t, "k", set.args[0])
	assert.Equal(t, cache.FormatCBOR, set.args[1])
	assert.Equal(t, now.Add(time.Minute), set.args[3])

	add := db.execs[1]
	assert.Contains(t, add.sql, `WHERE "slimapi_cache".expires_at <= $5`)
	assert.Equal(t, now, add.args[4])

	db.execErr = errors.New("down")
	assert.ErrorContains(t, p.Set(ctx, "k", 1, time.Minute), "down")
}

func TestSetPassesPayloadThrough(t *testing.T) {
	t.Parallel()

	db := &fakeDB{affected: 1}
	p := New(db, Options{})
	payload := cache.Payload{Format: cache.FormatCBOR, Data: []byte{0x01}}
	require.NoError(t, p.Set(context.Background(), "k", payload, time.Second))
	assert.Equal(t, cache.FormatCBOR, db.execs[0].args[1])
	assert.Equal(t, []byte{0x01}, db.execs[0].args[2])
}

func TestNewPool_InvalidURL(t *testing.T) {
	pool, err := NewPool(context.Background(), "invalid://not-a-valid-database-url", nil)
	if err == nil {
		pool.Close()
		t.Fatal("expected error for invalid URL")
	}
	assert.Nil(t, pool)
}
