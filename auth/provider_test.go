package auth

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dormoron/polyel/internal/errs"
)

func setupTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	schema := `
		CREATE TABLE users (
			id INTEGER PRIMARY KEY,
			email TEXT NOT NULL,
			password TEXT NOT NULL,
			active INTEGER NOT NULL DEFAULT 1,
			nickname TEXT
		);
		INSERT INTO users (id, email, password, active, nickname) VALUES (1, 'tom@polyel.dev', 'hash-1', 1, 'tom');
		INSERT INTO users (id, email, password, active) VALUES (2, 'jerry@polyel.dev', 'hash-2', 0);
	`
	_, err = db.Exec(schema)
	require.NoError(t, err)
	return db
}

func TestSQLProvider(t *testing.T) {
	db := setupTestDB(t)
	p, err := NewSQLProvider(db, "users", PlaceholderFor("sqlite3"))
	require.NoError(t, err)
	ctx := context.Background()

	u, err := p.RetrieveByID(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "1", u.AuthID())
	assert.Equal(t, "hash-1", u.AuthPassword())
	assert.Equal(t, "tom", u.(GenericUser).Get("nickname"))

	// NULL 列不出现在结果中
	u, err = p.RetrieveByID(ctx, "2")
	require.NoError(t, err)
	_, ok := u.(GenericUser)["nickname"]
	assert.False(t, ok)

	_, err = p.RetrieveByID(ctx, "3")
	assert.True(t, errs.IsUserNotFound(err))

	u, err = p.RetrieveByCredentials(ctx, Credentials{"email": "tom@polyel.dev", "password": "whatever"})
	require.NoError(t, err)
	assert.Equal(t, "1", u.AuthID())

	_, err = p.RetrieveByCredentials(ctx, Credentials{"password": "whatever"})
	assert.True(t, errs.IsInvalidCredentials(err))

	p.Conditions = map[string]string{"active": "1"}
	_, err = p.RetrieveByCredentials(ctx, Credentials{"email": "jerry@polyel.dev"})
	assert.True(t, errs.IsUserNotFound(err))

	_, err = p.RetrieveByCredentials(ctx, Credentials{"email = 1 OR 1": "x"})
	assert.Error(t, err)
}

func TestNewSQLProvider_InvalidTable(t *testing.T) {
	_, err := NewSQLProvider(nil, "users; DROP TABLE users", PlaceholderQuestion)
	assert.Error(t, err)
}

func TestSQLProvider_BuildQuery(t *testing.T) {
	testCases := []struct {
		name        string
		placeholder Placeholder
		wantQuery   string
	}{
		{name: "question", placeholder: PlaceholderFor("mysql"),
			wantQuery: "SELECT * FROM users WHERE active = ? AND email = ? LIMIT 1"},
		{name: "dollar", placeholder: PlaceholderFor("postgres"),
			wantQuery: "SELECT * FROM users WHERE active = $1 AND email = $2 LIMIT 1"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := NewSQLProvider(nil, "users", tc.placeholder)
			require.NoError(t, err)
			query, args, err := p.buildQuery(map[string]string{"email": "a@b.c", "active": "1"})
			require.NoError(t, err)
			assert.Equal(t, tc.wantQuery, query)
			assert.Equal(t, []any{"1", "a@b.c"}, args)
		})
	}
}

func TestMemoryProvider(t *testing.T) {
	p := NewMemoryProvider(
		GenericUser{"id": "1", "email": "tom@polyel.dev", "password": "hash"},
	)
	ctx := context.Background()

	u, err := p.RetrieveByID(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "hash", u.AuthPassword())

	_, err = p.RetrieveByID(ctx, "2")
	assert.True(t, errs.IsUserNotFound(err))

	u, err = p.RetrieveByCredentials(ctx, Credentials{"email": "tom@polyel.dev", "password": "x"})
	require.NoError(t, err)
	assert.Equal(t, "1", u.AuthID())

	_, err = p.RetrieveByCredentials(ctx, Credentials{"email": "nobody@polyel.dev"})
	assert.True(t, errs.IsUserNotFound(err))

	_, err = p.RetrieveByCredentials(ctx, Credentials{})
	assert.True(t, errs.IsInvalidCredentials(err))
}
