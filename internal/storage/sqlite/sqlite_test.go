package sqlite

import (
	"context"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrate_Idempotent(t *testing.T) {
	conn, err := New(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	defer conn.Db.Close()

	require.NoError(t, conn.Ping(context.Background()))
	require.NoError(t, conn.Migrate())
	require.NoError(t, conn.Migrate())

	for _, table := range []string{"users", "conversations", "participants", "messages", "notifications"} {
		var n int
		err := conn.Db.QueryRow(`SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&n)
		require.NoError(t, err)
		assert.Equal(t, 1, n, table)
	}
}

func TestForeignKeysEnforced(t *testing.T) {
	conn, err := New(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	defer conn.Db.Close()
	require.NoError(t, conn.Migrate())

	_, err = conn.Db.Exec(`INSERT INTO participants (conversation_id, user_id, created_at) VALUES (999, 999, CURRENT_TIMESTAMP)`)
	assert.Error(t, err)
}

func TestWithPragmas(t *testing.T) {
	got, err := withPragmas("file:chat.db?_pragma=foreign_keys(ON)&mode=rwc")
	require.NoError(t, err)
	base, query, ok := strings.Cut(got, "?")
	require.True(t, ok)
	assert.Equal(t, "file:chat.db", base)

	q, err := url.ParseQuery(query)
	require.NoError(t, err)
	assert.Equal(t, []string{"foreign_keys(ON)", "journal_mode(WAL)", "busy_timeout(5000)"}, q["_pragma"], "caller's pragma wins")
	assert.Equal(t, "rwc", q.Get("mode"))

	_, err = withPragmas("chat.db?%zz")
	assert.Error(t, err)
}

func TestNew_AppliesPragmas(t *testing.T) {
	conn, err := New(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	defer conn.Db.Close()

	var mode string
	require.NoError(t, conn.Db.QueryRow(`PRAGMA journal_mode`).Scan(&mode))
	assert.Equal(t, "wal", mode)
	var busy int
	require.NoError(t, conn.Db.QueryRow(`PRAGMA busy_timeout`).Scan(&busy))
	assert.Equal(t, 5000, busy)
}
