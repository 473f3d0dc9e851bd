package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnString(t *testing.T) {
	got, err := connString(" postgres://chat:pw@db.internal:5433/chat?sslmode=disable ")
	require.NoError(t, err)
	for _, kv := range []string{"user=chat", "password=pw", "host=db.internal", "port=5433", "dbname=chat", "sslmode=disable"} {
		assert.Contains(t, got, kv)
	}

	got, err = connString("host=localhost dbname=chat")
	require.NoError(t, err)
	assert.Equal(t, "host=localhost dbname=chat", got)

	_, err = connString("")
	assert.Error(t, err)
	_, err = connString("postgres://chat@%zz/chat")
	assert.Error(t, err)
}

func TestNew_RejectsMalformedURLWithoutDialing(t *testing.T) {
	_, err := New("postgresql://chat@%zz/chat")
	assert.ErrorContains(t, err, "postgres:")
}
