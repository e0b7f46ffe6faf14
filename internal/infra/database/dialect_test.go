package database

import (
	"errors"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebind(t *testing.T) {
	q := `SELECT a FROM t WHERE x = ? AND y = ?`
	assert.Equal(t, q, SQLite.rebind(q))
	assert.Equal(t, `SELECT a FROM t WHERE x = $1 AND y = $2`, Postgres.rebind(q))
}

func TestPostgresUniqueViolation(t *testing.T) {
	assert.True(t, Postgres.isUniqueViolation(&pq.Error{Code: "23505"}))
	assert.False(t, Postgres.isUniqueViolation(&pq.Error{Code: "23503"}))
	assert.False(t, Postgres.isUniqueViolation(errors.New("boom")))
}

func TestDBTimeScan(t *testing.T) {
	want := time.Date(2026, 3, 20, 14, 5, 6, 0, time.UTC)
	cases := map[string]any{
		"time":         want.In(time.FixedZone("x", 3600)),
		"sqlite text":  "2026-03-20 14:05:06+00:00",
		"rfc3339":      []byte("2026-03-20T14:05:06Z"),
		"unix millis":  want.UnixMilli(),
		"no time zone": "2026-03-20 14:05:06",
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			var got dbTime
			require.NoError(t, got.Scan(src))
			assert.True(t, got.Valid)
			assert.True(t, want.Equal(got.Time), "got %s", got.Time)
		})
	}

	var d dbTime
	require.NoError(t, d.Scan("2026-03-20"))
	assert.Equal(t, time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC), d.Time)

	require.NoError(t, d.Scan(nil))
	assert.False(t, d.Valid)
	assert.Error(t, d.Scan("not a time"))
	assert.Error(t, d.Scan(3.5))
}
