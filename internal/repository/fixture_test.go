package repository

import (
	"os"
	"regexp"
	"testing"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The normalizer leaves Teams nil when the feed omits a teams array, and the
// upsert binds the value explicitly, so it reaches the column as SQL NULL
// rather than falling back to a default. The schema has to accept that.
func TestTeams_NilSliceEncodesAsNull(t *testing.T) {
	m := pgtype.NewMap()

	buf, err := m.Encode(pgtype.TextArrayOID, pgtype.TextFormatCode, []string(nil), nil)
	require.NoError(t, err)
	assert.Nil(t, buf, "nil teams slice must encode as SQL NULL")

	buf, err = m.Encode(pgtype.TextArrayOID, pgtype.TextFormatCode, []string{"A", "B"}, nil)
	require.NoError(t, err)
	assert.NotNil(t, buf)
}

func TestMatchesSchema_TeamsColumnNullable(t *testing.T) {
	sql, err := os.ReadFile("../../db/migrations/000001_create_matches.up.sql")
	require.NoError(t, err)

	line := regexp.MustCompile(`(?m)^\s*teams\s+[^,]+`).FindString(string(sql))
	require.NotEmpty(t, line, "matches schema must define a teams column")
	assert.NotContains(t, line, "NOT NULL", "teams is nullable; feed records may omit the teams array")
}
