package postgres

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestSanitizeQuery(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{
			name:  "placeholders kept",
			query: "SELECT id FROM bank_connectors WHERE tenant_id = $1 AND id = $12",
			want:  "SELECT id FROM bank_connectors WHERE tenant_id = $1 AND id = $12",
		},
		{
			name:  "string literal",
			query: "UPDATE bank_sync_runs SET status = 'FAILED' WHERE id = $1",
			want:  "UPDATE bank_sync_runs SET status = '?' WHERE id = $1",
		},
		{
			name:  "escaped quote",
			query: "SELECT 'it''s secret', x",
			want:  "SELECT '?', x",
		},
		{
			name:  "numeric literal",
			query: "SELECT * FROM t LIMIT 50 OFFSET 10.5",
			want:  "SELECT * FROM t LIMIT ? OFFSET ?",
		},
		{
			name:  "identifiers with digits",
			query: "SELECT col1 FROM t2",
			want:  "SELECT col1 FROM t2",
		},
		{
			name:  "whitespace collapsed",
			query: "\n\t\tSELECT id\n\t\tFROM t\n",
			want:  "SELECT id FROM t",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitizeQuery(tt.query))
		})
	}
}

func TestSanitizeQuery_Truncates(t *testing.T) {
	got := sanitizeQuery("SELECT " + strings.Repeat("a", 300))
	assert.Len(t, got, 259)
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestExtractSQLVerb(t *testing.T) {
	assert.Equal(t, "SELECT", extractSQLVerb("  select id from t"))
	assert.Equal(t, "INSERT", extractSQLVerb("\n\t\tINSERT INTO t"))
	assert.Equal(t, "COMMIT", extractSQLVerb("commit"))
}

func TestIsUniqueViolation(t *testing.T) {
	dup := &pq.Error{Code: "23505", Constraint: syncRunRequestConstraint}
	wrapped := fmt.Errorf("insert: %w", dup)

	assert.True(t, isUniqueViolation(dup, ""))
	assert.True(t, isUniqueViolation(wrapped, syncRunRequestConstraint))
	assert.False(t, isUniqueViolation(dup, connectorCodeConstraint))
	assert.False(t, isUniqueViolation(&pq.Error{Code: "23503"}, ""))
	assert.False(t, isUniqueViolation(errors.New("boom"), ""))
	assert.False(t, isUniqueViolation(nil, ""))
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `100\%`, escapeLike("100%"))
	assert.Equal(t, `a\_b`, escapeLike("a_b"))
	assert.Equal(t, `c:\\x`, escapeLike(`c:\x`))
}

func TestIsUUID(t *testing.T) {
	assert.True(t, isUUID("9b2f2c1e-5d0a-4d3e-8a55-0d7c1a1e2f3b"))
	assert.False(t, isUUID("conn-1"))
	assert.False(t, isUUID(""))
}

func TestNewImportRef(t *testing.T) {
	at := time.Date(2026, 5, 6, 23, 0, 0, 0, time.UTC)
	ref := newImportRef("API", at)

	assert.Regexp(t, regexp.MustCompile(`^API-20260506-[0-9a-f]{8}$`), ref)
	assert.NotEqual(t, ref, newImportRef("API", at))
}
