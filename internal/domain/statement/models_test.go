package statement

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2024-02-29")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), d)

	for _, bad := range []string{"", "2024-13-01", "29/02/2024", "2024-02-29T10:00:00Z"} {
		_, err := ParseDate(bad)
		assert.Error(t, err, bad)
	}
}

func TestDate(t *testing.T) {
	loc := time.FixedZone("UTC-3", -3*3600)
	// 22:30 at UTC-3 is already the next day in UTC.
	in := time.Date(2024, 5, 10, 22, 30, 0, 0, loc)
	assert.Equal(t, time.Date(2024, 5, 11, 0, 0, 0, 0, time.UTC), Date(in))
}
