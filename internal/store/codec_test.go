package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimestampRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	formatted := formatTimestamp(now)
	parsed, err := parseTimestamp(formatted)
	require.NoError(t, err)
	assert.True(t, now.Equal(parsed))
}

func TestFormatTimestampPtrNil(t *testing.T) {
	assert.Nil(t, formatTimestampPtr(nil))
}

func TestTagsRoundTrip(t *testing.T) {
	tags := []string{"x", "y", "z"}
	encoded := encodeTags(tags)
	assert.Equal(t, tags, decodeTags(encoded))
}

func TestEncodeTagsEmpty(t *testing.T) {
	assert.Equal(t, "[]", encodeTags(nil))
	assert.Nil(t, decodeTags(""))
}
