package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsApplyOnOpen(t *testing.T) {
	s := newTestStore(t)

	migs, err := s.Migrations(context.Background())
	require.NoError(t, err)
	require.Len(t, migs, 3)
	assert.Equal(t, 1, migs[0].Version)
	assert.Equal(t, 2, migs[1].Version)
	assert.Equal(t, 3, migs[2].Version)
}

func TestMigrationsAreIdempotentOnReopen(t *testing.T) {
	cfg := DefaultEngineConfig(t.TempDir() + "/reopen.db")

	s1, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(cfg)
	require.NoError(t, err)
	defer s2.Close()

	migs, err := s2.Migrations(context.Background())
	require.NoError(t, err)
	assert.Len(t, migs, 3)
}
