package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMeta_GetSet(t *testing.T) {
	s := createTestStore(t)

	_, ok, err := s.GetMeta(ctx(), "tenant")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetMeta(ctx(), "tenant", "t1"))
	require.NoError(t, s.SetMeta(ctx(), "tenant", "t2"))

	v, ok, err := s.GetMeta(ctx(), "tenant")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "t2", v)
}

func TestLastSync_ZeroWhenNeverSynced(t *testing.T) {
	s := createTestStore(t)

	last, err := s.LastSync(ctx())
	require.NoError(t, err)
	assert.True(t, last.IsZero())
}

func TestLastSync_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	when := time.Date(2025, 3, 14, 9, 26, 53, 589_000_000, time.UTC)

	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.SetLastSync(ctx(), when))
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	last, err := s2.LastSync(ctx())
	require.NoError(t, err)
	assert.True(t, when.Equal(last), "got %v, want %v", last, when)
}

func TestLastSync_Corrupt(t *testing.T) {
	s := createTestStore(t)

	require.NoError(t, s.SetMeta(ctx(), MetaLastSync, "yesterday"))
	_, err := s.LastSync(ctx())
	assert.Error(t, err)
}
