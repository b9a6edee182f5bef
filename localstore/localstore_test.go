package localstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGetDelete(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "console.db"))
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "darkMode")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "darkMode", "true"))
	require.NoError(t, s.Set(ctx, "darkMode", "false"))
	v, ok, err := s.Get(ctx, "darkMode")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "false", v)

	require.NoError(t, s.Delete(ctx, "darkMode"))
	require.NoError(t, s.Delete(ctx, "darkMode"))
	_, ok, err = s.Get(ctx, "darkMode")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestValuesSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "console.db")
	ctx := context.Background()

	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.Set(ctx, "mockUser", `{"email":"omar@school.com"}`))
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()
	v, ok, err := s2.Get(ctx, "mockUser")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"email":"omar@school.com"}`, v)
}
