package tables

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/nfe-ocr/internal/common"
)

func TestSQLStore_EnsureTableIsIdempotent(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()

	created, err := s.EnsureTable(ctx, "Resumo", []string{"a", "b"})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.EnsureTable(ctx, "Resumo", []string{"a", "b"})
	require.NoError(t, err)
	assert.False(t, created)
}

func TestSQLStore_HeaderWidensButNeverShrinks(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()

	_, err := s.EnsureTable(ctx, "T", []string{"a"})
	require.NoError(t, err)
	_, err = s.EnsureTable(ctx, "T", []string{"a", "b", "c"})
	require.NoError(t, err)
	_, err = s.EnsureTable(ctx, "T", []string{"x"})
	require.NoError(t, err)

	header, rows, err := s.Rows(ctx, "T")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, header)
	assert.Empty(t, rows)
}

func TestSQLStore_AppendKeepsOrderPerTable(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()
	for _, n := range []string{"A", "B"} {
		_, err := s.EnsureTable(ctx, n, []string{"v"})
		require.NoError(t, err)
	}
	require.NoError(t, s.Append(ctx, "A", [][]string{{"1"}, {"2"}}))
	require.NoError(t, s.Append(ctx, "B", [][]string{{"x"}}))
	require.NoError(t, s.Append(ctx, "A", [][]string{{"3", "extra"}}))

	_, rows, err := s.Rows(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"1"}, {"2"}, {"3", "extra"}}, rows)

	names, err := s.Tables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, names)
}

func TestSQLStore_MissingTable(t *testing.T) {
	s := newSQLite(t)
	_, _, err := s.Rows(context.Background(), "nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrNotFound)
	assert.Equal(t, common.CodeNotFound, common.CodeOf(err))
}

func TestSQLStore_FileSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nfe.db")
	ctx := context.Background()

	s, err := OpenSQLite(ctx, path, discard())
	require.NoError(t, err)
	_, err = s.EnsureTable(ctx, "Resumo", []string{"h"})
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, "Resumo", [][]string{{"v"}}))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(ctx, path, discard())
	require.NoError(t, err)
	defer s.Close()
	_, rows, err := s.Rows(ctx, "Resumo")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"v"}}, rows)
}
