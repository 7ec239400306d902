package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/nfe-ocr/constants"
	"github.com/joseph-ayodele/nfe-ocr/internal/common"
	"github.com/joseph-ayodele/nfe-ocr/internal/tables"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestOpenTables(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := OpenTables(ctx, common.TablesConfig{Backend: "sqlite", SQLitePath: filepath.Join(dir, "db", "nfe.db")}, discard())
	require.NoError(t, err)
	assert.IsType(t, &tables.SQLStore{}, s)
	require.NoError(t, s.Close())

	s, err = OpenTables(ctx, common.TablesConfig{Backend: "xlsx", XLSXPath: filepath.Join(dir, "nfe.xlsx")}, discard())
	require.NoError(t, err)
	assert.IsType(t, &tables.XLSXStore{}, s)
	require.NoError(t, s.Close())

	_, err = OpenTables(ctx, common.TablesConfig{Backend: "csv"}, discard())
	assert.Equal(t, common.CodeConfig, common.CodeOf(err))
}

func TestNewCoordinator_LocalOnly(t *testing.T) {
	cfg := &common.Config{Local: common.LocalConfig{BasePath: t.TempDir()}}
	c, err := NewCoordinator(context.Background(), cfg, nil, discard())
	require.NoError(t, err)
	assert.Equal(t, constants.HealthLocalOnly, c.Health(context.Background()).Status)
}

func TestNewModelClient_OpenAI(t *testing.T) {
	cfg := &common.Config{Model: common.ModelConfig{Provider: "openai", OpenAIKey: "sk-test", RPM: 60}}
	c, cleanup, err := NewModelClient(context.Background(), cfg, nil, discard())
	require.NoError(t, err)
	defer cleanup()
	assert.Equal(t, "openai", c.Provider())

	cfg.Model.Provider = "claude"
	_, cleanup, err = NewModelClient(context.Background(), cfg, nil, discard())
	require.Error(t, err)
	cleanup()
}
