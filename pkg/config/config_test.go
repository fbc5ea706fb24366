package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cellar.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
database:
  dsn: /var/lib/cellar/cellar.db
subscribers:
  wine_lot.VOLUME_RECEIVED: [audit-log]
cursor_chunk_size: 250
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/cellar/cellar.db", cfg.Database.DSN)
	assert.Equal(t, []string{"audit-log"}, cfg.Subscribers["wine_lot.VOLUME_RECEIVED"])
	assert.Equal(t, 250, cfg.CursorChunkSize)
	// Unset fields keep defaults.
	assert.Equal(t, 1000, cfg.RebuildChunkSize)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"empty dsn", "database:\n  dsn: \"\"\n", "database.dsn must not be empty"},
		{"bad chunk size", "cursor_chunk_size: -1\n", "cursor_chunk_size must be positive"},
		{"bad rebuild size", "rebuild_chunk_size: 0\n", "rebuild_chunk_size must be positive"},
		{"malformed yaml", "database: [\n", "parse config"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.content))
			assert.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorContains(t, err, "read config")
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "cellar.db", cfg.Database.DSN)
	assert.Equal(t, 1000, cfg.CursorChunkSize)
	assert.Equal(t, 1000, cfg.RebuildChunkSize)
}
