package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/objstream-go/application"
	"github.com/lk2023060901/objstream-go/internal/dump"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "objdump.yaml")
	require.NoError(t, os.WriteFile(path, []byte("objdump:\n  format: json\n  max-bytes: 8\n  workers: 3\n"), 0o600))

	app := application.New("objdump")
	require.NoError(t, app.Run([]string{"--config", path, "--max-bytes=-1", "a.ser"}))
	cfg, err := loadConfig(app)
	require.NoError(t, err)
	assert.Equal(t, dump.FormatJSON, cfg.Format)
	assert.Equal(t, -1, cfg.MaxBytes)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, []string{"a.ser"}, app.Args())

	app = application.New("objdump")
	require.NoError(t, app.Run([]string{"--max-depth=abc"}))
	_, err = loadConfig(app)
	assert.ErrorContains(t, err, "--max-depth")
}
