package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"pi-motion-recorder/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Storage.StagingDir = filepath.Join(dir, "captures")
	cfg.Storage.CatalogPath = filepath.Join(dir, "db", "catalog.db")
	cfg.Server.BindIP = "127.0.0.1"
	cfg.Server.WebPort = 0
	cfg.Camera.Command = filepath.Join(dir, "no-such-camera")
	return cfg
}

func TestNewApplication(t *testing.T) {
	app, err := NewApplication(testConfig(t), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer app.catalog.Close()

	assert.Equal(t, 100, app.window.Capacity())
	assert.NotNil(t, app.controller)
	assert.NotNil(t, app.capture)
}

func TestStartFailsWithoutCamera(t *testing.T) {
	app, err := NewApplication(testConfig(t), zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.Error(t, app.Start())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, app.Stop(ctx))
}
