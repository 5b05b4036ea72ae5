package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"pi-motion-recorder/config"
	"pi-motion-recorder/motion"
	"pi-motion-recorder/recorder"
	"pi-motion-recorder/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type testEnv struct {
	store   *storage.Store
	server  *Server
	handler http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zaptest.NewLogger(t)
	dir := t.TempDir()

	catalog, err := storage.OpenCatalog(filepath.Join(dir, "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { catalog.Close() })

	store, err := storage.NewStore(dir, catalog, logger)
	require.NoError(t, err)

	cfg := config.Default()
	hub := NewHub(nil, 4, logger)
	server := NewServer(cfg, store, hub, logger)
	return &testEnv{store: store, server: server, handler: server.routes()}
}

func (e *testEnv) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func saveCapture(t *testing.T, store *storage.Store, name string, start int64) recorder.Capture {
	t.Helper()
	c := recorder.Capture{
		Info: recorder.CaptureInfo{Name: name, StartTime: start, LengthSeconds: 20, MaxMotion: 300, MaxSAD: 4000},
		Stats: []motion.FrameMetric{
			{Timestamp: start, MaxBlockMotion: 5, MotionSum: 300, SADSum: 4000},
		},
	}
	require.NoError(t, store.Save(context.Background(), c))
	return c
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.get(t, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	decode(t, rec, &body)
	assert.Equal(t, "ok", body["status"])
}

func TestHomeAndUnknownPath(t *testing.T) {
	env := newTestEnv(t)
	assert.Equal(t, http.StatusOK, env.get(t, "/").Code)
	assert.Equal(t, http.StatusNotFound, env.get(t, "/nope").Code)
}

func TestAPIStatusIncludesSources(t *testing.T) {
	env := newTestEnv(t)
	env.server.Handlers().AddStatusSource("recorder", func() interface{} {
		return map[string]interface{}{"state": "idle"}
	})

	rec := env.get(t, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]map[string]interface{}
	decode(t, rec, &body)
	assert.Equal(t, "idle", body["recorder"]["state"])
	assert.Contains(t, body, "feed")
}

func TestAPIConfig(t *testing.T) {
	env := newTestEnv(t)
	rec := env.get(t, "/api/config")
	require.Equal(t, http.StatusOK, rec.Code)

	var cfg config.Config
	decode(t, rec, &cfg)
	assert.Equal(t, 10, cfg.Motion.SecondsPre)
}

func TestAPICapturesList(t *testing.T) {
	env := newTestEnv(t)
	saveCapture(t, env.store, "older", 1000)
	saveCapture(t, env.store, "newer", 2000)

	rec := env.get(t, "/api/captures")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Count    int             `json:"count"`
		Captures []storage.Entry `json:"captures"`
	}
	decode(t, rec, &body)
	require.Equal(t, 2, body.Count)
	assert.Equal(t, "newer", body.Captures[0].Name)
	assert.Equal(t, "older", body.Captures[1].Name)

	rec = env.get(t, "/api/captures?limit=1")
	decode(t, rec, &body)
	assert.Equal(t, 1, body.Count)

	assert.Equal(t, http.StatusBadRequest, env.get(t, "/api/captures?limit=x").Code)
}

func TestAPICapture(t *testing.T) {
	env := newTestEnv(t)
	c := saveCapture(t, env.store, "clip", 1000)

	rec := env.get(t, "/api/captures/clip")
	require.Equal(t, http.StatusOK, rec.Code)
	var entry storage.Entry
	decode(t, rec, &entry)
	assert.Equal(t, c.Info, entry.CaptureInfo)

	assert.Equal(t, http.StatusNotFound, env.get(t, "/api/captures/missing").Code)
}

func TestAPICaptureFallsBackToInfoFile(t *testing.T) {
	env := newTestEnv(t)
	info := recorder.CaptureInfo{Name: "orphan", StartTime: 5, LengthSeconds: 1.5, MaxMotion: 2, MaxSAD: 3}
	path, err := env.store.Path("orphan", storage.InfoExt)
	require.NoError(t, err)
	require.NoError(t, storage.WriteCaptureInfo(path, info))

	rec := env.get(t, "/api/captures/orphan")
	require.Equal(t, http.StatusOK, rec.Code)
	var got recorder.CaptureInfo
	decode(t, rec, &got)
	assert.Equal(t, info, got)
}

func TestAPICaptureStats(t *testing.T) {
	env := newTestEnv(t)
	c := saveCapture(t, env.store, "clip", 1000)

	rec := env.get(t, "/api/captures/clip/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var body statsResponse
	decode(t, rec, &body)
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, c.Stats, body.Frames)
	assert.Empty(t, body.Error)

	assert.Equal(t, http.StatusNotFound, env.get(t, "/api/captures/missing/stats").Code)
}

func TestAPICaptureStatsVersionMismatch(t *testing.T) {
	env := newTestEnv(t)
	path, err := env.store.Path("old", storage.StatsExt)
	require.NoError(t, err)
	// Version 1 header with zero records.
	require.NoError(t, os.WriteFile(path, []byte{1, 0, 0, 0, 0, 0, 0, 0}, 0o644))

	rec := env.get(t, "/api/captures/old/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var body statsResponse
	decode(t, rec, &body)
	assert.Equal(t, 0, body.Count)
	assert.NotNil(t, body.Frames)
	assert.NotEmpty(t, body.Error)
}

func TestAPICaptureVideo(t *testing.T) {
	env := newTestEnv(t)
	path, err := env.store.Path("clip", storage.VideoExt)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte{0, 0, 0, 1, 0x67}, 0o644))

	rec := env.get(t, "/api/captures/clip/video")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []byte{0, 0, 0, 1, 0x67}, rec.Body.Bytes())
	assert.Equal(t, "video/h264", rec.Header().Get("Content-Type"))

}

func TestPreflight(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/captures", nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestServerStartStop(t *testing.T) {
	env := newTestEnv(t)
	env.server.config.Server.BindIP = "127.0.0.1"
	env.server.config.Server.WebPort = 0

	require.NoError(t, env.server.Start())
	resp, err := http.Get("http://" + env.server.Addr() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.NoError(t, env.server.Stop(time.Second))
}
