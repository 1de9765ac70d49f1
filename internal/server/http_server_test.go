package server

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/jnjlab/warok/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const warokYAML = `
serverPort: 9090
firstRun: true
`

const targetYAML = `
device:
  adbAddress: 10.0.0.5:5555
app:
  package: com.lilithgames.rok.gpkr
`

func setupConfigDir(t *testing.T) {
	t.Helper()
	dir := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "config", "rok1"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "config", "template"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", "warok.yaml"), []byte(warokYAML), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", "rok1", "config.yaml"), []byte(targetYAML), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", "template", "config.yaml"), []byte(targetYAML), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", "template", "ui.json"), []byte("{}"), 0644))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	require.NoError(t, config.Load())
}

func newTestServer() *HttpServer {
	return &HttpServer{
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		devices: make(map[string]*targetDevices),
	}
}

func TestNewTargetProvisionsFromTemplate(t *testing.T) {
	setupConfigDir(t)
	s := newTestServer()

	rec := httptest.NewRecorder()
	s.newTarget(rec, httptest.NewRequest(http.MethodPost, "/rok/new?target=rok2", nil))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.FileExists(t, filepath.Join("config", "rok2", "config.yaml"))

	_, found := config.GetTarget("rok2")
	assert.True(t, found)
}

func TestNewTargetRejectsDuplicate(t *testing.T) {
	setupConfigDir(t)
	s := newTestServer()

	rec := httptest.NewRecorder()
	s.newTarget(rec, httptest.NewRequest(http.MethodPost, "/rok/new?target=rok1", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = httptest.NewRecorder()
	s.newTarget(rec, httptest.NewRequest(http.MethodGet, "/rok/new?target=rok3", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestTargetConfigSaveRoundTrip(t *testing.T) {
	setupConfigDir(t)
	s := newTestServer()

	body := bytes.NewBufferString(`{"recovery": {"maxCycles": 7}}`)
	rec := httptest.NewRecorder()
	s.targetConfig(rec, httptest.NewRequest(http.MethodPut, "/rok/config?target=rok1", body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	cfg, found := config.GetTarget("rok1")
	require.True(t, found)
	assert.Equal(t, 7, cfg.Recovery.MaxCycles)
	// Untouched fields survive the partial update.
	assert.Equal(t, "com.lilithgames.rok.gpkr", cfg.App.Package)
}

func TestGlobalConfigSaveFinishesFirstRun(t *testing.T) {
	setupConfigDir(t)
	s := newTestServer()
	require.True(t, config.Warok.FirstRun)

	body := bytes.NewBufferString(`{"serverPort": 9191}`)
	rec := httptest.NewRecorder()
	s.globalConfig(rec, httptest.NewRequest(http.MethodPut, "/api/config", body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, 9191, config.Warok.ServerPort)
	assert.False(t, config.Warok.FirstRun)
}

func TestGlobalConfigRejectsInvalidNotifierSetup(t *testing.T) {
	setupConfigDir(t)
	s := newTestServer()

	body := bytes.NewBufferString(`{"telegram": {"enabled": true}}`)
	rec := httptest.NewRecorder()
	s.globalConfig(rec, httptest.NewRequest(http.MethodPut, "/api/config", body))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
