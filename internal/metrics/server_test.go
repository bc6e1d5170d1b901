package metrics_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/Raikerian/discord-voice-bridge/internal/config"
	"github.com/Raikerian/discord-voice-bridge/internal/metrics"
)

type fixedCounter int

func (c fixedCounter) ActiveSessions() int { return int(c) }

func TestRouter_Healthz(t *testing.T) {
	h := metrics.NewRouter(metrics.RouterParams{Logger: zaptest.NewLogger(t), Sessions: fixedCounter(3)})
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Status   string `json:"status"`
		Sessions int    `json:"sessions"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 3, body.Sessions)
}

func TestRouter_Metrics(t *testing.T) {
	metrics.CaptureFramesTotal.Inc()

	h := metrics.NewRouter(metrics.RouterParams{Logger: zaptest.NewLogger(t)})
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), "voice_bridge_capture_frames_total")
}

func TestModule_ListenerLifecycle(t *testing.T) {
	cfg := config.Default()
	cfg.Metrics.Enabled = true
	cfg.Metrics.ListenAddr = "127.0.0.1:0"

	app := fxtest.New(t,
		fx.Supply(cfg, zap.NewNop()),
		metrics.Module,
	)
	app.RequireStart()
	app.RequireStop()
}
