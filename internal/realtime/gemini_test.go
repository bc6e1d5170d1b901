package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Raikerian/discord-voice-bridge/internal/config"
	"github.com/Raikerian/discord-voice-bridge/pkg/audio"
)

// fakeGemini accepts one Live connection and hands it to serve.
func fakeGemini(t *testing.T, serve func(ctx context.Context, c *websocket.Conn)) string {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer c.CloseNow()
		serve(r.Context(), c)
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func readJSON(t *testing.T, ctx context.Context, c *websocket.Conn) map[string]any {
	t.Helper()

	_, data, err := c.Read(ctx)
	require.NoError(t, err)

	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))

	return msg
}

func writeJSON(t *testing.T, ctx context.Context, c *websocket.Conn, v any) {
	t.Helper()

	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, c.Write(ctx, websocket.MessageText, data))
}

func newTestGemini(t *testing.T, baseURL string) *GeminiProvider {
	t.Helper()

	cfg := config.Default().Gemini
	cfg.APIKey = "test-key"
	cfg.BaseURL = baseURL
	cfg.SetupTimeout = 2 * time.Second

	return NewGeminiProvider(cfg, zaptest.NewLogger(t))
}

func TestGeminiConnectAndStream(t *testing.T) {
	pcm := audio.Silence(480)
	received := make(chan map[string]any, 1)

	url := fakeGemini(t, func(ctx context.Context, c *websocket.Conn) {
		setup := readJSON(t, ctx, c)
		s, ok := setup["setup"].(map[string]any)
		if assert.True(t, ok) {
			assert.Equal(t, "models/"+config.Default().Gemini.Model, s["model"])
		}
		writeJSON(t, ctx, c, map[string]any{"setupComplete": map[string]any{}})

		writeJSON(t, ctx, c, map[string]any{
			"serverContent": map[string]any{
				"inputTranscription": map[string]any{"text": "hello bot"},
				"modelTurn": map[string]any{
					"parts": []any{map[string]any{
						"inlineData": map[string]any{
							"mimeType": "audio/pcm;rate=24000",
							"data":     base64.StdEncoding.EncodeToString(pcm),
						},
					}},
				},
			},
		})
		writeJSON(t, ctx, c, map[string]any{"serverContent": map[string]any{"interrupted": true}})

		received <- readJSON(t, ctx, c)
		_, _, _ = c.Read(ctx)
	})

	frames := make(chan audio.Frame, 1)
	interrupts := make(chan struct{}, 1)
	transcripts := make(chan string, 1)
	closed := make(chan error, 1)

	conn, err := newTestGemini(t, url).Connect(context.Background(), Handlers{
		OnAudio:      func(f audio.Frame) { frames <- f },
		OnInterrupt:  func() { interrupts <- struct{}{} },
		OnTranscript: func(_ Role, text string) { transcripts <- text },
		OnClose:      func(err error) { closed <- err },
	})
	require.NoError(t, err)

	select {
	case f := <-frames:
		assert.Equal(t, audio.Mono24k, f.Format())
		assert.Equal(t, pcm, f.Data())
	case <-time.After(2 * time.Second):
		t.Fatal("no audio frame delivered")
	}
	assert.Equal(t, "hello bot", <-transcripts)
	select {
	case <-interrupts:
	case <-time.After(2 * time.Second):
		t.Fatal("interrupted flag not delivered")
	}

	require.NoError(t, conn.SendAudio(context.Background(), []byte{1, 0, 2, 0}))
	msg := <-received
	input, ok := msg["realtimeInput"].(map[string]any)
	require.True(t, ok)
	chunks := input["mediaChunks"].([]any)
	require.Len(t, chunks, 1)
	assert.Equal(t, "audio/pcm;rate=16000", chunks[0].(map[string]any)["mimeType"])

	require.NoError(t, conn.Interrupt(context.Background()))
	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())

	select {
	case err := <-closed:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("OnClose not called")
	}

	assert.ErrorIs(t, conn.SendAudio(context.Background(), []byte{0, 0}), ErrClosed)
	assert.ErrorIs(t, conn.Interrupt(context.Background()), ErrClosed)
}

func TestGeminiSetupRejected(t *testing.T) {
	url := fakeGemini(t, func(ctx context.Context, c *websocket.Conn) {
		readJSON(t, ctx, c)
		writeJSON(t, ctx, c, map[string]any{"error": map[string]any{"code": 400, "message": "bad model"}})
		_, _, _ = c.Read(ctx)
	})

	_, err := newTestGemini(t, url).Connect(context.Background(), Handlers{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad model")
}

func TestGeminiSetupTimeout(t *testing.T) {
	url := fakeGemini(t, func(ctx context.Context, c *websocket.Conn) {
		readJSON(t, ctx, c)
		_, _, _ = c.Read(ctx)
	})

	p := newTestGemini(t, url)
	p.setupTimeout = 100 * time.Millisecond

	_, err := p.Connect(context.Background(), Handlers{})
	assert.Error(t, err)
}

func TestGeminiRemoteCloseReportsError(t *testing.T) {
	url := fakeGemini(t, func(ctx context.Context, c *websocket.Conn) {
		readJSON(t, ctx, c)
		writeJSON(t, ctx, c, map[string]any{"setupComplete": map[string]any{}})
		_ = c.Close(websocket.StatusGoingAway, "bye")
	})

	closed := make(chan error, 1)
	conn, err := newTestGemini(t, url).Connect(context.Background(), Handlers{
		OnClose: func(err error) { closed <- err },
	})
	require.NoError(t, err)
	defer conn.Close()

	select {
	case err := <-closed:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("OnClose not called")
	}
}
