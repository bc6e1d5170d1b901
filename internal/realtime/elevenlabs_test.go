package realtime

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Raikerian/discord-voice-bridge/internal/config"
	"github.com/Raikerian/discord-voice-bridge/pkg/audio"
)

func fakeElevenLabs(t *testing.T, serve func(c *websocket.Conn)) string {
	t.Helper()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "agent-1", r.URL.Query().Get("agent_id"))
		assert.Equal(t, "xi-key", r.Header.Get("xi-api-key"))
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		serve(c)
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newTestElevenLabs(t *testing.T, baseURL string) *ElevenLabsProvider {
	t.Helper()

	cfg := config.Default().ElevenLabs
	cfg.APIKey = "xi-key"
	cfg.AgentID = "agent-1"
	cfg.BaseURL = baseURL

	return NewElevenLabsProvider(cfg, zaptest.NewLogger(t))
}

func TestElevenLabsConversation(t *testing.T) {
	pcm := audio.Silence(320)
	fromClient := make(chan map[string]any, 4)

	url := fakeElevenLabs(t, func(c *websocket.Conn) {
		require.NoError(t, c.WriteJSON(map[string]any{
			"type": "conversation_initiation_metadata",
			"conversation_initiation_metadata_event": map[string]any{
				"conversation_id":           "conv-1",
				"agent_output_audio_format": "pcm_24000",
			},
		}))
		require.NoError(t, c.WriteJSON(map[string]any{
			"type":        "audio",
			"audio_event": map[string]any{"audio_base_64": base64.StdEncoding.EncodeToString(pcm), "event_id": 1},
		}))
		require.NoError(t, c.WriteJSON(map[string]any{
			"type":                 "agent_response",
			"agent_response_event": map[string]any{"agent_response": "Hi!"},
		}))
		require.NoError(t, c.WriteJSON(map[string]any{"type": "interruption", "interruption_event": map[string]any{"event_id": 1}}))
		require.NoError(t, c.WriteJSON(map[string]any{"type": "ping", "ping_event": map[string]any{"event_id": 7}}))

		for {
			var msg map[string]any
			if err := c.ReadJSON(&msg); err != nil {
				return
			}
			fromClient <- msg
		}
	})

	frames := make(chan audio.Frame, 1)
	interrupts := make(chan struct{}, 1)
	transcripts := make(chan string, 1)
	closed := make(chan error, 1)

	conn, err := newTestElevenLabs(t, url).Connect(context.Background(), Handlers{
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
		t.Fatal("no audio delivered")
	}
	assert.Equal(t, "Hi!", <-transcripts)
	<-interrupts

	pong := <-fromClient
	assert.Equal(t, "pong", pong["type"])
	assert.EqualValues(t, 7, pong["event_id"])

	require.NoError(t, conn.SendAudio(context.Background(), []byte{1, 0}))
	chunk := <-fromClient
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte{1, 0}), chunk["user_audio_chunk"])

	require.NoError(t, conn.SendText(context.Background(), "tell a joke"))
	text := <-fromClient
	assert.Equal(t, "user_message", text["type"])
	assert.Equal(t, "tell a joke", text["text"])

	require.NoError(t, conn.Interrupt(context.Background()))
	require.NoError(t, conn.Close())

	select {
	case err := <-closed:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("OnClose not called")
	}
	assert.ErrorIs(t, conn.SendAudio(context.Background(), []byte{0, 0}), ErrClosed)
}

func TestElevenLabsServerDropReportsError(t *testing.T) {
	url := fakeElevenLabs(t, func(c *websocket.Conn) {})

	closed := make(chan error, 1)
	conn, err := newTestElevenLabs(t, url).Connect(context.Background(), Handlers{
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

func TestRateFromPCMName(t *testing.T) {
	assert.Equal(t, 16000, rateFromPCMName("pcm_16000"))
	assert.Equal(t, 0, rateFromPCMName("ulaw_8000"))
	assert.Equal(t, 0, rateFromPCMName("pcm_fast"))
}
