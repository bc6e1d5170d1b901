package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Raikerian/discord-voice-bridge/internal/config"
	"github.com/Raikerian/discord-voice-bridge/pkg/audio"
)

const elevenLabsWriteTimeout = 10 * time.Second

// ElevenLabsProvider talks to an ElevenLabs Conversational AI agent.
type ElevenLabsProvider struct {
	logger     *zap.Logger
	apiKey     string
	agentID    string
	baseURL    string
	outputRate int
}

func NewElevenLabsProvider(cfg config.ElevenLabsConfig, logger *zap.Logger) *ElevenLabsProvider {
	return &ElevenLabsProvider{
		logger:     logger.Named("elevenlabs"),
		apiKey:     cfg.APIKey,
		agentID:    cfg.AgentID,
		baseURL:    cfg.BaseURL,
		outputRate: cfg.OutputSampleRate,
	}
}

func (p *ElevenLabsProvider) Name() string              { return config.ProviderElevenLabs }
func (p *ElevenLabsProvider) InputFormat() audio.Format { return audio.Mono16k }

// OutputFormat reports the configured agent output. The rate announced in the
// conversation metadata takes precedence once the conversation starts.
func (p *ElevenLabsProvider) OutputFormat() audio.Format {
	return audio.Format{SampleRate: p.outputRate, Channels: 1}
}

func (p *ElevenLabsProvider) Connect(ctx context.Context, h Handlers) (Conn, error) {
	endpoint := p.baseURL + "?agent_id=" + url.QueryEscape(p.agentID)
	header := http.Header{}
	if p.apiKey != "" {
		header.Set("xi-api-key", p.apiKey)
	}

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("elevenlabs: dial: %w (status %d)", err, resp.StatusCode)
		}

		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}

	c := &elevenLabsConn{
		logger:   p.logger,
		ws:       ws,
		handlers: h,
		closed:   make(chan struct{}),
	}
	c.outRate.Store(int64(p.outputRate))
	go c.receiveLoop()

	p.logger.Info("Connected to ElevenLabs agent", zap.String("agent_id", p.agentID))

	return c, nil
}

type elevenLabsMessage struct {
	Type string `json:"type"`

	AudioEvent *struct {
		Audio   string `json:"audio_base_64"`
		EventID int    `json:"event_id"`
	} `json:"audio_event,omitempty"`

	UserTranscriptionEvent *struct {
		UserTranscript string `json:"user_transcript"`
	} `json:"user_transcription_event,omitempty"`

	AgentResponseEvent *struct {
		AgentResponse string `json:"agent_response"`
	} `json:"agent_response_event,omitempty"`

	PingEvent *struct {
		EventID int `json:"event_id"`
		PingMS  int `json:"ping_ms"`
	} `json:"ping_event,omitempty"`

	InitiationMetadata *struct {
		ConversationID   string `json:"conversation_id"`
		AgentOutputAudio string `json:"agent_output_audio_format"`
		UserInputAudio   string `json:"user_input_audio_format"`
	} `json:"conversation_initiation_metadata_event,omitempty"`

	Message string `json:"message,omitempty"`
}

type elevenLabsConn struct {
	logger   *zap.Logger
	ws       *websocket.Conn
	handlers Handlers
	outRate  atomic.Int64

	mu        sync.Mutex
	closed    chan struct{}
	closeOnce sync.Once
}

func (c *elevenLabsConn) SendAudio(ctx context.Context, pcm []byte) error {
	return c.writeJSON(ctx, map[string]string{
		"user_audio_chunk": base64.StdEncoding.EncodeToString(pcm),
	})
}

func (c *elevenLabsConn) SendText(ctx context.Context, text string) error {
	return c.writeJSON(ctx, map[string]string{
		"type": "user_message",
		"text": text,
	})
}

// Interrupt is a no-op: agents detect barge-in from the audio stream.
func (c *elevenLabsConn) Interrupt(context.Context) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
		return nil
	}
}

func (c *elevenLabsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.mu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.mu.Unlock()
		err = c.ws.Close()
	})

	return err
}

func (c *elevenLabsConn) writeJSON(ctx context.Context, v any) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(elevenLabsWriteTimeout)
	}
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("elevenlabs: write: %w", err)
	}
	if err := c.ws.WriteJSON(v); err != nil {
		return fmt.Errorf("elevenlabs: write: %w", err)
	}

	return nil
}

func (c *elevenLabsConn) receiveLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
				c.handlers.close(nil)
			default:
				c.handlers.close(fmt.Errorf("elevenlabs: read: %w", err))
			}

			return
		}

		var msg elevenLabsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Debug("Skipping malformed ElevenLabs message", zap.Error(err))
			continue
		}
		c.handleMessage(&msg)
	}
}

func (c *elevenLabsConn) handleMessage(msg *elevenLabsMessage) {
	switch msg.Type {
	case "audio":
		if msg.AudioEvent == nil || msg.AudioEvent.Audio == "" {
			return
		}
		pcm, err := base64.StdEncoding.DecodeString(msg.AudioEvent.Audio)
		if err != nil {
			c.logger.Error("Failed to decode agent audio", zap.Error(err))
			return
		}
		format := audio.Format{SampleRate: int(c.outRate.Load()), Channels: 1}
		frame, err := audio.NewFrame(format, pcm)
		if err != nil {
			c.handlers.error(fmt.Errorf("elevenlabs: audio event: %w", err))
			return
		}
		c.handlers.audio(frame)

	case "interruption":
		c.handlers.interrupt()

	case "user_transcript":
		if msg.UserTranscriptionEvent != nil {
			c.handlers.transcript(RoleUser, msg.UserTranscriptionEvent.UserTranscript)
		}

	case "agent_response":
		if msg.AgentResponseEvent != nil {
			c.handlers.transcript(RoleAssistant, msg.AgentResponseEvent.AgentResponse)
		}

	case "conversation_initiation_metadata":
		if md := msg.InitiationMetadata; md != nil {
			if rate := rateFromPCMName(md.AgentOutputAudio); rate > 0 {
				c.outRate.Store(int64(rate))
			}
			c.logger.Info("ElevenLabs conversation started",
				zap.String("conversation_id", md.ConversationID),
				zap.String("output_format", md.AgentOutputAudio))
		}

	case "ping":
		if msg.PingEvent == nil {
			return
		}
		pong := map[string]any{"type": "pong", "event_id": msg.PingEvent.EventID}
		if err := c.writeJSON(context.Background(), pong); err != nil {
			c.logger.Warn("Failed to answer ElevenLabs ping", zap.Error(err))
		}

	case "error":
		c.handlers.error(fmt.Errorf("elevenlabs: %s", msg.Message))
	}
}

// rateFromPCMName parses agent formats such as "pcm_16000".
func rateFromPCMName(name string) int {
	rest, ok := strings.CutPrefix(name, "pcm_")
	if !ok {
		return 0
	}
	rate, err := strconv.Atoi(rest)
	if err != nil {
		return 0
	}

	return rate
}
