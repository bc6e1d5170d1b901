package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/Raikerian/discord-voice-bridge/internal/config"
	"github.com/Raikerian/discord-voice-bridge/pkg/audio"
)

const (
	geminiKeepaliveInterval = 20 * time.Second
	geminiKeepaliveTimeout  = 5 * time.Second
	geminiReadLimit         = 16 << 20
)

// GeminiProvider talks to the Gemini Live BidiGenerateContent websocket.
type GeminiProvider struct {
	logger       *zap.Logger
	apiKey       string
	model        string
	voice        string
	instruction  string
	baseURL      string
	setupTimeout time.Duration
}

// NewGeminiProvider creates a provider from the gemini config section.
func NewGeminiProvider(cfg config.GeminiConfig, logger *zap.Logger) *GeminiProvider {
	return &GeminiProvider{
		logger:       logger.Named("gemini"),
		apiKey:       cfg.APIKey,
		model:        cfg.Model,
		voice:        cfg.Voice,
		instruction:  cfg.SystemInstruction,
		baseURL:      cfg.BaseURL,
		setupTimeout: cfg.SetupTimeout,
	}
}

func (p *GeminiProvider) Name() string               { return config.ProviderGemini }
func (p *GeminiProvider) InputFormat() audio.Format  { return audio.Mono16k }
func (p *GeminiProvider) OutputFormat() audio.Format { return audio.Mono24k }

// Connect dials Gemini Live, sends the setup message and waits for
// setupComplete before returning.
func (p *GeminiProvider) Connect(ctx context.Context, h Handlers) (Conn, error) {
	wsURL := fmt.Sprintf(
		"%s/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent?key=%s",
		p.baseURL, url.QueryEscape(p.apiKey),
	)

	ws, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Content-Type": []string{"application/json"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: dial: %w", err)
	}
	ws.SetReadLimit(geminiReadLimit)

	connCtx, cancel := context.WithCancel(context.Background())
	c := &geminiConn{
		logger:   p.logger,
		ws:       ws,
		handlers: h,
		ctx:      connCtx,
		cancel:   cancel,
		inMIME:   fmt.Sprintf("audio/pcm;rate=%d", p.InputFormat().SampleRate),
		outRate:  p.OutputFormat().SampleRate,
	}

	if err := c.writeJSON(ctx, p.setupMessage()); err != nil {
		c.abort("setup failed")
		return nil, fmt.Errorf("gemini: setup: %w", err)
	}

	setupCtx, setupCancel := context.WithTimeout(ctx, p.setupTimeout)
	defer setupCancel()
	if err := c.awaitSetup(setupCtx); err != nil {
		c.abort("setup failed")
		return nil, err
	}

	p.logger.Info("Gemini Live session ready", zap.String("model", p.model), zap.String("voice", p.voice))

	go c.receiveLoop()
	go c.keepaliveLoop()

	return c, nil
}

func (p *GeminiProvider) setupMessage() geminiSetupMessage {
	msg := geminiSetupMessage{
		Setup: geminiSetup{
			Model: "models/" + p.model,
			GenerationConfig: geminiGenerationConfig{
				ResponseModalities: []string{"audio"},
			},
			InputAudioTranscription:  &struct{}{},
			OutputAudioTranscription: &struct{}{},
		},
	}
	if p.voice != "" {
		msg.Setup.GenerationConfig.SpeechConfig = &geminiSpeechConfig{
			VoiceConfig: geminiVoiceConfig{
				PrebuiltVoiceConfig: geminiPrebuiltVoice{VoiceName: p.voice},
			},
		}
	}
	if p.instruction != "" {
		msg.Setup.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: p.instruction}}}
	}

	return msg
}

// Outgoing messages.

type geminiSetupMessage struct {
	Setup geminiSetup `json:"setup"`
}

type geminiSetup struct {
	Model                    string                 `json:"model"`
	GenerationConfig         geminiGenerationConfig `json:"generationConfig"`
	SystemInstruction        *geminiContent         `json:"systemInstruction,omitempty"`
	InputAudioTranscription  *struct{}              `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{}              `json:"outputAudioTranscription,omitempty"`
}

type geminiGenerationConfig struct {
	ResponseModalities []string            `json:"responseModalities"`
	SpeechConfig       *geminiSpeechConfig `json:"speechConfig,omitempty"`
}

type geminiSpeechConfig struct {
	VoiceConfig geminiVoiceConfig `json:"voiceConfig"`
}

type geminiVoiceConfig struct {
	PrebuiltVoiceConfig geminiPrebuiltVoice `json:"prebuiltVoiceConfig"`
}

type geminiPrebuiltVoice struct {
	VoiceName string `json:"voiceName"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiRealtimeInputMessage struct {
	RealtimeInput geminiRealtimeInput `json:"realtimeInput"`
}

type geminiRealtimeInput struct {
	MediaChunks []geminiInlineData `json:"mediaChunks"`
}

type geminiClientContentMessage struct {
	ClientContent geminiClientContent `json:"clientContent"`
}

type geminiClientContent struct {
	Turns        []geminiContent `json:"turns"`
	TurnComplete bool            `json:"turnComplete"`
}

// Incoming messages.

type geminiServerMessage struct {
	SetupComplete *json.RawMessage     `json:"setupComplete,omitempty"`
	ServerContent *geminiServerContent `json:"serverContent,omitempty"`
	GoAway        *json.RawMessage     `json:"goAway,omitempty"`
	Error         *geminiError         `json:"error,omitempty"`
}

type geminiServerContent struct {
	ModelTurn           *geminiContent       `json:"modelTurn,omitempty"`
	TurnComplete        bool                 `json:"turnComplete,omitempty"`
	Interrupted         bool                 `json:"interrupted,omitempty"`
	InputTranscription  *geminiTranscription `json:"inputTranscription,omitempty"`
	OutputTranscription *geminiTranscription `json:"outputTranscription,omitempty"`
}

type geminiTranscription struct {
	Text string `json:"text"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

type geminiConn struct {
	logger   *zap.Logger
	ws       *websocket.Conn
	handlers Handlers
	inMIME   string
	outRate  int

	ctx       context.Context
	cancel    context.CancelFunc
	closing   atomic.Bool
	closeOnce sync.Once
}

func (c *geminiConn) SendAudio(ctx context.Context, pcm []byte) error {
	return c.writeJSON(ctx, geminiRealtimeInputMessage{
		RealtimeInput: geminiRealtimeInput{
			MediaChunks: []geminiInlineData{{
				MIMEType: c.inMIME,
				Data:     base64.StdEncoding.EncodeToString(pcm),
			}},
		},
	})
}

func (c *geminiConn) SendText(ctx context.Context, text string) error {
	return c.writeJSON(ctx, geminiClientContentMessage{
		ClientContent: geminiClientContent{
			Turns:        []geminiContent{{Role: "user", Parts: []geminiPart{{Text: text}}}},
			TurnComplete: true,
		},
	})
}

// Interrupt is a no-op: Live has no client-side cancel, it barges in on its
// own when it hears new speech.
func (c *geminiConn) Interrupt(context.Context) error {
	if c.closing.Load() {
		return ErrClosed
	}

	return nil
}

func (c *geminiConn) Close() error {
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		err := c.ws.Close(websocket.StatusNormalClosure, "")
		if err != nil && !errors.Is(err, net.ErrClosed) {
			c.logger.Debug("Error closing Gemini connection", zap.Error(err))
		}
		c.cancel()
	})

	return nil
}

func (c *geminiConn) abort(reason string) {
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		_ = c.ws.Close(websocket.StatusInternalError, reason)
		c.cancel()
	})
}

func (c *geminiConn) writeJSON(ctx context.Context, v any) error {
	if c.closing.Load() {
		return ErrClosed
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("gemini: marshal: %w", err)
	}
	if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("gemini: write: %w", err)
	}

	return nil
}

func (c *geminiConn) awaitSetup(ctx context.Context) error {
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			return fmt.Errorf("gemini: waiting for setup: %w", err)
		}

		var msg geminiServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Error != nil {
			return fmt.Errorf("gemini: setup rejected: %s", msg.Error.Message)
		}
		if msg.SetupComplete != nil {
			return nil
		}
	}
}

// receiveLoop reads server messages until the socket fails or is closed.
func (c *geminiConn) receiveLoop() {
	for {
		_, data, err := c.ws.Read(c.ctx)
		if err != nil {
			if c.closing.Load() {
				c.handlers.close(nil)
				return
			}
			c.handlers.close(fmt.Errorf("gemini: read: %w", err))
			return
		}

		var msg geminiServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Debug("Skipping malformed Gemini message", zap.Error(err))
			continue
		}
		c.handleServerMessage(&msg)
	}
}

func (c *geminiConn) handleServerMessage(msg *geminiServerMessage) {
	if msg.Error != nil {
		c.handlers.error(fmt.Errorf("gemini: %s", msg.Error.Message))
	}
	if msg.GoAway != nil {
		c.logger.Warn("Gemini announced session end")
	}

	sc := msg.ServerContent
	if sc == nil {
		return
	}

	if sc.Interrupted {
		c.handlers.interrupt()
	}
	if sc.InputTranscription != nil {
		c.handlers.transcript(RoleUser, sc.InputTranscription.Text)
	}
	if sc.OutputTranscription != nil {
		c.handlers.transcript(RoleAssistant, sc.OutputTranscription.Text)
	}
	if sc.ModelTurn == nil {
		return
	}

	for _, part := range sc.ModelTurn.Parts {
		if part.InlineData == nil {
			continue
		}
		pcm, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
		if err != nil || len(pcm) == 0 {
			continue
		}
		format := audio.Format{SampleRate: rateFromMIME(part.InlineData.MIMEType, c.outRate), Channels: 1}
		frame, err := audio.NewFrame(format, pcm)
		if err != nil {
			c.handlers.error(fmt.Errorf("gemini: audio part: %w", err))
			continue
		}
		c.handlers.audio(frame)
	}
}

// keepaliveLoop pings the server so idle conversations are not reaped.
func (c *geminiConn) keepaliveLoop() {
	ticker := time.NewTicker(geminiKeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(c.ctx, geminiKeepaliveTimeout)
			err := c.ws.Ping(ctx)
			cancel()
			if err != nil && c.ctx.Err() == nil {
				c.logger.Warn("Gemini keepalive failed", zap.Error(err))
			}
		}
	}
}
