package realtime

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"sync/atomic"

	openairt "github.com/WqyJh/go-openai-realtime"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/Raikerian/discord-voice-bridge/internal/config"
	"github.com/Raikerian/discord-voice-bridge/pkg/audio"
)

// OpenAIProvider talks to the OpenAI Realtime API. Audio is 24 kHz mono
// pcm16 in both directions.
type OpenAIProvider struct {
	logger       *zap.Logger
	client       *openairt.Client
	model        string
	voice        string
	instructions string
}

func NewOpenAIProvider(cfg config.OpenAIConfig, logger *zap.Logger) *OpenAIProvider {
	return &OpenAIProvider{
		logger:       logger.Named("openai"),
		client:       openairt.NewClient(cfg.APIKey),
		model:        cfg.Model,
		voice:        cfg.Voice,
		instructions: cfg.Instructions,
	}
}

func (p *OpenAIProvider) Name() string               { return config.ProviderOpenAI }
func (p *OpenAIProvider) InputFormat() audio.Format  { return audio.Mono24k }
func (p *OpenAIProvider) OutputFormat() audio.Format { return audio.Mono24k }

func (p *OpenAIProvider) Connect(ctx context.Context, h Handlers) (Conn, error) {
	p.logger.Info("Connecting to OpenAI Realtime API", zap.String("model", p.model))

	conn, err := p.client.Connect(ctx, openairt.WithModel(p.model))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to OpenAI Realtime: %w", err)
	}

	if err := conn.SendMessage(ctx, p.sessionUpdate()); err != nil {
		_ = conn.Close()

		return nil, fmt.Errorf("failed to configure session: %w", err)
	}

	connCtx, cancel := context.WithCancel(context.Background())
	c := &openaiConn{
		logger:   p.logger,
		conn:     conn,
		handlers: h,
		ctx:      connCtx,
		cancel:   cancel,
	}
	go c.receiveLoop()

	p.logger.Info("Connected to OpenAI Realtime API",
		zap.String("model", p.model),
		zap.String("voice", p.voice))

	return c, nil
}

func (p *OpenAIProvider) sessionUpdate() *openairt.SessionUpdateEvent {
	return &openairt.SessionUpdateEvent{
		Session: openairt.ClientSession{
			Modalities:        []openairt.Modality{openairt.ModalityText, openairt.ModalityAudio},
			Voice:             openairt.Voice(p.voice),
			Instructions:      p.instructions,
			InputAudioFormat:  openairt.AudioFormatPcm16,
			OutputAudioFormat: openairt.AudioFormatPcm16,
			InputAudioTranscription: &openairt.InputAudioTranscription{
				Model: openai.Whisper1,
			},
		},
	}
}

type openaiConn struct {
	logger   *zap.Logger
	conn     *openairt.Conn
	handlers Handlers

	ctx       context.Context
	cancel    context.CancelFunc
	closing   atomic.Bool
	closeOnce sync.Once
}

func (c *openaiConn) SendAudio(ctx context.Context, pcm []byte) error {
	return c.send(ctx, &openairt.InputAudioBufferAppendEvent{
		Audio: base64.StdEncoding.EncodeToString(pcm),
	})
}

// SendText adds a user message and asks for a spoken answer.
func (c *openaiConn) SendText(ctx context.Context, text string) error {
	item := &openairt.ConversationItemCreateEvent{
		Item: openairt.MessageItem{
			Type: openairt.MessageItemTypeMessage,
			Role: openairt.MessageRoleUser,
			Content: []openairt.MessageContentPart{{
				Type: openairt.MessageContentTypeInputText,
				Text: text,
			}},
		},
	}
	if err := c.send(ctx, item); err != nil {
		return err
	}

	return c.send(ctx, &openairt.ResponseCreateEvent{
		Response: openairt.ResponseCreateParams{
			Modalities: []openairt.Modality{openairt.ModalityText, openairt.ModalityAudio},
		},
	})
}

func (c *openaiConn) Interrupt(ctx context.Context) error {
	return c.send(ctx, &openairt.ResponseCancelEvent{})
}

func (c *openaiConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.logger.Info("Closing OpenAI Realtime connection")
		c.closing.Store(true)
		err = c.conn.Close()
		c.cancel()
	})

	return err
}

func (c *openaiConn) send(ctx context.Context, event openairt.ClientEvent) error {
	if c.closing.Load() {
		return ErrClosed
	}

	return c.conn.SendMessage(ctx, event)
}

func (c *openaiConn) receiveLoop() {
	for {
		event, err := c.conn.ReadMessage(c.ctx)
		if err != nil {
			if c.closing.Load() {
				c.handlers.close(nil)
			} else {
				c.handlers.close(fmt.Errorf("openai: read: %w", err))
			}

			return
		}
		c.handleServerEvent(event)
	}
}

func (c *openaiConn) handleServerEvent(event openairt.ServerEvent) {
	c.logger.Debug("Received server event",
		zap.String("event_type", string(event.ServerEventType())))

	switch event.ServerEventType() {
	case openairt.ServerEventTypeResponseAudioDelta:
		delta := event.(openairt.ResponseAudioDeltaEvent)
		if delta.Delta == "" {
			return
		}
		pcm, err := base64.StdEncoding.DecodeString(delta.Delta)
		if err != nil {
			c.logger.Error("Failed to decode audio delta", zap.Error(err))

			return
		}
		frame, err := audio.NewFrame(audio.Mono24k, pcm)
		if err != nil {
			c.handlers.error(fmt.Errorf("openai: audio delta: %w", err))

			return
		}
		c.handlers.audio(frame)

	case openairt.ServerEventTypeInputAudioBufferSpeechStarted:
		c.handlers.interrupt()

	case openairt.ServerEventTypeResponseAudioTranscriptDone:
		transcript := event.(openairt.ResponseAudioTranscriptDoneEvent)
		c.handlers.transcript(RoleAssistant, transcript.Transcript)

	case openairt.ServerEventTypeConversationItemInputAudioTranscriptionCompleted:
		inputTranscript := event.(openairt.ConversationItemInputAudioTranscriptionCompletedEvent)
		c.handlers.transcript(RoleUser, inputTranscript.Transcript)

	case openairt.ServerEventTypeConversationItemInputAudioTranscriptionFailed:
		failed := event.(openairt.ConversationItemInputAudioTranscriptionFailedEvent)
		c.logger.Warn("User audio transcription failed",
			zap.String("item_id", failed.ItemID),
			zap.String("error", failed.Error.Message))

	case openairt.ServerEventTypeResponseDone:
		done := event.(openairt.ResponseDoneEvent)
		if done.Response.Usage != nil {
			c.logger.Info("Response completed",
				zap.Int("input_tokens", done.Response.Usage.InputTokens),
				zap.Int("output_tokens", done.Response.Usage.OutputTokens))
		}

	case openairt.ServerEventTypeError:
		errorEvent := event.(openairt.ErrorEvent)
		c.handlers.error(fmt.Errorf("OpenAI error: %s", errorEvent.Error.Message))
	}
}
