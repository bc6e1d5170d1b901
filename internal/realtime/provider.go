// Package realtime connects the bridge to cloud speech-to-speech services.
// Every service is reached through a Provider that opens a Conn; audio and
// events flow back through Handlers invoked from the Conn's receive task.
package realtime

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/Raikerian/discord-voice-bridge/pkg/audio"
)

// ErrClosed is returned by Conn methods after Close.
var ErrClosed = errors.New("realtime: connection closed")

// Role identifies who spoke a transcript line.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Provider opens conversations with one realtime AI service.
type Provider interface {
	// Name is a short identifier such as "gemini".
	Name() string
	// InputFormat is the PCM format SendAudio expects.
	InputFormat() audio.Format
	// OutputFormat is the PCM format delivered to OnAudio.
	OutputFormat() audio.Format
	// Connect dials the service and completes its handshake. The returned
	// Conn delivers events to h until it closes.
	Connect(ctx context.Context, h Handlers) (Conn, error)
}

// Conn is one live conversation. SendAudio is called by a single writer;
// the other methods may be called from any goroutine.
type Conn interface {
	SendAudio(ctx context.Context, pcm []byte) error
	// SendText injects a user text turn the AI answers out loud.
	SendText(ctx context.Context, text string) error
	// Interrupt asks the service to abandon the response in progress.
	Interrupt(ctx context.Context) error
	Close() error
}

// Handlers receives asynchronous events from a Conn. All callbacks run on
// the Conn's receive goroutine; OnAudio may block to apply backpressure.
type Handlers struct {
	OnAudio      func(frame audio.Frame)
	OnInterrupt  func()
	OnTranscript func(role Role, text string)
	// OnError reports a non-fatal service error.
	OnError func(err error)
	// OnClose is called once when the receive task ends. err is nil when the
	// connection was closed locally.
	OnClose func(err error)
}

func (h Handlers) audio(f audio.Frame) {
	if h.OnAudio != nil {
		h.OnAudio(f)
	}
}

func (h Handlers) interrupt() {
	if h.OnInterrupt != nil {
		h.OnInterrupt()
	}
}

func (h Handlers) transcript(role Role, text string) {
	if h.OnTranscript != nil && text != "" {
		h.OnTranscript(role, text)
	}
}

func (h Handlers) error(err error) {
	if h.OnError != nil {
		h.OnError(err)
	}
}

func (h Handlers) close(err error) {
	if h.OnClose != nil {
		h.OnClose(err)
	}
}

// rateFromMIME extracts the rate parameter of a MIME type such as
// "audio/pcm;rate=24000".
func rateFromMIME(mime string, fallback int) int {
	for _, param := range strings.Split(mime, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || !strings.EqualFold(key, "rate") {
			continue
		}
		if rate, err := strconv.Atoi(value); err == nil && rate > 0 {
			return rate
		}
	}

	return fallback
}
