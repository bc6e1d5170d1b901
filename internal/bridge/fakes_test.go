package bridge

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/Raikerian/discord-voice-bridge/internal/realtime"
	"github.com/Raikerian/discord-voice-bridge/pkg/audio"
)

// constantPCM returns n sample frames of v in every channel.
func constantPCM(format audio.Format, frames int, v int16) []byte {
	buf := make([]byte, frames*format.FrameBytes())
	for i := 0; i < len(buf); i += 2 {
		binary.LittleEndian.PutUint16(buf[i:], uint16(v))
	}

	return buf
}

func captureFrame(v int16) []byte {
	return constantPCM(audio.DiscordFormat, audio.DiscordFrameSize, v)
}

func isSilence(frame []byte) bool {
	return bytes.Equal(frame, audio.Silence(len(frame)))
}

// fakeSender records sends. The first failures sends fail; a negative
// value fails every send.
type fakeSender struct {
	mu       sync.Mutex
	sent     [][]byte
	calls    int
	failures int
}

func (f *fakeSender) SendAudio(_ context.Context, pcm []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.failures != 0 {
		if f.failures > 0 {
			f.failures--
		}

		return errors.New("socket closed")
	}
	f.sent = append(f.sent, pcm)

	return nil
}

func (f *fakeSender) snapshot() (calls int, sent [][]byte) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls, append([][]byte(nil), f.sent...)
}

// fakeConn is a realtime.Conn that records what the session asks of it.
type fakeConn struct {
	fakeSender

	texts      atomic.Int32
	interrupts atomic.Int32
	closed     atomic.Bool
}

func (c *fakeConn) SendText(context.Context, string) error {
	c.texts.Add(1)

	return nil
}

func (c *fakeConn) Interrupt(context.Context) error {
	c.interrupts.Add(1)

	return nil
}

func (c *fakeConn) Close() error {
	c.closed.Store(true)

	return nil
}

// fakeProvider hands out fakeConns and keeps the handlers of the last one.
type fakeProvider struct {
	connects atomic.Int32
	err      error
	// gate, when set, holds Connect until it is closed.
	gate chan struct{}

	mu       sync.Mutex
	conn     *fakeConn
	handlers realtime.Handlers
}

func (p *fakeProvider) Name() string               { return "fake" }
func (p *fakeProvider) InputFormat() audio.Format  { return audio.Mono16k }
func (p *fakeProvider) OutputFormat() audio.Format { return audio.Mono24k }

func (p *fakeProvider) Connect(ctx context.Context, h realtime.Handlers) (realtime.Conn, error) {
	p.connects.Add(1)
	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.err != nil {
		return nil, p.err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.conn = &fakeConn{}
	p.handlers = h

	return p.conn, nil
}

func (p *fakeProvider) last() (*fakeConn, realtime.Handlers) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.conn, p.handlers
}

// fakeLink is a VoiceLink that records written frames.
type fakeLink struct {
	mu       sync.Mutex
	frames   int
	audible  int
	writeErr error

	err      error
	done     chan struct{}
	doneOnce sync.Once
	closed   atomic.Bool
}

func newFakeLink() *fakeLink {
	return &fakeLink{done: make(chan struct{})}
}

func (l *fakeLink) WriteFrame(_ context.Context, frame []byte, silent bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.writeErr != nil {
		return l.writeErr
	}
	if len(frame) != audio.DiscordFrameBytes {
		return errors.New("short frame")
	}
	l.frames++
	if !silent {
		l.audible++
	}

	return nil
}

func (l *fakeLink) counts() (frames, audible int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.frames, l.audible
}

func (l *fakeLink) Done() <-chan struct{} { return l.done }

func (l *fakeLink) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.err
}

func (l *fakeLink) Close(context.Context) error {
	l.closed.Store(true)
	l.doneOnce.Do(func() { close(l.done) })

	return nil
}

// fault simulates the voice connection dropping.
func (l *fakeLink) fault(err error) {
	l.mu.Lock()
	l.err = err
	l.mu.Unlock()
	l.doneOnce.Do(func() { close(l.done) })
}

type fakeTransport struct {
	err error

	mu    sync.Mutex
	links []*fakeLink
	sinks []CaptureSink
}

func (t *fakeTransport) Connect(_ context.Context, _ ChannelRef, sink CaptureSink) (VoiceLink, error) {
	if t.err != nil {
		return nil, t.err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	l := newFakeLink()
	t.links = append(t.links, l)
	t.sinks = append(t.sinks, sink)

	return l, nil
}

func (t *fakeTransport) last() (*fakeLink, CaptureSink) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.links) == 0 {
		return nil, nil
	}

	return t.links[len(t.links)-1], t.sinks[len(t.sinks)-1]
}
