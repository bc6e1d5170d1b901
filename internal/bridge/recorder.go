package bridge

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Raikerian/discord-voice-bridge/pkg/audio"
)

// maxRecording caps the in-memory debug capture per session.
const maxRecording = 10 * time.Minute

// recorder keeps the mixed inbound stream of a session and writes it out as
// a WAV file on save. A nil recorder ignores every call.
type recorder struct {
	logger *zap.Logger
	dir    string
	prefix string
	format audio.Format
	limit  int
	create func(name string) (io.WriteCloser, error)

	mu  sync.Mutex
	buf bytes.Buffer
}

func newRecorder(logger *zap.Logger, dir, prefix string, format audio.Format) *recorder {
	if dir == "" {
		return nil
	}

	return &recorder{
		logger: logger,
		dir:    dir,
		prefix: prefix,
		format: format,
		limit:  format.BytesFor(maxRecording),
		create: func(name string) (io.WriteCloser, error) { return os.Create(name) },
	}
}

func (r *recorder) write(pcm []byte) {
	if r == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if room := r.limit - r.buf.Len(); room > 0 {
		r.buf.Write(pcm[:min(len(pcm), room)])
	}
}

// save writes the capture to dir and returns the file path. Nothing is written
// when no audio was recorded.
func (r *recorder) save() (string, error) {
	if r == nil {
		return "", nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.buf.Len() == 0 {
		return "", nil
	}

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", fmt.Errorf("debug dir: %w", err)
	}
	filename := filepath.Join(r.dir,
		fmt.Sprintf("%s_%s.wav", r.prefix, time.Now().Format("20060102_150405")))

	file, err := r.create(filename)
	if err != nil {
		return "", fmt.Errorf("create wav: %w", err)
	}
	if err := audio.WriteWAV(file, r.format, r.buf.Bytes()); err != nil {
		_ = file.Close()
		return "", err
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("close wav: %w", err)
	}

	r.logger.Info("Saved debug WAV",
		zap.String("file", filename),
		zap.Int("bytes", r.buf.Len()),
		zap.Duration("duration", r.format.DurationOf(r.buf.Len())))
	r.buf.Reset()

	return filename, nil
}
