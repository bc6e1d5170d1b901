package bridge

import (
	"bytes"
	"errors"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Raikerian/discord-voice-bridge/pkg/audio"
)

type failingCloser struct {
	bytes.Buffer
	err error
}

func (f *failingCloser) Close() error { return f.err }

func TestRecorder_Save(t *testing.T) {
	t.Run("disabled without a directory", func(t *testing.T) {
		r := newRecorder(zaptest.NewLogger(t), "", "x", audio.Mono16k)
		r.write(captureFrame(1))

		path, err := r.save()
		require.NoError(t, err)
		assert.Empty(t, path)
	})

	t.Run("nothing recorded", func(t *testing.T) {
		r := newRecorder(zaptest.NewLogger(t), t.TempDir(), "x", audio.Mono16k)

		path, err := r.save()
		require.NoError(t, err)
		assert.Empty(t, path)
	})

	t.Run("writes a wav file", func(t *testing.T) {
		r := newRecorder(zaptest.NewLogger(t), t.TempDir(), "inbound", audio.Mono16k)
		pcm := audio.Silence(audio.Mono16k.BytesFor(audio.FrameDuration))
		r.write(pcm)

		path, err := r.save()
		require.NoError(t, err)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "RIFF", string(data[:4]))
		assert.Len(t, data, 44+len(pcm))
	})

	t.Run("reports a failed close", func(t *testing.T) {
		r := newRecorder(zaptest.NewLogger(t), t.TempDir(), "inbound", audio.Mono16k)
		closeErr := errors.New("disk full")
		out := &failingCloser{err: closeErr}
		r.create = func(string) (io.WriteCloser, error) { return out, nil }
		r.write(audio.Silence(audio.Mono16k.BytesFor(audio.FrameDuration)))

		path, err := r.save()
		require.ErrorIs(t, err, closeErr)
		assert.Empty(t, path)
		assert.NotZero(t, out.Len())
	})
}
