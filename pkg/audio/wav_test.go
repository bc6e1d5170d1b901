package audio_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Raikerian/discord-voice-bridge/pkg/audio"
)

func TestWriteWAV(t *testing.T) {
	pcm := audio.PCMInt16ToLE([]int16{1, 2, 3, 4})

	var buf bytes.Buffer
	require.NoError(t, audio.WriteWAV(&buf, audio.Mono16k, pcm))

	out := buf.Bytes()
	require.Len(t, out, 44+len(pcm))
	assert.Equal(t, "RIFF", string(out[0:4]))
	assert.Equal(t, "WAVE", string(out[8:12]))
	assert.Equal(t, uint32(36+len(pcm)), binary.LittleEndian.Uint32(out[4:8]))
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(out[22:24]))
	assert.Equal(t, uint32(16_000), binary.LittleEndian.Uint32(out[24:28]))
	assert.Equal(t, uint32(32_000), binary.LittleEndian.Uint32(out[28:32]))
	assert.Equal(t, "data", string(out[36:40]))
	assert.Equal(t, pcm, out[44:])
}

func TestWriteWAV_RejectsInvalidFormat(t *testing.T) {
	var buf bytes.Buffer
	err := audio.WriteWAV(&buf, audio.Format{SampleRate: 11_025, Channels: 1}, nil)
	assert.ErrorIs(t, err, audio.ErrInvalidFormat)
	assert.Zero(t, buf.Len())
}
