package audio

import (
	"errors"
	"fmt"
	"sync"

	"layeh.com/gopus"
)

// maxOpusPacketBytes bounds one encoded 20 ms packet.
const maxOpusPacketBytes = 4000

// OpusDecoder decodes Discord Opus packets to 48 kHz stereo PCM. Opus keeps
// per-stream state, so use one decoder per speaker (SSRC).
type OpusDecoder struct {
	dec *gopus.Decoder
}

// NewOpusDecoder creates a decoder for Discord's voice format.
func NewOpusDecoder() (*OpusDecoder, error) {
	dec, err := gopus.NewDecoder(DiscordSampleRate, DiscordChannels)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus decoder: %w", err)
	}

	return &OpusDecoder{dec: dec}, nil
}

// Decode returns interleaved little-endian PCM for one packet.
func (d *OpusDecoder) Decode(packet []byte) ([]byte, error) {
	if len(packet) == 0 {
		return nil, errors.New("opus payload empty")
	}

	pcm, err := d.dec.Decode(packet, DiscordFrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("opus decode: %w", err)
	}

	return PCMInt16ToLE(pcm), nil
}

// OpusEncoder encodes 20 ms frames of 48 kHz stereo PCM for Discord.
type OpusEncoder struct {
	mu  sync.Mutex
	enc *gopus.Encoder
}

// NewOpusEncoder creates an encoder tuned for speech at the given bitrate.
func NewOpusEncoder(bitrate int) (*OpusEncoder, error) {
	enc, err := gopus.NewEncoder(DiscordSampleRate, DiscordChannels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus encoder: %w", err)
	}
	if bitrate > 0 {
		enc.SetBitrate(bitrate)
	}

	return &OpusEncoder{enc: enc}, nil
}

// Encode encodes exactly one DiscordFrameBytes frame.
func (e *OpusEncoder) Encode(pcm []byte) ([]byte, error) {
	if len(pcm) != DiscordFrameBytes {
		return nil, &FormatError{Format: DiscordFormat, Reason: fmt.Sprintf("need %d bytes per opus frame, got %d", DiscordFrameBytes, len(pcm))}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	packet, err := e.enc.Encode(LEToPCMInt16(pcm), DiscordFrameSize, maxOpusPacketBytes)
	if err != nil {
		return nil, fmt.Errorf("opus encode: %w", err)
	}

	return packet, nil
}
