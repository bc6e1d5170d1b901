package voice

import (
	"context"

	"github.com/diamondburned/arikawa/v3/voice"
	"github.com/diamondburned/arikawa/v3/voice/udp"
)

// AudioPacket is one received RTP voice packet.
type AudioPacket struct {
	SSRC      uint32
	Sequence  uint16
	Timestamp uint32
	Opus      []byte
}

func newAudioPacket(packet *udp.Packet) *AudioPacket {
	return &AudioPacket{
		SSRC:      packet.SSRC(),
		Sequence:  packet.Sequence(),
		Timestamp: packet.Timestamp(),
		Opus:      packet.Opus,
	}
}

// packetConn is the slice of a voice connection a Link needs.
type packetConn interface {
	ReadPacket() (*AudioPacket, error)
	Write(opus []byte) (int, error)
	Leave(ctx context.Context) error
}

// sessionConn adapts an arikawa voice session to packetConn.
type sessionConn struct {
	vs *voice.Session
}

func (c sessionConn) ReadPacket() (*AudioPacket, error) {
	packet, err := c.vs.ReadPacket()
	if err != nil {
		return nil, err
	}

	return newAudioPacket(packet), nil
}

func (c sessionConn) Write(opus []byte) (int, error) { return c.vs.Write(opus) }

func (c sessionConn) Leave(ctx context.Context) error { return c.vs.Leave(ctx) }
