// Package bridge moves audio between a Discord voice channel and a realtime
// AI conversation. A Controller owns at most one Session per voice channel;
// each Session couples an Inbound bridge (voice to AI) with an Outbound
// bridge (AI to voice) around one realtime.Conn and one VoiceLink.
package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/diamondburned/arikawa/v3/discord"
)

// ChannelRef identifies a voice channel.
type ChannelRef struct {
	GuildID   discord.GuildID
	ChannelID discord.ChannelID
}

func (r ChannelRef) String() string {
	return fmt.Sprintf("%s/%s", r.GuildID, r.ChannelID)
}

// ParticipantID identifies a speaker within a channel.
type ParticipantID string

// UserParticipant returns the ParticipantID for a Discord user.
func UserParticipant(id discord.UserID) ParticipantID {
	return ParticipantID(id.String())
}

// Handle refers to one session. A new session on the same channel gets a new
// ID, so a stale handle never reaches it.
type Handle struct {
	ID      string
	Channel ChannelRef
}

// State is the lifecycle state of a Session.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateActive
	StateDraining
	StateClosed
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// SessionInfo is a read-only snapshot of a session.
type SessionInfo struct {
	Handle       Handle
	State        State
	Provider     string
	StartedAt    time.Time
	Participants []ParticipantID
	// Pending is queued playback audio.
	Pending time.Duration
}

// CaptureSink receives decoded capture audio from the voice transport:
// 20 ms of 48 kHz stereo PCM per call.
type CaptureSink interface {
	OnCaptureFrame(id ParticipantID, pcm []byte)
}

// PlaybackSink accepts one 20 ms 48 kHz stereo frame per pacer tick. silent
// marks frames that carry no AI audio.
type PlaybackSink interface {
	WriteFrame(ctx context.Context, frame []byte, silent bool) error
}

// VoiceLink is a joined voice channel.
type VoiceLink interface {
	PlaybackSink
	// Done is closed when the link fails or is closed.
	Done() <-chan struct{}
	// Err returns the failure that closed Done, or nil after Close.
	Err() error
	// Close leaves the voice channel.
	Close(ctx context.Context) error
}

// Transport joins voice channels and delivers capture audio to sink.
type Transport interface {
	Connect(ctx context.Context, ch ChannelRef, sink CaptureSink) (VoiceLink, error)
}

// AudioSender is the write side of the AI connection used by Inbound.
type AudioSender interface {
	SendAudio(ctx context.Context, pcm []byte) error
}
