package voice

import (
	"context"
	"fmt"
	"sync"

	"github.com/diamondburned/arikawa/v3/discord"
	"github.com/diamondburned/arikawa/v3/session"
	"github.com/diamondburned/arikawa/v3/state"
	"github.com/diamondburned/arikawa/v3/voice"
	"github.com/diamondburned/arikawa/v3/voice/voicegateway"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Raikerian/discord-voice-bridge/internal/bridge"
	"github.com/Raikerian/discord-voice-bridge/internal/config"
	"github.com/Raikerian/discord-voice-bridge/pkg/audio"
)

// Transport joins Discord voice channels through arikawa.
type Transport struct {
	logger  *zap.Logger
	session *session.Session
	state   *state.State
	bitrate int

	mu    sync.Mutex
	links map[bridge.ChannelRef]*Link
}

// TransportParams holds dependencies for NewTransport.
type TransportParams struct {
	fx.In
	Logger  *zap.Logger
	Config  *config.Config
	Session *session.Session
	State   *state.State
}

func NewTransport(params TransportParams) *Transport {
	return &Transport{
		logger:  params.Logger.Named("voice"),
		session: params.Session,
		state:   params.State,
		bitrate: params.Config.Bridge.OpusBitrate,
		links:   make(map[bridge.ChannelRef]*Link),
	}
}

// Connect joins the voice channel and starts delivering decoded capture
// audio to sink.
func (t *Transport) Connect(ctx context.Context, ch bridge.ChannelRef, sink bridge.CaptureSink) (bridge.VoiceLink, error) {
	channel, err := t.state.Channel(ch.ChannelID)
	if err != nil {
		return nil, fmt.Errorf("failed to get channel info: %w", err)
	}
	if channel.Type != discord.GuildVoice && channel.Type != discord.GuildStageVoice {
		return nil, fmt.Errorf("channel %s is not a voice channel", ch.ChannelID)
	}

	me, err := t.state.Me()
	if err != nil {
		return nil, fmt.Errorf("failed to get bot user: %w", err)
	}

	enc, err := audio.NewOpusEncoder(t.bitrate)
	if err != nil {
		return nil, err
	}

	vs, err := voice.NewSession(t.session)
	if err != nil {
		return nil, fmt.Errorf("failed to create voice session: %w", err)
	}

	logger := t.logger.With(
		zap.String("guild_id", ch.GuildID.String()),
		zap.String("channel_id", ch.ChannelID.String()))
	link := newLink(logger, sessionConn{vs: vs}, sink, enc, me.ID)

	// Speaking events carry the SSRC of each user; register before joining
	// so none are missed.
	rm := vs.AddHandler(func(e *voicegateway.SpeakingEvent) {
		link.speaking(e.UserID, e.SSRC)
	})

	if err := vs.JoinChannel(ctx, ch.ChannelID, false, false); err != nil {
		rm()
		return nil, fmt.Errorf("failed to join voice channel: %w", err)
	}

	if err := vs.Speaking(ctx, voicegateway.Microphone); err != nil {
		rm()
		_ = vs.Leave(context.Background())
		return nil, fmt.Errorf("failed to set speaking mode: %w", err)
	}

	// arikawa completes the UDP handshake on the first write; nothing is
	// received before it.
	_, _ = vs.Write(nil)

	t.mu.Lock()
	t.links[ch] = link
	t.mu.Unlock()

	go link.receive()
	go func() {
		<-link.Done()
		rm()

		t.mu.Lock()
		if t.links[ch] == link {
			delete(t.links, ch)
		}
		t.mu.Unlock()
	}()

	logger.Info("Joined voice channel")

	return link, nil
}

// Forget drops the decoding state of a user who left the channel.
func (t *Transport) Forget(ch bridge.ChannelRef, userID discord.UserID) {
	t.mu.Lock()
	link, ok := t.links[ch]
	t.mu.Unlock()

	if ok {
		link.forget(userID)
	}
}
