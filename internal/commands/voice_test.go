package commands

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/diamondburned/arikawa/v3/api"
	"github.com/diamondburned/arikawa/v3/discord"
	"github.com/diamondburned/arikawa/v3/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Raikerian/discord-voice-bridge/internal/bridge"
	"github.com/Raikerian/discord-voice-bridge/pkg/test"
)

const (
	guildID     discord.GuildID   = 10
	voiceChanID discord.ChannelID = 20
	textChanID  discord.ChannelID = 30
	memberID    discord.UserID    = 40
)

var testHandle = bridge.Handle{
	ID:      "session-1",
	Channel: bridge.ChannelRef{GuildID: guildID, ChannelID: voiceChanID},
}

type fakeFinder struct {
	states map[discord.UserID]discord.ChannelID
}

func (f fakeFinder) VoiceState(_ discord.GuildID, userID discord.UserID) (*discord.VoiceState, error) {
	ch, ok := f.states[userID]
	if !ok {
		return nil, errors.New("voice state not found")
	}

	return &discord.VoiceState{UserID: userID, ChannelID: ch}, nil
}

func newTestVoiceCommand(t *testing.T, b Bridge) (*VoiceCommand, *NoticeChannels) {
	t.Helper()

	notices := NewNoticeChannels()
	finder := fakeFinder{states: map[discord.UserID]discord.ChannelID{memberID: voiceChanID}}

	return newVoiceCommand(zaptest.NewLogger(t), b, finder, notices), notices
}

func subcommand(t *testing.T, name string, args map[string]string) discord.CommandInteractionOption {
	t.Helper()

	opt := discord.CommandInteractionOption{Name: name, Type: discord.SubcommandOptionType}
	for k, v := range args {
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		opt.Options = append(opt.Options, discord.CommandInteractionOption{
			Name:  k,
			Type:  discord.StringOptionType,
			Value: raw,
		})
	}

	return opt
}

func TestVoiceCommand_Join(t *testing.T) {
	t.Run("starts a session in the member's channel", func(t *testing.T) {
		b := test.NewMockBridge(t)
		cmd, notices := newTestVoiceCommand(t, b)

		b.On("Start", mock.Anything, testHandle.Channel).Return(testHandle, nil).Once()

		r := cmd.join(context.Background(), guildID, textChanID, memberID)
		assert.False(t, r.ephemeral)
		assert.Contains(t, r.content, voiceChanID.Mention())
		assert.Equal(t, textChanID, notices.Take(testHandle))
	})

	t.Run("member not in voice", func(t *testing.T) {
		b := test.NewMockBridge(t)
		cmd, _ := newTestVoiceCommand(t, b)

		r := cmd.join(context.Background(), guildID, textChanID, 99)
		assert.True(t, r.ephemeral)
		assert.Contains(t, r.content, "Join a voice channel first")
	})

	failures := map[string]struct {
		err  error
		want string
	}{
		"guild busy":       {err: bridge.ErrGuildBusy, want: "already in another voice channel"},
		"at capacity":      {err: bridge.ErrMaxSessionsReached, want: "Too many voice sessions"},
		"AI unreachable":   {err: &bridge.SessionError{Kind: bridge.ErrConnectionLost, Err: errors.New("401")}, want: "AI service"},
		"voice join fails": {err: &bridge.SessionError{Kind: bridge.ErrTransportFault, Err: errors.New("denied")}, want: "join your voice channel"},
	}

	for name, tt := range failures {
		t.Run(name, func(t *testing.T) {
			b := test.NewMockBridge(t)
			cmd, _ := newTestVoiceCommand(t, b)

			b.On("Start", mock.Anything, testHandle.Channel).Return(bridge.Handle{}, tt.err).Once()

			r := cmd.join(context.Background(), guildID, textChanID, memberID)
			assert.True(t, r.ephemeral)
			assert.Contains(t, r.content, tt.want)
		})
	}
}

func TestVoiceCommand_RequiresSession(t *testing.T) {
	for _, name := range []string{voiceLeave, voiceInterrupt, voiceStatus, voiceSay} {
		t.Run(name, func(t *testing.T) {
			b := test.NewMockBridge(t)
			cmd, _ := newTestVoiceCommand(t, b)

			b.On("Lookup", guildID).Return(bridge.Handle{}, false).Once()

			r := cmd.run(context.Background(), guildID, subcommand(t, name, map[string]string{"text": "hi"}))
			assert.True(t, r.ephemeral)
			assert.Contains(t, r.content, "/voice join")
		})
	}
}

func TestVoiceCommand_Run(t *testing.T) {
	tests := map[string]struct {
		sub   string
		args  map[string]string
		setup func(b *test.MockBridge)
		want  string
	}{
		"leave": {
			sub:   voiceLeave,
			setup: func(b *test.MockBridge) { b.On("Stop", mock.Anything, testHandle).Return(nil).Once() },
			want:  "Left",
		},
		"interrupt": {
			sub:   voiceInterrupt,
			setup: func(b *test.MockBridge) { b.On("Interrupt", mock.Anything, testHandle).Return(nil).Once() },
			want:  "Stopped the assistant",
		},
		"say": {
			sub:  voiceSay,
			args: map[string]string{"text": "  what time is it?  "},
			setup: func(b *test.MockBridge) {
				b.On("SendText", mock.Anything, testHandle, "what time is it?").Return(nil).Once()
			},
			want: "what time is it?",
		},
		"say nothing": {
			sub:  voiceSay,
			args: map[string]string{"text": "   "},
			want: "Nothing to say",
		},
		"session ended meanwhile": {
			sub: voiceInterrupt,
			setup: func(b *test.MockBridge) {
				b.On("Interrupt", mock.Anything, testHandle).Return(bridge.ErrSessionClosed).Once()
			},
			want: "already ended",
		},
		"status": {
			sub: voiceStatus,
			setup: func(b *test.MockBridge) {
				b.On("Info", testHandle).Return(bridge.SessionInfo{
					Handle:       testHandle,
					State:        bridge.StateActive,
					Provider:     "gemini",
					StartedAt:    time.Now().Add(-time.Minute),
					Participants: []bridge.ParticipantID{"40"},
					Pending:      300 * time.Millisecond,
				}, nil).Once()
			},
			want: "`gemini`",
		},
		"unknown": {
			sub:  "dance",
			want: "Unknown action",
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			b := test.NewMockBridge(t)
			cmd, _ := newTestVoiceCommand(t, b)

			b.On("Lookup", guildID).Return(testHandle, true).Once()
			if tt.setup != nil {
				tt.setup(b)
			}

			r := cmd.run(context.Background(), guildID, subcommand(t, tt.sub, tt.args))
			assert.Contains(t, r.content, tt.want)
		})
	}
}

func TestFormatStatus(t *testing.T) {
	text := formatStatus(bridge.SessionInfo{
		Handle:       testHandle,
		State:        bridge.StateDraining,
		Provider:     "openai",
		StartedAt:    time.Now().Add(-90 * time.Second),
		Participants: []bridge.ParticipantID{"40", "41"},
	})

	assert.Contains(t, text, voiceChanID.Mention())
	assert.Contains(t, text, "draining")
	assert.Contains(t, text, "<@40>, <@41>")
	assert.NotContains(t, text, "Queued")
	assert.Contains(t, text, "Version: "+AppVersion)
}

func TestNoticeChannels(t *testing.T) {
	n := NewNoticeChannels()

	assert.Equal(t, voiceChanID, n.Take(testHandle))

	n.Set(testHandle, textChanID)
	assert.Equal(t, textChanID, n.Take(testHandle))
	assert.Equal(t, voiceChanID, n.Take(testHandle))

	n.Set(testHandle, 0)
	assert.Equal(t, voiceChanID, n.Take(testHandle))
}

type fakeResponder struct {
	mu      sync.Mutex
	calls   []string
	editErr error
}

func (f *fakeResponder) RespondInteraction(_ discord.InteractionID, _ string, resp api.InteractionResponse) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	call := "respond"
	if resp.Type == api.DeferredMessageInteractionWithSource {
		call = "defer"
	} else if resp.Data != nil {
		call += ": " + resp.Data.Content.Val
	}
	f.calls = append(f.calls, call)

	return nil
}

func (f *fakeResponder) EditInteractionResponse(_ discord.AppID, _ string, data api.EditInteractionResponseData) (*discord.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, "edit: "+data.Content.Val)

	return &discord.Message{}, f.editErr
}

func (f *fakeResponder) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.calls...)
}

func voiceInteraction(sub discord.CommandInteractionOption) (*gateway.InteractionCreateEvent, *discord.CommandInteraction) {
	e := &gateway.InteractionCreateEvent{
		InteractionEvent: discord.InteractionEvent{
			ID:        1,
			AppID:     2,
			Token:     "token",
			GuildID:   guildID,
			ChannelID: textChanID,
			Member:    &discord.Member{User: discord.User{ID: memberID}},
		},
	}

	return e, &discord.CommandInteraction{Name: "voice", Options: []discord.CommandInteractionOption{sub}}
}

func TestVoiceCommand_LeaveAcknowledgesBeforeDraining(t *testing.T) {
	b := test.NewMockBridge(t)
	cmd, _ := newTestVoiceCommand(t, b)
	r := &fakeResponder{}

	b.On("Lookup", guildID).Return(testHandle, true).Once()
	b.On("Stop", mock.Anything, testHandle).Return(nil).Once().
		Run(func(mock.Arguments) {
			assert.Equal(t, []string{"defer"}, r.snapshot(), "drain started before the interaction was acknowledged")
		})

	e, data := voiceInteraction(subcommand(t, voiceLeave, nil))
	require.NoError(t, cmd.execute(context.Background(), r, e, data))

	calls := r.snapshot()
	require.Len(t, calls, 2)
	assert.Contains(t, calls[1], "Left")
}

func TestVoiceCommand_Execute(t *testing.T) {
	tests := map[string]struct {
		sub       string
		setup     func(b *test.MockBridge)
		wantFirst string
	}{
		"join is deferred": {
			sub: voiceJoin,
			setup: func(b *test.MockBridge) {
				b.On("Start", mock.Anything, testHandle.Channel).Return(testHandle, nil).Once()
			},
			wantFirst: "defer",
		},
		"interrupt answers at once": {
			sub: voiceInterrupt,
			setup: func(b *test.MockBridge) {
				b.On("Lookup", guildID).Return(testHandle, true).Once()
				b.On("Interrupt", mock.Anything, testHandle).Return(nil).Once()
			},
			wantFirst: "respond: ✋ Stopped the assistant",
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			b := test.NewMockBridge(t)
			cmd, _ := newTestVoiceCommand(t, b)
			tt.setup(b)
			r := &fakeResponder{}

			e, data := voiceInteraction(subcommand(t, tt.sub, nil))
			require.NoError(t, cmd.execute(context.Background(), r, e, data))

			calls := r.snapshot()
			require.NotEmpty(t, calls)
			assert.Equal(t, tt.wantFirst, calls[0])
		})
	}
}

func TestVoiceCommand_FailedEditIsAcknowledged(t *testing.T) {
	b := test.NewMockBridge(t)
	cmd, _ := newTestVoiceCommand(t, b)
	editErr := errors.New("unknown webhook")
	r := &fakeResponder{editErr: editErr}

	b.On("Start", mock.Anything, testHandle.Channel).Return(testHandle, nil).Once()

	e, data := voiceInteraction(subcommand(t, voiceJoin, nil))
	err := cmd.execute(context.Background(), r, e, data)

	require.ErrorIs(t, err, editErr)
	assert.True(t, Acknowledged(err))
	assert.False(t, Acknowledged(editErr))
}
