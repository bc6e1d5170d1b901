package commands

import (
	"sync"

	"github.com/diamondburned/arikawa/v3/discord"

	"github.com/Raikerian/discord-voice-bridge/internal/bridge"
)

// NoticeChannels remembers which text channel asked for each voice session
// so session notices go back there.
type NoticeChannels struct {
	mu       sync.Mutex
	channels map[string]discord.ChannelID
}

func NewNoticeChannels() *NoticeChannels {
	return &NoticeChannels{channels: make(map[string]discord.ChannelID)}
}

// Set records the text channel of a session.
func (n *NoticeChannels) Set(h bridge.Handle, channelID discord.ChannelID) {
	if !channelID.IsValid() {
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	n.channels[h.ID] = channelID
}

// Take returns and forgets the text channel of a session. Sessions started
// without a command report in the voice channel's own chat.
func (n *NoticeChannels) Take(h bridge.Handle) discord.ChannelID {
	n.mu.Lock()
	defer n.mu.Unlock()

	ch, ok := n.channels[h.ID]
	if !ok {
		return h.Channel.ChannelID
	}
	delete(n.channels, h.ID)

	return ch
}
