package test

import (
	"context"

	"github.com/diamondburned/arikawa/v3/discord"
	"github.com/stretchr/testify/mock"

	"github.com/Raikerian/discord-voice-bridge/internal/bridge"
)

// MockBridge is a mock of the bridge.Controller surface used by the bot and
// its commands.
type MockBridge struct {
	mock.Mock
}

// NewMockBridge creates a MockBridge whose expectations are asserted when the
// test ends.
func NewMockBridge(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockBridge {
	m := &MockBridge{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

func (m *MockBridge) Start(ctx context.Context, ch bridge.ChannelRef) (bridge.Handle, error) {
	ret := m.Called(ctx, ch)

	return ret.Get(0).(bridge.Handle), ret.Error(1)
}

func (m *MockBridge) Stop(ctx context.Context, h bridge.Handle) error {
	return m.Called(ctx, h).Error(0)
}

func (m *MockBridge) Interrupt(ctx context.Context, h bridge.Handle) error {
	return m.Called(ctx, h).Error(0)
}

func (m *MockBridge) SendText(ctx context.Context, h bridge.Handle, text string) error {
	return m.Called(ctx, h, text).Error(0)
}

func (m *MockBridge) RemoveParticipant(h bridge.Handle, id bridge.ParticipantID) bool {
	return m.Called(h, id).Bool(0)
}

func (m *MockBridge) Lookup(guildID discord.GuildID) (bridge.Handle, bool) {
	ret := m.Called(guildID)

	return ret.Get(0).(bridge.Handle), ret.Bool(1)
}

func (m *MockBridge) Info(h bridge.Handle) (bridge.SessionInfo, error) {
	ret := m.Called(h)

	return ret.Get(0).(bridge.SessionInfo), ret.Error(1)
}
