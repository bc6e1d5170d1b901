// Package test holds testify mocks shared by package tests.
package test

import (
	"context"

	"github.com/diamondburned/arikawa/v3/discord"
	"github.com/diamondburned/arikawa/v3/gateway"
	"github.com/diamondburned/arikawa/v3/session"
	"github.com/stretchr/testify/mock"
)

// MockCommand is a mock of commands.Command.
type MockCommand struct {
	mock.Mock
}

// NewMockCommand creates a MockCommand whose expectations are asserted when
// the test ends.
func NewMockCommand(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockCommand {
	m := &MockCommand{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

func (m *MockCommand) Name() string {
	ret := m.Called()

	return ret.String(0)
}

func (m *MockCommand) Description() string {
	ret := m.Called()

	return ret.String(0)
}

func (m *MockCommand) Options() []discord.CommandOption {
	ret := m.Called()

	if opts, ok := ret.Get(0).([]discord.CommandOption); ok {
		return opts
	}

	return nil
}

func (m *MockCommand) Execute(ctx context.Context, s *session.Session, e *gateway.InteractionCreateEvent, data *discord.CommandInteraction) error {
	ret := m.Called(ctx, s, e, data)

	return ret.Error(0)
}
