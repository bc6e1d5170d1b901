package commands

import (
	"errors"

	"github.com/diamondburned/arikawa/v3/api"
	"github.com/diamondburned/arikawa/v3/discord"
	"github.com/diamondburned/arikawa/v3/gateway"
	"github.com/diamondburned/arikawa/v3/utils/json/option"
)

// Responder answers interactions. *session.Session implements it.
type Responder interface {
	RespondInteraction(id discord.InteractionID, token string, resp api.InteractionResponse) error
	EditInteractionResponse(appID discord.AppID, token string, data api.EditInteractionResponseData) (*discord.Message, error)
}

// AcknowledgedError is a failure that happened after the interaction was
// answered. Further replies must edit that response.
type AcknowledgedError struct {
	Err error
}

func (e *AcknowledgedError) Error() string {
	return e.Err.Error()
}

func (e *AcknowledgedError) Unwrap() error {
	return e.Err
}

// Acknowledged reports whether err happened after the interaction was answered.
func Acknowledged(err error) bool {
	var ack *AcknowledgedError

	return errors.As(err, &ack)
}

type reply struct {
	content   string
	ephemeral bool
}

func errorReply(msg string) reply {
	return reply{content: "❌ " + msg, ephemeral: true}
}

func respond(r Responder, e *gateway.InteractionCreateEvent, rep reply) error {
	data := &api.InteractionResponseData{
		Content: option.NewNullableString(rep.content),
	}
	if rep.ephemeral {
		data.Flags = discord.EphemeralMessage
	}

	return r.RespondInteraction(e.ID, e.Token, api.InteractionResponse{
		Type: api.MessageInteractionWithSource,
		Data: data,
	})
}

// respondLater acknowledges e right away, runs work and then edits the
// response with its reply. Work may outlast the interaction deadline.
func respondLater(r Responder, e *gateway.InteractionCreateEvent, work func() reply) error {
	if err := r.RespondInteraction(e.ID, e.Token, api.InteractionResponse{
		Type: api.DeferredMessageInteractionWithSource,
	}); err != nil {
		return err
	}

	rep := work()
	if _, err := r.EditInteractionResponse(e.AppID, e.Token, api.EditInteractionResponseData{
		Content: option.NewNullableString(rep.content),
	}); err != nil {
		return &AcknowledgedError{Err: err}
	}

	return nil
}
