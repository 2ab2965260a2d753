package discord

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"

	"github.com/ent0n29/vcrooms/internal/privatevc"
)

const (
	interactionTimeout = 10 * time.Second

	replyNotManaged = "This channel is not a private voice channel."
	replyFailed     = "Something went wrong, please try again later."
)

var errNotControl = errors.New("not a control panel interaction")

// inputError carries text meant for the invoking member.
type inputError string

func (e inputError) Error() string { return string(e) }

const errBadLimit inputError = "Input could not be parsed as a number between 0 and 99."

// roleLookup returns the roles of a guild member when the interaction
// payload did not resolve them.
type roleLookup func(userID string) []string

func (g *Gateway) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Interaction == nil || i.GuildID != g.guildID {
		return
	}
	lc := g.current()
	if lc == nil {
		return
	}

	// The size button answers with a modal, which has to be the first
	// response to the interaction.
	if i.Type == discordgo.InteractionMessageComponent && i.MessageComponentData().CustomID == privatevc.ControlSize {
		if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseModal,
			Data: sizeModal(),
		}); err != nil {
			g.log.Warn().Err(err).Msg("could not open user limit modal")
		}
		return
	}

	in, err := buildInteraction(i, g.memberRoles)
	if err != nil {
		if errors.Is(err, errNotControl) {
			return
		}
		g.respond(i, err.Error())
		return
	}

	// Handlers run on the gateway's event loop; the manager may take longer
	// than that loop should block.
	go g.dispatch(lc, i, in)
}

func (g *Gateway) dispatch(lc Lifecycle, i *discordgo.InteractionCreate, in privatevc.Interaction) {
	if err := g.session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	}); err != nil {
		g.log.Warn().Err(err).Str("interaction_id", in.ID).Msg("could not defer interaction")
		return
	}

	ctx, cancel := context.WithTimeout(g.ctx, interactionTimeout)
	defer cancel()

	reply, err := lc.Interact(ctx, in)
	content := reply.Content
	switch {
	case errors.Is(err, privatevc.ErrNotManaged):
		content = replyNotManaged
	case err != nil:
		g.log.Error().Err(err).Str("interaction_id", in.ID).Str("channel_id", in.ChannelID).Msg("interaction failed")
		content = replyFailed
	}

	if _, err := g.session.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{
		Content:         &content,
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}); err != nil {
		g.log.Warn().Err(err).Str("interaction_id", in.ID).Msg("could not send interaction reply")
	}
}

func (g *Gateway) respond(i *discordgo.InteractionCreate, content string) {
	err := g.session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content:         content,
			Flags:           discordgo.MessageFlagsEphemeral,
			AllowedMentions: &discordgo.MessageAllowedMentions{},
		},
	})
	if err != nil {
		g.log.Warn().Err(err).Msg("could not respond to interaction")
	}
}

// buildInteraction translates a component or modal submission into a
// manager command. Input errors are returned with user-facing text.
func buildInteraction(i *discordgo.InteractionCreate, roles roleLookup) (privatevc.Interaction, error) {
	in := privatevc.Interaction{
		ID:        uuid.NewString(),
		ChannelID: i.ChannelID,
	}
	if i.Message != nil {
		in.MessageID = i.Message.ID
	}
	if i.Member == nil || i.Member.User == nil {
		return in, errNotControl
	}
	in.Invoker = privatevc.Member{ID: i.Member.User.ID, Roles: append([]string(nil), i.Member.Roles...)}

	switch i.Type {
	case discordgo.InteractionMessageComponent:
		data := i.MessageComponentData()
		kind, ok := privatevc.ParseInteractionKind(data.CustomID)
		if !ok || kind == privatevc.InteractSize {
			return in, errNotControl
		}
		in.Kind = kind
		for _, id := range data.Values {
			if _, isRole := data.Resolved.Roles[id]; isRole {
				in.Roles = append(in.Roles, id)
				continue
			}
			in.Users = append(in.Users, privatevc.Member{ID: id, Roles: resolvedRoles(data.Resolved, id, roles)})
		}
		return in, nil

	case discordgo.InteractionModalSubmit:
		data := i.ModalSubmitData()
		if data.CustomID != sizeModalID {
			return in, errNotControl
		}
		in.Kind = privatevc.InteractSize
		limit, err := strconv.Atoi(strings.TrimSpace(textInputValue(data.Components, sizeInputID)))
		if err != nil {
			return in, errBadLimit
		}
		in.UserLimit = limit
		return in, nil
	}
	return in, errNotControl
}

func resolvedRoles(resolved discordgo.MessageComponentInteractionDataResolved, userID string, lookup roleLookup) []string {
	if member, ok := resolved.Members[userID]; ok && member != nil {
		return append([]string(nil), member.Roles...)
	}
	if lookup == nil {
		return nil
	}
	return lookup(userID)
}

func textInputValue(components []discordgo.MessageComponent, customID string) string {
	for _, c := range components {
		var row []discordgo.MessageComponent
		switch r := c.(type) {
		case *discordgo.ActionsRow:
			row = r.Components
		case discordgo.ActionsRow:
			row = r.Components
		}
		for _, inner := range row {
			switch input := inner.(type) {
			case *discordgo.TextInput:
				if input.CustomID == customID {
					return input.Value
				}
			case discordgo.TextInput:
				if input.CustomID == customID {
					return input.Value
				}
			}
		}
	}
	return ""
}
