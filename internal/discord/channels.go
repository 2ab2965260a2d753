package discord

import (
	"context"
	"errors"
	"net/http"

	"github.com/bwmarrin/discordgo"

	"github.com/ent0n29/vcrooms/internal/privatevc"
	"github.com/ent0n29/vcrooms/internal/reliability"
)

func (g *Gateway) CreateChannel(ctx context.Context, req privatevc.CreateChannelRequest) (string, error) {
	channel, err := g.session.GuildChannelCreateComplex(req.GuildID, discordgo.GuildChannelCreateData{
		Name:                 req.Name,
		Type:                 discordgo.ChannelTypeGuildVoice,
		UserLimit:            req.UserLimit,
		Position:             req.Position,
		ParentID:             req.ParentID,
		PermissionOverwrites: toDiscordOverwrites(req.Overwrites),
	}, discordgo.WithContext(ctx), discordgo.WithAuditLogReason(req.Reason))
	if err != nil {
		return "", mapError(err)
	}
	return channel.ID, nil
}

func (g *Gateway) EditPermissions(ctx context.Context, channelID string, overwrites []privatevc.Overwrite) error {
	_, err := g.session.ChannelEdit(channelID, &discordgo.ChannelEdit{
		PermissionOverwrites: toDiscordOverwrites(overwrites),
	}, discordgo.WithContext(ctx))
	return mapError(err)
}

// EditUserLimit patches user_limit directly because ChannelEdit omits a
// zero limit, which is how "unlimited" is expressed.
func (g *Gateway) EditUserLimit(ctx context.Context, channelID string, limit int) error {
	endpoint := discordgo.EndpointChannel(channelID)
	_, err := g.session.RequestWithBucketID(http.MethodPatch, endpoint, map[string]int{"user_limit": limit}, endpoint, discordgo.WithContext(ctx))
	return mapError(err)
}

func (g *Gateway) DeleteChannel(ctx context.Context, channelID, reason string) error {
	_, err := g.session.ChannelDelete(channelID, discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason))
	return mapError(err)
}

func (g *Gateway) MoveMember(ctx context.Context, guildID, userID, channelID string) error {
	return mapError(g.session.GuildMemberMove(guildID, userID, &channelID, discordgo.WithContext(ctx)))
}

func (g *Gateway) DisconnectMember(ctx context.Context, guildID, userID string) error {
	return mapError(g.session.GuildMemberMove(guildID, userID, nil, discordgo.WithContext(ctx)))
}

func (g *Gateway) SendMessage(ctx context.Context, channelID string, msg privatevc.ControlMessage) (string, error) {
	sent, err := g.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content:         msg.Content,
		Components:      controlComponents(),
		AllowedMentions: allowedMentions(msg.MentionUsers),
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", mapError(err)
	}
	return sent.ID, nil
}

func (g *Gateway) EditMessage(ctx context.Context, channelID, messageID string, msg privatevc.ControlMessage) error {
	components := controlComponents()
	edit := discordgo.NewMessageEdit(channelID, messageID).SetContent(msg.Content)
	edit.Components = &components
	edit.AllowedMentions = allowedMentions(msg.MentionUsers)
	_, err := g.session.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx))
	return mapError(err)
}

func allowedMentions(users []string) *discordgo.MessageAllowedMentions {
	return &discordgo.MessageAllowedMentions{Users: append([]string(nil), users...)}
}

// mapError turns "unknown channel" responses into privatevc.ErrChannelGone
// and marks rate limits and server errors as transient.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) {
		if restErr.Message != nil && restErr.Message.Code == discordgo.ErrCodeUnknownChannel {
			return errors.Join(privatevc.ErrChannelGone, err)
		}
		if restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound && restErr.Message == nil {
			return errors.Join(privatevc.ErrChannelGone, err)
		}
		if restErr.Response != nil && reliability.IsRetryableHTTPStatus(restErr.Response.StatusCode) {
			return reliability.MarkTransient(err)
		}
	}
	return err
}

func toDiscordOverwrites(in []privatevc.Overwrite) []*discordgo.PermissionOverwrite {
	out := make([]*discordgo.PermissionOverwrite, 0, len(in))
	for _, o := range in {
		kind := discordgo.PermissionOverwriteTypeRole
		if o.Type == privatevc.OverwriteMember {
			kind = discordgo.PermissionOverwriteTypeMember
		}
		out = append(out, &discordgo.PermissionOverwrite{ID: o.ID, Type: kind, Allow: o.Allow, Deny: o.Deny})
	}
	return out
}

func fromDiscordOverwrites(in []*discordgo.PermissionOverwrite) []privatevc.Overwrite {
	out := make([]privatevc.Overwrite, 0, len(in))
	for _, o := range in {
		if o == nil {
			continue
		}
		kind := privatevc.OverwriteRole
		if o.Type == discordgo.PermissionOverwriteTypeMember {
			kind = privatevc.OverwriteMember
		}
		out = append(out, privatevc.Overwrite{ID: o.ID, Type: kind, Allow: o.Allow, Deny: o.Deny})
	}
	return out
}
