package privatevc

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

type InteractionKind string

const (
	InteractOwner      InteractionKind = "owner"
	InteractSize       InteractionKind = "size"
	InteractAllow      InteractionKind = "allowlist"
	InteractDeny       InteractionKind = "denylist"
	InteractDisconnect InteractionKind = "disconnect"
)

// ParseInteractionKind maps a control panel custom id to its kind.
func ParseInteractionKind(customID string) (InteractionKind, bool) {
	prefix, _, ok := strings.Cut(customID, "_pvc_")
	if !ok {
		return "", false
	}
	switch kind := InteractionKind(prefix); kind {
	case InteractOwner, InteractSize, InteractAllow, InteractDeny, InteractDisconnect:
		return kind, true
	}
	return "", false
}

// Interaction is one control panel action submitted by a member.
type Interaction struct {
	ID        string
	Kind      InteractionKind
	ChannelID string
	MessageID string
	Invoker   Member
	Users     []Member
	Roles     []string
	UserLimit int
}

// Reply is the ephemeral answer shown to the invoker.
type Reply struct {
	Content string
}

const (
	replyStalePanel    = "This control panel is no longer active."
	replyNotOwner      = "You need to be the owner of the private vc in order to do this!"
	replyNoSelection   = "Please select a user."
	replyOwnerAbsent   = "The user is not in the VC and therefore owner cannot be changed."
	replyBadLimit      = "Input could not be parsed as a number between 0 and 99."
	replyLimitFailed   = "Could not update the user limit, please try again."
	replyUpdateFailed  = "Could not update the voice channel, please try again."
	replyNotConnected  = "This user is not in the voice channel."
	replyModeratorKick = "It is not possible to disconnect moderators, please ask them kindly to leave."
	maxUserLimit       = 99
)

func (m *Manager) handleInteraction(ctx context.Context, in Interaction) (Reply, error) {
	m.log.Debug().Str("interaction_id", in.ID).Str("kind", string(in.Kind)).Str("channel_id", in.ChannelID).Str("user_id", in.Invoker.ID).Msg("interaction received")
	cfg, err := m.store.GetConfig(ctx, in.ChannelID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Reply{}, ErrNotManaged
		}
		m.callFailed("get_config", in.ChannelID, err)
		return Reply{}, fmt.Errorf("load channel config: %w", err)
	}
	if cfg.ControlMessageID != in.MessageID {
		return m.answer(in, "stale", replyStalePanel), nil
	}
	if in.Invoker.ID != cfg.OwnerID && !isModerator(in.Invoker.Roles, m.settings.ModeratorRoles) {
		return m.answer(in, "denied", replyNotOwner), nil
	}

	switch in.Kind {
	case InteractOwner:
		return m.transferOwner(ctx, cfg, in), nil
	case InteractSize:
		return m.setUserLimit(ctx, cfg, in), nil
	case InteractAllow, InteractDeny:
		return m.togglePermissions(ctx, cfg, in), nil
	case InteractDisconnect:
		return m.disconnect(ctx, cfg, in), nil
	default:
		return Reply{}, fmt.Errorf("unknown interaction kind %q", in.Kind)
	}
}

func (m *Manager) answer(in Interaction, outcome, content string) Reply {
	m.metrics.ObserveInteraction(string(in.Kind), outcome)
	return Reply{Content: content}
}

func (m *Manager) transferOwner(ctx context.Context, cfg ChannelConfig, in Interaction) Reply {
	if len(in.Users) == 0 {
		return m.answer(in, "rejected", replyNoSelection)
	}
	target := in.Users[0].ID
	if !hasOccupant(m.guild, cfg.ChannelID, target) {
		return m.answer(in, "rejected", replyOwnerAbsent)
	}

	previous := cfg.OwnerID
	cfg.OwnerID = target
	cfg.DenyUsers = remove(cfg.DenyUsers, target)
	if err := m.store.UpsertConfig(ctx, cfg); err != nil {
		m.callFailed("upsert_config", cfg.ChannelID, err)
		return m.answer(in, "failed", replyUpdateFailed)
	}
	if previous != target {
		m.wheel.Cancel(OwnerAbsenceKey(cfg.ChannelID, previous))
	}
	m.refreshControl(ctx, cfg)
	m.reapplyOverlay(ctx, cfg)
	m.publish(Event{Type: EventOwnerTransferred, ChannelID: cfg.ChannelID, UserID: target, Detail: "changed by " + in.Invoker.ID})
	return m.answer(in, "ok", fmt.Sprintf("Changed owner to <@%s>", target))
}

func (m *Manager) setUserLimit(ctx context.Context, cfg ChannelConfig, in Interaction) Reply {
	if in.UserLimit < 0 || in.UserLimit > maxUserLimit {
		return m.answer(in, "rejected", replyBadLimit)
	}
	if err := m.api.EditUserLimit(ctx, cfg.ChannelID, in.UserLimit); err != nil {
		m.callFailed("edit_user_limit", cfg.ChannelID, err)
		return m.answer(in, "failed", replyLimitFailed)
	}
	m.publish(Event{Type: EventUserLimitChanged, ChannelID: cfg.ChannelID, Detail: fmt.Sprint(in.UserLimit)})
	return m.answer(in, "ok", fmt.Sprintf("Successfully updated user limit to %d", in.UserLimit))
}

// togglePermissions applies an allow or deny list selection. The channel
// ACL is rebuilt from its category, so nothing changes while the category
// is not cached.
func (m *Manager) togglePermissions(ctx context.Context, cfg ChannelConfig, in Interaction) Reply {
	parent, ok := m.parentOverwrites(cfg.ChannelID)
	if !ok {
		m.log.Warn().Str("channel_id", cfg.ChannelID).Str("kind", string(in.Kind)).Msg("channel placement not cached, permissions left unchanged")
		return m.answer(in, "failed", replyUpdateFailed)
	}
	if in.Kind == InteractDeny {
		next, users := ToggleDeny(cfg, in.Users, parent, m.settings.ModeratorRoles)
		return m.updatePermissions(ctx, in, next, parent, users, nil)
	}
	next, users, roles := ToggleAllow(cfg, memberIDs(in.Users), in.Roles, parent)
	return m.updatePermissions(ctx, in, next, parent, users, roles)
}

func (m *Manager) updatePermissions(ctx context.Context, in Interaction, cfg ChannelConfig, parent []Overwrite, strippedUsers, strippedRoles []string) Reply {
	if err := m.store.UpsertConfig(ctx, cfg); err != nil {
		m.callFailed("upsert_config", cfg.ChannelID, err)
		return m.answer(in, "failed", replyUpdateFailed)
	}
	overlay := m.applyOverlay(ctx, cfg, parent)
	strippedUsers = appendUnique(strippedUsers, overlay.StrippedUsers...)
	strippedRoles = appendUnique(strippedRoles, overlay.StrippedRoles...)
	m.refreshControl(ctx, cfg)
	m.publish(Event{Type: EventPermissionsUpdated, ChannelID: cfg.ChannelID, UserID: in.Invoker.ID, Detail: string(in.Kind)})
	return m.answer(in, "ok", permissionsReply(strippedUsers, strippedRoles))
}

func (m *Manager) disconnect(ctx context.Context, cfg ChannelConfig, in Interaction) Reply {
	if len(in.Users) == 0 {
		return m.answer(in, "rejected", replyNoSelection)
	}
	target := in.Users[0]
	if !hasOccupant(m.guild, cfg.ChannelID, target.ID) {
		return m.answer(in, "rejected", replyNotConnected)
	}
	if isModerator(target.Roles, m.settings.ModeratorRoles) {
		return m.answer(in, "rejected", replyModeratorKick)
	}
	if err := m.api.DisconnectMember(ctx, m.settings.GuildID, target.ID); err != nil {
		m.callFailed("disconnect_member", cfg.ChannelID, err)
		return m.answer(in, "failed", fmt.Sprintf("Could not disconnect <@%s> for unknown reason.", target.ID))
	}
	m.publish(Event{Type: EventMemberDisconnected, ChannelID: cfg.ChannelID, UserID: target.ID, Detail: "by " + in.Invoker.ID})
	return m.answer(in, "ok", fmt.Sprintf("Successfully disconnected <@%s>", target.ID))
}

func permissionsReply(strippedUsers, strippedRoles []string) string {
	var b strings.Builder
	b.WriteString("Successfully updated permissions for the voice channel.\n")
	if len(strippedUsers) > 0 {
		b.WriteString("\nThe below user(s) have been removed from your selection because they are either a moderator or otherwise disallowed.\n")
		b.WriteString(mentionUsers(strippedUsers))
		b.WriteString("\n")
	}
	if len(strippedRoles) > 0 {
		b.WriteString("\nThe below role(s) have been removed from your selection because they are either a moderator, muted or otherwise disallowed.\n")
		b.WriteString(mentionRoles(strippedRoles))
		b.WriteString("\n")
	}
	return b.String()
}

func memberIDs(members []Member) []string {
	out := make([]string, len(members))
	for i, mem := range members {
		out[i] = mem.ID
	}
	return out
}
