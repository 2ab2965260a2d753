package privatevc

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ent0n29/vcrooms/internal/reliability"
)

const (
	maxRoomNameRunes = 32
	deleteReason     = "Private VC no longer active."

	maxDeleteRetries = 5
	deleteRetryBase  = 5 * time.Second
	deleteRetryCap   = 2 * time.Minute
)

// rehydrate schedules a sweep for every persisted channel so rooms that
// emptied while the process was down get removed.
func (m *Manager) rehydrate(ctx context.Context) {
	cfgs, err := m.store.ListConfigs(ctx)
	if err != nil {
		m.callFailed("list_configs", "", err)
		return
	}
	at := m.now().Add(m.settings.StartupSweep)
	for _, cfg := range cfgs {
		m.wheel.Insert(LeaveKey(cfg.ChannelID), at)
	}
	m.metrics.SetManagedChannels(len(cfgs))
	m.log.Info().Int("channels", len(cfgs)).Dur("sweep_in", m.settings.StartupSweep).Msg("rehydrated private vcs")
}

func (m *Manager) handleJoin(ctx context.Context, c joinCmd) {
	// The lobby itself never has a config.
	if c.channelID != m.settings.LobbyChannelID {
		cfg, err := m.store.GetConfig(ctx, c.channelID)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				m.callFailed("get_config", c.channelID, err)
			}
			return
		}
		if cfg.OwnerID == c.userID && m.wheel.Cancel(OwnerAbsenceKey(c.channelID, c.userID)) {
			m.log.Debug().Str("channel_id", c.channelID).Str("user_id", c.userID).Msg("owner returned")
		}
		return
	}

	now := m.now()
	m.pruneCooldowns()
	if last, ok := m.lastCreated[c.userID]; ok && now.Sub(last) < m.settings.CreationCooldown {
		at := last.Add(m.settings.CreationCooldown)
		m.wheel.Insert(CooldownKey(c.userID), at)
		m.cooldownNames[c.userID] = c.displayName
		m.publish(Event{Type: EventCreationDeferred, UserID: c.userID, Detail: at.Sub(now).String()})
		return
	}
	m.lastCreated[c.userID] = now
	m.createChannel(ctx, c.userID, c.displayName)
}

func (m *Manager) handleLeave(ctx context.Context, c leaveCmd) {
	if c.channelID != m.settings.LobbyChannelID && isEmpty(m.guild, c.channelID) {
		m.wheel.Insert(LeaveKey(c.channelID), m.now().Add(m.settings.EmptyGrace))
	}

	cfg, err := m.store.GetConfig(ctx, c.channelID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			m.callFailed("get_config", c.channelID, err)
		}
		return
	}
	if cfg.OwnerID == c.userID {
		m.wheel.Insert(OwnerAbsenceKey(c.channelID, c.userID), m.now().Add(m.settings.OwnerAbsence))
	}
}

func (m *Manager) handleExpired(ctx context.Context, key TimerKey) {
	m.log.Debug().Stringer("kind", key.Kind).Str("channel_id", key.ChannelID).Str("user_id", key.UserID).Msg("timer expired")
	switch key.Kind {
	case TimerCooldown:
		m.expireCooldown(ctx, key.UserID)
	case TimerLeave:
		m.sweep(ctx, key.ChannelID)
	case TimerOwnerAbsence:
		m.handOff(ctx, key.ChannelID, key.UserID)
	}
}

// expireCooldown creates the deferred room if the user is still waiting in
// the lobby.
func (m *Manager) expireCooldown(ctx context.Context, userID string) {
	name := m.cooldownNames[userID]
	delete(m.cooldownNames, userID)
	if !hasOccupant(m.guild, m.settings.LobbyChannelID, userID) {
		return
	}
	m.lastCreated[userID] = m.now()
	m.createChannel(ctx, userID, name)
}

// sweep deletes a managed channel that is still empty.
func (m *Manager) sweep(ctx context.Context, channelID string) {
	if channelID == m.settings.LobbyChannelID {
		return
	}
	users, known := m.guild.Occupants(channelID)
	if known && len(users) > 0 {
		delete(m.deleteAttempts, channelID)
		delete(m.sweepDeferrals, channelID)
		return
	}
	cfg, err := m.store.GetConfig(ctx, channelID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			m.callFailed("get_config", channelID, err)
		}
		return
	}
	if !known {
		m.deferSweep(channelID)
		return
	}
	delete(m.sweepDeferrals, channelID)

	if err := m.api.DeleteChannel(ctx, channelID, deleteReason); err != nil && !errors.Is(err, ErrChannelGone) {
		m.callFailed("delete_channel", channelID, err)
		m.retryDelete(channelID, err)
		return
	}
	delete(m.deleteAttempts, channelID)
	m.wheel.Cancel(OwnerAbsenceKey(channelID, cfg.OwnerID))
	if err := m.store.DeleteConfig(ctx, channelID); err != nil {
		// The row outlives the channel; the next startup sweep gets
		// ErrChannelGone and removes it.
		m.callFailed("delete_config", channelID, err)
		return
	}
	m.metrics.AddManagedChannels(-1)
	m.publish(Event{Type: EventChannelDeleted, ChannelID: channelID})
	m.log.Info().Str("channel_id", channelID).Msg("private vc deleted")
}

// deferSweep retries a sweep whose occupancy was unknown, typically because
// the guild was not cached yet. It keeps retrying at the capped interval.
func (m *Manager) deferSweep(channelID string) {
	attempt := m.sweepDeferrals[channelID]
	m.sweepDeferrals[channelID] = attempt + 1
	backoff := reliability.ExponentialBackoff(attempt, deleteRetryBase, deleteRetryCap)
	m.wheel.Insert(LeaveKey(channelID), m.now().Add(backoff))
	m.log.Debug().Str("channel_id", channelID).Dur("backoff", backoff).Msg("occupancy unknown, sweep deferred")
}

// retryDelete reschedules the sweep after a transient platform failure.
// Other failures leave the row for the next startup sweep.
func (m *Manager) retryDelete(channelID string, err error) {
	attempt := m.deleteAttempts[channelID]
	if !reliability.IsTransient(err) || attempt >= maxDeleteRetries {
		delete(m.deleteAttempts, channelID)
		return
	}
	m.deleteAttempts[channelID] = attempt + 1
	backoff := reliability.ExponentialBackoff(attempt, deleteRetryBase, deleteRetryCap)
	m.wheel.Insert(LeaveKey(channelID), m.now().Add(backoff))
	m.log.Debug().Str("channel_id", channelID).Int("attempt", attempt+1).Dur("backoff", backoff).Msg("channel delete rescheduled")
}

// handOff transfers ownership to a random occupant when the owner stayed
// away for the whole absence window.
func (m *Manager) handOff(ctx context.Context, channelID, userID string) {
	if hasOccupant(m.guild, channelID, userID) {
		return
	}
	cfg, err := m.store.GetConfig(ctx, channelID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			m.callFailed("get_config", channelID, err)
		}
		return
	}
	if cfg.OwnerID != userID {
		return
	}
	occupants, known := m.guild.Occupants(channelID)
	if !known || len(occupants) == 0 {
		return
	}

	cfg.OwnerID = occupants[m.pick(len(occupants))]
	cfg.DenyUsers = remove(cfg.DenyUsers, cfg.OwnerID)
	if err := m.store.UpsertConfig(ctx, cfg); err != nil {
		m.callFailed("upsert_config", channelID, err)
		return
	}
	m.refreshControl(ctx, cfg)
	m.reapplyOverlay(ctx, cfg)
	m.publish(Event{Type: EventOwnerTransferred, ChannelID: channelID, UserID: cfg.OwnerID, Detail: "owner absent"})
	m.log.Info().Str("channel_id", channelID).Str("from", userID).Str("to", cfg.OwnerID).Msg("ownership handed off")
}

// createChannel opens a room next to the lobby for userID, moves them into
// it and posts the control panel. Failures before the platform call abort
// quietly; the user simply stays in the lobby.
func (m *Manager) createChannel(ctx context.Context, userID, displayName string) {
	lobby := m.settings.LobbyChannelID
	placement, ok := m.guild.Placement(lobby)
	if !ok {
		m.log.Warn().Str("channel_id", lobby).Msg("lobby placement unknown, skipping creation")
		return
	}
	overwrites, ok := seedOverwrites(placement.ParentOverwrites, m.settings.GuildID)
	if !ok {
		m.log.Warn().Str("channel_id", lobby).Msg("lobby category has no everyone entry, skipping creation")
		return
	}

	channelID, err := m.api.CreateChannel(ctx, CreateChannelRequest{
		GuildID:    m.settings.GuildID,
		ParentID:   placement.ParentID,
		Name:       roomName(displayName),
		Reason:     displayName + " created a Private VC",
		Position:   placement.Position + 1,
		UserLimit:  m.settings.DefaultUserLimit,
		Overwrites: overwrites,
	})
	if err != nil {
		m.callFailed("create_channel", lobby, err)
		return
	}

	cfg := ChannelConfig{
		ChannelID:    channelID,
		GuildID:      m.settings.GuildID,
		OwnerID:      userID,
		AllowRoles:   []string{},
		AllowUsers:   []string{},
		DenyUsers:    []string{},
		TrustedUsers: []string{},
	}
	if err := m.store.UpsertConfig(ctx, cfg); err != nil {
		m.callFailed("upsert_config", channelID, err)
	}
	if err := m.api.MoveMember(ctx, m.settings.GuildID, userID, channelID); err != nil {
		m.callFailed("move_member", channelID, err)
	}
	m.refreshControl(ctx, cfg)

	m.metrics.AddManagedChannels(1)
	m.publish(Event{Type: EventChannelCreated, ChannelID: channelID, UserID: userID})
	m.log.Info().Str("channel_id", channelID).Str("user_id", userID).Msg("private vc created")
}

// refreshControl edits the channel's control panel, or posts a new one
// when there is none or the edit fails.
func (m *Manager) refreshControl(ctx context.Context, cfg ChannelConfig) {
	msg := RenderControl(cfg, m.settings.OwnerAbsence)
	if cfg.ControlMessageID != "" {
		err := m.api.EditMessage(ctx, cfg.ChannelID, cfg.ControlMessageID, msg)
		if err == nil {
			return
		}
		m.callFailed("edit_message", cfg.ChannelID, err)
	}
	messageID, err := m.api.SendMessage(ctx, cfg.ChannelID, msg)
	if err != nil {
		m.callFailed("send_message", cfg.ChannelID, err)
		return
	}
	if err := m.store.SetControlMessage(ctx, cfg.ChannelID, messageID); err != nil {
		m.callFailed("set_control_message", cfg.ChannelID, err)
	}
}

// parentOverwrites returns the category ACL of channelID. ok is false when
// the channel is not cached; callers must not rebuild its ACL then.
func (m *Manager) parentOverwrites(channelID string) ([]Overwrite, bool) {
	placement, ok := m.guild.Placement(channelID)
	if !ok {
		return nil, false
	}
	return placement.ParentOverwrites, true
}

// reapplyOverlay rebuilds the channel ACL from its category, leaving the
// current ACL alone when the category is unknown.
func (m *Manager) reapplyOverlay(ctx context.Context, cfg ChannelConfig) {
	parent, ok := m.parentOverwrites(cfg.ChannelID)
	if !ok {
		m.log.Warn().Str("channel_id", cfg.ChannelID).Msg("channel placement not cached, permissions left unchanged")
		return
	}
	m.applyOverlay(ctx, cfg, parent)
}

func (m *Manager) applyOverlay(ctx context.Context, cfg ChannelConfig, parent []Overwrite) Overlay {
	overlay := BuildOverlay(cfg, parent, m.settings.GuildID)
	if err := m.api.EditPermissions(ctx, cfg.ChannelID, overlay.Overwrites); err != nil {
		m.callFailed("edit_permissions", cfg.ChannelID, err)
	}
	return overlay
}

// pruneCooldowns forgets creation timestamps older than the cooldown.
func (m *Manager) pruneCooldowns() {
	cutoff := m.now().Add(-m.settings.CreationCooldown)
	for userID, at := range m.lastCreated {
		if at.Before(cutoff) {
			delete(m.lastCreated, userID)
		}
	}
}

func roomName(displayName string) string {
	name := strings.TrimSpace(displayName)
	if name == "" {
		name = "Private"
	}
	suffix := "'s room"
	if strings.HasSuffix(name, "s") {
		suffix = "' room"
	}
	if utf8.RuneCountInString(name) > maxRoomNameRunes {
		name = string([]rune(name)[:maxRoomNameRunes])
	}
	return "👥" + name + suffix
}
