package privatevc

import (
	"context"
	"errors"
	"slices"
)

var (
	// ErrNotFound is returned by a Store when no config exists for a channel.
	ErrNotFound = errors.New("private vc not found")
	// ErrNotManaged is returned for interactions on channels without a config.
	ErrNotManaged = errors.New("channel is not a managed private vc")
	// ErrStopped is returned once the lifecycle loop has exited.
	ErrStopped = errors.New("private vc manager stopped")
	// ErrChannelGone is returned by a ChannelAPI when the channel no longer
	// exists on the platform.
	ErrChannelGone = errors.New("channel no longer exists")
)

// Discord permission bits used by the overlay.
const (
	PermSendMessages int64 = 1 << 11
	PermConnect      int64 = 1 << 20
	PermSpeak        int64 = 1 << 21
)

type OverwriteType int

const (
	OverwriteRole   OverwriteType = 0
	OverwriteMember OverwriteType = 1
)

// Overwrite is a single allow/deny permission entry on a channel.
type Overwrite struct {
	ID    string        `json:"id"`
	Type  OverwriteType `json:"type"`
	Allow int64         `json:"allow"`
	Deny  int64         `json:"deny"`
}

// ChannelConfig is the persisted configuration of one managed voice channel.
//
// TrustedUsers is stored and returned but no permission logic reads it yet.
type ChannelConfig struct {
	ChannelID        string   `json:"channel_id"`
	GuildID          string   `json:"guild_id"`
	OwnerID          string   `json:"owner_id"`
	ControlMessageID string   `json:"control_message_id,omitempty"`
	AllowRoles       []string `json:"allow_roles"`
	AllowUsers       []string `json:"allow_users"`
	DenyUsers        []string `json:"deny_users"`
	TrustedUsers     []string `json:"trusted_users"`
}

// Public reports whether the channel is joinable by everyone.
func (c ChannelConfig) Public() bool {
	return len(c.AllowRoles) == 0 && len(c.AllowUsers) == 0
}

func (c ChannelConfig) Clone() ChannelConfig {
	out := c
	out.AllowRoles = slices.Clone(c.AllowRoles)
	out.AllowUsers = slices.Clone(c.AllowUsers)
	out.DenyUsers = slices.Clone(c.DenyUsers)
	out.TrustedUsers = slices.Clone(c.TrustedUsers)
	return out
}

// Placement describes where a channel sits and what its category grants.
type Placement struct {
	ParentID         string
	Position         int
	ParentOverwrites []Overwrite
}

type CreateChannelRequest struct {
	GuildID    string
	ParentID   string
	Name       string
	Reason     string
	Position   int
	UserLimit  int
	Overwrites []Overwrite
}

// ControlMessage is the text part of the control panel posted in a channel.
// The platform adapter attaches the interactive components.
type ControlMessage struct {
	Content      string
	MentionUsers []string
}

// Store persists channel configuration. It is the durable source of truth.
type Store interface {
	GetConfig(ctx context.Context, channelID string) (ChannelConfig, error)
	ListConfigs(ctx context.Context) ([]ChannelConfig, error)
	UpsertConfig(ctx context.Context, cfg ChannelConfig) error
	DeleteConfig(ctx context.Context, channelID string) error
	SetControlMessage(ctx context.Context, channelID, messageID string) error
}

// ChannelAPI performs writes against the chat platform.
type ChannelAPI interface {
	CreateChannel(ctx context.Context, req CreateChannelRequest) (string, error)
	EditPermissions(ctx context.Context, channelID string, overwrites []Overwrite) error
	EditUserLimit(ctx context.Context, channelID string, limit int) error
	DeleteChannel(ctx context.Context, channelID, reason string) error
	MoveMember(ctx context.Context, guildID, userID, channelID string) error
	DisconnectMember(ctx context.Context, guildID, userID string) error
	SendMessage(ctx context.Context, channelID string, msg ControlMessage) (string, error)
	EditMessage(ctx context.Context, channelID, messageID string, msg ControlMessage) error
}

// GuildState is a read view of the platform's cached guild state.
type GuildState interface {
	// Occupants lists users connected to a voice channel. known is false
	// when the guild is not cached; callers must then assume occupancy.
	Occupants(channelID string) (users []string, known bool)
	Placement(channelID string) (Placement, bool)
}

func hasOccupant(g GuildState, channelID, userID string) bool {
	users, known := g.Occupants(channelID)
	if !known {
		return true
	}
	return slices.Contains(users, userID)
}

func isEmpty(g GuildState, channelID string) bool {
	users, known := g.Occupants(channelID)
	return known && len(users) == 0
}
