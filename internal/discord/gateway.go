package discord

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/ent0n29/vcrooms/internal/observability"
	"github.com/ent0n29/vcrooms/internal/privatevc"
)

// Lifecycle is the part of privatevc.Manager the gateway feeds.
type Lifecycle interface {
	Join(ctx context.Context, channelID, userID, displayName string) error
	Leave(ctx context.Context, channelID, userID string) error
	Interact(ctx context.Context, in privatevc.Interaction) (privatevc.Reply, error)
}

// Gateway adapts a discordgo session to the privatevc interfaces. It is the
// channel API and the guild state view of the manager, and it forwards
// voice and interaction events into it.
type Gateway struct {
	session  *discordgo.Session
	guildID  string
	lobbyID  string
	store    privatevc.Store
	metrics  *observability.Metrics
	log      zerolog.Logger
	settings privatevc.Settings

	mu        sync.RWMutex
	lifecycle Lifecycle
	ctx       context.Context
	cancel    context.CancelFunc
	removers  []func()
}

func New(token string, settings privatevc.Settings, store privatevc.Store, metrics *observability.Metrics, logger zerolog.Logger) (*Gateway, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates
	session.StateEnabled = true
	session.State.TrackVoice = true
	session.State.TrackChannels = true
	// Voice events must reach the manager in gateway order.
	session.SyncEvents = true

	ctx, cancel := context.WithCancel(context.Background())
	return &Gateway{
		session:  session,
		guildID:  settings.GuildID,
		lobbyID:  settings.LobbyChannelID,
		store:    store,
		metrics:  metrics,
		log:      logger.With().Str("component", "discord").Logger(),
		settings: settings,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Attach registers the event handlers that feed lc. It must be called
// before Open.
func (g *Gateway) Attach(lc Lifecycle) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lifecycle = lc
	g.removers = append(g.removers,
		g.session.AddHandler(g.onReady),
		g.session.AddHandler(g.onVoiceStateUpdate),
		g.session.AddHandler(g.onInteractionCreate),
	)
}

func (g *Gateway) Open() error {
	if err := g.session.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	return nil
}

// Ready reports whether the gateway has a cached view of the guild.
func (g *Gateway) Ready() bool {
	_, err := g.session.State.Guild(g.guildID)
	return err == nil
}

func (g *Gateway) Close() error {
	g.cancel()
	g.mu.Lock()
	for _, remove := range g.removers {
		remove()
	}
	g.removers = nil
	g.mu.Unlock()
	return g.session.Close()
}

func (g *Gateway) current() Lifecycle {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.lifecycle
}

func (g *Gateway) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	g.log.Info().Str("user", r.User.Username).Int("guilds", len(r.Guilds)).Msg("discord gateway ready")
}

// Occupants implements privatevc.GuildState from the session's state cache.
func (g *Gateway) Occupants(channelID string) ([]string, bool) {
	guild, err := g.session.State.Guild(g.guildID)
	if err != nil {
		return nil, false
	}
	g.session.State.RLock()
	defer g.session.State.RUnlock()
	return occupantsOf(guild.VoiceStates, channelID), true
}

// Placement implements privatevc.GuildState. The parent overwrites are the
// category's; a channel without a category has none.
func (g *Gateway) Placement(channelID string) (privatevc.Placement, bool) {
	channel, err := g.session.State.Channel(channelID)
	if err != nil {
		return privatevc.Placement{}, false
	}
	var parent *discordgo.Channel
	if channel.ParentID != "" {
		parent, err = g.session.State.Channel(channel.ParentID)
		if err != nil {
			return privatevc.Placement{}, false
		}
	}

	g.session.State.RLock()
	defer g.session.State.RUnlock()
	placement := privatevc.Placement{ParentID: channel.ParentID, Position: channel.Position}
	if parent != nil {
		placement.ParentOverwrites = fromDiscordOverwrites(parent.PermissionOverwrites)
	}
	return placement, true
}

func (g *Gateway) memberRoles(userID string) []string {
	member, err := g.session.State.Member(g.guildID, userID)
	if err != nil {
		return nil
	}
	g.session.State.RLock()
	defer g.session.State.RUnlock()
	return append([]string(nil), member.Roles...)
}

func (g *Gateway) managed(channelID string) bool {
	if channelID == "" {
		return false
	}
	if channelID == g.lobbyID {
		return true
	}
	_, err := g.store.GetConfig(g.ctx, channelID)
	if err != nil && !errors.Is(err, privatevc.ErrNotFound) {
		g.metrics.ObserveExternalError("get_config")
		g.log.Warn().Err(err).Str("channel_id", channelID).Msg("could not check channel")
	}
	return err == nil
}

func occupantsOf(states []*discordgo.VoiceState, channelID string) []string {
	users := make([]string, 0, 4)
	for _, vs := range states {
		if vs != nil && vs.ChannelID == channelID {
			users = append(users, vs.UserID)
		}
	}
	return users
}
