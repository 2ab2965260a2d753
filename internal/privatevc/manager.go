package privatevc

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/vcrooms/internal/observability"
)

// Settings holds the guild-specific configuration of the manager.
type Settings struct {
	GuildID        string
	LobbyChannelID string
	ModeratorRoles []string

	CreationCooldown time.Duration
	EmptyGrace       time.Duration
	OwnerAbsence     time.Duration
	StartupSweep     time.Duration
	DefaultUserLimit int
	InboxSize        int
}

func (s Settings) withDefaults() Settings {
	if s.CreationCooldown <= 0 {
		s.CreationCooldown = 30 * time.Second
	}
	if s.EmptyGrace <= 0 {
		s.EmptyGrace = 30 * time.Second
	}
	if s.OwnerAbsence <= 0 {
		s.OwnerAbsence = 5 * time.Minute
	}
	if s.StartupSweep <= 0 {
		s.StartupSweep = 5 * time.Second
	}
	if s.DefaultUserLimit <= 0 {
		s.DefaultUserLimit = 5
	}
	if s.InboxSize <= 0 {
		s.InboxSize = 256
	}
	return s
}

type (
	joinCmd struct {
		channelID   string
		userID      string
		displayName string
	}
	leaveCmd struct {
		channelID string
		userID    string
	}
	interactCmd struct {
		in    Interaction
		reply chan interactResult
	}
	shutdownCmd struct{}
)

type interactResult struct {
	reply Reply
	err   error
}

// Manager is the lifecycle actor for private voice channels. All timer
// bookkeeping and every configuration change happens on the goroutine
// running Run, one command at a time.
type Manager struct {
	settings Settings
	store    Store
	api      ChannelAPI
	guild    GuildState
	metrics  *observability.Metrics
	log      zerolog.Logger

	now  func() time.Time
	pick func(n int) int

	inbox   chan any
	done    chan struct{}
	started atomic.Bool
	events  *broadcaster

	// Owned by the Run goroutine.
	wheel          *Wheel
	lastCreated    map[string]time.Time
	cooldownNames  map[string]string
	deleteAttempts map[string]int
	sweepDeferrals map[string]int
}

func NewManager(settings Settings, store Store, api ChannelAPI, guild GuildState, metrics *observability.Metrics, logger zerolog.Logger) *Manager {
	settings = settings.withDefaults()
	return &Manager{
		settings:       settings,
		store:          store,
		api:            api,
		guild:          guild,
		metrics:        metrics,
		log:            logger.With().Str("component", "privatevc").Logger(),
		now:            time.Now,
		pick:           rand.Intn,
		inbox:          make(chan any, settings.InboxSize),
		done:           make(chan struct{}),
		events:         newBroadcaster(),
		wheel:          NewWheel(),
		lastCreated:    make(map[string]time.Time),
		cooldownNames:  make(map[string]string),
		deleteAttempts: make(map[string]int),
		sweepDeferrals: make(map[string]int),
	}
}

func (m *Manager) Settings() Settings { return m.settings }

// Running reports whether the lifecycle loop is accepting commands.
func (m *Manager) Running() bool {
	if !m.started.Load() {
		return false
	}
	select {
	case <-m.done:
		return false
	default:
		return true
	}
}

// Subscribe streams lifecycle events until the returned cancel func runs.
func (m *Manager) Subscribe() (<-chan Event, func()) {
	return m.events.subscribe(64)
}

// Run rehydrates timers from the store and then processes commands and
// expired timers until ctx ends or Shutdown is called.
func (m *Manager) Run(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return errors.New("private vc manager already started")
	}
	defer close(m.done)

	m.rehydrate(ctx)

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		var wake <-chan time.Time
		if at, ok := m.wheel.Next(); ok {
			timer.Reset(max(at.Sub(m.now()), 0))
			wake = timer.C
		} else {
			timer.Stop()
		}
		m.metrics.SetPendingTimers(m.wheel.Len())

		select {
		case <-ctx.Done():
			m.log.Info().Msg("lifecycle loop stopped by context")
			return nil
		case cmd := <-m.inbox:
			if _, ok := cmd.(shutdownCmd); ok {
				m.log.Info().Int("pending_timers", m.wheel.Len()).Msg("lifecycle loop shut down")
				return nil
			}
			start := time.Now()
			m.handle(ctx, cmd)
			m.metrics.ObserveHandleLatency(time.Since(start))
		case <-wake:
			start := time.Now()
			m.fireDue(ctx)
			m.metrics.ObserveHandleLatency(time.Since(start))
		}
	}
}

// Join reports that a user connected to the lobby or a managed channel.
func (m *Manager) Join(ctx context.Context, channelID, userID, displayName string) error {
	return m.send(ctx, joinCmd{channelID: channelID, userID: userID, displayName: displayName})
}

// Leave reports that a user disconnected from the lobby or a managed channel.
func (m *Manager) Leave(ctx context.Context, channelID, userID string) error {
	return m.send(ctx, leaveCmd{channelID: channelID, userID: userID})
}

// Interact runs a control panel action on the lifecycle loop and waits
// for its reply.
func (m *Manager) Interact(ctx context.Context, in Interaction) (Reply, error) {
	cmd := interactCmd{in: in, reply: make(chan interactResult, 1)}
	if err := m.send(ctx, cmd); err != nil {
		return Reply{}, err
	}
	select {
	case res := <-cmd.reply:
		return res.reply, res.err
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	case <-m.done:
		select {
		case res := <-cmd.reply:
			return res.reply, res.err
		default:
			return Reply{}, ErrStopped
		}
	}
}

// Shutdown asks the loop to exit after the commands queued before it.
func (m *Manager) Shutdown(ctx context.Context) error {
	return m.send(ctx, shutdownCmd{})
}

func (m *Manager) send(ctx context.Context, cmd any) error {
	select {
	case <-m.done:
		return ErrStopped
	default:
	}
	select {
	case m.inbox <- cmd:
		return nil
	case <-m.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) handle(ctx context.Context, cmd any) {
	switch c := cmd.(type) {
	case joinCmd:
		m.handleJoin(ctx, c)
	case leaveCmd:
		m.handleLeave(ctx, c)
	case interactCmd:
		reply, err := m.handleInteraction(ctx, c.in)
		c.reply <- interactResult{reply: reply, err: err}
	default:
		m.log.Error().Type("command", cmd).Msg("unknown command")
	}
}

func (m *Manager) fireDue(ctx context.Context) {
	for _, key := range m.wheel.PopDue(m.now()) {
		m.handleExpired(ctx, key)
	}
}

func (m *Manager) publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = m.now().UTC()
	}
	m.metrics.ObserveEvent(string(ev.Type))
	m.events.publish(ev)
}

func (m *Manager) callFailed(op, channelID string, err error) {
	m.metrics.ObserveExternalError(op)
	m.log.Warn().Err(err).Str("op", op).Str("channel_id", channelID).Msg("external call failed")
}
