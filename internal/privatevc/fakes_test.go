package privatevc

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	testGuild    = "guild-1"
	testLobby    = "lobby-1"
	testCategory = "category-1"
	testModRole  = "role-mod"
)

type fakeStore struct {
	mu      sync.Mutex
	configs    map[string]ChannelConfig
	failGet    error
	failDelete error
}

func newFakeStore() *fakeStore {
	return &fakeStore{configs: make(map[string]ChannelConfig)}
}

func (s *fakeStore) GetConfig(_ context.Context, channelID string) (ChannelConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGet != nil {
		return ChannelConfig{}, s.failGet
	}
	cfg, ok := s.configs[channelID]
	if !ok {
		return ChannelConfig{}, ErrNotFound
	}
	return cfg.Clone(), nil
}

func (s *fakeStore) ListConfigs(context.Context) ([]ChannelConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ChannelConfig, 0, len(s.configs))
	for _, cfg := range s.configs {
		out = append(out, cfg.Clone())
	}
	return out, nil
}

func (s *fakeStore) UpsertConfig(_ context.Context, cfg ChannelConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[cfg.ChannelID] = cfg.Clone()
	return nil
}

func (s *fakeStore) DeleteConfig(_ context.Context, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failDelete != nil {
		return s.failDelete
	}
	delete(s.configs, channelID)
	return nil
}

func (s *fakeStore) SetControlMessage(_ context.Context, channelID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[channelID]
	if !ok {
		return ErrNotFound
	}
	cfg.ControlMessageID = messageID
	s.configs[channelID] = cfg
	return nil
}

func (s *fakeStore) get(channelID string) (ChannelConfig, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[channelID]
	return cfg, ok
}

type fakeAPI struct {
	mu sync.Mutex

	created      []CreateChannelRequest
	deleted      []string
	moved        []string
	disconnected []string
	permissions  map[string][]Overwrite
	limits       map[string]int
	sent         map[string]ControlMessage
	edited       map[string]ControlMessage

	failCreate bool
	failDelete error
	failEdit   bool
	seq        int
	guild      *fakeGuild
}

func newFakeAPI(guild *fakeGuild) *fakeAPI {
	return &fakeAPI{
		permissions: make(map[string][]Overwrite),
		limits:      make(map[string]int),
		sent:        make(map[string]ControlMessage),
		edited:      make(map[string]ControlMessage),
		guild:       guild,
	}
}

func (a *fakeAPI) CreateChannel(_ context.Context, req CreateChannelRequest) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failCreate {
		return "", errors.New("create refused")
	}
	a.seq++
	id := fmt.Sprintf("room-%d", a.seq)
	a.created = append(a.created, req)
	a.guild.setPlacement(id, Placement{ParentID: req.ParentID, Position: req.Position, ParentOverwrites: a.guild.parentOf(testLobby)})
	return id, nil
}

func (a *fakeAPI) EditPermissions(_ context.Context, channelID string, overwrites []Overwrite) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.permissions[channelID] = slices.Clone(overwrites)
	return nil
}

func (a *fakeAPI) EditUserLimit(_ context.Context, channelID string, limit int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.limits[channelID] = limit
	return nil
}

func (a *fakeAPI) DeleteChannel(_ context.Context, channelID, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failDelete != nil {
		return a.failDelete
	}
	a.deleted = append(a.deleted, channelID)
	return nil
}

func (a *fakeAPI) MoveMember(_ context.Context, _, userID, channelID string) error {
	a.mu.Lock()
	a.moved = append(a.moved, userID+"->"+channelID)
	a.mu.Unlock()
	a.guild.move(userID, channelID)
	return nil
}

func (a *fakeAPI) DisconnectMember(_ context.Context, _, userID string) error {
	a.mu.Lock()
	a.disconnected = append(a.disconnected, userID)
	a.mu.Unlock()
	a.guild.move(userID, "")
	return nil
}

func (a *fakeAPI) SendMessage(_ context.Context, channelID string, msg ControlMessage) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seq++
	id := fmt.Sprintf("msg-%d", a.seq)
	a.sent[id] = msg
	return id, nil
}

func (a *fakeAPI) EditMessage(_ context.Context, _, messageID string, msg ControlMessage) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failEdit {
		return errors.New("unknown message")
	}
	a.edited[messageID] = msg
	return nil
}

func (a *fakeAPI) createdCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.created)
}

func (a *fakeAPI) deletedChannels() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.deleted)
}

type fakeGuild struct {
	mu         sync.Mutex
	voice      map[string]string // user -> channel
	placements map[string]Placement
	uncached   bool
}

func newFakeGuild() *fakeGuild {
	g := &fakeGuild{
		voice:      make(map[string]string),
		placements: make(map[string]Placement),
	}
	g.placements[testLobby] = Placement{
		ParentID: testCategory,
		Position: 3,
		ParentOverwrites: []Overwrite{
			{ID: testGuild, Type: OverwriteRole, Deny: PermConnect | PermSpeak},
			{ID: testModRole, Type: OverwriteRole, Allow: PermConnect},
		},
	}
	return g
}

func (g *fakeGuild) Occupants(channelID string) ([]string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.uncached {
		return nil, false
	}
	var users []string
	for user, ch := range g.voice {
		if ch == channelID {
			users = append(users, user)
		}
	}
	slices.Sort(users)
	return users, true
}

func (g *fakeGuild) Placement(channelID string) (Placement, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.placements[channelID]
	return p, ok
}

func (g *fakeGuild) move(userID, channelID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if channelID == "" {
		delete(g.voice, userID)
		return
	}
	g.voice[userID] = channelID
}

func (g *fakeGuild) setPlacement(channelID string, p Placement) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.placements[channelID] = p
}

func (g *fakeGuild) dropPlacement(channelID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.placements, channelID)
}

func (g *fakeGuild) parentOf(channelID string) []Overwrite {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.placements[channelID].ParentOverwrites)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	m     *Manager
	store *fakeStore
	api   *fakeAPI
	guild *fakeGuild
	clock *fakeClock
}

func testSettings() Settings {
	return Settings{
		GuildID:          testGuild,
		LobbyChannelID:   testLobby,
		ModeratorRoles:   []string{testModRole},
		CreationCooldown: 30 * time.Second,
		EmptyGrace:       30 * time.Second,
		OwnerAbsence:     5 * time.Minute,
		StartupSweep:     5 * time.Second,
	}
}

func newHarness(settings Settings) *harness {
	guild := newFakeGuild()
	h := &harness{
		store: newFakeStore(),
		guild: guild,
		api:   newFakeAPI(guild),
		clock: &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)},
	}
	h.m = NewManager(settings, h.store, h.api, h.guild, nil, zerolog.Nop())
	h.m.now = h.clock.Now
	h.m.pick = func(int) int { return 0 }
	return h
}

// join simulates the platform moving userID into channelID and the
// adapter forwarding the event.
func (h *harness) join(channelID, userID, name string) {
	h.guild.move(userID, channelID)
	h.m.handleJoin(context.Background(), joinCmd{channelID: channelID, userID: userID, displayName: name})
}

func (h *harness) leave(channelID, userID string) {
	h.guild.move(userID, "")
	h.m.handleLeave(context.Background(), leaveCmd{channelID: channelID, userID: userID})
}

// advance moves the clock and fires every timer that became due.
func (h *harness) advance(d time.Duration) {
	h.clock.Advance(d)
	h.m.fireDue(context.Background())
}
