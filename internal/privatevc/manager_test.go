package privatevc

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/vcrooms/internal/reliability"
)

func TestJoinLobbyCreatesChannel(t *testing.T) {
	h := newHarness(testSettings())
	events, cancel := h.m.Subscribe()
	defer cancel()

	h.join(testLobby, "u1", "alice")

	if h.api.createdCount() != 1 {
		t.Fatalf("created = %d, want 1", h.api.createdCount())
	}
	req := h.api.created[0]
	if req.Name != "👥alice's room" || req.Reason != "alice created a Private VC" {
		t.Fatalf("unexpected create request: %+v", req)
	}
	if req.ParentID != testCategory || req.Position != 4 || req.UserLimit != 5 {
		t.Fatalf("unexpected placement: %+v", req)
	}
	everyone := findOverwrite(t, req.Overwrites, testGuild, OverwriteRole)
	if everyone.Deny&(PermConnect|PermSpeak) != 0 {
		t.Fatalf("everyone deny not cleared: %+v", everyone)
	}

	cfg, ok := h.store.get("room-1")
	if !ok {
		t.Fatalf("config for room-1 not persisted")
	}
	if cfg.OwnerID != "u1" || cfg.GuildID != testGuild {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.ControlMessageID == "" {
		t.Fatalf("control message id not persisted")
	}
	if !slices.Equal(h.api.moved, []string{"u1->room-1"}) {
		t.Fatalf("moved = %v", h.api.moved)
	}

	select {
	case ev := <-events:
		if ev.Type != EventChannelCreated || ev.ChannelID != "room-1" || ev.ID == "" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	default:
		t.Fatalf("no channel_created event published")
	}
}

func TestJoinOtherChannelDoesNothing(t *testing.T) {
	h := newHarness(testSettings())
	h.join("random-channel", "u1", "alice")
	if h.api.createdCount() != 0 {
		t.Fatalf("created = %d, want 0", h.api.createdCount())
	}
}

func TestCreationSkippedWithoutEveryoneEntry(t *testing.T) {
	h := newHarness(testSettings())
	h.guild.setPlacement(testLobby, Placement{ParentID: testCategory, ParentOverwrites: []Overwrite{{ID: "r", Type: OverwriteRole}}})
	h.join(testLobby, "u1", "alice")
	if h.api.createdCount() != 0 {
		t.Fatalf("created = %d, want 0", h.api.createdCount())
	}
}

func TestCreationCooldownDefersSecondChannel(t *testing.T) {
	h := newHarness(testSettings())

	h.join(testLobby, "u1", "alice")
	h.clock.Advance(10 * time.Second)
	h.join(testLobby, "u1", "alice")

	if h.api.createdCount() != 1 {
		t.Fatalf("created = %d, want 1 within cooldown", h.api.createdCount())
	}
	at, ok := h.m.wheel.Deadline(CooldownKey("u1"))
	if !ok {
		t.Fatalf("cooldown timer not scheduled")
	}
	if want := h.clock.Now().Add(20 * time.Second); !at.Equal(want) {
		t.Fatalf("cooldown deadline = %v, want %v", at, want)
	}

	h.advance(19 * time.Second)
	if h.api.createdCount() != 1 {
		t.Fatalf("created = %d before cooldown elapsed", h.api.createdCount())
	}
	h.advance(time.Second)
	if h.api.createdCount() != 2 {
		t.Fatalf("created = %d, want 2 after cooldown", h.api.createdCount())
	}
	if h.api.created[1].Name != "👥alice's room" {
		t.Fatalf("deferred creation lost display name: %q", h.api.created[1].Name)
	}
	if _, ok := h.m.cooldownNames["u1"]; ok {
		t.Fatalf("cooldown name not cleaned up")
	}
}

func TestCooldownDropsWhenUserLeftLobby(t *testing.T) {
	h := newHarness(testSettings())
	h.join(testLobby, "u1", "alice")
	h.clock.Advance(5 * time.Second)
	h.join(testLobby, "u1", "alice")
	h.guild.move("u1", "elsewhere")

	h.advance(time.Minute)
	if h.api.createdCount() != 1 {
		t.Fatalf("created = %d, want 1", h.api.createdCount())
	}
}

func TestEmptyChannelDeletedAfterGrace(t *testing.T) {
	h := newHarness(testSettings())
	h.join(testLobby, "u1", "alice")
	h.leave("room-1", "u1")

	h.advance(29 * time.Second)
	if len(h.api.deletedChannels()) != 0 {
		t.Fatalf("deleted before grace elapsed")
	}
	h.advance(time.Second)
	if !slices.Equal(h.api.deletedChannels(), []string{"room-1"}) {
		t.Fatalf("deleted = %v, want [room-1]", h.api.deletedChannels())
	}
	if _, ok := h.store.get("room-1"); ok {
		t.Fatalf("config still persisted after deletion")
	}
	if h.m.wheel.Len() != 0 {
		t.Fatalf("pending timers = %d, want 0", h.m.wheel.Len())
	}
}

func TestRejoinBeforeGraceKeepsChannel(t *testing.T) {
	h := newHarness(testSettings())
	h.join(testLobby, "u1", "alice")
	h.leave("room-1", "u1")
	h.clock.Advance(10 * time.Second)
	h.join("room-1", "u2", "bob")

	h.advance(time.Minute)
	if len(h.api.deletedChannels()) != 0 {
		t.Fatalf("deleted = %v, want none while occupied", h.api.deletedChannels())
	}
}

func TestLobbyIsNeverDeleted(t *testing.T) {
	h := newHarness(testSettings())
	h.guild.move("u1", testLobby)
	h.leave(testLobby, "u1")
	h.m.wheel.Insert(LeaveKey(testLobby), h.clock.Now())
	h.store.configs[testLobby] = ChannelConfig{ChannelID: testLobby, OwnerID: "u1"}

	h.advance(time.Minute)
	if len(h.api.deletedChannels()) != 0 {
		t.Fatalf("lobby deleted: %v", h.api.deletedChannels())
	}
}

func TestJoinAfterCooldownCreatesImmediately(t *testing.T) {
	h := newHarness(testSettings())

	h.join(testLobby, "u1", "alice")
	h.leave("room-1", "u1")
	h.clock.Advance(testSettings().CreationCooldown)
	h.join(testLobby, "u1", "alice")

	if h.api.createdCount() != 2 {
		t.Fatalf("created = %d, want 2 at the end of the cooldown", h.api.createdCount())
	}
	if _, ok := h.m.wheel.Deadline(CooldownKey("u1")); ok {
		t.Fatalf("cooldown timer scheduled although the cooldown had elapsed")
	}
	if _, ok := h.m.cooldownNames["u1"]; ok {
		t.Fatalf("cooldown name recorded for an immediate creation")
	}
}

func TestUnknownOccupancyKeepsChannel(t *testing.T) {
	h := newHarness(testSettings())
	h.store.configs["c1"] = ChannelConfig{ChannelID: "c1", OwnerID: "u1"}
	h.guild.uncached = true
	h.m.wheel.Insert(LeaveKey("c1"), h.clock.Now())

	h.advance(time.Second)
	if len(h.api.deletedChannels()) != 0 {
		t.Fatalf("deleted with unknown occupancy: %v", h.api.deletedChannels())
	}
	at, ok := h.m.wheel.Deadline(LeaveKey("c1"))
	if !ok {
		t.Fatalf("sweep dropped instead of deferred while occupancy is unknown")
	}
	if want := h.clock.Now().Add(deleteRetryBase); !at.Equal(want) {
		t.Fatalf("deferred sweep at %v, want %v", at, want)
	}

	h.advance(deleteRetryBase)
	if _, ok := h.m.wheel.Deadline(LeaveKey("c1")); !ok {
		t.Fatalf("sweep not deferred again while occupancy is still unknown")
	}

	h.guild.uncached = false
	h.advance(deleteRetryCap)
	if got := h.api.deletedChannels(); len(got) != 1 || got[0] != "c1" {
		t.Fatalf("deleted = %v, want [c1] once the guild is cached", got)
	}
	if len(h.m.sweepDeferrals) != 0 {
		t.Fatalf("sweepDeferrals = %v, want empty", h.m.sweepDeferrals)
	}
}

func TestUnknownOccupancyWithoutConfigIsNotDeferred(t *testing.T) {
	h := newHarness(testSettings())
	h.guild.uncached = true
	h.m.wheel.Insert(LeaveKey("stranger"), h.clock.Now())

	h.advance(time.Second)
	if h.m.wheel.Len() != 0 {
		t.Fatalf("timers pending = %d for an unmanaged channel", h.m.wheel.Len())
	}
}

func TestFailedConfigDeleteKeepsChannelCounted(t *testing.T) {
	h := newHarness(testSettings())
	events, cancel := h.m.Subscribe()
	defer cancel()
	h.store.configs["c1"] = ChannelConfig{ChannelID: "c1", OwnerID: "u1"}
	h.store.failDelete = errors.New("db down")
	h.m.wheel.Insert(LeaveKey("c1"), h.clock.Now())

	h.advance(time.Second)
	if got := h.api.deletedChannels(); len(got) != 1 {
		t.Fatalf("deleted = %v, want the platform channel removed", got)
	}
	if _, ok := h.store.get("c1"); !ok {
		t.Fatalf("config vanished although its delete failed")
	}
	select {
	case ev := <-events:
		t.Fatalf("unexpected event %+v after a failed config delete", ev)
	default:
	}

	// The next sweep sees the channel gone and clears the row.
	h.store.failDelete = nil
	h.api.failDelete = ErrChannelGone
	h.m.wheel.Insert(LeaveKey("c1"), h.clock.Now())
	h.advance(time.Second)
	if _, ok := h.store.get("c1"); ok {
		t.Fatalf("config kept after the channel was reported gone")
	}
	select {
	case ev := <-events:
		if ev.Type != EventChannelDeleted {
			t.Fatalf("event = %+v, want channel_deleted", ev)
		}
	default:
		t.Fatalf("no channel_deleted event once the row was removed")
	}
}

func TestFailedDeleteKeepsRowForRetry(t *testing.T) {
	h := newHarness(testSettings())
	h.store.configs["c1"] = ChannelConfig{ChannelID: "c1", OwnerID: "u1"}
	h.api.failDelete = errors.New("missing permissions")
	h.m.wheel.Insert(LeaveKey("c1"), h.clock.Now())

	h.advance(time.Second)
	if _, ok := h.store.get("c1"); !ok {
		t.Fatalf("config removed although the channel delete failed")
	}

	h.api.failDelete = ErrChannelGone
	h.m.wheel.Insert(LeaveKey("c1"), h.clock.Now())
	h.advance(time.Second)
	if _, ok := h.store.get("c1"); ok {
		t.Fatalf("config kept although the channel is gone")
	}
}

func TestTransientDeleteFailureIsRetried(t *testing.T) {
	h := newHarness(testSettings())
	h.store.configs["c1"] = ChannelConfig{ChannelID: "c1", OwnerID: "u1"}
	h.api.failDelete = reliability.MarkTransient(errors.New("bad gateway"))
	h.m.wheel.Insert(LeaveKey("c1"), h.clock.Now())

	h.advance(time.Second)
	at, ok := h.m.wheel.Deadline(LeaveKey("c1"))
	if !ok {
		t.Fatalf("no retry scheduled after a transient delete failure")
	}
	if want := h.clock.Now().Add(deleteRetryBase); !at.Equal(want) {
		t.Fatalf("retry at %v, want %v", at, want)
	}

	h.api.failDelete = nil
	h.advance(deleteRetryBase)
	if _, ok := h.store.get("c1"); ok {
		t.Fatalf("config kept after the retried delete succeeded")
	}
	if len(h.m.deleteAttempts) != 0 {
		t.Fatalf("deleteAttempts = %v, want empty", h.m.deleteAttempts)
	}
}

func TestTransientDeleteRetriesAreBounded(t *testing.T) {
	h := newHarness(testSettings())
	h.store.configs["c1"] = ChannelConfig{ChannelID: "c1", OwnerID: "u1"}
	h.api.failDelete = reliability.MarkTransient(errors.New("bad gateway"))
	h.m.wheel.Insert(LeaveKey("c1"), h.clock.Now())

	for i := 0; i <= maxDeleteRetries+1; i++ {
		h.advance(deleteRetryCap)
	}
	if _, ok := h.m.wheel.Deadline(LeaveKey("c1")); ok {
		t.Fatalf("delete still rescheduled after %d attempts", maxDeleteRetries)
	}
	if _, ok := h.store.get("c1"); !ok {
		t.Fatalf("config removed although every delete failed")
	}
}

func TestOwnerAbsenceHandsOffToOccupant(t *testing.T) {
	h := newHarness(testSettings())
	h.join(testLobby, "owner", "alice")
	h.join("room-1", "u2", "bob")
	cfg, _ := h.store.get("room-1")
	cfg.DenyUsers = []string{"u2"}
	h.store.configs["room-1"] = cfg

	h.leave("room-1", "owner")
	h.advance(4 * time.Minute)
	if got, _ := h.store.get("room-1"); got.OwnerID != "owner" {
		t.Fatalf("owner changed early to %q", got.OwnerID)
	}

	h.advance(time.Minute)
	got, _ := h.store.get("room-1")
	if got.OwnerID != "u2" {
		t.Fatalf("OwnerID = %q, want u2", got.OwnerID)
	}
	if slices.Contains(got.DenyUsers, "u2") {
		t.Fatalf("new owner still deny-listed: %v", got.DenyUsers)
	}
	if _, ok := h.api.permissions["room-1"]; !ok {
		t.Fatalf("overlay not re-applied after handoff")
	}
	if _, ok := h.api.edited[got.ControlMessageID]; !ok {
		t.Fatalf("control message not refreshed after handoff")
	}
}

func TestOwnerReturnCancelsHandOff(t *testing.T) {
	h := newHarness(testSettings())
	h.join(testLobby, "owner", "alice")
	h.join("room-1", "u2", "bob")
	h.leave("room-1", "owner")
	h.clock.Advance(time.Minute)
	h.join("room-1", "owner", "alice")

	if _, ok := h.m.wheel.Deadline(OwnerAbsenceKey("room-1", "owner")); ok {
		t.Fatalf("owner absence timer still pending after return")
	}
	h.advance(10 * time.Minute)
	if got, _ := h.store.get("room-1"); got.OwnerID != "owner" {
		t.Fatalf("OwnerID = %q, want owner", got.OwnerID)
	}
}

func TestOwnerAbsenceDroppedWhenOwnershipMoved(t *testing.T) {
	h := newHarness(testSettings())
	h.join(testLobby, "owner", "alice")
	h.join("room-1", "u2", "bob")
	h.join("room-1", "u3", "carol")
	h.leave("room-1", "owner")

	cfg, _ := h.store.get("room-1")
	cfg.OwnerID = "u3"
	h.store.configs["room-1"] = cfg

	h.advance(6 * time.Minute)
	if got, _ := h.store.get("room-1"); got.OwnerID != "u3" {
		t.Fatalf("OwnerID = %q, want u3", got.OwnerID)
	}
}

func TestStartupSweepDeletesOnlyEmptyChannels(t *testing.T) {
	h := newHarness(testSettings())
	for _, id := range []string{"c1", "c2", "c3"} {
		h.store.configs[id] = ChannelConfig{ChannelID: id, OwnerID: "o-" + id}
	}
	h.guild.move("a", "c1")
	h.guild.move("b", "c3")

	h.m.rehydrate(context.Background())
	if h.m.wheel.Len() != 3 {
		t.Fatalf("pending timers = %d, want 3", h.m.wheel.Len())
	}
	h.advance(4 * time.Second)
	if len(h.api.deletedChannels()) != 0 {
		t.Fatalf("deleted before sweep delay")
	}
	h.advance(time.Second)
	if !slices.Equal(h.api.deletedChannels(), []string{"c2"}) {
		t.Fatalf("deleted = %v, want [c2]", h.api.deletedChannels())
	}
}

func TestRunProcessesCommandsAndTimers(t *testing.T) {
	settings := testSettings()
	settings.CreationCooldown = 20 * time.Millisecond
	settings.EmptyGrace = 20 * time.Millisecond
	settings.StartupSweep = 10 * time.Millisecond

	guild := newFakeGuild()
	store := newFakeStore()
	api := newFakeAPI(guild)
	m := NewManager(settings, store, api, guild, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- m.Run(ctx) }()

	guild.move("u1", testLobby)
	if err := m.Join(ctx, testLobby, "u1", "alice"); err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for api.createdCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if api.createdCount() != 1 {
		t.Fatalf("created = %d, want 1", api.createdCount())
	}
	if !m.Running() {
		t.Fatalf("Running() = false while loop is active")
	}

	guild.move("u1", "")
	if err := m.Leave(ctx, "room-1", "u1"); err != nil {
		t.Fatalf("Leave() error = %v", err)
	}
	deadline = time.Now().Add(time.Second)
	for len(api.deletedChannels()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !slices.Equal(api.deletedChannels(), []string{"room-1"}) {
		t.Fatalf("deleted = %v, want [room-1]", api.deletedChannels())
	}

	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Run() did not return after Shutdown")
	}
	if err := m.Join(ctx, testLobby, "u1", "alice"); !errors.Is(err, ErrStopped) {
		t.Fatalf("Join() after shutdown error = %v, want ErrStopped", err)
	}
	if m.Running() {
		t.Fatalf("Running() = true after shutdown")
	}
}
