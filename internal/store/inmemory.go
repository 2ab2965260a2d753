package store

import (
	"context"
	"slices"
	"sync"

	"github.com/ent0n29/vcrooms/internal/privatevc"
)

// InMemoryStore keeps channel configs in process memory. It is used when no
// database is configured; configs do not survive a restart.
type InMemoryStore struct {
	mu      sync.RWMutex
	configs map[string]privatevc.ChannelConfig
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{configs: make(map[string]privatevc.ChannelConfig)}
}

func (s *InMemoryStore) GetConfig(_ context.Context, channelID string) (privatevc.ChannelConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.configs[channelID]
	if !ok {
		return privatevc.ChannelConfig{}, privatevc.ErrNotFound
	}
	return cfg.Clone(), nil
}

func (s *InMemoryStore) ListConfigs(context.Context) ([]privatevc.ChannelConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]privatevc.ChannelConfig, 0, len(s.configs))
	for _, cfg := range s.configs {
		out = append(out, cfg.Clone())
	}
	slices.SortFunc(out, func(a, b privatevc.ChannelConfig) int {
		return compareIDs(a.ChannelID, b.ChannelID)
	})
	return out, nil
}

func (s *InMemoryStore) UpsertConfig(_ context.Context, cfg privatevc.ChannelConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[cfg.ChannelID] = normalize(cfg.Clone())
	return nil
}

func (s *InMemoryStore) DeleteConfig(_ context.Context, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.configs, channelID)
	return nil
}

func (s *InMemoryStore) SetControlMessage(_ context.Context, channelID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[channelID]
	if !ok {
		return privatevc.ErrNotFound
	}
	cfg.ControlMessageID = messageID
	s.configs[channelID] = cfg
	return nil
}

func (s *InMemoryStore) Ping(context.Context) error { return nil }

func (s *InMemoryStore) Close() error { return nil }

// normalize replaces nil lists with empty ones so both backends return the
// same shape.
func normalize(cfg privatevc.ChannelConfig) privatevc.ChannelConfig {
	if cfg.AllowRoles == nil {
		cfg.AllowRoles = []string{}
	}
	if cfg.AllowUsers == nil {
		cfg.AllowUsers = []string{}
	}
	if cfg.DenyUsers == nil {
		cfg.DenyUsers = []string{}
	}
	if cfg.TrustedUsers == nil {
		cfg.TrustedUsers = []string{}
	}
	return cfg
}

// compareIDs orders platform snowflakes numerically when they have the same
// length, which matches creation order.
func compareIDs(a, b string) int {
	if len(a) != len(b) {
		return len(a) - len(b)
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
