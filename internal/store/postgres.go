package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ent0n29/vcrooms/internal/privatevc"
)

// PostgresStore persists channel configs in the private_vcs table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to databaseURL. When migrate is set the
// embedded migrations are applied before the store is returned.
func NewPostgresStore(ctx context.Context, databaseURL string, migrate bool) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if migrate {
		if err := MigrateUp(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return &PostgresStore{pool: pool}, nil
}

const selectColumns = `channel_id, guild_id, owner_id, control_message_id, allow_roles, allow_users, deny_users, trusted_users`

func scanConfig(row pgx.Row) (privatevc.ChannelConfig, error) {
	var cfg privatevc.ChannelConfig
	err := row.Scan(
		&cfg.ChannelID,
		&cfg.GuildID,
		&cfg.OwnerID,
		&cfg.ControlMessageID,
		&cfg.AllowRoles,
		&cfg.AllowUsers,
		&cfg.DenyUsers,
		&cfg.TrustedUsers,
	)
	return normalize(cfg), err
}

func (s *PostgresStore) GetConfig(ctx context.Context, channelID string) (privatevc.ChannelConfig, error) {
	cfg, err := scanConfig(s.pool.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM private_vcs WHERE channel_id=$1`,
		channelID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return privatevc.ChannelConfig{}, privatevc.ErrNotFound
		}
		return privatevc.ChannelConfig{}, fmt.Errorf("get private vc: %w", err)
	}
	return cfg, nil
}

func (s *PostgresStore) ListConfigs(ctx context.Context) ([]privatevc.ChannelConfig, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+selectColumns+` FROM private_vcs ORDER BY created_at, channel_id`)
	if err != nil {
		return nil, fmt.Errorf("query private vcs: %w", err)
	}
	defer rows.Close()

	var out []privatevc.ChannelConfig
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("scan private vc row: %w", err)
		}
		out = append(out, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate private vc rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) UpsertConfig(ctx context.Context, cfg privatevc.ChannelConfig) error {
	cfg = normalize(cfg)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO private_vcs (channel_id, guild_id, owner_id, control_message_id, allow_roles, allow_users, deny_users, trusted_users)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (channel_id) DO UPDATE SET
			guild_id = EXCLUDED.guild_id,
			owner_id = EXCLUDED.owner_id,
			control_message_id = EXCLUDED.control_message_id,
			allow_roles = EXCLUDED.allow_roles,
			allow_users = EXCLUDED.allow_users,
			deny_users = EXCLUDED.deny_users,
			trusted_users = EXCLUDED.trusted_users,
			updated_at = now()`,
		cfg.ChannelID,
		cfg.GuildID,
		cfg.OwnerID,
		cfg.ControlMessageID,
		cfg.AllowRoles,
		cfg.AllowUsers,
		cfg.DenyUsers,
		cfg.TrustedUsers,
	)
	if err != nil {
		return fmt.Errorf("upsert private vc: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteConfig(ctx context.Context, channelID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM private_vcs WHERE channel_id=$1`, channelID); err != nil {
		return fmt.Errorf("delete private vc: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetControlMessage(ctx context.Context, channelID, messageID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE private_vcs SET control_message_id=$2, updated_at=now() WHERE channel_id=$1`,
		channelID,
		messageID,
	)
	if err != nil {
		return fmt.Errorf("set control message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return privatevc.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
