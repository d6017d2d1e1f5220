package postgres

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS source_channel (
		username          TEXT PRIMARY KEY,
		last_update_check TIMESTAMPTZ,
		last_post_id      BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS post (
		id               BIGINT NOT NULL,
		channel_username TEXT NOT NULL,
		text             TEXT,
		created_at       TIMESTAMPTZ NOT NULL,
		mark             TEXT CHECK (mark IN ('used', 'ad')),
		PRIMARY KEY (id, channel_username)
	)`,
	`CREATE INDEX IF NOT EXISTS post_channel_created_idx ON post (channel_username, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS media (
		id                    BIGSERIAL PRIMARY KEY,
		post_id               BIGINT NOT NULL,
		post_channel_username TEXT NOT NULL,
		position              INT NOT NULL,
		kind                  TEXT NOT NULL,
		url                   TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS media_post_idx ON media (post_channel_username, post_id)`,
	`CREATE TABLE IF NOT EXISTS target_channel (
		id          BIGINT PRIMARY KEY,
		invite_link TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS donor (
		username   TEXT NOT NULL,
		channel_id BIGINT NOT NULL,
		PRIMARY KEY (username, channel_id)
	)`,
}

// EnsureSchema creates missing tables and indexes.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
