package storage

import (
	"context"
	"time"
)

const DefaultEmbedColor = 0xF8F8FF

// GuildConfig is the persisted per-guild configuration.
type GuildConfig struct {
	GuildID            string
	CategoryChannelIDs []string
	IgnoredChannelIDs  []string
	EmbedColor         int
	ResultsChannelID   string
	LastCheckedAt      *time.Time
}

func (s *Store) GetGuild(ctx context.Context, guildID string) (GuildConfig, error) {
	return withRetry(ctx, func(ctx context.Context) (GuildConfig, error) {
		row := s.pool.QueryRow(ctx, `
			SELECT guild_id, category_channel_ids, ignored_channel_ids, embed_color,
			results_channel_id, last_checked_at
			FROM guild WHERE guild_id = $1`, guildID)

		var cfg GuildConfig
		var resultsChannelID *string
		err := row.Scan(
			&cfg.GuildID,
			&cfg.CategoryChannelIDs,
			&cfg.IgnoredChannelIDs,
			&cfg.EmbedColor,
			&resultsChannelID,
			&cfg.LastCheckedAt,
		)
		if err != nil {
			if isNoRows(err) {
				return GuildConfig{}, ErrNotFound
			}
			return GuildConfig{}, err
		}
		if resultsChannelID != nil {
			cfg.ResultsChannelID = *resultsChannelID
		}
		return cfg, nil
	})
}

// InsertGuild creates the config row and reports whether it was new.
func (s *Store) InsertGuild(ctx context.Context, guildID string) (bool, error) {
	return withRetry(ctx, func(ctx context.Context) (bool, error) {
		tag, err := s.pool.Exec(ctx, `
			INSERT INTO guild (guild_id) VALUES ($1)
			ON CONFLICT (guild_id) DO NOTHING`, guildID)
		if err != nil {
			return false, err
		}
		return tag.RowsAffected() == 1, nil
	})
}

func (s *Store) RemoveGuild(ctx context.Context, guildID string) error {
	return withRetryExec(ctx, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, `DELETE FROM guild WHERE guild_id = $1`, guildID)
		return err
	})
}

// AddCategoryChannel returns the updated tracked category set.
func (s *Store) AddCategoryChannel(ctx context.Context, guildID, channelID string) ([]string, error) {
	return s.updateChannelArray(ctx, `
		UPDATE guild
		SET category_channel_ids = ARRAY(SELECT DISTINCT UNNEST(ARRAY_APPEND(category_channel_ids, $2::text)))
		WHERE guild_id = $1
		RETURNING category_channel_ids`, guildID, channelID)
}

func (s *Store) RemoveCategoryChannel(ctx context.Context, guildID, channelID string) ([]string, error) {
	return s.updateChannelArray(ctx, `
		UPDATE guild
		SET category_channel_ids = ARRAY_REMOVE(category_channel_ids, $2::text)
		WHERE guild_id = $1
		RETURNING category_channel_ids`, guildID, channelID)
}

// AddIgnoredChannel returns the updated ignored channel set.
func (s *Store) AddIgnoredChannel(ctx context.Context, guildID, channelID string) ([]string, error) {
	return s.updateChannelArray(ctx, `
		UPDATE guild
		SET ignored_channel_ids = ARRAY(SELECT DISTINCT UNNEST(ARRAY_APPEND(ignored_channel_ids, $2::text)))
		WHERE guild_id = $1
		RETURNING ignored_channel_ids`, guildID, channelID)
}

func (s *Store) RemoveIgnoredChannel(ctx context.Context, guildID, channelID string) ([]string, error) {
	return s.updateChannelArray(ctx, `
		UPDATE guild
		SET ignored_channel_ids = ARRAY_REMOVE(ignored_channel_ids, $2::text)
		WHERE guild_id = $1
		RETURNING ignored_channel_ids`, guildID, channelID)
}

// RemoveChannel drops a deleted channel from every per-guild config entry and
// returns the remaining tracked categories.
func (s *Store) RemoveChannel(ctx context.Context, guildID, channelID string) ([]string, error) {
	return s.updateChannelArray(ctx, `
		UPDATE guild
		SET category_channel_ids = ARRAY_REMOVE(category_channel_ids, $2::text),
			ignored_channel_ids = ARRAY_REMOVE(ignored_channel_ids, $2::text),
			results_channel_id = NULLIF(results_channel_id, $2::text)
		WHERE guild_id = $1
		RETURNING category_channel_ids`, guildID, channelID)
}

func (s *Store) SetResultsChannel(ctx context.Context, guildID, channelID string) error {
	return s.updateGuild(ctx, `UPDATE guild SET results_channel_id = $2 WHERE guild_id = $1`, guildID, channelID)
}

func (s *Store) SetEmbedColor(ctx context.Context, guildID string, color int) error {
	return s.updateGuild(ctx, `UPDATE guild SET embed_color = $2 WHERE guild_id = $1`, guildID, color)
}

func (s *Store) SetLastCheckedAt(ctx context.Context, guildID string, checkedAt time.Time) error {
	return s.updateGuild(ctx, `UPDATE guild SET last_checked_at = $2 WHERE guild_id = $1`, guildID, checkedAt)
}

func (s *Store) updateGuild(ctx context.Context, query, guildID string, value any) error {
	return withRetryExec(ctx, func(ctx context.Context) error {
		tag, err := s.pool.Exec(ctx, query, guildID, value)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *Store) updateChannelArray(ctx context.Context, query, guildID, channelID string) ([]string, error) {
	return withRetry(ctx, func(ctx context.Context) ([]string, error) {
		var ids []string
		if err := s.pool.QueryRow(ctx, query, guildID, channelID).Scan(&ids); err != nil {
			if isNoRows(err) {
				return nil, ErrNotFound
			}
			return nil, err
		}
		return ids, nil
	})
}
