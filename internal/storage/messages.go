package storage

import (
	"context"
	"sort"
)

type MessageRecord struct {
	GuildID     string
	ChannelID   string
	MessageID   string
	CategoryID  string
	InviteCodes []string
}

// InviteCounts aggregates distinct invite codes referenced by one channel.
type InviteCounts struct {
	Valid   int
	Invalid int
	Unknown int
}

func (c InviteCounts) Total() int {
	return c.Valid + c.Invalid + c.Unknown
}

// InsertMessage upserts the message; an edit replaces the stored code set.
func (s *Store) InsertMessage(ctx context.Context, record MessageRecord) error {
	codes := record.InviteCodes
	if codes == nil {
		codes = []string{}
	}
	return withRetryExec(ctx, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO message (guild_id, channel_id, message_id, category_id, invite_codes)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (guild_id, channel_id, message_id) DO UPDATE SET
				category_id = excluded.category_id,
				invite_codes = excluded.invite_codes`,
			record.GuildID,
			record.ChannelID,
			record.MessageID,
			record.CategoryID,
			codes,
		)
		return err
	})
}

func (s *Store) RemoveMessages(ctx context.Context, messageIDs []string) (int64, error) {
	if len(messageIDs) == 0 {
		return 0, nil
	}
	return s.deleteMessages(ctx, `DELETE FROM message WHERE message_id = ANY($1::text[])`, messageIDs)
}

func (s *Store) RemoveChannelMessages(ctx context.Context, channelID string) (int64, error) {
	return s.deleteMessages(ctx, `DELETE FROM message WHERE channel_id = $1`, channelID)
}

func (s *Store) RemoveGuildMessages(ctx context.Context, guildID string) (int64, error) {
	return s.deleteMessages(ctx, `DELETE FROM message WHERE guild_id = $1`, guildID)
}

// RemoveOldMessages deletes messages stored before the retention window and
// returns the affected channel ids keyed by guild id.
func (s *Store) RemoveOldMessages(ctx context.Context, retentionDays int) (map[string][]string, error) {
	return withRetry(ctx, func(ctx context.Context) (map[string][]string, error) {
		rows, err := s.pool.Query(ctx, `
			DELETE FROM message
			WHERE created_at < NOW() - make_interval(days => $1::int)
			RETURNING guild_id, channel_id`, retentionDays)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		seen := make(map[string]map[string]struct{})
		for rows.Next() {
			var guildID, channelID string
			if err := rows.Scan(&guildID, &channelID); err != nil {
				return nil, err
			}
			if seen[guildID] == nil {
				seen[guildID] = make(map[string]struct{})
			}
			seen[guildID][channelID] = struct{}{}
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}

		affected := make(map[string][]string, len(seen))
		for guildID, channels := range seen {
			ids := make([]string, 0, len(channels))
			for id := range channels {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			affected[guildID] = ids
		}
		return affected, nil
	})
}

// GetGuildInviteCounts counts each code once per channel no matter how many
// stored messages reference it. Channels with stored messages but no codes
// are present with zero counts.
func (s *Store) GetGuildInviteCounts(ctx context.Context, guildID string) (map[string]InviteCounts, error) {
	return withRetry(ctx, func(ctx context.Context) (map[string]InviteCounts, error) {
		rows, err := s.pool.Query(ctx, `
			WITH channel_invite AS (
				SELECT DISTINCT message.channel_id, codes.code
				FROM message
				LEFT JOIN LATERAL UNNEST(message.invite_codes) AS codes(code) ON TRUE
				WHERE message.guild_id = $1
			)
			SELECT
				channel_invite.channel_id,
				COUNT(channel_invite.code) FILTER (WHERE invite.updated_at IS NOT NULL AND invite.is_valid) AS valid_invites,
				COUNT(channel_invite.code) FILTER (WHERE invite.updated_at IS NOT NULL AND NOT COALESCE(invite.is_valid, FALSE)) AS invalid_invites,
				COUNT(channel_invite.code) FILTER (WHERE invite.updated_at IS NULL) AS unknown_invites
			FROM channel_invite
			LEFT JOIN invite ON invite.code = channel_invite.code
			GROUP BY channel_invite.channel_id`, guildID)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		counts := make(map[string]InviteCounts)
		for rows.Next() {
			var channelID string
			var valid, invalid, unknown int64
			if err := rows.Scan(&channelID, &valid, &invalid, &unknown); err != nil {
				return nil, err
			}
			counts[channelID] = InviteCounts{Valid: int(valid), Invalid: int(invalid), Unknown: int(unknown)}
		}
		return counts, rows.Err()
	})
}

func (s *Store) deleteMessages(ctx context.Context, query string, arg any) (int64, error) {
	return withRetry(ctx, func(ctx context.Context) (int64, error) {
		tag, err := s.pool.Exec(ctx, query, arg)
		if err != nil {
			return 0, err
		}
		return tag.RowsAffected(), nil
	})
}
