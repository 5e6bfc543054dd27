package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

type EventKind string

const (
	EventGuildCreate       EventKind = "GUILD_CREATE"
	EventGuildDelete       EventKind = "GUILD_DELETE"
	EventInviteCheckCreate EventKind = "INVITE_CHECK_CREATE"
)

type Event struct {
	ID        int64
	Kind      EventKind
	GuildID   string
	Payload   json.RawMessage
	CreatedAt time.Time
}

func (s *Store) InsertEvent(ctx context.Context, kind EventKind, guildID string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return withRetryExec(ctx, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO event_log (event, guild_id, payload)
			VALUES ($1, $2, $3::jsonb)`, string(kind), guildID, string(body))
		return err
	})
}

// ListEvents returns a guild's events of one kind created at or after since,
// newest first.
func (s *Store) ListEvents(ctx context.Context, guildID string, kind EventKind, since time.Time) ([]Event, error) {
	return withRetry(ctx, func(ctx context.Context) ([]Event, error) {
		rows, err := s.pool.Query(ctx, `
			SELECT id, event, guild_id, payload, created_at
			FROM event_log
			WHERE guild_id = $1 AND event = $2 AND created_at >= $3
			ORDER BY created_at DESC, id DESC`, guildID, string(kind), since)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var events []Event
		for rows.Next() {
			var event Event
			var kindValue string
			var payload []byte
			if err := rows.Scan(&event.ID, &kindValue, &event.GuildID, &payload, &event.CreatedAt); err != nil {
				return nil, err
			}
			event.Kind = EventKind(kindValue)
			event.Payload = json.RawMessage(payload)
			events = append(events, event)
		}
		return events, rows.Err()
	})
}
