package audit

import (
	"context"
	"time"

	"sakura/internal/storage"

	"go.uber.org/zap"
)

// EventStore persists event-log rows.
type EventStore interface {
	InsertEvent(ctx context.Context, kind storage.EventKind, guildID string, payload any) error
}

// CheckEvent is the payload recorded after a completed invite check.
type CheckEvent struct {
	GuildID          string    `json:"guild_id"`
	Categories       int       `json:"categories"`
	Channels         int       `json:"channels"`
	Valid            int       `json:"valid"`
	Invalid          int       `json:"invalid"`
	Unknown          int       `json:"unknown"`
	Total            int       `json:"total"`
	StartedAt        time.Time `json:"start_time"`
	FinishedAt       time.Time `json:"end_time"`
	ValidPercent     float64   `json:"valid_percent"`
	InvalidPercent   float64   `json:"invalid_percent"`
	ResultsChannelID string    `json:"results_channel_id"`
}

type guildPayload struct {
	GuildID string `json:"guild_id"`
	Name    string `json:"name,omitempty"`
}

type Logger struct {
	store  EventStore
	logger *zap.Logger
	notify func(context.Context, storage.EventKind, string)
}

func NewLogger(store EventStore, logger *zap.Logger) *Logger {
	return &Logger{store: store, logger: logger}
}

// SetNotifier registers a callback invoked after every recorded event.
func (l *Logger) SetNotifier(notify func(ctx context.Context, kind storage.EventKind, guildID string)) {
	l.notify = notify
}

func (l *Logger) GuildJoined(ctx context.Context, guildID, name string) {
	l.record(ctx, storage.EventGuildCreate, guildID, guildPayload{GuildID: guildID, Name: name})
}

func (l *Logger) GuildLeft(ctx context.Context, guildID string) {
	l.record(ctx, storage.EventGuildDelete, guildID, guildPayload{GuildID: guildID})
}

func (l *Logger) CheckCompleted(ctx context.Context, event CheckEvent) {
	l.record(ctx, storage.EventInviteCheckCreate, event.GuildID, event)
}

func (l *Logger) record(ctx context.Context, kind storage.EventKind, guildID string, payload any) {
	if l.store != nil {
		if err := l.store.InsertEvent(ctx, kind, guildID, payload); err != nil {
			l.logger.Warn("event log insert failed", zap.Error(err), zap.String("event", string(kind)), zap.String("guild_id", guildID))
		}
	}
	if l.notify != nil {
		l.notify(ctx, kind, guildID)
	}
	l.logger.Info("audit", zap.String("event", string(kind)), zap.String("guild_id", guildID), zap.Any("payload", payload))
}
