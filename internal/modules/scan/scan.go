// Package scan records invite-bearing messages posted inside tracked
// categories.
package scan

import (
	"context"
	"errors"
	"fmt"

	"sakura/internal/gate"
	"sakura/internal/invites"
	"sakura/internal/storage"

	"go.uber.org/zap"
)

var (
	// ErrFetch wraps failures of the upstream message fetch.
	ErrFetch     = errors.New("fetch messages")
	ErrNoInvites = errors.New("no invite codes found")
)

type Message struct {
	ID                string
	GuildID           string
	ChannelID         string
	Content           string
	EmbedDescriptions []string
}

type MessageFetcher interface {
	RecentMessages(ctx context.Context, channelID string, limit int) ([]Message, error)
}

type MessageStore interface {
	InsertUncheckedInvites(ctx context.Context, codes []string) error
	InsertMessage(ctx context.Context, record storage.MessageRecord) error
}

type Tracker struct {
	gate    *gate.Gate
	fetcher MessageFetcher
	store   MessageStore
	logger  *zap.Logger
	limit   int
}

func NewTracker(g *gate.Gate, fetcher MessageFetcher, store MessageStore, logger *zap.Logger, limit int) *Tracker {
	if limit <= 0 {
		limit = 10
	}
	return &Tracker{gate: g, fetcher: fetcher, store: store, logger: logger, limit: limit}
}

// TrackMessage stores the message if its channel sits under a tracked
// category. tracked is false when the message was ignored.
func (t *Tracker) TrackMessage(ctx context.Context, message Message) ([]string, bool, error) {
	guildID, parentID, ok := t.gate.TrackedParent(message.ChannelID)
	if !ok {
		return nil, false, nil
	}
	if message.GuildID != "" && message.GuildID != guildID {
		return nil, false, nil
	}
	message.GuildID = guildID
	codes, err := t.StoreMessage(ctx, message, parentID)
	if err != nil {
		return nil, false, err
	}
	return codes, true, nil
}

// QueueMessage stores a message picked by a user so its codes join the next
// check. It reports why the message was rejected through the gate errors and
// ErrNoInvites.
func (t *Tracker) QueueMessage(ctx context.Context, message Message) ([]string, error) {
	if _, _, err := t.gate.ResolveParent(message.ChannelID); err != nil {
		return nil, err
	}
	if len(invites.Extract(message.Content, message.EmbedDescriptions)) == 0 {
		return nil, ErrNoInvites
	}
	codes, tracked, err := t.TrackMessage(ctx, message)
	if err != nil {
		return nil, err
	}
	if !tracked {
		return nil, gate.ErrNotTracked
	}
	return codes, nil
}

// StoreMessage extracts and persists codes without checking that parentID is
// tracked. Messages without codes are still recorded so the channel counts
// as scanned.
func (t *Tracker) StoreMessage(ctx context.Context, message Message, parentID string) ([]string, error) {
	codes := invites.Extract(message.Content, message.EmbedDescriptions)
	if err := t.store.InsertUncheckedInvites(ctx, codes); err != nil {
		return nil, fmt.Errorf("insert unchecked invites: %w", err)
	}
	record := storage.MessageRecord{
		GuildID:     message.GuildID,
		ChannelID:   message.ChannelID,
		MessageID:   message.ID,
		CategoryID:  parentID,
		InviteCodes: codes,
	}
	if err := t.store.InsertMessage(ctx, record); err != nil {
		return nil, fmt.Errorf("insert message %s: %w", message.ID, err)
	}
	return codes, nil
}

// ScanChannel fetches the most recent messages of a channel and stores each
// one under parentID. It returns the number of messages stored.
func (t *Tracker) ScanChannel(ctx context.Context, guildID, channelID, parentID string) (int, error) {
	messages, err := t.fetcher.RecentMessages(ctx, channelID, t.limit)
	if err != nil {
		return 0, fmt.Errorf("%w %s: %v", ErrFetch, channelID, err)
	}

	stored := 0
	for _, message := range messages {
		message.GuildID = guildID
		message.ChannelID = channelID
		if _, err := t.StoreMessage(ctx, message, parentID); err != nil {
			return stored, err
		}
		stored++
	}
	t.logger.Debug("channel scanned", zap.String("guild_id", guildID), zap.String("channel_id", channelID), zap.Int("messages", stored))
	return stored, nil
}
