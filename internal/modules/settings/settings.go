// Package settings implements the per-guild configuration commands.
package settings

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"sakura/internal/cache"
	"sakura/internal/gate"
	"sakura/internal/storage"
	"sakura/internal/utils"

	"go.uber.org/zap"
)

var (
	ErrGuildNotConfigured    = errors.New("guild is not configured")
	ErrBusy                  = errors.New("an invite check or category scan is already running")
	ErrNotCategory           = errors.New("channel is not a category")
	ErrAlreadyTracked        = errors.New("category is already added")
	ErrNotTracked            = errors.New("category is not added")
	ErrAlreadyIgnored        = errors.New("channel is already ignored")
	ErrNotIgnored            = errors.New("channel is not ignored")
	ErrNoCategories          = errors.New("no categories added")
	ErrChannelMissing        = errors.New("channel is not available")
	ErrChannelForbidden      = errors.New("channel is not usable")
	ErrAlreadyResultsChannel = errors.New("channel is already the results channel")
	ErrInvalidColor          = errors.New("invalid hex color")
	ErrSameColor             = errors.New("color is already set")
)

// UnreadableChannelsError lists the children of a category the bot cannot
// read or post in.
type UnreadableChannelsError struct {
	ChannelIDs []string
}

func (e *UnreadableChannelsError) Error() string {
	return fmt.Sprintf("missing permissions in %d channel(s)", len(e.ChannelIDs))
}

type Store interface {
	GetGuild(ctx context.Context, guildID string) (storage.GuildConfig, error)
	AddCategoryChannel(ctx context.Context, guildID, channelID string) ([]string, error)
	RemoveCategoryChannel(ctx context.Context, guildID, channelID string) ([]string, error)
	AddIgnoredChannel(ctx context.Context, guildID, channelID string) ([]string, error)
	RemoveIgnoredChannel(ctx context.Context, guildID, channelID string) ([]string, error)
	SetResultsChannel(ctx context.Context, guildID, channelID string) error
	SetEmbedColor(ctx context.Context, guildID string, color int) error
}

type ChannelScanner interface {
	ScanChannel(ctx context.Context, guildID, channelID, parentID string) (int, error)
}

type PermissionChecker interface {
	HasMinimumChannelPermissions(channelID string) bool
}

type Service struct {
	cache        *cache.Cache
	gate         *gate.Gate
	perms        PermissionChecker
	store        Store
	scanner      ChannelScanner
	logger       *zap.Logger
	backfillWait time.Duration
	sleep        func(context.Context, time.Duration) error
}

func NewService(c *cache.Cache, g *gate.Gate, perms PermissionChecker, store Store, scanner ChannelScanner, logger *zap.Logger, backfillWait time.Duration) *Service {
	return &Service{
		cache:        c,
		gate:         g,
		perms:        perms,
		store:        store,
		scanner:      scanner,
		logger:       logger,
		backfillWait: backfillWait,
		sleep:        utils.SleepContext,
	}
}

type AddCategoryResult struct {
	Tracked  []string
	Channels int
	Messages int
}

// AddCategory backfills every child of the category and then starts tracking
// it. An unreadable child rejects the category before anything is stored. A
// failed backfill leaves the category untracked, though messages from the
// channels scanned before the failure stay stored.
func (s *Service) AddCategory(ctx context.Context, guildID, categoryID string) (AddCategoryResult, error) {
	guild, ok := s.cache.Guild(guildID)
	if !ok {
		return AddCategoryResult{}, ErrGuildNotConfigured
	}
	category, ok := s.cache.Channel(categoryID)
	if !ok || category.GuildID != guildID || category.Kind != cache.KindCategory {
		return AddCategoryResult{}, ErrNotCategory
	}
	if guild.TrackedCategoryIDs.Has(categoryID) {
		return AddCategoryResult{}, ErrAlreadyTracked
	}
	if guild.InCheck {
		return AddCategoryResult{}, ErrBusy
	}

	var children, unreadable []string
	for _, channel := range s.cache.GuildChannels(guildID) {
		if channel.ParentID != categoryID || channel.Kind == cache.KindCategory {
			continue
		}
		if s.perms.HasMinimumChannelPermissions(channel.ID) {
			children = append(children, channel.ID)
		} else {
			unreadable = append(unreadable, channel.ID)
		}
	}
	if len(unreadable) > 0 {
		return AddCategoryResult{}, &UnreadableChannelsError{ChannelIDs: unreadable}
	}

	release, err := s.gate.TryAcquire(guildID)
	if err != nil {
		return AddCategoryResult{}, ErrBusy
	}
	defer release()

	result := AddCategoryResult{Channels: len(children)}
	for _, channelID := range children {
		if err := s.sleep(ctx, s.backfillWait); err != nil {
			return AddCategoryResult{}, err
		}
		stored, err := s.scanner.ScanChannel(ctx, guildID, channelID, categoryID)
		if err != nil {
			return AddCategoryResult{}, fmt.Errorf("backfill channel %s: %w", channelID, err)
		}
		result.Messages += stored
	}

	tracked, err := s.store.AddCategoryChannel(ctx, guildID, categoryID)
	if err != nil {
		return AddCategoryResult{}, s.storeErr("add category", err)
	}
	s.refreshTracked(guildID, tracked)
	result.Tracked = tracked

	s.logger.Info("category added",
		zap.String("guild_id", guildID),
		zap.String("category_id", categoryID),
		zap.Int("channels", result.Channels),
		zap.Int("messages", result.Messages),
	)
	return result, nil
}

func (s *Service) RemoveCategory(ctx context.Context, guildID, categoryID string) ([]string, error) {
	guild, ok := s.cache.Guild(guildID)
	if !ok {
		return nil, ErrGuildNotConfigured
	}
	if !guild.TrackedCategoryIDs.Has(categoryID) {
		return nil, ErrNotTracked
	}
	tracked, err := s.store.RemoveCategoryChannel(ctx, guildID, categoryID)
	if err != nil {
		return nil, s.storeErr("remove category", err)
	}
	s.refreshTracked(guildID, tracked)
	return tracked, nil
}

func (s *Service) AddIgnored(ctx context.Context, guildID, channelID string) ([]string, error) {
	cfg, err := s.config(ctx, guildID)
	if err != nil {
		return nil, err
	}
	if contains(cfg.IgnoredChannelIDs, channelID) {
		return nil, ErrAlreadyIgnored
	}
	ignored, err := s.store.AddIgnoredChannel(ctx, guildID, channelID)
	if err != nil {
		return nil, s.storeErr("add ignored channel", err)
	}
	return ignored, nil
}

func (s *Service) RemoveIgnored(ctx context.Context, guildID, channelID string) ([]string, error) {
	cfg, err := s.config(ctx, guildID)
	if err != nil {
		return nil, err
	}
	if !contains(cfg.IgnoredChannelIDs, channelID) {
		return nil, ErrNotIgnored
	}
	ignored, err := s.store.RemoveIgnoredChannel(ctx, guildID, channelID)
	if err != nil {
		return nil, s.storeErr("remove ignored channel", err)
	}
	return ignored, nil
}

func (s *Service) SetResultsChannel(ctx context.Context, guildID, channelID string) error {
	cfg, err := s.config(ctx, guildID)
	if err != nil {
		return err
	}
	if cfg.ResultsChannelID == channelID {
		return ErrAlreadyResultsChannel
	}
	channel, ok := s.cache.Channel(channelID)
	if !ok || channel.GuildID != guildID || channel.Kind == cache.KindCategory {
		return ErrChannelMissing
	}
	if !s.perms.HasMinimumChannelPermissions(channelID) {
		return ErrChannelForbidden
	}
	if err := s.store.SetResultsChannel(ctx, guildID, channelID); err != nil {
		return s.storeErr("set results channel", err)
	}
	return nil
}

// SetEmbedColor parses a hex color such as "#f8f8ff" or "ff" and stores it.
func (s *Service) SetEmbedColor(ctx context.Context, guildID, hex string) (int, error) {
	color, err := ParseColor(hex)
	if err != nil {
		return 0, err
	}
	cfg, err := s.config(ctx, guildID)
	if err != nil {
		return 0, err
	}
	if cfg.EmbedColor == color {
		return color, ErrSameColor
	}
	if err := s.store.SetEmbedColor(ctx, guildID, color); err != nil {
		return 0, s.storeErr("set embed color", err)
	}
	return color, nil
}

func ParseColor(hex string) (int, error) {
	value := strings.TrimPrefix(strings.TrimSpace(hex), "#")
	if value == "" || len(value) > 6 {
		return 0, ErrInvalidColor
	}
	color, err := strconv.ParseUint(value, 16, 32)
	if err != nil {
		return 0, ErrInvalidColor
	}
	return int(color), nil
}

// FormatColor renders a color as "#RRGGBB".
func FormatColor(color int) string {
	return fmt.Sprintf("#%06X", color)
}

type ChannelRef struct {
	ID     string
	Name   string
	Exists bool
}

type Overview struct {
	Categories     []ChannelRef
	Ignored        []ChannelRef
	ResultsChannel *ChannelRef
	EmbedColor     int
	LastCheckedAt  *time.Time
}

func (s *Service) Show(ctx context.Context, guildID string) (Overview, error) {
	cfg, err := s.config(ctx, guildID)
	if err != nil {
		return Overview{}, err
	}
	overview := Overview{
		Categories:    s.refs(cfg.CategoryChannelIDs),
		Ignored:       s.refs(cfg.IgnoredChannelIDs),
		EmbedColor:    cfg.EmbedColor,
		LastCheckedAt: cfg.LastCheckedAt,
	}
	if cfg.ResultsChannelID != "" {
		ref := s.ref(cfg.ResultsChannelID)
		overview.ResultsChannel = &ref
	}
	return overview, nil
}

type CategoryCount struct {
	CategoryID   string
	Name         string
	Announcement int
	Text         int
	Ignored      int
}

// Counts tallies the channel kinds inside each tracked category, ordered the
// way Discord lists the categories.
func (s *Service) Counts(ctx context.Context, guildID string) ([]CategoryCount, error) {
	cfg, err := s.config(ctx, guildID)
	if err != nil {
		return nil, err
	}
	if len(cfg.CategoryChannelIDs) == 0 {
		return nil, ErrNoCategories
	}
	tracked := cache.NewIDSet(cfg.CategoryChannelIDs...)
	ignored := cache.NewIDSet(cfg.IgnoredChannelIDs...)

	channels := s.cache.GuildChannels(guildID)
	var counts []CategoryCount
	index := make(map[string]int)
	for _, channel := range channels {
		if channel.Kind == cache.KindCategory && tracked.Has(channel.ID) {
			index[channel.ID] = len(counts)
			counts = append(counts, CategoryCount{CategoryID: channel.ID, Name: channel.Name})
		}
	}
	for _, channel := range channels {
		i, ok := index[channel.ParentID]
		if !ok || channel.Kind == cache.KindCategory {
			continue
		}
		switch channel.Kind {
		case cache.KindAnnouncement:
			counts[i].Announcement++
		case cache.KindText:
			counts[i].Text++
		}
		if ignored.Has(channel.ID) {
			counts[i].Ignored++
		}
	}
	return counts, nil
}

func (s *Service) config(ctx context.Context, guildID string) (storage.GuildConfig, error) {
	cfg, err := s.store.GetGuild(ctx, guildID)
	if err != nil {
		return storage.GuildConfig{}, s.storeErr("load guild config", err)
	}
	return cfg, nil
}

func (s *Service) storeErr(op string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return ErrGuildNotConfigured
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s *Service) refreshTracked(guildID string, tracked []string) {
	s.cache.UpdateGuild(guildID, cache.GuildUpdate{TrackedCategoryIDs: cache.NewIDSet(tracked...)})
}

func (s *Service) refs(ids []string) []ChannelRef {
	refs := make([]ChannelRef, 0, len(ids))
	for _, id := range ids {
		refs = append(refs, s.ref(id))
	}
	return refs
}

func (s *Service) ref(id string) ChannelRef {
	channel, ok := s.cache.Channel(id)
	if !ok {
		return ChannelRef{ID: id}
	}
	return ChannelRef{ID: id, Name: channel.Name, Exists: true}
}

func contains(ids []string, id string) bool {
	for _, existing := range ids {
		if existing == id {
			return true
		}
	}
	return false
}
