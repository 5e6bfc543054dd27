package check

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sakura/internal/cache"
	"sakura/internal/gate"
	"sakura/internal/modules/audit"
	"sakura/internal/storage"

	"go.uber.org/zap"
)

var (
	ErrGuildNotConfigured      = errors.New("guild is not configured")
	ErrCheckInProgress         = errors.New("an invite check or category scan is already running")
	ErrNoCategories            = errors.New("no categories to check")
	ErrNoResultsChannel        = errors.New("no results channel set")
	ErrResultsChannelMissing   = errors.New("results channel no longer exists")
	ErrResultsChannelForbidden = errors.New("results channel is not usable")
)

type State string

const (
	StateIdle      State = "idle"
	StateGated     State = "gated"
	StateScanning  State = "scanning"
	StateReporting State = "reporting"
)

type Status int

const (
	StatusClean Status = iota
	StatusInvalid
	StatusUnknown
	StatusUntracked
	StatusIgnored
)

func (s Status) String() string {
	switch s {
	case StatusIgnored:
		return "IGNORED"
	case StatusUntracked:
		return "UNTRACKED"
	case StatusUnknown:
		return "UNKNOWN"
	case StatusInvalid:
		return "INVALID"
	default:
		return "CLEAN"
	}
}

type ChannelResult struct {
	ChannelID string
	Name      string
	Status    Status
	Counts    storage.InviteCounts
}

type CategoryReport struct {
	CategoryID string
	Name       string
	Channels   []ChannelResult
}

type Summary struct {
	GuildID          string
	ResultsChannelID string
	EmbedColor       int
	Categories       int
	Channels         int
	Valid            int
	Invalid          int
	Unknown          int
	StartedAt        time.Time
	FinishedAt       time.Time
}

func (s Summary) Total() int {
	return s.Valid + s.Invalid + s.Unknown
}

func (s Summary) Elapsed() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// Percent returns part as a percentage of total, or 0 when total is 0.
func Percent(part, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(part) * 100 / float64(total)
}

// StartInfo is handed to the caller once the gate is held.
type StartInfo struct {
	ResultsChannelID string
	EmbedColor       int
}

type Store interface {
	GetGuild(ctx context.Context, guildID string) (storage.GuildConfig, error)
	GetGuildInviteCounts(ctx context.Context, guildID string) (map[string]storage.InviteCounts, error)
	SetLastCheckedAt(ctx context.Context, guildID string, checkedAt time.Time) error
}

type PermissionChecker interface {
	HasMinimumChannelPermissions(channelID string) bool
}

type Reporter interface {
	SendCategory(ctx context.Context, channelID string, embedColor int, report CategoryReport) error
	SendSummary(ctx context.Context, channelID string, embedColor int, summary Summary) error
}

type Auditor interface {
	CheckCompleted(ctx context.Context, event audit.CheckEvent)
}

type Orchestrator struct {
	cache    *cache.Cache
	gate     *gate.Gate
	perms    PermissionChecker
	store    Store
	reporter Reporter
	auditor  Auditor
	logger   *zap.Logger
	now      func() time.Time
}

func NewOrchestrator(c *cache.Cache, g *gate.Gate, perms PermissionChecker, store Store, reporter Reporter, auditor Auditor, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		cache:    c,
		gate:     g,
		perms:    perms,
		store:    store,
		reporter: reporter,
		auditor:  auditor,
		logger:   logger,
		now:      time.Now,
	}
}

func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// Run performs a full invite check for the guild. Precondition failures
// return before any state changes. Once the gate is held it is released on
// every return path.
func (o *Orchestrator) Run(ctx context.Context, guildID string, onStart func(StartInfo)) (Summary, error) {
	cfg, err := o.preconditions(ctx, guildID)
	if err != nil {
		return Summary{}, err
	}

	release, err := o.gate.TryAcquire(guildID)
	if err != nil {
		if errors.Is(err, gate.ErrUnknownGuild) {
			return Summary{}, ErrGuildNotConfigured
		}
		return Summary{}, ErrCheckInProgress
	}
	defer func() {
		release()
		o.transition(guildID, StateIdle)
	}()
	o.transition(guildID, StateGated)

	summary := Summary{
		GuildID:          guildID,
		ResultsChannelID: cfg.ResultsChannelID,
		EmbedColor:       cfg.EmbedColor,
		StartedAt:        o.now(),
	}
	if onStart != nil {
		onStart(StartInfo{ResultsChannelID: cfg.ResultsChannelID, EmbedColor: cfg.EmbedColor})
	}

	o.transition(guildID, StateScanning)
	counts, err := o.store.GetGuildInviteCounts(ctx, guildID)
	if err != nil {
		return Summary{}, fmt.Errorf("load invite counts: %w", err)
	}
	reports := o.buildReports(guildID, cfg, counts, &summary)

	o.transition(guildID, StateReporting)
	for _, report := range reports {
		if err := o.reporter.SendCategory(ctx, cfg.ResultsChannelID, cfg.EmbedColor, report); err != nil {
			return Summary{}, fmt.Errorf("send category %s: %w", report.CategoryID, err)
		}
	}
	summary.FinishedAt = o.now()
	if err := o.reporter.SendSummary(ctx, cfg.ResultsChannelID, cfg.EmbedColor, summary); err != nil {
		return Summary{}, fmt.Errorf("send summary: %w", err)
	}

	o.record(ctx, summary)
	return summary, nil
}

func (o *Orchestrator) preconditions(ctx context.Context, guildID string) (storage.GuildConfig, error) {
	if _, ok := o.cache.Guild(guildID); !ok {
		return storage.GuildConfig{}, ErrGuildNotConfigured
	}
	cfg, err := o.store.GetGuild(ctx, guildID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.GuildConfig{}, ErrGuildNotConfigured
		}
		return storage.GuildConfig{}, fmt.Errorf("load guild config: %w", err)
	}
	if o.gate.InCheck(guildID) {
		return storage.GuildConfig{}, ErrCheckInProgress
	}
	if len(cfg.CategoryChannelIDs) == 0 {
		return storage.GuildConfig{}, ErrNoCategories
	}
	if cfg.ResultsChannelID == "" {
		return storage.GuildConfig{}, ErrNoResultsChannel
	}
	if _, ok := o.cache.Channel(cfg.ResultsChannelID); !ok {
		return storage.GuildConfig{}, ErrResultsChannelMissing
	}
	if !o.perms.HasMinimumChannelPermissions(cfg.ResultsChannelID) {
		return storage.GuildConfig{}, ErrResultsChannelForbidden
	}
	return cfg, nil
}

func (o *Orchestrator) buildReports(guildID string, cfg storage.GuildConfig, counts map[string]storage.InviteCounts, summary *Summary) []CategoryReport {
	tracked := cache.NewIDSet(cfg.CategoryChannelIDs...)
	ignored := cache.NewIDSet(cfg.IgnoredChannelIDs...)

	channels := o.cache.GuildChannels(guildID)
	var reports []CategoryReport
	index := make(map[string]int)
	for _, channel := range channels {
		if channel.Kind == cache.KindCategory && tracked.Has(channel.ID) {
			index[channel.ID] = len(reports)
			reports = append(reports, CategoryReport{CategoryID: channel.ID, Name: channel.Name})
		}
	}
	for _, channel := range channels {
		if channel.Kind == cache.KindCategory {
			continue
		}
		i, ok := index[channel.ParentID]
		if !ok {
			continue
		}
		result := ChannelResult{ChannelID: channel.ID, Name: channel.Name}
		channelCounts, stored := counts[channel.ID]
		switch {
		case ignored.Has(channel.ID):
			result.Status = StatusIgnored
		case !stored:
			result.Status = StatusUntracked
		default:
			result.Counts = channelCounts
			result.Status = Classify(channelCounts)
			summary.Valid += channelCounts.Valid
			summary.Invalid += channelCounts.Invalid
			summary.Unknown += channelCounts.Unknown
		}
		summary.Channels++
		reports[i].Channels = append(reports[i].Channels, result)
	}
	summary.Categories = len(reports)
	return reports
}

// Classify ranks a channel with unknown codes above one with invalid codes.
func Classify(counts storage.InviteCounts) Status {
	switch {
	case counts.Unknown > 0:
		return StatusUnknown
	case counts.Invalid > 0:
		return StatusInvalid
	default:
		return StatusClean
	}
}

func (o *Orchestrator) record(ctx context.Context, summary Summary) {
	total := summary.Total()
	if o.auditor != nil {
		o.auditor.CheckCompleted(ctx, audit.CheckEvent{
			GuildID:          summary.GuildID,
			Categories:       summary.Categories,
			Channels:         summary.Channels,
			Valid:            summary.Valid,
			Invalid:          summary.Invalid,
			Unknown:          summary.Unknown,
			Total:            total,
			StartedAt:        summary.StartedAt,
			FinishedAt:       summary.FinishedAt,
			ValidPercent:     Percent(summary.Valid, total),
			InvalidPercent:   Percent(summary.Invalid, total),
			ResultsChannelID: summary.ResultsChannelID,
		})
	}
	if err := o.store.SetLastCheckedAt(ctx, summary.GuildID, summary.FinishedAt); err != nil {
		o.logger.Warn("set last checked failed", zap.Error(err), zap.String("guild_id", summary.GuildID))
	}
}

func (o *Orchestrator) transition(guildID string, state State) {
	o.logger.Debug("check state", zap.String("guild_id", guildID), zap.String("state", string(state)))
}
