package recycle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"sakura/internal/cache"
	"sakura/internal/gate"
	"sakura/internal/modules/scan"
	"sakura/internal/utils"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

type Store interface {
	RemoveOldInvites(ctx context.Context, retentionDays int) (int64, error)
	RemoveOldMessages(ctx context.Context, retentionDays int) (map[string][]string, error)
}

type ChannelScanner interface {
	ScanChannel(ctx context.Context, guildID, channelID, parentID string) (int, error)
}

type Options struct {
	RetentionDays int
	ChannelDelay  time.Duration
	Concurrency   int
}

// Job purges stored data older than the retention window and rescans the
// channels that lost messages so their counts stay populated. Channels that
// could not be rescanned are carried over to the next run.
type Job struct {
	cache   *cache.Cache
	gate    *gate.Gate
	store   Store
	scanner ChannelScanner
	logger  *zap.Logger
	opts    Options
	sleep   func(context.Context, time.Duration) error

	mu      sync.Mutex
	pending map[string][]string
}

func NewJob(c *cache.Cache, g *gate.Gate, store Store, scanner ChannelScanner, logger *zap.Logger, opts Options) *Job {
	if opts.RetentionDays <= 0 {
		opts.RetentionDays = 14
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Job{
		cache:   c,
		gate:    g,
		store:   store,
		scanner: scanner,
		logger:  logger,
		opts:    opts,
		sleep:   utils.SleepContext,
		pending: make(map[string][]string),
	}
}

func (j *Job) Run(ctx context.Context) error {
	invites, err := j.store.RemoveOldInvites(ctx, j.opts.RetentionDays)
	if err != nil {
		return fmt.Errorf("remove old invites: %w", err)
	}
	purged, err := j.store.RemoveOldMessages(ctx, j.opts.RetentionDays)
	if err != nil {
		return fmt.Errorf("remove old messages: %w", err)
	}
	affected := j.takePending(purged)
	j.logger.Info("retention purge",
		zap.Int64("invites", invites),
		zap.Int("guilds", len(purged)),
		zap.Int("rescan_guilds", len(affected)),
	)

	guildIDs := make([]string, 0, len(affected))
	for guildID := range affected {
		guildIDs = append(guildIDs, guildID)
	}
	sort.Strings(guildIDs)

	p := pool.New().WithErrors().WithContext(ctx).WithMaxGoroutines(j.opts.Concurrency)
	for _, guildID := range guildIDs {
		guildID := guildID
		channelIDs := affected[guildID]
		p.Go(func(ctx context.Context) error {
			return j.rescanGuild(ctx, guildID, channelIDs)
		})
	}
	return p.Wait()
}

// Pending returns the channels waiting for a rescan, keyed by guild id.
func (j *Job) Pending() map[string][]string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make(map[string][]string, len(j.pending))
	for guildID, channelIDs := range j.pending {
		out[guildID] = append([]string(nil), channelIDs...)
	}
	return out
}

// takePending merges the carried-over channels into this run's purge result
// and clears the carry-over set.
func (j *Job) takePending(purged map[string][]string) map[string][]string {
	j.mu.Lock()
	defer j.mu.Unlock()
	affected := make(map[string][]string, len(purged)+len(j.pending))
	for guildID, channelIDs := range purged {
		affected[guildID] = mergeIDs(affected[guildID], channelIDs)
	}
	for guildID, channelIDs := range j.pending {
		affected[guildID] = mergeIDs(affected[guildID], channelIDs)
	}
	j.pending = make(map[string][]string)
	return affected
}

func (j *Job) carryOver(guildID string, channelIDs []string) {
	if len(channelIDs) == 0 {
		return
	}
	j.mu.Lock()
	j.pending[guildID] = mergeIDs(j.pending[guildID], channelIDs)
	j.mu.Unlock()
}

func (j *Job) rescanGuild(ctx context.Context, guildID string, channelIDs []string) error {
	if _, ok := j.cache.Guild(guildID); !ok {
		return nil
	}
	release, err := j.gate.TryAcquire(guildID)
	if err != nil {
		if errors.Is(err, gate.ErrBusy) {
			j.logger.Warn("recycle deferred, guild busy", zap.String("guild_id", guildID), zap.Int("channels", len(channelIDs)))
			j.carryOver(guildID, channelIDs)
		}
		return nil
	}
	defer release()

	for i, channelID := range channelIDs {
		if err := j.sleep(ctx, j.opts.ChannelDelay); err != nil {
			j.carryOver(guildID, channelIDs[i:])
			return err
		}
		channel, ok := j.cache.Channel(channelID)
		if !ok || !j.gate.IsTracked(guildID, channel.ParentID) {
			continue
		}
		if _, err := j.scanner.ScanChannel(ctx, guildID, channelID, channel.ParentID); err != nil {
			if errors.Is(err, scan.ErrFetch) {
				j.logger.Warn("recycle fetch failed", zap.Error(err), zap.String("guild_id", guildID), zap.String("channel_id", channelID))
				continue
			}
			j.carryOver(guildID, channelIDs[i:])
			return fmt.Errorf("rescan guild %s: %w", guildID, err)
		}
	}
	return nil
}

func mergeIDs(a, b []string) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	for _, id := range a {
		set[id] = struct{}{}
	}
	for _, id := range b {
		set[id] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
