package validation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"sakura/internal/storage"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// ErrTransient marks a lookup that failed for reasons unrelated to the
// invite itself. Such codes stay unchecked until the next run.
var ErrTransient = errors.New("transient invite lookup failure")

// InviteInfo is the subset of an invite lookup needed for classification.
// Zero MaxAge and MaxUses mean the upstream reported no limit.
type InviteInfo struct {
	Code       string
	ExpiresAt  *time.Time
	MaxAge     int
	MaxUses    int
	VanityCode string
}

type InviteResolver interface {
	ResolveInvite(ctx context.Context, code string) (InviteInfo, error)
}

type InviteStore interface {
	GetUncheckedInvites(ctx context.Context, limit int) ([]string, error)
	InsertCheckedInvite(ctx context.Context, invite storage.CheckedInvite) error
}

// Result summarises one validation pass.
type Result struct {
	Checked int
	Valid   int
	Invalid int
	Failed  int
}

type Job struct {
	store       InviteStore
	resolver    InviteResolver
	logger      *zap.Logger
	batchSize   int
	concurrency int64
	now         func() time.Time
}

func NewJob(store InviteStore, resolver InviteResolver, logger *zap.Logger, batchSize, concurrency int) *Job {
	if batchSize <= 0 {
		batchSize = 25
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Job{
		store:       store,
		resolver:    resolver,
		logger:      logger,
		batchSize:   batchSize,
		concurrency: int64(concurrency),
		now:         time.Now,
	}
}

func (j *Job) WithClock(now func() time.Time) *Job {
	j.now = now
	return j
}

// IsPermalink reports whether a resolved invite never expires. When the guild
// has a vanity code only that code qualifies.
func IsPermalink(code string, info InviteInfo) bool {
	permanent := info.ExpiresAt == nil && info.MaxAge == 0 && info.MaxUses == 0
	if info.VanityCode != "" {
		return permanent && info.VanityCode == code
	}
	return permanent
}

// Classify turns a lookup outcome into the row written to the store. Any
// lookup failure marks the code invalid.
func Classify(code string, info InviteInfo, lookupErr error, checkedAt time.Time) storage.CheckedInvite {
	if lookupErr != nil {
		return storage.CheckedInvite{Code: code, CheckedAt: checkedAt}
	}
	return storage.CheckedInvite{
		Code:        code,
		IsPermalink: IsPermalink(code, info),
		IsValid:     true,
		ExpiresAt:   info.ExpiresAt,
		CheckedAt:   checkedAt,
	}
}

// Run validates one batch of unchecked codes. A failure to load the batch
// aborts the run; a failed write only skips that code.
func (j *Job) Run(ctx context.Context) error {
	_, err := j.RunOnce(ctx)
	return err
}

func (j *Job) RunOnce(ctx context.Context) (Result, error) {
	codes, err := j.store.GetUncheckedInvites(ctx, j.batchSize)
	if err != nil {
		return Result{}, fmt.Errorf("load unchecked invites: %w", err)
	}
	if len(codes) == 0 {
		return Result{}, nil
	}

	var valid, invalid, failed atomic.Int64
	sem := semaphore.NewWeighted(j.concurrency)
	var wg sync.WaitGroup

	for _, code := range codes {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(code string) {
			defer wg.Done()
			defer sem.Release(1)

			info, lookupErr := j.resolver.ResolveInvite(ctx, code)
			if lookupErr != nil && (ctx.Err() != nil || errors.Is(lookupErr, ErrTransient)) {
				failed.Add(1)
				j.logger.Debug("invite lookup deferred", zap.Error(lookupErr), zap.String("code", code))
				return
			}
			checked := Classify(code, info, lookupErr, j.now())
			if err := j.store.InsertCheckedInvite(ctx, checked); err != nil {
				failed.Add(1)
				j.logger.Warn("store checked invite failed", zap.Error(err), zap.String("code", code))
				return
			}
			if checked.IsValid {
				valid.Add(1)
			} else {
				invalid.Add(1)
			}
		}(code)
	}
	wg.Wait()

	result := Result{
		Checked: int(valid.Load() + invalid.Load()),
		Valid:   int(valid.Load()),
		Invalid: int(invalid.Load()),
		Failed:  int(failed.Load()),
	}
	j.logger.Debug("invites validated",
		zap.Int("checked", result.Checked),
		zap.Int("valid", result.Valid),
		zap.Int("invalid", result.Invalid),
		zap.Int("failed", result.Failed),
	)
	return result, ctx.Err()
}
