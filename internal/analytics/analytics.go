package analytics

import (
	"context"
	"encoding/json"
	"runtime"
	"sync/atomic"
	"time"

	"sakura/internal/cache"
	"sakura/internal/modules/audit"
	"sakura/internal/storage"
)

type EventLister interface {
	ListEvents(ctx context.Context, guildID string, kind storage.EventKind, since time.Time) ([]storage.Event, error)
}

type Service struct {
	cache   *cache.Cache
	store   EventLister
	readyAt atomic.Int64
	now     func() time.Time
}

func New(c *cache.Cache, store EventLister) *Service {
	return &Service{cache: c, store: store, now: time.Now}
}

// MarkReady records when the gateway session became ready.
func (s *Service) MarkReady(at time.Time) {
	s.readyAt.Store(at.UnixNano())
}

type Snapshot struct {
	Guilds      int
	Channels    int
	MemoryBytes uint64
	Uptime      time.Duration
	Ready       bool
}

func (s *Service) Snapshot() Snapshot {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	guilds, channels := s.cache.Counts()
	snapshot := Snapshot{
		Guilds:      guilds,
		Channels:    channels,
		MemoryBytes: mem.Sys,
	}
	if ready := s.readyAt.Load(); ready != 0 {
		snapshot.Ready = true
		snapshot.Uptime = s.now().Sub(time.Unix(0, ready))
	}
	return snapshot
}

type Report struct {
	Checks  int
	Valid   int
	Invalid int
	Unknown int
	Last    *audit.CheckEvent
}

// History summarises the invite checks a guild ran since the given time.
func (s *Service) History(ctx context.Context, guildID string, since time.Time) (Report, error) {
	events, err := s.store.ListEvents(ctx, guildID, storage.EventInviteCheckCreate, since)
	if err != nil {
		return Report{}, err
	}

	var report Report
	for _, event := range events {
		var payload audit.CheckEvent
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			continue
		}
		report.Checks++
		report.Valid += payload.Valid
		report.Invalid += payload.Invalid
		report.Unknown += payload.Unknown
		if report.Last == nil {
			last := payload
			report.Last = &last
		}
	}
	return report, nil
}
