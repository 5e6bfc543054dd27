package check

import (
	"context"
	"errors"
	"testing"
	"time"

	"sakura/internal/cache"
	"sakura/internal/gate"
	"sakura/internal/modules/audit"
	"sakura/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeStore struct {
	cfg         storage.GuildConfig
	cfgErr      error
	counts      map[string]storage.InviteCounts
	countsErr   error
	lastChecked time.Time
}

func (f *fakeStore) GetGuild(context.Context, string) (storage.GuildConfig, error) {
	return f.cfg, f.cfgErr
}

func (f *fakeStore) GetGuildInviteCounts(context.Context, string) (map[string]storage.InviteCounts, error) {
	return f.counts, f.countsErr
}

func (f *fakeStore) SetLastCheckedAt(_ context.Context, _ string, checkedAt time.Time) error {
	f.lastChecked = checkedAt
	return nil
}

type fakePerms map[string]bool

func (f fakePerms) HasMinimumChannelPermissions(channelID string) bool {
	return f[channelID]
}

type fakeReporter struct {
	categories []CategoryReport
	summaries  []Summary
	err        error
	inCheck    []bool
	gate       *gate.Gate
}

func (f *fakeReporter) SendCategory(_ context.Context, _ string, _ int, report CategoryReport) error {
	f.inCheck = append(f.inCheck, f.gate.InCheck("g1"))
	if f.err != nil {
		return f.err
	}
	f.categories = append(f.categories, report)
	return nil
}

func (f *fakeReporter) SendSummary(_ context.Context, _ string, _ int, summary Summary) error {
	f.summaries = append(f.summaries, summary)
	return nil
}

type fakeAuditor struct {
	events []audit.CheckEvent
}

func (f *fakeAuditor) CheckCompleted(_ context.Context, event audit.CheckEvent) {
	f.events = append(f.events, event)
}

type fixture struct {
	cache    *cache.Cache
	gate     *gate.Gate
	store    *fakeStore
	perms    fakePerms
	reporter *fakeReporter
	auditor  *fakeAuditor
	orch     *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	c := cache.New()
	c.InsertGuild(cache.GuildSeed{
		ID:                 "g1",
		TrackedCategoryIDs: cache.NewIDSet("catA", "catB"),
		Channels: []cache.Channel{
			{ID: "catB", Name: "beta", Kind: cache.KindCategory, Position: 1},
			{ID: "catA", Name: "alpha", Kind: cache.KindCategory, Position: 1},
			{ID: "catX", Name: "other", Kind: cache.KindCategory, Position: 0},
			{ID: "a1", Name: "a-one", Kind: cache.KindText, ParentID: "catA", Position: 2},
			{ID: "a2", Name: "a-two", Kind: cache.KindAnnouncement, ParentID: "catA", Position: 1},
			{ID: "a3", Name: "a-three", Kind: cache.KindText, ParentID: "catA", Position: 3},
			{ID: "b1", Name: "b-one", Kind: cache.KindText, ParentID: "catB", Position: 0},
			{ID: "b2", Name: "b-two", Kind: cache.KindText, ParentID: "catB", Position: 1},
			{ID: "x1", Name: "x-one", Kind: cache.KindText, ParentID: "catX", Position: 0},
			{ID: "results", Name: "results", Kind: cache.KindText},
		},
	})
	g := gate.New(c)
	f := &fixture{
		cache: c,
		gate:  g,
		store: &fakeStore{
			cfg: storage.GuildConfig{
				GuildID:            "g1",
				CategoryChannelIDs: []string{"catA", "catB"},
				IgnoredChannelIDs:  []string{"b2"},
				EmbedColor:         0x123456,
				ResultsChannelID:   "results",
			},
			counts: map[string]storage.InviteCounts{
				"a1": {Valid: 3},
				"a2": {Valid: 1, Invalid: 2},
				"b1": {Valid: 1, Invalid: 1, Unknown: 1},
				"b2": {Valid: 9},
			},
		},
		perms:    fakePerms{"results": true},
		reporter: &fakeReporter{gate: g},
		auditor:  &fakeAuditor{},
	}
	tick := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	f.orch = NewOrchestrator(c, g, f.perms, f.store, f.reporter, f.auditor, zap.NewNop()).WithClock(func() time.Time {
		tick = tick.Add(1500 * time.Millisecond)
		return tick
	})
	return f
}

func TestRunReportsCategoriesInOrder(t *testing.T) {
	f := newFixture(t)
	var started StartInfo

	summary, err := f.orch.Run(context.Background(), "g1", func(info StartInfo) { started = info })
	require.NoError(t, err)

	assert.Equal(t, "results", started.ResultsChannelID)
	assert.Equal(t, 0x123456, started.EmbedColor)

	require.Len(t, f.reporter.categories, 2)
	assert.Equal(t, "catA", f.reporter.categories[0].CategoryID, "position tie broken by name")
	assert.Equal(t, "catB", f.reporter.categories[1].CategoryID)

	alpha := f.reporter.categories[0].Channels
	require.Len(t, alpha, 3)
	assert.Equal(t, "a2", alpha[0].ChannelID)
	assert.Equal(t, StatusInvalid, alpha[0].Status)
	assert.Equal(t, StatusClean, alpha[1].Status)
	assert.Equal(t, StatusUntracked, alpha[2].Status)

	beta := f.reporter.categories[1].Channels
	require.Len(t, beta, 2)
	assert.Equal(t, StatusUnknown, beta[0].Status)
	assert.Equal(t, StatusIgnored, beta[1].Status)

	assert.Equal(t, 5, summary.Channels)
	assert.Equal(t, 5, summary.Valid)
	assert.Equal(t, 3, summary.Invalid)
	assert.Equal(t, 1, summary.Unknown)
	assert.Equal(t, 1500*time.Millisecond, summary.Elapsed())

	require.Len(t, f.reporter.summaries, 1)
	require.Len(t, f.auditor.events, 1)
	assert.Equal(t, 9, f.auditor.events[0].Total)
	assert.Equal(t, summary.FinishedAt, f.store.lastChecked)
	assert.False(t, f.gate.InCheck("g1"))
	assert.Equal(t, []bool{true, true}, f.reporter.inCheck)
}

func TestRunPreconditions(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*fixture)
		want   error
	}{
		{"uncached guild", func(f *fixture) { f.cache.RemoveGuild("g1", false) }, ErrGuildNotConfigured},
		{"missing config", func(f *fixture) { f.store.cfgErr = storage.ErrNotFound }, ErrGuildNotConfigured},
		{"in check", func(f *fixture) { f.cache.CompareAndSwapInCheck("g1", false, true) }, ErrCheckInProgress},
		{"no categories", func(f *fixture) { f.store.cfg.CategoryChannelIDs = nil }, ErrNoCategories},
		{"no results channel", func(f *fixture) { f.store.cfg.ResultsChannelID = "" }, ErrNoResultsChannel},
		{"results channel gone", func(f *fixture) { f.cache.RemoveChannel("results") }, ErrResultsChannelMissing},
		{"results forbidden", func(f *fixture) { delete(f.perms, "results") }, ErrResultsChannelForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			tc.mutate(f)
			inCheckBefore := f.gate.InCheck("g1")

			_, err := f.orch.Run(context.Background(), "g1", func(StartInfo) {
				t.Fatalf("onStart must not run on precondition failure")
			})
			require.ErrorIs(t, err, tc.want)
			assert.Equal(t, inCheckBefore, f.gate.InCheck("g1"))
			assert.Empty(t, f.reporter.categories)
			assert.Empty(t, f.auditor.events)
		})
	}
}

func TestRunReleasesGateOnFailure(t *testing.T) {
	f := newFixture(t)
	f.reporter.err = errors.New("discord down")

	_, err := f.orch.Run(context.Background(), "g1", nil)
	require.Error(t, err)
	assert.False(t, f.gate.InCheck("g1"))
	assert.Empty(t, f.auditor.events)

	f = newFixture(t)
	f.store.countsErr = errors.New("db down")
	_, err = f.orch.Run(context.Background(), "g1", nil)
	require.Error(t, err)
	assert.False(t, f.gate.InCheck("g1"))

	f.store.countsErr = nil
	_, err = f.orch.Run(context.Background(), "g1", nil)
	require.NoError(t, err, "guild must be checkable again after a failed run")
}

func TestPercentGuardsZero(t *testing.T) {
	assert.Zero(t, Percent(0, 0))
	assert.InDelta(t, 33.33, Percent(1, 3), 0.01)
}
