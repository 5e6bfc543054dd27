package settings

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"sakura/internal/cache"
	"sakura/internal/gate"
	"sakura/internal/storage"

	"go.uber.org/zap"
)

type fakeStore struct {
	cfg     storage.GuildConfig
	missing bool
}

func (f *fakeStore) GetGuild(context.Context, string) (storage.GuildConfig, error) {
	if f.missing {
		return storage.GuildConfig{}, storage.ErrNotFound
	}
	return f.cfg, nil
}

func (f *fakeStore) AddCategoryChannel(_ context.Context, _, id string) ([]string, error) {
	f.cfg.CategoryChannelIDs = appendUnique(f.cfg.CategoryChannelIDs, id)
	return f.cfg.CategoryChannelIDs, nil
}

func (f *fakeStore) RemoveCategoryChannel(_ context.Context, _, id string) ([]string, error) {
	f.cfg.CategoryChannelIDs = remove(f.cfg.CategoryChannelIDs, id)
	return f.cfg.CategoryChannelIDs, nil
}

func (f *fakeStore) AddIgnoredChannel(_ context.Context, _, id string) ([]string, error) {
	f.cfg.IgnoredChannelIDs = appendUnique(f.cfg.IgnoredChannelIDs, id)
	return f.cfg.IgnoredChannelIDs, nil
}

func (f *fakeStore) RemoveIgnoredChannel(_ context.Context, _, id string) ([]string, error) {
	f.cfg.IgnoredChannelIDs = remove(f.cfg.IgnoredChannelIDs, id)
	return f.cfg.IgnoredChannelIDs, nil
}

func (f *fakeStore) SetResultsChannel(_ context.Context, _, id string) error {
	f.cfg.ResultsChannelID = id
	return nil
}

func (f *fakeStore) SetEmbedColor(_ context.Context, _ string, color int) error {
	f.cfg.EmbedColor = color
	return nil
}

func appendUnique(ids []string, id string) []string {
	if contains(ids, id) {
		return ids
	}
	return append(ids, id)
}

func remove(ids []string, id string) []string {
	out := []string{}
	for _, existing := range ids {
		if existing != id {
			out = append(out, existing)
		}
	}
	return out
}

type fakeScanner struct {
	scanned []string
	err     error
	failOn  string
	inCheck func() bool
}

func (f *fakeScanner) ScanChannel(_ context.Context, _, channelID, parentID string) (int, error) {
	if f.inCheck != nil && !f.inCheck() {
		return 0, errors.New("scan outside gate")
	}
	if channelID == f.failOn {
		return 0, errors.New("missing access")
	}
	f.scanned = append(f.scanned, channelID+"/"+parentID)
	return 2, f.err
}

type fakePerms map[string]bool

func (f fakePerms) HasMinimumChannelPermissions(id string) bool {
	return !f[id]
}

func newService(t *testing.T) (*cache.Cache, *gate.Gate, *fakeStore, *fakeScanner, fakePerms, *Service) {
	t.Helper()
	c := cache.New()
	c.InsertGuild(cache.GuildSeed{
		ID: "g1",
		Channels: []cache.Channel{
			{ID: "cat1", Name: "one", Kind: cache.KindCategory, Position: 2},
			{ID: "cat2", Name: "two", Kind: cache.KindCategory, Position: 1},
			{ID: "c1", Name: "c1", Kind: cache.KindText, ParentID: "cat1"},
			{ID: "c2", Name: "c2", Kind: cache.KindAnnouncement, ParentID: "cat1"},
			{ID: "c3", Name: "c3", Kind: cache.KindText, ParentID: "cat2"},
			{ID: "results", Name: "results", Kind: cache.KindText},
		},
	})
	g := gate.New(c)
	store := &fakeStore{cfg: storage.GuildConfig{GuildID: "g1", EmbedColor: storage.DefaultEmbedColor}}
	scanner := &fakeScanner{inCheck: func() bool { return g.InCheck("g1") }}
	denied := fakePerms{}
	svc := NewService(c, g, denied, store, scanner, zap.NewNop(), time.Second)
	svc.sleep = func(context.Context, time.Duration) error { return nil }
	return c, g, store, scanner, denied, svc
}

func TestAddCategoryBackfillsAndTracks(t *testing.T) {
	c, g, store, scanner, _, svc := newService(t)

	result, err := svc.AddCategory(context.Background(), "g1", "cat1")
	if err != nil {
		t.Fatalf("add category: %v", err)
	}
	if result.Channels != 2 || result.Messages != 4 {
		t.Fatalf("unexpected result %#v", result)
	}
	if len(scanner.scanned) != 2 || scanner.scanned[0] != "c1/cat1" {
		t.Fatalf("unexpected scans %v", scanner.scanned)
	}
	guild, _ := c.Guild("g1")
	if !guild.TrackedCategoryIDs.Has("cat1") {
		t.Fatalf("expected cache refreshed with cat1")
	}
	if len(store.cfg.CategoryChannelIDs) != 1 {
		t.Fatalf("expected category persisted, got %v", store.cfg.CategoryChannelIDs)
	}
	if g.InCheck("g1") {
		t.Fatalf("expected gate released")
	}
	if _, err := svc.AddCategory(context.Background(), "g1", "cat1"); !errors.Is(err, ErrAlreadyTracked) {
		t.Fatalf("expected ErrAlreadyTracked, got %v", err)
	}
}

func TestAddCategoryRefusesUnreadableChildren(t *testing.T) {
	_, _, store, scanner, denied, svc := newService(t)
	denied["c2"] = true

	_, err := svc.AddCategory(context.Background(), "g1", "cat1")
	var unreadable *UnreadableChannelsError
	if !errors.As(err, &unreadable) {
		t.Fatalf("expected UnreadableChannelsError, got %v", err)
	}
	if len(unreadable.ChannelIDs) != 1 || unreadable.ChannelIDs[0] != "c2" {
		t.Fatalf("unexpected channels %v", unreadable.ChannelIDs)
	}
	if len(scanner.scanned) != 0 || len(store.cfg.CategoryChannelIDs) != 0 {
		t.Fatalf("expected no side effects")
	}
}

func TestAddCategoryPreconditions(t *testing.T) {
	c, g, _, _, _, svc := newService(t)
	if _, err := svc.AddCategory(context.Background(), "g1", "c1"); !errors.Is(err, ErrNotCategory) {
		t.Fatalf("expected ErrNotCategory, got %v", err)
	}
	if _, err := svc.AddCategory(context.Background(), "missing", "cat1"); !errors.Is(err, ErrGuildNotConfigured) {
		t.Fatalf("expected ErrGuildNotConfigured, got %v", err)
	}
	release, err := g.TryAcquire("g1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := svc.AddCategory(context.Background(), "g1", "cat1"); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	release()
	if guild, _ := c.Guild("g1"); guild.TrackedCategoryIDs.Has("cat1") {
		t.Fatalf("expected category untracked")
	}
}

func TestAddCategoryReleasesGateOnBackfillFailure(t *testing.T) {
	_, g, store, scanner, _, svc := newService(t)
	scanner.err = errors.New("forbidden")

	if _, err := svc.AddCategory(context.Background(), "g1", "cat1"); err == nil {
		t.Fatalf("expected error")
	}
	if g.InCheck("g1") {
		t.Fatalf("expected gate released")
	}
	if len(store.cfg.CategoryChannelIDs) != 0 {
		t.Fatalf("expected nothing persisted")
	}
}

func TestAddCategoryKeepsEarlierBackfillOnLaterFailure(t *testing.T) {
	c, g, store, scanner, _, svc := newService(t)
	scanner.failOn = "c2"

	_, err := svc.AddCategory(context.Background(), "g1", "cat1")
	if err == nil || !strings.Contains(err.Error(), "backfill channel c2") {
		t.Fatalf("expected c2 backfill error, got %v", err)
	}
	if len(scanner.scanned) != 1 || scanner.scanned[0] != "c1/cat1" {
		t.Fatalf("expected c1 messages stored before the failure, got %v", scanner.scanned)
	}
	if len(store.cfg.CategoryChannelIDs) != 0 {
		t.Fatalf("expected category untracked, got %v", store.cfg.CategoryChannelIDs)
	}
	guild, _ := c.Guild("g1")
	if guild.TrackedCategoryIDs.Has("cat1") {
		t.Fatalf("expected cache not to track cat1")
	}
	if g.InCheck("g1") {
		t.Fatalf("expected gate released")
	}
}

func TestRemoveCategory(t *testing.T) {
	c, _, _, _, _, svc := newService(t)
	if _, err := svc.RemoveCategory(context.Background(), "g1", "cat1"); !errors.Is(err, ErrNotTracked) {
		t.Fatalf("expected ErrNotTracked, got %v", err)
	}
	if _, err := svc.AddCategory(context.Background(), "g1", "cat1"); err != nil {
		t.Fatalf("add: %v", err)
	}
	tracked, err := svc.RemoveCategory(context.Background(), "g1", "cat1")
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(tracked) != 0 {
		t.Fatalf("expected no tracked categories, got %v", tracked)
	}
	if guild, _ := c.Guild("g1"); guild.TrackedCategoryIDs.Has("cat1") {
		t.Fatalf("expected cache refreshed")
	}
}

func TestIgnoredChannels(t *testing.T) {
	_, _, _, _, _, svc := newService(t)
	ctx := context.Background()

	ignored, err := svc.AddIgnored(ctx, "g1", "c1")
	if err != nil || len(ignored) != 1 {
		t.Fatalf("add ignored: %v %v", ignored, err)
	}
	if _, err := svc.AddIgnored(ctx, "g1", "c1"); !errors.Is(err, ErrAlreadyIgnored) {
		t.Fatalf("expected ErrAlreadyIgnored, got %v", err)
	}
	if _, err := svc.RemoveIgnored(ctx, "g1", "c1"); err != nil {
		t.Fatalf("remove ignored: %v", err)
	}
	if _, err := svc.RemoveIgnored(ctx, "g1", "c1"); !errors.Is(err, ErrNotIgnored) {
		t.Fatalf("expected ErrNotIgnored, got %v", err)
	}
}

func TestSetResultsChannel(t *testing.T) {
	_, _, store, _, denied, svc := newService(t)
	ctx := context.Background()

	if err := svc.SetResultsChannel(ctx, "g1", "gone"); !errors.Is(err, ErrChannelMissing) {
		t.Fatalf("expected ErrChannelMissing, got %v", err)
	}
	denied["results"] = true
	if err := svc.SetResultsChannel(ctx, "g1", "results"); !errors.Is(err, ErrChannelForbidden) {
		t.Fatalf("expected ErrChannelForbidden, got %v", err)
	}
	delete(denied, "results")
	if err := svc.SetResultsChannel(ctx, "g1", "results"); err != nil {
		t.Fatalf("set results: %v", err)
	}
	if store.cfg.ResultsChannelID != "results" {
		t.Fatalf("expected results persisted, got %q", store.cfg.ResultsChannelID)
	}
	if err := svc.SetResultsChannel(ctx, "g1", "results"); !errors.Is(err, ErrAlreadyResultsChannel) {
		t.Fatalf("expected ErrAlreadyResultsChannel, got %v", err)
	}
}

func TestSetEmbedColor(t *testing.T) {
	_, _, store, _, _, svc := newService(t)
	ctx := context.Background()

	color, err := svc.SetEmbedColor(ctx, "g1", "#ff00aa")
	if err != nil || color != 0xFF00AA || store.cfg.EmbedColor != 0xFF00AA {
		t.Fatalf("unexpected color %x %v", color, err)
	}
	if _, err := svc.SetEmbedColor(ctx, "g1", "FF00AA"); !errors.Is(err, ErrSameColor) {
		t.Fatalf("expected ErrSameColor, got %v", err)
	}
	for _, bad := range []string{"", "#", "zzz", "1234567", "-1"} {
		if _, err := svc.SetEmbedColor(ctx, "g1", bad); !errors.Is(err, ErrInvalidColor) {
			t.Fatalf("expected ErrInvalidColor for %q, got %v", bad, err)
		}
	}
	if got := FormatColor(0xff); got != "#0000FF" {
		t.Fatalf("expected #0000FF, got %s", got)
	}
}

func TestShowAndCounts(t *testing.T) {
	c, _, store, _, _, svc := newService(t)
	ctx := context.Background()

	if _, err := svc.Counts(ctx, "g1"); !errors.Is(err, ErrNoCategories) {
		t.Fatalf("expected ErrNoCategories, got %v", err)
	}
	store.cfg.CategoryChannelIDs = []string{"cat1", "cat2", "deleted"}
	store.cfg.IgnoredChannelIDs = []string{"c2"}
	store.cfg.ResultsChannelID = "results"

	counts, err := svc.Counts(ctx, "g1")
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if len(counts) != 2 || counts[0].CategoryID != "cat2" {
		t.Fatalf("expected cat2 first, got %#v", counts)
	}
	if got := counts[1]; got.Text != 1 || got.Announcement != 1 || got.Ignored != 1 {
		t.Fatalf("unexpected cat1 counts %#v", got)
	}

	c.RemoveChannel("results")
	overview, err := svc.Show(ctx, "g1")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	if len(overview.Categories) != 3 || overview.Categories[2].Exists {
		t.Fatalf("unexpected categories %#v", overview.Categories)
	}
	if overview.ResultsChannel == nil || overview.ResultsChannel.Exists {
		t.Fatalf("expected stale results channel, got %#v", overview.ResultsChannel)
	}

	store.missing = true
	if _, err := svc.Show(ctx, "g1"); !errors.Is(err, ErrGuildNotConfigured) {
		t.Fatalf("expected ErrGuildNotConfigured, got %v", err)
	}
}
