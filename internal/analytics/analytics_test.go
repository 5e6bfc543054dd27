package analytics

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"sakura/internal/cache"
	"sakura/internal/storage"
)

type fakeLister struct {
	events []storage.Event
}

func (f fakeLister) ListEvents(context.Context, string, storage.EventKind, time.Time) ([]storage.Event, error) {
	return f.events, nil
}

func TestSnapshot(t *testing.T) {
	c := cache.New()
	c.InsertGuild(cache.GuildSeed{ID: "g1", Channels: []cache.Channel{{ID: "c1", Kind: cache.KindText}}})
	svc := New(c, fakeLister{})

	if snapshot := svc.Snapshot(); snapshot.Ready || snapshot.Guilds != 1 || snapshot.Channels != 1 {
		t.Fatalf("unexpected snapshot %#v", snapshot)
	}

	readyAt := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return readyAt.Add(90 * time.Minute) }
	svc.MarkReady(readyAt)
	if snapshot := svc.Snapshot(); !snapshot.Ready || snapshot.Uptime != 90*time.Minute {
		t.Fatalf("unexpected uptime %#v", snapshot)
	}
}

func TestHistory(t *testing.T) {
	newest, _ := json.Marshal(map[string]int{"valid": 4, "invalid": 1})
	older, _ := json.Marshal(map[string]int{"valid": 2, "unknown": 3})
	svc := New(cache.New(), fakeLister{events: []storage.Event{
		{Kind: storage.EventInviteCheckCreate, Payload: newest},
		{Kind: storage.EventInviteCheckCreate, Payload: []byte("not json")},
		{Kind: storage.EventInviteCheckCreate, Payload: older},
	}})

	report, err := svc.History(context.Background(), "g1", time.Time{})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if report.Checks != 2 || report.Valid != 6 || report.Unknown != 3 {
		t.Fatalf("unexpected report %#v", report)
	}
	if report.Last == nil || report.Last.Valid != 4 {
		t.Fatalf("expected newest check as last, got %#v", report.Last)
	}
}
