package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func seedGuild(c *Cache) {
	c.InsertGuild(GuildSeed{
		ID:                 "g1",
		Name:               "guild",
		TrackedCategoryIDs: NewIDSet("cat1"),
		Channels: []Channel{
			{ID: "cat1", Name: "partners", Kind: KindCategory, Position: 0},
			{ID: "text1", Name: "a", Kind: KindText, ParentID: "cat1", Position: 1},
			{ID: "news1", Name: "b", Kind: KindAnnouncement, ParentID: "cat1", Position: 2},
			{ID: "voice1", Name: "voice", Kind: KindOther, Position: 3},
		},
		Roles: []Role{
			{ID: "g1", Name: "@everyone", Permissions: 1024},
			{ID: "r1", Name: "mods", Permissions: 2048},
		},
	})
}

func TestInsertGuildSeedsChannelsAndRoles(t *testing.T) {
	c := New()
	seedGuild(c)

	guild, ok := c.Guild("g1")
	if !ok {
		t.Fatalf("expected guild to be cached")
	}
	if guild.ChannelIDs.Len() != 3 {
		t.Fatalf("expected 3 cached channels, got %d", guild.ChannelIDs.Len())
	}
	if _, ok := c.Channel("voice1"); ok {
		t.Fatalf("expected voice channel to be skipped")
	}
	if !guild.RoleIDs.Has("g1") || !guild.RoleIDs.Has("r1") {
		t.Fatalf("expected role ids to be registered, got %v", guild.RoleIDs.Slice())
	}
	channel, _ := c.Channel("text1")
	if channel.GuildID != "g1" {
		t.Fatalf("expected seeded channel to carry guild id, got %q", channel.GuildID)
	}
}

func TestInsertChannelReplacesEntry(t *testing.T) {
	c := New()
	seedGuild(c)

	c.InsertChannel(Channel{ID: "text1", GuildID: "g1", Kind: KindText, ParentID: "cat1", Position: 5})
	c.InsertChannel(Channel{ID: "text1", GuildID: "g1", Kind: KindText, Position: 9})

	channel, ok := c.Channel("text1")
	if !ok {
		t.Fatalf("expected channel")
	}
	if channel.Position != 9 {
		t.Fatalf("expected position 9, got %d", channel.Position)
	}
	if channel.ParentID != "" {
		t.Fatalf("expected parent to be replaced, got %q", channel.ParentID)
	}
}

func TestInsertChannelRejectsUnknownKind(t *testing.T) {
	c := New()
	if c.InsertChannel(Channel{ID: "x", GuildID: "g1", Kind: KindOther}) {
		t.Fatalf("expected other kinds to be rejected")
	}
	if c.InsertChannel(Channel{ID: "y", Kind: KindText}) {
		t.Fatalf("expected channel without guild to be rejected")
	}
}

func TestRemoveChannelCascadesToGuild(t *testing.T) {
	c := New()
	seedGuild(c)

	if _, ok := c.RemoveChannel("cat1"); !ok {
		t.Fatalf("expected channel to be removed")
	}

	guild, _ := c.Guild("g1")
	if guild.ChannelIDs.Has("cat1") {
		t.Fatalf("expected channel id to leave the guild set")
	}
	if guild.TrackedCategoryIDs.Has("cat1") {
		t.Fatalf("expected tracked category to be removed")
	}
}

func TestSnapshotsAreNotMutated(t *testing.T) {
	c := New()
	seedGuild(c)

	before, _ := c.Guild("g1")
	c.RemoveChannel("text1")

	if !before.ChannelIDs.Has("text1") {
		t.Fatalf("expected earlier snapshot to keep its channel set")
	}
}

func TestUpdateGuildMergesPartialFields(t *testing.T) {
	c := New()
	seedGuild(c)

	inCheck := true
	if !c.UpdateGuild("g1", GuildUpdate{InCheck: &inCheck}) {
		t.Fatalf("expected update to apply")
	}
	guild, _ := c.Guild("g1")
	if !guild.InCheck || guild.Name != "guild" || !guild.TrackedCategoryIDs.Has("cat1") {
		t.Fatalf("unexpected guild after partial update: %+v", guild)
	}

	c.UpdateGuild("g1", GuildUpdate{TrackedCategoryIDs: NewIDSet()})
	guild, _ = c.Guild("g1")
	if guild.TrackedCategoryIDs.Len() != 0 {
		t.Fatalf("expected tracked set to be cleared")
	}

	if c.UpdateGuild("missing", GuildUpdate{InCheck: &inCheck}) {
		t.Fatalf("expected update of missing guild to be a no-op")
	}
}

func TestRemoveGuildCascades(t *testing.T) {
	c := New()
	seedGuild(c)
	c.InsertCurrentUser(CurrentUser{GuildID: "g1", UserID: "bot", RoleIDs: NewIDSet("r1")})

	c.RemoveGuild("g1", true)

	if _, ok := c.Guild("g1"); ok {
		t.Fatalf("expected guild removed")
	}
	if _, ok := c.Channel("text1"); ok {
		t.Fatalf("expected channels removed")
	}
	if _, ok := c.Role("r1"); ok {
		t.Fatalf("expected roles removed")
	}
	if _, ok := c.CurrentUser("g1"); ok {
		t.Fatalf("expected current user removed")
	}
	if !c.IsUnavailable("g1") {
		t.Fatalf("expected guild marked unavailable")
	}

	seedGuild(c)
	if c.IsUnavailable("g1") {
		t.Fatalf("expected unavailable marker cleared on insert")
	}
}

func TestReinsertGuildDropsStaleEntries(t *testing.T) {
	c := New()
	seedGuild(c)

	c.InsertGuild(GuildSeed{
		ID:       "g1",
		Channels: []Channel{{ID: "text1", Kind: KindText, Position: 1}},
		Roles:    []Role{{ID: "g1"}},
	})

	if _, ok := c.Channel("news1"); ok {
		t.Fatalf("expected stale channel to be dropped")
	}
	if _, ok := c.Role("r1"); ok {
		t.Fatalf("expected stale role to be dropped")
	}
	if _, ok := c.Channel("text1"); !ok {
		t.Fatalf("expected listed channel to stay")
	}
}

func TestCompareAndSwapInCheck(t *testing.T) {
	c := New()
	seedGuild(c)

	if swapped, found := c.CompareAndSwapInCheck("g1", false, true); !swapped || !found {
		t.Fatalf("expected first swap to succeed")
	}
	if swapped, _ := c.CompareAndSwapInCheck("g1", false, true); swapped {
		t.Fatalf("expected second swap to fail")
	}
	if _, found := c.CompareAndSwapInCheck("missing", false, true); found {
		t.Fatalf("expected missing guild")
	}
}

func TestRoleCrud(t *testing.T) {
	c := New()
	seedGuild(c)

	perms := int64(8)
	if !c.UpdateRole("r1", RoleUpdate{Permissions: &perms}) {
		t.Fatalf("expected role update")
	}
	role, _ := c.Role("r1")
	if role.Permissions != 8 || role.Name != "mods" {
		t.Fatalf("unexpected role after update: %+v", role)
	}

	c.RemoveRole("r1")
	guild, _ := c.Guild("g1")
	if guild.RoleIDs.Has("r1") {
		t.Fatalf("expected role id removed from guild")
	}
}

func TestUpdateCurrentUser(t *testing.T) {
	c := New()
	until := time.Now().Add(time.Hour)
	c.InsertCurrentUser(CurrentUser{GuildID: "g1", UserID: "bot", CommunicationDisabledUntil: &until})

	c.UpdateCurrentUser("g1", CurrentUserUpdate{RoleIDs: NewIDSet("r2")})
	user, _ := c.CurrentUser("g1")
	if user.CommunicationDisabledUntil == nil || !user.RoleIDs.Has("r2") {
		t.Fatalf("expected roles replaced and timeout kept: %+v", user)
	}

	c.UpdateCurrentUser("g1", CurrentUserUpdate{TimeoutChanged: true})
	user, _ = c.CurrentUser("g1")
	if user.CommunicationDisabledUntil != nil {
		t.Fatalf("expected timeout cleared")
	}
	if user.UserID != "bot" {
		t.Fatalf("expected user id kept, got %q", user.UserID)
	}
}

func TestGuildChannelsOrdering(t *testing.T) {
	c := New()
	c.InsertGuild(GuildSeed{
		ID: "g1",
		Channels: []Channel{
			{ID: "c3", Name: "zeta", Kind: KindText, Position: 1},
			{ID: "c2", Name: "alpha", Kind: KindText, Position: 1},
			{ID: "c1", Name: "omega", Kind: KindText, Position: 0},
		},
	})

	channels := c.GuildChannels("g1")
	got := []string{channels[0].ID, channels[1].ID, channels[2].ID}
	want := []string{"c1", "c2", "c3"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, got)
		}
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := New()
	seedGuild(c)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				id := fmt.Sprintf("c-%d-%d", i, j)
				c.InsertChannel(Channel{ID: id, GuildID: "g1", Kind: KindText, Position: j})
				c.RemoveChannel(id)
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.GuildChannels("g1")
				c.Guild("g1")
			}
		}()
	}
	wg.Wait()

	guild, _ := c.Guild("g1")
	if guild.ChannelIDs.Len() != 3 {
		t.Fatalf("expected 3 channels after churn, got %d", guild.ChannelIDs.Len())
	}
}
