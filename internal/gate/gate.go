package gate

import (
	"errors"
	"sync"

	"sakura/internal/cache"
)

var (
	ErrBusy           = errors.New("guild scan already in progress")
	ErrUnknownGuild   = errors.New("guild not cached")
	ErrUnknownChannel = errors.New("channel not cached")
	ErrNoCategory     = errors.New("channel is not inside a category")
	ErrNotTracked     = errors.New("category is not tracked")
)

// Gate guards long-running per-guild scans with the cached in_check flag and
// answers whether a channel belongs to a tracked category.
type Gate struct {
	cache *cache.Cache
}

func New(c *cache.Cache) *Gate {
	return &Gate{cache: c}
}

// TryAcquire flips in_check from false to true atomically. The returned
// release resets the flag and is safe to call more than once.
func (g *Gate) TryAcquire(guildID string) (func(), error) {
	swapped, found := g.cache.CompareAndSwapInCheck(guildID, false, true)
	if !found {
		return nil, ErrUnknownGuild
	}
	if !swapped {
		return nil, ErrBusy
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.cache.CompareAndSwapInCheck(guildID, true, false)
		})
	}, nil
}

func (g *Gate) InCheck(guildID string) bool {
	guild, ok := g.cache.Guild(guildID)
	return ok && guild.InCheck
}

func (g *Gate) IsTracked(guildID, categoryID string) bool {
	if categoryID == "" {
		return false
	}
	guild, ok := g.cache.Guild(guildID)
	return ok && guild.TrackedCategoryIDs.Has(categoryID)
}

// TrackedParent resolves a cached channel to its guild and parent category
// when that parent is tracked.
func (g *Gate) TrackedParent(channelID string) (guildID, parentID string, ok bool) {
	guildID, parentID, err := g.ResolveParent(channelID)
	return guildID, parentID, err == nil
}

// ResolveParent is TrackedParent with the reason a channel is not tracked.
func (g *Gate) ResolveParent(channelID string) (guildID, parentID string, err error) {
	channel, found := g.cache.Channel(channelID)
	if !found {
		return "", "", ErrUnknownChannel
	}
	if channel.ParentID == "" {
		return "", "", ErrNoCategory
	}
	if !g.IsTracked(channel.GuildID, channel.ParentID) {
		return "", "", ErrNotTracked
	}
	return channel.GuildID, channel.ParentID, nil
}
