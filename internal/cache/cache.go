package cache

import (
	"sort"
	"sync"
)

// Cache mirrors the subset of gateway state the tracker depends on. Each map
// has its own lock and every method holds at most one of them at a time;
// cascades run as a sequence of separate critical sections.
type Cache struct {
	guildsMu sync.RWMutex
	guilds   map[string]*Guild

	channelsMu sync.RWMutex
	channels   map[string]*Channel

	rolesMu sync.RWMutex
	roles   map[string]*Role

	usersMu      sync.RWMutex
	currentUsers map[string]*CurrentUser

	unavailableMu sync.RWMutex
	unavailable   IDSet
}

func New() *Cache {
	return &Cache{
		guilds:       make(map[string]*Guild),
		channels:     make(map[string]*Channel),
		roles:        make(map[string]*Role),
		currentUsers: make(map[string]*CurrentUser),
		unavailable:  make(IDSet),
	}
}

func (c *Cache) Guild(id string) (Guild, bool) {
	c.guildsMu.RLock()
	defer c.guildsMu.RUnlock()
	guild, ok := c.guilds[id]
	if !ok {
		return Guild{}, false
	}
	return *guild, true
}

func (c *Cache) Channel(id string) (Channel, bool) {
	c.channelsMu.RLock()
	defer c.channelsMu.RUnlock()
	channel, ok := c.channels[id]
	if !ok {
		return Channel{}, false
	}
	return *channel, true
}

func (c *Cache) Role(id string) (Role, bool) {
	c.rolesMu.RLock()
	defer c.rolesMu.RUnlock()
	role, ok := c.roles[id]
	if !ok {
		return Role{}, false
	}
	return *role, true
}

func (c *Cache) CurrentUser(guildID string) (CurrentUser, bool) {
	c.usersMu.RLock()
	defer c.usersMu.RUnlock()
	user, ok := c.currentUsers[guildID]
	if !ok {
		return CurrentUser{}, false
	}
	return *user, true
}

// GuildChannels returns the cached channels of a guild ordered by position,
// then name.
func (c *Cache) GuildChannels(guildID string) []Channel {
	guild, ok := c.Guild(guildID)
	if !ok {
		return nil
	}

	c.channelsMu.RLock()
	channels := make([]Channel, 0, guild.ChannelIDs.Len())
	for id := range guild.ChannelIDs {
		if channel, ok := c.channels[id]; ok {
			channels = append(channels, *channel)
		}
	}
	c.channelsMu.RUnlock()

	SortChannels(channels)
	return channels
}

// SortChannels orders channels by position and breaks ties by name, then id.
func SortChannels(channels []Channel) {
	sort.SliceStable(channels, func(i, j int) bool {
		if channels[i].Position != channels[j].Position {
			return channels[i].Position < channels[j].Position
		}
		if channels[i].Name != channels[j].Name {
			return channels[i].Name < channels[j].Name
		}
		return channels[i].ID < channels[j].ID
	})
}

func (c *Cache) GuildCount() int {
	c.guildsMu.RLock()
	defer c.guildsMu.RUnlock()
	return len(c.guilds)
}

func (c *Cache) ChannelCount() int {
	c.channelsMu.RLock()
	defer c.channelsMu.RUnlock()
	return len(c.channels)
}

// Counts returns the number of cached guilds and channels.
func (c *Cache) Counts() (guilds, channels int) {
	return c.GuildCount(), c.ChannelCount()
}

// InsertChannel stores the channel, replacing any previous entry with the
// same id. Channels of other kinds or without a guild are ignored.
func (c *Cache) InsertChannel(channel Channel) bool {
	if !channel.Kind.Cached() || channel.GuildID == "" || channel.ID == "" {
		return false
	}

	snapshot := channel
	snapshot.Overwrites = append([]Overwrite(nil), channel.Overwrites...)

	c.channelsMu.Lock()
	c.channels[channel.ID] = &snapshot
	c.channelsMu.Unlock()

	c.modifyGuild(channel.GuildID, func(g *Guild) {
		if !g.ChannelIDs.Has(channel.ID) {
			g.ChannelIDs = g.ChannelIDs.With(channel.ID)
		}
	})
	return true
}

func (c *Cache) RemoveChannel(id string) (Channel, bool) {
	c.channelsMu.Lock()
	channel, ok := c.channels[id]
	delete(c.channels, id)
	c.channelsMu.Unlock()
	if !ok {
		return Channel{}, false
	}

	c.modifyGuild(channel.GuildID, func(g *Guild) {
		if g.ChannelIDs.Has(id) {
			g.ChannelIDs = g.ChannelIDs.Without(id)
		}
		if g.TrackedCategoryIDs.Has(id) {
			g.TrackedCategoryIDs = g.TrackedCategoryIDs.Without(id)
		}
	})
	return *channel, true
}

// InsertGuild seeds the guild's channels and roles and then stores the guild
// record. Entries of a previous snapshot that the seed no longer lists are
// dropped.
func (c *Cache) InsertGuild(seed GuildSeed) {
	channelIDs := make(IDSet, len(seed.Channels))
	for _, channel := range seed.Channels {
		channel.GuildID = seed.ID
		if c.InsertChannel(channel) {
			channelIDs[channel.ID] = struct{}{}
		}
	}
	roleIDs := make(IDSet, len(seed.Roles))
	for _, role := range seed.Roles {
		role.GuildID = seed.ID
		if c.InsertRole(role) {
			roleIDs[role.ID] = struct{}{}
		}
	}

	tracked := seed.TrackedCategoryIDs.Clone()
	guild := &Guild{
		ID:                 seed.ID,
		Name:               seed.Name,
		InCheck:            seed.InCheck,
		ChannelIDs:         channelIDs,
		TrackedCategoryIDs: tracked,
		RoleIDs:            roleIDs,
	}

	c.guildsMu.Lock()
	previous := c.guilds[seed.ID]
	c.guilds[seed.ID] = guild
	c.guildsMu.Unlock()

	if previous != nil {
		c.dropChannels(previous.ChannelIDs, channelIDs)
		c.dropRoles(previous.RoleIDs, roleIDs)
	}

	c.unavailableMu.Lock()
	delete(c.unavailable, seed.ID)
	c.unavailableMu.Unlock()
}

// UpdateGuild merges the non-nil fields of update into the cached guild.
func (c *Cache) UpdateGuild(id string, update GuildUpdate) bool {
	return c.modifyGuild(id, func(g *Guild) {
		if update.Name != nil {
			g.Name = *update.Name
		}
		if update.InCheck != nil {
			g.InCheck = *update.InCheck
		}
		if update.TrackedCategoryIDs != nil {
			g.TrackedCategoryIDs = update.TrackedCategoryIDs.Clone()
		}
	})
}

// CompareAndSwapInCheck sets the in_check flag to next only when it currently
// equals old. found is false when the guild is not cached.
func (c *Cache) CompareAndSwapInCheck(id string, old, next bool) (swapped, found bool) {
	c.guildsMu.Lock()
	defer c.guildsMu.Unlock()
	current, ok := c.guilds[id]
	if !ok {
		return false, false
	}
	if current.InCheck != old {
		return false, true
	}
	updated := *current
	updated.InCheck = next
	c.guilds[id] = &updated
	return true, true
}

// RemoveGuild drops the guild with its channels, roles and current user.
// markUnavailable records the id so a later guild-available event is known to
// be a re-sync.
func (c *Cache) RemoveGuild(id string, markUnavailable bool) (Guild, bool) {
	c.guildsMu.Lock()
	guild, ok := c.guilds[id]
	delete(c.guilds, id)
	c.guildsMu.Unlock()

	if markUnavailable {
		c.InsertUnavailableGuild(id)
	}
	if !ok {
		return Guild{}, false
	}

	c.dropChannels(guild.ChannelIDs, nil)
	c.dropRoles(guild.RoleIDs, nil)

	c.usersMu.Lock()
	delete(c.currentUsers, id)
	c.usersMu.Unlock()

	return *guild, true
}

func (c *Cache) InsertRole(role Role) bool {
	if role.ID == "" || role.GuildID == "" {
		return false
	}
	snapshot := role

	c.rolesMu.Lock()
	c.roles[role.ID] = &snapshot
	c.rolesMu.Unlock()

	c.modifyGuild(role.GuildID, func(g *Guild) {
		if !g.RoleIDs.Has(role.ID) {
			g.RoleIDs = g.RoleIDs.With(role.ID)
		}
	})
	return true
}

func (c *Cache) UpdateRole(id string, update RoleUpdate) bool {
	c.rolesMu.Lock()
	defer c.rolesMu.Unlock()
	current, ok := c.roles[id]
	if !ok {
		return false
	}
	updated := *current
	if update.Name != nil {
		updated.Name = *update.Name
	}
	if update.Permissions != nil {
		updated.Permissions = *update.Permissions
	}
	if update.Position != nil {
		updated.Position = *update.Position
	}
	c.roles[id] = &updated
	return true
}

func (c *Cache) RemoveRole(id string) (Role, bool) {
	c.rolesMu.Lock()
	role, ok := c.roles[id]
	delete(c.roles, id)
	c.rolesMu.Unlock()
	if !ok {
		return Role{}, false
	}

	c.modifyGuild(role.GuildID, func(g *Guild) {
		if g.RoleIDs.Has(id) {
			g.RoleIDs = g.RoleIDs.Without(id)
		}
	})
	return *role, true
}

func (c *Cache) InsertCurrentUser(user CurrentUser) {
	if user.GuildID == "" {
		return
	}
	snapshot := user
	snapshot.RoleIDs = user.RoleIDs.Clone()
	if user.CommunicationDisabledUntil != nil {
		until := *user.CommunicationDisabledUntil
		snapshot.CommunicationDisabledUntil = &until
	}

	c.usersMu.Lock()
	c.currentUsers[user.GuildID] = &snapshot
	c.usersMu.Unlock()
}

func (c *Cache) UpdateCurrentUser(guildID string, update CurrentUserUpdate) bool {
	c.usersMu.Lock()
	defer c.usersMu.Unlock()
	current, ok := c.currentUsers[guildID]
	if !ok {
		return false
	}
	updated := *current
	if update.TimeoutChanged {
		updated.CommunicationDisabledUntil = nil
		if update.CommunicationDisabledUntil != nil {
			until := *update.CommunicationDisabledUntil
			updated.CommunicationDisabledUntil = &until
		}
	}
	if update.RoleIDs != nil {
		updated.RoleIDs = update.RoleIDs.Clone()
	}
	c.currentUsers[guildID] = &updated
	return true
}

func (c *Cache) InsertUnavailableGuild(id string) {
	c.unavailableMu.Lock()
	c.unavailable[id] = struct{}{}
	c.unavailableMu.Unlock()
}

func (c *Cache) IsUnavailable(id string) bool {
	c.unavailableMu.RLock()
	defer c.unavailableMu.RUnlock()
	return c.unavailable.Has(id)
}

func (c *Cache) modifyGuild(id string, mutate func(*Guild)) bool {
	c.guildsMu.Lock()
	defer c.guildsMu.Unlock()
	current, ok := c.guilds[id]
	if !ok {
		return false
	}
	updated := *current
	mutate(&updated)
	c.guilds[id] = &updated
	return true
}

func (c *Cache) dropChannels(ids, keep IDSet) {
	c.channelsMu.Lock()
	defer c.channelsMu.Unlock()
	for id := range ids {
		if keep.Has(id) {
			continue
		}
		delete(c.channels, id)
	}
}

func (c *Cache) dropRoles(ids, keep IDSet) {
	c.rolesMu.Lock()
	defer c.rolesMu.Unlock()
	for id := range ids {
		if keep.Has(id) {
			continue
		}
		delete(c.roles, id)
	}
}
