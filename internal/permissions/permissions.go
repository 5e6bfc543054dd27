package permissions

import (
	"time"

	"sakura/internal/cache"

	"github.com/bwmarrin/discordgo"
)

// Required is the permission set the bot needs in a channel to read its
// history and post check results there.
const Required int64 = discordgo.PermissionEmbedLinks |
	discordgo.PermissionReadMessageHistory |
	discordgo.PermissionSendMessages |
	discordgo.PermissionViewChannel

const administrator int64 = discordgo.PermissionAdministrator

// All is returned for members holding ADMINISTRATOR.
const All int64 = ^int64(0)

type Evaluator struct {
	cache *cache.Cache
	now   func() time.Time
}

func NewEvaluator(c *cache.Cache) *Evaluator {
	return &Evaluator{cache: c, now: time.Now}
}

func (e *Evaluator) WithClock(now func() time.Time) {
	e.now = now
}

// HasMinimumChannelPermissions fails closed whenever the channel, the bot's
// membership or the @everyone role is not cached, and while the bot is timed
// out.
func (e *Evaluator) HasMinimumChannelPermissions(channelID string) bool {
	perms, ok := e.ChannelPermissions(channelID)
	if !ok {
		return false
	}
	return Has(perms, Required)
}

// ChannelPermissions resolves the bot's effective permissions in a channel.
func (e *Evaluator) ChannelPermissions(channelID string) (int64, bool) {
	channel, ok := e.cache.Channel(channelID)
	if !ok {
		return 0, false
	}
	user, ok := e.cache.CurrentUser(channel.GuildID)
	if !ok {
		return 0, false
	}
	if user.TimedOut(e.now()) {
		return 0, false
	}
	everyone, ok := e.cache.Role(channel.GuildID)
	if !ok {
		return 0, false
	}

	rolePerms := make([]int64, 0, user.RoleIDs.Len())
	for roleID := range user.RoleIDs {
		// unresolved roles contribute nothing
		if role, ok := e.cache.Role(roleID); ok {
			rolePerms = append(rolePerms, role.Permissions)
		}
	}

	base := ComputeBase(everyone.Permissions, rolePerms)
	return ComputeOverwrites(base, channel.GuildID, user.UserID, user.RoleIDs, channel.Overwrites), true
}

// ComputeBase combines the @everyone role with the member's roles.
func ComputeBase(everyone int64, roles []int64) int64 {
	perms := everyone
	for _, role := range roles {
		perms |= role
	}
	if perms&administrator == administrator {
		return All
	}
	return perms
}

// ComputeOverwrites applies channel overwrites in Discord's order: the
// @everyone overwrite, then every role overwrite the member holds (denies
// before allows), then the member's own overwrite.
func ComputeOverwrites(base int64, guildID, userID string, roleIDs cache.IDSet, overwrites []cache.Overwrite) int64 {
	if base&administrator == administrator {
		return All
	}

	perms := base
	for _, overwrite := range overwrites {
		if overwrite.Type == cache.OverwriteRole && overwrite.ID == guildID {
			perms &^= overwrite.Deny
			perms |= overwrite.Allow
			break
		}
	}

	var allow, deny int64
	for _, overwrite := range overwrites {
		if overwrite.Type != cache.OverwriteRole || overwrite.ID == guildID {
			continue
		}
		if roleIDs.Has(overwrite.ID) {
			allow |= overwrite.Allow
			deny |= overwrite.Deny
		}
	}
	perms &^= deny
	perms |= allow

	if userID != "" {
		for _, overwrite := range overwrites {
			if overwrite.Type == cache.OverwriteMember && overwrite.ID == userID {
				perms &^= overwrite.Deny
				perms |= overwrite.Allow
				break
			}
		}
	}

	return perms
}

func Has(perms, required int64) bool {
	return perms&required == required
}

// Missing lists the bits of required that perms lacks.
func Missing(perms, required int64) int64 {
	return required &^ perms
}

var requiredNames = []struct {
	bit  int64
	name string
}{
	{discordgo.PermissionViewChannel, "View Channel"},
	{discordgo.PermissionSendMessages, "Send Messages"},
	{discordgo.PermissionReadMessageHistory, "Read Message History"},
	{discordgo.PermissionEmbedLinks, "Embed Links"},
}

// Names returns display names for the bits of Required set in bits.
func Names(bits int64) []string {
	var names []string
	for _, entry := range requiredNames {
		if bits&entry.bit != 0 {
			names = append(names, entry.name)
		}
	}
	return names
}
