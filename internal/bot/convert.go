package bot

import (
	"sakura/internal/cache"
	"sakura/internal/modules/scan"

	"github.com/bwmarrin/discordgo"
)

func channelKind(t discordgo.ChannelType) cache.ChannelKind {
	switch t {
	case discordgo.ChannelTypeGuildCategory:
		return cache.KindCategory
	case discordgo.ChannelTypeGuildText:
		return cache.KindText
	case discordgo.ChannelTypeGuildNews:
		return cache.KindAnnouncement
	default:
		return cache.KindOther
	}
}

func toCacheChannel(channel *discordgo.Channel, guildID string) cache.Channel {
	if guildID == "" {
		guildID = channel.GuildID
	}
	overwrites := make([]cache.Overwrite, 0, len(channel.PermissionOverwrites))
	for _, overwrite := range channel.PermissionOverwrites {
		if overwrite == nil {
			continue
		}
		kind := cache.OverwriteRole
		if overwrite.Type == discordgo.PermissionOverwriteTypeMember {
			kind = cache.OverwriteMember
		}
		overwrites = append(overwrites, cache.Overwrite{
			ID:    overwrite.ID,
			Type:  kind,
			Allow: overwrite.Allow,
			Deny:  overwrite.Deny,
		})
	}
	return cache.Channel{
		ID:         channel.ID,
		GuildID:    guildID,
		Name:       channel.Name,
		Kind:       channelKind(channel.Type),
		ParentID:   channel.ParentID,
		Position:   channel.Position,
		Overwrites: overwrites,
	}
}

func toCacheRole(role *discordgo.Role, guildID string) cache.Role {
	return cache.Role{
		ID:          role.ID,
		GuildID:     guildID,
		Name:        role.Name,
		Permissions: role.Permissions,
		Position:    role.Position,
	}
}

// guildSeed converts a guild-available payload. Channels of uncached kinds are
// dropped by the cache itself.
func guildSeed(guild *discordgo.Guild, tracked cache.IDSet) cache.GuildSeed {
	seed := cache.GuildSeed{
		ID:                 guild.ID,
		Name:               guild.Name,
		TrackedCategoryIDs: tracked,
	}
	for _, channel := range guild.Channels {
		if channel != nil {
			seed.Channels = append(seed.Channels, toCacheChannel(channel, guild.ID))
		}
	}
	for _, role := range guild.Roles {
		if role != nil {
			seed.Roles = append(seed.Roles, toCacheRole(role, guild.ID))
		}
	}
	return seed
}

func currentUserFromMember(guildID string, member *discordgo.Member) cache.CurrentUser {
	return cache.CurrentUser{
		GuildID:                    guildID,
		UserID:                     member.User.ID,
		CommunicationDisabledUntil: member.CommunicationDisabledUntil,
		RoleIDs:                    cache.NewIDSet(member.Roles...),
	}
}

// findMember returns the member entry for userID from a guild payload.
func findMember(guild *discordgo.Guild, userID string) (*discordgo.Member, bool) {
	for _, member := range guild.Members {
		if member != nil && member.User != nil && member.User.ID == userID {
			return member, true
		}
	}
	return nil, false
}

func toScanMessage(message *discordgo.Message) scan.Message {
	descriptions := make([]string, 0, len(message.Embeds))
	for _, embed := range message.Embeds {
		if embed != nil {
			descriptions = append(descriptions, embed.Description)
		}
	}
	return scan.Message{
		ID:                message.ID,
		GuildID:           message.GuildID,
		ChannelID:         message.ChannelID,
		Content:           message.Content,
		EmbedDescriptions: descriptions,
	}
}
