package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sakura/internal/cache"
	"sakura/internal/modules/check"
	"sakura/internal/modules/settings"
	"sakura/internal/permissions"
	"sakura/internal/storage"
	"sakura/internal/utils"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const historyWindow = 7 * 24 * time.Hour

func (b *Bot) onInteractionCreate(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	if interaction.Type != discordgo.InteractionApplicationCommand {
		return
	}

	ctx := context.Background()
	data := interaction.ApplicationCommandData()
	if reason := b.guardInteraction(interaction); reason != "" {
		b.respondError(session, interaction, reason)
		return
	}

	switch data.Name {
	case "check":
		b.handleCheck(ctx, session, interaction)
	case "counts":
		b.handleCounts(ctx, session, interaction)
	case "config":
		b.handleConfig(ctx, session, interaction, data.Options)
	case "stats":
		b.handleStats(ctx, session, interaction)
	case "latency":
		b.handleLatency(session, interaction)
	case "info":
		b.handleInfo(session, interaction)
	case "Check message":
		b.handleCheckMessage(ctx, session, interaction, data)
	}
}

// guardInteraction returns the user-facing reason a command cannot run here,
// or an empty string.
func (b *Bot) guardInteraction(interaction *discordgo.InteractionCreate) string {
	if interaction.GuildID == "" {
		return "Commands can only be used inside a server."
	}
	channel, ok := b.cache.Channel(interaction.ChannelID)
	if !ok || (channel.Kind != cache.KindText && channel.Kind != cache.KindAnnouncement) {
		return "Commands can only be used in text or announcement channels."
	}
	perms, ok := b.perms.ChannelPermissions(interaction.ChannelID)
	if msg := missingPermissionsLine(perms, ok); msg != "" {
		return msg
	}
	if _, ok := b.cache.Guild(interaction.GuildID); !ok {
		return "This server is not ready yet. Try again in a moment."
	}
	return ""
}

// missingPermissionsLine names the required permissions the bot lacks in
// the channel. ok is false when they could not be computed at all.
func missingPermissionsLine(perms int64, ok bool) string {
	if !ok {
		return "Sakura needs View Channel, Send Messages, Read Message History and Embed Links in this channel."
	}
	missing := permissions.Missing(perms, permissions.Required)
	if missing == 0 {
		return ""
	}
	return "Sakura is missing " + strings.Join(permissions.Names(missing), ", ") + " in this channel."
}

func (b *Bot) handleCheck(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	if err := b.deferResponse(session, interaction, false); err != nil {
		b.logger.Warn("defer check response failed", zap.Error(err), zap.String("guild_id", interaction.GuildID))
		return
	}

	started := false
	summary, err := b.checks.Run(ctx, interaction.GuildID, func(info check.StartInfo) {
		started = true
		description := "Sakura is checking your invites now!"
		if info.ResultsChannelID != interaction.ChannelID {
			description = fmt.Sprintf("Results will be sent in <#%s>!", info.ResultsChannelID)
		}
		b.editEmbed(session, interaction, commandEmbed("Invite check", description, info.EmbedColor, nil))
	})
	if err != nil {
		b.logger.Warn("invite check failed", zap.Error(err), zap.String("guild_id", interaction.GuildID), zap.Bool("started", started))
		b.editEmbed(session, interaction, commandEmbed("Invite check", errorDescription(err), b.cfg.Embed.ErrorColor, nil))
		return
	}
	b.logger.Info("invite check finished",
		zap.String("guild_id", interaction.GuildID),
		zap.Int("channels", summary.Channels),
		zap.Int("invites", summary.Total()),
		zap.Duration("elapsed", summary.Elapsed()),
	)
}

func (b *Bot) handleCounts(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	counts, err := b.settings.Counts(ctx, interaction.GuildID)
	if err != nil {
		b.respondError(session, interaction, errorDescription(err))
		return
	}
	b.respondEmbed(session, interaction, countsEmbed(counts, b.guildColor(ctx, interaction.GuildID)), false)
}

func (b *Bot) handleConfig(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	if len(options) == 0 {
		b.respondError(session, interaction, "Choose a configuration subcommand.")
		return
	}
	sub := options[0]
	guildID := interaction.GuildID

	switch sub.Name {
	case "add-category":
		channelID := channelOption(sub.Options, "category")
		if err := b.deferResponse(session, interaction, false); err != nil {
			b.logger.Warn("defer config response failed", zap.Error(err), zap.String("guild_id", guildID))
			return
		}
		result, err := b.settings.AddCategory(ctx, guildID, channelID)
		if err != nil {
			b.logger.Warn("add category failed", zap.Error(err), zap.String("guild_id", guildID), zap.String("category_id", channelID))
			b.editEmbed(session, interaction, commandEmbed("Categories", errorDescription(err), b.cfg.Embed.ErrorColor, nil))
			return
		}
		description := fmt.Sprintf("Added <#%s>. Stored %s messages from %s channels.",
			channelID, utils.AddCommas(int64(result.Messages)), utils.AddCommas(int64(result.Channels)))
		b.editEmbed(session, interaction, commandEmbed("Categories", description, b.guildColor(ctx, guildID), []*discordgo.MessageEmbedField{
			{Name: "Tracked categories", Value: channelMentions(result.Tracked)},
		}))
	case "remove-category":
		channelID := channelOption(sub.Options, "category")
		tracked, err := b.settings.RemoveCategory(ctx, guildID, channelID)
		b.respondConfigList(ctx, session, interaction, "Categories", fmt.Sprintf("Removed <#%s>.", channelID), "Tracked categories", tracked, err)
	case "add-ignored":
		channelID := channelOption(sub.Options, "channel")
		ignored, err := b.settings.AddIgnored(ctx, guildID, channelID)
		b.respondConfigList(ctx, session, interaction, "Ignored channels", fmt.Sprintf("Ignoring <#%s>.", channelID), "Ignored channels", ignored, err)
	case "remove-ignored":
		channelID := channelOption(sub.Options, "channel")
		ignored, err := b.settings.RemoveIgnored(ctx, guildID, channelID)
		b.respondConfigList(ctx, session, interaction, "Ignored channels", fmt.Sprintf("No longer ignoring <#%s>.", channelID), "Ignored channels", ignored, err)
	case "set-results-channel":
		channelID := channelOption(sub.Options, "channel")
		if err := b.settings.SetResultsChannel(ctx, guildID, channelID); err != nil {
			b.respondError(session, interaction, errorDescription(err))
			return
		}
		b.respondEmbed(session, interaction, commandEmbed("Results channel", fmt.Sprintf("Results will be sent in <#%s>.", channelID), b.guildColor(ctx, guildID), nil), false)
	case "set-embed-color":
		color, err := b.settings.SetEmbedColor(ctx, guildID, stringOption(sub.Options, "color"))
		if err != nil {
			b.respondError(session, interaction, errorDescription(err))
			return
		}
		b.respondEmbed(session, interaction, commandEmbed("Embed color", "Embed color set to "+settings.FormatColor(color)+".", color, nil), false)
	case "show":
		overview, err := b.settings.Show(ctx, guildID)
		if err != nil {
			b.respondError(session, interaction, errorDescription(err))
			return
		}
		b.respondEmbed(session, interaction, showEmbed(overview), false)
	default:
		b.respondError(session, interaction, "Unknown configuration subcommand.")
	}
}

func (b *Bot) respondConfigList(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, title, description, field string, ids []string, err error) {
	if err != nil {
		b.respondError(session, interaction, errorDescription(err))
		return
	}
	b.respondEmbed(session, interaction, commandEmbed(title, description, b.guildColor(ctx, interaction.GuildID), []*discordgo.MessageEmbedField{
		{Name: field, Value: channelMentions(ids)},
	}), false)
}

func (b *Bot) handleStats(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	snapshot := b.analytics.Snapshot()
	history, err := b.analytics.History(ctx, interaction.GuildID, time.Now().Add(-historyWindow))
	if err != nil {
		b.logger.Warn("load check history failed", zap.Error(err), zap.String("guild_id", interaction.GuildID))
	}
	b.respondEmbed(session, interaction, statsEmbed(snapshot, history, b.guildColor(ctx, interaction.GuildID)), false)
}

func (b *Bot) handleLatency(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	heartbeat := session.HeartbeatLatency()
	description := fmt.Sprintf("Gateway heartbeat: **%s**", utils.Humanize(heartbeat.Truncate(time.Millisecond)))
	b.respondEmbed(session, interaction, commandEmbed("Latency", description, b.cfg.Embed.DefaultColor, nil), true)
}

func (b *Bot) handleInfo(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	fields := []*discordgo.MessageEmbedField{
		{
			Name: "Setup",
			Value: "1. `/config add-category` for each category with invites\n" +
				"2. `/config set-results-channel` where reports should go\n" +
				"3. `/check` to run an invite check",
		},
		{
			Name:  "Permissions",
			Value: "View Channel, Send Messages, Read Message History and Embed Links in every added category and in the results channel.",
		},
		{
			Name:  "Data",
			Value: fmt.Sprintf("Messages and invites are kept for %d days.", b.cfg.Jobs.RetentionDays),
		},
	}
	b.respondEmbed(session, interaction, commandEmbed("Sakura", "Sakura tracks invites posted in your server's categories and reports which ones have expired.", b.cfg.Embed.DefaultColor, fields), true)
}

func (b *Bot) handleCheckMessage(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, data discordgo.ApplicationCommandInteractionData) {
	var message *discordgo.Message
	if data.Resolved != nil {
		message = data.Resolved.Messages[data.TargetID]
	}
	if message == nil {
		b.respondError(session, interaction, "That message could not be loaded.")
		return
	}
	if err := b.deferResponse(session, interaction, true); err != nil {
		b.logger.Warn("defer check message response failed", zap.Error(err), zap.String("guild_id", interaction.GuildID))
		return
	}

	scanned := toScanMessage(message)
	scanned.GuildID = interaction.GuildID
	codes, err := b.tracker.QueueMessage(ctx, scanned)
	if err != nil {
		if !isUserError(err) {
			b.logger.Error("queue message failed", zap.Error(err), zap.String("guild_id", interaction.GuildID), zap.String("message_id", message.ID))
		}
		b.editEmbed(session, interaction, commandEmbed("Check message", errorDescription(err), b.cfg.Embed.ErrorColor, nil))
		return
	}

	found := make(map[string]storage.Invite, len(codes))
	for _, code := range codes {
		invite, err := b.store.GetInvite(ctx, code)
		if err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				b.logger.Warn("load invite failed", zap.Error(err), zap.String("code", code))
			}
			continue
		}
		found[code] = invite
	}
	b.editEmbed(session, interaction, messageCheckEmbed(codes, found, b.guildColor(ctx, interaction.GuildID)))
}

// guildColor returns the guild's configured embed color, falling back to the
// process default.
func (b *Bot) guildColor(ctx context.Context, guildID string) int {
	cfg, err := b.store.GetGuild(ctx, guildID)
	if err != nil {
		return b.cfg.Embed.DefaultColor
	}
	return cfg.EmbedColor
}

func (b *Bot) respond(session *discordgo.Session, interaction *discordgo.InteractionCreate, content string, ephemeral bool) {
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	_ = session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   flags,
		},
	})
}

func (b *Bot) respondEmbed(session *discordgo.Session, interaction *discordgo.InteractionCreate, embed *discordgo.MessageEmbed, ephemeral bool) {
	if embed == nil {
		b.respond(session, interaction, "No response available.", ephemeral)
		return
	}
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	if err := session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
			Flags:  flags,
		},
	}); err != nil {
		b.logger.Warn("interaction respond failed", zap.Error(err), zap.String("guild_id", interaction.GuildID))
	}
}

func (b *Bot) respondError(session *discordgo.Session, interaction *discordgo.InteractionCreate, description string) {
	b.respondEmbed(session, interaction, commandEmbed("Error", description, b.cfg.Embed.ErrorColor, nil), true)
}

func (b *Bot) deferResponse(session *discordgo.Session, interaction *discordgo.InteractionCreate, ephemeral bool) error {
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	return session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: flags},
	})
}

func (b *Bot) editEmbed(session *discordgo.Session, interaction *discordgo.InteractionCreate, embed *discordgo.MessageEmbed) {
	embeds := []*discordgo.MessageEmbed{embed}
	if _, err := session.InteractionResponseEdit(interaction.Interaction, &discordgo.WebhookEdit{Embeds: &embeds}); err != nil {
		b.logger.Warn("interaction edit failed", zap.Error(err), zap.String("guild_id", interaction.GuildID))
	}
}

func channelOption(options []*discordgo.ApplicationCommandInteractionDataOption, name string) string {
	for _, option := range options {
		if option.Name == name {
			if id, ok := option.Value.(string); ok {
				return id
			}
		}
	}
	return ""
}

func stringOption(options []*discordgo.ApplicationCommandInteractionDataOption, name string) string {
	for _, option := range options {
		if option.Name == name {
			return option.StringValue()
		}
	}
	return ""
}

func channelMentions(ids []string) string {
	if len(ids) == 0 {
		return "None"
	}
	mentions := make([]string, 0, len(ids))
	for _, id := range ids {
		mentions = append(mentions, fmt.Sprintf("<#%s>", id))
	}
	return truncate(strings.Join(mentions, "\n"), 1024)
}
