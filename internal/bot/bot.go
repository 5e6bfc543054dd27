package bot

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"sakura/internal/analytics"
	"sakura/internal/cache"
	"sakura/internal/config"
	"sakura/internal/modules/audit"
	"sakura/internal/modules/check"
	"sakura/internal/modules/scan"
	"sakura/internal/modules/settings"
	"sakura/internal/permissions"
	"sakura/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

type Bot struct {
	cfg       config.Config
	logger    *zap.Logger
	store     *storage.Store
	cache     *cache.Cache
	perms     *permissions.Evaluator
	tracker   *scan.Tracker
	audit     *audit.Logger
	analytics *analytics.Service
	checks    *check.Orchestrator
	settings  *settings.Service
	session   *discordgo.Session
	userID    atomic.Value
}

// Deps are the modules the gateway handlers and commands drive.
type Deps struct {
	Store     *storage.Store
	Cache     *cache.Cache
	Perms     *permissions.Evaluator
	Tracker   *scan.Tracker
	Audit     *audit.Logger
	Analytics *analytics.Service
	Checks    *check.Orchestrator
	Settings  *settings.Service
}

func NewSession(cfg config.Config) (*discordgo.Session, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, err
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsMessageContent

	// Guild state is mirrored by the cache package.
	session.State.TrackMembers = false
	session.State.TrackPresences = false
	session.State.TrackVoice = false
	session.State.TrackEmojis = false
	session.State.MaxMessageCount = 0
	return session, nil
}

func New(cfg config.Config, logger *zap.Logger, session *discordgo.Session, deps Deps) *Bot {
	b := &Bot{
		cfg:       cfg,
		logger:    logger,
		store:     deps.Store,
		cache:     deps.Cache,
		perms:     deps.Perms,
		tracker:   deps.Tracker,
		audit:     deps.Audit,
		analytics: deps.Analytics,
		checks:    deps.Checks,
		settings:  deps.Settings,
		session:   session,
	}
	if b.audit != nil {
		b.audit.SetNotifier(func(ctx context.Context, kind storage.EventKind, guildID string) {
			if b.cfg.Notifications.LogChannelID == "" {
				return
			}
			b.notifyEvent(ctx, kind, guildID)
		})
	}
	return b
}

func (b *Bot) Start() error {
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onGuildCreate)
	b.session.AddHandler(b.onGuildUpdate)
	b.session.AddHandler(b.onGuildDelete)
	b.session.AddHandler(b.onChannelCreate)
	b.session.AddHandler(b.onChannelUpdate)
	b.session.AddHandler(b.onChannelDelete)
	b.session.AddHandler(b.onGuildMemberUpdate)
	b.session.AddHandler(b.onRoleCreate)
	b.session.AddHandler(b.onRoleUpdate)
	b.session.AddHandler(b.onRoleDelete)
	b.session.AddHandler(b.onMessageCreate)
	b.session.AddHandler(b.onMessageUpdate)
	b.session.AddHandler(b.onMessageDelete)
	b.session.AddHandler(b.onMessageDeleteBulk)
	b.session.AddHandler(b.onInteractionCreate)

	if err := b.session.Open(); err != nil {
		return err
	}

	if err := b.registerCommands(); err != nil {
		return err
	}
	return nil
}

func (b *Bot) Close() {
	if b.session == nil {
		return
	}
	if err := b.session.Close(); err != nil {
		b.logger.Warn("close gateway session failed", zap.Error(err))
	}
}

func (b *Bot) botUserID() string {
	id, _ := b.userID.Load().(string)
	return id
}

func (b *Bot) onReady(session *discordgo.Session, event *discordgo.Ready) {
	b.userID.Store(event.User.ID)
	for _, guild := range event.Guilds {
		if guild != nil {
			b.cache.InsertUnavailableGuild(guild.ID)
		}
	}
	b.analytics.MarkReady(time.Now())
	b.logger.Info("discord ready",
		zap.String("user", event.User.Username),
		zap.Int("guilds", len(event.Guilds)),
	)
}

func (b *Bot) onGuildCreate(session *discordgo.Session, event *discordgo.GuildCreate) {
	if event.Guild == nil || event.Unavailable {
		return
	}
	ctx := context.Background()
	guild := event.Guild

	// A reconnect re-sends guilds that may be mid-check.
	previous, cached := b.cache.Guild(guild.ID)
	tracked := cache.NewIDSet()
	cfg, err := b.store.GetGuild(ctx, guild.ID)
	switch {
	case err == nil:
		tracked = cache.NewIDSet(cfg.CategoryChannelIDs...)
	case !errors.Is(err, storage.ErrNotFound):
		b.logger.Warn("load guild config failed", zap.Error(err), zap.String("guild_id", guild.ID))
		if cached {
			tracked = previous.TrackedCategoryIDs
		}
	}
	b.cacheGuild(guild, tracked)

	userID := b.botUserID()
	member, ok := findMember(guild, userID)
	if !ok && userID != "" {
		member, err = session.GuildMember(guild.ID, userID, discordgo.WithContext(ctx))
		ok = err == nil && member != nil && member.User != nil
		if !ok {
			b.logger.Warn("fetch own member failed", zap.Error(err), zap.String("guild_id", guild.ID))
		}
	}
	if ok {
		b.cache.InsertCurrentUser(currentUserFromMember(guild.ID, member))
	}

	created, err := b.store.InsertGuild(ctx, guild.ID)
	if err != nil {
		b.logger.Error("insert guild failed", zap.Error(err), zap.String("guild_id", guild.ID))
		return
	}
	if created {
		b.audit.GuildJoined(ctx, guild.ID, guild.Name)
	}
}

// cacheGuild replaces the cached guild, keeping the in_check flag of a check
// that survived a reconnect. It reports whether the guild was coming back
// from an outage.
func (b *Bot) cacheGuild(guild *discordgo.Guild, tracked cache.IDSet) bool {
	previous, cached := b.cache.Guild(guild.ID)
	resynced := b.cache.IsUnavailable(guild.ID)
	seed := guildSeed(guild, tracked)
	seed.InCheck = cached && previous.InCheck
	b.cache.InsertGuild(seed)
	if resynced {
		b.logger.Info("guild available again, cache resynced",
			zap.String("guild_id", guild.ID),
			zap.Int("channels", len(seed.Channels)),
		)
	}
	return resynced
}

func (b *Bot) onGuildUpdate(session *discordgo.Session, event *discordgo.GuildUpdate) {
	if event.Guild == nil {
		return
	}
	name := event.Guild.Name
	if !b.cache.UpdateGuild(event.Guild.ID, cache.GuildUpdate{Name: &name}) {
		return
	}
	for _, role := range event.Guild.Roles {
		if role != nil {
			b.cache.InsertRole(toCacheRole(role, event.Guild.ID))
		}
	}
}

func (b *Bot) onGuildDelete(session *discordgo.Session, event *discordgo.GuildDelete) {
	if event.Guild == nil {
		return
	}
	guildID := event.Guild.ID
	if event.Guild.Unavailable {
		b.cache.RemoveGuild(guildID, true)
		b.logger.Warn("guild unavailable", zap.String("guild_id", guildID))
		return
	}

	ctx := context.Background()
	b.cache.RemoveGuild(guildID, false)
	if err := b.store.RemoveGuild(ctx, guildID); err != nil {
		b.logger.Error("remove guild failed", zap.Error(err), zap.String("guild_id", guildID))
	}
	if _, err := b.store.RemoveGuildMessages(ctx, guildID); err != nil {
		b.logger.Error("remove guild messages failed", zap.Error(err), zap.String("guild_id", guildID))
	}
	b.audit.GuildLeft(ctx, guildID)
}

func (b *Bot) onChannelCreate(session *discordgo.Session, event *discordgo.ChannelCreate) {
	if event.Channel == nil || event.GuildID == "" {
		return
	}
	b.cache.InsertChannel(toCacheChannel(event.Channel, event.GuildID))
}

func (b *Bot) onChannelUpdate(session *discordgo.Session, event *discordgo.ChannelUpdate) {
	if event.Channel == nil || event.GuildID == "" {
		return
	}
	b.cache.InsertChannel(toCacheChannel(event.Channel, event.GuildID))
}

func (b *Bot) onChannelDelete(session *discordgo.Session, event *discordgo.ChannelDelete) {
	if event.Channel == nil || event.GuildID == "" {
		return
	}
	ctx := context.Background()
	guildID, channelID := event.GuildID, event.Channel.ID
	b.cache.RemoveChannel(channelID)

	tracked, err := b.store.RemoveChannel(ctx, guildID, channelID)
	switch {
	case err == nil:
		b.cache.UpdateGuild(guildID, cache.GuildUpdate{TrackedCategoryIDs: cache.NewIDSet(tracked...)})
	case !errors.Is(err, storage.ErrNotFound):
		b.logger.Error("remove channel config failed", zap.Error(err), zap.String("guild_id", guildID), zap.String("channel_id", channelID))
	}
	if _, err := b.store.RemoveChannelMessages(ctx, channelID); err != nil {
		b.logger.Error("remove channel messages failed", zap.Error(err), zap.String("channel_id", channelID))
	}
}

func (b *Bot) onGuildMemberUpdate(session *discordgo.Session, event *discordgo.GuildMemberUpdate) {
	if event.Member == nil || event.User == nil || event.User.ID != b.botUserID() {
		return
	}
	update := cache.CurrentUserUpdate{
		TimeoutChanged:             true,
		CommunicationDisabledUntil: event.CommunicationDisabledUntil,
		RoleIDs:                    cache.NewIDSet(event.Roles...),
	}
	if !b.cache.UpdateCurrentUser(event.GuildID, update) {
		b.cache.InsertCurrentUser(currentUserFromMember(event.GuildID, event.Member))
	}
}

func (b *Bot) onRoleCreate(session *discordgo.Session, event *discordgo.GuildRoleCreate) {
	if event.GuildRole == nil || event.Role == nil {
		return
	}
	b.cache.InsertRole(toCacheRole(event.Role, event.GuildID))
}

func (b *Bot) onRoleUpdate(session *discordgo.Session, event *discordgo.GuildRoleUpdate) {
	if event.GuildRole == nil || event.Role == nil {
		return
	}
	role := event.Role
	update := cache.RoleUpdate{
		Name:        &role.Name,
		Permissions: &role.Permissions,
		Position:    &role.Position,
	}
	if !b.cache.UpdateRole(role.ID, update) {
		b.cache.InsertRole(toCacheRole(role, event.GuildID))
	}
}

func (b *Bot) onRoleDelete(session *discordgo.Session, event *discordgo.GuildRoleDelete) {
	b.cache.RemoveRole(event.RoleID)
}

func (b *Bot) onMessageCreate(session *discordgo.Session, event *discordgo.MessageCreate) {
	if event.Message == nil || event.GuildID == "" {
		return
	}
	b.trackMessage(event.Message)
}

// Partial updates such as embed unfurls carry no author and must not
// overwrite the stored code set.
func (b *Bot) onMessageUpdate(session *discordgo.Session, event *discordgo.MessageUpdate) {
	if event.Message == nil || event.GuildID == "" || event.Author == nil {
		return
	}
	b.trackMessage(event.Message)
}

func (b *Bot) trackMessage(message *discordgo.Message) {
	ctx := context.Background()
	codes, tracked, err := b.tracker.TrackMessage(ctx, toScanMessage(message))
	if err != nil {
		b.logger.Error("track message failed",
			zap.Error(err),
			zap.String("guild_id", message.GuildID),
			zap.String("channel_id", message.ChannelID),
			zap.String("message_id", message.ID),
		)
		return
	}
	if tracked && len(codes) > 0 {
		b.logger.Debug("message tracked",
			zap.String("channel_id", message.ChannelID),
			zap.Strings("codes", codes),
		)
	}
}

func (b *Bot) onMessageDelete(session *discordgo.Session, event *discordgo.MessageDelete) {
	if event.Message == nil || event.GuildID == "" {
		return
	}
	b.removeMessages([]string{event.ID})
}

func (b *Bot) onMessageDeleteBulk(session *discordgo.Session, event *discordgo.MessageDeleteBulk) {
	if event.GuildID == "" {
		return
	}
	b.removeMessages(event.Messages)
}

func (b *Bot) removeMessages(messageIDs []string) {
	if _, err := b.store.RemoveMessages(context.Background(), messageIDs); err != nil {
		b.logger.Error("remove messages failed", zap.Error(err), zap.Int("messages", len(messageIDs)))
	}
}

func (b *Bot) notifyEvent(ctx context.Context, kind storage.EventKind, guildID string) {
	var description string
	switch kind {
	case storage.EventGuildCreate:
		description = fmt.Sprintf("Joined server `%s`.", guildID)
		if guild, ok := b.cache.Guild(guildID); ok {
			description = fmt.Sprintf("Joined **%s** (`%s`).", guild.Name, guildID)
		}
	case storage.EventGuildDelete:
		description = fmt.Sprintf("Left server `%s`.", guildID)
	default:
		return
	}
	guilds, _ := b.cache.Counts()
	embed := commandEmbed("Servers", description, b.cfg.Embed.DefaultColor, []*discordgo.MessageEmbedField{
		{Name: "Servers", Value: fmt.Sprint(guilds), Inline: true},
	})
	if _, err := b.session.ChannelMessageSendEmbed(b.cfg.Notifications.LogChannelID, embed, discordgo.WithContext(ctx)); err != nil {
		b.logger.Warn("log channel notify failed", zap.Error(err), zap.String("event", string(kind)))
	}
}
