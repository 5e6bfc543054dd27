package bot

import "github.com/bwmarrin/discordgo"

var (
	manageServer int64 = discordgo.PermissionManageServer
	guildOnly          = false
)

func commandDefinitions() []*discordgo.ApplicationCommand {
	categoryOption := func(description string) *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{
			Type:         discordgo.ApplicationCommandOptionChannel,
			Name:         "category",
			Description:  description,
			ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildCategory},
			Required:     true,
		}
	}
	channelOption := func(description string, types ...discordgo.ChannelType) *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{
			Type:         discordgo.ApplicationCommandOptionChannel,
			Name:         "channel",
			Description:  description,
			ChannelTypes: types,
			Required:     true,
		}
	}
	textTypes := []discordgo.ChannelType{discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews}

	return []*discordgo.ApplicationCommand{
		{
			Name:                     "check",
			Description:              "Check the invites in every added category",
			DefaultMemberPermissions: &manageServer,
			DMPermission:             &guildOnly,
		},
		{
			Name:                     "counts",
			Description:              "Count the channels in every added category",
			DefaultMemberPermissions: &manageServer,
			DMPermission:             &guildOnly,
		},
		{
			Name:                     "config",
			Description:              "Configure invite checks",
			DefaultMemberPermissions: &manageServer,
			DMPermission:             &guildOnly,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "add-category",
					Description: "Add a category to invite checks",
					Options:     []*discordgo.ApplicationCommandOption{categoryOption("Category to add")},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "remove-category",
					Description: "Remove a category from invite checks",
					Options:     []*discordgo.ApplicationCommandOption{categoryOption("Category to remove")},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "add-ignored",
					Description: "Skip a channel during invite checks",
					Options:     []*discordgo.ApplicationCommandOption{channelOption("Channel to ignore", textTypes...)},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "remove-ignored",
					Description: "Stop skipping a channel during invite checks",
					Options:     []*discordgo.ApplicationCommandOption{channelOption("Channel to stop ignoring", textTypes...)},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "set-results-channel",
					Description: "Set the channel invite check results are sent to",
					Options:     []*discordgo.ApplicationCommandOption{channelOption("Results channel", textTypes...)},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "set-embed-color",
					Description: "Set the color of result embeds",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "color",
							Description: "Hex color such as #F8F8FF",
							Required:    true,
							MinLength:   intPtr(6),
							MaxLength:   7,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "show",
					Description: "Show the current configuration",
				},
			},
		},
		{
			Name:         "stats",
			Description:  "Show bot statistics",
			DMPermission: &guildOnly,
		},
		{
			Name:         "latency",
			Description:  "Show gateway latency",
			DMPermission: &guildOnly,
		},
		{
			Name:         "info",
			Description:  "Show setup help",
			DMPermission: &guildOnly,
		},
		{
			Name:                     "Check message",
			Type:                     discordgo.MessageApplicationCommand,
			DefaultMemberPermissions: &manageServer,
			DMPermission:             &guildOnly,
		},
	}
}

func intPtr(v int) *int {
	return &v
}

func (b *Bot) registerCommands() error {
	commands := commandDefinitions()

	appID := b.session.State.User.ID
	existing, err := b.session.ApplicationCommands(appID, "")
	if err != nil {
		for _, cmd := range commands {
			if _, err := b.session.ApplicationCommandCreate(appID, "", cmd); err != nil {
				return err
			}
		}
		return nil
	}

	existingByName := make(map[string]*discordgo.ApplicationCommand)
	for _, cmd := range existing {
		existingByName[cmd.Name] = cmd
	}

	desired := make(map[string]struct{})
	for _, cmd := range commands {
		desired[cmd.Name] = struct{}{}
		if current, ok := existingByName[cmd.Name]; ok {
			if _, err := b.session.ApplicationCommandEdit(appID, "", current.ID, cmd); err != nil {
				return err
			}
			continue
		}
		if _, err := b.session.ApplicationCommandCreate(appID, "", cmd); err != nil {
			return err
		}
	}

	for _, cmd := range existing {
		if _, ok := desired[cmd.Name]; ok {
			continue
		}
		_ = b.session.ApplicationCommandDelete(appID, "", cmd.ID)
	}
	return nil
}
