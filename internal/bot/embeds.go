package bot

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"sakura/internal/analytics"
	"sakura/internal/gate"
	"sakura/internal/modules/check"
	"sakura/internal/modules/scan"
	"sakura/internal/modules/settings"
	"sakura/internal/storage"
	"sakura/internal/utils"

	"github.com/bwmarrin/discordgo"
)

const maxDescription = 4096

const genericError = "Something went wrong. Please try again later."

func commandEmbed(title, description string, color int, fields []*discordgo.MessageEmbedField) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: truncate(description, maxDescription),
		Color:       color,
		Timestamp:   time.Now().Format(time.RFC3339),
		Fields:      fields,
	}
}

func channelLine(result check.ChannelResult) string {
	switch result.Status {
	case check.StatusIgnored:
		return fmt.Sprintf("⚪ <#%s> **IGNORED**", result.ChannelID)
	case check.StatusUntracked:
		return fmt.Sprintf("⚫ <#%s> **UNTRACKED**", result.ChannelID)
	case check.StatusUnknown:
		return fmt.Sprintf("🟡 <#%s> **%d** total (**%d** unknown)", result.ChannelID, result.Counts.Total(), result.Counts.Unknown)
	case check.StatusInvalid:
		return fmt.Sprintf("🔴 <#%s> **%d** total (**%d** bad)", result.ChannelID, result.Counts.Total(), result.Counts.Invalid)
	default:
		return fmt.Sprintf("🟢 <#%s> **%d** total", result.ChannelID, result.Counts.Total())
	}
}

func categoryEmbed(report check.CategoryReport, color int) *discordgo.MessageEmbed {
	description := "No channels to check in this category."
	if len(report.Channels) > 0 {
		lines := make([]string, 0, len(report.Channels))
		for _, result := range report.Channels {
			lines = append(lines, channelLine(result))
		}
		description = strings.Join(lines, "\n")
	}
	return &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("The %q category", strings.ToUpper(report.Name)),
		Description: truncate(description, maxDescription),
		Color:       color,
	}
}

func summaryEmbed(summary check.Summary, color int) *discordgo.MessageEmbed {
	total := summary.Total()
	stats := []string{
		fmt.Sprintf("**%s** categories checked", utils.AddCommas(int64(summary.Categories))),
		fmt.Sprintf("**%s** channels checked", utils.AddCommas(int64(summary.Channels))),
		fmt.Sprintf("**%s** invites checked", utils.AddCommas(int64(total))),
		fmt.Sprintf("**%s** (%s) invalid invites", utils.AddCommas(int64(summary.Invalid)), utils.FormatPercent(summary.Invalid, total)),
		fmt.Sprintf("**%s** (%s) valid invites", utils.AddCommas(int64(summary.Valid)), utils.FormatPercent(summary.Valid, total)),
	}
	if summary.Unknown > 0 {
		stats = append(stats, fmt.Sprintf("**%s** (%s) unknown invites", utils.AddCommas(int64(summary.Unknown)), utils.FormatPercent(summary.Unknown, total)))
	}
	return &discordgo.MessageEmbed{
		Title: "Results",
		Color: color,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Elapsed time", Value: utils.Humanize(summary.Elapsed())},
			{Name: "Stats", Value: strings.Join(stats, "\n")},
		},
		Timestamp: summary.FinishedAt.Format(time.RFC3339),
	}
}

func countsEmbed(counts []settings.CategoryCount, color int) *discordgo.MessageEmbed {
	lines := make([]string, 0, len(counts))
	var announcement, text, ignored int
	for _, count := range counts {
		lines = append(lines, fmt.Sprintf("**%s**: %d announcement, %d text, %d ignored", count.Name, count.Announcement, count.Text, count.Ignored))
		announcement += count.Announcement
		text += count.Text
		ignored += count.Ignored
	}
	fields := []*discordgo.MessageEmbedField{
		{Name: "Announcement", Value: utils.AddCommas(int64(announcement)), Inline: true},
		{Name: "Text", Value: utils.AddCommas(int64(text)), Inline: true},
		{Name: "Ignored", Value: utils.AddCommas(int64(ignored)), Inline: true},
	}
	return commandEmbed("Counts", strings.Join(lines, "\n"), color, fields)
}

func channelRefLine(ref settings.ChannelRef) string {
	if !ref.Exists {
		return fmt.Sprintf("`%s` (deleted)", ref.ID)
	}
	return fmt.Sprintf("<#%s>", ref.ID)
}

func refList(refs []settings.ChannelRef) string {
	if len(refs) == 0 {
		return "None"
	}
	lines := make([]string, 0, len(refs))
	for _, ref := range refs {
		lines = append(lines, channelRefLine(ref))
	}
	return truncate(strings.Join(lines, "\n"), 1024)
}

func showEmbed(overview settings.Overview) *discordgo.MessageEmbed {
	results := "None"
	if overview.ResultsChannel != nil {
		results = channelRefLine(*overview.ResultsChannel)
	}
	lastChecked := "Never"
	if overview.LastCheckedAt != nil {
		lastChecked = fmt.Sprintf("<t:%d:R>", overview.LastCheckedAt.Unix())
	}
	fields := []*discordgo.MessageEmbedField{
		{Name: "Categories", Value: refList(overview.Categories)},
		{Name: "Ignored channels", Value: refList(overview.Ignored)},
		{Name: "Results channel", Value: results, Inline: true},
		{Name: "Embed color", Value: settings.FormatColor(overview.EmbedColor), Inline: true},
		{Name: "Last checked", Value: lastChecked, Inline: true},
	}
	return commandEmbed("Configuration", "", overview.EmbedColor, fields)
}

func statsEmbed(snapshot analytics.Snapshot, history analytics.Report, color int) *discordgo.MessageEmbed {
	uptime := "Not ready"
	if snapshot.Ready {
		uptime = utils.Humanize(snapshot.Uptime.Truncate(time.Second))
	}
	fields := []*discordgo.MessageEmbedField{
		{Name: "Servers", Value: utils.AddCommas(int64(snapshot.Guilds)), Inline: true},
		{Name: "Channels", Value: utils.AddCommas(int64(snapshot.Channels)), Inline: true},
		{Name: "Memory", Value: utils.FormatMegabytes(snapshot.MemoryBytes), Inline: true},
		{Name: "Uptime", Value: uptime, Inline: true},
		{Name: "Checks this week", Value: utils.AddCommas(int64(history.Checks)), Inline: true},
	}
	if history.Last != nil {
		total := history.Last.Total
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:  "Last check",
			Value: fmt.Sprintf("**%s** invites, %s invalid", utils.AddCommas(int64(total)), utils.FormatPercent(history.Last.Invalid, total)),
		})
	}
	return commandEmbed("Stats", "", color, fields)
}

func messageCheckEmbed(codes []string, invites map[string]storage.Invite, color int) *discordgo.MessageEmbed {
	lines := []string{"Sakura found some invites and will add them to the next invite check."}
	for _, code := range codes {
		invite, ok := invites[code]
		switch {
		case !ok || invite.UpdatedAt == nil:
			lines = append(lines, fmt.Sprintf("🟡 `%s` not checked yet", code))
		case invite.IsValid != nil && *invite.IsValid:
			lines = append(lines, fmt.Sprintf("🟢 `%s` valid", code))
		default:
			lines = append(lines, fmt.Sprintf("🔴 `%s` invalid", code))
		}
	}
	return commandEmbed("Check message", strings.Join(lines, "\n"), color, nil)
}

// isUserError reports whether err is an expected outcome of a command rather
// than a failure worth logging.
func isUserError(err error) bool {
	return errorDescription(err) != genericError
}

// errorDescription maps module errors to the line shown to the user.
func errorDescription(err error) string {
	var unreadable *settings.UnreadableChannelsError
	switch {
	case errors.As(err, &unreadable):
		refs := make([]string, 0, len(unreadable.ChannelIDs))
		for _, id := range unreadable.ChannelIDs {
			refs = append(refs, fmt.Sprintf("<#%s>", id))
		}
		return "Sakura is missing permissions in " + strings.Join(refs, ", ") + "."
	case errors.Is(err, check.ErrGuildNotConfigured), errors.Is(err, settings.ErrGuildNotConfigured):
		return "This server is not set up yet. Try again in a moment."
	case errors.Is(err, check.ErrCheckInProgress), errors.Is(err, settings.ErrBusy):
		return "Sakura is already checking invites in this server."
	case errors.Is(err, check.ErrNoCategories), errors.Is(err, settings.ErrNoCategories):
		return "No categories have been added. Use `/config add-category` first."
	case errors.Is(err, check.ErrNoResultsChannel):
		return "No results channel has been set. Use `/config set-results-channel` first."
	case errors.Is(err, check.ErrResultsChannelMissing):
		return "The results channel no longer exists. Set a new one."
	case errors.Is(err, check.ErrResultsChannelForbidden), errors.Is(err, settings.ErrChannelForbidden):
		return "Sakura needs View Channel, Send Messages, Read Message History and Embed Links there."
	case errors.Is(err, settings.ErrNotCategory):
		return "That channel is not a category."
	case errors.Is(err, settings.ErrAlreadyTracked):
		return "That category has already been added."
	case errors.Is(err, settings.ErrNotTracked):
		return "That category has not been added."
	case errors.Is(err, settings.ErrAlreadyIgnored):
		return "That channel is already ignored."
	case errors.Is(err, settings.ErrNotIgnored):
		return "That channel is not ignored."
	case errors.Is(err, settings.ErrChannelMissing):
		return "Sakura cannot see that channel."
	case errors.Is(err, settings.ErrAlreadyResultsChannel):
		return "That channel is already the results channel."
	case errors.Is(err, settings.ErrInvalidColor):
		return "Colors must be hex values like `#F8F8FF`."
	case errors.Is(err, settings.ErrSameColor):
		return "That color is already in use."
	case errors.Is(err, gate.ErrUnknownChannel):
		return "Sakura only looks at messages in announcement and text channels."
	case errors.Is(err, gate.ErrNoCategory):
		return "Please ensure this message is within a category before checking it."
	case errors.Is(err, gate.ErrNotTracked):
		return "Please ensure this message is within an **added** category before checking it."
	case errors.Is(err, scan.ErrNoInvites):
		return "No invite codes found."
	default:
		return genericError
	}
}

func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit-1]) + "…"
}
