package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"sakura/internal/modules/check"
	"sakura/internal/modules/scan"
	"sakura/internal/modules/validation"

	"github.com/bwmarrin/discordgo"
)

// REST adapts the discordgo session to the fetch, lookup and send
// operations the modules depend on.
type REST struct {
	session *discordgo.Session
}

func NewREST(session *discordgo.Session) *REST {
	return &REST{session: session}
}

func (r *REST) RecentMessages(ctx context.Context, channelID string, limit int) ([]scan.Message, error) {
	messages, err := r.session.ChannelMessages(channelID, limit, "", "", "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	out := make([]scan.Message, 0, len(messages))
	for _, message := range messages {
		if message == nil {
			continue
		}
		converted := toScanMessage(message)
		if converted.ChannelID == "" {
			converted.ChannelID = channelID
		}
		out = append(out, converted)
	}
	return out, nil
}

func (r *REST) ResolveInvite(ctx context.Context, code string) (validation.InviteInfo, error) {
	invite, err := r.session.InviteComplex(code, "", false, true, discordgo.WithContext(ctx))
	if err != nil {
		if isTransient(err) {
			return validation.InviteInfo{}, fmt.Errorf("%w: %v", validation.ErrTransient, err)
		}
		return validation.InviteInfo{}, err
	}
	info := validation.InviteInfo{
		Code:      invite.Code,
		ExpiresAt: invite.ExpiresAt,
		MaxAge:    invite.MaxAge,
		MaxUses:   invite.MaxUses,
	}
	if invite.Guild != nil {
		info.VanityCode = invite.Guild.VanityURLCode
	}
	return info, nil
}

func (r *REST) SendCategory(ctx context.Context, channelID string, embedColor int, report check.CategoryReport) error {
	_, err := r.session.ChannelMessageSendEmbed(channelID, categoryEmbed(report, embedColor), discordgo.WithContext(ctx))
	return err
}

func (r *REST) SendSummary(ctx context.Context, channelID string, embedColor int, summary check.Summary) error {
	_, err := r.session.ChannelMessageSendEmbed(channelID, summaryEmbed(summary, embedColor), discordgo.WithContext(ctx))
	return err
}

// isTransient reports whether a lookup failed for reasons unrelated to the
// invite: transport errors, rate limits and server errors.
func isTransient(err error) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) || restErr.Response == nil {
		return true
	}
	status := restErr.Response.StatusCode
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}
