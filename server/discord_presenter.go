package server

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

var _ Presenter = &DiscordPresenter{}

// DiscordPresenter posts play request notifications, reports and audit lines to Discord.
type DiscordPresenter struct {
	logger  *zap.Logger
	dg      DiscordSession
	config  *DiscordConfig
	catalog *GameCatalog
}

func NewDiscordPresenter(logger *zap.Logger, dg DiscordSession, config *DiscordConfig, catalog *GameCatalog) *DiscordPresenter {
	return &DiscordPresenter{
		logger:  logger.With(zap.String("system", "discord_presenter")),
		dg:      dg,
		config:  config.Clone(),
		catalog: catalog,
	}
}

func (p *DiscordPresenter) PostNotification(ctx context.Context, r *PlayRequest) (*NotificationRef, error) {
	msg, err := p.dg.ChannelMessageSendComplex(p.config.NotificationChannelID, &discordgo.MessageSend{
		Embeds:     []*discordgo.MessageEmbed{playRequestEmbed(r, p.catalog.ImageURL(r.Game))},
		Components: playRequestComponents(r),
		AllowedMentions: &discordgo.MessageAllowedMentions{
			Users: []string{r.RequesterID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to send notification: %w", err)
	}
	return &NotificationRef{ChannelID: msg.ChannelID, MessageID: msg.ID}, nil
}

func (p *DiscordPresenter) UpdateNotification(ctx context.Context, r *PlayRequest) error {
	if r.Notification == nil {
		return nil
	}
	embeds := []*discordgo.MessageEmbed{playRequestEmbed(r, p.catalog.ImageURL(r.Game))}
	components := playRequestComponents(r)
	_, err := p.dg.ChannelMessageEditComplex(&discordgo.MessageEdit{
		Channel:    r.Notification.ChannelID,
		ID:         r.Notification.MessageID,
		Embeds:     &embeds,
		Components: &components,
	})
	if IsDiscordErrorCode(err, discordgo.ErrCodeUnknownMessage) {
		p.logger.Warn("Notification message no longer exists", zap.String("request_id", r.ID))
		return nil
	} else if err != nil {
		return fmt.Errorf("failed to edit notification: %w", err)
	}
	return nil
}

func (p *DiscordPresenter) RemoveNotification(ctx context.Context, ref NotificationRef) error {
	err := p.dg.ChannelMessageDelete(ref.ChannelID, ref.MessageID)
	if err != nil && !IsDiscordErrorCode(err, discordgo.ErrCodeUnknownMessage) {
		return fmt.Errorf("failed to delete notification: %w", err)
	}
	return nil
}

func (p *DiscordPresenter) SendRequestPreview(ctx context.Context, r *PlayRequest) error {
	return p.sendDirectMessage(r.RequesterID, &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{playRequestPreviewEmbed(r, p.catalog.ImageURL(r.Game))},
	})
}

func (p *DiscordPresenter) SendResponseUpdate(ctx context.Context, r *PlayRequest, responderID string, action ResponseAction) error {
	verb := "accepted"
	if action == ResponseDeny {
		verb = "denied"
	}
	return p.sendDirectMessage(r.RequesterID, &discordgo.MessageSend{
		Content: fmt.Sprintf("%s %s your play request `%s` for **%s**. It is now %s (%d accepted, %d denied).",
			mention(responderID), verb, r.ID, r.Game, r.Status.Title(), r.AcceptCount(), r.DenyCount()),
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	})
}

func (p *DiscordPresenter) SendWarning(ctx context.Context, userID, requestID string) error {
	return p.sendDirectMessage(userID, &discordgo.MessageSend{
		Content: fmt.Sprintf("You have received a warning from the moderators about your play request `%s`. Further reports may lead to a ban from play requests.", requestID),
	})
}

func (p *DiscordPresenter) PublishReport(ctx context.Context, report *PlayRequestReport) error {
	_, err := p.dg.ChannelMessageSendComplex(p.config.ReportChannelID, &discordgo.MessageSend{
		Embeds:          []*discordgo.MessageEmbed{reportEmbed(report)},
		Components:      reportComponents(report),
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	})
	if err != nil {
		return fmt.Errorf("failed to send report: %w", err)
	}
	return nil
}

func (p *DiscordPresenter) Audit(ctx context.Context, entry AuditEntry) error {
	if p.config.LogChannelID == "" {
		return nil
	}
	if _, err := p.dg.ChannelMessageSendComplex(p.config.LogChannelID, &discordgo.MessageSend{
		Content:         auditMessage(entry),
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}); err != nil {
		return fmt.Errorf("failed to send audit message: %w", err)
	}
	return nil
}

// PostRequestMenu posts the game menu to the menu channel, or to fallbackChannelID when none is configured.
func (p *DiscordPresenter) PostRequestMenu(fallbackChannelID string) (*discordgo.Message, error) {
	channelID := p.config.RequestMenuChannelID
	if channelID == "" {
		channelID = fallbackChannelID
	}
	return p.dg.ChannelMessageSendComplex(channelID, requestMenuMessage(p.config.RequestMenuTitle, p.catalog.Names()))
}

func (p *DiscordPresenter) sendDirectMessage(userID string, msg *discordgo.MessageSend) error {
	st, err := p.dg.UserChannelCreate(userID)
	if err != nil {
		return fmt.Errorf("failed to open DM channel: %w", err)
	}
	if _, err := p.dg.ChannelMessageSendComplex(st.ID, msg); err != nil {
		if IsDiscordErrorCode(err, discordgo.ErrCodeCannotSendMessagesToThisUser) {
			p.logger.Debug("User does not accept direct messages", zap.String("user_id", userID))
			return nil
		}
		return fmt.Errorf("failed to send direct message: %w", err)
	}
	return nil
}
