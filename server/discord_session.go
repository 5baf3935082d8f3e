package server

import (
	"errors"

	"github.com/bwmarrin/discordgo"
)

// DiscordSession is the part of the Discord REST API the bot uses.
type DiscordSession interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend) (*discordgo.Message, error)
	ChannelMessageEditComplex(m *discordgo.MessageEdit) (*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string) error
	UserChannelCreate(recipientID string) (*discordgo.Channel, error)
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse) error
	InteractionResponseEdit(interaction *discordgo.Interaction, newresp *discordgo.WebhookEdit) (*discordgo.Message, error)
	ApplicationCommandBulkOverwrite(appID, guildID string, commands []*discordgo.ApplicationCommand) ([]*discordgo.ApplicationCommand, error)
	UpdateGameStatus(idle int, name string) error
}

var _ DiscordSession = &SessionAdapter{}

// SessionAdapter implements DiscordSession on a live discordgo session.
type SessionAdapter struct {
	session *discordgo.Session
}

func NewSessionAdapter(session *discordgo.Session) *SessionAdapter {
	return &SessionAdapter{session: session}
}

func (s *SessionAdapter) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend) (*discordgo.Message, error) {
	return s.session.ChannelMessageSendComplex(channelID, data)
}

func (s *SessionAdapter) ChannelMessageEditComplex(m *discordgo.MessageEdit) (*discordgo.Message, error) {
	return s.session.ChannelMessageEditComplex(m)
}

func (s *SessionAdapter) ChannelMessageDelete(channelID, messageID string) error {
	return s.session.ChannelMessageDelete(channelID, messageID)
}

func (s *SessionAdapter) UserChannelCreate(recipientID string) (*discordgo.Channel, error) {
	return s.session.UserChannelCreate(recipientID)
}

func (s *SessionAdapter) InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse) error {
	return s.session.InteractionRespond(interaction, resp)
}

func (s *SessionAdapter) InteractionResponseEdit(interaction *discordgo.Interaction, newresp *discordgo.WebhookEdit) (*discordgo.Message, error) {
	return s.session.InteractionResponseEdit(interaction, newresp)
}

func (s *SessionAdapter) ApplicationCommandBulkOverwrite(appID, guildID string, commands []*discordgo.ApplicationCommand) ([]*discordgo.ApplicationCommand, error) {
	return s.session.ApplicationCommandBulkOverwrite(appID, guildID, commands)
}

func (s *SessionAdapter) UpdateGameStatus(idle int, name string) error {
	return s.session.UpdateGameStatus(idle, name)
}

func IsDiscordErrorCode(err error, code int) bool {
	var restError *discordgo.RESTError
	if errors.As(err, &restError) && restError.Message != nil && restError.Message.Code == code {
		return true
	}
	return false
}
