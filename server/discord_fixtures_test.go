package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally/v4"
)

type sentMessage struct {
	ChannelID string
	Message   *discordgo.MessageSend
}

// fakeDiscordSession records REST calls. Calls fail when their method name is in failOn.
type fakeDiscordSession struct {
	sync.Mutex
	sent          []sentMessage
	edits         []*discordgo.MessageEdit
	deletes       []NotificationRef
	dmChannels    []string
	responses     []*discordgo.InteractionResponse
	responseEdits []*discordgo.WebhookEdit
	commands      []*discordgo.ApplicationCommand
	statuses      []string
	failOn        map[string]error
	nextID        int
}

func newFakeDiscordSession() *fakeDiscordSession {
	return &fakeDiscordSession{failOn: make(map[string]error)}
}

func (s *fakeDiscordSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend) (*discordgo.Message, error) {
	s.Lock()
	defer s.Unlock()
	if err := s.failOn["ChannelMessageSendComplex"]; err != nil {
		return nil, err
	}
	s.sent = append(s.sent, sentMessage{ChannelID: channelID, Message: data})
	s.nextID++
	return &discordgo.Message{ID: fmt.Sprintf("m-%d", s.nextID), ChannelID: channelID}, nil
}

func (s *fakeDiscordSession) ChannelMessageEditComplex(m *discordgo.MessageEdit) (*discordgo.Message, error) {
	s.Lock()
	defer s.Unlock()
	if err := s.failOn["ChannelMessageEditComplex"]; err != nil {
		return nil, err
	}
	s.edits = append(s.edits, m)
	return &discordgo.Message{ID: m.ID, ChannelID: m.Channel}, nil
}

func (s *fakeDiscordSession) ChannelMessageDelete(channelID, messageID string) error {
	s.Lock()
	defer s.Unlock()
	if err := s.failOn["ChannelMessageDelete"]; err != nil {
		return err
	}
	s.deletes = append(s.deletes, NotificationRef{ChannelID: channelID, MessageID: messageID})
	return nil
}

func (s *fakeDiscordSession) UserChannelCreate(recipientID string) (*discordgo.Channel, error) {
	s.Lock()
	defer s.Unlock()
	if err := s.failOn["UserChannelCreate"]; err != nil {
		return nil, err
	}
	s.dmChannels = append(s.dmChannels, recipientID)
	return &discordgo.Channel{ID: "dm-" + recipientID, Type: discordgo.ChannelTypeDM}, nil
}

func (s *fakeDiscordSession) InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse) error {
	s.Lock()
	defer s.Unlock()
	if err := s.failOn["InteractionRespond"]; err != nil {
		return err
	}
	s.responses = append(s.responses, resp)
	return nil
}

func (s *fakeDiscordSession) InteractionResponseEdit(interaction *discordgo.Interaction, newresp *discordgo.WebhookEdit) (*discordgo.Message, error) {
	s.Lock()
	defer s.Unlock()
	if err := s.failOn["InteractionResponseEdit"]; err != nil {
		return nil, err
	}
	s.responseEdits = append(s.responseEdits, newresp)
	return &discordgo.Message{}, nil
}

func (s *fakeDiscordSession) ApplicationCommandBulkOverwrite(appID, guildID string, commands []*discordgo.ApplicationCommand) ([]*discordgo.ApplicationCommand, error) {
	s.Lock()
	defer s.Unlock()
	if err := s.failOn["ApplicationCommandBulkOverwrite"]; err != nil {
		return nil, err
	}
	s.commands = commands
	return commands, nil
}

func (s *fakeDiscordSession) UpdateGameStatus(idle int, name string) error {
	s.Lock()
	defer s.Unlock()
	s.statuses = append(s.statuses, name)
	return nil
}

// sentTo returns the messages sent to channelID.
func (s *fakeDiscordSession) sentTo(channelID string) []*discordgo.MessageSend {
	s.Lock()
	defer s.Unlock()
	var out []*discordgo.MessageSend
	for _, m := range s.sent {
		if m.ChannelID == channelID {
			out = append(out, m.Message)
		}
	}
	return out
}

// lastReply returns the text of the most recent answer to an interaction.
func (s *fakeDiscordSession) lastReply() string {
	s.Lock()
	defer s.Unlock()
	if len(s.responseEdits) > 0 {
		if c := s.responseEdits[len(s.responseEdits)-1].Content; c != nil {
			return *c
		}
		return ""
	}
	for i := len(s.responses) - 1; i >= 0; i-- {
		if s.responses[i].Type == discordgo.InteractionResponseChannelMessageWithSource {
			return s.responses[i].Data.Content
		}
	}
	return ""
}

func (s *fakeDiscordSession) reset() {
	s.Lock()
	s.responses = nil
	s.responseEdits = nil
	s.Unlock()
}

func discordRESTError(code int) error {
	return &discordgo.RESTError{
		Response:     &http.Response{StatusCode: http.StatusNotFound, Status: "404 Not Found"},
		ResponseBody: []byte(fmt.Sprintf(`{"code": %d}`, code)),
		Message:      &discordgo.APIErrorMessage{Code: code, Message: "error"},
	}
}

func testDiscordConfig() *DiscordConfig {
	config := NewDiscordConfig()
	config.Token = "token"
	config.ApplicationID = "app"
	config.NotificationChannelID = "notify"
	config.ReportChannelID = "reports"
	config.ModeratorRoleIDs = []string{"mod-role"}
	config.StatusIntervalSec = 0
	return config
}

type discordFixture struct {
	session   *fakeDiscordSession
	storage   *memoryStorage
	store     *PlayRequestStore
	bans      *BanList
	catalog   *GameCatalog
	presenter *DiscordPresenter
	lifecycle *PlayRequestLifecycle
	scope     tally.TestScope
	appbot    *DiscordAppBot
}

func newDiscordFixture(t *testing.T, configure func(c *DiscordConfig)) *discordFixture {
	t.Helper()
	ctx := context.Background()
	logger := testLogger()

	storage := newMemoryStorage()
	store, err := NewPlayRequestStore(ctx, logger, storage)
	require.NoError(t, err)
	bans, err := NewBanList(ctx, logger, storage)
	require.NoError(t, err)
	catalog := NewGameCatalog(map[string]string{
		"Chess":    "https://example.com/chess.png",
		"Checkers": "",
	})

	config := testDiscordConfig()
	if configure != nil {
		configure(config)
	}

	requestConfig := NewPlayRequestConfig()
	requestConfig.SubmitIntervalSec = 0

	session := newFakeDiscordSession()
	scope := tally.NewTestScope("", nil)
	metrics := newScopeMetrics(logger, scope)
	presenter := NewDiscordPresenter(logger, session, config, catalog)
	lifecycle := NewPlayRequestLifecycle(logger, requestConfig, store, bans, catalog, presenter, metrics)
	appbot := newDiscordAppBot(ctx, logger, config, session, lifecycle, presenter, metrics)

	return &discordFixture{
		session:   session,
		storage:   storage,
		store:     store,
		bans:      bans,
		catalog:   catalog,
		presenter: presenter,
		lifecycle: lifecycle,
		scope:     scope,
		appbot:    appbot,
	}
}

func testMember(userID string, roles ...string) *discordgo.Member {
	return &discordgo.Member{
		User:  &discordgo.User{ID: userID, Username: "user" + userID},
		Roles: roles,
	}
}

func commandInteraction(member *discordgo.Member, name string, options ...*discordgo.ApplicationCommandInteractionDataOption) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			ID:        "interaction",
			Type:      discordgo.InteractionApplicationCommand,
			GuildID:   "guild",
			ChannelID: "general",
			Member:    member,
			Data: discordgo.ApplicationCommandInteractionData{
				Name:    name,
				Options: options,
			},
		},
	}
}

func stringOpt(name, value string) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:  name,
		Type:  discordgo.ApplicationCommandOptionString,
		Value: value,
	}
}

func componentInteraction(member *discordgo.Member, customID string) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			ID:        "interaction",
			Type:      discordgo.InteractionMessageComponent,
			GuildID:   "guild",
			ChannelID: "notify",
			Member:    member,
			Data: discordgo.MessageComponentInteractionData{
				CustomID:      customID,
				ComponentType: discordgo.ButtonComponent,
			},
		},
	}
}

func modalInteraction(member *discordgo.Member, customID string, values map[string]string) *discordgo.InteractionCreate {
	rows := make([]discordgo.MessageComponent, 0, len(values))
	for id, value := range values {
		rows = append(rows, &discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				&discordgo.TextInput{CustomID: id, Value: value},
			},
		})
	}
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			ID:        "interaction",
			Type:      discordgo.InteractionModalSubmit,
			GuildID:   "guild",
			ChannelID: "notify",
			Member:    member,
			Data: discordgo.ModalSubmitInteractionData{
				CustomID:   customID,
				Components: rows,
			},
		},
	}
}
