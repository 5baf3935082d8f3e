package server

import (
	"context"
	"errors"
	"fmt"
	goruntime "runtime"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/samber/lo"
	"go.uber.org/atomic"
	"go.uber.org/thriftrw/ptr"
	"go.uber.org/zap"
)

const genericFailureMessage = "An error occurred while handling your request."

type DiscordCommandHandlerFn func(ctx context.Context, logger *zap.Logger, reply *interactionReply, i *discordgo.InteractionCreate, user *discordgo.User, member *discordgo.Member) error

// DiscordAppBot routes Discord interactions to the play request lifecycle.
type DiscordAppBot struct {
	ctx    context.Context
	logger *zap.Logger

	config    *DiscordConfig
	dg        DiscordSession
	lifecycle *PlayRequestLifecycle
	presenter *DiscordPresenter
	metrics   Metrics

	commandHandlers map[string]DiscordCommandHandlerFn

	ready         *atomic.Bool
	applicationID *atomic.String
}

// NewDiscordAppBot wires the bot into a discordgo session. The session is opened by the caller.
func NewDiscordAppBot(ctx context.Context, logger *zap.Logger, config *DiscordConfig, session *discordgo.Session, lifecycle *PlayRequestLifecycle, presenter *DiscordPresenter, metrics Metrics) *DiscordAppBot {
	appbot := newDiscordAppBot(ctx, logger, config, NewSessionAdapter(session), lifecycle, presenter, metrics)

	discordgo.Logger = appbot.discordGoLogger

	session.StateEnabled = true
	session.Identify.Intents = discordgo.IntentsNone
	session.Identify.Intents |= discordgo.IntentGuilds

	session.AddHandlerOnce(func(s *discordgo.Session, m *discordgo.Ready) {
		if appbot.applicationID.Load() == "" && m.Application != nil {
			appbot.applicationID.Store(m.Application.ID)
		}
		appbot.ready.Store(true)

		if err := appbot.RegisterSlashCommands(); err != nil {
			appbot.logger.Error("Failed to register slash commands", zap.Error(err))
		}

		displayName := m.User.GlobalName
		if displayName == "" {
			displayName = m.User.Username
		}
		appbot.logger.Info("Bot ready", zap.String("bot", displayName), zap.Int("guilds", len(m.Guilds)))
	})

	session.AddHandler(func(s *discordgo.Session, m *discordgo.RateLimit) {
		appbot.logger.Warn("Discord rate limit", zap.String("url", m.URL), zap.Duration("retry_after", m.RetryAfter))
	})

	session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		appbot.HandleInteraction(i)
	})

	appbot.startStatusUpdates()

	return appbot
}

func newDiscordAppBot(ctx context.Context, logger *zap.Logger, config *DiscordConfig, dg DiscordSession, lifecycle *PlayRequestLifecycle, presenter *DiscordPresenter, metrics Metrics) *DiscordAppBot {
	appbot := &DiscordAppBot{
		ctx:    ctx,
		logger: logger.With(zap.String("system", "discord_appbot")),

		config:    config.Clone(),
		dg:        dg,
		lifecycle: lifecycle,
		presenter: presenter,
		metrics:   metrics,

		ready:         atomic.NewBool(false),
		applicationID: atomic.NewString(config.ApplicationID),
	}
	appbot.commandHandlers = map[string]DiscordCommandHandlerFn{
		"play":        appbot.handlePlay,
		"playend":     appbot.handlePlayEnd,
		"report":      appbot.handleReport,
		"ban":         appbot.handleBan,
		"unban":       appbot.handleUnban,
		"requestmenu": appbot.handleRequestMenu,
		"banlist":     appbot.handleBanList,
	}
	return appbot
}

func (d *DiscordAppBot) discordGoLogger(msgL int, caller int, format string, a ...interface{}) {
	pc, file, line, _ := goruntime.Caller(caller)

	files := strings.Split(file, "/")
	file = files[len(files)-1]

	name := goruntime.FuncForPC(pc).Name()
	fns := strings.Split(name, ".")
	name = fns[len(fns)-1]

	logger := d.logger.With(
		zap.String("file", file),
		zap.Int("line", line),
		zap.String("func", name),
	)

	msg := fmt.Sprintf(format, a...)
	switch msgL {
	case discordgo.LogError:
		logger.Error(msg)
	case discordgo.LogWarning:
		logger.Warn(msg)
	case discordgo.LogInformational:
		logger.Info(msg)
	case discordgo.LogDebug:
		logger.Debug(msg)
	default:
		logger.Info(msg)
	}
}

// RegisterSlashCommands overwrites the bot's commands with the current game catalog.
func (d *DiscordAppBot) RegisterSlashCommands() error {
	appID := d.applicationID.Load()
	if appID == "" {
		return errors.New("application ID is not known yet")
	}

	commands := slashCommands(d.lifecycle.Games())
	if _, err := d.dg.ApplicationCommandBulkOverwrite(appID, d.config.GuildID, commands); err != nil {
		return fmt.Errorf("failed to bulk overwrite application commands: %w", err)
	}
	d.logger.Info("Slash commands registered", zap.Int("count", len(commands)), zap.String("guild_id", d.config.GuildID))
	return nil
}

// ReloadCommands re-registers the commands after the catalog changed.
func (d *DiscordAppBot) ReloadCommands() {
	if !d.ready.Load() {
		return
	}
	if err := d.RegisterSlashCommands(); err != nil {
		d.logger.Error("Failed to re-register slash commands", zap.Error(err))
	}
}

// startStatusUpdates shows the number of open requests in the bot's presence.
func (d *DiscordAppBot) startStatusUpdates() {
	if d.config.StatusIntervalSec <= 0 {
		return
	}
	go func() {
		updateTicker := time.NewTicker(time.Duration(d.config.StatusIntervalSec) * time.Second)
		defer updateTicker.Stop()
		last := ""
		for {
			select {
			case <-updateTicker.C:
				if !d.ready.Load() {
					continue
				}
				statusMessage := fmt.Sprintf("%d open play requests", d.lifecycle.OpenCount())
				if statusMessage == last {
					continue
				}
				if err := d.dg.UpdateGameStatus(0, "with "+statusMessage); err != nil {
					d.logger.Warn("Failed to update status", zap.Error(err))
					continue
				}
				last = statusMessage
			case <-d.ctx.Done():
				return
			}
		}
	}()
}

// HandleInteraction dispatches one interaction. Panics are recovered and reported to the user.
func (d *DiscordAppBot) HandleInteraction(i *discordgo.InteractionCreate) {
	startTime := time.Now()
	user, member := getScopedUserMember(i)
	if user == nil {
		d.logger.Warn("Interaction without a user", zap.String("interaction_id", i.ID))
		return
	}

	logger := d.logger.With(
		zap.String("discord_id", user.ID),
		zap.String("username", user.Username),
		zap.String("guild_id", i.GuildID),
		zap.String("channel_id", i.ChannelID),
	)

	reply := newInteractionReply(d.dg, i.Interaction)
	interactionType := i.Type.String()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic while handling interaction", zap.Any("panic", r), zap.Stack("stack"))
			if err := reply.Send(genericFailureMessage); err != nil {
				logger.Warn("Failed to report failure to user", zap.Error(err))
			}
		}
		d.metrics.CustomTimer("discord_interaction_latency", map[string]string{"type": interactionType}, time.Since(startTime))
	}()

	ctx := d.ctx
	var err error

	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		appCommandName := i.ApplicationCommandData().Name
		logger = logger.With(zap.String("app_command", appCommandName), zap.Any("options", i.ApplicationCommandData().Options))

		handler, ok := d.commandHandlers[appCommandName]
		if !ok {
			logger.Info("Unhandled command")
			return
		}
		logger.Info("Handling application command.")
		err = handler(ctx, logger, reply, i, user, member)

	case discordgo.InteractionMessageComponent:
		customID := i.MessageComponentData().CustomID
		logger = logger.With(zap.String("custom_id", customID))

		action, parseErr := ParseComponentAction(customID)
		if parseErr != nil {
			logger.Warn("Unhandled message component", zap.Error(parseErr))
			return
		}
		logger.Info("Handling interaction message component.")
		err = d.handleInteractionMessageComponent(ctx, logger, reply, i, user, member, action)

	case discordgo.InteractionModalSubmit:
		customID := i.ModalSubmitData().CustomID
		logger = logger.With(zap.String("custom_id", customID))

		action, parseErr := ParseComponentAction(customID)
		if parseErr != nil {
			logger.Warn("Unhandled modal submit", zap.Error(parseErr))
			return
		}
		logger.Info("Handling modal submit.")
		err = d.handleModalSubmit(ctx, logger, reply, i, user, member, action)

	default:
		logger.Info("Unhandled interaction type", zap.String("type", interactionType))
		return
	}

	if err != nil {
		kind := ErrorKindOf(err)
		if kind.UserFacing() {
			logger.Info("Interaction rejected", zap.String("kind", kind.String()), zap.Error(err))
		} else {
			logger.Error("Failed to handle interaction", zap.Error(err))
		}
		if err := reply.Send(interactionErrorMessage(err)); err != nil {
			logger.Warn("Failed to send error response", zap.Error(err))
		}
	}
}

// isModerator reports whether the member holds a moderator role or a moderation permission.
func (d *DiscordAppBot) isModerator(member *discordgo.Member) bool {
	if member == nil {
		return false
	}
	if member.Permissions&(discordgo.PermissionAdministrator|discordgo.PermissionBanMembers) != 0 {
		return true
	}
	return lo.Some(member.Roles, d.config.ModeratorRoleIDs)
}

func (d *DiscordAppBot) actor(user *discordgo.User, member *discordgo.Member) Actor {
	return Actor{UserID: user.ID, Moderator: d.isModerator(member)}
}

// interactionErrorMessage returns the text shown to the user for err.
func interactionErrorMessage(err error) string {
	var k interface {
		error
		Kind() ErrorKind
	}
	if errors.As(err, &k) && k.Kind().UserFacing() {
		return k.Error()
	}
	return genericFailureMessage
}

func getScopedUserMember(i *discordgo.InteractionCreate) (user *discordgo.User, member *discordgo.Member) {
	if i.User != nil {
		user = i.User
	}

	if i.Member != nil {
		member = i.Member
		if i.Member.User != nil {
			user = i.Member.User
		}
	}
	return user, member
}

// interactionReply answers an interaction once, either directly or by editing a deferred response.
type interactionReply struct {
	dg          DiscordSession
	interaction *discordgo.Interaction
	deferred    bool
	responded   bool
}

func newInteractionReply(dg DiscordSession, i *discordgo.Interaction) *interactionReply {
	return &interactionReply{dg: dg, interaction: i}
}

// Defer acknowledges the interaction with an ephemeral "thinking" state.
func (r *interactionReply) Defer() error {
	if r.deferred || r.responded {
		return nil
	}
	if err := r.dg.InteractionRespond(r.interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Flags: discordgo.MessageFlagsEphemeral,
		},
	}); err != nil {
		return fmt.Errorf("failed to defer interaction response: %w", err)
	}
	r.deferred = true
	return nil
}

func (r *interactionReply) Send(content string) error {
	return r.send(content, nil)
}

func (r *interactionReply) SendEmbed(embed *discordgo.MessageEmbed) error {
	return r.send("", []*discordgo.MessageEmbed{embed})
}

// Modal opens a modal. It must be the first response to the interaction.
func (r *interactionReply) Modal(data *discordgo.InteractionResponseData) error {
	if err := r.dg.InteractionRespond(r.interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: data,
	}); err != nil {
		return fmt.Errorf("failed to open modal: %w", err)
	}
	r.responded = true
	return nil
}

func (r *interactionReply) send(content string, embeds []*discordgo.MessageEmbed) error {
	if r.deferred {
		edit := &discordgo.WebhookEdit{
			Content:         ptr.String(content),
			AllowedMentions: &discordgo.MessageAllowedMentions{},
		}
		if embeds != nil {
			edit.Embeds = &embeds
		}
		if _, err := r.dg.InteractionResponseEdit(r.interaction, edit); err != nil {
			return fmt.Errorf("failed to edit interaction response: %w", err)
		}
		r.responded = true
		return nil
	}
	if r.responded {
		return errors.New("interaction already answered")
	}
	if err := r.dg.InteractionRespond(r.interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Flags:           discordgo.MessageFlagsEphemeral,
			Content:         content,
			Embeds:          embeds,
			AllowedMentions: &discordgo.MessageAllowedMentions{},
		},
	}); err != nil {
		return fmt.Errorf("failed to respond to interaction: %w", err)
	}
	r.responded = true
	return nil
}
