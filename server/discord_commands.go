package server

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/thriftrw/ptr"
	"go.uber.org/zap"
)

// Discord allows at most 25 choices per option.
const discordMaxOptionChoices = 25

// slashCommands builds the command set. The game choices follow the catalog.
func slashCommands(games []string) []*discordgo.ApplicationCommand {
	choices := make([]*discordgo.ApplicationCommandOptionChoice, 0, min(len(games), discordMaxOptionChoices))
	for _, game := range games {
		if len(choices) == discordMaxOptionChoices {
			break
		}
		choices = append(choices, &discordgo.ApplicationCommandOptionChoice{
			Name:  truncate(game, 100),
			Value: game,
		})
	}

	moderatorPermissions := ptr.Int64(int64(discordgo.PermissionBanMembers))

	return []*discordgo.ApplicationCommand{
		{
			Name:         "play",
			Description:  "Request to play a game",
			DMPermission: ptr.Bool(false),
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "game",
					Description: "The game you want to play",
					Required:    true,
					Choices:     choices,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "message",
					Description: "An optional message for other players",
					Required:    false,
					MaxLength:   500,
				},
			},
		},
		{
			Name:         "playend",
			Description:  "End a play request",
			DMPermission: ptr.Bool(false),
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "id",
					Description: "The ID of the play request to end",
					Required:    true,
				},
			},
		},
		{
			Name:         "report",
			Description:  "Report a play request to the moderators",
			DMPermission: ptr.Bool(false),
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "id",
					Description: "The ID of the play request to report",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "reason",
					Description: "Why you are reporting this request",
					Required:    true,
					MaxLength:   1000,
				},
			},
		},
		{
			Name:                     "ban",
			Description:              "Ban a user from making play requests",
			DMPermission:             ptr.Bool(false),
			DefaultMemberPermissions: moderatorPermissions,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "user",
					Description: "The user to ban",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "reason",
					Description: "The reason for banning",
					Required:    true,
				},
			},
		},
		{
			Name:                     "unban",
			Description:              "Unban a user from making play requests",
			DMPermission:             ptr.Bool(false),
			DefaultMemberPermissions: moderatorPermissions,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "user",
					Description: "The ID of the user to unban",
					Required:    true,
				},
			},
		},
		{
			Name:                     "requestmenu",
			Description:              "Post the play request menu",
			DMPermission:             ptr.Bool(false),
			DefaultMemberPermissions: moderatorPermissions,
		},
		{
			Name:                     "banlist",
			Description:              "List users banned from making play requests",
			DMPermission:             ptr.Bool(false),
			DefaultMemberPermissions: moderatorPermissions,
		},
	}
}

func commandOptions(i *discordgo.InteractionCreate) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	options := i.ApplicationCommandData().Options
	optionMap := make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(options))
	for _, opt := range options {
		optionMap[opt.Name] = opt
	}
	return optionMap
}

func stringOption(options map[string]*discordgo.ApplicationCommandInteractionDataOption, name string) string {
	if opt, ok := options[name]; ok {
		return strings.TrimSpace(opt.StringValue())
	}
	return ""
}

// parseUserID accepts a raw snowflake or a mention.
func parseUserID(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "<@")
	s = strings.TrimPrefix(s, "!")
	s = strings.TrimSuffix(s, ">")
	for _, c := range s {
		if c < '0' || c > '9' {
			return ""
		}
	}
	return s
}

func (d *DiscordAppBot) handlePlay(ctx context.Context, logger *zap.Logger, reply *interactionReply, i *discordgo.InteractionCreate, user *discordgo.User, member *discordgo.Member) error {
	options := commandOptions(i)
	return d.submitPlayRequest(ctx, logger, reply, user, stringOption(options, "game"), stringOption(options, "message"))
}

func (d *DiscordAppBot) submitPlayRequest(ctx context.Context, logger *zap.Logger, reply *interactionReply, user *discordgo.User, game, message string) error {
	if err := reply.Defer(); err != nil {
		return err
	}

	r, err := d.lifecycle.SubmitRequest(ctx, user.ID, game, message)
	if r == nil {
		return err
	} else if err != nil {
		logger.Warn("Play request submitted with errors", zap.String("request_id", r.ID), zap.Error(err))
		if r.Notification == nil {
			return err
		}
	}

	return reply.Send(fmt.Sprintf("Your play request for **%s** has been posted! Request ID: `%s`", r.Game, r.ID))
}

func (d *DiscordAppBot) handlePlayEnd(ctx context.Context, logger *zap.Logger, reply *interactionReply, i *discordgo.InteractionCreate, user *discordgo.User, member *discordgo.Member) error {
	id := stringOption(commandOptions(i), "id")
	if id == "" {
		return ErrInvalidRequestID
	}
	if err := reply.Defer(); err != nil {
		return err
	}

	r, err := d.lifecycle.EndRequest(ctx, id, d.actor(user, member))
	if r == nil {
		return err
	} else if err != nil {
		logger.Warn("Play request ended with errors", zap.String("request_id", id), zap.Error(err))
	}
	return reply.Send(fmt.Sprintf("Play request `%s` has been ended.", r.ID))
}

func (d *DiscordAppBot) handleReport(ctx context.Context, logger *zap.Logger, reply *interactionReply, i *discordgo.InteractionCreate, user *discordgo.User, member *discordgo.Member) error {
	options := commandOptions(i)
	return d.reportPlayRequest(ctx, logger, reply, user, stringOption(options, "id"), stringOption(options, "reason"))
}

func (d *DiscordAppBot) reportPlayRequest(ctx context.Context, logger *zap.Logger, reply *interactionReply, user *discordgo.User, id, reason string) error {
	if id == "" {
		return ErrInvalidRequestID
	}
	if err := reply.Defer(); err != nil {
		return err
	}
	if _, err := d.lifecycle.ReportRequest(ctx, id, user.ID, reason); err != nil {
		return err
	}
	return reply.Send("Your report has been sent to the moderators.")
}

func (d *DiscordAppBot) handleBan(ctx context.Context, logger *zap.Logger, reply *interactionReply, i *discordgo.InteractionCreate, user *discordgo.User, member *discordgo.Member) error {
	options := commandOptions(i)
	opt, ok := options["user"]
	if !ok {
		return newKindError(ErrorKindValidation, "A user is required.")
	}
	target := opt.UserValue(nil)
	reason := stringOption(options, "reason")
	if reason == "" {
		return ErrReasonRequired
	}

	if err := reply.Defer(); err != nil {
		return err
	}
	if err := d.lifecycle.BanUser(ctx, target.ID, d.actor(user, member), reason); err != nil {
		if ErrorKindOf(err) != ErrorKindExternalIO {
			return err
		}
		logger.Warn("Ban recorded with errors", zap.String("target_id", target.ID), zap.Error(err))
	}
	return reply.Send(fmt.Sprintf("%s has been banned from making play requests.", mention(target.ID)))
}

func (d *DiscordAppBot) handleUnban(ctx context.Context, logger *zap.Logger, reply *interactionReply, i *discordgo.InteractionCreate, user *discordgo.User, member *discordgo.Member) error {
	targetID := parseUserID(stringOption(commandOptions(i), "user"))
	if targetID == "" {
		return newKindError(ErrorKindValidation, "That is not a valid user ID.")
	}

	if err := reply.Defer(); err != nil {
		return err
	}
	if err := d.lifecycle.UnbanUser(ctx, targetID, d.actor(user, member)); err != nil {
		if ErrorKindOf(err) != ErrorKindExternalIO {
			return err
		}
		logger.Warn("Unban recorded with errors", zap.String("target_id", targetID), zap.Error(err))
	}
	return reply.Send(fmt.Sprintf("%s has been unbanned from making play requests.", mention(targetID)))
}

func (d *DiscordAppBot) handleRequestMenu(ctx context.Context, logger *zap.Logger, reply *interactionReply, i *discordgo.InteractionCreate, user *discordgo.User, member *discordgo.Member) error {
	if !d.isModerator(member) {
		return ErrNotPermitted
	}
	if err := reply.Defer(); err != nil {
		return err
	}
	if _, err := d.presenter.PostRequestMenu(i.ChannelID); err != nil {
		return externalIO("post request menu", err)
	}
	return reply.Send("The play request menu has been posted.")
}

func (d *DiscordAppBot) handleBanList(ctx context.Context, logger *zap.Logger, reply *interactionReply, i *discordgo.InteractionCreate, user *discordgo.User, member *discordgo.Member) error {
	if !d.isModerator(member) {
		return ErrNotPermitted
	}
	return reply.SendEmbed(banListEmbed(d.lifecycle.ListBans()))
}
