package server

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	modalFieldReason  = "reason"
	modalFieldMessage = "message"
)

func (d *DiscordAppBot) handleInteractionMessageComponent(ctx context.Context, logger *zap.Logger, reply *interactionReply, i *discordgo.InteractionCreate, user *discordgo.User, member *discordgo.Member, action ComponentAction) error {
	switch action.Kind {
	case ComponentAccept, ComponentDeny:
		if err := reply.Defer(); err != nil {
			return err
		}
		var (
			r   *PlayRequest
			err error
		)
		if action.Kind == ComponentAccept {
			r, err = d.lifecycle.AcceptRequest(ctx, action.Target, user.ID)
		} else {
			r, err = d.lifecycle.DenyRequest(ctx, action.Target, user.ID)
		}
		if r == nil {
			return err
		} else if err != nil {
			logger.Warn("Response recorded with errors", zap.String("request_id", r.ID), zap.Error(err))
		}

		verb := "accepted"
		if action.Kind == ComponentDeny {
			verb = "denied"
		}
		return reply.Send(fmt.Sprintf("You have %s %s's play request for **%s**.", verb, mention(r.RequesterID), r.Game))

	case ComponentReport:
		if _, found := d.lifecycle.Get(action.Target); !found {
			return ErrPlayRequestNotFound
		}
		return reply.Modal(&discordgo.InteractionResponseData{
			CustomID: ComponentAction{Kind: ModalReport, Target: action.Target}.CustomID(),
			Title:    "Report Play Request",
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{
					Components: []discordgo.MessageComponent{
						discordgo.TextInput{
							CustomID:    modalFieldReason,
							Label:       "Reason for reporting",
							Style:       discordgo.TextInputParagraph,
							Placeholder: "Describe the problem with this request",
							Required:    true,
							MinLength:   1,
							MaxLength:   1000,
						},
					},
				},
			},
		})

	case ComponentMenu:
		return reply.Modal(&discordgo.InteractionResponseData{
			CustomID: ComponentAction{Kind: ModalPlay, Target: action.Target}.CustomID(),
			Title:    truncate("Play "+action.Target, 45),
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{
					Components: []discordgo.MessageComponent{
						discordgo.TextInput{
							CustomID:    modalFieldMessage,
							Label:       "Message (optional)",
							Style:       discordgo.TextInputParagraph,
							Placeholder: "Anything other players should know",
							Required:    false,
							MaxLength:   500,
						},
					},
				},
			},
		})

	case ComponentDelete:
		if err := reply.Defer(); err != nil {
			return err
		}
		r, err := d.lifecycle.DeleteRequest(ctx, action.Target, d.actor(user, member))
		if r == nil {
			return err
		} else if err != nil {
			logger.Warn("Play request deleted with errors", zap.String("request_id", r.ID), zap.Error(err))
		}
		return reply.Send(fmt.Sprintf("Play request `%s` has been deleted.", r.ID))

	case ComponentBan:
		if err := reply.Defer(); err != nil {
			return err
		}
		requesterID, err := d.lifecycle.BanRequester(ctx, action.Target, action.UserID, d.actor(user, member), "Reported play request "+action.Target)
		if requesterID == "" || (err != nil && ErrorKindOf(err) != ErrorKindExternalIO) {
			return err
		} else if err != nil {
			logger.Warn("Ban recorded with errors", zap.String("target_id", requesterID), zap.Error(err))
		}
		return reply.Send(fmt.Sprintf("%s has been banned from making play requests.", mention(requesterID)))

	case ComponentWarn:
		if err := reply.Defer(); err != nil {
			return err
		}
		requesterID, err := d.lifecycle.WarnRequester(ctx, action.Target, action.UserID, d.actor(user, member))
		if err != nil {
			return err
		}
		return reply.Send(fmt.Sprintf("%s has been warned.", mention(requesterID)))

	default:
		logger.Info("Unhandled message component")
		return nil
	}
}

func (d *DiscordAppBot) handleModalSubmit(ctx context.Context, logger *zap.Logger, reply *interactionReply, i *discordgo.InteractionCreate, user *discordgo.User, member *discordgo.Member, action ComponentAction) error {
	values := modalValues(i.ModalSubmitData())

	switch action.Kind {
	case ModalReport:
		return d.reportPlayRequest(ctx, logger, reply, user, action.Target, values[modalFieldReason])
	case ModalPlay:
		return d.submitPlayRequest(ctx, logger, reply, user, action.Target, values[modalFieldMessage])
	default:
		logger.Info("Unhandled modal submit")
		return nil
	}
}

// modalValues collects text input values by custom ID.
func modalValues(data discordgo.ModalSubmitInteractionData) map[string]string {
	values := make(map[string]string)
	for _, c := range data.Components {
		row, ok := c.(*discordgo.ActionsRow)
		if !ok {
			continue
		}
		for _, rc := range row.Components {
			if input, ok := rc.(*discordgo.TextInput); ok {
				values[input.CustomID] = strings.TrimSpace(input.Value)
			}
		}
	}
	return values
}
