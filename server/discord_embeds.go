package server

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"github.com/samber/lo"
)

// Discord API limits
const (
	// Maximum number of fields per embed
	DiscordEmbedMaxFields = 25
	// Maximum field value length
	DiscordFieldMaxValue = 1024
	// Maximum title length
	DiscordEmbedMaxTitle = 256
	// Maximum description length
	DiscordEmbedMaxDescription = 4096
	// Maximum buttons in an action row, and action rows in a message
	DiscordMaxRowButtons = 5
	DiscordMaxActionRows = 5
)

const (
	EmbedColorBlue   = 0x2274A5 // #2274A5
	EmbedColorOrange = 0xFE9920 // #FE9920
	EmbedColorGreen  = 0x499F68 // #499F68
	EmbedColorViolet = 0x4B244A // #4B244A
	EmbedColorRed    = 0xB02E0C // #B02E0C
)

// truncate shortens s to at most n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}

func mention(userID string) string {
	return "<@" + userID + ">"
}

// mentionList renders a user set as mentions that fit in one field value.
func mentionList(users UserSet) string {
	if len(users) == 0 {
		return "None"
	}
	return truncate(strings.Join(lo.Map(users.Sorted(), func(id string, _ int) string {
		return mention(id)
	}), ", "), DiscordFieldMaxValue)
}

func playRequestColor(status PlayRequestStatus) int {
	switch status {
	case PlayRequestStatusAccepted:
		return EmbedColorGreen
	case PlayRequestStatusDenied:
		return EmbedColorRed
	case PlayRequestStatusEnded:
		return EmbedColorViolet
	default:
		return EmbedColorBlue
	}
}

func playRequestEmbed(r *PlayRequest, imageURL string) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       "Play Request",
		Description: fmt.Sprintf("%s wants to play **%s**!", mention(r.RequesterID), r.Game),
		Color:       playRequestColor(r.Status),
		Fields:      make([]*discordgo.MessageEmbedField, 0, 4),
		Footer: &discordgo.MessageEmbedFooter{
			Text: "Request ID: " + r.ID,
		},
		Timestamp: r.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if r.Message != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  "Message",
			Value: truncate(r.Message, DiscordFieldMaxValue),
		})
	}
	embed.Fields = append(embed.Fields,
		&discordgo.MessageEmbedField{
			Name:   "Status",
			Value:  r.Status.Title(),
			Inline: true,
		},
		&discordgo.MessageEmbedField{
			Name:   fmt.Sprintf("Accepted (%d)", r.AcceptCount()),
			Value:  mentionList(r.AcceptedBy),
			Inline: true,
		},
		&discordgo.MessageEmbedField{
			Name:   fmt.Sprintf("Denied (%d)", r.DenyCount()),
			Value:  mentionList(r.DeniedBy),
			Inline: true,
		},
	)
	if imageURL != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: imageURL}
	}
	return embed
}

func playRequestComponents(r *PlayRequest) []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label:    "Accept",
					Style:    discordgo.SuccessButton,
					CustomID: ComponentAction{Kind: ComponentAccept, Target: r.ID}.CustomID(),
				},
				discordgo.Button{
					Label:    "Deny",
					Style:    discordgo.DangerButton,
					CustomID: ComponentAction{Kind: ComponentDeny, Target: r.ID}.CustomID(),
				},
				discordgo.Button{
					Label:    "Report",
					Style:    discordgo.SecondaryButton,
					CustomID: ComponentAction{Kind: ComponentReport, Target: r.ID}.CustomID(),
				},
			},
		},
	}
}

func playRequestPreviewEmbed(r *PlayRequest, imageURL string) *discordgo.MessageEmbed {
	embed := playRequestEmbed(r, imageURL)
	embed.Title = "Your Play Request"
	embed.Description = fmt.Sprintf("Your request to play **%s** has been posted. End it with `/playend id:%s`.", r.Game, r.ID)
	return embed
}

func reportEmbed(report *PlayRequestReport) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title: "Play Request Reported",
		Color: EmbedColorOrange,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Request ID", Value: report.RequestID, Inline: true},
			{Name: "Game", Value: report.Game, Inline: true},
			{Name: "Requester", Value: mention(report.RequesterID), Inline: true},
			{Name: "Reported by", Value: mention(report.ReporterID), Inline: true},
			{Name: "Reason", Value: truncate(report.Reason, DiscordFieldMaxValue)},
		},
		Footer: &discordgo.MessageEmbedFooter{
			Text: "Report ID: " + report.ID,
		},
		Timestamp: report.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if report.Message != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  "Request message",
			Value: truncate(report.Message, DiscordFieldMaxValue),
		})
	}
	return embed
}

func reportComponents(report *PlayRequestReport) []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label:    "Delete Request",
					Style:    discordgo.DangerButton,
					CustomID: ComponentAction{Kind: ComponentDelete, Target: report.RequestID}.CustomID(),
				},
				discordgo.Button{
					Label:    "Ban Requester",
					Style:    discordgo.DangerButton,
					CustomID: ComponentAction{Kind: ComponentBan, Target: report.RequestID, UserID: report.RequesterID}.CustomID(),
				},
				discordgo.Button{
					Label:    "Warn Requester",
					Style:    discordgo.SecondaryButton,
					CustomID: ComponentAction{Kind: ComponentWarn, Target: report.RequestID, UserID: report.RequesterID}.CustomID(),
				},
			},
		},
	}
}

// requestMenuMessage lays out one button per game. Games past the component limit are left out.
func requestMenuMessage(title string, games []string) *discordgo.MessageSend {
	limit := DiscordMaxRowButtons * DiscordMaxActionRows
	if len(games) > limit {
		games = games[:limit]
	}

	rows := make([]discordgo.MessageComponent, 0, DiscordMaxActionRows)
	for _, chunk := range lo.Chunk(games, DiscordMaxRowButtons) {
		buttons := make([]discordgo.MessageComponent, 0, len(chunk))
		for _, game := range chunk {
			buttons = append(buttons, discordgo.Button{
				Label:    truncate(game, 80),
				Style:    discordgo.PrimaryButton,
				CustomID: ComponentAction{Kind: ComponentMenu, Target: game}.CustomID(),
			})
		}
		rows = append(rows, discordgo.ActionsRow{Components: buttons})
	}

	return &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{{
			Title:       truncate(title, DiscordEmbedMaxTitle),
			Description: "Pick a game to post a play request.",
			Color:       EmbedColorViolet,
		}},
		Components: rows,
	}
}

func banListEmbed(userIDs []string) *discordgo.MessageEmbed {
	description := "No users are banned."
	if len(userIDs) > 0 {
		description = truncate(strings.Join(lo.Map(userIDs, func(id string, _ int) string {
			return fmt.Sprintf("%s (`%s`)", mention(id), id)
		}), "\n"), DiscordEmbedMaxDescription)
	}
	return &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("Banned Users (%d)", len(userIDs)),
		Description: description,
		Color:       EmbedColorRed,
	}
}

// auditMessage renders an audit entry as a single line.
func auditMessage(entry AuditEntry) string {
	var b strings.Builder
	switch entry.Action {
	case AuditRequestCreated:
		fmt.Fprintf(&b, "%s created play request `%s` for **%s**", mention(entry.ActorID), entry.RequestID, entry.Game)
		if entry.Reason != "" {
			fmt.Fprintf(&b, ": %s", entry.Reason)
		}
		return truncate(b.String(), 2000)
	case AuditRequestEnded:
		fmt.Fprintf(&b, "%s ended play request `%s` (%s)", mention(entry.ActorID), entry.RequestID, entry.Game)
	case AuditRequestDeleted:
		fmt.Fprintf(&b, "%s deleted play request `%s` by %s (%s)", mention(entry.ActorID), entry.RequestID, mention(entry.TargetID), entry.Game)
	case AuditRequestExpired:
		fmt.Fprintf(&b, "Play request `%s` by %s (%s) expired", entry.RequestID, mention(entry.TargetID), entry.Game)
	case AuditUserBanned:
		fmt.Fprintf(&b, "%s banned %s from play requests", mention(entry.ActorID), mention(entry.TargetID))
		if entry.RequestID != "" {
			fmt.Fprintf(&b, " over `%s`", entry.RequestID)
		}
	case AuditUserUnbanned:
		fmt.Fprintf(&b, "%s unbanned %s from play requests", mention(entry.ActorID), mention(entry.TargetID))
	case AuditUserWarned:
		fmt.Fprintf(&b, "%s warned %s about play request `%s`", mention(entry.ActorID), mention(entry.TargetID), entry.RequestID)
	default:
		fmt.Fprintf(&b, "%s: %s", entry.Action, entry.RequestID)
	}
	if entry.Reason != "" {
		fmt.Fprintf(&b, ". Reason: %s", entry.Reason)
	}
	return truncate(b.String(), 2000)
}
