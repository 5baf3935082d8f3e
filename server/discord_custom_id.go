package server

import (
	"fmt"
	"strings"
)

const discordCustomIDMaxLength = 100

// MaxGameNameLength keeps "play_modal:<game>", the longest custom ID carrying a game name,
// within Discord's limit. Slash command choice values share the same limit.
const MaxGameNameLength = discordCustomIDMaxLength - len(ModalPlay) - 1

// ComponentKind names what a button or modal does.
type ComponentKind string

const (
	ComponentAccept ComponentKind = "accept"
	ComponentDeny   ComponentKind = "deny"
	ComponentReport ComponentKind = "report"
	ComponentDelete ComponentKind = "delete"
	ComponentBan    ComponentKind = "ban"
	ComponentWarn   ComponentKind = "warn"
	ComponentMenu   ComponentKind = "menu"

	ModalReport ComponentKind = "report_modal"
	ModalPlay   ComponentKind = "play_modal"
)

// componentTargets lists the kinds that carry a requester user ID after the target.
var componentTargets = map[ComponentKind]bool{
	ComponentAccept: false,
	ComponentDeny:   false,
	ComponentReport: false,
	ComponentDelete: false,
	ComponentBan:    true,
	ComponentWarn:   true,
	ComponentMenu:   false,
	ModalReport:     false,
	ModalPlay:       false,
}

// ComponentAction is a decoded custom ID: "<kind>:<target>[:<userID>]". The target is a
// play request ID for every kind except menu buttons and play modals, where it is a game name.
type ComponentAction struct {
	Kind   ComponentKind
	Target string
	UserID string
}

func (a ComponentAction) CustomID() string {
	if a.UserID != "" {
		return strings.Join([]string{string(a.Kind), a.Target, a.UserID}, ":")
	}
	return string(a.Kind) + ":" + a.Target
}

// ParseComponentAction decodes a custom ID produced by CustomID.
func ParseComponentAction(customID string) (ComponentAction, error) {
	kind, rest, ok := strings.Cut(customID, ":")
	if !ok || rest == "" {
		return ComponentAction{}, fmt.Errorf("malformed custom id %q", customID)
	}
	withUser, known := componentTargets[ComponentKind(kind)]
	if !known {
		return ComponentAction{}, fmt.Errorf("unknown component %q", kind)
	}

	a := ComponentAction{Kind: ComponentKind(kind), Target: rest}
	if withUser {
		// Game names may contain ':', request IDs and user IDs do not.
		target, userID, _ := strings.Cut(rest, ":")
		a.Target, a.UserID = target, userID
	}
	if a.Target == "" {
		return ComponentAction{}, fmt.Errorf("malformed custom id %q", customID)
	}
	return a, nil
}
