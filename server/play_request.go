package server

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/samber/lo"
)

// PlayRequestStatus represents the lifecycle state of a play request
type PlayRequestStatus string

const (
	PlayRequestStatusPending  PlayRequestStatus = "pending"  // No decisive responses yet
	PlayRequestStatusAccepted PlayRequestStatus = "accepted" // Accepts reached the threshold
	PlayRequestStatusDenied   PlayRequestStatus = "denied"   // Denies reached the threshold and outnumber accepts
	PlayRequestStatusEnded    PlayRequestStatus = "ended"    // Final state, set while the request is being removed
)

// Title returns the display form of the status.
func (s PlayRequestStatus) Title() string {
	switch s {
	case PlayRequestStatusPending:
		return "Pending"
	case PlayRequestStatusAccepted:
		return "Accepted"
	case PlayRequestStatusDenied:
		return "Denied"
	case PlayRequestStatusEnded:
		return "Ended"
	default:
		return "Unknown"
	}
}

// NotificationRef locates the posted notification for a play request.
type NotificationRef struct {
	ChannelID string `json:"channelId"`
	MessageID string `json:"messageId"`
}

// UserSet is a set of user IDs. It is serialized as a sorted JSON array.
type UserSet map[string]struct{}

func NewUserSet(ids ...string) UserSet {
	s := make(UserSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s UserSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

func (s UserSet) Add(id string) { s[id] = struct{}{} }
func (s UserSet) Remove(id string) { delete(s, id) }

// Sorted returns the members in lexical order.
func (s UserSet) Sorted() []string {
	ids := lo.Keys(s)
	slices.Sort(ids)
	return ids
}

func (s UserSet) Clone() UserSet {
	c := make(UserSet, len(s))
	for id := range s {
		c[id] = struct{}{}
	}
	return c
}

func (s UserSet) MarshalJSON() ([]byte, error) {
	ids := s.Sorted()
	if ids == nil {
		ids = []string{}
	}
	return json.Marshal(ids)
}

func (s *UserSet) UnmarshalJSON(data []byte) error {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*s = NewUserSet(ids...)
	return nil
}

// PlayRequest is a user-initiated request for a game session.
type PlayRequest struct {
	ID           string            `json:"id"`
	RequesterID  string            `json:"requesterId"`
	Game         string            `json:"game"`
	Message      string            `json:"message,omitempty"`
	Status       PlayRequestStatus `json:"status"`
	AcceptedBy   UserSet           `json:"acceptedBy"`
	DeniedBy     UserSet           `json:"deniedBy"`
	Notification *NotificationRef  `json:"notification,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
	UpdatedAt    time.Time         `json:"updatedAt"`
}

func NewPlayRequest(id, requesterID, game, message string, now time.Time) *PlayRequest {
	return &PlayRequest{
		ID:          id,
		RequesterID: requesterID,
		Game:        game,
		Message:     message,
		Status:      PlayRequestStatusPending,
		AcceptedBy:  NewUserSet(),
		DeniedBy:    NewUserSet(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Clone returns a deep copy.
func (r *PlayRequest) Clone() *PlayRequest {
	if r == nil {
		return nil
	}
	c := *r
	c.AcceptedBy = r.AcceptedBy.Clone()
	c.DeniedBy = r.DeniedBy.Clone()
	if r.Notification != nil {
		ref := *r.Notification
		c.Notification = &ref
	}
	return &c
}

func (r *PlayRequest) AcceptCount() int { return len(r.AcceptedBy) }
func (r *PlayRequest) DenyCount() int { return len(r.DeniedBy) }

// StatusThresholds controls how the tally maps onto a status.
type StatusThresholds struct {
	Accept int
	Deny   int
}

// ResolveStatus derives the status from the current tally. An ended request stays ended.
func (r *PlayRequest) ResolveStatus(t StatusThresholds) PlayRequestStatus {
	if r.Status == PlayRequestStatusEnded {
		return r.Status
	}
	accepts, denies := r.AcceptCount(), r.DenyCount()
	switch {
	case accepts >= max(t.Accept, 1) && accepts >= denies:
		return PlayRequestStatusAccepted
	case denies >= max(t.Deny, 1) && denies > accepts:
		return PlayRequestStatusDenied
	default:
		return PlayRequestStatusPending
	}
}

// UnmarshalJSON tolerates records written without sets.
func (r *PlayRequest) UnmarshalJSON(data []byte) error {
	type alias PlayRequest
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	if a.AcceptedBy == nil {
		a.AcceptedBy = NewUserSet()
	}
	if a.DeniedBy == nil {
		a.DeniedBy = NewUserSet()
	}
	if a.Status == "" {
		a.Status = PlayRequestStatusPending
	}
	*r = PlayRequest(a)
	return nil
}
