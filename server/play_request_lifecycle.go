package server

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Actor is the user driving an operation.
type Actor struct {
	UserID    string
	Moderator bool
}

// ResponseAction is a user's answer to a play request.
type ResponseAction string

const (
	ResponseAccept ResponseAction = "accept"
	ResponseDeny   ResponseAction = "deny"
)

// PlayRequestReport is relayed to moderators. It does not change the request.
type PlayRequestReport struct {
	ID          string
	RequestID   string
	Game        string
	RequesterID string
	ReporterID  string
	Reason      string
	Message     string
	CreatedAt   time.Time
}

type AuditAction string

const (
	AuditRequestCreated AuditAction = "request_created"
	AuditRequestEnded   AuditAction = "request_ended"
	AuditRequestDeleted AuditAction = "request_deleted"
	AuditRequestExpired AuditAction = "request_expired"
	AuditUserBanned     AuditAction = "user_banned"
	AuditUserUnbanned   AuditAction = "user_unbanned"
	AuditUserWarned     AuditAction = "user_warned"
)

// AuditEntry is one line of the moderation audit log.
type AuditEntry struct {
	Action    AuditAction
	ActorID   string
	TargetID  string
	RequestID string
	Game      string
	Reason    string
}

// Presenter renders lifecycle events on the chat platform.
type Presenter interface {
	PostNotification(ctx context.Context, r *PlayRequest) (*NotificationRef, error)
	UpdateNotification(ctx context.Context, r *PlayRequest) error
	// RemoveNotification deletes the message. A message that no longer exists is not an error.
	RemoveNotification(ctx context.Context, ref NotificationRef) error
	SendRequestPreview(ctx context.Context, r *PlayRequest) error
	SendResponseUpdate(ctx context.Context, r *PlayRequest, responderID string, action ResponseAction) error
	SendWarning(ctx context.Context, userID, requestID string) error
	PublishReport(ctx context.Context, report *PlayRequestReport) error
	Audit(ctx context.Context, entry AuditEntry) error
}

// PlayRequestLifecycle applies the play request rules on top of the stores.
type PlayRequestLifecycle struct {
	logger    *zap.Logger
	config    *PlayRequestConfig
	store     *PlayRequestStore
	bans      *BanList
	catalog   *GameCatalog
	presenter Presenter
	metrics   Metrics

	// Idle limiters are dropped by the maintenance sweep.
	submitLimiters *MapOf[string, *rate.Limiter]
	// Serializes notification edits per request id.
	renderLocks    *MapOf[string, *sync.Mutex]
	now            func() time.Time
}

func NewPlayRequestLifecycle(logger *zap.Logger, config *PlayRequestConfig, store *PlayRequestStore, bans *BanList, catalog *GameCatalog, presenter Presenter, metrics Metrics) *PlayRequestLifecycle {
	return &PlayRequestLifecycle{
		logger:         logger.With(zap.String("system", "play_request_lifecycle")),
		config:         config.Clone(),
		store:          store,
		bans:           bans,
		catalog:        catalog,
		presenter:      presenter,
		metrics:        metrics,
		submitLimiters: &MapOf[string, *rate.Limiter]{},
		renderLocks:    &MapOf[string, *sync.Mutex]{},
		now:            time.Now,
	}
}

func (l *PlayRequestLifecycle) Get(id string) (*PlayRequest, bool) {
	return l.store.Get(id)
}

func (l *PlayRequestLifecycle) ListRequests() []*PlayRequest {
	return l.store.List()
}

func (l *PlayRequestLifecycle) ListBans() []string {
	return l.bans.List()
}

func (l *PlayRequestLifecycle) OpenCount() int {
	return l.store.Len()
}

func (l *PlayRequestLifecycle) Games() []string {
	return l.catalog.Names()
}

// SubmitRequest creates a request and posts its notification. When posting fails the
// request is kept and returned together with the error.
func (l *PlayRequestLifecycle) SubmitRequest(ctx context.Context, requesterID, game, message string) (*PlayRequest, error) {
	logger := l.logger.With(zap.String("requester_id", requesterID), zap.String("game", game))

	if l.bans.IsBanned(requesterID) {
		return nil, ErrRequesterBanned
	}
	if !l.catalog.Has(game) {
		return nil, ErrUnknownGame
	}
	refund, ok := l.reserveSubmit(requesterID)
	if !ok {
		return nil, ErrRateLimited
	}

	r, persistErr := l.store.Create(ctx, requesterID, game, strings.TrimSpace(message))
	if r == nil {
		// Nothing was created, so the attempt does not count against the user.
		refund()
		return nil, persistErr
	}
	logger = logger.With(zap.String("request_id", r.ID))

	l.metrics.CustomCounter("play_request_submitted", map[string]string{"game": game}, 1)
	l.updateOpenGauge()

	ref, err := l.presenter.PostNotification(ctx, r)
	if err != nil {
		logger.Error("Failed to post play request notification", zap.Error(err))
		return r, errors.Join(persistErr, externalIO("post notification", err))
	}

	updated, err := l.store.Update(ctx, r.ID, func(stored *PlayRequest) error {
		stored.Notification = ref
		return nil
	})
	switch {
	case errors.Is(err, ErrPlayRequestNotFound):
		// Ended while the notification was being posted.
		logger.Info("Play request ended before its notification was recorded")
		if err := l.presenter.RemoveNotification(ctx, *ref); err != nil {
			logger.Warn("Failed to remove orphaned notification", zap.Error(err))
		}
		r.Notification = ref
		r.Status = PlayRequestStatusEnded
		return r, persistErr
	case updated == nil:
		return r, errors.Join(persistErr, err)
	}
	r = updated
	persistErr = errors.Join(persistErr, err)

	if l.config.DMRequesterOnCreate {
		if err := l.presenter.SendRequestPreview(ctx, r); err != nil {
			logger.Warn("Failed to send play request preview", zap.Error(err))
		}
	}

	l.audit(ctx, AuditEntry{
		Action:    AuditRequestCreated,
		ActorID:   requesterID,
		RequestID: r.ID,
		Game:      game,
		Reason:    r.Message,
	})

	logger.Info("Play request submitted")
	return r, persistErr
}

func (l *PlayRequestLifecycle) AcceptRequest(ctx context.Context, id, userID string) (*PlayRequest, error) {
	return l.respond(ctx, id, userID, ResponseAccept)
}

func (l *PlayRequestLifecycle) DenyRequest(ctx context.Context, id, userID string) (*PlayRequest, error) {
	return l.respond(ctx, id, userID, ResponseDeny)
}

func (l *PlayRequestLifecycle) respond(ctx context.Context, id, userID string, action ResponseAction) (*PlayRequest, error) {
	logger := l.logger.With(zap.String("request_id", id), zap.String("user_id", userID), zap.String("action", string(action)))

	thresholds := l.config.Thresholds()
	r, err := l.store.Update(ctx, id, func(r *PlayRequest) error {
		switch action {
		case ResponseAccept:
			if r.AcceptedBy.Has(userID) {
				return ErrAlreadyAccepted
			}
			r.DeniedBy.Remove(userID)
			r.AcceptedBy.Add(userID)
		case ResponseDeny:
			if r.DeniedBy.Has(userID) {
				return ErrAlreadyDenied
			}
			r.AcceptedBy.Remove(userID)
			r.DeniedBy.Add(userID)
		}
		r.Status = r.ResolveStatus(thresholds)
		return nil
	})
	if r == nil {
		return nil, err
	}
	persistErr := err

	l.metrics.CustomCounter("play_request_response", map[string]string{"action": string(action)}, 1)

	var notifyErr error
	if r.Notification != nil {
		if err := l.renderNotification(ctx, id); err != nil {
			logger.Error("Failed to update play request notification", zap.Error(err))
			notifyErr = externalIO("update notification", err)
		}
	}

	if l.config.DMRequesterOnResponse && userID != r.RequesterID {
		if err := l.presenter.SendResponseUpdate(ctx, r, userID, action); err != nil {
			logger.Warn("Failed to notify requester", zap.Error(err))
		}
	}

	logger.Debug("Play request response recorded", zap.String("status", string(r.Status)))
	return r, errors.Join(persistErr, notifyErr)
}

// renderNotification edits the notification from the stored record. Edits for one
// request run one at a time so the last edit always shows the latest tally.
func (l *PlayRequestLifecycle) renderNotification(ctx context.Context, id string) error {
	mu, _ := l.renderLocks.LoadOrStore(id, &sync.Mutex{})
	mu.Lock()
	defer mu.Unlock()

	current, found := l.store.Get(id)
	if !found || current.Notification == nil {
		// Removed meanwhile; remove() deletes the message.
		return nil
	}
	return l.presenter.UpdateNotification(ctx, current)
}

// ReportRequest relays a report about the request to the moderators.
func (l *PlayRequestLifecycle) ReportRequest(ctx context.Context, id, reporterID, reason string) (*PlayRequestReport, error) {
	r, found := l.store.Get(id)
	if !found {
		return nil, ErrPlayRequestNotFound
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrReasonRequired
	}

	report := &PlayRequestReport{
		ID:          uuid.Must(uuid.NewV4()).String(),
		RequestID:   r.ID,
		Game:        r.Game,
		RequesterID: r.RequesterID,
		ReporterID:  reporterID,
		Reason:      reason,
		Message:     r.Message,
		CreatedAt:   l.now().UTC(),
	}

	l.metrics.CustomCounter("play_request_report", nil, 1)

	if err := l.presenter.PublishReport(ctx, report); err != nil {
		l.logger.Error("Failed to publish report", zap.String("request_id", id), zap.String("report_id", report.ID), zap.Error(err))
		return report, externalIO("publish report", err)
	}
	l.logger.Info("Play request reported", zap.String("request_id", id), zap.String("reporter_id", reporterID), zap.String("report_id", report.ID))
	return report, nil
}

// EndRequest removes the request on behalf of its requester or a moderator.
func (l *PlayRequestLifecycle) EndRequest(ctx context.Context, id string, actor Actor) (*PlayRequest, error) {
	r, found := l.store.Get(id)
	if !found {
		return nil, ErrPlayRequestNotFound
	}
	if actor.UserID != r.RequesterID && !actor.Moderator {
		return nil, ErrNotPermitted
	}
	return l.remove(ctx, id, actor.UserID, AuditRequestEnded)
}

// DeleteRequest removes the request as a moderation action.
func (l *PlayRequestLifecycle) DeleteRequest(ctx context.Context, id string, actor Actor) (*PlayRequest, error) {
	if !actor.Moderator {
		return nil, ErrNotPermitted
	}
	return l.remove(ctx, id, actor.UserID, AuditRequestDeleted)
}

func (l *PlayRequestLifecycle) remove(ctx context.Context, id, actorID string, action AuditAction) (*PlayRequest, error) {
	logger := l.logger.With(zap.String("request_id", id), zap.String("actor_id", actorID), zap.String("action", string(action)))

	r, err := l.store.Delete(ctx, id)
	if r == nil {
		return nil, err
	}
	persistErr := err
	r.Status = PlayRequestStatusEnded
	l.renderLocks.Delete(id)

	var notifyErr error
	if r.Notification != nil {
		if err := l.presenter.RemoveNotification(ctx, *r.Notification); err != nil {
			logger.Error("Failed to remove play request notification", zap.Error(err))
			notifyErr = externalIO("remove notification", err)
		}
	}

	l.metrics.CustomCounter("play_request_ended", map[string]string{"reason": string(action)}, 1)
	l.updateOpenGauge()

	l.audit(ctx, AuditEntry{
		Action:    action,
		ActorID:   actorID,
		TargetID:  r.RequesterID,
		RequestID: r.ID,
		Game:      r.Game,
	})

	logger.Info("Play request removed")
	return r, errors.Join(persistErr, notifyErr)
}

// BanRequester bans the requester of a reported request. When the request is already
// gone, requesterID captured on the report is used. Banning a banned user succeeds.
func (l *PlayRequestLifecycle) BanRequester(ctx context.Context, id, requesterID string, moderator Actor, reason string) (string, error) {
	if !moderator.Moderator {
		return "", ErrNotPermitted
	}
	if r, found := l.store.Get(id); found {
		requesterID = r.RequesterID
	}
	if requesterID == "" {
		return "", ErrPlayRequestNotFound
	}

	err := l.banUser(ctx, requesterID, moderator.UserID, id, reason)
	if errors.Is(err, ErrAlreadyBanned) {
		return requesterID, nil
	}
	return requesterID, err
}

// WarnRequester sends the requester a warning about the request.
func (l *PlayRequestLifecycle) WarnRequester(ctx context.Context, id, requesterID string, moderator Actor) (string, error) {
	if !moderator.Moderator {
		return "", ErrNotPermitted
	}
	if r, found := l.store.Get(id); found {
		requesterID = r.RequesterID
	}
	if requesterID == "" {
		return "", ErrPlayRequestNotFound
	}

	if err := l.presenter.SendWarning(ctx, requesterID, id); err != nil {
		l.logger.Warn("Failed to warn requester", zap.String("request_id", id), zap.String("user_id", requesterID), zap.Error(err))
		return requesterID, externalIO("send warning", err)
	}

	l.audit(ctx, AuditEntry{
		Action:    AuditUserWarned,
		ActorID:   moderator.UserID,
		TargetID:  requesterID,
		RequestID: id,
	})
	return requesterID, nil
}

func (l *PlayRequestLifecycle) BanUser(ctx context.Context, userID string, moderator Actor, reason string) error {
	if !moderator.Moderator {
		return ErrNotPermitted
	}
	return l.banUser(ctx, userID, moderator.UserID, "", reason)
}

func (l *PlayRequestLifecycle) banUser(ctx context.Context, userID, moderatorID, requestID, reason string) error {
	err := l.bans.Ban(ctx, userID)
	if errors.Is(err, ErrAlreadyBanned) {
		return err
	}

	// The reason is only logged and audited.
	l.logger.Info("User banned from play requests",
		zap.String("user_id", userID),
		zap.String("moderator_id", moderatorID),
		zap.String("request_id", requestID),
		zap.String("reason", reason))
	l.metrics.CustomCounter("play_request_ban", map[string]string{"action": "ban"}, 1)
	l.audit(ctx, AuditEntry{
		Action:    AuditUserBanned,
		ActorID:   moderatorID,
		TargetID:  userID,
		RequestID: requestID,
		Reason:    reason,
	})
	return err
}

func (l *PlayRequestLifecycle) UnbanUser(ctx context.Context, userID string, moderator Actor) error {
	if !moderator.Moderator {
		return ErrNotPermitted
	}
	err := l.bans.Unban(ctx, userID)
	if errors.Is(err, ErrNotBanned) {
		return err
	}

	l.logger.Info("User unbanned from play requests", zap.String("user_id", userID), zap.String("moderator_id", moderator.UserID))
	l.metrics.CustomCounter("play_request_ban", map[string]string{"action": "unban"}, 1)
	l.audit(ctx, AuditEntry{
		Action:   AuditUserUnbanned,
		ActorID:  moderator.UserID,
		TargetID: userID,
	})
	return err
}

// ExpireRequests ends every request older than the configured TTL and returns how many were ended.
func (l *PlayRequestLifecycle) ExpireRequests(ctx context.Context) int {
	ttl := l.config.GetRequestTTL()
	if ttl <= 0 {
		return 0
	}
	cutoff := l.now().Add(-ttl)

	count := 0
	for _, r := range l.store.List() {
		if !r.CreatedAt.Before(cutoff) {
			// List is ordered by creation time.
			break
		}
		removed, err := l.remove(ctx, r.ID, "", AuditRequestExpired)
		if removed == nil {
			// Ended by someone else since the listing.
			if !errors.Is(err, ErrPlayRequestNotFound) {
				l.logger.Warn("Failed to expire play request", zap.String("request_id", r.ID), zap.Error(err))
			}
			continue
		}
		if err != nil {
			l.logger.Warn("Failed to expire play request", zap.String("request_id", r.ID), zap.Error(err))
		}
		count++
	}
	return count
}

// PruneSubmitLimiters drops the limiters of users whose allowance has fully refilled.
// Such a limiter behaves exactly like a new one.
func (l *PlayRequestLifecycle) PruneSubmitLimiters() int {
	now := l.now()
	pruned := 0
	l.submitLimiters.Range(func(userID string, limiter *rate.Limiter) bool {
		if limiter.TokensAt(now) >= float64(limiter.Burst()) {
			l.submitLimiters.Delete(userID)
			pruned++
		}
		return true
	})
	return pruned
}

// StartExpiry runs ExpireRequests and PruneSubmitLimiters periodically until ctx is done.
func (l *PlayRequestLifecycle) StartExpiry(ctx context.Context) {
	if l.config.GetRequestTTL() <= 0 && l.config.SubmitIntervalSec <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(l.config.GetExpiryInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := l.ExpireRequests(ctx); n > 0 {
					l.logger.Info("Expired play requests", zap.Int("count", n))
				}
				if n := l.PruneSubmitLimiters(); n > 0 {
					l.logger.Debug("Pruned idle submit limiters", zap.Int("count", n))
				}
			}
		}
	}()
}

// reserveSubmit takes one submission from the user's allowance. refund gives it back.
func (l *PlayRequestLifecycle) reserveSubmit(userID string) (refund func(), ok bool) {
	if l.config.SubmitIntervalSec <= 0 {
		return func() {}, true
	}
	every := time.Duration(l.config.SubmitIntervalSec) * time.Second
	limiter, _ := l.submitLimiters.LoadOrStore(userID, rate.NewLimiter(rate.Every(every), max(l.config.SubmitBurst, 1)))

	now := l.now()
	reservation := limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return nil, false
	}
	if reservation.DelayFrom(now) > 0 {
		reservation.CancelAt(now)
		return nil, false
	}
	return func() { reservation.CancelAt(now) }, true
}

func (l *PlayRequestLifecycle) updateOpenGauge() {
	l.metrics.CustomGauge("play_request_open", nil, float64(l.store.Len()))
}

func (l *PlayRequestLifecycle) audit(ctx context.Context, entry AuditEntry) {
	if err := l.presenter.Audit(ctx, entry); err != nil {
		l.logger.Warn("Failed to write audit entry", zap.String("action", string(entry.Action)), zap.Error(err))
	}
}
