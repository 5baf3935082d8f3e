package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally/v4"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func testLogger() *zap.Logger {
	return NewJSONLogger(os.Stdout, zapcore.ErrorLevel, JSONFormat)
}

var errStorageDown = errors.New("storage down")

// memoryStorage is a Storage kept in memory. Saves fail while failSaves is set.
type memoryStorage struct {
	sync.Mutex
	bans      []string
	requests  map[string]*PlayRequest
	banSaves  int
	reqSaves  int
	failSaves bool
}

func newMemoryStorage() *memoryStorage {
	return &memoryStorage{requests: make(map[string]*PlayRequest)}
}

func (s *memoryStorage) LoadBans(ctx context.Context) ([]string, error) {
	s.Lock()
	defer s.Unlock()
	return append([]string(nil), s.bans...), nil
}

func (s *memoryStorage) SaveBans(ctx context.Context, userIDs []string) error {
	s.Lock()
	defer s.Unlock()
	if s.failSaves {
		return errStorageDown
	}
	s.banSaves++
	s.bans = append([]string(nil), userIDs...)
	return nil
}

func (s *memoryStorage) LoadPlayRequests(ctx context.Context) (map[string]*PlayRequest, error) {
	s.Lock()
	defer s.Unlock()
	m := make(map[string]*PlayRequest, len(s.requests))
	for id, r := range s.requests {
		m[id] = r.Clone()
	}
	return m, nil
}

func (s *memoryStorage) SavePlayRequests(ctx context.Context, requests map[string]*PlayRequest) error {
	s.Lock()
	defer s.Unlock()
	if s.failSaves {
		return errStorageDown
	}
	s.reqSaves++
	s.requests = make(map[string]*PlayRequest, len(requests))
	for id, r := range requests {
		s.requests[id] = r.Clone()
	}
	return nil
}

func (s *memoryStorage) Close() error { return nil }

func (s *memoryStorage) setFailSaves(fail bool) {
	s.Lock()
	s.failSaves = fail
	s.Unlock()
}

type presenterCall struct {
	Method     string
	RequestID  string
	UserID     string
	Action     ResponseAction
	// AcceptedBy is the tally an UpdateNotification rendered.
	AcceptedBy []string
}

// fakePresenter records every call. Methods fail when their name is in failOn.
type fakePresenter struct {
	sync.Mutex
	calls   []presenterCall
	reports []*PlayRequestReport
	audits  []AuditEntry
	failOn  map[string]error
	nextMsg int
	// onPost runs inside PostNotification before the reference is returned.
	onPost func(r *PlayRequest)
	// onUpdate runs inside UpdateNotification before the edit is recorded.
	onUpdate func(r *PlayRequest)
}

func newFakePresenter() *fakePresenter {
	return &fakePresenter{failOn: make(map[string]error)}
}

func (p *fakePresenter) record(c presenterCall) error {
	p.Lock()
	defer p.Unlock()
	p.calls = append(p.calls, c)
	return p.failOn[c.Method]
}

func (p *fakePresenter) PostNotification(ctx context.Context, r *PlayRequest) (*NotificationRef, error) {
	if err := p.record(presenterCall{Method: "PostNotification", RequestID: r.ID}); err != nil {
		return nil, err
	}
	if p.onPost != nil {
		p.onPost(r)
	}
	p.Lock()
	p.nextMsg++
	ref := &NotificationRef{ChannelID: "notifications", MessageID: fmt.Sprintf("msg-%d", p.nextMsg)}
	p.Unlock()
	return ref, nil
}

func (p *fakePresenter) UpdateNotification(ctx context.Context, r *PlayRequest) error {
	if p.onUpdate != nil {
		p.onUpdate(r)
	}
	return p.record(presenterCall{Method: "UpdateNotification", RequestID: r.ID, AcceptedBy: r.AcceptedBy.Sorted()})
}

func (p *fakePresenter) RemoveNotification(ctx context.Context, ref NotificationRef) error {
	return p.record(presenterCall{Method: "RemoveNotification", RequestID: ref.MessageID})
}

func (p *fakePresenter) SendRequestPreview(ctx context.Context, r *PlayRequest) error {
	return p.record(presenterCall{Method: "SendRequestPreview", RequestID: r.ID, UserID: r.RequesterID})
}

func (p *fakePresenter) SendResponseUpdate(ctx context.Context, r *PlayRequest, responderID string, action ResponseAction) error {
	return p.record(presenterCall{Method: "SendResponseUpdate", RequestID: r.ID, UserID: responderID, Action: action})
}

func (p *fakePresenter) SendWarning(ctx context.Context, userID, requestID string) error {
	return p.record(presenterCall{Method: "SendWarning", RequestID: requestID, UserID: userID})
}

func (p *fakePresenter) PublishReport(ctx context.Context, report *PlayRequestReport) error {
	if err := p.record(presenterCall{Method: "PublishReport", RequestID: report.RequestID, UserID: report.ReporterID}); err != nil {
		return err
	}
	p.Lock()
	p.reports = append(p.reports, report)
	p.Unlock()
	return nil
}

func (p *fakePresenter) Audit(ctx context.Context, entry AuditEntry) error {
	if err := p.record(presenterCall{Method: "Audit", RequestID: entry.RequestID, UserID: entry.TargetID}); err != nil {
		return err
	}
	p.Lock()
	p.audits = append(p.audits, entry)
	p.Unlock()
	return nil
}

func (p *fakePresenter) callsTo(method string) []presenterCall {
	p.Lock()
	defer p.Unlock()
	var out []presenterCall
	for _, c := range p.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

type lifecycleFixture struct {
	storage   *memoryStorage
	store     *PlayRequestStore
	bans      *BanList
	catalog   *GameCatalog
	presenter *fakePresenter
	scope     tally.TestScope
	lifecycle *PlayRequestLifecycle
}

func newLifecycleFixture(t *testing.T, configure func(c *PlayRequestConfig)) *lifecycleFixture {
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

	config := NewPlayRequestConfig()
	config.SubmitIntervalSec = 0
	if configure != nil {
		configure(config)
	}

	presenter := newFakePresenter()
	scope := tally.NewTestScope("", nil)
	lifecycle := NewPlayRequestLifecycle(logger, config, store, bans, catalog, presenter, newScopeMetrics(logger, scope))

	return &lifecycleFixture{
		storage:   storage,
		store:     store,
		bans:      bans,
		catalog:   catalog,
		presenter: presenter,
		scope:     scope,
		lifecycle: lifecycle,
	}
}

// fixedClock returns a clock that only moves when advanced.
type fixedClock struct {
	sync.Mutex
	t time.Time
}

func (c *fixedClock) Now() time.Time {
	c.Lock()
	defer c.Unlock()
	return c.t
}

func (c *fixedClock) Advance(d time.Duration) {
	c.Lock()
	c.t = c.t.Add(d)
	c.Unlock()
}
