package server

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	playRequestIDPrefix      = "PR-"
	playRequestIDMaxAttempts = 32
)

// NewPlayRequestID returns a short id that a user can type into a command.
func NewPlayRequestID() string {
	return fmt.Sprintf("%s%06d", playRequestIDPrefix, rand.IntN(1_000_000))
}

// PlayRequestStore holds every active play request.
type PlayRequestStore struct {
	sync.RWMutex
	logger   *zap.Logger
	storage  PlayRequestStorage
	requests map[string]*PlayRequest

	persister snapshotPersister[map[string]*PlayRequest]

	newID func() string
	now   func() time.Time
}

// NewPlayRequestStore loads the persisted requests.
func NewPlayRequestStore(ctx context.Context, logger *zap.Logger, storage PlayRequestStorage) (*PlayRequestStore, error) {
	requests, err := storage.LoadPlayRequests(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load play requests: %w", err)
	}
	if requests == nil {
		requests = make(map[string]*PlayRequest)
	}

	s := &PlayRequestStore{
		logger:   logger.With(zap.String("system", "play_request_store")),
		storage:  storage,
		requests: requests,
		newID:    NewPlayRequestID,
		now:      time.Now,
	}
	s.persister.save = storage.SavePlayRequests
	s.logger.Info("Play requests loaded", zap.Int("count", len(requests)))
	return s, nil
}

// Create stores a new pending request under a fresh id.
func (s *PlayRequestStore) Create(ctx context.Context, requesterID, game, message string) (*PlayRequest, error) {
	s.Lock()
	id := ""
	for range playRequestIDMaxAttempts {
		candidate := s.newID()
		if _, found := s.requests[candidate]; !found {
			id = candidate
			break
		}
	}
	if id == "" {
		s.Unlock()
		return nil, ErrRequestIDExhausted
	}

	r := NewPlayRequest(id, requesterID, game, message, s.now().UTC())
	s.requests[id] = r
	result := r.Clone()
	snapshot, version := s.snapshot(), s.persister.next()
	s.Unlock()

	return result, s.persist(ctx, snapshot, version)
}

// Get returns a copy of the request.
func (s *PlayRequestStore) Get(id string) (*PlayRequest, bool) {
	s.RLock()
	defer s.RUnlock()
	r, found := s.requests[id]
	if !found {
		return nil, false
	}
	return r.Clone(), true
}

// Delete removes the request and returns the removed record.
func (s *PlayRequestStore) Delete(ctx context.Context, id string) (*PlayRequest, error) {
	s.Lock()
	r, found := s.requests[id]
	if !found {
		s.Unlock()
		return nil, ErrPlayRequestNotFound
	}
	delete(s.requests, id)
	snapshot, version := s.snapshot(), s.persister.next()
	s.Unlock()

	return r, s.persist(ctx, snapshot, version)
}

// Update applies fn to the stored request under the store lock. An error from fn
// leaves the record untouched.
func (s *PlayRequestStore) Update(ctx context.Context, id string, fn func(r *PlayRequest) error) (*PlayRequest, error) {
	s.Lock()
	r, found := s.requests[id]
	if !found {
		s.Unlock()
		return nil, ErrPlayRequestNotFound
	}

	working := r.Clone()
	if err := fn(working); err != nil {
		s.Unlock()
		return nil, err
	}
	working.ID = r.ID
	working.UpdatedAt = s.now().UTC()
	s.requests[id] = working

	result := working.Clone()
	snapshot, version := s.snapshot(), s.persister.next()
	s.Unlock()

	return result, s.persist(ctx, snapshot, version)
}

// List returns copies of every request, oldest first.
func (s *PlayRequestStore) List() []*PlayRequest {
	s.RLock()
	list := make([]*PlayRequest, 0, len(s.requests))
	for _, r := range s.requests {
		list = append(list, r.Clone())
	}
	s.RUnlock()

	slices.SortFunc(list, func(a, b *PlayRequest) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		} else if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return list
}

func (s *PlayRequestStore) Len() int {
	s.RLock()
	defer s.RUnlock()
	return len(s.requests)
}

// snapshot must be called with the lock held.
func (s *PlayRequestStore) snapshot() map[string]*PlayRequest {
	m := make(map[string]*PlayRequest, len(s.requests))
	for id, r := range s.requests {
		m[id] = r.Clone()
	}
	return m
}

func (s *PlayRequestStore) persist(ctx context.Context, snapshot map[string]*PlayRequest, version uint64) error {
	if err := s.persister.write(ctx, snapshot, version); err != nil {
		s.logger.Error("Failed to persist play requests", zap.Error(err))
		return externalIO("persist play requests", err)
	}
	return nil
}
