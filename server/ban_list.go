package server

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// BanList is the set of users who may not submit play requests.
type BanList struct {
	sync.RWMutex
	logger  *zap.Logger
	storage BanStorage
	banned  UserSet

	persister snapshotPersister[[]string]
}

// NewBanList loads the persisted ban set.
func NewBanList(ctx context.Context, logger *zap.Logger, storage BanStorage) (*BanList, error) {
	userIDs, err := storage.LoadBans(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load bans: %w", err)
	}

	b := &BanList{
		logger:  logger.With(zap.String("system", "ban_list")),
		storage: storage,
		banned:  NewUserSet(userIDs...),
	}
	b.persister.save = storage.SaveBans
	b.logger.Info("Ban list loaded", zap.Int("count", len(b.banned)))
	return b, nil
}

func (b *BanList) IsBanned(userID string) bool {
	b.RLock()
	defer b.RUnlock()
	return b.banned.Has(userID)
}

// Ban adds userID. An already banned user yields ErrAlreadyBanned and no write.
func (b *BanList) Ban(ctx context.Context, userID string) error {
	b.Lock()
	if b.banned.Has(userID) {
		b.Unlock()
		return ErrAlreadyBanned
	}
	b.banned.Add(userID)
	snapshot, version := b.banned.Sorted(), b.persister.next()
	b.Unlock()

	return b.persist(ctx, snapshot, version)
}

// Unban removes userID. A user who is not banned yields ErrNotBanned and no write.
func (b *BanList) Unban(ctx context.Context, userID string) error {
	b.Lock()
	if !b.banned.Has(userID) {
		b.Unlock()
		return ErrNotBanned
	}
	b.banned.Remove(userID)
	snapshot, version := b.banned.Sorted(), b.persister.next()
	b.Unlock()

	return b.persist(ctx, snapshot, version)
}

// List returns the banned user IDs in sorted order.
func (b *BanList) List() []string {
	b.RLock()
	defer b.RUnlock()
	return b.banned.Sorted()
}

func (b *BanList) Len() int {
	b.RLock()
	defer b.RUnlock()
	return len(b.banned)
}

func (b *BanList) persist(ctx context.Context, snapshot []string, version uint64) error {
	if err := b.persister.write(ctx, snapshot, version); err != nil {
		// The in-memory change is kept.
		b.logger.Error("Failed to persist ban list", zap.Error(err))
		return externalIO("persist ban list", err)
	}
	return nil
}

// snapshotPersister serializes snapshot writes so an older snapshot never replaces a newer one.
type snapshotPersister[T any] struct {
	mu      sync.Mutex
	version uint64 // guarded by the owner's lock
	written uint64 // guarded by mu
	save    func(ctx context.Context, snapshot T) error
}

// next must be called with the owner's lock held.
func (p *snapshotPersister[T]) next() uint64 {
	p.version++
	return p.version
}

func (p *snapshotPersister[T]) write(ctx context.Context, snapshot T, version uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if version <= p.written {
		return nil
	}
	if err := p.save(ctx, snapshot); err != nil {
		return err
	}
	p.written = version
	return nil
}
