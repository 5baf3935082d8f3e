package server

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// BanStorage persists the full ban set.
type BanStorage interface {
	LoadBans(ctx context.Context) ([]string, error)
	SaveBans(ctx context.Context, userIDs []string) error
}

// PlayRequestStorage persists the full request table.
type PlayRequestStorage interface {
	LoadPlayRequests(ctx context.Context) (map[string]*PlayRequest, error)
	SavePlayRequests(ctx context.Context, requests map[string]*PlayRequest) error
}

// Storage is a durable backend for both the ban list and the request table.
type Storage interface {
	BanStorage
	PlayRequestStorage
	Close() error
}

const (
	StorageBackendFile     = "file"
	StorageBackendSQLite   = "sqlite"
	StorageBackendPostgres = "postgres"
)

// OpenStorage opens the backend selected in the config.
func OpenStorage(ctx context.Context, logger *zap.Logger, config *StorageConfig) (Storage, error) {
	switch config.Backend {
	case "", StorageBackendFile:
		return NewFileStorage(logger, config.BanFile, config.PlayRequestFile)
	case StorageBackendSQLite:
		return NewSQLStorage(ctx, logger, SQLDialectSQLite, config.SQLitePath)
	case StorageBackendPostgres:
		return NewSQLStorage(ctx, logger, SQLDialectPostgres, config.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", config.Backend)
	}
}
