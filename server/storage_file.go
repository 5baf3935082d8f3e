package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

var _ = Storage(&FileStorage{})

type banFile struct {
	BannedUsers []string `json:"bannedUsers"`
}

// FileStorage keeps the ban list and the request table in two JSON files.
type FileStorage struct {
	sync.Mutex
	logger      *zap.Logger
	banPath     string
	requestPath string
}

func NewFileStorage(logger *zap.Logger, banPath, requestPath string) (*FileStorage, error) {
	for _, p := range []string{banPath, requestPath} {
		if p == "" {
			return nil, errors.New("storage file path is empty")
		}
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
	}
	return &FileStorage{
		logger:      logger.With(zap.String("storage", StorageBackendFile)),
		banPath:     banPath,
		requestPath: requestPath,
	}, nil
}

func (s *FileStorage) LoadBans(ctx context.Context) ([]string, error) {
	var f banFile
	if err := s.readJSON(s.banPath, &f); err != nil {
		return nil, err
	}
	return f.BannedUsers, nil
}

func (s *FileStorage) SaveBans(ctx context.Context, userIDs []string) error {
	if userIDs == nil {
		userIDs = []string{}
	}
	return s.writeJSON(s.banPath, banFile{BannedUsers: userIDs})
}

func (s *FileStorage) LoadPlayRequests(ctx context.Context) (map[string]*PlayRequest, error) {
	requests := make(map[string]*PlayRequest)
	if err := s.readJSON(s.requestPath, &requests); err != nil {
		return nil, err
	}
	for id, r := range requests {
		if r == nil {
			delete(requests, id)
			continue
		}
		// The map key is authoritative.
		r.ID = id
	}
	return requests, nil
}

func (s *FileStorage) SavePlayRequests(ctx context.Context, requests map[string]*PlayRequest) error {
	return s.writeJSON(s.requestPath, requests)
}

func (s *FileStorage) Close() error { return nil }

// readJSON leaves v untouched when the file does not exist yet.
func (s *FileStorage) readJSON(path string, v any) error {
	s.Lock()
	defer s.Unlock()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Debug("Storage file does not exist yet", zap.String("path", path))
		return nil
	} else if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

// writeJSON writes to a temporary file in the same directory and renames it into place.
func (s *FileStorage) writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}

	s.Lock()
	defer s.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
