package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	_ "github.com/jackc/pgx/v4/stdlib"
	migrate "github.com/rubenv/sql-migrate"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

var _ = Storage(&SQLStorage{})

// SQLDialect selects the driver, migration dialect and placeholder style.
type SQLDialect string

const (
	SQLDialectSQLite   SQLDialect = "sqlite"
	SQLDialectPostgres SQLDialect = "postgres"

	sqlMigrationTable = "playbot_migrations"
	sqlTxAttempts     = 3
)

func (d SQLDialect) driverName() string {
	if d == SQLDialectPostgres {
		return "pgx"
	}
	return "sqlite"
}

func (d SQLDialect) migrateDialect() string {
	if d == SQLDialectPostgres {
		return "postgres"
	}
	return "sqlite3"
}

// rebind rewrites '?' placeholders for postgres.
func (d SQLDialect) rebind(query string) string {
	if d != SQLDialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

var sqlMigrations = &migrate.MemoryMigrationSource{
	Migrations: []*migrate.Migration{
		{
			Id: "20240601000000-play-requests",
			Up: []string{
				`CREATE TABLE IF NOT EXISTS play_bans (
					user_id VARCHAR(64) NOT NULL PRIMARY KEY
				)`,
				`CREATE TABLE IF NOT EXISTS play_requests (
					id         VARCHAR(32) NOT NULL PRIMARY KEY,
					payload    TEXT        NOT NULL,
					updated_at BIGINT      NOT NULL
				)`,
			},
			Down: []string{
				`DROP TABLE IF EXISTS play_requests`,
				`DROP TABLE IF EXISTS play_bans`,
			},
		},
	},
}

// SQLStorage persists the ban list and request table through database/sql.
type SQLStorage struct {
	logger  *zap.Logger
	dialect SQLDialect
	db      *sql.DB
}

func NewSQLStorage(ctx context.Context, logger *zap.Logger, dialect SQLDialect, dsn string) (*SQLStorage, error) {
	if dsn == "" {
		return nil, errors.New("database address is empty")
	}

	db, err := sql.Open(dialect.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dialect == SQLDialectSQLite {
		// SQLite allows a single writer.
		db.SetMaxOpenConns(1)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrate.SetTable(sqlMigrationTable)
	n, err := migrate.Exec(db, dialect.migrateDialect(), sqlMigrations, migrate.Up)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	logger = logger.With(zap.String("storage", string(dialect)))
	logger.Info("Database ready", zap.Int("migrations_applied", n))

	return &SQLStorage{
		logger:  logger,
		dialect: dialect,
		db:      db,
	}, nil
}

func (s *SQLStorage) LoadBans(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT user_id FROM play_bans ORDER BY user_id")
	if err != nil {
		return nil, fmt.Errorf("failed to query bans: %w", err)
	}
	defer rows.Close()

	userIDs := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan ban: %w", err)
		}
		userIDs = append(userIDs, id)
	}
	return userIDs, rows.Err()
}

func (s *SQLStorage) SaveBans(ctx context.Context, userIDs []string) error {
	return s.replaceAll(ctx, "play_bans", func(tx *sql.Tx) error {
		for _, id := range userIDs {
			if _, err := tx.ExecContext(ctx, s.dialect.rebind("INSERT INTO play_bans (user_id) VALUES (?)"), id); err != nil {
				return fmt.Errorf("failed to insert ban: %w", err)
			}
		}
		return nil
	})
}

func (s *SQLStorage) LoadPlayRequests(ctx context.Context) (map[string]*PlayRequest, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, payload FROM play_requests")
	if err != nil {
		return nil, fmt.Errorf("failed to query play requests: %w", err)
	}
	defer rows.Close()

	requests := make(map[string]*PlayRequest)
	for rows.Next() {
		var id, payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan play request: %w", err)
		}
		r := &PlayRequest{}
		if err := json.Unmarshal([]byte(payload), r); err != nil {
			s.logger.Warn("Skipping unreadable play request", zap.String("id", id), zap.Error(err))
			continue
		}
		r.ID = id
		requests[id] = r
	}
	return requests, rows.Err()
}

func (s *SQLStorage) SavePlayRequests(ctx context.Context, requests map[string]*PlayRequest) error {
	return s.replaceAll(ctx, "play_requests", func(tx *sql.Tx) error {
		query := s.dialect.rebind("INSERT INTO play_requests (id, payload, updated_at) VALUES (?, ?, ?)")
		for id, r := range requests {
			payload, err := json.Marshal(r)
			if err != nil {
				return fmt.Errorf("failed to marshal play request %s: %w", id, err)
			}
			if _, err := tx.ExecContext(ctx, query, id, string(payload), r.UpdatedAt.UnixMilli()); err != nil {
				return fmt.Errorf("failed to insert play request: %w", err)
			}
		}
		return nil
	})
}

func (s *SQLStorage) Close() error {
	return s.db.Close()
}

// replaceAll clears table and refills it inside one transaction, retrying
// transactions postgres aborted because of concurrent writers.
func (s *SQLStorage) replaceAll(ctx context.Context, table string, fill func(tx *sql.Tx) error) error {
	var err error
	for attempt := 1; attempt <= sqlTxAttempts; attempt++ {
		if err = s.replaceAllOnce(ctx, table, fill); err == nil || !isRetryableTxError(err) {
			break
		}
		s.logger.Debug("Retrying transaction", zap.String("table", table), zap.Int("attempt", attempt), zap.Error(err))
	}
	if err != nil {
		s.logWriteError(table, err)
	}
	return err
}

func (s *SQLStorage) replaceAllOnce(ctx context.Context, table string, fill func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to clear %s: %w", table, err)
	}
	if err := fill(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit %s: %w", table, err)
	}
	return nil
}

func (s *SQLStorage) logWriteError(table string, err error) {
	fields := []zap.Field{zap.String("table", table), zap.Error(err)}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		fields = append(fields, zap.String("sqlstate", pgErr.Code), zap.Bool("connection", pgerrcode.IsConnectionException(pgErr.Code)))
	}
	s.logger.Error("Database write failed", fields...)
}

func isRetryableTxError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
}
