package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/kemerova/argus/internal/gateway"
	"github.com/kemerova/argus/internal/orchestrator"
)

// Store is everything the gateway and orchestrator persist: the response
// cache, the contribution log and the session archive.
type Store interface {
	gateway.Optimizer
	gateway.ContributionLogger
	orchestrator.Reporter
	orchestrator.SessionArchive

	GetSessionRecord(ctx context.Context, sessionID string) (SessionRecord, error)
	ListSessions(ctx context.Context, limit int) ([]SessionRecord, error)
	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

func WithLogger(l *zap.Logger) Option {
	return func(s *SQLiteStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock replaces time.Now for cache ageing.
func WithClock(now func() time.Time) Option {
	return func(s *SQLiteStore) { s.now = now }
}

// NewSQLiteStore creates a SQLite-backed store at the given path.
// Creates parent directories if needed. Enables WAL mode and a busy timeout.
func NewSQLiteStore(ctx context.Context, dbPath string, opts ...Option) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", dbPath)
	return open(ctx, connStr, opts)
}

// NewMemoryStore creates an in-memory store. Each call gets its own
// database; connections of one store share it.
func NewMemoryStore(ctx context.Context, opts ...Option) (*SQLiteStore, error) {
	connStr := fmt.Sprintf("file:argus-%s?mode=memory&cache=shared", uuid.NewString())
	return open(ctx, connStr, opts)
}

func open(ctx context.Context, connStr string, opts []Option) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// modernc.org/sqlite ignores _foreign_keys in the connection string.
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// One connection for a query, one for a statement issued while iterating it.
	db.SetMaxOpenConns(2)

	s := &SQLiteStore{db: db, logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("persistence")

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// withTimeout bounds a single statement or transaction.
func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, 5*time.Second)
}
