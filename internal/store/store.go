package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"classpulse/pkg/interfaces"
	"classpulse/pkg/types"
)

// Options tunes the store's connection pool and write-retry policy.
type Options struct {
	Path            string
	MaxConnections  int
	ConnMaxLifetime time.Duration
	RetryAttempts   int
	RetryBackoff    time.Duration
	SubscriberBuf   int
}

// DefaultOptions returns the policy used in production: three attempts
// with 100ms doubling backoff before a write is surfaced as failed.
func DefaultOptions(path string) Options {
	return Options{
		Path:            path,
		MaxConnections:  10,
		ConnMaxLifetime: 30 * time.Second,
		RetryAttempts:   3,
		RetryBackoff:    100 * time.Millisecond,
		SubscriberBuf:   256,
	}
}

// Store is the append-only event record backed by SQLite. All writes go
// through a single goroutine; SQLite performs poorly under concurrent
// writers and the single writer also gives subscribers a total append
// order. Reads run concurrently on the pool.
type Store struct {
	db   *sql.DB
	opts Options

	writeCh  chan writeOp
	shutdown chan struct{}
	wg       sync.WaitGroup

	subMu  sync.Mutex
	subs   map[int]chan types.Event
	nextID int

	mu     sync.RWMutex
	closed bool
}

type writeOp struct {
	operation func(*sql.DB) error
	publish   *types.Event // delivered to subscribers after a successful write
	result    chan error
}

var _ interfaces.EventStore = (*Store)(nil)

// Open opens the database, applies migrations, and starts the writer.
func Open(opts Options) (*Store, error) {
	db, err := sql.Open("sqlite3", opts.Path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(opts.MaxConnections)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	db.SetConnMaxIdleTime(opts.ConnMaxLifetime / 3)

	if err := applyPragmas(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applyMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	s := &Store{
		db:       db,
		opts:     opts,
		writeCh:  make(chan writeOp, 100),
		shutdown: make(chan struct{}),
		subs:     make(map[int]chan types.Event),
	}

	s.wg.Add(1)
	go s.writeLoop()

	return s, nil
}

// writeLoop processes all writes in order, retrying each with bounded
// backoff before reporting failure.
func (s *Store) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case op := <-s.writeCh:
			err := s.attemptWrite(op.operation)
			if err == nil && op.publish != nil {
				s.deliver(*op.publish)
			}
			op.result <- err

		case <-s.shutdown:
			return
		}
	}
}

func (s *Store) attemptWrite(operation func(*sql.DB) error) error {
	var err error
	backoff := s.opts.RetryBackoff
	for attempt := 1; attempt <= s.opts.RetryAttempts; attempt++ {
		err = operation(s.db)
		if err == nil {
			return nil
		}
		if attempt < s.opts.RetryAttempts {
			log.Printf("store: write failed (attempt %d/%d), retrying in %s: %v",
				attempt, s.opts.RetryAttempts, backoff, err)
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	return fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
}

// executeWrite queues a write and waits for its outcome. The context
// bounds the wait so callers never block indefinitely on a wedged store.
func (s *Store) executeWrite(ctx context.Context, op writeOp) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return interfaces.ErrStoreUnavailable
	}
	s.mu.RUnlock()

	op.result = make(chan error, 1)

	select {
	case s.writeCh <- op:
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, ctx.Err())
	case <-s.shutdown:
		return interfaces.ErrStoreUnavailable
	}

	select {
	case err := <-op.result:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, ctx.Err())
	}
}

// AppendEvent assigns a server-side ID and timestamp, then appends. The
// client-supplied ID, if any, is ignored: the server controls identity
// and ordering.
func (s *Store) AppendEvent(ctx context.Context, event *types.Event) error {
	event.ID = uuid.New().String()
	event.CreatedAt = time.Now().UTC()

	metadataJSON, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal event metadata: %w", err)
	}

	ev := *event
	return s.executeWrite(ctx, writeOp{
		publish: &ev,
		operation: func(db *sql.DB) error {
			_, err := db.ExecContext(ctx, `
				INSERT INTO events (id, user_id, event_type, metadata, created_at)
				VALUES (?, ?, ?, ?, ?)
			`, ev.ID, ev.UserID, ev.EventType, string(metadataJSON), ev.CreatedAt)
			return err
		},
	})
}

// QueryEvents returns at most limit events matching the filter, newest
// first.
func (s *Store) QueryEvents(ctx context.Context, filter interfaces.EventFilter, limit int) ([]types.Event, error) {
	query := `
		SELECT id, user_id, event_type, metadata, created_at
		FROM events
		WHERE (? = '' OR user_id = ?) AND (? = '' OR event_type = ?)
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query,
		filter.UserID, filter.UserID, filter.EventType, filter.EventType, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []types.Event
	for rows.Next() {
		var ev types.Event
		var metadataJSON string
		if err := rows.Scan(&ev.ID, &ev.UserID, &ev.EventType, &metadataJSON, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		if err := json.Unmarshal([]byte(metadataJSON), &ev.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event metadata: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Subscribe registers a feed of events published after each successful
// append. Cancel is idempotent and releases the subscription.
func (s *Store) Subscribe() (<-chan types.Event, func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	id := s.nextID
	s.nextID++
	ch := make(chan types.Event, s.opts.SubscriberBuf)
	s.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.subMu.Lock()
			defer s.subMu.Unlock()
			if sub, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(sub)
			}
		})
	}
	return ch, cancel
}

// deliver fans an event out to subscribers. A full subscriber loses this
// event (drop-newest for that subscriber); the writer never blocks.
func (s *Store) deliver(ev types.Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for id, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			log.Printf("store: subscriber %d full, dropping event %s", id, ev.ID)
		}
	}
}

// AppendAlert persists an engine-produced alert.
func (s *Store) AppendAlert(ctx context.Context, alert types.Alert) error {
	return s.executeWrite(ctx, writeOp{
		operation: func(db *sql.DB) error {
			_, err := db.ExecContext(ctx, `
				INSERT INTO alerts (id, alert_type, message, user_id, created_at)
				VALUES (?, ?, ?, ?, ?)
			`, uuid.New().String(), alert.AlertType, alert.Message, alert.SubjectUserID, alert.CreatedAt)
			return err
		},
	})
}

// QueryAlerts returns at most limit alerts, newest first.
func (s *Store) QueryAlerts(ctx context.Context, limit int) ([]types.Alert, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT alert_type, message, user_id, created_at
		FROM alerts
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var alerts []types.Alert
	for rows.Next() {
		var a types.Alert
		if err := rows.Scan(&a.AlertType, &a.Message, &a.SubjectUserID, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan alert row: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// UpsertUser inserts or refreshes a directory row. The derived ID is the
// conflict key, so repeated logins with the same email are idempotent.
func (s *Store) UpsertUser(ctx context.Context, user types.User) error {
	return s.executeWrite(ctx, writeOp{
		operation: func(db *sql.DB) error {
			_, err := db.ExecContext(ctx, `
				INSERT INTO users (id, email, role)
				VALUES (?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET email = excluded.email, role = excluded.role
			`, user.ID, user.Email, string(user.Role))
			return err
		},
	})
}

// GetUserByEmail resolves a directory row.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*types.User, error) {
	var user types.User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, role FROM users WHERE email = ?
	`, email).Scan(&user.ID, &user.Email, &user.Role)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, interfaces.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &user, nil
}

// ListUsersByRole returns all directory rows with the given role.
func (s *Store) ListUsersByRole(ctx context.Context, role types.Role) ([]types.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, email, role FROM users WHERE role = ? ORDER BY email
	`, string(role))
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []types.User
	for rows.Next() {
		var u types.User
		if err := rows.Scan(&u.ID, &u.Email, &u.Role); err != nil {
			return nil, fmt.Errorf("failed to scan user row: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// HealthCheck validates connectivity and a basic read.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	if _, err := s.db.QueryContext(ctx, "SELECT COUNT(*) FROM events LIMIT 1"); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// Close drains the writer and closes the database and all subscriptions.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.shutdown)
	s.wg.Wait()

	s.subMu.Lock()
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	s.subMu.Unlock()

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}
	return nil
}
