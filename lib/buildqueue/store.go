// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package buildqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/kfatehi/github-webhook-jenkins-proxy/lib/clock"
	"github.com/kfatehi/github-webhook-jenkins-proxy/lib/codec"
	"github.com/kfatehi/github-webhook-jenkins-proxy/lib/sqlitepool"
)

var (
	// ErrTaskInFlight is returned by Next while a previously returned
	// task has been neither completed nor requeued.
	ErrTaskInFlight = errors.New("a task is already in flight")

	// ErrNoCurrentTask is returned by Complete and Requeue when Next
	// has not handed out a task.
	ErrNoCurrentTask = errors.New("no task in flight")

	// ErrTaskMismatch is returned by Requeue when the replacement is
	// not a version of the current task.
	ErrTaskMismatch = errors.New("requeued task does not match the task in flight")

	// ErrReadOnly is returned by mutating operations on a database
	// opened with ReadOnly.
	ErrReadOnly = errors.New("task database opened read-only")
)

// migrations build the tasks table. Each entry runs once, tracked by
// the database's user_version.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS tasks (
		seq           INTEGER PRIMARY KEY AUTOINCREMENT,
		queue         TEXT    NOT NULL,
		not_before    INTEGER NOT NULL,
		record        BLOB    NOT NULL,
		payload       BLOB,
		payload_codec INTEGER NOT NULL DEFAULT 0,
		payload_size  INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS tasks_queue_seq ON tasks (queue, seq);`,
}

const selectColumns = `seq, queue, not_before, record, payload, payload_codec, payload_size`

// DatabaseConfig holds the parameters for opening the task database.
type DatabaseConfig struct {
	// Path is the SQLite file. A sibling "<Path>.lock" file guards
	// against a second process. Required.
	Path string

	// Compression is applied to webhook payloads on write. Rows
	// written with another setting remain readable.
	Compression Compression

	// ReadOnly skips the process lock and rejects writes, for
	// inspecting the queue while the daemon is running.
	ReadOnly bool

	// Clock defaults to clock.Real().
	Clock clock.Clock

	// Logger defaults to a discard logger.
	Logger *slog.Logger
}

// Database is the SQLite file holding every queue's tasks. Each queue
// is served by its own Store, obtained from Queue.
type Database struct {
	pool        *sqlitepool.Pool
	lock        *fileLock
	compression Compression
	readOnly    bool
	clock       clock.Clock
	logger      *slog.Logger

	mu     sync.Mutex
	stores map[string]*Store
}

// Entry is a stored task together with its position and eligibility.
type Entry struct {
	Seq       int64
	Queue     string
	NotBefore time.Time
	Task      Task
}

// OpenDatabase opens or creates the task database. Unless ReadOnly is
// set, it takes the process lock and makes every stored task eligible
// immediately, so tasks left over from a previous run are processed
// again without waiting out their old delays.
func OpenDatabase(cfg DatabaseConfig) (*Database, error) {
	if cfg.Path == "" {
		return nil, errors.New("task database: Path is required")
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var lock *fileLock
	if !cfg.ReadOnly {
		var err error
		lock, err = acquireLock(cfg.Path + ".lock")
		if err != nil {
			return nil, fmt.Errorf("task database: %w", err)
		}
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:       cfg.Path,
		PoolSize:   4,
		Migrations: migrations,
		Logger:     logger,
	})
	if err != nil {
		lock.release()
		return nil, fmt.Errorf("task database: %w", err)
	}

	database := &Database{
		pool:        pool,
		lock:        lock,
		compression: cfg.Compression,
		readOnly:    cfg.ReadOnly,
		clock:       clk,
		logger:      logger,
		stores:      make(map[string]*Store),
	}

	if !cfg.ReadOnly {
		leftover, err := database.resetEligibility(context.Background())
		if err != nil {
			database.Close()
			return nil, fmt.Errorf("task database: %w", err)
		}
		if leftover > 0 {
			logger.Info("resuming tasks from previous run", "count", leftover)
		}
	}
	return database, nil
}

func (database *Database) resetEligibility(ctx context.Context) (int, error) {
	var count int
	err := database.pool.Write(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn, "UPDATE tasks SET not_before = 0", nil); err != nil {
			return err
		}
		count = conn.Changes()
		return nil
	})
	return count, err
}

// Queue returns the Store for name, creating it on first use. Calls
// with the same name return the same Store.
func (database *Database) Queue(name string) *Store {
	database.mu.Lock()
	defer database.mu.Unlock()
	if store, ok := database.stores[name]; ok {
		return store
	}
	store := &Store{
		database: database,
		queue:    name,
		logger:   database.logger.With("queue", name),
		wake:     make(chan struct{}, 1),
	}
	database.stores[name] = store
	return store
}

// List returns every stored task across all queues in insertion order.
func (database *Database) List(ctx context.Context) ([]Entry, error) {
	return database.list(ctx, `SELECT `+selectColumns+` FROM tasks ORDER BY seq`)
}

func (database *Database) list(ctx context.Context, query string, args ...any) ([]Entry, error) {
	var entries []Entry
	err := database.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
			Args: args,
			ResultFunc: func(stmt *sqlite.Stmt) error {
				entry, err := scanEntry(stmt)
				if err != nil {
					return err
				}
				entries = append(entries, entry)
				return nil
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	return entries, nil
}

// QueueLengths returns the number of stored tasks per queue.
func (database *Database) QueueLengths(ctx context.Context) (map[string]int, error) {
	lengths := make(map[string]int)
	err := database.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT queue, COUNT(*) FROM tasks GROUP BY queue", &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				lengths[stmt.ColumnText(0)] = stmt.ColumnInt(1)
				return nil
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("counting tasks: %w", err)
	}
	return lengths, nil
}

// Close closes the database and releases the process lock.
func (database *Database) Close() error {
	err := database.pool.Close()
	if lockErr := database.lock.release(); lockErr != nil && err == nil {
		err = lockErr
	}
	return err
}

// encodeRow renders the columns written for task.
func (database *Database) encodeRow(task Task) (record, payload []byte, payloadCodec Compression, err error) {
	record, err = codec.Marshal(task)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("encoding task: %w", err)
	}
	payload, payloadCodec, err = compressPayload(task.SourcePayload, database.compression)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("compressing payload: %w", err)
	}
	return record, payload, payloadCodec, nil
}

func (database *Database) insert(conn *sqlite.Conn, queue string, task Task, notBefore time.Time) (int64, error) {
	record, payload, payloadCodec, err := database.encodeRow(task)
	if err != nil {
		return 0, err
	}
	err = sqlitex.Execute(conn,
		`INSERT INTO tasks (queue, not_before, record, payload, payload_codec, payload_size)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{queue, notBefore.UnixNano(), record, payload, int64(payloadCodec), len(task.SourcePayload)},
		})
	if err != nil {
		return 0, fmt.Errorf("inserting task: %w", err)
	}
	return conn.LastInsertRowID(), nil
}

func scanEntry(stmt *sqlite.Stmt) (Entry, error) {
	entry := Entry{
		Seq:   stmt.ColumnInt64(0),
		Queue: stmt.ColumnText(1),
	}
	if notBefore := stmt.ColumnInt64(2); notBefore > 0 {
		entry.NotBefore = time.Unix(0, notBefore)
	}

	record := make([]byte, stmt.ColumnLen(3))
	stmt.ColumnBytes(3, record)
	if err := codec.Unmarshal(record, &entry.Task); err != nil {
		return entry, &corruptRowError{seq: entry.Seq, err: fmt.Errorf("decoding record: %w", err)}
	}

	payloadSize := stmt.ColumnInt(6)
	if payloadSize > 0 {
		stored := make([]byte, stmt.ColumnLen(4))
		stmt.ColumnBytes(4, stored)
		payload, err := decompressPayload(stored, Compression(stmt.ColumnInt(5)), payloadSize)
		if err != nil {
			return entry, &corruptRowError{seq: entry.Seq, err: err}
		}
		entry.Task.SourcePayload = payload
	}
	return entry, nil
}

type corruptRowError struct {
	seq int64
	err error
}

func (err *corruptRowError) Error() string {
	return fmt.Sprintf("task row %d: %v", err.seq, err.err)
}

func (err *corruptRowError) Unwrap() error { return err.err }

// Store is one durable FIFO queue of tasks. At most one task is in
// flight at a time: Next hands a task out, and the caller must finish
// it with exactly one Complete or Requeue before the next call to
// Next returns another.
type Store struct {
	database *Database
	queue    string
	logger   *slog.Logger

	// wake is signalled when a task is inserted so a waiting Next
	// re-examines the table.
	wake chan struct{}

	mu      sync.Mutex
	claimed bool
	current *Entry
}

// Name returns the queue name.
func (store *Store) Name() string {
	return store.queue
}

// Enqueue persists task at the tail of the queue, eligible
// immediately. An empty ID is replaced with a new UUID.
func (store *Store) Enqueue(ctx context.Context, task Task) error {
	if store.database.readOnly {
		return ErrReadOnly
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if err := task.Validate(); err != nil {
		return err
	}

	var seq int64
	err := store.database.pool.Write(ctx, func(conn *sqlite.Conn) error {
		var err error
		seq, err = store.database.insert(conn, store.queue, task, store.database.clock.Now())
		return err
	})
	if err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	store.logger.Debug("task enqueued", "task", task.ID, "seq", seq, "project", task.ExecutorProjectName)
	store.signal()
	return nil
}

// Next blocks until a task is eligible, marks it in flight and returns
// a copy. Eligible tasks are served in insertion order.
func (store *Store) Next(ctx context.Context) (Task, error) {
	if store.database.readOnly {
		return Task{}, ErrReadOnly
	}
	store.mu.Lock()
	if store.claimed {
		store.mu.Unlock()
		return Task{}, ErrTaskInFlight
	}
	store.claimed = true
	store.mu.Unlock()

	for {
		entry, earliest, err := store.peek(ctx)
		if err != nil {
			store.unclaim()
			return Task{}, err
		}
		if entry != nil {
			store.mu.Lock()
			store.current = entry
			store.mu.Unlock()
			return entry.Task.clone(), nil
		}

		var timer *clock.Timer
		var fired <-chan time.Time
		if !earliest.IsZero() {
			timer = clock.TimerAt(store.database.clock, earliest)
			fired = timer.C
		}
		select {
		case <-store.wake:
		case <-fired:
		case <-ctx.Done():
		}
		if timer != nil {
			timer.Stop()
		}
		if ctx.Err() != nil {
			store.unclaim()
			return Task{}, ctx.Err()
		}
	}
}

// peek returns the first eligible entry, or nil and the earliest
// future eligibility time (zero when the queue is empty). Rows that
// cannot be decoded are logged and deleted.
func (store *Store) peek(ctx context.Context) (*Entry, time.Time, error) {
	for {
		now := store.database.clock.Now()
		var found *Entry
		var earliest time.Time
		var corrupt *corruptRowError

		err := store.database.pool.Read(ctx, func(conn *sqlite.Conn) error {
			err := sqlitex.Execute(conn,
				`SELECT `+selectColumns+` FROM tasks
				 WHERE queue = ? AND not_before <= ?
				 ORDER BY seq LIMIT 1`,
				&sqlitex.ExecOptions{
					Args: []any{store.queue, now.UnixNano()},
					ResultFunc: func(stmt *sqlite.Stmt) error {
						entry, err := scanEntry(stmt)
						if err != nil {
							return err
						}
						found = &entry
						return nil
					},
				})
			if err != nil || found != nil {
				return err
			}
			return sqlitex.Execute(conn,
				`SELECT MIN(not_before) FROM tasks WHERE queue = ?`,
				&sqlitex.ExecOptions{
					Args: []any{store.queue},
					ResultFunc: func(stmt *sqlite.Stmt) error {
						if !stmt.ColumnIsNull(0) {
							earliest = time.Unix(0, stmt.ColumnInt64(0))
						}
						return nil
					},
				})
		})
		if errors.As(err, &corrupt) {
			store.logger.Error("discarding unreadable task", "seq", corrupt.seq, "error", corrupt.err)
			if err := store.deleteRow(ctx, corrupt.seq); err != nil {
				return nil, time.Time{}, err
			}
			continue
		}
		if err != nil {
			return nil, time.Time{}, fmt.Errorf("next: %w", err)
		}
		return found, earliest, nil
	}
}

// Complete permanently removes the task in flight.
func (store *Store) Complete(ctx context.Context) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.current == nil {
		return ErrNoCurrentTask
	}
	if err := store.deleteRow(ctx, store.current.Seq); err != nil {
		return fmt.Errorf("complete: %w", err)
	}
	store.logger.Debug("task completed", "task", store.current.Task.ID, "seq", store.current.Seq)
	store.current = nil
	store.claimed = false
	return nil
}

// Requeue replaces the task in flight with task, placed at the tail of
// the queue and eligible once delay has elapsed. The replacement must
// carry the same ID, commit and project as the task in flight. Its
// attempt counter is advanced. The delete and insert commit together.
func (store *Store) Requeue(ctx context.Context, task Task, delay time.Duration) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.current == nil {
		return ErrNoCurrentTask
	}
	previous := store.current.Task
	if task.ID != previous.ID || task.CommitSHA != previous.CommitSHA ||
		task.ExecutorProjectName != previous.ExecutorProjectName || task.Repository != previous.Repository {
		return ErrTaskMismatch
	}
	if previous.ExecutorBuildID != nil && task.ExecutorBuildID == nil {
		return fmt.Errorf("%w: build id dropped", ErrTaskMismatch)
	}
	task.Attempt = previous.Attempt + 1
	if err := task.Validate(); err != nil {
		return err
	}

	notBefore := store.database.clock.Now().Add(delay)
	var seq int64
	err := store.database.pool.Write(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn, "DELETE FROM tasks WHERE seq = ?", &sqlitex.ExecOptions{
			Args: []any{store.current.Seq},
		}); err != nil {
			return fmt.Errorf("deleting task: %w", err)
		}
		var err error
		seq, err = store.database.insert(conn, store.queue, task, notBefore)
		return err
	})
	if err != nil {
		return fmt.Errorf("requeue: %w", err)
	}
	store.logger.Debug("task requeued",
		"task", task.ID,
		"seq", seq,
		"delay", delay,
		"attempt", task.Attempt,
	)
	store.current = nil
	store.claimed = false
	store.signal()
	return nil
}

// Release gives up the task in flight without touching its row, so a
// later Next serves it again. It is for a caller that could neither
// complete nor requeue the task and must not race a blocked Next.
func (store *Store) Release() error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.current == nil {
		return ErrNoCurrentTask
	}
	store.logger.Warn("task released without completion", "task", store.current.Task.ID, "seq", store.current.Seq)
	store.current = nil
	store.claimed = false
	store.signal()
	return nil
}

// Len returns the number of stored tasks in this queue, including the
// one in flight.
func (store *Store) Len(ctx context.Context) (int, error) {
	var count int
	err := store.database.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT COUNT(*) FROM tasks WHERE queue = ?", &sqlitex.ExecOptions{
			Args: []any{store.queue},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				count = stmt.ColumnInt(0)
				return nil
			},
		})
	})
	if err != nil {
		return 0, fmt.Errorf("counting tasks: %w", err)
	}
	return count, nil
}

// List returns this queue's tasks ordered by when they become
// eligible, then by insertion order.
func (store *Store) List(ctx context.Context) ([]Entry, error) {
	entries, err := store.database.list(ctx,
		`SELECT `+selectColumns+` FROM tasks WHERE queue = ? ORDER BY seq`, store.queue)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].NotBefore.Before(entries[j].NotBefore)
	})
	return entries, nil
}

func (store *Store) deleteRow(ctx context.Context, seq int64) error {
	return store.database.pool.Write(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "DELETE FROM tasks WHERE seq = ?", &sqlitex.ExecOptions{
			Args: []any{seq},
		})
	})
}

func (store *Store) unclaim() {
	store.mu.Lock()
	store.claimed = false
	store.mu.Unlock()
}

func (store *Store) signal() {
	select {
	case store.wake <- struct{}{}:
	default:
	}
}
