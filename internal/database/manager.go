package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	dbconfig "lockstep/pkg/database"
	"lockstep/pkg/types"
)

// Manager persists the session audit trail to SQLite. All writes funnel
// through a single goroutine; SQLite allows one writer at a time and the
// channel keeps write contention out of the driver. Record* methods enqueue
// and return immediately, so session transitions never wait on disk I/O.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

type writeOperation struct {
	name      string
	operation func(*sql.DB) error
}

// NewManager opens the database and starts the write loop.
func NewManager(config *dbconfig.Config) (*Manager, error) {
	db, err := sql.Open("sqlite3", config.DatabasePath+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := applySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 256),
		shutdown:     make(chan struct{}),
	}

	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// retryDelay is how long a failed write waits before its single retry.
const retryDelay = 5 * time.Second

// writeLoop processes all write operations in a single goroutine. A failed
// write is parked for one retry after a backoff; the loop keeps consuming the
// queue in the meantime so one bad write cannot stall healthy ones.
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	var retries []writeOperation
	var retryCh <-chan time.Time

	for {
		select {
		case op := <-m.writeChannel:
			if err := op.operation(m.db); err != nil {
				log.Printf("Database write failed, retrying in %s: op=%s err=%v", retryDelay, op.name, err)
				retries = append(retries, op)
				if retryCh == nil {
					retryCh = time.After(retryDelay)
				}
			}

		case <-retryCh:
			for _, op := range retries {
				if err := op.operation(m.db); err != nil {
					log.Printf("Database write failed after retry: op=%s err=%v", op.name, err)
				}
			}
			retries = nil
			retryCh = nil

		case <-m.shutdown:
			// Drain what is already queued so departures during shutdown
			// still reach the audit trail. Parked retries get their second
			// attempt here too.
			for _, op := range retries {
				if err := op.operation(m.db); err != nil {
					log.Printf("Database write failed during shutdown: op=%s err=%v", op.name, err)
				}
			}
			for {
				select {
				case op := <-m.writeChannel:
					if err := op.operation(m.db); err != nil {
						log.Printf("Database write failed during shutdown: op=%s err=%v", op.name, err)
					}
				default:
					log.Println("Database write loop shutting down")
					return
				}
			}
		}
	}
}

// queueWrite hands an operation to the write loop without waiting for the
// result. A full queue drops the write with a log line; the audit trail is
// advisory and must not stall the caller.
func (m *Manager) queueWrite(name string, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return fmt.Errorf("database manager is closed")
	}
	m.mu.RUnlock()

	select {
	case m.writeChannel <- writeOperation{name: name, operation: operation}:
		return nil
	default:
		log.Printf("Database write queue full, dropping: op=%s", name)
		return fmt.Errorf("database write queue full")
	}
}

// RecordSessionStarted inserts the audit row for a newly created session.
func (m *Manager) RecordSessionStarted(ctx context.Context, session *types.Session) error {
	id, code, startTime := session.ID, session.Code, session.StartTime
	return m.queueWrite("session_started", func(db *sql.DB) error {
		query := `
			INSERT INTO sessions (id, code, start_time, status)
			VALUES (?, ?, ?, ?)
		`
		_, err := db.Exec(query, int64(id), string(code), startTime, types.SessionStatusActive)
		if err != nil {
			return fmt.Errorf("failed to insert session: %w", err)
		}
		return nil
	})
}

// RecordSessionEnded closes the session's audit row.
func (m *Manager) RecordSessionEnded(ctx context.Context, sessionID types.SessionID) error {
	endTime := time.Now()
	return m.queueWrite("session_ended", func(db *sql.DB) error {
		query := `
			UPDATE sessions
			SET end_time = ?, status = ?
			WHERE id = ?
		`
		_, err := db.Exec(query, endTime, types.SessionStatusEnded, int64(sessionID))
		if err != nil {
			return fmt.Errorf("failed to update session: %w", err)
		}
		return nil
	})
}

// RecordDeviceJoined inserts the device's membership row.
func (m *Manager) RecordDeviceJoined(ctx context.Context, sessionID types.SessionID, device types.Device) error {
	joinedAt := time.Now()
	return m.queueWrite("device_joined", func(db *sql.DB) error {
		query := `
			INSERT INTO session_devices (session_id, device_id, name, joined_at)
			VALUES (?, ?, ?, ?)
		`
		_, err := db.Exec(query, int64(sessionID), int(device.ID), device.Name, joinedAt)
		if err != nil {
			return fmt.Errorf("failed to insert device: %w", err)
		}
		return nil
	})
}

// RecordDeviceLeft stamps the device's membership row with its departure.
func (m *Manager) RecordDeviceLeft(ctx context.Context, sessionID types.SessionID, deviceID types.DeviceID) error {
	leftAt := time.Now()
	return m.queueWrite("device_left", func(db *sql.DB) error {
		query := `
			UPDATE session_devices
			SET left_at = ?
			WHERE session_id = ? AND device_id = ?
		`
		_, err := db.Exec(query, leftAt, int64(sessionID), int(deviceID))
		if err != nil {
			return fmt.Errorf("failed to update device: %w", err)
		}
		return nil
	})
}

// ListRecentSessions returns the newest audit rows, live and ended, for the
// ops API. Reads bypass the write channel; WAL mode keeps them concurrent.
func (m *Manager) ListRecentSessions(ctx context.Context, limit int) ([]*types.SessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, code, start_time, end_time, status
		FROM sessions
		ORDER BY start_time DESC
		LIMIT ?
	`

	rows, err := m.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*types.SessionRecord

	for rows.Next() {
		var record types.SessionRecord
		var id int64
		var code string
		var endTime sql.NullTime

		err := rows.Scan(&id, &code, &record.StartTime, &endTime, &record.Status)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}

		record.ID = types.SessionID(id)
		record.Code = types.SessionCode(code)
		if endTime.Valid {
			record.EndTime = &endTime.Time
		}

		records = append(records, &record)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session rows: %w", err)
	}

	return records, nil
}

// MaxSessionID returns the highest session id the audit trail has seen, or
// zero for an empty table. The session registry seeds its counter from this
// at startup so ids stay unique across process restarts and audit rows from
// different runs can never collide.
func (m *Manager) MaxSessionID(ctx context.Context) (types.SessionID, error) {
	var max int64
	err := m.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(id), 0) FROM sessions").Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("failed to query max session id: %w", err)
	}
	return types.SessionID(max), nil
}

// HealthCheck validates database connectivity.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}

	return nil
}

// GetDB returns the underlying database connection for migrations.
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close drains pending writes and shuts the database down.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	return nil
}

// applySQLiteOptimizations applies performance pragmas.
func applySQLiteOptimizations(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}

	return nil
}
