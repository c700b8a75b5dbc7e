package recorder

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/dgnsrekt/telemetry-relay/internal/state"
)

// Entry is one accepted report as stored in the flight log.
type Entry struct {
	Source     string          `json:"source"`
	Telemetry  state.Telemetry `json:"telemetry"`
	Armed      bool            `json:"armed"`
	Mode       string          `json:"mode"`
	ReceivedAt time.Time       `json:"receivedAt"`
}

// Rejection is a payload that failed validation.
type Rejection struct {
	Source    string    `json:"source"`
	Payload   string    `json:"payload"`
	Error     string    `json:"error"`
	CreatedAt time.Time `json:"createdAt"`
}

type record struct {
	entry     *Entry
	rejection *Rejection
}

// Recorder is an append-only SQLite flight log. Writes are queued and
// applied by a single worker so ingestion never waits on disk.
type Recorder struct {
	db     *sql.DB
	queue  chan record
	done   chan struct{}
	mu     sync.RWMutex
	closed bool
	logger *zap.Logger
}

// Open initializes the database, creating directories as needed, and starts
// the write worker.
func Open(ctx context.Context, path string, queueSize int, logger *zap.Logger) (*Recorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(5 * time.Minute)

	r := &Recorder{
		db:     db,
		queue:  make(chan record, queueSize),
		done:   make(chan struct{}),
		logger: logger,
	}
	if err := r.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	go r.run()
	return r, nil
}

func (r *Recorder) initSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS telemetry_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source TEXT NOT NULL,
			lat REAL NOT NULL,
			lon REAL NOT NULL,
			alt REAL NOT NULL,
			pitch REAL NOT NULL,
			roll REAL NOT NULL,
			yaw REAL NOT NULL,
			battery REAL NOT NULL,
			satellites INTEGER NOT NULL,
			armed INTEGER NOT NULL,
			mode TEXT NOT NULL,
			captured_at INTEGER NOT NULL,
			received_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		);`,
		`CREATE INDEX IF NOT EXISTS idx_telemetry_log_captured ON telemetry_log(captured_at);`,
		`CREATE TABLE IF NOT EXISTS ingestion_errors (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source TEXT,
			payload TEXT,
			error TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		);`,
	}

	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// RecordTelemetry queues an accepted report. Drops the record if the queue is full.
func (r *Recorder) RecordTelemetry(source string, t state.Telemetry, s state.Status) {
	r.enqueue(record{entry: &Entry{
		Source:    source,
		Telemetry: t,
		Armed:     s.Armed,
		Mode:      s.Mode,
	}})
}

// RecordRejection queues a rejected payload.
func (r *Recorder) RecordRejection(source string, payload []byte, err error) {
	r.enqueue(record{rejection: &Rejection{
		Source:  source,
		Payload: string(payload),
		Error:   err.Error(),
	}})
}

func (r *Recorder) enqueue(rec record) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- rec:
	default:
		r.logger.Warn("flight recorder queue full, dropping record")
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for rec := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		var err error
		if rec.entry != nil {
			err = r.insertTelemetry(ctx, rec.entry)
		} else {
			err = r.insertRejection(ctx, rec.rejection)
		}
		cancel()
		if err != nil {
			r.logger.Error("flight recorder write failed", zap.Error(err))
		}
	}
}

func (r *Recorder) insertTelemetry(ctx context.Context, e *Entry) error {
	t := e.Telemetry
	_, err := r.db.ExecContext(
		ctx,
		`INSERT INTO telemetry_log (source, lat, lon, alt, pitch, roll, yaw, battery, satellites, armed, mode, captured_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		e.Source, t.Lat, t.Lon, t.Alt, t.Pitch, t.Roll, t.Yaw, t.Battery, t.Satellites, e.Armed, e.Mode, t.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert telemetry: %w", err)
	}
	return nil
}

func (r *Recorder) insertRejection(ctx context.Context, rj *Rejection) error {
	_, err := r.db.ExecContext(
		ctx,
		`INSERT INTO ingestion_errors (source, payload, error) VALUES (?, ?, ?);`,
		rj.Source, rj.Payload, rj.Error,
	)
	if err != nil {
		return fmt.Errorf("insert ingestion error: %w", err)
	}
	return nil
}

// RecentTelemetry returns the newest entries first.
func (r *Recorder) RecentTelemetry(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT source, lat, lon, alt, pitch, roll, yaw, battery, satellites, armed, mode, captured_at, received_at
		 FROM telemetry_log ORDER BY id DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, fmt.Errorf("query telemetry: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e          Entry
			receivedAt string
		)
		t := &e.Telemetry
		if err := rows.Scan(&e.Source, &t.Lat, &t.Lon, &t.Alt, &t.Pitch, &t.Roll, &t.Yaw,
			&t.Battery, &t.Satellites, &e.Armed, &e.Mode, &t.Timestamp, &receivedAt); err != nil {
			return nil, fmt.Errorf("scan telemetry: %w", err)
		}
		e.ReceivedAt, _ = time.Parse(time.RFC3339Nano, receivedAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// RecentRejections returns the newest rejected payloads first.
func (r *Recorder) RecentRejections(ctx context.Context, limit int) ([]Rejection, error) {
	if limit <= 0 {
		limit = 25
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT source, payload, error, created_at FROM ingestion_errors ORDER BY id DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, fmt.Errorf("query ingestion errors: %w", err)
	}
	defer rows.Close()

	out := []Rejection{}
	for rows.Next() {
		var (
			rj        Rejection
			source    sql.NullString
			payload   sql.NullString
			createdAt string
		)
		if err := rows.Scan(&source, &payload, &rj.Error, &createdAt); err != nil {
			return nil, fmt.Errorf("scan ingestion error: %w", err)
		}
		rj.Source = source.String
		rj.Payload = payload.String
		rj.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, rj)
	}
	return out, rows.Err()
}

// Close drains the queue and releases the database handle.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	<-r.done
	return r.db.Close()
}
