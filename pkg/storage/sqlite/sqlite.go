package sqlite

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	mathrand "math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/zeebo/blake3"
	_ "modernc.org/sqlite"

	"github.com/rexliu/biosdk/pkg/config"
	"github.com/rexliu/biosdk/pkg/host"
)

var (
	journalModes = map[string]bool{"DELETE": true, "TRUNCATE": true, "PERSIST": true, "MEMORY": true, "WAL": true, "OFF": true}
	syncModes    = map[string]bool{"OFF": true, "NORMAL": true, "FULL": true, "EXTRA": true}
)

// Entry is a journaled request.
type Entry struct {
	ID           string
	SessionID    string
	Origin       string
	RequestID    string
	Method       string
	ParamsDigest string
	Success      bool
	ErrorCode    int
	ReceivedAt   time.Time
	AnsweredAt   time.Time
}

// Store owns the SQLite request journal.
type Store struct {
	db   *sql.DB
	path string

	entropyMu sync.Mutex
	entropy   *ulid.MonotonicEntropy
}

// Path returns the underlying SQLite file path.
func (s *Store) Path() string {
	return s.path
}

// Open initializes a SQLite database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	return &Store{
		db:      db,
		path:    path,
		entropy: ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0),
	}, nil
}

// Close releases database resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Init applies pragmas from cfg and ensures the schema exists. Empty modes
// keep the SQLite defaults.
func (s *Store) Init(ctx context.Context, cfg config.StorageConfig) error {
	if s == nil || s.db == nil {
		return errors.New("nil store")
	}
	pragmas := []string{"PRAGMA busy_timeout = 5000;"}
	if mode := strings.ToUpper(cfg.JournalMode); mode != "" {
		if !journalModes[mode] {
			return fmt.Errorf("unsupported journal mode %q", cfg.JournalMode)
		}
		pragmas = append(pragmas, "PRAGMA journal_mode = "+mode+";")
	}
	if mode := strings.ToUpper(cfg.Synchronous); mode != "" {
		if !syncModes[mode] {
			return fmt.Errorf("unsupported synchronous mode %q", cfg.Synchronous)
		}
		pragmas = append(pragmas, "PRAGMA synchronous = "+mode+";")
	}
	for _, stmt := range pragmas {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply pragma %q: %w", stmt, err)
		}
	}
	return s.applySchema(ctx)
}

func (s *Store) applySchema(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`INSERT OR IGNORE INTO meta(key,value) VALUES ('schemaVersion','1');`,
		`CREATE TABLE IF NOT EXISTS requests (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			origin TEXT NOT NULL,
			request_id TEXT NOT NULL,
			method TEXT NOT NULL,
			params_digest TEXT NOT NULL,
			success INTEGER NOT NULL,
			error_code INTEGER NOT NULL DEFAULT 0,
			received_at INTEGER NOT NULL,
			answered_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_requests_method ON requests(method);`,
		`CREATE INDEX IF NOT EXISTS idx_requests_session ON requests(session_id);`,
	}
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// Record implements host.Journal.
func (s *Store) Record(ctx context.Context, e host.JournalEntry) error {
	digest, err := ParamsDigest(e.Params)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO requests(id, session_id, origin, request_id, method, params_digest, success, error_code, received_at, answered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
	`, s.newID(e.AnsweredAt), e.SessionID, e.Origin, e.RequestID, e.Method, digest,
		e.Success, e.ErrorCode, e.ReceivedAt.UnixMilli(), e.AnsweredAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("record %s: %w", e.RequestID, err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, origin, request_id, method, params_digest, success, error_code, received_at, answered_at
		FROM requests
		ORDER BY id DESC
		LIMIT ?;
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var (
			e        Entry
			received int64
			answered int64
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Origin, &e.RequestID, &e.Method, &e.ParamsDigest,
			&e.Success, &e.ErrorCode, &received, &answered); err != nil {
			return nil, err
		}
		e.ReceivedAt = time.UnixMilli(received)
		e.AnsweredAt = time.UnixMilli(answered)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ParamsDigest hashes the JSON form of params so the journal never stores
// request payloads.
func ParamsDigest(params []any) (string, error) {
	if params == nil {
		params = []any{}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("encode params: %w", err)
	}
	sum := blake3.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

func (s *Store) newID(at time.Time) string {
	if at.IsZero() {
		at = time.Now()
	}
	s.entropyMu.Lock()
	defer s.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), s.entropy).String()
}
