// Package eventlog mirrors ledger events into SQLite so indexers can page
// through them. Rows form a blake3 hash chain that Verify recomputes.
package eventlog

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"lukechampine.com/blake3"

	"escrowledger/core/events"
	"escrowledger/core/types"
)

const (
	defaultFilePragmas = "mode=rwc&_busy_timeout=5000&_journal_mode=WAL"
	// MaxPage caps List results.
	MaxPage = 500
)

// ErrPathRequired is returned when the backing store path is missing.
var ErrPathRequired = errors.New("eventlog path must be configured")

const schema = `
CREATE TABLE IF NOT EXISTS events (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    type TEXT NOT NULL,
    attributes TEXT NOT NULL,
    prev_hash TEXT NOT NULL,
    hash TEXT NOT NULL,
    recorded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS events_type_idx ON events(type);
`

// Record is one persisted event.
type Record struct {
	Seq        uint64            `json:"seq"`
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	PrevHash   string            `json:"prevHash"`
	Hash       string            `json:"hash"`
	RecordedAt time.Time         `json:"recordedAt"`
}

// Log is an events.Emitter backed by SQLite.
type Log struct {
	db     *sql.DB
	mu     sync.Mutex
	head   string
	logger *slog.Logger
	nowFn  func() time.Time
}

// FileDSN converts a filesystem path into an on-disk SQLite DSN.
func FileDSN(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", ErrPathRequired
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve eventlog path: %w", err)
	}
	return fmt.Sprintf("file:%s?%s", abs, defaultFilePragmas), nil
}

// Open initialises the log at path and loads the current chain head.
func Open(path string, logger *slog.Logger) (*Log, error) {
	dsn, err := FileDSN(path)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	l := &Log{db: db, logger: logger, nowFn: time.Now}
	row := db.QueryRow(`SELECT hash FROM events ORDER BY seq DESC LIMIT 1`)
	if err := row.Scan(&l.head); err != nil && !errors.Is(err, sql.ErrNoRows) {
		db.Close()
		return nil, fmt.Errorf("load chain head: %w", err)
	}
	return l, nil
}

// Close releases database resources.
func (l *Log) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Emit implements events.Emitter. Failures are logged; the ledger has
// already committed by the time events are delivered.
func (l *Log) Emit(evt events.Event) {
	if l == nil || evt == nil {
		return
	}
	if _, err := l.Append(context.Background(), events.ToWire(evt)); err != nil {
		l.logger.Error("eventlog append failed", slog.String("type", evt.EventType()), slog.Any("error", err))
	}
}

// Append persists evt at the end of the chain.
func (l *Log) Append(ctx context.Context, evt *types.Event) (Record, error) {
	if evt == nil {
		return Record{}, errors.New("eventlog: nil event")
	}
	attrs := evt.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	encoded, err := json.Marshal(attrs)
	if err != nil {
		return Record{}, fmt.Errorf("encode attributes: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	rec := Record{
		ID:         uuid.NewString(),
		Type:       evt.Type,
		Attributes: attrs,
		PrevHash:   l.head,
		RecordedAt: l.nowFn().UTC(),
	}
	rec.Hash = chainHash(rec.PrevHash, evt)
	res, err := l.db.ExecContext(ctx, `
        INSERT INTO events(id, type, attributes, prev_hash, hash, recorded_at)
        VALUES(?, ?, ?, ?, ?, ?)
    `, rec.ID, rec.Type, string(encoded), rec.PrevHash, rec.Hash, rec.RecordedAt.UnixNano())
	if err != nil {
		return Record{}, fmt.Errorf("insert event: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return Record{}, fmt.Errorf("read sequence: %w", err)
	}
	rec.Seq = uint64(seq)
	l.head = rec.Hash
	return rec, nil
}

// List returns up to limit records with a sequence greater than after.
func (l *Log) List(ctx context.Context, after uint64, limit int) ([]Record, error) {
	if limit <= 0 || limit > MaxPage {
		limit = MaxPage
	}
	rows, err := l.db.QueryContext(ctx, `
        SELECT seq, id, type, attributes, prev_hash, hash, recorded_at
        FROM events WHERE seq > ? ORDER BY seq ASC LIMIT ?
    `, after, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()
	out := make([]Record, 0, limit)
	for rows.Next() {
		var (
			rec      Record
			attrs    string
			recorded int64
		)
		if err := rows.Scan(&rec.Seq, &rec.ID, &rec.Type, &attrs, &rec.PrevHash, &rec.Hash, &recorded); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if err := json.Unmarshal([]byte(attrs), &rec.Attributes); err != nil {
			return nil, fmt.Errorf("decode attributes: %w", err)
		}
		rec.RecordedAt = time.Unix(0, recorded).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Verify walks the full log and reports the first sequence whose hash does
// not chain onto its predecessor. Zero means the chain is intact.
func (l *Log) Verify(ctx context.Context) (uint64, error) {
	var (
		after uint64
		prev  string
	)
	for {
		page, err := l.List(ctx, after, MaxPage)
		if err != nil {
			return 0, err
		}
		if len(page) == 0 {
			return 0, nil
		}
		for _, rec := range page {
			want := chainHash(prev, &types.Event{Type: rec.Type, Attributes: rec.Attributes})
			if rec.PrevHash != prev || rec.Hash != want {
				return rec.Seq, nil
			}
			prev = rec.Hash
			after = rec.Seq
		}
	}
}

func chainHash(prev string, evt *types.Event) string {
	h := blake3.New(32, nil)
	h.Write([]byte(prev))
	h.Write([]byte{0})
	h.Write([]byte(evt.Type))
	for _, key := range evt.SortedKeys() {
		h.Write([]byte{0})
		h.Write([]byte(key))
		h.Write([]byte{'='})
		h.Write([]byte(evt.Attributes[key]))
	}
	return hex.EncodeToString(h.Sum(nil))
}
