// Package journal provides durable sighting history for the base role.
// Uses SQLite with WAL mode so history queries never block the recorder.
//
// Every valid received report may be recorded as a Sighting. Unlike the
// peer registry, which keeps only the latest state per rover, the journal
// is append-only: it answers "where has TX1A2B3C been today", not "where
// is it now". Rows carry wall-clock time because device ticks restart
// every boot.
package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/trailhound/trailhound/internal/gps"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added UNIQUE index on sightings (peer_id, seq)
const currentSchemaVersion = 1

// Sighting is one received report as recorded.
type Sighting struct {
	// Seq is the logical sequence number. Record assigns it; History
	// returns it.
	Seq     int64
	PeerID  string
	Fix     gps.Fix
	RSSI    int // dBm
	Airtime time.Duration
	SeenAt  time.Time
}

// PeerSummary aggregates a peer's journal presence.
type PeerSummary struct {
	PeerID    string
	Sightings int64
	LastSeen  time.Time
}

// Journal records and queries sightings.
type Journal struct {
	db  *sql.DB
	seq atomic.Int64
}

// Open creates or opens a journal database at the given path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// This function is idempotent - safe to call multiple times.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	j := &Journal{db: db}
	if err := j.seedSeq(); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

// seedSeq anchors the logical counter at the highest recorded sequence
// so numbering continues across reopens.
func (j *Journal) seedSeq() error {
	var max int64
	if err := j.db.QueryRow(`SELECT COALESCE(MAX(seq), 0) FROM sightings`).Scan(&max); err != nil {
		return fmt.Errorf("seed sequence: %w", err)
	}
	j.seq.Store(max)
	return nil
}

// Record inserts one sighting. The caller's Seq is ignored; the journal
// assigns the next logical sequence. Duplicate (peer_id, seq) pairs are
// silently ignored for idempotency.
func (j *Journal) Record(ctx context.Context, s Sighting) error {
	fixJSON, err := json.Marshal(s.Fix)
	if err != nil {
		return fmt.Errorf("record sighting: %w", err)
	}

	seq := j.seq.Add(1)
	_, err = j.db.ExecContext(ctx, `
		INSERT INTO sightings (peer_id, seq, fix, rssi, toa_us, seen_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(peer_id, seq) DO NOTHING
	`,
		s.PeerID,
		seq,
		string(fixJSON),
		s.RSSI,
		s.Airtime.Microseconds(),
		s.SeenAt.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record sighting: %w", err)
	}
	return nil
}

// History returns a peer's sightings, newest first. Ordering is
// deterministic: seq strictly decreases. A non-positive limit returns
// everything.
func (j *Journal) History(ctx context.Context, peerID string, limit int) ([]Sighting, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT peer_id, seq, fix, rssi, toa_us, seen_at
		FROM sightings
		WHERE peer_id = ?
		ORDER BY seq DESC
		LIMIT ?
	`, peerID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var sightings []Sighting
	for rows.Next() {
		s, err := scanSighting(rows)
		if err != nil {
			return nil, err
		}
		sightings = append(sightings, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}

	if sightings == nil {
		sightings = []Sighting{}
	}
	return sightings, nil
}

// Peers returns one summary per recorded peer, ordered by peer ID.
func (j *Journal) Peers(ctx context.Context) ([]PeerSummary, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT peer_id, COUNT(*), MAX(seen_at)
		FROM sightings
		GROUP BY peer_id
		ORDER BY peer_id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query peers: %w", err)
	}
	defer rows.Close()

	var summaries []PeerSummary
	for rows.Next() {
		var ps PeerSummary
		var lastSeen int64
		if err := rows.Scan(&ps.PeerID, &ps.Sightings, &lastSeen); err != nil {
			return nil, fmt.Errorf("scan peer summary: %w", err)
		}
		ps.LastSeen = time.UnixMilli(lastSeen).UTC()
		summaries = append(summaries, ps)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate peers: %w", err)
	}

	if summaries == nil {
		summaries = []PeerSummary{}
	}
	return summaries, nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

func scanSighting(rows *sql.Rows) (Sighting, error) {
	var (
		s       Sighting
		fixJSON string
		toaUS   int64
		seenAt  int64
	)
	if err := rows.Scan(&s.PeerID, &s.Seq, &fixJSON, &s.RSSI, &toaUS, &seenAt); err != nil {
		return Sighting{}, fmt.Errorf("scan sighting: %w", err)
	}
	if err := json.Unmarshal([]byte(fixJSON), &s.Fix); err != nil {
		return Sighting{}, fmt.Errorf("decode sighting fix: %w", err)
	}
	s.Airtime = time.Duration(toaUS) * time.Microsecond
	s.SeenAt = time.UnixMilli(seenAt).UTC()
	return s, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
		version = 1
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// migrateToV1 adds the UNIQUE index on (peer_id, seq) for databases
// created before the constraint moved into schema.sql. New databases get
// it from the table definition; the explicit index is a no-op there.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_sightings_peer_seq_unique
		ON sightings(peer_id, seq)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}
