// Package journal provides the local append-only record of fleet actions.
// Records form a hash chain for tamper detection; the journal is the
// durable complement to the best-effort audit channel.
package journal

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Schema defines the append-only journal table.
const Schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS action_journal (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp      TEXT NOT NULL,
    run_uuid       TEXT NOT NULL,
    action         TEXT NOT NULL,
    initiator      TEXT NOT NULL,
    target_account TEXT DEFAULT '',
    server_id      INTEGER DEFAULT 0,
    status         TEXT NOT NULL,
    detail         TEXT DEFAULT '{}',
    record_hash    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_journal_action ON action_journal(action);
CREATE INDEX IF NOT EXISTS idx_journal_initiator ON action_journal(initiator);
CREATE INDEX IF NOT EXISTS idx_journal_timestamp ON action_journal(timestamp);
`

// Entry is one journal row.
type Entry struct {
	ID            int64
	Timestamp     time.Time
	RunID         string
	Action        string
	Initiator     string
	TargetAccount string
	ServerID      int
	Status        string
	Detail        map[string]string
	RecordHash    string
}

// Journal writes tamper-evident action records to the local database.
type Journal struct {
	db       *sql.DB
	mu       sync.Mutex
	lastHash string
}

// Open opens or creates the journal database at the given path.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("opening journal db: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing journal schema: %w", err)
	}
	return New(db)
}

// New wraps an existing database, recovering the hash chain tail.
func New(db *sql.DB) (*Journal, error) {
	j := &Journal{db: db}

	var lastHash sql.NullString
	err := db.QueryRow(
		"SELECT record_hash FROM action_journal ORDER BY id DESC LIMIT 1",
	).Scan(&lastHash)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("recovering journal chain: %w", err)
	}
	if lastHash.Valid {
		j.lastHash = lastHash.String
	}

	return j, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error { return j.db.Close() }

// Append writes one action record. The row is immutable and linked to its
// predecessor by the record hash.
func (j *Journal) Append(runID, action, initiator, targetAccount string, serverID int, status string, detail map[string]string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	detailJSON, err := json.Marshal(detail)
	if err != nil {
		detailJSON = []byte(fmt.Sprintf(`{"error":"failed to marshal detail: %s"}`, err))
	}

	now := time.Now().UTC()
	recordHash := j.computeHash(now, action, initiator, status, string(detailJSON))

	_, err = j.db.Exec(
		`INSERT INTO action_journal (timestamp, run_uuid, action, initiator, target_account, server_id, status, detail, record_hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		now.Format(time.RFC3339Nano),
		runID, action, initiator, targetAccount, serverID, status,
		string(detailJSON), recordHash,
	)
	if err != nil {
		return fmt.Errorf("inserting journal record: %w", err)
	}

	j.lastHash = recordHash
	return nil
}

// computeHash links the chain: SHA-256(previousHash + timestamp + action + initiator + status + detail)
func (j *Journal) computeHash(ts time.Time, action, initiator, status, detail string) string {
	data := j.lastHash + ts.Format(time.RFC3339Nano) + action + initiator + status + detail
	h := sha256.Sum256([]byte(data))
	return hex.EncodeToString(h[:])
}

// Tail returns the most recent n entries, newest first.
func (j *Journal) Tail(n int) ([]Entry, error) {
	rows, err := j.db.Query(
		`SELECT id, timestamp, run_uuid, action, initiator, target_account, server_id, status, detail, record_hash
		 FROM action_journal ORDER BY id DESC LIMIT ?`, n,
	)
	if err != nil {
		return nil, fmt.Errorf("querying journal: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var ts, detailJSON string
		if err := rows.Scan(&e.ID, &ts, &e.RunID, &e.Action, &e.Initiator, &e.TargetAccount, &e.ServerID, &e.Status, &detailJSON, &e.RecordHash); err != nil {
			return nil, fmt.Errorf("scanning journal row: %w", err)
		}
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		json.Unmarshal([]byte(detailJSON), &e.Detail)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Verify checks the integrity of the whole chain.
func Verify(db *sql.DB) (bool, int, error) {
	rows, err := db.Query(
		"SELECT timestamp, action, initiator, status, detail, record_hash FROM action_journal ORDER BY id ASC",
	)
	if err != nil {
		return false, 0, fmt.Errorf("querying journal: %w", err)
	}
	defer rows.Close()

	var previousHash string
	count := 0

	for rows.Next() {
		var ts, action, initiator, status, detail, recordHash string
		if err := rows.Scan(&ts, &action, &initiator, &status, &detail, &recordHash); err != nil {
			return false, count, fmt.Errorf("scanning journal row: %w", err)
		}

		data := previousHash + ts + action + initiator + status + detail
		h := sha256.Sum256([]byte(data))
		expected := hex.EncodeToString(h[:])

		if expected != recordHash {
			return false, count, fmt.Errorf("journal chain broken at record %d", count+1)
		}

		previousHash = recordHash
		count++
	}

	return true, count, nil
}

// DB exposes the underlying handle for Verify from the CLI.
func (j *Journal) DB() *sql.DB { return j.db }
