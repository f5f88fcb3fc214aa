package engine

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zeebo/blake3"
	_ "modernc.org/sqlite"
)

// JournalEntry is one archived file.
type JournalEntry struct {
	Added  time.Time
	Source string
	Target string
	Action string
	Hash   string
	Size   int64
}

// Journal is a SQLite ledger of every file a source/target pair has
// archived. Writes are batched.
type Journal struct {
	db   *sql.DB
	path string

	mu      sync.Mutex
	batch   []JournalEntry
	done    chan struct{}
	stopped bool
}

// OpenJournal opens (or creates) the journal for the given source/target
// pair. The DB is stored at $XDG_STATE_HOME/stash/<job-id>.db, falling back
// to ~/.local/state.
func OpenJournal(src, dst string) (*Journal, error) {
	dbPath := journalPath(journalID(src, dst))

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}

	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open journal db: %w", err)
	}

	j := &Journal{
		db:   db,
		path: dbPath,
		done: make(chan struct{}),
	}

	if err := j.init(src, dst); err != nil {
		db.Close()
		return nil, err
	}

	go j.flushLoop()

	return j, nil
}

func (j *Journal) init(src, dst string) error {
	_, err := j.db.Exec(`
		CREATE TABLE IF NOT EXISTS transfers (
			source  TEXT NOT NULL,
			target  TEXT NOT NULL,
			action  TEXT NOT NULL,
			size    INTEGER NOT NULL,
			hash    TEXT NOT NULL,
			added   INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS transfers_source ON transfers (source);
		CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("create tables: %w", err)
	}

	var storedSrc, storedDst string
	row := j.db.QueryRow("SELECT value FROM meta WHERE key = 'src_root'")
	if err := row.Scan(&storedSrc); err != nil {
		_, err = j.db.Exec("INSERT OR REPLACE INTO meta (key, value) VALUES ('src_root', ?), ('dst_root', ?)", src, dst)
		if err != nil {
			return fmt.Errorf("store meta: %w", err)
		}
		return nil
	}
	if err := j.db.QueryRow("SELECT value FROM meta WHERE key = 'dst_root'").Scan(&storedDst); err == nil {
		if storedSrc != src || storedDst != dst {
			return fmt.Errorf("journal roots mismatch: stored %s->%s, got %s->%s", storedSrc, storedDst, src, dst)
		}
	}
	return nil
}

// Record queues an entry. Entries are flushed every 100 records, every
// 500ms, and on Close.
func (j *Journal) Record(e JournalEntry) error {
	if e.Added.IsZero() {
		e.Added = time.Now()
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	j.batch = append(j.batch, e)
	if len(j.batch) >= 100 {
		return j.flushLocked()
	}
	return nil
}

// Flush writes any pending entries to the database.
func (j *Journal) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.flushLocked()
}

func (j *Journal) flushLocked() error {
	if len(j.batch) == 0 {
		return nil
	}

	tx, err := j.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	stmt, err := tx.Prepare("INSERT INTO transfers (source, target, action, size, hash, added) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, e := range j.batch {
		if _, err := stmt.Exec(e.Source, e.Target, e.Action, e.Size, e.Hash, e.Added.UnixNano()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert %s: %w", e.Source, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	j.batch = j.batch[:0]
	return nil
}

func (j *Journal) flushLoop() {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.mu.Lock()
			_ = j.flushLocked()
			j.mu.Unlock()
		}
	}
}

// Entries returns every flushed entry in insertion order.
func (j *Journal) Entries() ([]JournalEntry, error) {
	rows, err := j.db.Query("SELECT source, target, action, size, hash, added FROM transfers ORDER BY rowid")
	if err != nil {
		return nil, fmt.Errorf("query transfers: %w", err)
	}
	defer rows.Close()

	var entries []JournalEntry
	for rows.Next() {
		var e JournalEntry
		var added int64
		if err := rows.Scan(&e.Source, &e.Target, &e.Action, &e.Size, &e.Hash, &added); err != nil {
			return nil, fmt.Errorf("scan transfer: %w", err)
		}
		e.Added = time.Unix(0, added)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close flushes any pending writes and closes the database.
func (j *Journal) Close() error {
	j.mu.Lock()
	if !j.stopped {
		j.stopped = true
		close(j.done)
	}
	flushErr := j.flushLocked()
	j.mu.Unlock()

	if err := j.db.Close(); err != nil {
		return err
	}
	return flushErr
}

// Path returns the path to the journal database file.
func (j *Journal) Path() string {
	return j.path
}

// journalID computes a deterministic ID from source and target roots.
func journalID(src, dst string) string {
	h := blake3.New()
	h.Write([]byte(src))
	h.Write([]byte{0})
	h.Write([]byte(dst))
	digest := h.Sum(nil)
	return hex.EncodeToString(digest[:8])
}

func journalPath(id string) string {
	dir := os.Getenv("XDG_STATE_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), "stash-"+id+".db")
		}
		dir = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(dir, "stash", id+".db")
}
