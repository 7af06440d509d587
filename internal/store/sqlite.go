// Package store implements the Record Store (spec §4.1): a persistent,
// insert-or-update table of job records backed by a single-file
// embedded relational database, colocated with the job log files.
//
// Grounded on the teacher's storage-backend shape
// (state/internal/storage: a small Backend interface plus typed
// sentinel errors) but backed by an actual embedded SQL engine —
// mattn/go-sqlite3 — rather than an in-memory map, since this spec
// requires the store to survive the embedding process's exit.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	joberrors "github.com/jobsupervisor/jobsupervisor/pkg/errors"
	"github.com/jobsupervisor/jobsupervisor/pkg/logger"
)

var (
	ErrNotFound              = joberrors.ErrNotFound
	ErrMissingRequiredFields = joberrors.ErrMissingFields
)

const schema = `
CREATE TABLE IF NOT EXISTS process_status (
	job_id      TEXT PRIMARY KEY,
	status      TEXT NOT NULL,
	last_update TEXT NOT NULL,
	last_pid    INTEGER NOT NULL DEFAULT 0,
	command     TEXT NOT NULL DEFAULT '',
	cwd         TEXT NOT NULL DEFAULT '',
	logdir      TEXT NOT NULL DEFAULT '',
	logfile     TEXT NOT NULL DEFAULT '',
	seq         INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_process_status_status ON process_status(status);
`

// Store is the Record Store: upsert/get/list/logs over a single SQLite
// file plus the per-job log files it points at.
type Store struct {
	db *sql.DB
	// seqMu serializes seq assignment for new rows so insertion order
	// (spec §4.1's ordering rule for list()) is well defined even
	// under concurrent upserts.
	seqMu sync.Mutex
	log   *logger.Logger
}

// Open creates (if necessary) and opens the embedded store at dbPath.
// A single open connection is kept — SQLite serializes writers at the
// file level regardless. Upsert additionally holds the in-process
// seqMu mutex for its whole read-then-write, so concurrent upserts are
// serialized and each is durable before it returns.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, joberrors.StoreFailure("open", fmt.Errorf("create db dir: %w", err))
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, joberrors.StoreFailure("open", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, joberrors.StoreFailure("migrate", err)
	}

	return &Store{db: db, log: logger.New().WithComponent("store")}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Upsert inserts a new row if job_id is absent, or replaces every
// field of the existing row otherwise. LastUpdate defaults to now if
// the caller left it zero.
func (s *Store) Upsert(r Record) error {
	if r.JobID == "" || r.Status == "" {
		return joberrors.Validation("upsert", ErrMissingRequiredFields)
	}
	if r.LastUpdate.IsZero() {
		r.LastUpdate = time.Now().UTC()
	}

	s.seqMu.Lock()
	defer s.seqMu.Unlock()

	var existingSeq sql.NullInt64
	err := s.db.QueryRow(`SELECT seq FROM process_status WHERE job_id = ?`, r.JobID).Scan(&existingSeq)
	if err != nil && err != sql.ErrNoRows {
		return joberrors.StoreFailure("upsert", err)
	}

	seq := existingSeq.Int64
	if err == sql.ErrNoRows {
		var maxSeq sql.NullInt64
		if err := s.db.QueryRow(`SELECT MAX(seq) FROM process_status`).Scan(&maxSeq); err != nil {
			return joberrors.StoreFailure("upsert", err)
		}
		seq = maxSeq.Int64 + 1
	}

	_, err = s.db.Exec(`
		INSERT INTO process_status (job_id, status, last_update, last_pid, command, cwd, logdir, logfile, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET
			status=excluded.status,
			last_update=excluded.last_update,
			last_pid=excluded.last_pid,
			command=excluded.command,
			cwd=excluded.cwd,
			logdir=excluded.logdir,
			logfile=excluded.logfile
	`, r.JobID, string(r.Status), r.LastUpdate.UTC().Format(time.RFC3339Nano), r.LastPID, r.Command, r.Cwd, r.LogDir, r.LogFile, seq)
	if err != nil {
		return joberrors.StoreFailure("upsert", err)
	}
	return nil
}

// Get returns the record for jobID, or ErrNotFound.
func (s *Store) Get(jobID string) (Record, error) {
	row := s.db.QueryRow(`SELECT job_id, status, last_update, last_pid, command, cwd, logdir, logfile FROM process_status WHERE job_id = ?`, jobID)
	r, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, joberrors.StoreFailure("get", err)
	}
	return r, nil
}

// List returns every record matching filter, ordered by insertion
// order of the first upsert for that job_id, ties broken
// lexicographically by job_id.
func (s *Store) List(filter Filter) ([]Record, error) {
	rows, err := s.db.Query(`SELECT job_id, status, last_update, last_pid, command, cwd, logdir, logfile, seq FROM process_status`)
	if err != nil {
		return nil, joberrors.StoreFailure("list", err)
	}
	defer rows.Close()

	type seqRecord struct {
		Record
		seq int64
	}
	var all []seqRecord
	for rows.Next() {
		var sr seqRecord
		var statusStr, lastUpdateStr string
		if err := rows.Scan(&sr.JobID, &statusStr, &lastUpdateStr, &sr.LastPID, &sr.Command, &sr.Cwd, &sr.LogDir, &sr.LogFile, &sr.seq); err != nil {
			return nil, joberrors.StoreFailure("list", err)
		}
		sr.Status = Status(statusStr)
		sr.LastUpdate, _ = time.Parse(time.RFC3339Nano, lastUpdateStr)
		all = append(all, sr)
	}
	if err := rows.Err(); err != nil {
		return nil, joberrors.StoreFailure("list", err)
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].seq != all[j].seq {
			return all[i].seq < all[j].seq
		}
		return all[i].JobID < all[j].JobID
	})

	result := make([]Record, 0, len(all))
	for _, sr := range all {
		if filter.matches(sr.Record) {
			result = append(result, sr.Record)
		}
	}
	return result, nil
}

// Logs resolves logdir/logfile for jobID and reads both log files in
// full. A missing or unreadable file never returns an error from Logs
// itself — its slot in the pair holds a human-readable message
// instead, per spec §4.1.
func (s *Store) Logs(jobID string) (stdout string, stderr string, err error) {
	r, getErr := s.Get(jobID)
	if getErr != nil {
		return "", "", getErr
	}

	stdout = readLogOrError(filepath.Join(r.LogDir, r.LogFile+".stdout"))
	stderr = readLogOrError(filepath.Join(r.LogDir, r.LogFile+".stderr"))
	return stdout, stderr, nil
}

func readLogOrError(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Sprintf("<error reading %s: %v>", path, err)
	}
	return string(data)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (Record, error) {
	var r Record
	var statusStr, lastUpdateStr string
	if err := row.Scan(&r.JobID, &statusStr, &lastUpdateStr, &r.LastPID, &r.Command, &r.Cwd, &r.LogDir, &r.LogFile); err != nil {
		return Record{}, err
	}
	r.Status = Status(statusStr)
	r.LastUpdate, _ = time.Parse(time.RFC3339Nano, lastUpdateStr)
	return r, nil
}
