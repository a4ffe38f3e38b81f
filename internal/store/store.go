// Package store persists snapshots in SQLite so captures can be compared
// across runs.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"

	"github.com/dmitriimaksimovdevelop/myscope/internal/model"
)

// timeLayout sorts lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// ErrNotFound is returned when no snapshot matches a lookup.
var ErrNotFound = errors.New("snapshot not found")

// Record describes a stored snapshot without its payload.
type Record struct {
	ID         string     `json:"id"`
	JobID      string     `json:"job_id,omitempty"`
	Host       string     `json:"host"`
	Kind       model.Kind `json:"kind"`
	Command    string     `json:"command,omitempty"`
	CapturedAt time.Time  `json:"captured_at"`
	Degraded   bool       `json:"degraded,omitempty"`
}

// Store wraps the SQLite connection.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}

	// Enable WAL mode for better concurrent access
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "enable WAL")
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "set busy timeout")
	}

	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		id TEXT PRIMARY KEY,
		job_id TEXT,
		host TEXT NOT NULL,
		kind TEXT NOT NULL,
		command TEXT,
		captured_at TEXT NOT NULL,
		degraded INTEGER NOT NULL DEFAULT 0,
		body TEXT NOT NULL,
		created_at TEXT DEFAULT (datetime('now'))
	);
	CREATE INDEX IF NOT EXISTS idx_snapshots_host_kind ON snapshots(host, kind, captured_at);
	CREATE INDEX IF NOT EXISTS idx_snapshots_job ON snapshots(job_id);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create schema")
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save stores snap under its own id. Saving the same id twice replaces
// the earlier copy.
func (s *Store) Save(ctx context.Context, jobID string, snap model.Snapshot) error {
	meta := snap.Meta()
	if meta.ID == "" || meta.Kind == "" {
		return errors.New("snapshot has no id or kind")
	}
	body, err := json.Marshal(snap)
	if err != nil {
		return errors.Wrap(err, "encode snapshot")
	}
	degraded := 0
	if !snap.Diagnostics().Clean() {
		degraded = 1
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO snapshots (id, job_id, host, kind, command, captured_at, degraded, body)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, meta.ID, jobID, meta.Host, string(meta.Kind), meta.Command,
		meta.CapturedAt.UTC().Format(timeLayout), degraded, string(body))
	return errors.Wrapf(err, "save snapshot %s", meta.ID)
}

// Get returns the snapshot with the given id.
func (s *Store) Get(ctx context.Context, id string) (model.Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `SELECT body FROM snapshots WHERE id = ?`, id)
	return scanBody(row, id)
}

// Latest returns the most recent snapshot of kind for host.
func (s *Store) Latest(ctx context.Context, host string, kind model.Kind) (model.Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT body FROM snapshots
		WHERE host = ? AND kind = ?
		ORDER BY captured_at DESC
		LIMIT 1
	`, host, string(kind))
	return scanBody(row, host+"/"+string(kind))
}

// History returns up to limit records for host, newest first. An empty
// kind matches every kind.
func (s *Store) History(ctx context.Context, host string, kind model.Kind, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, host, kind, command, captured_at, degraded
		FROM snapshots
		WHERE host = ? AND (? = '' OR kind = ?)
		ORDER BY captured_at DESC
		LIMIT ?
	`, host, string(kind), string(kind), limit)
	if err != nil {
		return nil, errors.Wrap(err, "query history")
	}
	defer rows.Close()
	return scanRecords(rows)
}

// JobSnapshots holds one collection run's snapshots by host, then kind.
type JobSnapshots map[string]map[model.Kind]model.Snapshot

// Job returns the snapshots saved under jobID. When a host has several
// snapshots of one kind in the job, the latest capture is kept.
func (s *Store) Job(ctx context.Context, jobID string) (JobSnapshots, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT host, kind, body FROM snapshots
		WHERE job_id = ?
		ORDER BY captured_at
	`, jobID)
	if err != nil {
		return nil, errors.Wrapf(err, "query job %s", jobID)
	}
	defer rows.Close()

	out := JobSnapshots{}
	for rows.Next() {
		var host, kind, body string
		if err := rows.Scan(&host, &kind, &body); err != nil {
			return nil, err
		}
		var snap model.Snapshot
		if err := json.Unmarshal([]byte(body), &snap); err != nil {
			return nil, errors.Wrapf(err, "decode %s/%s of job %s", host, kind, jobID)
		}
		if out[host] == nil {
			out[host] = map[model.Kind]model.Snapshot{}
		}
		out[host][model.Kind(kind)] = snap
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, errors.Wrapf(ErrNotFound, "job %s", jobID)
	}
	return out, nil
}

// Hosts returns every host with stored snapshots, sorted.
func (s *Store) Hosts(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT host FROM snapshots ORDER BY host`)
	if err != nil {
		return nil, errors.Wrap(err, "query hosts")
	}
	defer rows.Close()

	var hosts []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		hosts = append(hosts, h)
	}
	return hosts, rows.Err()
}

// Prune deletes snapshots captured before cutoff and returns how many were
// removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE captured_at < ?`,
		cutoff.UTC().Format(timeLayout))
	if err != nil {
		return 0, errors.Wrap(err, "prune")
	}
	return res.RowsAffected()
}

func scanBody(row *sql.Row, what string) (model.Snapshot, error) {
	var body string
	if err := row.Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Snapshot{}, errors.Wrapf(ErrNotFound, "%s", what)
		}
		return model.Snapshot{}, errors.Wrapf(err, "read %s", what)
	}
	var snap model.Snapshot
	if err := json.Unmarshal([]byte(body), &snap); err != nil {
		return model.Snapshot{}, errors.Wrapf(err, "decode %s", what)
	}
	return snap, nil
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var out []Record
	for rows.Next() {
		var (
			r        Record
			jobID    sql.NullString
			command  sql.NullString
			kind     string
			captured string
			degraded int
		)
		if err := rows.Scan(&r.ID, &jobID, &r.Host, &kind, &command, &captured, &degraded); err != nil {
			return nil, err
		}
		r.JobID = jobID.String
		r.Command = command.String
		r.Kind = model.Kind(kind)
		r.CapturedAt, _ = time.Parse(timeLayout, captured)
		r.Degraded = degraded != 0
		out = append(out, r)
	}
	return out, rows.Err()
}
