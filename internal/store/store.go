// Package store is the durable, crash-safe State Store: a relational file
// holding jobs, items, and files with conditional claim/release semantics.
// Concurrent readers are always safe; writers are serialized through a
// single *sql.DB handle in WAL journal mode, following the connect/migrate
// pattern of the database/admin layer this engine's store is modeled on.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/godzooka/grab-ia/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrAlreadyClaimed is returned by ClaimFile when another worker already
// holds the file in-progress.
var ErrAlreadyClaimed = errors.New("store: file already claimed")

// ErrNotFound is returned when a lookup finds no matching row.
var ErrNotFound = errors.New("store: not found")

// Store is the durable State Store. All mutating methods are safe for
// concurrent use; the underlying *sql.DB serializes writers itself.
type Store struct {
	db *sql.DB
}

// Open creates the schema if absent, enables WAL journaling, and returns a
// ready Store. Corruption or a disk-full condition surfaces as a fatal
// error to the caller, per the engine's failure-mode contract.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // single-writer discipline; sqlite serializes anyway

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable foreign keys: %w", err)
	}

	if err := migrateSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate schema: %w", err)
	}

	return &Store{db: db}, nil
}

func migrateSchema(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}
	target, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("attach migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", target)
	if err != nil {
		return fmt.Errorf("build migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// UpsertJob inserts or updates a job row, keyed by Job.ID.
func (s *Store) UpsertJob(ctx context.Context, j *model.Job) error {
	now := time.Now().UTC()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	j.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, output_root, name_regex, extension_whitelist, metadata_only,
			anti_clutter, worker_ceiling, bandwidth_ceiling_bps, dynamic, sync_mode, state,
			created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			output_root=excluded.output_root,
			name_regex=excluded.name_regex,
			extension_whitelist=excluded.extension_whitelist,
			metadata_only=excluded.metadata_only,
			anti_clutter=excluded.anti_clutter,
			worker_ceiling=excluded.worker_ceiling,
			bandwidth_ceiling_bps=excluded.bandwidth_ceiling_bps,
			dynamic=excluded.dynamic,
			sync_mode=excluded.sync_mode,
			state=excluded.state,
			updated_at=excluded.updated_at`,
		j.ID, j.OutputRoot, j.NameRegex, strings.Join(j.ExtensionWhitelist, ","), boolToInt(j.MetadataOnly),
		strings.Join(j.AntiClutter, ","), j.WorkerCeiling, j.BandwidthCeilingBps, boolToInt(j.Dynamic),
		boolToInt(j.Sync), string(j.State), j.CreatedAt, j.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert job: %w", err)
	}
	return nil
}

// LoadJob fetches a job by its output root, the identity derivation used
// across every engine entry point.
func (s *Store) LoadJob(ctx context.Context, outputRoot string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, output_root, name_regex, extension_whitelist, metadata_only, anti_clutter,
			worker_ceiling, bandwidth_ceiling_bps, dynamic, sync_mode, state, created_at, updated_at
		FROM jobs WHERE output_root = ?`, outputRoot)
	return scanJob(row)
}

func scanJob(row *sql.Row) (*model.Job, error) {
	var j model.Job
	var extWhitelist, antiClutter, state string
	var metadataOnly, dynamic, sync int
	if err := row.Scan(&j.ID, &j.OutputRoot, &j.NameRegex, &extWhitelist, &metadataOnly, &antiClutter,
		&j.WorkerCeiling, &j.BandwidthCeilingBps, &dynamic, &sync, &state, &j.CreatedAt, &j.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	j.ExtensionWhitelist = splitNonEmpty(extWhitelist)
	j.AntiClutter = splitNonEmpty(antiClutter)
	j.MetadataOnly = metadataOnly != 0
	j.Dynamic = dynamic != 0
	j.Sync = sync != 0
	j.State = model.JobState(state)
	return &j, nil
}

// SetJobState updates the Job Controller's state machine position.
func (s *Store) SetJobState(ctx context.Context, jobID string, state model.JobState) error {
	_, err := s.db.ExecContext(ctx, `UPDATE jobs SET state=?, updated_at=? WHERE id=?`,
		string(state), time.Now().UTC(), jobID)
	if err != nil {
		return fmt.Errorf("set job state: %w", err)
	}
	return nil
}

// UpsertItem inserts an item row if absent, returning its id either way.
func (s *Store) UpsertItem(ctx context.Context, jobID, identifier string) (int64, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO items (job_id, identifier, status) VALUES (?,?,?)
		ON CONFLICT(job_id, identifier) DO NOTHING`, jobID, identifier, model.ItemPending)
	if err != nil {
		return 0, fmt.Errorf("upsert item: %w", err)
	}
	var id int64
	err = s.db.QueryRowContext(ctx, `SELECT id FROM items WHERE job_id=? AND identifier=?`,
		jobID, identifier).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("fetch item id: %w", err)
	}
	return id, nil
}

// SetItemStatus transitions an item's resolution status.
func (s *Store) SetItemStatus(ctx context.Context, itemID int64, status model.ItemStatus, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE items SET status=?, error=? WHERE id=?`,
		string(status), errMsg, itemID)
	if err != nil {
		return fmt.Errorf("set item status: %w", err)
	}
	return nil
}

// ListItems returns every item belonging to a job.
func (s *Store) ListItems(ctx context.Context, jobID string) ([]*model.Item, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, job_id, identifier, status, error FROM items WHERE job_id=?`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()
	var out []*model.Item
	for rows.Next() {
		var it model.Item
		var status string
		if err := rows.Scan(&it.ID, &it.JobID, &it.Identifier, &status, &it.Error); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		it.Status = model.ItemStatus(status)
		out = append(out, &it)
	}
	return out, rows.Err()
}

// InsertFile persists a newly-resolved file row ahead of any fetch.
func (s *Store) InsertFile(ctx context.Context, f *model.File) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO files (item_id, remote_name, remote_size, expected_checksum, local_path, status)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT(item_id, remote_name) DO NOTHING`,
		f.ItemID, f.RemoteName, f.RemoteSize, f.ExpectedChecksum, f.LocalPath, model.FilePending)
	if err != nil {
		return 0, fmt.Errorf("insert file: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var id int64
		err = s.db.QueryRowContext(ctx, `SELECT id FROM files WHERE item_id=? AND remote_name=?`,
			f.ItemID, f.RemoteName).Scan(&id)
		return id, err
	}
	return res.LastInsertId()
}

// ListFiles returns every file row belonging to an item.
func (s *Store) ListFiles(ctx context.Context, itemID int64) ([]*model.File, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, item_id, remote_name, remote_size, expected_checksum, local_path,
			bytes_downloaded, status, attempts, last_error, last_http_status
		FROM files WHERE item_id=?`, itemID)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()
	var out []*model.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFile(s scanner) (*model.File, error) {
	var f model.File
	var status string
	if err := s.Scan(&f.ID, &f.ItemID, &f.RemoteName, &f.RemoteSize, &f.ExpectedChecksum, &f.LocalPath,
		&f.BytesDownloaded, &status, &f.Attempts, &f.LastError, &f.LastHTTPStatus); err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}
	f.Status = model.FileStatus(status)
	return &f, nil
}

// QueueableFile pairs a File row with its owning item's identifier, the
// detail a rebuilt queue entry needs to reconstruct a source URL.
type QueueableFile struct {
	File       *model.File
	Identifier string
}

// ListQueueable returns files in pending or in-progress status for a job,
// ordered so resume() can reclaim in-progress rows as pending (spec 4.7).
func (s *Store) ListQueueable(ctx context.Context, jobID string) ([]QueueableFile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.id, f.item_id, f.remote_name, f.remote_size, f.expected_checksum, f.local_path,
			f.bytes_downloaded, f.status, f.attempts, f.last_error, f.last_http_status, i.identifier
		FROM files f JOIN items i ON i.id = f.item_id
		WHERE i.job_id = ? AND f.status IN ('pending', 'in-progress')`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list queueable: %w", err)
	}
	defer rows.Close()
	var out []QueueableFile
	for rows.Next() {
		var f model.File
		var status, identifier string
		if err := rows.Scan(&f.ID, &f.ItemID, &f.RemoteName, &f.RemoteSize, &f.ExpectedChecksum, &f.LocalPath,
			&f.BytesDownloaded, &status, &f.Attempts, &f.LastError, &f.LastHTTPStatus, &identifier); err != nil {
			return nil, fmt.Errorf("scan queueable file: %w", err)
		}
		f.Status = model.FileStatus(status)
		out = append(out, QueueableFile{File: &f, Identifier: identifier})
	}
	return out, rows.Err()
}

// ReclaimInProgress resets every in-progress file of a job back to pending.
// Called on resume(): a live claim is only authoritative within the
// process that holds it, so a restarted process owns none of them.
func (s *Store) ReclaimInProgress(ctx context.Context, jobID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE files SET status='pending'
		WHERE status='in-progress' AND item_id IN (SELECT id FROM items WHERE job_id=?)`, jobID)
	if err != nil {
		return 0, fmt.Errorf("reclaim in-progress: %w", err)
	}
	return res.RowsAffected()
}

// ClaimFile performs the conditional pending -> in-progress transition as
// a single compare-and-update statement; double-claims are impossible.
func (s *Store) ClaimFile(ctx context.Context, fileID int64) (*model.File, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE files SET status='in-progress' WHERE id=? AND status='pending'`, fileID)
	if err != nil {
		return nil, fmt.Errorf("claim file: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("claim file: %w", err)
	}
	if n == 0 {
		return nil, ErrAlreadyClaimed
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, item_id, remote_name, remote_size, expected_checksum, local_path,
			bytes_downloaded, status, attempts, last_error, last_http_status
		FROM files WHERE id=?`, fileID)
	return scanFile(row)
}

// ReleaseFile atomically updates status, bytes-downloaded, attempts, and
// last-error for a file a worker is done with (successfully or not).
func (s *Store) ReleaseFile(ctx context.Context, f *model.File) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE files SET status=?, bytes_downloaded=?, attempts=?, last_error=?, last_http_status=?
		WHERE id=?`, string(f.Status), f.BytesDownloaded, f.Attempts, f.LastError, f.LastHTTPStatus, f.ID)
	if err != nil {
		return fmt.Errorf("release file: %w", err)
	}
	return nil
}

// CheckpointBytes persists bytes-downloaded without changing status, used
// for the Fetcher's coarse-cadence resume checkpoints.
func (s *Store) CheckpointBytes(ctx context.Context, fileID, bytesDownloaded int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE files SET bytes_downloaded=? WHERE id=?`, bytesDownloaded, fileID)
	if err != nil {
		return fmt.Errorf("checkpoint bytes: %w", err)
	}
	return nil
}

// ProgressSnapshot aggregates file counts and byte totals for a job.
func (s *Store) ProgressSnapshot(ctx context.Context, jobID string) (model.ProgressSnapshot, error) {
	var snap model.ProgressSnapshot
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.status, COUNT(*), COALESCE(SUM(f.bytes_downloaded),0)
		FROM files f JOIN items i ON i.id = f.item_id
		WHERE i.job_id = ? GROUP BY f.status`, jobID)
	if err != nil {
		return snap, fmt.Errorf("progress snapshot: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		var bytes int64
		if err := rows.Scan(&status, &count, &bytes); err != nil {
			return snap, fmt.Errorf("scan snapshot row: %w", err)
		}
		snap.Total += count
		snap.BytesDone += bytes
		switch model.FileStatus(status) {
		case model.FileDone:
			snap.Done = count
		case model.FileFailed:
			snap.Failed = count
		case model.FileInProgress:
			snap.InProgress = count
		case model.FilePending:
			snap.Pending = count
		case model.FileSkipped:
			snap.Skipped = count
		}
	}
	return snap, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
