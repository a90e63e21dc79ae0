package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// SQLiteStore is the C3 persistent store: jobs + metadata tables backed by
// modernc.org/sqlite (pure Go, no cgo).
type SQLiteStore struct {
	db *sql.DB
}

func Open(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db}
	if err := s.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
		return fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA synchronous = NORMAL;"); err != nil {
		return fmt.Errorf("set synchronous mode: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version := migrationVersion(entry.Name())
		if version <= 0 {
			continue
		}
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if exists > 0 {
			continue
		}
		content, err := migrationFiles.ReadFile(filepath.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

func migrationVersion(name string) int {
	for i, c := range name {
		if c < '0' || c > '9' {
			if i == 0 {
				return 0
			}
			n, _ := strconv.Atoi(name[:i])
			return n
		}
	}
	n, _ := strconv.Atoi(name)
	return n
}

// UpsertJob inserts or, on (RequestKey,sourceHash) conflict, updates a job
// row — the mechanism that enforces the single-active-job invariant
// (spec.md §3.3) and makes duplicate job creation harmless (spec.md §4.9).
func (s *SQLiteStore) UpsertJob(ctx context.Context, job *Job) error {
	if job == nil {
		return fmt.Errorf("job is nil")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (
			id, video_id, lang, target_lang, track, fmt, source_hash, status,
			retry_count, next_retry_at, error_code, error_message, bilingual,
			created_at, updated_at, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(video_id, lang, target_lang, track, fmt, source_hash) DO UPDATE SET
			status=excluded.status,
			retry_count=excluded.retry_count,
			next_retry_at=excluded.next_retry_at,
			error_code=excluded.error_code,
			error_message=excluded.error_message,
			bilingual=excluded.bilingual,
			updated_at=excluded.updated_at,
			expires_at=excluded.expires_at`,
		job.ID, job.Key.VideoID, job.Key.SourceLang, job.Key.TargetLang, job.Key.Track, job.Key.Fmt, job.SourceHash,
		string(job.Status), job.RetryCount, job.NextRetryAt, job.ErrorCode, job.ErrorMessage, job.Bilingual,
		job.CreatedAt, job.UpdatedAt, job.ExpiresAt,
	)
	return err
}

// FindActive returns the non-terminal job for (key, sourceHash), if any.
func (s *SQLiteStore) FindActive(ctx context.Context, key RequestKey, sourceHash string) (*Job, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, video_id, lang, target_lang, track, fmt, source_hash, status,
		       retry_count, next_retry_at, error_code, error_message, bilingual,
		       created_at, updated_at, expires_at
		FROM jobs
		WHERE video_id = ? AND lang = ? AND target_lang = ? AND track = ? AND fmt = ? AND source_hash = ?
		  AND status IN ('pending', 'translating')`,
		key.VideoID, key.SourceLang, key.TargetLang, key.Track, key.Fmt, sourceHash,
	)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return job, true, nil
}

// MostRecentDone returns the newest done row for key regardless of
// sourceHash (spec.md §4.4 "store layer" selection rule), if it has not
// expired.
func (s *SQLiteStore) MostRecentDone(ctx context.Context, key RequestKey, now int64) (*Job, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, video_id, lang, target_lang, track, fmt, source_hash, status,
		       retry_count, next_retry_at, error_code, error_message, bilingual,
		       created_at, updated_at, expires_at
		FROM jobs
		WHERE video_id = ? AND lang = ? AND target_lang = ? AND track = ? AND fmt = ?
		  AND status = 'done' AND expires_at >= ?
		ORDER BY updated_at DESC
		LIMIT 1`,
		key.VideoID, key.SourceLang, key.TargetLang, key.Track, key.Fmt, now,
	)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return job, true, nil
}

// DueForRetry returns pending jobs whose next_retry_at has passed.
func (s *SQLiteStore) DueForRetry(ctx context.Context, now int64, limit int) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, video_id, lang, target_lang, track, fmt, source_hash, status,
		       retry_count, next_retry_at, error_code, error_message, bilingual,
		       created_at, updated_at, expires_at
		FROM jobs
		WHERE status = 'pending' AND next_retry_at <= ?
		ORDER BY next_retry_at ASC
		LIMIT ?`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

// LoadRunning returns every job currently in the translating state, used on
// startup to reset them back to pending (spec.md §4.9).
func (s *SQLiteStore) LoadRunning(ctx context.Context) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, video_id, lang, target_lang, track, fmt, source_hash, status,
		       retry_count, next_retry_at, error_code, error_message, bilingual,
		       created_at, updated_at, expires_at
		FROM jobs
		WHERE status = 'translating'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

// DeleteExpired deletes rows whose expires_at has passed; it never mutates
// live rows (spec.md §3.2).
func (s *SQLiteStore) DeleteExpired(ctx context.Context, now int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE expires_at < ?`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteJob removes a single job row by id.
func (s *SQLiteStore) DeleteJob(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, jobID)
	return err
}

// ListByVideo returns jobs for a video id, most recent first (introspection
// index, spec.md §4.3).
func (s *SQLiteStore) ListByVideo(ctx context.Context, videoID string) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, video_id, lang, target_lang, track, fmt, source_hash, status,
		       retry_count, next_retry_at, error_code, error_message, bilingual,
		       created_at, updated_at, expires_at
		FROM jobs
		WHERE video_id = ?
		ORDER BY updated_at DESC`, videoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

// RecentJobs returns the most recently updated jobs across all videos,
// newest first, used by the /admin/stats recent-jobs window.
func (s *SQLiteStore) RecentJobs(ctx context.Context, limit int) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, video_id, lang, target_lang, track, fmt, source_hash, status,
		       retry_count, next_retry_at, error_code, error_message, bilingual,
		       created_at, updated_at, expires_at
		FROM jobs
		ORDER BY updated_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

// CountByStatus returns the number of jobs per status, used by /health.
func (s *SQLiteStore) CountByStatus(ctx context.Context) (map[JobStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make(map[JobStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		ret[JobStatus(status)] = count
	}
	return ret, rows.Err()
}

// IncrMetadataCounter atomically increments a metadata counter and returns
// its new value.
func (s *SQLiteStore) IncrMetadataCounter(ctx context.Context, key string) (int64, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO metadata (key, value) VALUES (?, '1')
		ON CONFLICT(key) DO UPDATE SET value = CAST(CAST(value AS INTEGER) + 1 AS TEXT)`, key)
	if err != nil {
		return 0, err
	}
	var value string
	if err := s.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&value); err != nil {
		return 0, err
	}
	return strconv.ParseInt(value, 10, 64)
}

// MetadataCounter reads a counter's current value without mutating it.
func (s *SQLiteStore) MetadataCounter(ctx context.Context, key string) (int64, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(value, 10, 64)
}

// Ping verifies store connectivity for /health.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var j Job
	var status string
	if err := row.Scan(
		&j.ID, &j.Key.VideoID, &j.Key.SourceLang, &j.Key.TargetLang, &j.Key.Track, &j.Key.Fmt, &j.SourceHash,
		&status, &j.RetryCount, &j.NextRetryAt, &j.ErrorCode, &j.ErrorMessage, &j.Bilingual,
		&j.CreatedAt, &j.UpdatedAt, &j.ExpiresAt,
	); err != nil {
		return nil, err
	}
	j.Status = JobStatus(status)
	return &j, nil
}

func scanJobs(rows *sql.Rows) ([]*Job, error) {
	ret := make([]*Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		ret = append(ret, job)
	}
	return ret, rows.Err()
}
