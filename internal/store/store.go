package store

import "context"

// Store is the narrow persistence contract the worker pool and cache depend
// on, so both can be tested against a fake without pulling in SQLite.
type Store interface {
	UpsertJob(ctx context.Context, job *Job) error
	FindActive(ctx context.Context, key RequestKey, sourceHash string) (*Job, bool, error)
	MostRecentDone(ctx context.Context, key RequestKey, now int64) (*Job, bool, error)
	DueForRetry(ctx context.Context, now int64, limit int) ([]*Job, error)
	LoadRunning(ctx context.Context) ([]*Job, error)
	DeleteExpired(ctx context.Context, now int64) (int64, error)
	DeleteJob(ctx context.Context, jobID string) error
	ListByVideo(ctx context.Context, videoID string) ([]*Job, error)
	RecentJobs(ctx context.Context, limit int) ([]*Job, error)
	CountByStatus(ctx context.Context) (map[JobStatus]int, error)
	IncrMetadataCounter(ctx context.Context, key string) (int64, error)
	MetadataCounter(ctx context.Context, key string) (int64, error)
	Ping(ctx context.Context) error
}

var _ Store = (*SQLiteStore)(nil)
