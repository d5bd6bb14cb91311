package repository

import (
	"context"
	"errors"
	"time"

	"github.com/iago/feedback-insights/internal/domain"
)

var (
	ErrNotFound      = errors.New("resource not found")
	ErrNoEligibleJob = errors.New("no eligible job")
	// ErrJobChanged is returned by compare-and-set updates that lost to a
	// concurrent writer.
	ErrJobChanged  = errors.New("job changed concurrently")
	ErrLeaseClosed = errors.New("lease already finished")
	// ErrRetryBudget mirrors the jobs_retry_bounded check: retry_count may
	// never exceed max_retries.
	ErrRetryBudget = errors.New("retry_count exceeds max_retries")
)

type JobFilter struct {
	ClientID string
	Status   domain.JobStatus
	Page     int
	PageSize int
}

// JobsRepository is the durable job table plus the lease protocol.
type JobsRepository interface {
	CreateJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*domain.Job, int, error)

	// LeaseJob atomically claims the oldest eligible job. It returns
	// ErrNoEligibleJob when nothing is ready.
	LeaseJob(ctx context.Context, now time.Time) (Lease, error)

	// RecordFailure writes retry bookkeeping outside a lease. It only applies
	// while the job is still pending with expectedRetryCount retries.
	RecordFailure(ctx context.Context, jobID string, expectedRetryCount int, update domain.FailureUpdate) error
}

// Lease is exclusive ownership of one job for one attempt. All writes made
// through it become visible together on Complete. Fail discards them and
// stores only the retry bookkeeping. Release abandons the attempt and leaves
// the job as it was before the lease.
type Lease interface {
	Job() *domain.Job
	SetTotal(ctx context.Context, total int) error
	SetProgress(ctx context.Context, processed int) error
	// InsertMessages stores messages whose id is not present yet and returns
	// the ones actually inserted, in input order.
	InsertMessages(ctx context.Context, messages []domain.Message) ([]domain.Message, error)
	ApplySummaries(ctx context.Context, clientID string, deltas domain.SummaryDeltas) error
	IncrementClient(ctx context.Context, clientID string, added int, at time.Time) error
	Complete(ctx context.Context, update domain.CompletionUpdate) error
	Fail(ctx context.Context, update domain.FailureUpdate) error
	Release(ctx context.Context)
}

func normalizeFilter(filter JobFilter) JobFilter {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}
	if filter.PageSize > 200 {
		filter.PageSize = 200
	}
	return filter
}
