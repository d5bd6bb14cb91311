package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/iago/feedback-insights/internal/aggregation"
	"github.com/iago/feedback-insights/internal/domain"
	"github.com/iago/feedback-insights/internal/repository"
	"github.com/iago/feedback-insights/internal/source"
	"github.com/iago/feedback-insights/internal/telemetry"
)

const bookkeepingTimeout = 10 * time.Second

type Extractor interface {
	Extract(ctx context.Context, job *domain.Job) ([]domain.Record, error)
}

type Classifier interface {
	ClassifyMessages(ctx context.Context, records []domain.Record) []domain.Message
}

type ProcessorConfig struct {
	Backoff       []time.Duration
	JobTimeout    time.Duration
	ProgressEvery int
	// DeleteSource removes upload files after the job commits.
	DeleteSource bool
	Files        source.FileStore
	Logger       *log.Logger
	Now          func() time.Time
}

// Processor runs one leased job through extraction, classification,
// persistence and aggregation inside the lease.
type Processor struct {
	repo          repository.JobsRepository
	extractor     Extractor
	classifier    Classifier
	files         source.FileStore
	backoff       []time.Duration
	jobTimeout    time.Duration
	progressEvery int
	deleteSource  bool
	logger        *log.Logger
	now           func() time.Time
}

func NewProcessor(
	repo repository.JobsRepository,
	extractor Extractor,
	classifier Classifier,
	cfg ProcessorConfig,
) *Processor {
	if len(cfg.Backoff) == 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 10 * time.Minute
	}
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = 10
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Processor{
		repo:          repo,
		extractor:     extractor,
		classifier:    classifier,
		files:         cfg.Files,
		backoff:       cfg.Backoff,
		jobTimeout:    cfg.JobTimeout,
		progressEvery: cfg.ProgressEvery,
		deleteSource:  cfg.DeleteSource,
		logger:        cfg.Logger,
		now:           cfg.Now,
	}
}

// PollOnce leases at most one eligible job and processes it. It reports
// whether a job was leased. Cancelling ctx stops new leases but not a job
// already in flight.
func (p *Processor) PollOnce(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	lease, err := p.repo.LeaseJob(ctx, p.now())
	if err != nil {
		if errors.Is(err, repository.ErrNoEligibleJob) {
			return false, nil
		}
		return false, fmt.Errorf("lease job: %w", err)
	}

	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.jobTimeout)
	defer cancel()
	p.process(jobCtx, lease)
	return true, nil
}

func (p *Processor) process(ctx context.Context, lease repository.Lease) {
	job := lease.Job()
	started := p.now()
	defer lease.Release(context.WithoutCancel(ctx))

	telemetry.JobsLeased.Inc()
	telemetry.InFlightGauge.Inc()
	defer telemetry.InFlightGauge.Dec()
	defer telemetry.JobProgress.DeleteLabelValues(job.ID)

	p.logf("job leased job_id=%s client_id=%s type=%s attempt=%d", job.ID, job.ClientID, job.Type, job.RetryCount+1)

	update, err := p.run(ctx, lease, job)
	if err == nil {
		err = lease.Complete(ctx, update)
		if err != nil {
			err = fmt.Errorf("commit: %w", err)
		}
	}
	if err != nil {
		p.recordFailure(ctx, lease, job, err)
		telemetry.JobDuration.WithLabelValues("failed").Observe(p.now().Sub(started).Seconds())
		return
	}

	telemetry.JobsCompleted.Inc()
	telemetry.MessagesStored.Add(float64(update.MessagesAdded))
	telemetry.JobDuration.WithLabelValues("completed").Observe(p.now().Sub(started).Seconds())
	p.logf("job completed job_id=%s records=%d inserted=%d", job.ID, update.ProcessedRecords, update.MessagesAdded)

	if p.deleteSource && job.Type.ReadsFile() && p.files != nil {
		if err := p.files.Remove(context.WithoutCancel(ctx), job.Source.FilePath); err != nil {
			p.logf("source cleanup failed job_id=%s path=%s err=%v", job.ID, job.Source.FilePath, err)
		}
	}
}

func (p *Processor) run(ctx context.Context, lease repository.Lease, job *domain.Job) (domain.CompletionUpdate, error) {
	records, err := p.extractor.Extract(ctx, job)
	if err != nil {
		return domain.CompletionUpdate{}, fmt.Errorf("extract: %w", err)
	}
	total := len(records)
	if err := lease.SetTotal(ctx, total); err != nil {
		return domain.CompletionUpdate{}, err
	}

	messages := p.classifier.ClassifyMessages(ctx, records)

	inserted := make([]domain.Message, 0, len(messages))
	for start := 0; start < len(messages); start += p.progressEvery {
		end := start + p.progressEvery
		if end > len(messages) {
			end = len(messages)
		}
		fresh, err := lease.InsertMessages(ctx, messages[start:end])
		if err != nil {
			return domain.CompletionUpdate{}, err
		}
		inserted = append(inserted, fresh...)

		if err := lease.SetProgress(ctx, end); err != nil {
			return domain.CompletionUpdate{}, err
		}
		telemetry.JobProgress.WithLabelValues(job.ID).Set(float64(end) / float64(total))
	}

	// Only rows inserted by this attempt are folded, so records already stored
	// by an earlier commit never count twice.
	deltas := aggregation.Fold(inserted)
	if err := lease.ApplySummaries(ctx, job.ClientID, deltas); err != nil {
		return domain.CompletionUpdate{}, err
	}

	now := p.now()
	if err := lease.IncrementClient(ctx, job.ClientID, len(inserted), now); err != nil {
		return domain.CompletionUpdate{}, err
	}

	return domain.CompletionUpdate{
		ProcessedRecords: total,
		MessagesAdded:    len(inserted),
		CompletedAt:      now,
	}, nil
}

func (p *Processor) recordFailure(ctx context.Context, lease repository.Lease, job *domain.Job, cause error) {
	update := p.failureUpdate(job, cause)

	bookCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
	defer cancel()

	if err := lease.Fail(bookCtx, update); err != nil {
		p.logf("lease failure bookkeeping failed job_id=%s err=%v", job.ID, err)
		if err := p.repo.RecordFailure(bookCtx, job.ID, job.RetryCount, update); err != nil {
			p.logf("retry bookkeeping lost job_id=%s err=%v", job.ID, err)
			return
		}
	}

	if update.Status == domain.JobStatusFailed {
		telemetry.JobsFailed.Inc()
		p.logf("job failed job_id=%s retries=%d err=%v", job.ID, update.RetryCount, cause)
		return
	}
	telemetry.JobsRetried.Inc()
	p.logf("job retry scheduled job_id=%s retry=%d next_retry_at=%s err=%v",
		job.ID, update.RetryCount, update.NextRetryAt.Format(time.RFC3339), cause)
}

func (p *Processor) failureUpdate(job *domain.Job, cause error) domain.FailureUpdate {
	maxRetries := job.MaxRetries
	if maxRetries <= 0 {
		maxRetries = domain.DefaultMaxRetries
	}

	now := p.now()
	update := domain.FailureUpdate{
		RetryCount: job.RetryCount + 1,
		MaxRetries: maxRetries,
		LastError:  cause.Error(),
		At:         now,
	}
	if update.RetryCount >= maxRetries {
		update.RetryCount = maxRetries
		update.Status = domain.JobStatusFailed
		update.ErrorMessage = cause.Error()
		return update
	}

	next := now.Add(Backoff(p.backoff, update.RetryCount))
	update.Status = domain.JobStatusPending
	update.NextRetryAt = &next
	return update
}

func (p *Processor) logf(format string, args ...any) {
	if p.logger == nil {
		return
	}
	p.logger.Printf(format, args...)
}
