package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iago/feedback-insights/internal/domain"
	"github.com/iago/feedback-insights/internal/queue"
	"github.com/iago/feedback-insights/internal/repository"
	"github.com/iago/feedback-insights/internal/telemetry"
)

var ErrInvalidJob = errors.New("invalid job")

type EnqueueInput struct {
	ClientID   string             `json:"client_id"`
	Type       domain.JobType     `json:"type"`
	FilePath   string             `json:"file_path,omitempty"`
	Records    []domain.RawRecord `json:"records,omitempty"`
	MaxRetries int                `json:"max_retries,omitempty"`
}

type JobsServiceConfig struct {
	DefaultMaxRetries int
	// Notifier is optional; jobs are found by polling without it.
	Notifier queue.Notifier
	Logger   *log.Logger
	Now      func() time.Time
}

// JobsService is the producer side of the job table and the status projection.
type JobsService struct {
	repo              repository.JobsRepository
	notifier          queue.Notifier
	defaultMaxRetries int
	logger            *log.Logger
	now               func() time.Time
}

func NewJobsService(repo repository.JobsRepository, cfg JobsServiceConfig) *JobsService {
	if cfg.DefaultMaxRetries <= 0 {
		cfg.DefaultMaxRetries = domain.DefaultMaxRetries
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &JobsService{
		repo:              repo,
		notifier:          cfg.Notifier,
		defaultMaxRetries: cfg.DefaultMaxRetries,
		logger:            cfg.Logger,
		now:               cfg.Now,
	}
}

// Enqueue validates the input and stores a new pending job.
func (s *JobsService) Enqueue(ctx context.Context, input EnqueueInput) (*domain.Job, error) {
	if err := validateEnqueue(input); err != nil {
		return nil, err
	}

	maxRetries := input.MaxRetries
	if maxRetries <= 0 {
		maxRetries = s.defaultMaxRetries
	}

	now := s.now()
	job := &domain.Job{
		ID:         uuid.NewString(),
		ClientID:   strings.TrimSpace(input.ClientID),
		Type:       input.Type,
		Status:     domain.JobStatusPending,
		MaxRetries: maxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if input.Type.ReadsFile() {
		job.Source.FilePath = strings.TrimSpace(input.FilePath)
	} else {
		job.Source.Records = append([]domain.RawRecord(nil), input.Records...)
	}

	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	telemetry.JobsEnqueued.Inc()
	s.logf("job enqueued job_id=%s client_id=%s type=%s", job.ID, job.ClientID, job.Type)

	if s.notifier != nil {
		notice := queue.JobNotice{JobID: job.ID, ClientID: job.ClientID, Type: job.Type, RequestedAt: now}
		if err := s.notifier.Notify(ctx, notice); err != nil {
			s.logf("job notice failed job_id=%s err=%v", job.ID, err)
		}
	}
	return job, nil
}

func (s *JobsService) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	return s.repo.GetJob(ctx, jobID)
}

// Status returns the read-only progress projection of a job.
func (s *JobsService) Status(ctx context.Context, jobID string) (domain.JobStatusView, error) {
	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		return domain.JobStatusView{}, err
	}
	return job.StatusView(), nil
}

func (s *JobsService) ListJobs(ctx context.Context, filter repository.JobFilter) ([]domain.JobStatusView, int, error) {
	jobs, total, err := s.repo.ListJobs(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	views := make([]domain.JobStatusView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, job.StatusView())
	}
	return views, total, nil
}

func validateEnqueue(input EnqueueInput) error {
	if strings.TrimSpace(input.ClientID) == "" {
		return fmt.Errorf("%w: client_id is required", ErrInvalidJob)
	}
	if input.MaxRetries < 0 {
		return fmt.Errorf("%w: max_retries must not be negative", ErrInvalidJob)
	}
	if !input.Type.Valid() {
		return fmt.Errorf("%w: unsupported type %q", ErrInvalidJob, input.Type)
	}
	if input.Type.ReadsFile() {
		if strings.TrimSpace(input.FilePath) == "" {
			return fmt.Errorf("%w: file_path is required for %s jobs", ErrInvalidJob, input.Type)
		}
		return nil
	}
	if len(input.Records) == 0 {
		return fmt.Errorf("%w: records are required for %s jobs", ErrInvalidJob, input.Type)
	}
	return nil
}

func (s *JobsService) logf(format string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Printf(format, args...)
}
