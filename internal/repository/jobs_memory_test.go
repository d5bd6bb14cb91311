package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/iago/feedback-insights/internal/domain"
)

var baseTime = time.Date(2024, 4, 2, 8, 0, 0, 0, time.UTC)

func newJob(id string, createdAt time.Time) *domain.Job {
	return &domain.Job{
		ID:         id,
		ClientID:   "client-1",
		Type:       domain.JobTypeAPIIngest,
		Status:     domain.JobStatusPending,
		MaxRetries: domain.DefaultMaxRetries,
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
		Source:     domain.Source{Records: []domain.RawRecord{{Text: "hello"}}},
	}
}

func message(jobID string, index int, sentiment domain.Sentiment) domain.Message {
	return domain.Message{
		Record: domain.Record{
			ID:        domain.MessageID(jobID, index),
			JobID:     jobID,
			ClientID:  "client-1",
			Text:      "text",
			Channel:   "email",
			Timestamp: baseTime,
		},
		Classification: domain.Classification{
			Sentiment: sentiment,
			Topic:     domain.TopicDelivery,
			Intent:    domain.IntentComplaint,
			Source:    domain.ClassifiedByAI,
		},
	}
}

func TestLeaseJobOrdersByCreatedAt(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryJobsRepository()
	_ = repo.CreateJob(ctx, newJob("newer", baseTime.Add(time.Minute)))
	_ = repo.CreateJob(ctx, newJob("older", baseTime))

	lease, err := repo.LeaseJob(ctx, baseTime.Add(time.Hour))
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	if lease.Job().ID != "older" {
		t.Fatalf("expected oldest job first, got %s", lease.Job().ID)
	}

	second, err := repo.LeaseJob(ctx, baseTime.Add(time.Hour))
	if err != nil {
		t.Fatalf("second lease: %v", err)
	}
	if second.Job().ID != "newer" {
		t.Fatalf("expected newer job second, got %s", second.Job().ID)
	}

	if _, err := repo.LeaseJob(ctx, baseTime.Add(time.Hour)); !errors.Is(err, ErrNoEligibleJob) {
		t.Fatalf("expected ErrNoEligibleJob, got %v", err)
	}
}

func TestLeaseJobSkipsFutureRetries(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryJobsRepository()
	job := newJob("later", baseTime)
	retryAt := baseTime.Add(30 * time.Second)
	job.NextRetryAt = &retryAt
	_ = repo.CreateJob(ctx, job)

	if _, err := repo.LeaseJob(ctx, baseTime.Add(29*time.Second)); !errors.Is(err, ErrNoEligibleJob) {
		t.Fatalf("expected job to be ineligible before next_retry_at, got %v", err)
	}
	if _, err := repo.LeaseJob(ctx, retryAt); err != nil {
		t.Fatalf("expected job to be eligible at next_retry_at, got %v", err)
	}
}

func TestLeaseJobIsExclusive(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryJobsRepository()
	_ = repo.CreateJob(ctx, newJob("only", baseTime))

	var (
		wg      sync.WaitGroup
		winners int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.LeaseJob(ctx, baseTime); err == nil {
				atomic.AddInt32(&winners, 1)
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Fatalf("expected exactly one lease, got %d", winners)
	}
	job, _ := repo.GetJob(ctx, "only")
	if job.Status != domain.JobStatusProcessing || job.StartedAt == nil {
		t.Fatalf("expected processing job with started_at, got %+v", job)
	}
}

func TestLeaseCompleteAppliesStagedWrites(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryJobsRepository()
	_ = repo.CreateJob(ctx, newJob("job-1", baseTime))

	lease, _ := repo.LeaseJob(ctx, baseTime)
	_ = lease.SetTotal(ctx, 2)
	inserted, err := lease.InsertMessages(ctx, []domain.Message{
		message("job-1", 0, domain.SentimentPositive),
		message("job-1", 1, domain.SentimentNegative),
		message("job-1", 1, domain.SentimentNegative),
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if len(inserted) != 2 {
		t.Fatalf("expected duplicate id in the same batch to be skipped, got %d", len(inserted))
	}

	if got := repo.Messages("client-1"); len(got) != 0 {
		t.Fatalf("expected staged messages to stay invisible before commit, got %d", len(got))
	}

	deltas := domain.SummaryDeltas{
		Topics: []domain.TopicDelta{{Topic: domain.TopicDelivery, Counts: domain.Counts{Total: 2, Positive: 1, Negative: 1}}},
	}
	_ = lease.ApplySummaries(ctx, "client-1", deltas)
	_ = lease.IncrementClient(ctx, "client-1", 2, baseTime)
	if err := lease.Complete(ctx, domain.CompletionUpdate{ProcessedRecords: 2, MessagesAdded: 2, CompletedAt: baseTime}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	job, _ := repo.GetJob(ctx, "job-1")
	if job.Status != domain.JobStatusCompleted || job.ProcessedRecords != 2 || job.TotalRecords != 2 {
		t.Fatalf("unexpected completed job: %+v", job)
	}
	if got := repo.Messages("client-1"); len(got) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(got))
	}
	if got := repo.TopicSummary("client-1")[domain.TopicDelivery]; got.Total != 2 {
		t.Fatalf("expected topic total 2, got %+v", got)
	}
	if counter, ok := repo.Client("client-1"); !ok || counter.TotalMessages != 2 {
		t.Fatalf("expected client counter 2, got %+v", counter)
	}
	if err := lease.Fail(ctx, domain.FailureUpdate{}); !errors.Is(err, ErrLeaseClosed) {
		t.Fatalf("expected closed lease error, got %v", err)
	}
}

func TestLeaseFailDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryJobsRepository()
	_ = repo.CreateJob(ctx, newJob("job-1", baseTime))

	lease, _ := repo.LeaseJob(ctx, baseTime)
	_ = lease.SetTotal(ctx, 1)
	_, _ = lease.InsertMessages(ctx, []domain.Message{message("job-1", 0, domain.SentimentNeutral)})

	retryAt := baseTime.Add(5 * time.Second)
	err := lease.Fail(ctx, domain.FailureUpdate{
		RetryCount:  1,
		Status:      domain.JobStatusPending,
		NextRetryAt: &retryAt,
		LastError:   "boom",
		At:          baseTime,
	})
	if err != nil {
		t.Fatalf("fail: %v", err)
	}

	job, _ := repo.GetJob(ctx, "job-1")
	if job.Status != domain.JobStatusPending || job.RetryCount != 1 || job.LastError != "boom" {
		t.Fatalf("unexpected job after failure: %+v", job)
	}
	if job.TotalRecords != 0 {
		t.Fatalf("expected total_records write to be discarded, got %d", job.TotalRecords)
	}
	if got := repo.Messages("client-1"); len(got) != 0 {
		t.Fatalf("expected no messages after failure, got %d", len(got))
	}
}

func TestLeaseReleaseRestoresJob(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryJobsRepository()
	_ = repo.CreateJob(ctx, newJob("job-1", baseTime))

	lease, _ := repo.LeaseJob(ctx, baseTime)
	lease.Release(ctx)

	job, _ := repo.GetJob(ctx, "job-1")
	if job.Status != domain.JobStatusPending || job.StartedAt != nil {
		t.Fatalf("expected job restored to pending, got %+v", job)
	}
	if _, err := repo.LeaseJob(ctx, baseTime); err != nil {
		t.Fatalf("expected released job to be leasable again, got %v", err)
	}
}

func TestRecordFailureIsConditional(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryJobsRepository()
	_ = repo.CreateJob(ctx, newJob("job-1", baseTime))

	update := domain.FailureUpdate{RetryCount: 1, Status: domain.JobStatusPending, LastError: "x", At: baseTime}
	if err := repo.RecordFailure(ctx, "job-1", 0, update); err != nil {
		t.Fatalf("record failure: %v", err)
	}
	if err := repo.RecordFailure(ctx, "job-1", 0, update); !errors.Is(err, ErrJobChanged) {
		t.Fatalf("expected stale retry count to be rejected, got %v", err)
	}
	if err := repo.RecordFailure(ctx, "missing", 0, update); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFailureBookkeepingRespectsRetryBudget(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryJobsRepository()
	job := newJob("job-1", baseTime)
	job.MaxRetries = 0
	_ = repo.CreateJob(ctx, job)

	over := domain.FailureUpdate{RetryCount: 1, Status: domain.JobStatusPending, LastError: "x", At: baseTime}
	if err := repo.RecordFailure(ctx, "job-1", 0, over); !errors.Is(err, ErrRetryBudget) {
		t.Fatalf("expected ErrRetryBudget, got %v", err)
	}

	lease, err := repo.LeaseJob(ctx, baseTime)
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	if err := lease.Fail(ctx, over); !errors.Is(err, ErrRetryBudget) {
		t.Fatalf("expected lease failure to be rejected, got %v", err)
	}
	stored, _ := repo.GetJob(ctx, "job-1")
	if stored.Status != domain.JobStatusPending || stored.RetryCount != 0 {
		t.Fatalf("expected job restored after rejected failure, got %+v", stored)
	}

	raised := over
	raised.MaxRetries = domain.DefaultMaxRetries
	if err := repo.RecordFailure(ctx, "job-1", 0, raised); err != nil {
		t.Fatalf("record failure with budget: %v", err)
	}
	stored, _ = repo.GetJob(ctx, "job-1")
	if stored.MaxRetries != domain.DefaultMaxRetries || stored.RetryCount != 1 {
		t.Fatalf("expected budget raised, got %+v", stored)
	}
}

func TestListJobsFiltersAndPaginates(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryJobsRepository()
	for i := 0; i < 5; i++ {
		job := newJob(fmt.Sprintf("job-%d", i), baseTime.Add(time.Duration(i)*time.Minute))
		if i == 4 {
			job.ClientID = "client-2"
		}
		_ = repo.CreateJob(ctx, job)
	}

	items, total, err := repo.ListJobs(ctx, JobFilter{ClientID: "client-1", Page: 1, PageSize: 3})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 4 || len(items) != 3 {
		t.Fatalf("expected 3 of 4 items, got %d of %d", len(items), total)
	}
	if items[0].ID != "job-3" {
		t.Fatalf("expected newest first, got %s", items[0].ID)
	}

	items, _, _ = repo.ListJobs(ctx, JobFilter{ClientID: "client-1", Page: 2, PageSize: 3})
	if len(items) != 1 || items[0].ID != "job-0" {
		t.Fatalf("unexpected second page: %+v", items)
	}
}
