package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iago/feedback-insights/internal/domain"
)

// MemoryJobsRepository keeps jobs, messages and summaries in memory for local
// development and tests. It follows the same lease contract as Postgres.
type MemoryJobsRepository struct {
	mu       sync.Mutex
	jobs     map[string]*domain.Job
	leased   map[string]bool
	messages map[string]domain.Message
	daily    map[string]map[domain.DailyKey]domain.Counts
	topics   map[string]map[string]domain.Counts
	channels map[string]map[string]domain.Counts
	clients  map[string]domain.ClientCounter
}

func NewMemoryJobsRepository() *MemoryJobsRepository {
	return &MemoryJobsRepository{
		jobs:     make(map[string]*domain.Job),
		leased:   make(map[string]bool),
		messages: make(map[string]domain.Message),
		daily:    make(map[string]map[domain.DailyKey]domain.Counts),
		topics:   make(map[string]map[string]domain.Counts),
		channels: make(map[string]map[string]domain.Counts),
		clients:  make(map[string]domain.ClientCounter),
	}
}

func (r *MemoryJobsRepository) CreateJob(_ context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.jobs[job.ID] = job.Clone()
	return nil
}

func (r *MemoryJobsRepository) GetJob(_ context.Context, jobID string) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	return job.Clone(), nil
}

func (r *MemoryJobsRepository) ListJobs(_ context.Context, filter JobFilter) ([]*domain.Job, int, error) {
	filter = normalizeFilter(filter)

	r.mu.Lock()
	defer r.mu.Unlock()

	items := make([]*domain.Job, 0)
	for _, job := range r.jobs {
		if filter.ClientID != "" && job.ClientID != filter.ClientID {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		items = append(items, job.Clone())
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})

	total := len(items)
	start := (filter.Page - 1) * filter.PageSize
	if start >= total {
		return []*domain.Job{}, total, nil
	}
	end := start + filter.PageSize
	if end > total {
		end = total
	}
	return items[start:end], total, nil
}

func (r *MemoryJobsRepository) LeaseJob(_ context.Context, now time.Time) (Lease, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var next *domain.Job
	for _, job := range r.jobs {
		if r.leased[job.ID] || !job.Eligible(now) {
			continue
		}
		if next == nil || job.CreatedAt.Before(next.CreatedAt) ||
			(job.CreatedAt.Equal(next.CreatedAt) && job.ID < next.ID) {
			next = job
		}
	}
	if next == nil {
		return nil, ErrNoEligibleJob
	}

	before := next.Clone()
	startedAt := now
	next.Status = domain.JobStatusProcessing
	next.StartedAt = &startedAt
	next.UpdatedAt = now
	r.leased[next.ID] = true

	return &memoryLease{
		repo:      r,
		job:       next.Clone(),
		before:    before,
		processed: next.ProcessedRecords,
		total:     next.TotalRecords,
		staged:    make(map[string]bool),
	}, nil
}

func (r *MemoryJobsRepository) RecordFailure(
	_ context.Context,
	jobID string,
	expectedRetryCount int,
	update domain.FailureUpdate,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	if r.leased[jobID] || job.Status != domain.JobStatusPending || job.RetryCount != expectedRetryCount {
		return ErrJobChanged
	}
	return applyFailure(job, update)
}

// Messages returns the stored messages of a client ordered by id.
func (r *MemoryJobsRepository) Messages(clientID string) []domain.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.Message, 0)
	for _, message := range r.messages {
		if message.ClientID == clientID {
			out = append(out, message)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *MemoryJobsRepository) DailyAnalytics(clientID string) map[domain.DailyKey]domain.Counts {
	r.mu.Lock()
	defer r.mu.Unlock()
	return copyCounts(r.daily[clientID])
}

func (r *MemoryJobsRepository) TopicSummary(clientID string) map[string]domain.Counts {
	r.mu.Lock()
	defer r.mu.Unlock()
	return copyCounts(r.topics[clientID])
}

func (r *MemoryJobsRepository) ChannelSummary(clientID string) map[string]domain.Counts {
	r.mu.Lock()
	defer r.mu.Unlock()
	return copyCounts(r.channels[clientID])
}

func (r *MemoryJobsRepository) Client(clientID string) (domain.ClientCounter, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counter, ok := r.clients[clientID]
	return counter, ok
}

type memoryLease struct {
	repo      *MemoryJobsRepository
	job       *domain.Job
	before    *domain.Job
	done      bool
	total     int
	processed int
	staged    map[string]bool
	inserted  []domain.Message
	deltas    []clientDeltas
	counters  []domain.ClientCounter
}

type clientDeltas struct {
	clientID string
	deltas   domain.SummaryDeltas
}

func (l *memoryLease) Job() *domain.Job {
	return l.job.Clone()
}

func (l *memoryLease) SetTotal(_ context.Context, total int) error {
	if l.done {
		return ErrLeaseClosed
	}
	l.total = total
	return nil
}

func (l *memoryLease) SetProgress(_ context.Context, processed int) error {
	if l.done {
		return ErrLeaseClosed
	}
	l.processed = processed
	return nil
}

func (l *memoryLease) InsertMessages(_ context.Context, messages []domain.Message) ([]domain.Message, error) {
	if l.done {
		return nil, ErrLeaseClosed
	}

	l.repo.mu.Lock()
	defer l.repo.mu.Unlock()

	inserted := make([]domain.Message, 0, len(messages))
	for _, message := range messages {
		if _, exists := l.repo.messages[message.ID]; exists || l.staged[message.ID] {
			continue
		}
		l.staged[message.ID] = true
		inserted = append(inserted, message)
	}
	l.inserted = append(l.inserted, inserted...)
	return inserted, nil
}

func (l *memoryLease) ApplySummaries(_ context.Context, clientID string, deltas domain.SummaryDeltas) error {
	if l.done {
		return ErrLeaseClosed
	}
	l.deltas = append(l.deltas, clientDeltas{clientID: clientID, deltas: deltas})
	return nil
}

func (l *memoryLease) IncrementClient(_ context.Context, clientID string, added int, at time.Time) error {
	if l.done {
		return ErrLeaseClosed
	}
	analysis := at
	l.counters = append(l.counters, domain.ClientCounter{ClientID: clientID, TotalMessages: added, LastAnalysis: &analysis})
	return nil
}

func (l *memoryLease) Complete(_ context.Context, update domain.CompletionUpdate) error {
	if l.done {
		return ErrLeaseClosed
	}
	l.done = true

	r := l.repo
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, message := range l.inserted {
		r.messages[message.ID] = message
	}
	for _, item := range l.deltas {
		r.mergeDeltas(item.clientID, item.deltas)
	}
	for _, counter := range l.counters {
		current := r.clients[counter.ClientID]
		current.ClientID = counter.ClientID
		current.TotalMessages += counter.TotalMessages
		if current.LastAnalysis == nil || counter.LastAnalysis.After(*current.LastAnalysis) {
			current.LastAnalysis = counter.LastAnalysis
		}
		r.clients[counter.ClientID] = current
	}

	job := r.jobs[l.job.ID]
	completedAt := update.CompletedAt
	job.Status = domain.JobStatusCompleted
	job.TotalRecords = l.total
	job.ProcessedRecords = update.ProcessedRecords
	job.CompletedAt = &completedAt
	job.NextRetryAt = nil
	job.UpdatedAt = completedAt
	delete(r.leased, l.job.ID)
	return nil
}

func (l *memoryLease) Fail(_ context.Context, update domain.FailureUpdate) error {
	if l.done {
		return ErrLeaseClosed
	}
	l.done = true

	r := l.repo
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.leased, l.job.ID)
	if err := applyFailure(r.jobs[l.job.ID], update); err != nil {
		r.jobs[l.job.ID] = l.before
		return err
	}
	return nil
}

func (l *memoryLease) Release(_ context.Context) {
	if l.done {
		return
	}
	l.done = true

	r := l.repo
	r.mu.Lock()
	defer r.mu.Unlock()

	r.jobs[l.job.ID] = l.before
	delete(r.leased, l.job.ID)
}

func (r *MemoryJobsRepository) mergeDeltas(clientID string, deltas domain.SummaryDeltas) {
	if r.daily[clientID] == nil {
		r.daily[clientID] = make(map[domain.DailyKey]domain.Counts)
		r.topics[clientID] = make(map[string]domain.Counts)
		r.channels[clientID] = make(map[string]domain.Counts)
	}
	for _, delta := range deltas.Daily {
		counts := r.daily[clientID][delta.DailyKey]
		counts.Merge(delta.Counts)
		r.daily[clientID][delta.DailyKey] = counts
	}
	for _, delta := range deltas.Topics {
		counts := r.topics[clientID][delta.Topic]
		counts.Merge(delta.Counts)
		r.topics[clientID][delta.Topic] = counts
	}
	for _, delta := range deltas.Channels {
		counts := r.channels[clientID][delta.Channel]
		counts.Merge(delta.Counts)
		r.channels[clientID][delta.Channel] = counts
	}
}

func applyFailure(job *domain.Job, update domain.FailureUpdate) error {
	maxRetries := job.MaxRetries
	if update.MaxRetries > maxRetries {
		maxRetries = update.MaxRetries
	}
	if update.RetryCount > maxRetries {
		return ErrRetryBudget
	}
	job.MaxRetries = maxRetries
	job.Status = update.Status
	job.RetryCount = update.RetryCount
	job.NextRetryAt = update.NextRetryAt
	job.LastError = update.LastError
	if update.ErrorMessage != "" {
		job.ErrorMessage = update.ErrorMessage
	}
	job.UpdatedAt = update.At
	return nil
}

func copyCounts[K comparable](source map[K]domain.Counts) map[K]domain.Counts {
	out := make(map[K]domain.Counts, len(source))
	for key, value := range source {
		out[key] = value
	}
	return out
}
