package queue

import (
	"context"
	"time"

	"github.com/iago/feedback-insights/internal/domain"
)

// JobNotice announces that a job was created. It is a wake-up hint for idle
// workers; the job store stays the only source of truth for what to lease.
type JobNotice struct {
	JobID       string
	ClientID    string
	Type        domain.JobType
	RequestedAt time.Time
}

// Notifier publishes job notices.
type Notifier interface {
	Notify(ctx context.Context, notice JobNotice) error
}

// Listener delivers job notices to handler until ctx is done.
type Listener interface {
	Listen(ctx context.Context, handler func(context.Context, JobNotice)) error
}
