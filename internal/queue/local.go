package queue

import (
	"context"
	"log"
)

// LocalQueue carries notices inside one process when Redis is not configured.
// Notices are dropped when the buffer is full since a later poll finds the job anyway.
type LocalQueue struct {
	ch     chan JobNotice
	logger *log.Logger
}

func NewLocalQueue(bufferSize int, logger *log.Logger) *LocalQueue {
	if bufferSize <= 0 {
		bufferSize = 512
	}
	return &LocalQueue{
		ch:     make(chan JobNotice, bufferSize),
		logger: logger,
	}
}

func (q *LocalQueue) Notify(ctx context.Context, notice JobNotice) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.ch <- notice:
	default:
		if q.logger != nil {
			q.logger.Printf("local queue full, dropping notice job_id=%s", notice.JobID)
		}
	}
	return nil
}

func (q *LocalQueue) Listen(ctx context.Context, handler func(context.Context, JobNotice)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case notice := <-q.ch:
			handler(ctx, notice)
		}
	}
}

func (q *LocalQueue) Pending() int {
	return len(q.ch)
}
