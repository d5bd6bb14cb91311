package worker

import (
	"context"
	"errors"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/iago/feedback-insights/internal/queue"
)

type Poller interface {
	PollOnce(ctx context.Context) (bool, error)
}

// Loop polls for work until its context is cancelled, sleeping between
// empty polls.
type Loop struct {
	poller   Poller
	interval time.Duration
	wake     chan struct{}
	logger   *log.Logger
}

func NewLoop(poller Poller, interval time.Duration, logger *log.Logger) *Loop {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Loop{
		poller:   poller,
		interval: interval,
		wake:     make(chan struct{}, 1),
		logger:   logger,
	}
}

// Run returns nil once ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		leased, err := l.poller.PollOnce(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			if l.logger != nil {
				l.logger.Printf("worker poll error: %v", err)
			}
		}
		if leased {
			continue
		}

		timer := time.NewTimer(l.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-l.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Wake cuts the current idle sleep short.
func (l *Loop) Wake() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

type RunConfig struct {
	Concurrency  int
	PollInterval time.Duration
	// Listener is optional; notices wake idle loops early.
	Listener queue.Listener
	Logger   *log.Logger
}

// Run starts cfg.Concurrency independent loops over poller and blocks until
// ctx is cancelled and every in-flight job has finished.
func Run(ctx context.Context, poller Poller, cfg RunConfig) error {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}

	loops := make([]*Loop, cfg.Concurrency)
	group, groupCtx := errgroup.WithContext(ctx)
	for i := range loops {
		loop := NewLoop(poller, cfg.PollInterval, cfg.Logger)
		loops[i] = loop
		group.Go(func() error {
			return loop.Run(groupCtx)
		})
	}

	if cfg.Listener != nil {
		group.Go(func() error {
			listen(groupCtx, cfg.Listener, loops, cfg.Logger)
			return nil
		})
	}
	return group.Wait()
}

func listen(ctx context.Context, listener queue.Listener, loops []*Loop, logger *log.Logger) {
	for {
		err := listener.Listen(ctx, func(context.Context, queue.JobNotice) {
			for _, loop := range loops {
				loop.Wake()
			}
		})
		if ctx.Err() != nil {
			return
		}
		if logger != nil {
			logger.Printf("job notice listener error: %v", err)
		}

		timer := time.NewTimer(2 * time.Second)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}
