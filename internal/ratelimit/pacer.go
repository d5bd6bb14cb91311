package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Pacer blocks until the caller may send the next upstream request.
type Pacer interface {
	Wait(ctx context.Context) error
}

// NewLocalPacer spaces requests by interval inside one process. A zero
// interval disables pacing.
func NewLocalPacer(interval time.Duration) Pacer {
	if interval <= 0 {
		return noPacer{}
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

type noPacer struct{}

func (noPacer) Wait(ctx context.Context) error {
	return ctx.Err()
}

// RedisPacer polls a shared TokenBucket until a token is granted.
type RedisPacer struct {
	bucket *TokenBucket
	key    string
	poll   time.Duration
}

func NewRedisPacer(bucket *TokenBucket, key string) *RedisPacer {
	poll := time.Duration(float64(time.Second) / bucket.refill)
	if poll < 10*time.Millisecond {
		poll = 10 * time.Millisecond
	}
	return &RedisPacer{bucket: bucket, key: key, poll: poll}
}

func (p *RedisPacer) Wait(ctx context.Context) error {
	for {
		allowed, _, err := p.bucket.Allow(ctx, p.key)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		timer := time.NewTimer(p.poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
