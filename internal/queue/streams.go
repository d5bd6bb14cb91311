package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iago/feedback-insights/internal/domain"
)

type StreamsConfig struct {
	Stream   string
	Group    string
	Consumer string
	// MaxLen trims the stream approximately; notices are disposable.
	MaxLen int64
	Block  time.Duration
}

// StreamsQueue implements Notifier and Listener on a Redis Stream with a
// consumer group, so each notice wakes a single worker process.
type StreamsQueue struct {
	client   *redis.Client
	stream   string
	group    string
	consumer string
	maxLen   int64
	block    time.Duration
}

func NewStreamsQueue(ctx context.Context, client *redis.Client, cfg StreamsConfig) (*StreamsQueue, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.Stream == "" {
		cfg.Stream = "feedback_jobs"
	}
	if cfg.Group == "" {
		cfg.Group = "feedback_workers"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "worker-1"
	}
	if cfg.MaxLen <= 0 {
		cfg.MaxLen = 10000
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}

	queue := &StreamsQueue{
		client:   client,
		stream:   cfg.Stream,
		group:    cfg.Group,
		consumer: cfg.Consumer,
		maxLen:   cfg.MaxLen,
		block:    cfg.Block,
	}
	if err := queue.ensureGroup(ctx); err != nil {
		return nil, err
	}
	return queue, nil
}

func (q *StreamsQueue) Notify(ctx context.Context, notice JobNotice) error {
	_, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]any{
			"job_id":       notice.JobID,
			"client_id":    notice.ClientID,
			"type":         string(notice.Type),
			"requested_at": notice.RequestedAt.Format(time.RFC3339Nano),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("notify stream: %w", err)
	}
	return nil
}

func (q *StreamsQueue) Listen(ctx context.Context, handler func(context.Context, JobNotice)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: q.consumer,
			Streams:  []string{q.stream, ">"},
			Count:    10,
			Block:    q.block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("xreadgroup: %w", err)
		}

		for _, stream := range streams {
			for _, item := range stream.Messages {
				if notice, parseErr := parseStreamNotice(item); parseErr == nil {
					handler(ctx, notice)
				}
				_ = q.ackAndDelete(ctx, item.ID)
			}
		}
	}
}

func (q *StreamsQueue) ensureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "$").Err()
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return fmt.Errorf("ensure stream group: %w", err)
}

func (q *StreamsQueue) ackAndDelete(ctx context.Context, streamID string) error {
	if err := q.client.XAck(ctx, q.stream, q.group, streamID).Err(); err != nil {
		return fmt.Errorf("xack: %w", err)
	}
	if err := q.client.XDel(ctx, q.stream, streamID).Err(); err != nil {
		return fmt.Errorf("xdel: %w", err)
	}
	return nil
}

func parseStreamNotice(item redis.XMessage) (JobNotice, error) {
	getString := func(key string) (string, error) {
		value, ok := item.Values[key]
		if !ok {
			return "", fmt.Errorf("missing field %s", key)
		}
		switch casted := value.(type) {
		case string:
			return casted, nil
		case []byte:
			return string(casted), nil
		default:
			return fmt.Sprintf("%v", casted), nil
		}
	}

	jobID, err := getString("job_id")
	if err != nil {
		return JobNotice{}, err
	}
	clientID, _ := getString("client_id")
	jobType, _ := getString("type")

	notice := JobNotice{JobID: jobID, ClientID: clientID, Type: domain.JobType(jobType)}
	if requestedAt, err := getString("requested_at"); err == nil {
		if parsed, parseErr := time.Parse(time.RFC3339Nano, requestedAt); parseErr == nil {
			notice.RequestedAt = parsed
		}
	}
	return notice, nil
}
