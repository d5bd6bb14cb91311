// Package aggregation folds classified messages into additive summary deltas.
package aggregation

import (
	"sort"
	"strings"

	"github.com/iago/feedback-insights/internal/domain"
)

const dateLayout = "2006-01-02"

// Fold groups messages by daily (date, channel), topic and channel keys. Each message
// contributes to exactly one sentiment bucket per key. Output slices are sorted so the
// resulting upserts always lock summary rows in the same order.
func Fold(messages []domain.Message) domain.SummaryDeltas {
	if len(messages) == 0 {
		return domain.SummaryDeltas{}
	}

	daily := make(map[domain.DailyKey]*domain.Counts)
	topics := make(map[string]*domain.Counts)
	channels := make(map[string]*domain.Counts)

	for _, message := range messages {
		channel := normalizeChannel(message.Channel)
		topic := message.Topic
		if strings.TrimSpace(topic) == "" {
			topic = domain.TopicOther
		}

		key := domain.DailyKey{Date: DateOf(message), Channel: channel}
		counter(daily, key).Add(message.Sentiment)
		counter(topics, topic).Add(message.Sentiment)
		counter(channels, channel).Add(message.Sentiment)
	}

	deltas := domain.SummaryDeltas{
		Daily:    make([]domain.DailyDelta, 0, len(daily)),
		Topics:   make([]domain.TopicDelta, 0, len(topics)),
		Channels: make([]domain.ChannelDelta, 0, len(channels)),
	}
	for key, counts := range daily {
		deltas.Daily = append(deltas.Daily, domain.DailyDelta{DailyKey: key, Counts: *counts})
	}
	for topic, counts := range topics {
		deltas.Topics = append(deltas.Topics, domain.TopicDelta{Topic: topic, Counts: *counts})
	}
	for channel, counts := range channels {
		deltas.Channels = append(deltas.Channels, domain.ChannelDelta{Channel: channel, Counts: *counts})
	}

	sort.Slice(deltas.Daily, func(i, j int) bool {
		if deltas.Daily[i].Date != deltas.Daily[j].Date {
			return deltas.Daily[i].Date < deltas.Daily[j].Date
		}
		return deltas.Daily[i].Channel < deltas.Daily[j].Channel
	})
	sort.Slice(deltas.Topics, func(i, j int) bool {
		return deltas.Topics[i].Topic < deltas.Topics[j].Topic
	})
	sort.Slice(deltas.Channels, func(i, j int) bool {
		return deltas.Channels[i].Channel < deltas.Channels[j].Channel
	})
	return deltas
}

// DateOf is the UTC calendar date of the message timestamp. Offsets carried by
// the source are dropped so the key matches timestamptz values read in UTC.
func DateOf(message domain.Message) string {
	return message.Timestamp.UTC().Format(dateLayout)
}

// Totals sums a delta set per table. Used to cross-check that every table saw the
// same number of messages.
func Totals(deltas domain.SummaryDeltas) (daily, topics, channels domain.Counts) {
	for _, delta := range deltas.Daily {
		daily.Merge(delta.Counts)
	}
	for _, delta := range deltas.Topics {
		topics.Merge(delta.Counts)
	}
	for _, delta := range deltas.Channels {
		channels.Merge(delta.Counts)
	}
	return daily, topics, channels
}

func normalizeChannel(channel string) string {
	trimmed := strings.TrimSpace(channel)
	if trimmed == "" {
		return domain.DefaultChannel
	}
	return trimmed
}

func counter[K comparable](values map[K]*domain.Counts, key K) *domain.Counts {
	current, ok := values[key]
	if !ok {
		current = &domain.Counts{}
		values[key] = current
	}
	return current
}
