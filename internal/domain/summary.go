package domain

import "time"

// Counts are the additive counters carried by every summary row.
type Counts struct {
	Total    int
	Positive int
	Neutral  int
	Negative int
}

func (c *Counts) Add(sentiment Sentiment) {
	c.Total++
	switch sentiment {
	case SentimentPositive:
		c.Positive++
	case SentimentNegative:
		c.Negative++
	default:
		c.Neutral++
	}
}

func (c *Counts) Merge(other Counts) {
	c.Total += other.Total
	c.Positive += other.Positive
	c.Neutral += other.Neutral
	c.Negative += other.Negative
}

// Valid reports whether every counted message landed in exactly one sentiment bucket.
func (c Counts) Valid() bool {
	return c.Positive+c.Neutral+c.Negative == c.Total
}

type DailyKey struct {
	// Date is formatted as YYYY-MM-DD.
	Date    string
	Channel string
}

type DailyDelta struct {
	DailyKey
	Counts
}

type TopicDelta struct {
	Topic string
	Counts
}

type ChannelDelta struct {
	Channel string
	Counts
}

// SummaryDeltas is what one committed batch contributes to a client's summary tables.
type SummaryDeltas struct {
	Daily    []DailyDelta
	Topics   []TopicDelta
	Channels []ChannelDelta
}

func (d SummaryDeltas) Empty() bool {
	return len(d.Daily) == 0 && len(d.Topics) == 0 && len(d.Channels) == 0
}

// ClientCounter is the per-client message counter exposed to dashboards.
type ClientCounter struct {
	ClientID      string
	TotalMessages int
	LastAnalysis  *time.Time
}
