package domain

import (
	"time"
)

type JobType string

const (
	JobTypeUpload    JobType = "upload"
	JobTypeCSVUpload JobType = "csv_upload"
	JobTypeAPIIngest JobType = "api_ingest"
	JobTypeConnector JobType = "connector"
)

// ReadsFile reports whether jobs of this type carry a file reference instead of inline records.
func (t JobType) ReadsFile() bool {
	return t == JobTypeUpload || t == JobTypeCSVUpload
}

func (t JobType) Valid() bool {
	switch t {
	case JobTypeUpload, JobTypeCSVUpload, JobTypeAPIIngest, JobTypeConnector:
		return true
	}
	return false
}

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

const DefaultMaxRetries = 3

// Source is the job input: a file reference for upload jobs or inline records for
// ingest/connector jobs. Exactly one side is meaningful, selected by the job type.
type Source struct {
	FilePath string
	Records  []RawRecord
}

// RawRecord is one unclassified feedback item as delivered by a producer.
type RawRecord struct {
	Text      string `json:"text"`
	Channel   string `json:"channel,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Job is the unit of background ingestion and classification work.
type Job struct {
	ID               string
	ClientID         string
	Type             JobType
	Source           Source
	Status           JobStatus
	TotalRecords     int
	ProcessedRecords int
	RetryCount       int
	MaxRetries       int
	LastError        string
	ErrorMessage     string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	StartedAt        *time.Time
	CompletedAt      *time.Time
	NextRetryAt      *time.Time
}

// Eligible reports whether the job may be leased at the given instant.
func (j *Job) Eligible(now time.Time) bool {
	if j.Status != JobStatusPending {
		return false
	}
	return j.NextRetryAt == nil || !j.NextRetryAt.After(now)
}

// Clone returns a deep copy safe to hand across store boundaries.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	clone := *j
	clone.Source.Records = append([]RawRecord(nil), j.Source.Records...)
	clone.StartedAt = cloneTime(j.StartedAt)
	clone.CompletedAt = cloneTime(j.CompletedAt)
	clone.NextRetryAt = cloneTime(j.NextRetryAt)
	return &clone
}

// FailureUpdate is the retry bookkeeping written after a failed attempt.
type FailureUpdate struct {
	RetryCount int
	// MaxRetries is the budget the attempt was judged against. Stores raise
	// the job's max_retries to it so retry_count never exceeds the budget.
	MaxRetries  int
	Status      JobStatus
	NextRetryAt *time.Time
	LastError   string
	// ErrorMessage is only set when the job becomes failed.
	ErrorMessage string
	At           time.Time
}

// CompletionUpdate finalizes a successful attempt.
type CompletionUpdate struct {
	ProcessedRecords int
	MessagesAdded    int
	CompletedAt      time.Time
}

// JobStatusView is the read-only projection served to pollers.
type JobStatusView struct {
	ID               string     `json:"id"`
	Status           JobStatus  `json:"status"`
	Progress         float64    `json:"progress"`
	TotalRecords     int        `json:"total_records"`
	ProcessedRecords int        `json:"processed_records"`
	Error            string     `json:"error,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

func (j *Job) StatusView() JobStatusView {
	view := JobStatusView{
		ID:               j.ID,
		Status:           j.Status,
		TotalRecords:     j.TotalRecords,
		ProcessedRecords: j.ProcessedRecords,
		Error:            j.ErrorMessage,
		CreatedAt:        j.CreatedAt,
		StartedAt:        cloneTime(j.StartedAt),
		CompletedAt:      cloneTime(j.CompletedAt),
	}
	if view.Error == "" {
		view.Error = j.LastError
	}
	if j.TotalRecords > 0 {
		view.Progress = float64(j.ProcessedRecords) / float64(j.TotalRecords)
	}
	return view
}

func cloneTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	clone := *value
	return &clone
}
