package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iago/feedback-insights/internal/domain"
)

const jobColumns = `id, client_id, type, source_path, payload, status, total_records, processed_records,
	retry_count, max_retries, last_error, error_message, created_at, updated_at,
	started_at, completed_at, next_retry_at`

type PostgresJobsRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresJobsRepository(pool *pgxpool.Pool) *PostgresJobsRepository {
	return &PostgresJobsRepository{pool: pool}
}

func (r *PostgresJobsRepository) CreateJob(ctx context.Context, job *domain.Job) error {
	payload, err := encodeRecords(job.Source.Records)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO jobs (
			id,
			client_id,
			type,
			source_path,
			payload,
			status,
			total_records,
			processed_records,
			retry_count,
			max_retries,
			created_at,
			updated_at,
			next_retry_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`,
		job.ID,
		job.ClientID,
		string(job.Type),
		job.Source.FilePath,
		payload,
		string(job.Status),
		job.TotalRecords,
		job.ProcessedRecords,
		job.RetryCount,
		job.MaxRetries,
		job.CreatedAt,
		job.UpdatedAt,
		job.NextRetryAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (r *PostgresJobsRepository) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := scanJob(r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query job: %w", err)
	}
	return job, nil
}

func (r *PostgresJobsRepository) ListJobs(ctx context.Context, filter JobFilter) ([]*domain.Job, int, error) {
	filter = normalizeFilter(filter)
	baseQuery, args := buildJobFilters(filter)

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) "+baseQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	listQuery := fmt.Sprintf(
		`SELECT %s
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`,
		jobColumns,
		baseQuery,
		len(args)+1,
		len(args)+2,
	)
	listArgs := append(args, filter.PageSize, (filter.Page-1)*filter.PageSize)
	rows, err := r.pool.Query(ctx, listQuery, listArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	items := make([]*domain.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan job: %w", err)
		}
		items = append(items, job)
	}
	if rows.Err() != nil {
		return nil, 0, fmt.Errorf("iterate jobs: %w", rows.Err())
	}
	return items, total, nil
}

func buildJobFilters(filter JobFilter) (string, []any) {
	query := strings.Builder{}
	query.WriteString("FROM jobs WHERE TRUE")

	args := make([]any, 0, 2)
	argIndex := 1

	if clientID := strings.TrimSpace(filter.ClientID); clientID != "" {
		query.WriteString(fmt.Sprintf(" AND client_id = $%d", argIndex))
		args = append(args, clientID)
		argIndex++
	}
	if filter.Status != "" {
		query.WriteString(fmt.Sprintf(" AND status = $%d", argIndex))
		args = append(args, string(filter.Status))
	}
	return query.String(), args
}

// LeaseJob claims the oldest eligible job with FOR UPDATE SKIP LOCKED and
// keeps the transaction open for the lifetime of the lease. The attempt's
// writes run in a savepoint so a failure can be undone without giving up the
// row lock.
func (r *PostgresJobsRepository) LeaseJob(ctx context.Context, now time.Time) (Lease, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin lease: %w", err)
	}

	job, err := scanJob(tx.QueryRow(ctx, `
		WITH cte AS (
			SELECT id
			FROM jobs
			WHERE status = 'pending' AND (next_retry_at IS NULL OR next_retry_at <= $1)
			ORDER BY created_at, id
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE jobs
		SET status = 'processing', started_at = $1, updated_at = $1
		FROM cte
		WHERE jobs.id = cte.id
		RETURNING `+qualifiedJobColumns(), now))
	if err != nil {
		_ = tx.Rollback(ctx)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoEligibleJob
		}
		return nil, fmt.Errorf("claim job: %w", err)
	}

	work, err := tx.Begin(ctx)
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("open savepoint: %w", err)
	}
	return &postgresLease{tx: tx, work: work, job: job}, nil
}

func (r *PostgresJobsRepository) RecordFailure(
	ctx context.Context,
	jobID string,
	expectedRetryCount int,
	update domain.FailureUpdate,
) error {
	command, err := r.pool.Exec(ctx, failureSQL+` AND status = 'pending' AND retry_count = $9`,
		jobID,
		string(update.Status),
		update.RetryCount,
		update.NextRetryAt,
		update.LastError,
		update.ErrorMessage,
		update.At,
		update.MaxRetries,
		expectedRetryCount,
	)
	if err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	if command.RowsAffected() == 0 {
		return ErrJobChanged
	}
	return nil
}

const failureSQL = `
	UPDATE jobs
	SET status = $2,
		retry_count = $3,
		next_retry_at = $4,
		last_error = $5,
		error_message = CASE WHEN $6::text = '' THEN error_message ELSE $6::text END,
		updated_at = $7,
		max_retries = GREATEST(max_retries, $8)
	WHERE id = $1`

type postgresLease struct {
	tx   pgx.Tx
	work pgx.Tx
	job  *domain.Job
	done bool
}

func (l *postgresLease) Job() *domain.Job {
	return l.job.Clone()
}

func (l *postgresLease) SetTotal(ctx context.Context, total int) error {
	if l.done {
		return ErrLeaseClosed
	}
	if _, err := l.work.Exec(ctx, `UPDATE jobs SET total_records = $2 WHERE id = $1`, l.job.ID, total); err != nil {
		return fmt.Errorf("set total records: %w", err)
	}
	return nil
}

func (l *postgresLease) SetProgress(ctx context.Context, processed int) error {
	if l.done {
		return ErrLeaseClosed
	}
	if _, err := l.work.Exec(ctx, `UPDATE jobs SET processed_records = $2 WHERE id = $1`, l.job.ID, processed); err != nil {
		return fmt.Errorf("set processed records: %w", err)
	}
	return nil
}

func (l *postgresLease) InsertMessages(ctx context.Context, messages []domain.Message) ([]domain.Message, error) {
	if l.done {
		return nil, ErrLeaseClosed
	}
	if len(messages) == 0 {
		return nil, nil
	}

	n := len(messages)
	var (
		ids        = make([]string, n)
		jobIDs     = make([]string, n)
		clientIDs  = make([]string, n)
		texts      = make([]string, n)
		channels   = make([]string, n)
		timestamps = make([]time.Time, n)
		sentiments = make([]string, n)
		topics     = make([]string, n)
		intents    = make([]string, n)
		validation = make([]bool, n)
		sources    = make([]string, n)
	)
	for i, message := range messages {
		ids[i] = message.ID
		jobIDs[i] = message.JobID
		clientIDs[i] = message.ClientID
		texts[i] = message.Text
		channels[i] = message.Channel
		timestamps[i] = message.Timestamp
		sentiments[i] = string(message.Sentiment)
		topics[i] = message.Topic
		intents[i] = message.Intent
		validation[i] = message.RequiresValidation
		sources[i] = string(message.Source)
	}

	rows, err := l.work.Query(ctx, `
		INSERT INTO messages (
			id, job_id, client_id, text, channel, timestamp,
			sentiment, topic, intent, requires_validation, classified_by
		)
		SELECT * FROM unnest(
			$1::text[], $2::text[], $3::text[], $4::text[], $5::text[], $6::timestamptz[],
			$7::text[], $8::text[], $9::text[], $10::boolean[], $11::text[]
		)
		ON CONFLICT (id) DO NOTHING
		RETURNING id
	`, ids, jobIDs, clientIDs, texts, channels, timestamps, sentiments, topics, intents, validation, sources)
	if err != nil {
		return nil, fmt.Errorf("insert messages: %w", err)
	}

	insertedIDs, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("insert messages: %w", err)
	}

	fresh := make(map[string]bool, len(insertedIDs))
	for _, id := range insertedIDs {
		fresh[id] = true
	}
	inserted := make([]domain.Message, 0, len(insertedIDs))
	for _, message := range messages {
		if fresh[message.ID] {
			inserted = append(inserted, message)
		}
	}
	return inserted, nil
}

func (l *postgresLease) ApplySummaries(ctx context.Context, clientID string, deltas domain.SummaryDeltas) error {
	if l.done {
		return ErrLeaseClosed
	}
	if deltas.Empty() {
		return nil
	}

	now := time.Now().UTC()
	batch := &pgx.Batch{}
	for _, delta := range deltas.Daily {
		batch.Queue(`
			INSERT INTO daily_analytics AS t (client_id, date, channel, total_messages, positive_count, neutral_count, negative_count, updated_at)
			VALUES ($1, $2::date, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (client_id, date, channel) DO UPDATE SET
				total_messages = t.total_messages + EXCLUDED.total_messages,
				positive_count = t.positive_count + EXCLUDED.positive_count,
				neutral_count = t.neutral_count + EXCLUDED.neutral_count,
				negative_count = t.negative_count + EXCLUDED.negative_count,
				updated_at = EXCLUDED.updated_at
		`, clientID, delta.Date, delta.Channel, delta.Total, delta.Positive, delta.Neutral, delta.Negative, now)
	}
	for _, delta := range deltas.Topics {
		batch.Queue(`
			INSERT INTO topic_summary AS t (client_id, topic, total_messages, positive_count, neutral_count, negative_count, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (client_id, topic) DO UPDATE SET
				total_messages = t.total_messages + EXCLUDED.total_messages,
				positive_count = t.positive_count + EXCLUDED.positive_count,
				neutral_count = t.neutral_count + EXCLUDED.neutral_count,
				negative_count = t.negative_count + EXCLUDED.negative_count,
				updated_at = EXCLUDED.updated_at
		`, clientID, delta.Topic, delta.Total, delta.Positive, delta.Neutral, delta.Negative, now)
	}
	for _, delta := range deltas.Channels {
		batch.Queue(`
			INSERT INTO channel_summary AS t (client_id, channel, total_messages, positive_count, neutral_count, negative_count, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (client_id, channel) DO UPDATE SET
				total_messages = t.total_messages + EXCLUDED.total_messages,
				positive_count = t.positive_count + EXCLUDED.positive_count,
				neutral_count = t.neutral_count + EXCLUDED.neutral_count,
				negative_count = t.negative_count + EXCLUDED.negative_count,
				updated_at = EXCLUDED.updated_at
		`, clientID, delta.Channel, delta.Total, delta.Positive, delta.Neutral, delta.Negative, now)
	}

	results := l.work.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("merge summaries: %w", err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("merge summaries: %w", err)
	}
	return nil
}

func (l *postgresLease) IncrementClient(ctx context.Context, clientID string, added int, at time.Time) error {
	if l.done {
		return ErrLeaseClosed
	}
	_, err := l.work.Exec(ctx, `
		INSERT INTO clients AS c (id, total_messages, last_analysis)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			total_messages = c.total_messages + EXCLUDED.total_messages,
			last_analysis = GREATEST(c.last_analysis, EXCLUDED.last_analysis)
	`, clientID, added, at)
	if err != nil {
		return fmt.Errorf("update client counter: %w", err)
	}
	return nil
}

func (l *postgresLease) Complete(ctx context.Context, update domain.CompletionUpdate) error {
	if l.done {
		return ErrLeaseClosed
	}
	l.done = true

	_, err := l.work.Exec(ctx, `
		UPDATE jobs
		SET status = 'completed',
			processed_records = $2,
			completed_at = $3,
			next_retry_at = NULL,
			updated_at = $3
		WHERE id = $1
	`, l.job.ID, update.ProcessedRecords, update.CompletedAt)
	if err != nil {
		_ = l.tx.Rollback(ctx)
		return fmt.Errorf("mark completed: %w", err)
	}
	if err := l.work.Commit(ctx); err != nil {
		_ = l.tx.Rollback(ctx)
		return fmt.Errorf("release savepoint: %w", err)
	}
	if err := l.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit job: %w", err)
	}
	return nil
}

func (l *postgresLease) Fail(ctx context.Context, update domain.FailureUpdate) error {
	if l.done {
		return ErrLeaseClosed
	}
	l.done = true

	if err := l.work.Rollback(ctx); err != nil {
		_ = l.tx.Rollback(ctx)
		return fmt.Errorf("rollback savepoint: %w", err)
	}
	_, err := l.tx.Exec(ctx, failureSQL,
		l.job.ID,
		string(update.Status),
		update.RetryCount,
		update.NextRetryAt,
		update.LastError,
		update.ErrorMessage,
		update.At,
		update.MaxRetries,
	)
	if err != nil {
		_ = l.tx.Rollback(ctx)
		return fmt.Errorf("record failure: %w", err)
	}
	if err := l.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit failure: %w", err)
	}
	return nil
}

func (l *postgresLease) Release(ctx context.Context) {
	if l.done {
		return
	}
	l.done = true
	_ = l.tx.Rollback(ctx)
}

func qualifiedJobColumns() string {
	columns := strings.Split(jobColumns, ",")
	for i, column := range columns {
		columns[i] = "jobs." + strings.TrimSpace(column)
	}
	return strings.Join(columns, ", ")
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		job     domain.Job
		jobType string
		status  string
		payload []byte
	)
	err := row.Scan(
		&job.ID,
		&job.ClientID,
		&jobType,
		&job.Source.FilePath,
		&payload,
		&status,
		&job.TotalRecords,
		&job.ProcessedRecords,
		&job.RetryCount,
		&job.MaxRetries,
		&job.LastError,
		&job.ErrorMessage,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.StartedAt,
		&job.CompletedAt,
		&job.NextRetryAt,
	)
	if err != nil {
		return nil, err
	}

	job.Type = domain.JobType(jobType)
	job.Status = domain.JobStatus(status)
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &job.Source.Records); err != nil {
			return nil, fmt.Errorf("decode job payload: %w", err)
		}
	}
	return &job, nil
}

func encodeRecords(records []domain.RawRecord) ([]byte, error) {
	if records == nil {
		records = []domain.RawRecord{}
	}
	payload, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("encode job payload: %w", err)
	}
	return payload, nil
}
