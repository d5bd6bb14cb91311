package source

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/iago/feedback-insights/internal/domain"
)

var ErrNoRecords = errors.New("source has no records")

var (
	textColumns      = []string{"text", "message", "feedback", "comment", "content", "body"}
	channelColumns   = []string{"channel", "source"}
	timestampColumns = []string{"timestamp", "date", "created_at", "time"}
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"01/02/2006 15:04",
	"01/02/2006",
}

// Extractor turns a job's source into normalized records.
type Extractor struct {
	files FileStore
}

func NewExtractor(files FileStore) *Extractor {
	if files == nil {
		files = Router{}
	}
	return &Extractor{files: files}
}

// Extract returns the job's records in source order with deterministic ids.
// Rows without text are skipped. An empty result is ErrNoRecords.
func (e *Extractor) Extract(ctx context.Context, job *domain.Job) ([]domain.Record, error) {
	var raw []domain.RawRecord
	var err error

	switch {
	case job.Type.ReadsFile():
		raw, err = e.readFile(ctx, job.Source.FilePath)
	case job.Type.Valid():
		raw = job.Source.Records
	default:
		return nil, fmt.Errorf("unsupported job type %q", job.Type)
	}
	if err != nil {
		return nil, err
	}

	records := make([]domain.Record, 0, len(raw))
	for _, item := range raw {
		text := strings.TrimSpace(item.Text)
		if text == "" {
			continue
		}
		channel := strings.ToLower(strings.TrimSpace(item.Channel))
		if channel == "" {
			channel = domain.DefaultChannel
		}
		timestamp, ok := ParseTimestamp(item.Timestamp)
		if !ok {
			timestamp = job.CreatedAt
		}

		records = append(records, domain.Record{
			ID:        domain.MessageID(job.ID, len(records)),
			JobID:     job.ID,
			ClientID:  job.ClientID,
			Text:      text,
			Channel:   channel,
			Timestamp: timestamp,
		})
	}

	if len(records) == 0 {
		return nil, ErrNoRecords
	}
	return records, nil
}

func (e *Extractor) readFile(ctx context.Context, path string) ([]domain.RawRecord, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("upload job without file path")
	}
	reader, err := e.files.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	records, err := ReadCSV(reader)
	if err != nil {
		return nil, fmt.Errorf("read csv %s: %w", path, err)
	}
	return records, nil
}

type columnMap struct {
	text      int
	channel   int
	timestamp int
}

// ReadCSV reads feedback rows from CSV. A first row naming a text column is
// treated as a header; otherwise columns are text, channel, timestamp.
func ReadCSV(r io.Reader) ([]domain.RawRecord, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	columns := columnMap{text: 0, channel: 1, timestamp: 2}
	records := make([]domain.RawRecord, 0)
	first := true

	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		if first {
			first = false
			if header, ok := detectHeader(row); ok {
				columns = header
				continue
			}
		}

		records = append(records, domain.RawRecord{
			Text:      cell(row, columns.text),
			Channel:   cell(row, columns.channel),
			Timestamp: cell(row, columns.timestamp),
		})
	}
	return records, nil
}

func detectHeader(row []string) (columnMap, bool) {
	columns := columnMap{text: -1, channel: -1, timestamp: -1}
	for i, name := range row {
		normalized := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		switch {
		case columns.text < 0 && contains(textColumns, normalized):
			columns.text = i
		case columns.channel < 0 && contains(channelColumns, normalized):
			columns.channel = i
		case columns.timestamp < 0 && contains(timestampColumns, normalized):
			columns.timestamp = i
		}
	}
	return columns, columns.text >= 0
}

func cell(row []string, index int) string {
	if index < 0 || index >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[index])
}

func contains(values []string, candidate string) bool {
	for _, value := range values {
		if value == candidate {
			return true
		}
	}
	return false
}

// ParseTimestamp accepts the common export layouts and unix seconds. Zones
// present in the value are kept; naive values are read as UTC.
func ParseTimestamp(value string) (time.Time, bool) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, trimmed); err == nil {
			return parsed, true
		}
	}
	if seconds, err := strconv.ParseInt(trimmed, 10, 64); err == nil && seconds > 0 {
		return time.Unix(seconds, 0).UTC(), true
	}
	return time.Time{}, false
}
