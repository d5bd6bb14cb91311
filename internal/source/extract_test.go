package source

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/iago/feedback-insights/internal/domain"
)

var jobCreated = time.Date(2024, 2, 10, 9, 30, 0, 0, time.UTC)

func uploadJob(path string) *domain.Job {
	return &domain.Job{
		ID:        "job-1",
		ClientID:  "client-1",
		Type:      domain.JobTypeCSVUpload,
		Source:    domain.Source{FilePath: path},
		CreatedAt: jobCreated,
	}
}

func TestExtractCSVWithHeader(t *testing.T) {
	files := NewMemoryStore()
	files.Put("/uploads/a.csv", []byte("Channel,Feedback,Date\nEmail,Great service,2024-01-05\nchat,\"Late, very late delivery\",2024-01-06T10:00:00Z\n,   ,2024-01-07\nsms,No date here,\n"))

	records, err := NewExtractor(files).Extract(context.Background(), uploadJob("/uploads/a.csv"))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected blank row to be skipped, got %d records", len(records))
	}

	if records[0].Text != "Great service" || records[0].Channel != "email" {
		t.Fatalf("unexpected first record: %+v", records[0])
	}
	if records[1].Text != "Late, very late delivery" {
		t.Fatalf("expected quoted comma to be kept, got %q", records[1].Text)
	}
	if !records[2].Timestamp.Equal(jobCreated) {
		t.Fatalf("expected missing timestamp to default to job creation, got %v", records[2].Timestamp)
	}
	for i, record := range records {
		if record.ID != domain.MessageID("job-1", i) {
			t.Fatalf("record %d has unexpected id %s", i, record.ID)
		}
		if record.ClientID != "client-1" || record.JobID != "job-1" {
			t.Fatalf("record %d missing ownership: %+v", i, record)
		}
	}
}

func TestExtractCSVWithoutHeaderIsPositional(t *testing.T) {
	records, err := ReadCSV(strings.NewReader("Great service,email,2024-01-05\nLate delivery\n"))
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Channel != "email" || records[0].Timestamp != "2024-01-05" {
		t.Fatalf("unexpected positional columns: %+v", records[0])
	}
	if records[1].Text != "Late delivery" || records[1].Channel != "" {
		t.Fatalf("unexpected short row: %+v", records[1])
	}
}

func TestExtractInlineRecords(t *testing.T) {
	job := &domain.Job{
		ID:        "job-2",
		ClientID:  "client-1",
		Type:      domain.JobTypeConnector,
		CreatedAt: jobCreated,
		Source: domain.Source{Records: []domain.RawRecord{
			{Text: "Love it", Channel: "Twitter", Timestamp: "2024-01-05T08:00:00+02:00"},
			{Text: ""},
			{Text: "Refund please"},
		}},
	}

	records, err := NewExtractor(nil).Extract(context.Background(), job)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Channel != "twitter" {
		t.Fatalf("expected lowercased channel, got %q", records[0].Channel)
	}
	if _, offset := records[0].Timestamp.Zone(); offset != 2*60*60 {
		t.Fatalf("expected stored offset to be kept, got %d", offset)
	}
	if records[1].Channel != domain.DefaultChannel {
		t.Fatalf("expected default channel, got %q", records[1].Channel)
	}
}

func TestExtractEmptySource(t *testing.T) {
	files := NewMemoryStore()
	files.Put("/uploads/empty.csv", []byte("text,channel\n  ,email\n"))

	_, err := NewExtractor(files).Extract(context.Background(), uploadJob("/uploads/empty.csv"))
	if !errors.Is(err, ErrNoRecords) {
		t.Fatalf("expected ErrNoRecords, got %v", err)
	}

	inline := &domain.Job{ID: "job-3", Type: domain.JobTypeAPIIngest}
	if _, err := NewExtractor(files).Extract(context.Background(), inline); !errors.Is(err, ErrNoRecords) {
		t.Fatalf("expected ErrNoRecords for inline job, got %v", err)
	}
}

func TestExtractMissingFile(t *testing.T) {
	_, err := NewExtractor(NewMemoryStore()).Extract(context.Background(), uploadJob("/uploads/missing.csv"))
	if !errors.Is(err, ErrFileNotFound) {
		t.Fatalf("expected ErrFileNotFound, got %v", err)
	}
}

func TestRouterRequiresObjectStoreForS3Paths(t *testing.T) {
	router := Router{Local: NewMemoryStore()}
	if _, err := router.Open(context.Background(), "s3://bucket/key.csv"); err == nil {
		t.Fatalf("expected error without object store")
	}

	objects := NewMemoryStore()
	objects.Put("s3://bucket/key.csv", []byte("text\nhello\n"))
	router.Object = objects
	reader, err := router.Open(context.Background(), "s3://bucket/key.csv")
	if err != nil {
		t.Fatalf("open via router: %v", err)
	}
	_ = reader.Close()
}

func TestSplitS3Path(t *testing.T) {
	bucket, key, err := splitS3Path("s3://uploads/2024/01/file.csv")
	if err != nil || bucket != "uploads" || key != "2024/01/file.csv" {
		t.Fatalf("unexpected split: %q %q %v", bucket, key, err)
	}
	if _, _, err := splitS3Path("s3://uploads"); err == nil {
		t.Fatalf("expected missing key to be rejected")
	}
}
