package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/iago/feedback-insights/internal/config"
	"github.com/iago/feedback-insights/internal/domain"
	"github.com/iago/feedback-insights/internal/queue"
	"github.com/iago/feedback-insights/internal/repository"
	"github.com/iago/feedback-insights/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := config.LoadDotEnv(".env", ".env.local"); err != nil {
		fmt.Fprintf(os.Stderr, "feedbackctl: %v\n", err)
	}

	rootCmd := newRootCommand(config.Load())
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "feedbackctl: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand(cfg config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "feedbackctl",
		Short:        "Operator CLI for the feedback ingestion queue",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&cfg.DatabaseURL, "database-url", cfg.DatabaseURL, "Postgres connection string (defaults to DATABASE_URL)")
	cmd.AddCommand(
		newMigrateCmd(&cfg),
		newEnqueueCmd(&cfg),
		newStatusCmd(&cfg),
		newListCmd(&cfg),
	)
	return cmd
}

func newMigrateCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the job, message and summary tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := connect(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := repository.EnsureSchema(cmd.Context(), pool); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}

func newEnqueueCmd(cfg *config.Config) *cobra.Command {
	var (
		input       service.EnqueueInput
		jobType     string
		recordsPath string
	)
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Create a pending ingestion job",
		Example: `  feedbackctl enqueue --client acme --type csv_upload --file s3://uploads/acme/week-19.csv
  feedbackctl enqueue --client acme --type api_ingest --records batch.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			input.Type = domain.JobType(jobType)
			if recordsPath != "" {
				records, err := readRecords(recordsPath)
				if err != nil {
					return err
				}
				input.Records = records
			}

			ctx := cmd.Context()
			pool, err := connect(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			notifier, closeNotifier := setupNotifier(ctx, cfg)
			defer closeNotifier()

			jobs := service.NewJobsService(repository.NewPostgresJobsRepository(pool), service.JobsServiceConfig{
				DefaultMaxRetries: cfg.DefaultMaxRetries,
				Notifier:          notifier,
			})
			job, err := jobs.Enqueue(ctx, input)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), job.StatusView())
		},
	}
	cmd.Flags().StringVar(&input.ClientID, "client", "", "Client id that owns the feedback")
	cmd.Flags().StringVar(&jobType, "type", string(domain.JobTypeCSVUpload), "Job type: upload, csv_upload, api_ingest or connector")
	cmd.Flags().StringVar(&input.FilePath, "file", "", "Source file path or s3://bucket/key for upload jobs")
	cmd.Flags().StringVar(&recordsPath, "records", "", "JSON file with an array of {text, channel, timestamp} for ingest jobs ('-' reads stdin)")
	cmd.Flags().IntVar(&input.MaxRetries, "max-retries", 0, "Retry budget (defaults to DEFAULT_MAX_RETRIES)")
	_ = cmd.MarkFlagRequired("client")
	return cmd
}

func newStatusCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show the progress of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := connect(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			jobs := service.NewJobsService(repository.NewPostgresJobsRepository(pool), service.JobsServiceConfig{})
			view, err := jobs.Status(cmd.Context(), args[0])
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("job %s not found", args[0])
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), view)
		},
	}
}

func newListCmd(cfg *config.Config) *cobra.Command {
	var filter repository.JobFilter
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a client's jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter.Status = domain.JobStatus(status)
			pool, err := connect(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			jobs := service.NewJobsService(repository.NewPostgresJobsRepository(pool), service.JobsServiceConfig{})
			items, total, err := jobs.ListJobs(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"items": items, "total": total})
		},
	}
	cmd.Flags().StringVar(&filter.ClientID, "client", "", "Client id")
	cmd.Flags().StringVar(&status, "status", "", "Only jobs in this status")
	cmd.Flags().IntVar(&filter.Page, "page", 1, "Page number")
	cmd.Flags().IntVar(&filter.PageSize, "page-size", 20, "Page size")
	_ = cmd.MarkFlagRequired("client")
	return cmd
}

func connect(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL or --database-url is required")
	}
	return repository.Connect(ctx, cfg.DatabaseURL, 2)
}

// setupNotifier publishes job notices when Redis is configured. Without it the
// job is still picked up on the next poll.
func setupNotifier(ctx context.Context, cfg *config.Config) (queue.Notifier, func()) {
	if cfg.RedisAddr == "" {
		return nil, func() {}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	streams, err := queue.NewStreamsQueue(ctx, client, queue.StreamsConfig{
		Stream:   cfg.RedisStream,
		Group:    cfg.RedisGroup,
		Consumer: cfg.RedisConsumer,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "feedbackctl: job notices disabled: %v\n", err)
		_ = client.Close()
		return nil, func() {}
	}
	return streams, func() { _ = client.Close() }
}

func readRecords(path string) ([]domain.RawRecord, error) {
	var reader io.Reader = os.Stdin
	if path != "-" {
		file, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer file.Close()
		reader = file
	}

	var records []domain.RawRecord
	if err := json.NewDecoder(reader).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	return records, nil
}

func printJSON(w io.Writer, value any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
