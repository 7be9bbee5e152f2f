// Package archive moves finished task runs out of Postgres into S3 as JSON
// lines.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/questline/progression/internal/domain/store"
	"github.com/questline/progression/internal/gateways/database/models"
)

const defaultBatchSize = 500

// Uploader is the part of the S3 client the archiver needs.
type Uploader interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type Options struct {
	Key      string
	Secret   string
	Region   string
	Endpoint string
}

// NewS3Client builds a client with static credentials. Endpoint, when set,
// points the client at an S3-compatible store such as Spaces or MinIO.
func NewS3Client(ctx context.Context, opts Options) (*s3.Client, error) {
	loaders := []func(*config.LoadOptions) error{
		config.WithRegion(opts.Region),
	}
	if opts.Key != "" {
		loaders = append(loaders, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.Key, opts.Secret, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, fmt.Errorf("unable to load s3 config: %w", err)
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

type S3Archiver struct {
	tasks     store.TaskRunRepository
	uploader  Uploader
	bucket    string
	prefix    string
	batchSize int
	log       *slog.Logger
}

func NewS3Archiver(tasks store.TaskRunRepository, uploader Uploader, bucket, prefix string, log *slog.Logger) *S3Archiver {
	return &S3Archiver{
		tasks:     tasks,
		uploader:  uploader,
		bucket:    bucket,
		prefix:    strings.Trim(prefix, "/"),
		batchSize: defaultBatchSize,
		log:       log,
	}
}

// Archive uploads every run finished before cutoff and deletes the uploaded
// rows. Each batch is deleted only after its object was written.
func (a *S3Archiver) Archive(ctx context.Context, cutoff time.Time) (int, error) {
	total := 0
	for batch := 0; ; batch++ {
		runs, err := a.tasks.ListFinishedBefore(ctx, cutoff, a.batchSize)
		if err != nil {
			return total, fmt.Errorf("failed to list finished runs: %w", err)
		}
		if len(runs) == 0 {
			break
		}

		body, ids, err := encode(runs)
		if err != nil {
			return total, err
		}

		key := a.objectKey(cutoff, batch)
		if _, err = a.uploader.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(a.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(body),
			ContentType: aws.String("application/x-ndjson"),
		}); err != nil {
			return total, fmt.Errorf("failed to upload %s: %w", key, err)
		}

		deleted, err := a.tasks.Delete(ctx, ids)
		if err != nil {
			return total, fmt.Errorf("failed to delete archived runs: %w", err)
		}
		total += deleted

		a.log.Info("Archived task runs",
			slog.String("type", "sys"),
			slog.String("key", key),
			slog.Int("runs", deleted),
		)
		if len(runs) < a.batchSize {
			break
		}
	}
	return total, nil
}

func (a *S3Archiver) objectKey(cutoff time.Time, batch int) string {
	name := fmt.Sprintf("%d-%03d.jsonl", cutoff.Unix(), batch)
	return path.Join(a.prefix, cutoff.UTC().Format("2006/01/02"), name)
}

func encode(runs []*models.TaskRun) ([]byte, []uuid.UUID, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	ids := make([]uuid.UUID, 0, len(runs))
	for _, r := range runs {
		if err := enc.Encode(record{
			ID:         r.ID,
			TaskName:   r.TaskName,
			UserID:     r.UserID,
			Payload:    r.Payload,
			Status:     r.Status,
			Attempts:   r.Attempts,
			LastError:  r.LastError,
			CreatedAt:  r.CreatedAt,
			StartedAt:  r.StartedAt,
			FinishedAt: r.FinishedAt,
		}); err != nil {
			return nil, nil, fmt.Errorf("failed to encode run %s: %w", r.ID, err)
		}
		ids = append(ids, r.ID)
	}
	return buf.Bytes(), ids, nil
}

type record struct {
	ID         uuid.UUID          `json:"id"`
	TaskName   string             `json:"task_name"`
	UserID     uuid.UUID          `json:"user_id"`
	Payload    models.TaskPayload `json:"payload"`
	Status     string             `json:"status"`
	Attempts   int                `json:"attempts"`
	LastError  *string            `json:"last_error,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
	StartedAt  *time.Time         `json:"started_at,omitempty"`
	FinishedAt *time.Time         `json:"finished_at,omitempty"`
}
