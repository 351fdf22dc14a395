package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"wwnotes-sync/internal/domain"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type S3Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	StoreID   string
}

type s3SnapshotRepository struct {
	client    *minio.Client
	bucket    string
	key       string
	validator *snapshotValidator
	now       func() time.Time
}

// NewS3SnapshotRepository keeps the shared catalog as one object,
// snapshots/<storeID>.json, in an S3-compatible bucket. The bucket is
// created when missing.
func NewS3SnapshotRepository(ctx context.Context, opts S3Options) (RemoteStore, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	if opts.AccessKey == "" || opts.SecretKey == "" {
		return nil, fmt.Errorf("s3 credentials are required")
	}
	if opts.Bucket == "" || opts.StoreID == "" {
		return nil, fmt.Errorf("s3 bucket and store id are required")
	}

	cli, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	exists, err := cli.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket existence: %w", err)
	}
	if !exists {
		if err := cli.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}

	validator, err := newSnapshotValidator()
	if err != nil {
		return nil, err
	}

	return &s3SnapshotRepository{
		client:    cli,
		bucket:    opts.Bucket,
		key:       fmt.Sprintf("snapshots/%s.json", opts.StoreID),
		validator: validator,
		now:       time.Now,
	}, nil
}

func (r *s3SnapshotRepository) FetchSnapshot(ctx context.Context) (domain.Snapshot, error) {
	const op = "fetch snapshot"

	obj, err := r.client.GetObject(ctx, r.bucket, r.key, minio.GetObjectOptions{})
	if err != nil {
		return domain.Snapshot{}, r.classify(op, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return domain.Snapshot{}, r.classify(op, err)
	}

	snap, err := decodeSnapshot(r.validator, data)
	if err != nil {
		return domain.Snapshot{}, transient(op, 0, err)
	}
	return snap, nil
}

func (r *s3SnapshotRepository) ReplaceSnapshot(ctx context.Context, docs []domain.Document) error {
	const op = "replace snapshot"

	data, err := json.Marshal(domain.NewSnapshot(docs, r.now()))
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	_, err = r.client.PutObject(ctx, r.bucket, r.key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return r.classify(op, err)
	}
	return nil
}

func (r *s3SnapshotRepository) classify(op string, err error) error {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket":
		return notFound(op)
	}
	return transient(op, resp.StatusCode, err)
}
