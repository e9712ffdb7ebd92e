// Package s3store keeps tables in an S3-compatible bucket using the same
// CSV encoding and naming as the local store.
package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/Strob0t/TabForge/internal/adapter/csvfile"
	"github.com/Strob0t/TabForge/internal/config"
	"github.com/Strob0t/TabForge/internal/domain"
	"github.com/Strob0t/TabForge/internal/domain/dataset"
	"github.com/Strob0t/TabForge/internal/port/tablestore"
)

// API is the subset of the S3 client the store uses.
type API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Store implements tablestore.Store on an S3 bucket.
type Store struct {
	api     API
	presign *s3.PresignClient
	bucket  string
	now     func() time.Time
}

// New creates a Store from storage configuration. Path-style addressing is
// used so MinIO and similar endpoints work.
func New(cfg config.Storage) *Store {
	opts := s3.Options{
		Region:       cfg.S3Region,
		UsePathStyle: true,
	}
	if cfg.S3KeyID != "" {
		opts.Credentials = credentials.NewStaticCredentialsProvider(cfg.S3KeyID, cfg.S3Secret, "")
	}
	if cfg.S3Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.S3Endpoint)
	}
	client := s3.New(opts)
	return &Store{
		api:     client,
		presign: s3.NewPresignClient(client),
		bucket:  cfg.S3Bucket,
		now:     time.Now,
	}
}

// NewWithAPI creates a Store over an existing client (tests, custom setups).
func NewWithAPI(api API, bucket string) *Store {
	return &Store{api: api, bucket: bucket, now: time.Now}
}

// Save uploads t as a new result object.
func (s *Store) Save(ctx context.Context, t dataset.Table) (tablestore.Saved, error) {
	data, sum, err := csvfile.EncodeBytes(t)
	if err != nil {
		return tablestore.Saved{}, fmt.Errorf("encode table: %w", err)
	}
	name := csvfile.NewResultName(s.now())
	if err := s.put(ctx, path.Join(csvfile.ResultsDir, name), data); err != nil {
		return tablestore.Saved{}, err
	}
	return tablestore.Saved{Name: name, Checksum: sum, Size: int64(len(data))}, nil
}

// Load downloads and decodes a stored table.
func (s *Store) Load(ctx context.Context, name string) (dataset.Table, error) {
	rc, err := s.Open(ctx, name)
	if err != nil {
		return dataset.Table{}, err
	}
	defer func() { _ = rc.Close() }()

	t, err := csvfile.Decode(rc)
	if err != nil {
		return dataset.Table{}, fmt.Errorf("decode %s: %w", name, err)
	}
	return t, nil
}

// PutUpload stores r as a new upload object. The body is buffered so the
// request can be signed with a known length.
func (s *Store) PutUpload(ctx context.Context, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	name := csvfile.NewUploadName()
	if err := s.put(ctx, path.Join(csvfile.UploadsDir, name), data); err != nil {
		return "", err
	}
	return name, nil
}

// Open streams a stored object.
func (s *Store) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	key, err := key(name)
	if err != nil {
		return nil, err
	}
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: table %s", domain.ErrNotFound, name)
		}
		return nil, fmt.Errorf("s3 get %s: %w", key, err)
	}
	return out.Body, nil
}

// Purge deletes upload objects last modified before cutoff.
func (s *Store) Purge(ctx context.Context, cutoff time.Time) (int, error) {
	p := s3.NewListObjectsV2Paginator(s.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(csvfile.UploadsDir + "/"),
	})

	removed := 0
	var errs []error
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return removed, fmt.Errorf("s3 list uploads: %w", err)
		}
		for _, obj := range page.Contents {
			if obj.LastModified == nil || !obj.LastModified.Before(cutoff) {
				continue
			}
			if _, err := s.api.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(s.bucket),
				Key:    obj.Key,
			}); err != nil {
				errs = append(errs, fmt.Errorf("s3 delete %s: %w", aws.ToString(obj.Key), err))
				continue
			}
			removed++
		}
	}
	return removed, errors.Join(errs...)
}

// PresignGet returns a time-limited download URL for a stored table.
func (s *Store) PresignGet(ctx context.Context, name string, expiry time.Duration) (string, error) {
	if s.presign == nil {
		return "", errors.New("presigning not configured")
	}
	key, err := key(name)
	if err != nil {
		return "", err
	}
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return req.URL, nil
}

func (s *Store) put(ctx context.Context, key string, data []byte) error {
	_, err := s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("text/csv; charset=utf-8"),
	})
	if err != nil {
		return fmt.Errorf("s3 put %s: %w", key, err)
	}
	return nil
}

func key(name string) (string, error) {
	dir, err := csvfile.Locate(name)
	if err != nil {
		return "", err
	}
	return path.Join(dir, name), nil
}
