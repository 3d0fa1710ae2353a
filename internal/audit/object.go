package audit

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"promptloop/internal/util/jsonutil"
)

// ObjectConfig configures an S3-compatible bucket.
type ObjectConfig struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	UseSSL    bool
}

// ObjectSink writes one JSON object per entry under
// <prefix>/<run_id>/<index>-<kind>.json.
type ObjectSink struct {
	client *minio.Client
	bucket string
	region string
	prefix string

	initOnce sync.Once
	initErr  error
}

// NewObjectSink builds a sink backed by MinIO or any S3-compatible store.
func NewObjectSink(cfg ObjectConfig) (*ObjectSink, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("audit: s3 endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("audit: s3 access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("audit: s3 bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("audit: init s3 client: %w", err)
	}
	return &ObjectSink{
		client: client,
		bucket: bucket,
		region: region,
		prefix: strings.Trim(strings.TrimSpace(cfg.Prefix), "/"),
	}, nil
}

func (s *ObjectSink) ensureBucket(ctx context.Context) error {
	s.initOnce.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.bucket)
		if err != nil {
			s.initErr = err
			return
		}
		if exists {
			return
		}
		s.initErr = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region})
	})
	return s.initErr
}

func (s *ObjectSink) Record(ctx context.Context, e Entry) error {
	if strings.TrimSpace(e.RunID) == "" {
		return fmt.Errorf("audit: run_id is required")
	}
	if err := s.ensureBucket(ctx); err != nil {
		return fmt.Errorf("audit: ensure bucket: %w", err)
	}
	b, err := jsonutil.MarshalNoEscape(Stamp(e))
	if err != nil {
		return fmt.Errorf("audit: encode entry: %w", err)
	}
	_, err = s.client.PutObject(ctx, s.bucket, ObjectKey(s.prefix, e), bytes.NewReader(b), int64(len(b)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("audit: put object: %w", err)
	}
	return nil
}

func (s *ObjectSink) Close() error { return nil }

// ObjectKey is the key an entry is stored under.
func ObjectKey(prefix string, e Entry) string {
	name := fmt.Sprintf("%04d-%s.json", e.Index, strings.ReplaceAll(e.Kind, ".", "-"))
	return path.Join(prefix, e.RunID, name)
}
