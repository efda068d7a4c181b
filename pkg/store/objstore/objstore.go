// Package objstore archives finished runs to an S3 compatible bucket.
package objstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/nstogner/autofix/pkg/runner"
	"github.com/nstogner/autofix/pkg/store"
)

type Config struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
	// Prefix is prepended to every object key.
	Prefix string `yaml:"prefix"`
}

// bucket is the subset of *minio.Client used here.
type bucket interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (*minio.Object, error)
}

// Archiver implements store.Archiver on top of MinIO.
type Archiver struct {
	client     bucket
	bucketName string
	region     string
	prefix     string
	initOnce   sync.Once
	initErr    error
}

var _ store.Archiver = (*Archiver)(nil)

func New(cfg Config) (*Archiver, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("archive endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("archive access key and secret key are required")
	}
	bucketName := strings.TrimSpace(cfg.Bucket)
	if bucketName == "" {
		return nil, fmt.Errorf("archive bucket is required")
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
		return nil, fmt.Errorf("init s3 client: %w", err)
	}
	return newArchiver(client, bucketName, region, cfg.Prefix), nil
}

func newArchiver(client bucket, bucketName, region, prefix string) *Archiver {
	return &Archiver{
		client:     client,
		bucketName: bucketName,
		region:     region,
		prefix:     strings.Trim(prefix, "/"),
	}
}

func (a *Archiver) ensureBucket(ctx context.Context) error {
	a.initOnce.Do(func() {
		exists, err := a.client.BucketExists(ctx, a.bucketName)
		if err != nil {
			a.initErr = err
			return
		}
		if exists {
			return
		}
		a.initErr = a.client.MakeBucket(ctx, a.bucketName, minio.MakeBucketOptions{Region: a.region})
	})
	return a.initErr
}

func (a *Archiver) key(runID string, parts ...string) string {
	return path.Join(append([]string{a.prefix, "runs", runID}, parts...)...)
}

// Archive uploads meta.json, outcome.json and the original and fixed source
// trees of a finished run.
func (a *Archiver) Archive(ctx context.Context, meta store.RunMeta, out *runner.Outcome) error {
	if out == nil || out.RunID == "" {
		return fmt.Errorf("archive: outcome with run id is required")
	}
	if err := a.ensureBucket(ctx); err != nil {
		return fmt.Errorf("ensure bucket: %w", err)
	}

	metaJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	outJSON, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	if err := a.put(ctx, a.key(out.RunID, "meta.json"), metaJSON, "application/json"); err != nil {
		return err
	}
	if err := a.put(ctx, a.key(out.RunID, "outcome.json"), outJSON, "application/json"); err != nil {
		return err
	}
	for p, content := range out.OriginalCode {
		if err := a.put(ctx, a.key(out.RunID, "original", p), []byte(content), "text/plain; charset=utf-8"); err != nil {
			return err
		}
	}
	for p, content := range out.FixedCode {
		if err := a.put(ctx, a.key(out.RunID, "fixed", p), []byte(content), "text/plain; charset=utf-8"); err != nil {
			return err
		}
	}
	return nil
}

func (a *Archiver) put(ctx context.Context, key string, content []byte, contentType string) error {
	_, err := a.client.PutObject(ctx, a.bucketName, key, bytes.NewReader(content), int64(len(content)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Fetch reads back the archived outcome of a run.
func (a *Archiver) Fetch(ctx context.Context, runID string) (*runner.Outcome, error) {
	obj, err := a.client.GetObject(ctx, a.bucketName, a.key(runID, "outcome.json"), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get outcome: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		var resp minio.ErrorResponse
		if errors.As(err, &resp) && resp.Code == "NoSuchKey" {
			return nil, fmt.Errorf("%w: %s", store.ErrNotFound, runID)
		}
		return nil, fmt.Errorf("read outcome: %w", err)
	}
	var out runner.Outcome
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode outcome: %w", err)
	}
	return &out, nil
}
