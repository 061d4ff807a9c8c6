package report

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const putTimeout = 15 * time.Second

// MinIOConfig holds the connection settings of a report bucket.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Region    string

	// Prefix is prepended to every object key.
	Prefix string
}

// Validate checks that the required settings are present.
func (c MinIOConfig) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return fmt.Errorf("minio endpoint is required")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return fmt.Errorf("minio bucket is required")
	}
	if c.AccessKey == "" || c.SecretKey == "" {
		return fmt.Errorf("minio access key and secret key are required")
	}
	return nil
}

// BucketClient is the subset of *minio.Client used for archiving.
type BucketClient interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// NewMinIOClient creates a client for cfg.
func NewMinIOClient(cfg MinIOConfig) (*minio.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// MinIOArchiver uploads reports to a bucket, creating the bucket on first use.
type MinIOArchiver struct {
	client BucketClient
	cfg    MinIOConfig

	bucketReady bool
}

// NewMinIOArchiver creates an archiver using client.
func NewMinIOArchiver(client BucketClient, cfg MinIOConfig) *MinIOArchiver {
	return &MinIOArchiver{client: client, cfg: cfg}
}

// Archive implements [Archiver]. The returned location is bucket/key.
func (a *MinIOArchiver) Archive(ctx context.Context, r Report) (string, error) {
	data, err := r.Marshal()
	if err != nil {
		return "", err
	}
	if err := a.ensureBucket(ctx); err != nil {
		return "", fmt.Errorf("ensure report bucket: %w", err)
	}

	key := path.Join(a.cfg.Prefix, r.FileName())
	putCtx, cancel := context.WithTimeout(ctx, putTimeout)
	defer cancel()
	_, err = a.client.PutObject(putCtx, a.cfg.Bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/yaml"})
	if err != nil {
		return "", fmt.Errorf("upload report: %w", err)
	}
	return a.cfg.Bucket + "/" + key, nil
}

func (a *MinIOArchiver) ensureBucket(ctx context.Context) error {
	if a.bucketReady {
		return nil
	}
	exists, err := a.client.BucketExists(ctx, a.cfg.Bucket)
	if err != nil {
		return err
	}
	if !exists {
		if err := a.client.MakeBucket(ctx, a.cfg.Bucket, minio.MakeBucketOptions{Region: a.cfg.Region}); err != nil {
			return err
		}
	}
	a.bucketReady = true
	return nil
}
