// Package s3 is the S3-compatible driver for the artifact store, backed by
// the MinIO client. A custom endpoint (MinIO, LocalStack) switches the
// driver to path-style addressing and disables server-side encryption;
// against real AWS every object is stored with AES-256 SSE.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/encrypt"

	"justifai.co/issuance/storage"
)

type Store struct {
	client         *minio.Client
	bucket         string
	region         string
	customEndpoint bool
	publicURL      string
	timeout        time.Duration
}

// Config carries the driver settings. Endpoint empty means real AWS.
type Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	PublicURL string
}

func New(cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3: bucket name is required")
	}
	endpoint := cfg.Endpoint
	custom := endpoint != ""
	useSSL := cfg.UseSSL
	if !custom {
		if cfg.Region == "" {
			cfg.Region = "us-east-1"
		}
		endpoint = fmt.Sprintf("s3.%s.amazonaws.com", cfg.Region)
		useSSL = true
	} else {
		endpoint = strings.TrimPrefix(strings.TrimPrefix(endpoint, "https://"), "http://")
	}

	var creds *credentials.Credentials
	if cfg.AccessKey != "" {
		creds = credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, "")
	} else {
		creds = credentials.NewEnvAWS()
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  creds,
		Secure: useSSL,
		Region: cfg.Region,
		// Path-style is required by most S3-compatible endpoints.
		BucketLookup: lookupFor(custom),
	})
	if err != nil {
		return nil, err
	}
	return &Store{
		client:         client,
		bucket:         cfg.Bucket,
		region:         cfg.Region,
		customEndpoint: custom,
		publicURL:      cfg.PublicURL,
		timeout:        60 * time.Second,
	}, nil
}

func lookupFor(custom bool) minio.BucketLookupType {
	if custom {
		return minio.BucketLookupPath
	}
	return minio.BucketLookupDNS
}

func (s *Store) Name() string { return "s3" }

func (s *Store) Store(data []byte, tenantID, batchID, objectID string, opts ...storage.Option) (string, error) {
	o := storage.Apply(opts)
	key, err := storage.Key(tenantID, batchID, objectID, o)
	if err != nil {
		return "", err
	}
	put := minio.PutObjectOptions{ContentType: o.ContentType}
	if !s.customEndpoint {
		// AES-256 SSE only on real AWS; S3-compatible endpoints reject it.
		put.ServerSideEncryption = encrypt.NewSSE()
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), put)
	if err != nil {
		return "", err
	}
	return key, nil
}

func (s *Store) Retrieve(relativePath string) ([]byte, error) {
	if err := storage.ValidateKey(relativePath); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	obj, err := s.client.GetObject(ctx, s.bucket, relativePath, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	b, err := io.ReadAll(obj)
	if err != nil {
		var resp minio.ErrorResponse
		if errors.As(err, &resp) && resp.Code == "NoSuchKey" {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return b, nil
}

func (s *Store) PublicURL(relativePath string) string {
	if s.publicURL != "" {
		return s.publicURL + "/" + relativePath
	}
	if s.customEndpoint {
		return ""
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, relativePath)
}
