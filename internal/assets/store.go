package assets

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config holds object store settings for generated monster images.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// PublicURL is the base under which stored objects are reachable. When
	// empty, URLs are built from the endpoint.
	PublicURL string
}

func (c Config) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("assets: endpoint is required")
	}
	if c.AccessKey == "" || c.SecretKey == "" {
		return fmt.Errorf("assets: credentials are required")
	}
	if c.Bucket == "" {
		return fmt.Errorf("assets: bucket is required")
	}
	return nil
}

// Store keeps generated card images in an S3-compatible bucket.
type Store struct {
	client *minio.Client
	cfg    Config
}

func NewStore(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("assets: new client: %w", err)
	}
	return &Store{client: client, cfg: cfg}, nil
}

// EnsureBucket creates the image bucket if it does not exist yet.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("assets: bucket exists: %w", err)
	}
	if exists {
		return nil
	}
	return s.client.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{})
}

// PutImage stores one PNG under the monster's id and returns its public URL.
func (s *Store) PutImage(ctx context.Context, monsterID string, png []byte) (string, error) {
	if len(png) == 0 {
		return "", fmt.Errorf("assets: empty image")
	}
	key := fmt.Sprintf("monsters/%s.png", monsterID)
	_, err := s.client.PutObject(ctx, s.cfg.Bucket, key, bytes.NewReader(png), int64(len(png)),
		minio.PutObjectOptions{ContentType: "image/png"})
	if err != nil {
		return "", fmt.Errorf("assets: put image: %w", err)
	}
	return s.URL(key), nil
}

// URL returns the public URL for a stored object key.
func (s *Store) URL(key string) string {
	if s.cfg.PublicURL != "" {
		return strings.TrimRight(s.cfg.PublicURL, "/") + "/" + s.cfg.Bucket + "/" + key
	}
	scheme := "http"
	if s.cfg.UseSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, s.cfg.Endpoint, s.cfg.Bucket, key)
}
