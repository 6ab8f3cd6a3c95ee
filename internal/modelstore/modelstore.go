// Package modelstore backs the trained model file up to S3-compatible
// storage so a fleet of devices can share one enrollment.
package modelstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/andresmejia3/facegate/internal/config"
)

// ErrNotConfigured is returned when no endpoint or bucket is set.
var ErrNotConfigured = errors.New("model storage is not configured")

// Store moves model files in and out of one bucket.
type Store struct {
	client *minio.Client
	bucket string
}

// New builds a client from cfg. No request is made until Push or Pull.
func New(cfg config.StorageConfig) (*Store, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, ErrNotConfigured
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &Store{client: client, bucket: cfg.Bucket}, nil
}

// Key is the object name for a model file. An empty device shares one
// model across the fleet.
func Key(device, modelPath string) string {
	name := filepath.Base(modelPath)
	device = strings.Trim(device, "/")
	if device == "" {
		return path.Join("models", name)
	}
	return path.Join("models", device, name)
}

// Push uploads the local model file, creating the bucket if needed.
func (s *Store) Push(ctx context.Context, key, modelPath string) (int64, error) {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return 0, fmt.Errorf("failed to check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return 0, fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
		}
		slog.Info("created model bucket", "bucket", s.bucket)
	}

	info, err := s.client.FPutObject(ctx, s.bucket, key, modelPath, minio.PutObjectOptions{
		ContentType: "application/yaml",
	})
	if err != nil {
		return 0, fmt.Errorf("failed to upload %s: %w", modelPath, err)
	}
	slog.Info("model pushed", "bucket", s.bucket, "key", key, "size", info.Size)
	return info.Size, nil
}

// Validator checks a downloaded model file before it replaces the local one.
type Validator func(path string) error

// Pull downloads key into a temporary file next to modelPath, checks it
// with validate and only then renames it over the model. A failed download
// or a payload validate rejects leaves the old model intact.
func (s *Store) Pull(ctx context.Context, key, modelPath string, validate Validator) error {
	tmp, err := tempPath(modelPath)
	if err != nil {
		return err
	}
	if err := s.client.FGetObject(ctx, s.bucket, key, tmp, minio.GetObjectOptions{}); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to download %s/%s: %w", s.bucket, key, err)
	}
	if err := install(tmp, modelPath, validate); err != nil {
		return err
	}
	slog.Info("model pulled", "bucket", s.bucket, "key", key, "path", modelPath)
	return nil
}

// tempPath reserves a file name in the model's directory so the final
// rename stays on one filesystem.
func tempPath(modelPath string) (string, error) {
	f, err := os.CreateTemp(filepath.Dir(modelPath), "."+filepath.Base(modelPath)+".pull-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary model file: %w", err)
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return "", err
	}
	return name, nil
}

// install validates tmp and moves it over modelPath. tmp is removed on
// any failure.
func install(tmp, modelPath string, validate Validator) error {
	if validate != nil {
		if err := validate(tmp); err != nil {
			_ = os.Remove(tmp)
			return fmt.Errorf("downloaded model rejected: %w", err)
		}
	}
	if err := os.Rename(tmp, modelPath); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace %s: %w", modelPath, err)
	}
	return nil
}
