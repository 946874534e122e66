// Package storage provides object storage operations.
package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ContentStore is the content-addressed byte store for uploaded documents.
// Put hashes the bytes with SHA-256; identical bytes always yield the same
// hash and the same storage locator.
type ContentStore interface {
	Put(ctx context.Context, data []byte, fileName string) (locator, contentHash string, err error)
	Get(ctx context.Context, locator string) ([]byte, error)
	Delete(ctx context.Context, locator string) error
	Health(ctx context.Context) error
}

// MinIOConfig holds MinIO connection configuration.
type MinIOConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	UseSSL          bool
	Region          string
}

// MinIOContentStore implements ContentStore using the MinIO SDK.
type MinIOContentStore struct {
	client     *minio.Client
	bucketName string
	region     string
}

// NewMinIOContentStore creates a new MinIO-backed content store.
func NewMinIOContentStore(cfg MinIOConfig) (*MinIOContentStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	return &MinIOContentStore{
		client:     client,
		bucketName: cfg.BucketName,
		region:     cfg.Region,
	}, nil
}

// InitBucket ensures the bucket exists and creates it if necessary.
func (s *MinIOContentStore) InitBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucketName)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		err = s.client.MakeBucket(ctx, s.bucketName, minio.MakeBucketOptions{Region: s.region})
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return nil
}

// Health checks MinIO connectivity.
func (s *MinIOContentStore) Health(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucketName)
	return err
}

// Put stores document bytes under a content-addressed key and returns the
// locator and the hex SHA-256 content hash.
func (s *MinIOContentStore) Put(ctx context.Context, data []byte, fileName string) (string, string, error) {
	hash := HashContent(data)
	locator := path.Join("documents", hash[:2], hash, fileName)

	contentType := http.DetectContentType(data)
	_, err := s.client.PutObject(ctx, s.bucketName, locator,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", "", fmt.Errorf("failed to upload bytes: %w", err)
	}

	return locator, hash, nil
}

// Get downloads an object and returns its contents.
func (s *MinIOContentStore) Get(ctx context.Context, locator string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucketName, locator, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to read object: %w", err)
	}

	return data, nil
}

// Delete removes an object from storage.
func (s *MinIOContentStore) Delete(ctx context.Context, locator string) error {
	err := s.client.RemoveObject(ctx, s.bucketName, locator, minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// HashContent returns the hex SHA-256 digest of the given bytes.
func HashContent(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
