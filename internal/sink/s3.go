package sink

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"
)

// DefaultBucket is the well-known bucket archives are uploaded to when the
// caller does not name one.
const DefaultBucket = "funcpack-artifacts"

// Location identifies an uploaded archive in object storage.
type Location struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

// URI returns the s3:// form of the location.
func (l Location) URI() string {
	return "s3://" + l.Bucket + "/" + l.Key
}

// PermissionError reports that object storage denied access for a reason
// other than the resource not existing yet.
type PermissionError struct {
	Bucket string
	Err    error
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("access to bucket %q denied: %v (the caller needs s3:GetObject, s3:PutObject and s3:CreateBucket on it)", e.Bucket, e.Err)
}

func (e *PermissionError) Unwrap() error { return e.Err }

// ObjectStore is the narrow object-storage surface the S3 sink needs.
// *minio.Client satisfies it through minioStore.
type ObjectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket, region string) error
	ObjectExists(ctx context.Context, bucket, key string) (bool, error)
	Upload(ctx context.Context, bucket, key, filePath, sha256Hex string) error
}

// S3Sink uploads archives under content-addressed keys: the key is the hex
// SHA-256 of the archive bytes, so identical content always maps to the
// identical key and a re-upload of existing content can be skipped.
type S3Sink struct {
	store  ObjectStore
	bucket string
	prefix string
	region string
}

// S3Options configures an S3 sink.
type S3Options struct {
	// Endpoint overrides the storage endpoint, e.g. for localstack. Empty
	// means AWS S3.
	Endpoint string
	Region   string
	Bucket   string
	// Prefix is prepended to content-addressed keys, with a separating "/".
	Prefix string
}

// NewS3Sink creates an S3 sink backed by an S3-compatible service.
// Credentials come from the standard AWS environment/config chain.
func NewS3Sink(opts S3Options) (*S3Sink, error) {
	endpoint := "s3.amazonaws.com"
	secure := true
	if opts.Endpoint != "" {
		u, err := url.Parse(opts.Endpoint)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("invalid storage endpoint %q", opts.Endpoint)
		}
		endpoint = u.Host
		secure = u.Scheme != "http"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds: credentials.NewChainCredentials([]credentials.Provider{
			&credentials.EnvAWS{},
			&credentials.FileAWSCredentials{},
			&credentials.IAM{},
		}),
		Secure: secure,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	log.Debug().
		Str("endpoint", endpoint).
		Str("region", opts.Region).
		Bool("ssl", secure).
		Msg("Object storage client initialized")

	bucket := opts.Bucket
	if bucket == "" {
		bucket = DefaultBucket
	}

	return &S3Sink{
		store:  minioStore{client: client},
		bucket: bucket,
		prefix: opts.Prefix,
		region: opts.Region,
	}, nil
}

// NewS3SinkWithStore creates a sink over an explicit store. Used by tests
// and by callers that already hold a client.
func NewS3SinkWithStore(store ObjectStore, bucket, prefix, region string) *S3Sink {
	if bucket == "" {
		bucket = DefaultBucket
	}
	return &S3Sink{store: store, bucket: bucket, prefix: prefix, region: region}
}

// Put uploads the archive at archivePath under its content-addressed key,
// creating the bucket if absent and skipping the upload when identical
// content is already present. The returned Location is identical either way.
func (s *S3Sink) Put(ctx context.Context, archivePath string) (Location, error) {
	sum, err := fileSHA256(archivePath)
	if err != nil {
		return Location{}, err
	}

	key := sum + ".zip"
	if s.prefix != "" {
		key = strings.TrimSuffix(s.prefix, "/") + "/" + key
	}
	loc := Location{Bucket: s.bucket, Key: key}

	if err := s.ensureBucket(ctx); err != nil {
		return Location{}, err
	}

	exists, err := s.store.ObjectExists(ctx, s.bucket, key)
	if err != nil {
		return Location{}, fmt.Errorf("failed to check for existing content: %w", err)
	}
	if exists {
		log.Info().
			Str("bucket", s.bucket).
			Str("key", key).
			Msg("Identical content already uploaded, skipping")
		return loc, nil
	}

	if err := s.store.Upload(ctx, s.bucket, key, archivePath, sum); err != nil {
		return Location{}, fmt.Errorf("failed to upload archive: %w", err)
	}

	log.Info().
		Str("bucket", s.bucket).
		Str("key", key).
		Msg("Archive uploaded")

	return loc, nil
}

// ensureBucket creates the target bucket when it does not exist yet. Access
// failures for any other reason surface as PermissionErrors.
func (s *S3Sink) ensureBucket(ctx context.Context) error {
	exists, err := s.store.BucketExists(ctx, s.bucket)
	if err != nil {
		return &PermissionError{Bucket: s.bucket, Err: err}
	}
	if exists {
		return nil
	}
	if err := s.store.MakeBucket(ctx, s.bucket, s.region); err != nil {
		return &PermissionError{Bucket: s.bucket, Err: err}
	}
	log.Info().Str("bucket", s.bucket).Msg("Bucket created")
	return nil
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open archive: %w", err)
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash archive: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// minioStore adapts *minio.Client to ObjectStore.
type minioStore struct {
	client *minio.Client
}

func (m minioStore) BucketExists(ctx context.Context, bucket string) (bool, error) {
	return m.client.BucketExists(ctx, bucket)
}

func (m minioStore) MakeBucket(ctx context.Context, bucket, region string) error {
	return m.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region})
}

func (m minioStore) ObjectExists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := m.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		errResponse := minio.ToErrorResponse(err)
		if errResponse.Code == "NoSuchKey" {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (m minioStore) Upload(ctx context.Context, bucket, key, filePath, sha256Hex string) error {
	_, err := m.client.FPutObject(ctx, bucket, key, filePath, minio.PutObjectOptions{
		ContentType:  "application/zip",
		UserMetadata: map[string]string{"Content-Sha256": sha256Hex},
	})
	return err
}
