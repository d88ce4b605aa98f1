package artifacts

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/haasonsaas/opsbench/pkg/models"
)

// S3StoreConfig configures an S3-compatible artifact store.
type S3StoreConfig struct {
	Bucket          string
	Region          string
	Endpoint        string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// DefaultS3StoreConfig returns the default configuration.
func DefaultS3StoreConfig() *S3StoreConfig {
	return &S3StoreConfig{
		Region: "us-east-1",
	}
}

// S3Store keeps artifacts in an S3-compatible bucket using the same
// content-addressed <prefix>/<sha[0:2]>/<sha> layout as LocalStore uses on
// disk. Object keys never include the original file name.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Store creates a new S3-backed artifact store.
func NewS3Store(ctx context.Context, cfg *S3StoreConfig) (*S3Store, error) {
	if cfg == nil {
		cfg = DefaultS3StoreConfig()
	}

	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	loadOptions := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOptions = append(loadOptions, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		if cfg.UsePathStyle {
			o.UsePathStyle = true
		}
	})

	prefix := strings.Trim(cfg.Prefix, "/")
	return &S3Store{
		client: client,
		bucket: bucket,
		prefix: prefix,
	}, nil
}

// Store uploads the payload under its content hash. An object that already
// exists is not rewritten.
func (s *S3Store) Store(ctx context.Context, payload models.ArtifactPayload) (models.ArtifactRef, error) {
	sum := sha256.Sum256(payload.Content)
	sha := hex.EncodeToString(sum[:])
	key := s.objectKey(sha)

	ref := models.ArtifactRef{
		SHA256:       sha,
		StoredPath:   fmt.Sprintf("s3://%s/%s", s.bucket, key),
		OriginalName: payload.OriginalName,
		MediaType:    payload.MediaType,
		Description:  payload.Description,
		SizeBytes:    int64(len(payload.Content)),
	}

	exists, err := s.Exists(ctx, sha)
	if err != nil {
		return models.ArtifactRef{}, err
	}
	if exists {
		return ref, nil
	}

	input := &s3.PutObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
		Body:   bytes.NewReader(payload.Content),
	}
	if payload.MediaType != "" {
		input.ContentType = aws.String(payload.MediaType)
	}
	meta := map[string]string{}
	if payload.OriginalName != "" {
		meta["original-name"] = payload.OriginalName
	}
	if payload.Description != "" {
		meta["description"] = payload.Description
	}
	if len(meta) > 0 {
		input.Metadata = meta
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return models.ArtifactRef{}, fmt.Errorf("s3 put object: %w", err)
	}

	return ref, nil
}

// Get downloads the artifact bytes for a reference.
func (s *S3Store) Get(ctx context.Context, ref models.ArtifactRef) ([]byte, error) {
	return s.GetByHash(ctx, ref.SHA256)
}

// GetByHash downloads the artifact bytes for a content hash.
func (s *S3Store) GetByHash(ctx context.Context, sha string) ([]byte, error) {
	key := s.objectKey(sha)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, sha)
		}
		return nil, fmt.Errorf("s3 get object: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3 read object: %w", err)
	}
	return data, nil
}

// Exists checks whether an object with the given hash is stored.
func (s *S3Store) Exists(ctx context.Context, sha string) (bool, error) {
	key := s.objectKey(sha)
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err == nil {
		return true, nil
	}
	if isS3NotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("s3 head object: %w", err)
}

// Delete removes the object. It reports whether the object existed.
func (s *S3Store) Delete(ctx context.Context, sha string) (bool, error) {
	exists, err := s.Exists(ctx, sha)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, nil
	}
	key := s.objectKey(sha)
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	}); err != nil {
		return false, fmt.Errorf("s3 delete object: %w", err)
	}
	return true, nil
}

// Close releases resources.
func (s *S3Store) Close() error { return nil }

func (s *S3Store) objectKey(sha string) string {
	key := sha
	if len(sha) >= 2 {
		key = path.Join(sha[:2], sha)
	}
	if s.prefix == "" {
		return key
	}
	return path.Join(s.prefix, key)
}

func isS3NotFound(err error) bool {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return strings.EqualFold(code, "NotFound") || strings.EqualFold(code, "NoSuchKey")
	}
	return false
}
