package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

const listChunkSize = 1000

// S3Store implements ObjectStore on top of the AWS S3 API.
type S3Store struct {
	s3Client *s3.Client
}

// NewS3Store builds an S3Store from cfg, using the default credential chain
// unless static keys are provided.
func NewS3Store(ctx context.Context, cfg *S3Config) (*S3Store, error) {
	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          200,
			MaxIdleConnsPerHost:   100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ForceAttemptHTTP2:     true,
		},
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithHTTPClient(httpClient),
	}
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	awsClient := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Store{s3Client: awsClient}, nil
}

func (s *S3Store) Put(ctx context.Context, bucket, key, path string) (*ObjectInfo, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("put %s: %w", key, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("put %s: %w", key, err)
	}

	return s.PutStream(ctx, bucket, key, file, info.Size(), nil)
}

func (s *S3Store) PutStream(ctx context.Context, bucket, key string, body io.Reader, size int64, cond *PutConditions) (*ObjectInfo, error) {
	params := &s3.PutObjectInput{
		Bucket:        &bucket,
		Key:           &key,
		Body:          body,
		ContentLength: aws.Int64(size),
	}
	if cond != nil {
		if cond.IfMatch != "" {
			params.IfMatch = aws.String(cond.IfMatch)
		}
		if cond.IfNoneMatchAny {
			params.IfNoneMatch = aws.String("*")
		}
	}

	resp, err := s.s3Client.PutObject(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("put %s: %w", key, mapS3Error(err))
	}

	// s3.PutObjectOutput does not have LastModified
	return &ObjectInfo{
		Key:          key,
		Size:         size,
		VersionID:    aws.ToString(resp.VersionId),
		ETag:         trimETag(aws.ToString(resp.ETag)),
		LastModified: time.Now().UTC(),
	}, nil
}

func (s *S3Store) Get(ctx context.Context, bucket, key, path, version string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	defer file.Close()

	if err := s.GetStream(ctx, bucket, key, version, file); err != nil {
		return err
	}
	return file.Sync()
}

func (s *S3Store) GetStream(ctx context.Context, bucket, key, version string, w io.Writer) error {
	params := &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	}
	if version != "" {
		params.VersionId = aws.String(version)
	}

	resp, err := s.s3Client.GetObject(ctx, params)
	if err != nil {
		return fmt.Errorf("get %s: %w", key, mapS3Error(err))
	}
	defer resp.Body.Close()

	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	return nil
}

func (s *S3Store) Head(ctx context.Context, bucket, key string) (*ObjectInfo, error) {
	resp, err := s.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		return nil, fmt.Errorf("head %s: %w", key, mapS3Error(err))
	}

	return &ObjectInfo{
		Key:          key,
		VersionID:    aws.ToString(resp.VersionId),
		ETag:         trimETag(aws.ToString(resp.ETag)),
		Size:         aws.ToInt64(resp.ContentLength),
		LastModified: aws.ToTime(resp.LastModified),
	}, nil
}

// ListLatestVersions pages through ListObjectVersions following
// key-marker/version-id-marker until the listing is no longer truncated, and
// keeps only records flagged as the latest version of their key.
func (s *S3Store) ListLatestVersions(ctx context.Context, bucket, prefix string) ([]*ObjectInfo, error) {
	var objects []*ObjectInfo

	params := &s3.ListObjectVersionsInput{
		Bucket:  &bucket,
		Prefix:  aws.String(strings.TrimSuffix(prefix, "/") + "/"),
		MaxKeys: aws.Int32(listChunkSize),
	}

	for {
		page, err := s.s3Client.ListObjectVersions(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, mapS3Error(err))
		}

		for _, v := range page.Versions {
			if !aws.ToBool(v.IsLatest) {
				continue
			}
			objects = append(objects, &ObjectInfo{
				Key:          aws.ToString(v.Key),
				VersionID:    aws.ToString(v.VersionId),
				ETag:         trimETag(aws.ToString(v.ETag)),
				Size:         aws.ToInt64(v.Size),
				LastModified: aws.ToTime(v.LastModified),
			})
		}

		if !aws.ToBool(page.IsTruncated) {
			break
		}
		params.KeyMarker = page.NextKeyMarker
		params.VersionIdMarker = page.NextVersionIdMarker
	}

	return objects, nil
}

func (s *S3Store) Delete(ctx context.Context, bucket, key string) error {
	_, err := s.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, mapS3Error(err))
	}
	return nil
}

func trimETag(etag string) string {
	return strings.ReplaceAll(etag, "\"", "")
}

func mapS3Error(err error) error {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchVersion":
			return fmt.Errorf("%w: %s", ErrNotFound, err)
		case "PreconditionFailed":
			return fmt.Errorf("%w: %s", ErrPreconditionFailed, err)
		}
	}
	return err
}

// check if S3Store implements the ObjectStore interface
var _ ObjectStore = (*S3Store)(nil)
