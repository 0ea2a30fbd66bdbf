package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/studiosync/studiosync/internal/utils"
)

const (
	// localReadRetries bounds retries of local file opens that fail with a
	// permission error, which happens while a DAW still holds the file.
	localReadRetries = 6
	localReadBackoff = 500 * time.Millisecond
)

// S3Config carries the credentials and bucket coordinates for one bucket.
// Credentials are vended by the metadata service and injected at construction.
type S3Config struct {
	AccessKey string
	SecretKey string
	Region    string
	Endpoint  string
	Bucket    string
}

type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store builds an S3-backed Store from vended credentials.
func NewS3Store(cfg *S3Config) (*S3Store, error) {
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

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithHTTPClient(httpClient),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Store{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

func (s *S3Store) List(ctx context.Context, prefix string) ([]*Object, error) {
	var objects []*Object

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: &s.bucket,
		Prefix: &prefix,
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list %q: %w", prefix, err)
		}

		for _, obj := range page.Contents {
			objects = append(objects, &Object{
				Key:          NormalizeKey(aws.ToString(obj.Key)),
				ETag:         strings.ReplaceAll(aws.ToString(obj.ETag), "\"", ""),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}

	return objects, nil
}

func (s *S3Store) Upload(ctx context.Context, localPath string, key string) (*Object, error) {
	if key == "" || strings.Contains(key, `\`) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	f, size, err := s.openLocal(localPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	resp, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &s.bucket,
		Key:           &key,
		Body:          f,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return nil, fmt.Errorf("upload %q: %w", key, err)
	}

	return &Object{
		Key:          key,
		ETag:         strings.ReplaceAll(aws.ToString(resp.ETag), "\"", ""),
		Size:         size,
		LastModified: time.Now().UTC(),
	}, nil
}

// openLocal opens a file for upload, retrying permission errors with a
// linear backoff. DAWs keep exclusive handles on session files during save.
func (s *S3Store) openLocal(path string) (*os.File, int64, error) {
	var lastErr error
	for attempt := 1; attempt <= localReadRetries; attempt++ {
		f, err := os.Open(path)
		if err == nil {
			info, err := f.Stat()
			if err != nil {
				f.Close()
				return nil, 0, fmt.Errorf("stat %s: %w", path, err)
			}
			return f, info.Size(), nil
		}
		if !errors.Is(err, fs.ErrPermission) {
			return nil, 0, fmt.Errorf("open %s: %w", path, err)
		}
		lastErr = err
		slog.Warn("upload source locked, retrying", "path", path, "attempt", attempt)
		time.Sleep(time.Duration(attempt) * localReadBackoff)
	}
	return nil, 0, fmt.Errorf("open %s: %w", path, lastErr)
}

func (s *S3Store) Download(ctx context.Context, key string, localPath string) error {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return fmt.Errorf("%w: %q", ErrKeyNotFound, key)
		}
		return fmt.Errorf("download %q: %w", key, err)
	}
	defer resp.Body.Close()

	if err := utils.EnsureParent(localPath); err != nil {
		return fmt.Errorf("ensure parent of %s: %w", localPath, err)
	}

	tmp := localPath + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}

	if _, err := out.ReadFrom(resp.Body); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("write %s: %w", localPath, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}

	return os.Rename(tmp, localPath)
}

func (s *S3Store) Copy(ctx context.Context, srcKey string, dstKey string) error {
	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     &s.bucket,
		CopySource: aws.String(fmt.Sprintf("%s/%s", s.bucket, srcKey)),
		Key:        &dstKey,
	})
	if err != nil {
		return fmt.Errorf("copy %q to %q: %w", srcKey, dstKey, err)
	}
	return nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

var _ Store = (*S3Store)(nil)
