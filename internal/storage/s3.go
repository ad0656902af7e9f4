package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog/log"

	"github.com/stratumhq/stratum/internal/config"
	"github.com/stratumhq/stratum/internal/domain"
)

func init() {
	RegisterDriver("s3", func(cfg *config.StorageConfig) (Driver, error) {
		return NewS3Driver(context.Background(), &cfg.S3)
	})
}

// S3Driver stores objects in an S3 bucket under a configurable key prefix.
type S3Driver struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Driver creates an S3 driver from the ambient AWS configuration.
func NewS3Driver(ctx context.Context, cfg *config.S3Config) (*S3Driver, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	log.Info().Str("bucket", cfg.Bucket).Str("prefix", cfg.Prefix).Msg("S3 storage initialized")

	return &S3Driver{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

func (d *S3Driver) Name() string { return "s3" }

func (d *S3Driver) objectKey(key string) string {
	if d.prefix == "" {
		return key
	}
	return d.prefix + "/" + key
}

func (d *S3Driver) stripPrefix(objectKey string) string {
	if d.prefix == "" {
		return objectKey
	}
	return strings.TrimPrefix(objectKey, d.prefix+"/")
}

// isNotFound reports whether err is the S3 flavor of an absent object.
func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var responseError *awshttp.ResponseError
	return errors.As(err, &responseError) && responseError.HTTPStatusCode() == http.StatusNotFound
}

func (d *S3Driver) Get(ctx context.Context, key string) ([]byte, error) {
	reader, err := d.StreamRead(ctx, key, nil)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return data, nil
}

func (d *S3Driver) Put(ctx context.Context, key string, content []byte) error {
	return d.StreamWrite(ctx, key, bytes.NewReader(content))
}

func (d *S3Driver) Exists(ctx context.Context, key string) (bool, error) {
	_, err := d.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.objectKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to head %s: %w", key, err)
	}
	return true, nil
}

func (d *S3Driver) Remove(ctx context.Context, key string) error {
	exists, err := d.Exists(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		_, err := d.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(d.bucket),
			Key:    aws.String(d.objectKey(key)),
		})
		if err != nil {
			return fmt.Errorf("failed to delete %s: %w", key, err)
		}
		return nil
	}

	// Directory removal: delete every object under the prefix.
	descendants, err := d.descendantKeys(ctx, key)
	if err != nil {
		return err
	}
	if len(descendants) == 0 {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, key)
	}

	for start := 0; start < len(descendants); start += 1000 {
		end := min(start+1000, len(descendants))
		objects := make([]types.ObjectIdentifier, 0, end-start)
		for _, objectKey := range descendants[start:end] {
			objects = append(objects, types.ObjectIdentifier{Key: aws.String(objectKey)})
		}
		_, err := d.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(d.bucket),
			Delete: &types.Delete{Objects: objects},
		})
		if err != nil {
			return fmt.Errorf("failed to delete under %s: %w", key, err)
		}
	}

	log.Debug().Str("key", key).Int("objects", len(descendants)).Msg("Prefix removed")
	return nil
}

func (d *S3Driver) descendantKeys(ctx context.Context, key string) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(d.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(d.bucket),
		Prefix: aws.String(d.objectKey(key) + "/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list under %s: %w", key, err)
		}
		for _, object := range page.Contents {
			keys = append(keys, aws.ToString(object.Key))
		}
	}
	return keys, nil
}

func (d *S3Driver) Size(ctx context.Context, key string) (int64, error) {
	head, err := d.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.objectKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return 0, fmt.Errorf("%w: %s", domain.ErrNotFound, key)
		}
		return 0, fmt.Errorf("failed to head %s: %w", key, err)
	}
	if head.ContentLength == nil {
		return 0, fmt.Errorf("no content length for %s", key)
	}
	return *head.ContentLength, nil
}

func (d *S3Driver) StreamRead(ctx context.Context, key string, byteRange *ByteRange) (io.ReadCloser, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.objectKey(key)),
	}
	if byteRange != nil {
		input.Range = aws.String(fmt.Sprintf("bytes=%d-%d", byteRange.First, byteRange.Last))
	}
	output, err := d.client.GetObject(ctx, input)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return output.Body, nil
}

func (d *S3Driver) StreamWrite(ctx context.Context, key string, source io.Reader) error {
	_, err := d.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.objectKey(key)),
		Body:   source,
	})
	if err != nil {
		return fmt.Errorf("failed to put %s: %w", key, err)
	}
	return nil
}

func (d *S3Driver) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(d.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(d.bucket),
		Prefix:    aws.String(d.objectKey(prefix) + "/"),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
		}
		for _, object := range page.Contents {
			keys = append(keys, d.stripPrefix(aws.ToString(object.Key)))
		}
		for _, common := range page.CommonPrefixes {
			keys = append(keys, strings.TrimSuffix(d.stripPrefix(aws.ToString(common.Prefix)), "/"))
		}
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, prefix)
	}
	sort.Strings(keys)
	return keys, nil
}

func (d *S3Driver) SupportsRanges() bool { return true }
