package docsource

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/sync/singleflight"
)

// S3Loader reads document text from an S3 bucket. Reads for the same key are
// coalesced and cached for the lifetime of the loader, since documents are
// immutable once converted.
type S3Loader struct {
	bucket string
	client *s3.Client

	cacheMu sync.RWMutex
	cache   map[string][]byte
	group   singleflight.Group
}

// NewS3LoaderParams configures an S3Loader. Endpoint supports S3-compatible
// stores like MinIO; AccessKey/SecretKey are static credentials.
type NewS3LoaderParams struct {
	Bucket    string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
}

// NewS3Loader creates an S3-backed document loader.
func NewS3Loader(ctx context.Context, params NewS3LoaderParams) (*S3Loader, error) {
	cfg, err := config.LoadDefaultConfig(
		ctx,
		config.WithRegion(params.Region),
		config.WithBaseEndpoint(params.Endpoint),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			params.AccessKey,
			params.SecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})
	return NewS3LoaderWithClient(params.Bucket, client), nil
}

// NewS3LoaderWithClient creates an S3Loader over an existing client.
func NewS3LoaderWithClient(bucket string, client *s3.Client) *S3Loader {
	return &S3Loader{
		bucket: bucket,
		client: client,
		cache:  make(map[string][]byte),
	}
}

func (l *S3Loader) Load(ctx context.Context, key string) ([]byte, error) {
	l.cacheMu.RLock()
	if data, ok := l.cache[key]; ok {
		l.cacheMu.RUnlock()
		return data, nil
	}
	l.cacheMu.RUnlock()

	v, err, _ := l.group.Do(key, func() (any, error) {
		result, err := l.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(l.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to get object %s: %w", key, err)
		}
		defer result.Body.Close()

		buf := new(bytes.Buffer)
		if _, err := io.Copy(buf, result.Body); err != nil {
			return nil, fmt.Errorf("failed to read object %s: %w", key, err)
		}
		data := buf.Bytes()

		l.cacheMu.Lock()
		l.cache[key] = data
		l.cacheMu.Unlock()
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}
