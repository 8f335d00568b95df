package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/stratumgis/stratum/internal/domain"
	"github.com/stratumgis/stratum/internal/ports/output"
	"github.com/stratumgis/stratum/internal/uri"
)

// s3FS implements objectFS over an S3 bucket prefix.
type s3FS struct {
	client *s3.Client
	bucket string
	prefix string
}

// newS3Backend builds the handle bundle for an s3 catalog location.
func newS3Backend(ctx context.Context, loc uri.Location, opts output.Options) (*output.Bundle, error) {
	var loadOpts []func(*config.LoadOptions) error

	if region := opts[output.OptionRegion]; region != "" {
		loadOpts = append(loadOpts, config.WithRegion(region))
	}

	// Use explicit credentials if provided
	accessKey := opts[output.OptionAccessKeyID]
	secretKey := opts[output.OptionSecretAccessKey]
	if accessKey != "" && secretKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, &domain.BackendError{Backend: "s3", Operation: "connect", Err: err}
	}

	var clientOpts []func(*s3.Options)
	if endpoint := opts[output.OptionEndpoint]; endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
	}

	fs := &s3FS{
		client: s3.NewFromConfig(awsCfg, clientOpts...),
		bucket: loc.Bucket,
		prefix: loc.Prefix,
	}
	return newObjectBundle(fs, "s3"), nil
}

func (f *s3FS) read(ctx context.Context, path string) ([]byte, error) {
	resp, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(f.fullKey(path)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("%s: %w", path, domain.ErrNotFound)
		}
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	return io.ReadAll(resp.Body)
}

func (f *s3FS) write(ctx context.Context, path string, data []byte) error {
	_, err := f.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(f.fullKey(path)),
		Body:   bytes.NewReader(data),
	})
	return err
}

func (f *s3FS) list(ctx context.Context, dir string) ([]string, error) {
	prefix := f.fullKey(dir) + "/"

	var names []string
	paginator := s3.NewListObjectsV2Paginator(f.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(f.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			key := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if key != "" {
				names = append(names, key)
			}
		}
	}

	return names, nil
}

// fullKey returns the full object key including the catalog prefix.
func (f *s3FS) fullKey(path string) string {
	if f.prefix == "" {
		return path
	}
	return f.prefix + "/" + path
}
