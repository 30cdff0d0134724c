package s3publisher

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"upscaleworker/internal/core/domain"
)

const uploadTimeout = 10 * time.Minute

// PutObjectAPI is the subset of the S3 client the publisher needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Publisher implements ports.Publisher by uploading output videos to a bucket.
type S3Publisher struct {
	client     PutObjectAPI
	bucketName string
	prefix     string
	endpoint   string
}

// NewS3Publisher wraps an existing client.
func NewS3Publisher(client PutObjectAPI, bucketName, prefix, endpoint string) *S3Publisher {
	return &S3Publisher{
		client:     client,
		bucketName: bucketName,
		prefix:     strings.Trim(prefix, "/"),
		endpoint:   strings.TrimRight(endpoint, "/"),
	}
}

// New loads the default AWS configuration and builds a publisher. A non-empty
// endpoint targets an S3-compatible store with path-style addressing.
func New(ctx context.Context, bucketName, prefix, endpoint string) (*S3Publisher, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3Publisher(client, bucketName, prefix, endpoint), nil
}

// Publish uploads the artifact under <prefix>/<handle>/<file name>.
func (p *S3Publisher) Publish(ctx context.Context, handle string, artifact *domain.OutputArtifact) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	key := p.Key(handle, filepath.Base(artifact.Path))
	_, err := p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(p.bucketName),
		Key:           aws.String(key),
		Body:          bytes.NewReader(artifact.Data),
		ContentLength: aws.Int64(int64(len(artifact.Data))),
		ContentType:   aws.String(contentType(artifact.Path)),
	})
	if err != nil {
		return "", fmt.Errorf("couldn't upload object with key: %s, AWS error: %w", key, err)
	}
	return p.URL(key), nil
}

// Key builds the object key for a job's output file.
func (p *S3Publisher) Key(handle, fileName string) string {
	if p.prefix == "" {
		return path.Join(handle, fileName)
	}
	return path.Join(p.prefix, handle, fileName)
}

// URL returns the location of key, against the custom endpoint when one is set.
func (p *S3Publisher) URL(key string) string {
	if p.endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", p.endpoint, p.bucketName, key)
	}
	return fmt.Sprintf("s3://%s/%s", p.bucketName, key)
}

func contentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".mp4":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	case ".mov":
		return "video/quicktime"
	case ".gif":
		return "image/gif"
	}
	return "application/octet-stream"
}
