package delivery

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3API is the subset of the S3 client used by the connector.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Connector PUTs payloads into an S3 bucket under
// <prefix>/<subject_id>/<timestamp>.json.
type S3Connector struct {
	client S3API
	bucket string
	prefix string
}

// NewS3Connector creates an S3 connector writing into bucket under prefix.
func NewS3Connector(client S3API, bucket, prefix string) *S3Connector {
	return &S3Connector{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
}

// Type returns "s3".
func (c *S3Connector) Type() string { return "s3" }

// Deliver uploads data as one object. Metadata entries become S3 object
// metadata.
func (c *S3Connector) Deliver(ctx context.Context, subjectID string, data []byte, metadata map[string]string) (*Result, error) {
	key := fmt.Sprintf("%s/%s/%d.json", c.prefix, subjectID, time.Now().UTC().UnixNano())
	if c.prefix == "" {
		key = strings.TrimPrefix(key, "/")
	}

	_, err := c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
		Metadata:    metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("s3: put s3://%s/%s: %w", c.bucket, key, err)
	}

	return &Result{ResponseData: "s3://" + c.bucket + "/" + key}, nil
}
