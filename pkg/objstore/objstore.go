// Package objstore fetches documents from S3 by key.
package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// ErrNoBucket is returned when no bucket is configured.
var ErrNoBucket = errors.New("objstore: no bucket configured")

// ObjectGetter is the part of the S3 client used here.
type ObjectGetter interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Bucket reads whole objects from a single bucket.
type Bucket struct {
	client ObjectGetter
	name   string
}

// NewBucket wraps client for bucket name.
func NewBucket(client ObjectGetter, name string) *Bucket {
	return &Bucket{client: client, name: name}
}

// Name returns the bucket name.
func (b *Bucket) Name() string { return b.name }

// Get returns the full body of key.
func (b *Bucket) Get(ctx context.Context, key string) ([]byte, error) {
	if b.name == "" {
		return nil, ErrNoBucket
	}
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.name),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("objstore: get %s/%s: %w", b.name, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("objstore: read %s/%s: %w", b.name, key, err)
	}
	return data, nil
}

// Clients bundles the AWS clients built from one shared configuration.
type Clients struct {
	S3      *s3.Client
	Secrets *secretsmanager.Client
}

// LoadClients builds S3 and Secrets Manager clients from the default
// credential chain. An empty region defers to the environment.
func LoadClients(ctx context.Context, region string) (*Clients, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("objstore: load aws config: %w", err)
	}
	return &Clients{
		S3:      s3.NewFromConfig(cfg),
		Secrets: secretsmanager.NewFromConfig(cfg),
	}, nil
}
