package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"biodata-hand/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// NewS3Client erstellt einen S3-Client für den Shard-Bucket.
func NewS3Client(cfg *config.Config) (*s3.Client, error) {
	return NewS3ClientAt(cfg.ShardS3URL, cfg.ShardS3Region, cfg.ShardS3Key, cfg.ShardS3Secret)
}

// NewS3ClientAt erstellt einen S3-Client für einen beliebigen S3-kompatiblen
// Endpunkt mit statischen Zugangsdaten. Wird auch vom Backup-Tool verwendet.
func NewS3ClientAt(endpoint, region, accessKey, secretKey string) (*s3.Client, error) {
	resolver := aws.EndpointResolverWithOptionsFunc(
		func(service, _ string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{
				URL:               endpoint,
				SigningRegion:     region,
				HostnameImmutable: true,
			}, nil
		},
	)
	awsCfg, err := awsconfig.LoadDefaultConfig(context.TODO(),
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
		awsconfig.WithEndpointResolverWithOptions(resolver),
	)
	if err != nil {
		return nil, err
	}

	return s3.NewFromConfig(awsCfg), nil
}

// S3ShardStore speichert Shards als Objekte in einem S3-Bucket.
type S3ShardStore struct {
	client *s3.Client
	bucket string
}

// NewS3ShardStore erstellt einen ShardStore über dem konfigurierten Bucket.
func NewS3ShardStore(client *s3.Client, bucket string) *S3ShardStore {
	return &S3ShardStore{client: client, bucket: bucket}
}

// Put lädt eine Shard-Datei in den Bucket hoch.
func (s *S3ShardStore) Put(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
		Body:   bytes.NewReader(data),
	})
	return err
}

// Get lädt eine Shard-Datei aus dem Bucket.
func (s *S3ShardStore) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: could not fetch shard %s: %w", key, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

// List listet alle Shard-Keys unter einem Prefix, sortiert wie von S3 geliefert.
func (s *S3ShardStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: &s.bucket,
		Prefix: &prefix,
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}
	}
	return keys, nil
}
