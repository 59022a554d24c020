package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"path"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

// S3Cache is an object-storage tier, grounded directly on imageproxy's
// s3cache: a JSON envelope carrying the value plus an optional expiry is
// stored at bucket/prefix/key, so any S3-compatible store (AWS, a
// self-hosted minio, etc.) works without a second code path.
type S3Cache struct {
	api    s3iface.S3API
	bucket string
	prefix string
}

type s3Envelope struct {
	Value      []byte    `json:"value"`
	ModTime    time.Time `json:"mod_time"`
	ExpiryTime time.Time `json:"expiry_time,omitempty"`
}

// S3Options configures S3Cache.
type S3Options struct {
	Region           string
	Bucket           string
	Prefix           string
	Endpoint         string
	DisableSSL       bool
	ForcePathStyle   bool
}

// NewS3Cache creates an S3-backed tier.
func NewS3Cache(opts S3Options) (*S3Cache, error) {
	cfg := aws.NewConfig().WithRegion(opts.Region)
	if opts.Endpoint != "" {
		cfg = cfg.WithEndpoint(opts.Endpoint)
	}
	if opts.DisableSSL {
		cfg = cfg.WithDisableSSL(true)
	}
	if opts.ForcePathStyle {
		cfg = cfg.WithS3ForcePathStyle(true)
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, err
	}
	return &S3Cache{api: s3.New(sess), bucket: opts.Bucket, prefix: opts.Prefix}, nil
}

func (c *S3Cache) objectKey(key string) string {
	return path.Join(c.prefix, key)
}

func (c *S3Cache) Exists(ctx context.Context, key string) (bool, error) {
	objKey := c.objectKey(key)
	_, err := c.api.HeadObjectWithContext(ctx, &s3.HeadObjectInput{Bucket: &c.bucket, Key: &objKey})
	if err != nil {
		var aerr awserr.Error
		if errors.As(err, &aerr) && (aerr.Code() == "NotFound" || aerr.Code() == "NoSuchKey") {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (c *S3Cache) Get(ctx context.Context, key string) ([]byte, time.Time, error) {
	objKey := c.objectKey(key)
	resp, err := c.api.GetObjectWithContext(ctx, &s3.GetObjectInput{Bucket: &c.bucket, Key: &objKey})
	if err != nil {
		var aerr awserr.Error
		if errors.As(err, &aerr) && (aerr.Code() == "NoSuchKey" || aerr.Code() == "NotFound") {
			return nil, time.Time{}, ErrMiss
		}
		return nil, time.Time{}, err
	}
	defer resp.Body.Close()

	var env s3Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, time.Time{}, err
	}
	if !env.ExpiryTime.IsZero() && time.Now().After(env.ExpiryTime) {
		go func() { _ = c.Delete(context.Background(), key) }()
		return nil, time.Time{}, ErrMiss
	}
	return env.Value, env.ModTime, nil
}

func (c *S3Cache) Set(ctx context.Context, key string, value []byte, modTime time.Time, ttl time.Duration) error {
	objKey := c.objectKey(key)
	env := s3Envelope{Value: value, ModTime: modTime}
	if ttl > 0 {
		env.ExpiryTime = time.Now().Add(ttl)
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	_, err = c.api.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Body:   aws.ReadSeekCloser(bytes.NewReader(data)),
		Bucket: &c.bucket,
		Key:    &objKey,
	})
	return err
}

func (c *S3Cache) MultiSet(ctx context.Context, items map[string][]byte, modTime time.Time, ttl time.Duration) error {
	for k, v := range items {
		if err := c.Set(ctx, k, v, modTime, ttl); err != nil {
			return err
		}
	}
	return nil
}

func (c *S3Cache) Delete(ctx context.Context, key string) error {
	objKey := c.objectKey(key)
	_, err := c.api.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{Bucket: &c.bucket, Key: &objKey})
	return err
}

func (c *S3Cache) Close() error { return nil }

var _ io.Closer = (*S3Cache)(nil)
