package objstore

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	signerv4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3API is the subset of S3 operations the bucket adapter needs. The SDK
// client satisfies it; tests inject fakes.
type S3API interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
}

// Presigner is the subset of the SDK presign client used by PresignPut.
type Presigner interface {
	PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*signerv4.PresignedHTTPRequest, error)
}

// Bucket composes presign and copy behavior on top of a vendor S3 client
// instead of modifying the vendor type.
type Bucket struct {
	name      string
	client    S3API
	presigner Presigner
}

// NewBucket wraps an SDK client in the bucket adapter.
func NewBucket(client *s3.Client, name string) *Bucket {
	return &Bucket{
		name:      name,
		client:    client,
		presigner: s3.NewPresignClient(client),
	}
}

// NewBucketWithAPI builds an adapter from explicit interfaces (for tests).
func NewBucketWithAPI(client S3API, presigner Presigner, name string) *Bucket {
	return &Bucket{name: name, client: client, presigner: presigner}
}

// Name returns the bucket name.
func (b *Bucket) Name() string {
	return b.name
}

// Head performs the minimal authenticated call used as a connectivity and
// credential test.
func (b *Bucket) Head(ctx context.Context) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.name),
	})
	return err
}

// PresignPut returns a presigned PUT URL for direct browser uploads.
func (b *Bucket) PresignPut(ctx context.Context, key, contentType string, expires time.Duration) (string, error) {
	input := &s3.PutObjectInput{
		Bucket: aws.String(b.name),
		Key:    aws.String(key),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	req, err := b.presigner.PresignPutObject(ctx, input, func(o *s3.PresignOptions) {
		o.Expires = expires
	})
	if err != nil {
		return "", fmt.Errorf("failed to presign put for %s: %w", key, err)
	}
	return req.URL, nil
}

// Copy performs a server-side copy within the bucket.
func (b *Bucket) Copy(ctx context.Context, srcKey, dstKey string) error {
	source := url.PathEscape(b.name + "/" + srcKey)
	_, err := b.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(b.name),
		Key:        aws.String(dstKey),
		CopySource: aws.String(source),
	})
	if err != nil {
		return fmt.Errorf("failed to copy %s to %s: %w", srcKey, dstKey, err)
	}
	return nil
}

// Download streams an object to destPath and returns the byte count. The
// destination file is removed again on failure.
func (b *Bucket) Download(ctx context.Context, key, destPath string) (int64, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.name),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get object %s: %w", key, err)
	}
	defer out.Body.Close()

	f, err := os.Create(destPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", destPath, err)
	}

	n, err := io.Copy(f, out.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(destPath)
		return 0, fmt.Errorf("failed to download %s: %w", key, err)
	}
	return n, nil
}
