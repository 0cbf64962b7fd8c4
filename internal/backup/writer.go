package backup

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const minPartSize int64 = 5 * 1024 * 1024

// Upload writes data to key under the client's bucket using the
// multipart manager, which handles archives larger than a single
// PutObject comfortably supports.
func (c *Client) Upload(ctx context.Context, key string, data io.Reader, size int64) error {
	partSize := size / 4
	if partSize < minPartSize {
		partSize = minPartSize
	}

	uploader := manager.NewUploader(c.s3, func(u *manager.Uploader) {
		u.PartSize = partSize
	})

	_, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        data,
		ContentType: aws.String("application/gzip"),
	})
	if err != nil {
		return fmt.Errorf("backup: upload %s: %w", key, err)
	}
	return nil
}

// List returns the keys under the bucket with the given prefix.
func (c *Client) List(ctx context.Context, prefix string) ([]s3Object, error) {
	out, err := c.s3.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("backup: list %s*: %w", prefix, err)
	}

	objects := make([]s3Object, 0, len(out.Contents))
	for _, obj := range out.Contents {
		if obj.Key == nil {
			continue
		}
		var size int64
		if obj.Size != nil {
			size = *obj.Size
		}
		objects = append(objects, s3Object{Key: *obj.Key, Size: size})
	}
	return objects, nil
}

// Delete removes key from the bucket.
func (c *Client) Delete(ctx context.Context, key string) error {
	_, err := c.s3.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("backup: delete %s: %w", key, err)
	}
	return nil
}

type s3Object struct {
	Key  string
	Size int64
}
