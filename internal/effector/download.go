package effector

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	logs "github.com/danmuck/healthmon/internal/logging"
)

// ObjectGetter is the part of the S3 client the downloader uses.
type ObjectGetter interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Downloader streams objects to local files. A download is written to
// a uniquely named .part file next to the destination and renamed into
// place only when complete.
type S3Downloader struct {
	Client ObjectGetter
}

// NewS3Downloader builds a downloader from the default AWS credential
// chain.
func NewS3Downloader(ctx context.Context, region string) (*S3Downloader, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("effector: load aws config: %w", err)
	}
	return &S3Downloader{Client: s3.NewFromConfig(cfg)}, nil
}

func (d *S3Downloader) Download(ctx context.Context, bucket, key, dest string) error {
	out, err := d.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("effector: get s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	tmp := dest + "." + uuid.NewString() + ".part"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("effector: create %s: %w", tmp, err)
	}
	n, err := io.Copy(f, contextReader{ctx: ctx, r: out.Body})
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp, dest)
	}
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("effector: download s3://%s/%s: %w", bucket, key, err)
	}
	logs.Infof("effector.S3Downloader.Download bucket=%q key=%q dest=%q bytes=%d", bucket, key, dest, n)
	return nil
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
