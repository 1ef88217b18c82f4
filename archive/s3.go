// archive/s3.go
package archive

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/models"
)

// S3Config holds S3 client configuration.
type S3Config struct {
	Bucket string
	Prefix string
	Region string

	// Endpoint overrides the default S3 endpoint (for S3-compatible services)
	Endpoint string

	// UsePathStyle forces path-style addressing (for MinIO, LocalStack)
	UsePathStyle bool

	// Credentials (optional - uses default chain if not provided)
	AccessKeyID     string
	SecretAccessKey string

	UploadTimeout time.Duration
}

// ObjectPutter is the part of *s3.Client the archiver uses.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver uploads files to a bucket and records them as s3://bucket/key.
type S3Archiver struct {
	cfg    S3Config
	client ObjectPutter
}

// NewS3Archiver builds an S3 client from cfg.
func NewS3Archiver(ctx context.Context, cfg S3Config) (*S3Archiver, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return NewS3ArchiverWithClient(cfg, s3.NewFromConfig(awsCfg, s3Opts...)), nil
}

func NewS3ArchiverWithClient(cfg S3Config, client ObjectPutter) *S3Archiver {
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = 5 * time.Minute
	}
	return &S3Archiver{cfg: cfg, client: client}
}

func (a *S3Archiver) Key(rec models.FileRecord) string {
	return path.Join(a.cfg.Prefix, rec.Path)
}

// Archive uploads source. When rec carries an md5 hash it is sent as
// Content-MD5 so S3 rejects a corrupted upload.
func (a *S3Archiver) Archive(ctx context.Context, source string, rec models.FileRecord) (string, error) {
	f, err := os.Open(source)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", source, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}

	key := a.Key(rec)
	input := &s3.PutObjectInput{
		Bucket:        aws.String(a.cfg.Bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		Metadata: map[string]string{
			"version":          fmt.Sprintf("%d", rec.Version),
			"software-version": rec.SoftwareVersion,
		},
	}
	if raw, err := hex.DecodeString(rec.Hash); err == nil && len(raw) == 16 {
		input.ContentMD5 = aws.String(base64.StdEncoding.EncodeToString(raw))
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.UploadTimeout)
	defer cancel()
	if _, err := a.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("failed to upload %s to s3://%s/%s: %w", source, a.cfg.Bucket, key, err)
	}
	return fmt.Sprintf("s3://%s/%s", a.cfg.Bucket, key), nil
}
