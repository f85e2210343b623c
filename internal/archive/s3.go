// Package archive uploads JSON snapshots of cleared records to S3-compatible
// object storage (R2, MinIO, AWS).
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"delivery-backend/internal/config"
	"delivery-backend/internal/models"
)

// ObjectPutter is the slice of the S3 client the uploader needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3Uploader struct {
	client ObjectPutter
	bucket string
	prefix string
	log    logrus.FieldLogger
}

// NewS3Uploader builds an uploader from the archive settings. Static
// credentials are used when configured, otherwise the default AWS chain.
func NewS3Uploader(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*S3Uploader, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Archive.Region),
	}
	if cfg.Archive.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.Archive.AccessKey,
			cfg.Archive.SecretKey,
			"",
		)))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "load s3 config")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Archive.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Archive.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewUploader(client, cfg.Archive.Bucket, cfg.Archive.Prefix, log), nil
}

func NewUploader(client ObjectPutter, bucket, prefix string, log logrus.FieldLogger) *S3Uploader {
	return &S3Uploader{client: client, bucket: bucket, prefix: prefix, log: log.WithField("component", "archive")}
}

// Upload writes snapshot as JSON and returns the object key.
func (u *S3Uploader) Upload(ctx context.Context, snapshot *models.ArchiveSnapshot) (string, error) {
	body, err := json.Marshal(snapshot)
	if err != nil {
		return "", errors.Wrap(err, "encode snapshot")
	}

	key := path.Join(u.prefix, fmt.Sprintf("%s_%s.json",
		snapshot.TakenAt.UTC().Format("20060102_150405"), uuid.NewString()))

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", errors.Wrapf(err, "put s3://%s/%s", u.bucket, key)
	}

	u.log.WithFields(logrus.Fields{
		"key":        key,
		"requests":   len(snapshot.Requests),
		"deliveries": len(snapshot.Deliveries),
		"bytes":      len(body),
	}).Info("[Archive] Snapshot uploaded")
	return key, nil
}
