package storage

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/joseph-ayodele/nfe-ocr/constants"
	"github.com/joseph-ayodele/nfe-ocr/internal/common"
)

// S3Config targets AWS S3 or any S3-compatible endpoint (R2, MinIO).
type S3Config struct {
	Bucket    string
	Prefix    string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
}

// S3 is a secondary tier. Keys are deterministic, so a repeated upload of the same
// name on the same day replaces the earlier object unless the bucket is versioned.
type S3 struct {
	client *s3.Client
	bucket string
	prefix string
	logger *slog.Logger
}

func NewS3(ctx context.Context, cfg S3Config, logger *slog.Logger) (*S3, error) {
	if logger == nil {
		logger = slog.Default()
	}
	region := cfg.Region
	if region == "" {
		region = "auto"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, common.NewAppError(common.CodeConfig, "load aws config", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix, logger: logger}, nil
}

func (s *S3) Name() constants.Backend     { return constants.BackendSecondaryBlob }
func (s *S3) Type() constants.StorageType { return constants.StorageRemote }

func (s *S3) Put(ctx context.Context, f File) (Location, error) {
	key := path.Join(s.prefix, f.RelPath())
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(f.Data),
		ContentType: aws.String(f.MIMEType),
		Metadata: map[string]string{
			"tax-id":      common.SanitizeTaxID(f.TaxID),
			"ocr-success": fmt.Sprint(f.OCRSuccess),
		},
	})
	if err != nil {
		return Location{}, common.PersistenceError("s3 put", err)
	}
	s.logger.Info("storage.s3.saved", "bucket", s.bucket, "key", key, "size", len(f.Data))
	return Location{
		FullPath: s.bucket + "/" + key,
		Filename: f.Name,
		Size:     int64(len(f.Data)),
	}, nil
}
