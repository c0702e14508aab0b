package storage

import (
	"bytes"
	"context"
	"fmt"

	"citation-finder/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// ObjectPutter ist der Teil des S3-Clients, den das Archiv benötigt.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// NewS3Client erstellt einen S3-Client für einen S3-kompatiblen Endpunkt (z.B. Strato HiDrive, MinIO).
func NewS3Client(ctx context.Context, cfg *config.Config) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.ArchiveS3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.ArchiveS3Key, cfg.ArchiveS3Secret, "")),
	)
	if err != nil {
		return nil, err
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.ArchiveS3URL)
		o.UsePathStyle = true
	}), nil
}

// S3Archive legt die rohen Artikel-XMLs unter articles/<id>.xml ab.
type S3Archive struct {
	client ObjectPutter
	bucket string
	logger *zap.Logger
}

// NewS3Archive erstellt ein Archiv auf dem angegebenen Bucket.
func NewS3Archive(client ObjectPutter, bucket string, logger *zap.Logger) *S3Archive {
	return &S3Archive{client: client, bucket: bucket, logger: logger}
}

// ArticleKey gibt den Objektschlüssel für eine Artikel-ID zurück.
func ArticleKey(id string) string {
	return fmt.Sprintf("articles/%s.xml", id)
}

// Archive lädt das Payload hoch und gibt den Objektschlüssel zurück.
func (a *S3Archive) Archive(ctx context.Context, id string, payload []byte) (string, error) {
	key := ArticleKey(id)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/xml"),
	})
	if err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	a.logger.Debug("Artikel-XML archiviert", zap.String("pmid", id), zap.String("key", key), zap.Int("bytes", len(payload)))
	return key, nil
}
