package upload

import (
	"context"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"

	"github.com/loadworks/loadoor/pkg/config"
)

// defaultPrefix is the key prefix used when the configuration leaves
// it empty.
const defaultPrefix = "loadoor/runs"

// s3Uploader ships run artifacts to S3-compatible storage, one object
// per file, keyed by execution id.
type s3Uploader struct {
	log    logrus.FieldLogger
	cfg    *config.S3UploadConfig
	client *s3.Client
}

var _ Uploader = (*s3Uploader)(nil)

// newS3Client builds an S3 client from the upload configuration.
func newS3Client(cfg *config.S3UploadConfig) *s3.Client {
	return s3.New(s3.Options{}, func(o *s3.Options) {
		o.Region = cfg.Region
		if o.Region == "" {
			o.Region = "us-east-1"
		}

		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
		}

		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}

		if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
			o.Credentials = credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID, cfg.SecretAccessKey, "",
			)
		}
	})
}

// NewS3Uploader creates an Uploader backed by S3-compatible storage.
func NewS3Uploader(
	log logrus.FieldLogger,
	cfg *config.S3UploadConfig,
) (Uploader, error) {
	return &s3Uploader{
		log:    log.WithField("component", "s3-uploader"),
		cfg:    cfg,
		client: newS3Client(cfg),
	}, nil
}

// Preflight verifies S3 connectivity by writing a small test object.
func (u *s3Uploader) Preflight(ctx context.Context) error {
	content := fmt.Sprintf("loadoor write test: %s", time.Now().UTC().Format(time.RFC3339))

	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.cfg.Bucket),
		Key:         aws.String(".loadoor-write-test"),
		Body:        strings.NewReader(content),
		ContentType: aws.String("text/plain"),
	})
	if err != nil {
		return fmt.Errorf("writing test object to s3://%s: %w", u.cfg.Bucket, err)
	}

	return nil
}

// Upload ships every file under localDir to S3, keyed as
// <prefix>/<executionID>/<relative path>.
func (u *s3Uploader) Upload(ctx context.Context, executionID, localDir string) error {
	var count int

	err := filepath.WalkDir(localDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			return nil
		}

		relPath, err := filepath.Rel(localDir, path)
		if err != nil {
			return fmt.Errorf("computing relative path: %w", err)
		}

		relKey := filepath.ToSlash(relPath)

		if err := u.uploadFile(ctx, path, u.objectKey(executionID, relKey), relKey); err != nil {
			return fmt.Errorf("uploading %s: %w", relKey, err)
		}

		count++

		return nil
	})
	if err != nil {
		return fmt.Errorf("walking run directory %s: %w", localDir, err)
	}

	u.log.WithFields(logrus.Fields{
		"execution_id": executionID,
		"files":        count,
		"bucket":       u.cfg.Bucket,
	}).Info("Run artifacts uploaded")

	return nil
}

// uploadFile puts a single run artifact.
func (u *s3Uploader) uploadFile(ctx context.Context, localPath, key, relKey string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("opening file: %w", err)
	}
	defer func() { _ = f.Close() }()

	u.log.WithFields(logrus.Fields{
		"key":    key,
		"bucket": u.cfg.Bucket,
	}).Debug("Uploading artifact")

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.cfg.Bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(artifactContentType(relKey)),
	})
	if err != nil {
		return fmt.Errorf("PutObject: %w", err)
	}

	return nil
}

// objectKey builds the full S3 key for an artifact of a run.
func (u *s3Uploader) objectKey(executionID, relKey string) string {
	prefix := u.cfg.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}

	return strings.TrimRight(prefix, "/") + "/" + executionID + "/" + relKey
}

// artifactContentType maps a run artifact to its MIME type. The known
// artifacts the runner produces are matched by name so the summary and
// process log render inline in a browser; anything else falls back to
// extension lookup.
func artifactContentType(relKey string) string {
	switch filepath.Base(relKey) {
	case "summary.json":
		return "application/json"
	case "process.log":
		return "text/plain; charset=utf-8"
	case "config.yaml", "config.yml":
		return "application/yaml"
	}

	if ct := mime.TypeByExtension(filepath.Ext(relKey)); ct != "" {
		return ct
	}

	return "application/octet-stream"
}
