// Package archive keeps the raw text of every webhook delivery in object
// storage so a submission can be audited or re-normalized later.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Delivery is the archived form of one webhook call. File uploads are recorded
// by name only.
type Delivery struct {
	ApplicationID string            `json:"applicationId"`
	SubmissionID  string            `json:"submissionId"`
	ReceivedAt    time.Time         `json:"receivedAt"`
	Shapes        []string          `json:"shapes"`
	Fields        map[string]string `json:"fields"`
	Files         map[string]string `json:"files,omitempty"`
}

// ObjectKey places deliveries under the UTC day they arrived.
func ObjectKey(d Delivery) string {
	return fmt.Sprintf("deliveries/%s/%s.json", d.ReceivedAt.UTC().Format("2006/01/02"), d.ApplicationID)
}

type objectPutter interface {
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// MinioArchive writes deliveries to a MinIO/S3 bucket.
type MinioArchive struct {
	client objectPutter
	bucket string
}

// NewMinioArchive connects to MinIO and ensures the bucket exists.
func NewMinioArchive(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioArchive, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	return &MinioArchive{client: client, bucket: bucket}, nil
}

// Save uploads the delivery and returns its object key.
func (a *MinioArchive) Save(ctx context.Context, d Delivery) (string, error) {
	body, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("marshal delivery: %w", err)
	}
	key := ObjectKey(d)
	_, err = a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "application/json",
		UserMetadata: map[string]string{
			"submission-id": d.SubmissionID,
		},
	})
	if err != nil {
		return "", fmt.Errorf("put delivery %s: %w", key, err)
	}
	return key, nil
}
