package archive

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
)

type fakePutter struct {
	putFn func(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

func (f *fakePutter) PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	return f.putFn(ctx, bucket, key, r, size, opts)
}

func TestObjectKeyUsesUTCDay(t *testing.T) {
	loc := time.FixedZone("PST", -8*3600)
	d := Delivery{ApplicationID: "app-1", ReceivedAt: time.Date(2025, 3, 31, 20, 0, 0, 0, loc)}
	if got := ObjectKey(d); got != "deliveries/2025/04/01/app-1.json" {
		t.Fatalf("ObjectKey() = %q", got)
	}
}

func TestSaveWritesJSON(t *testing.T) {
	var (
		gotBucket, gotKey string
		gotBody           Delivery
		gotOpts           minio.PutObjectOptions
	)
	archive := &MinioArchive{bucket: "deliveries", client: &fakePutter{
		putFn: func(_ context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
			gotBucket, gotKey, gotOpts = bucket, key, opts
			raw, err := io.ReadAll(r)
			if err != nil {
				t.Fatalf("read body: %v", err)
			}
			if int64(len(raw)) != size {
				t.Fatalf("size %d does not match body %d", size, len(raw))
			}
			if err := json.Unmarshal(raw, &gotBody); err != nil {
				t.Fatalf("body is not JSON: %v", err)
			}
			return minio.UploadInfo{Key: key}, nil
		},
	}}

	d := Delivery{
		ApplicationID: "app-1",
		SubmissionID:  "evt-1",
		ReceivedAt:    time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		Shapes:        []string{"flat"},
		Fields:        map[string]string{"q29_companyName": "Acme"},
		Files:         map[string]string{"q44_pitchDeck": "deck.pdf"},
	}
	key, err := archive.Save(context.Background(), d)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if key != "deliveries/2025/01/02/app-1.json" || gotKey != key || gotBucket != "deliveries" {
		t.Fatalf("unexpected key/bucket: %q %q %q", key, gotKey, gotBucket)
	}
	if gotOpts.ContentType != "application/json" || gotOpts.UserMetadata["submission-id"] != "evt-1" {
		t.Fatalf("unexpected options: %+v", gotOpts)
	}
	if gotBody.Fields["q29_companyName"] != "Acme" || gotBody.Files["q44_pitchDeck"] != "deck.pdf" {
		t.Fatalf("unexpected body: %+v", gotBody)
	}
}

func TestSaveWrapsUploadErrors(t *testing.T) {
	boom := errors.New("boom")
	archive := &MinioArchive{bucket: "b", client: &fakePutter{
		putFn: func(context.Context, string, string, io.Reader, int64, minio.PutObjectOptions) (minio.UploadInfo, error) {
			return minio.UploadInfo{}, boom
		},
	}}
	if _, err := archive.Save(context.Background(), Delivery{ApplicationID: "a"}); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}
