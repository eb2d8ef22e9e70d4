package payload

import (
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"custodia/internal/platform/config"
	"custodia/pkg/platform/sentinel"
)

// MinIOStore keeps sealed payloads under sealed/<principal> and releases
// them by server-side copy to released/<request>. The destination key is
// derived from the request id, so replaying a release overwrites the same
// object and returns the same reference.
type MinIOStore struct {
	client *minio.Client
	bucket string
}

func NewMinIOStore(cfg config.Payload) (*MinIOStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}
	return &MinIOStore{client: client, bucket: cfg.Bucket}, nil
}

func sealedKey(principalID string) string { return "sealed/" + principalID }
func releasedKey(requestID string) string { return "released/" + requestID }

func (s *MinIOStore) Release(ctx context.Context, principalID, requestID string) (string, error) {
	src := sealedKey(principalID)
	dst := releasedKey(requestID)

	if _, err := s.client.StatObject(ctx, s.bucket, src, minio.StatObjectOptions{}); err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" {
			return "", fmt.Errorf("sealed payload for %s: %w", principalID, sentinel.ErrNotFound)
		}
		return "", fmt.Errorf("stat sealed payload: %w", err)
	}

	_, err := s.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: s.bucket, Object: dst},
		minio.CopySrcOptions{Bucket: s.bucket, Object: src},
	)
	if err != nil {
		return "", fmt.Errorf("release payload: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, dst), nil
}
