package app

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"
)

// ClientMinio is the slice of the minio client this app consumes. Kept as
// an interface so tests can substitute a mock.
type ClientMinio interface {
	ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	PresignedGetObject(ctx context.Context, bucketName, objectName string, expires time.Duration, reqParams url.Values) (*url.URL, error)
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (info minio.UploadInfo, err error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
}

// ImageStore keeps normalized analysis images in a single S3 bucket,
// one folder per user id.
type ImageStore struct {
	endpoint   string
	bucketName string
	client     ClientMinio
}

const (
	imageContentType = "image/jpeg"
	presignExpiry    = 7 * 24 * time.Hour
)

// NewImageStore creates an ImageStore backed by a real minio client.
func NewImageStore(endpoint, accessKeyID, secretAccessKey, bucketName string, useSSL bool) (*ImageStore, error) {
	minioClient, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKeyID, secretAccessKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio S3 client: %w", err)
	}

	return &ImageStore{
		endpoint:   endpoint,
		bucketName: bucketName,
		client:     minioClient,
	}, nil
}

// NewImageStoreWithClient wires an existing client, used by tests.
func NewImageStoreWithClient(bucketName string, client ClientMinio) *ImageStore {
	return &ImageStore{bucketName: bucketName, client: client}
}

// UploadImage stores one normalized JPEG under <userID>/<name> and returns
// a presigned URL for it.
func (s *ImageStore) UploadImage(ctx context.Context, userID, name string, data []byte) (string, error) {
	objectName := fmt.Sprintf("%s/%s", userID, name)
	_, err := s.client.PutObject(ctx,
		s.bucketName,
		objectName,
		bytes.NewReader(data),
		int64(len(data)),
		minio.PutObjectOptions{ContentType: imageContentType})
	if err != nil {
		return "", fmt.Errorf("upload image %s: %w", objectName, err)
	}

	presignedURL, err := s.client.PresignedGetObject(ctx, s.bucketName, objectName, presignExpiry, nil)
	if err != nil {
		return "", fmt.Errorf("presign image %s: %w", objectName, err)
	}
	return presignedURL.String(), nil
}

// ListImages returns presigned URLs for every stored image of one user,
// filtered to the formats the app writes.
func (s *ImageStore) ListImages(ctx context.Context, userID string) ([]*url.URL, error) {
	result := make([]*url.URL, 0)
	objectCh := s.client.ListObjects(ctx, s.bucketName, minio.ListObjectsOptions{
		Prefix:    userID + "/",
		Recursive: true,
	})
	for object := range objectCh {
		if object.Err != nil {
			return result, object.Err
		}
		if !hasExtension(object.Key, []string{"jpg", "jpeg", "png"}) {
			continue
		}
		reqParams := make(url.Values)
		reqParams.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", object.Key))
		presignedURL, err := s.client.PresignedGetObject(ctx, s.bucketName, object.Key, presignExpiry, reqParams)
		if err != nil {
			return result, err
		}
		result = append(result, presignedURL)
	}
	return result, nil
}

// DeleteAllForUser removes every stored object under the user's prefix.
// Part of the account deletion cascade.
func (s *ImageStore) DeleteAllForUser(ctx context.Context, userID string) error {
	objectCh := s.client.ListObjects(ctx, s.bucketName, minio.ListObjectsOptions{
		Prefix:    userID + "/",
		Recursive: true,
	})
	for object := range objectCh {
		if object.Err != nil {
			return object.Err
		}
		if err := s.client.RemoveObject(ctx, s.bucketName, object.Key, minio.RemoveObjectOptions{}); err != nil {
			log.Warn().Err(err).Str("object", object.Key).Msg("can not remove stored image")
			return fmt.Errorf("remove object %s: %w", object.Key, err)
		}
	}
	return nil
}

func hasExtension(key string, exts []string) bool {
	parsed := strings.Split(key, ".")
	if len(parsed) < 2 {
		return false
	}
	for _, e := range exts {
		if e == parsed[len(parsed)-1] {
			return true
		}
	}
	return false
}
