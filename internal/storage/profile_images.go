package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const (
	maxProfileImageSize = 5 * 1024 * 1024
	profileImagePrefix  = "profile-images"
)

var (
	ErrFileTooBig           = errors.New("file size exceeds 5MB limit")
	ErrInvalidFileType      = errors.New("invalid file type, only JPEG and PNG images are allowed")
	ErrBucketCreationFailed = errors.New("failed to create storage bucket")
	ErrUploadFailed         = errors.New("failed to upload file")
	ErrURLGenerationFailed  = errors.New("failed to generate presigned URL")

	allowedContentTypes = map[string]struct{}{
		"image/jpeg": {},
		"image/png":  {},
	}
)

// ProfileImageStore keeps account profile images in object storage.
type ProfileImageStore interface {
	Upload(ctx context.Context, accountID uint, file io.Reader, fileSize int64) (string, error)
	Resolve(ctx context.Context, reference string) (string, error)
	Ping(ctx context.Context) error
}

// MinIOProfileImageStore stores images under profile-images/account-{id}/ and serves presigned URLs.
type MinIOProfileImageStore struct {
	client       *minio.Client
	bucketName   string
	presignedTTL time.Duration
	initOnce     sync.Once
	initErr      error
}

func NewMinIOProfileImageStore(endpoint, accessKey, secretKey, bucketName string, useSSL bool, presignedTTL time.Duration) (*MinIOProfileImageStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
		Region: "us-east-1",
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &MinIOProfileImageStore{client: client, bucketName: bucketName, presignedTTL: presignedTTL}, nil
}

// lazyInit creates the bucket on first upload rather than at startup.
func (s *MinIOProfileImageStore) lazyInit(ctx context.Context) error {
	s.initOnce.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.bucketName)
		if err != nil {
			s.initErr = fmt.Errorf("%w: check bucket existence: %v", ErrBucketCreationFailed, err)
			return
		}
		if !exists {
			if err := s.client.MakeBucket(ctx, s.bucketName, minio.MakeBucketOptions{}); err != nil {
				s.initErr = fmt.Errorf("%w: create bucket: %v", ErrBucketCreationFailed, err)
			}
		}
	})
	return s.initErr
}

// Upload sniffs the content type from the bytes and returns the object key.
func (s *MinIOProfileImageStore) Upload(ctx context.Context, accountID uint, file io.Reader, fileSize int64) (string, error) {
	if fileSize > maxProfileImageSize {
		return "", ErrFileTooBig
	}

	buf := make([]byte, 512)
	n, err := io.ReadFull(file, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return "", fmt.Errorf("%w: read file for content detection: %v", ErrUploadFailed, err)
	}
	buf = buf[:n]
	detected := strings.ToLower(strings.TrimSpace(http.DetectContentType(buf)))
	if _, ok := allowedContentTypes[detected]; !ok {
		return "", ErrInvalidFileType
	}

	if err := s.lazyInit(ctx); err != nil {
		return "", err
	}

	objectKey := fmt.Sprintf("%s/account-%d/%s%s", profileImagePrefix, accountID, uuid.NewString(), extensionFor(detected))
	_, err = s.client.PutObject(ctx, s.bucketName, objectKey, io.MultiReader(bytes.NewReader(buf), file), fileSize, minio.PutObjectOptions{
		ContentType: detected,
		UserMetadata: map[string]string{
			"Account-ID":  fmt.Sprintf("%d", accountID),
			"Uploaded-At": time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	return objectKey, nil
}

// Resolve turns an object key into a presigned GET URL. Absolute URLs and empty
// references are returned unchanged.
func (s *MinIOProfileImageStore) Resolve(ctx context.Context, reference string) (string, error) {
	if !IsObjectKey(reference) {
		return reference, nil
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucketName, reference, s.presignedTTL, url.Values{})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrURLGenerationFailed, err)
	}
	return u.String(), nil
}

func (s *MinIOProfileImageStore) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucketName)
	return err
}

// PassthroughProfileImageStore is used when object storage is disabled.
type PassthroughProfileImageStore struct{}

func (PassthroughProfileImageStore) Upload(context.Context, uint, io.Reader, int64) (string, error) {
	return "", errors.New("object storage is disabled")
}

func (PassthroughProfileImageStore) Resolve(_ context.Context, reference string) (string, error) {
	return reference, nil
}

func (PassthroughProfileImageStore) Ping(context.Context) error { return nil }

// IsObjectKey reports whether reference points into the profile image prefix.
func IsObjectKey(reference string) bool {
	return strings.HasPrefix(reference, profileImagePrefix+"/") && !strings.Contains(reference, "..")
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	default:
		return ""
	}
}
