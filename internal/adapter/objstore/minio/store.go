// Package minioadp stores image and mask artifacts in an S3-compatible
// bucket. Objects live under deterministic keys and are never overwritten.
//
// The store knows two base URLs: the internal endpoint reachable inside the
// cluster and the external one a browser resolves. Callers must pick the
// right one; handing an internal URL to a browser (or vice versa) is a bug.
package minioadp

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/zimagehq/zimage/internal/domain"
)

// Store implements domain.ObjectStore on top of a MinIO/S3 bucket.
type Store struct {
	client      *minio.Client
	bucket      string
	internalURL string
	externalURL string
}

// Options configures a Store.
type Options struct {
	Endpoint    string
	AccessKey   string
	SecretKey   string
	Bucket      string
	UseSSL      bool
	ExternalURL string
}

// New builds a Store and ensures the bucket exists.
func New(ctx domain.Context, o Options) (*Store, error) {
	cli, err := minio.New(o.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(o.AccessKey, o.SecretKey, ""),
		Secure: o.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("op=objstore.new: %w", err)
	}
	scheme := "http"
	if o.UseSSL {
		scheme = "https"
	}
	s := &Store{
		client:      cli,
		bucket:      o.Bucket,
		internalURL: fmt.Sprintf("%s://%s", scheme, o.Endpoint),
		externalURL: strings.TrimRight(o.ExternalURL, "/"),
	}
	exists, err := cli.BucketExists(ctx, o.Bucket)
	if err != nil {
		return nil, fmt.Errorf("op=objstore.bucket_exists: %w", err)
	}
	if !exists {
		if err := cli.MakeBucket(ctx, o.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("op=objstore.make_bucket: %w", err)
		}
	}
	return s, nil
}

// Put uploads data under objectName.
func (s *Store) Put(ctx domain.Context, objectName string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("op=objstore.put: %w", err)
	}
	return nil
}

// Get downloads the full object.
func (s *Store) Get(ctx domain.Context, objectName string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("op=objstore.get: %w", err)
	}
	defer func() { _ = obj.Close() }()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(obj); err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" {
			return nil, fmt.Errorf("op=objstore.get: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("op=objstore.get: %w", err)
	}
	return buf.Bytes(), nil
}

// Remove deletes an object. Missing objects are not an error.
func (s *Store) Remove(ctx domain.Context, objectName string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, objectName, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("op=objstore.remove: %w", err)
	}
	return nil
}

// ExternalURL returns the browser-reachable URL for an object.
func (s *Store) ExternalURL(objectName string) string {
	return fmt.Sprintf("%s/%s/%s", s.externalURL, s.bucket, objectName)
}

// InternalURL returns the in-cluster URL for an object.
func (s *Store) InternalURL(objectName string) string {
	return fmt.Sprintf("%s/%s/%s", s.internalURL, s.bucket, objectName)
}

// ImageObjectName builds the deterministic key for a generated image.
func ImageObjectName(userID, taskID, imageID string) string {
	if userID == "" {
		userID = "anonymous"
	}
	return fmt.Sprintf("images/%s/%s/%s.png", userID, taskID, imageID)
}

// MaskObjectName builds the deterministic key for a processed mask.
func MaskObjectName(userID, taskID, maskID string) string {
	if userID == "" {
		userID = "anonymous"
	}
	return fmt.Sprintf("masks/%s/%s/%s.png", userID, taskID, maskID)
}
