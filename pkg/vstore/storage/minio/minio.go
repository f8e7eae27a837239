// Package minio stores blobs in MinIO through the low-level multipart API of minio-go.
package minio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/tendant/simple-vstore/pkg/vstore"
)

// Config options for the MinIO backend
type Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Region          string
	Bucket          string
	PresignDuration time.Duration

	CreateBucketIfNotExist bool
}

// Backend implements vstore.BlobStore on a MinIO bucket.
type Backend struct {
	core            *minio.Core
	bucket          string
	presignDuration time.Duration
}

// New creates a MinIO client from the Config.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	if cfg.PresignDuration == 0 {
		cfg.PresignDuration = time.Hour
	}

	core, err := minio.NewCore(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	b := &Backend{core: core, bucket: cfg.Bucket, presignDuration: cfg.PresignDuration}

	if cfg.CreateBucketIfNotExist {
		exists, err := core.BucketExists(ctx, cfg.Bucket)
		if err != nil {
			return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
		}
		if !exists {
			if err := core.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
				return nil, fmt.Errorf("make bucket %s: %w", cfg.Bucket, err)
			}
		}
	}
	return b, nil
}

func (b *Backend) InitiateMultipartUpload(ctx context.Context, params vstore.UploadParams) (*vstore.MultipartUpload, error) {
	uploadID, err := b.core.NewMultipartUpload(ctx, b.bucket, params.ObjectKey, minio.PutObjectOptions{ContentType: params.MimeType})
	if err != nil {
		return nil, b.storageError("initiate", params.ObjectKey, err)
	}
	return &vstore.MultipartUpload{Key: params.ObjectKey, UploadID: uploadID, ContentType: params.MimeType}, nil
}

func (b *Backend) UploadPart(ctx context.Context, upload *vstore.MultipartUpload, partNumber int, reader io.Reader, size int64) (*vstore.CompletedPart, error) {
	part, err := b.core.PutObjectPart(ctx, b.bucket, upload.Key, upload.UploadID, partNumber, reader, size, minio.PutObjectPartOptions{})
	if err != nil {
		return nil, b.storageError("upload_part", upload.Key, err)
	}
	return &vstore.CompletedPart{PartNumber: part.PartNumber, ETag: part.ETag, Size: part.Size}, nil
}

func (b *Backend) CompleteMultipartUpload(ctx context.Context, upload *vstore.MultipartUpload, parts []vstore.CompletedPart) (*vstore.ObjectMeta, error) {
	_, err := b.core.CompleteMultipartUpload(ctx, b.bucket, upload.Key, upload.UploadID, completeParts(parts), minio.PutObjectOptions{ContentType: upload.ContentType})
	if err != nil {
		return nil, b.storageError("complete", upload.Key, err)
	}
	return b.GetObjectMeta(ctx, upload.Key)
}

func (b *Backend) AbortMultipartUpload(ctx context.Context, upload *vstore.MultipartUpload) error {
	if err := b.core.AbortMultipartUpload(ctx, b.bucket, upload.Key, upload.UploadID); err != nil {
		return b.storageError("abort", upload.Key, err)
	}
	return nil
}

func (b *Backend) Download(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	// GetObject is lazy; stat first so a missing key fails here instead of on Read.
	if _, err := b.core.StatObject(ctx, b.bucket, objectKey, minio.StatObjectOptions{}); err != nil {
		return nil, b.storageError("download", objectKey, err)
	}
	obj, err := b.core.Client.GetObject(ctx, b.bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, b.storageError("download", objectKey, err)
	}
	return obj, nil
}

func (b *Backend) Exists(ctx context.Context, objectKey string) (bool, error) {
	_, err := b.GetObjectMeta(ctx, objectKey)
	if errors.Is(err, vstore.ErrBlobNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (b *Backend) Delete(ctx context.Context, objectKey string) error {
	if err := b.core.RemoveObject(ctx, b.bucket, objectKey, minio.RemoveObjectOptions{}); err != nil {
		return b.storageError("delete", objectKey, err)
	}
	return nil
}

func (b *Backend) GetObjectMeta(ctx context.Context, objectKey string) (*vstore.ObjectMeta, error) {
	info, err := b.core.StatObject(ctx, b.bucket, objectKey, minio.StatObjectOptions{})
	if err != nil {
		return nil, b.storageError("get_meta", objectKey, err)
	}
	metadata := make(map[string]string, len(info.UserMetadata)+1)
	for k, v := range info.UserMetadata {
		metadata[k] = v
	}
	metadata["content_type"] = info.ContentType

	return &vstore.ObjectMeta{
		Key:         objectKey,
		Size:        info.Size,
		ContentType: info.ContentType,
		UpdatedAt:   info.LastModified,
		ETag:        info.ETag,
		Metadata:    metadata,
	}, nil
}

func (b *Backend) GetDownloadURL(ctx context.Context, objectKey string, downloadFilename string) (string, error) {
	params := url.Values{}
	if downloadFilename != "" {
		params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=\"%s\"", downloadFilename))
	}
	u, err := b.core.PresignedGetObject(ctx, b.bucket, objectKey, b.presignDuration, params)
	if err != nil {
		return "", fmt.Errorf("presign object: %w", err)
	}
	return u.String(), nil
}

func (b *Backend) storageError(op, key string, err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchUpload", "NoSuchBucket":
		err = fmt.Errorf("%w: %v", vstore.ErrBlobNotFound, err)
	}
	return &vstore.StorageError{Backend: "minio", Key: key, Op: op, Err: err}
}

func completeParts(parts []vstore.CompletedPart) []minio.CompletePart {
	out := make([]minio.CompletePart, len(parts))
	for i, p := range parts {
		out[i] = minio.CompletePart{PartNumber: p.PartNumber, ETag: p.ETag}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PartNumber < out[j].PartNumber })
	return out
}
