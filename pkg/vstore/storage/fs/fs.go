package fs

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/tendant/simple-vstore/pkg/vstore"
)

const uploadsDir = ".uploads"

// Backend is a filesystem implementation of the vstore.BlobStore interface. Parts of
// open uploads are kept under {BaseDir}/.uploads/{uploadID} until completed.
type Backend struct {
	mu        sync.RWMutex
	baseDir   string
	urlPrefix string
}

// Config options for the filesystem backend
type Config struct {
	BaseDir   string // Base directory for storing files
	URLPrefix string // Optional URL prefix for download URLs
}

type uploadInfo struct {
	Key         string `json:"key"`
	ContentType string `json:"contentType"`
}

// New creates a new filesystem storage backend
func New(config Config) (*Backend, error) {
	if config.BaseDir == "" {
		return nil, errors.New("base directory is required")
	}
	if err := os.MkdirAll(filepath.Join(config.BaseDir, uploadsDir), 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &Backend{
		baseDir:   config.BaseDir,
		urlPrefix: config.URLPrefix,
	}, nil
}

func (b *Backend) InitiateMultipartUpload(ctx context.Context, params vstore.UploadParams) (*vstore.MultipartUpload, error) {
	if _, err := b.objectPath(params.ObjectKey); err != nil {
		return nil, err
	}
	id := uuid.NewString()
	dir := b.uploadPath(id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, b.storageError("initiate", params.ObjectKey, err)
	}
	info, err := json.Marshal(uploadInfo{Key: params.ObjectKey, ContentType: params.MimeType})
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dir, "upload.json"), info, 0644); err != nil {
		os.RemoveAll(dir)
		return nil, b.storageError("initiate", params.ObjectKey, err)
	}
	return &vstore.MultipartUpload{Key: params.ObjectKey, UploadID: id, ContentType: params.MimeType}, nil
}

func (b *Backend) UploadPart(ctx context.Context, upload *vstore.MultipartUpload, partNumber int, reader io.Reader, size int64) (*vstore.CompletedPart, error) {
	dir := b.uploadPath(upload.UploadID)
	if _, err := os.Stat(dir); err != nil {
		return nil, b.storageError("upload_part", upload.Key, notFound(err))
	}

	file, err := os.Create(partPath(dir, partNumber))
	if err != nil {
		return nil, b.storageError("upload_part", upload.Key, err)
	}
	defer file.Close()

	hash := md5.New()
	n, err := io.Copy(io.MultiWriter(file, hash), reader)
	if err != nil {
		return nil, b.storageError("upload_part", upload.Key, err)
	}
	if n != size {
		return nil, b.storageError("upload_part", upload.Key, fmt.Errorf("part %d: expected %d bytes, got %d", partNumber, size, n))
	}
	return &vstore.CompletedPart{PartNumber: partNumber, ETag: hex.EncodeToString(hash.Sum(nil)), Size: n}, nil
}

func (b *Backend) CompleteMultipartUpload(ctx context.Context, upload *vstore.MultipartUpload, parts []vstore.CompletedPart) (*vstore.ObjectMeta, error) {
	dir := b.uploadPath(upload.UploadID)
	if _, err := os.Stat(dir); err != nil {
		return nil, b.storageError("complete", upload.Key, notFound(err))
	}
	target, err := b.objectPath(upload.Key)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return nil, b.storageError("complete", upload.Key, err)
	}

	sorted := append([]vstore.CompletedPart(nil), parts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PartNumber < sorted[j].PartNumber })

	tmp, err := os.CreateTemp(filepath.Dir(target), ".part-*")
	if err != nil {
		return nil, b.storageError("complete", upload.Key, err)
	}
	defer os.Remove(tmp.Name())

	for _, part := range sorted {
		if err := appendPart(tmp, partPath(dir, part.PartNumber)); err != nil {
			tmp.Close()
			return nil, b.storageError("complete", upload.Key, err)
		}
	}
	if err := tmp.Close(); err != nil {
		return nil, b.storageError("complete", upload.Key, err)
	}

	b.mu.Lock()
	err = os.Rename(tmp.Name(), target)
	b.mu.Unlock()
	if err != nil {
		return nil, b.storageError("complete", upload.Key, err)
	}
	os.RemoveAll(dir)

	return b.GetObjectMeta(ctx, upload.Key)
}

func (b *Backend) AbortMultipartUpload(ctx context.Context, upload *vstore.MultipartUpload) error {
	dir := b.uploadPath(upload.UploadID)
	if _, err := os.Stat(dir); err != nil {
		return b.storageError("abort", upload.Key, notFound(err))
	}
	if err := os.RemoveAll(dir); err != nil {
		return b.storageError("abort", upload.Key, err)
	}
	return nil
}

// GetObjectMeta retrieves metadata for an object in the filesystem
func (b *Backend) GetObjectMeta(ctx context.Context, objectKey string) (*vstore.ObjectMeta, error) {
	filePath, err := b.objectPath(objectKey)
	if err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	info, err := os.Stat(filePath)
	if err != nil {
		return nil, b.storageError("get_meta", objectKey, notFound(err))
	}

	// Detect content type
	contentType := "application/octet-stream"
	if file, err := os.Open(filePath); err == nil {
		defer file.Close()
		buffer := make([]byte, 512)
		if n, err := file.Read(buffer); err == nil {
			contentType = http.DetectContentType(buffer[:n])
		}
	}

	return &vstore.ObjectMeta{
		Key:         objectKey,
		Size:        info.Size(),
		ContentType: contentType,
		UpdatedAt:   info.ModTime(),
		Metadata:    map[string]string{"content_type": contentType},
	}, nil
}

// GetDownloadURL returns a URL for downloading content
func (b *Backend) GetDownloadURL(ctx context.Context, objectKey string, downloadFilename string) (string, error) {
	if b.urlPrefix == "" {
		return "", errors.New("direct download required for filesystem backend")
	}
	if downloadFilename != "" {
		return fmt.Sprintf("%s/download/%s?filename=%s", b.urlPrefix, objectKey, url.QueryEscape(downloadFilename)), nil
	}
	return fmt.Sprintf("%s/download/%s", b.urlPrefix, objectKey), nil
}

// Download downloads content directly from the filesystem
func (b *Backend) Download(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	filePath, err := b.objectPath(objectKey)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(filePath)
	if err != nil {
		return nil, b.storageError("download", objectKey, notFound(err))
	}
	return file, nil
}

func (b *Backend) Exists(ctx context.Context, objectKey string) (bool, error) {
	filePath, err := b.objectPath(objectKey)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(filePath)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, b.storageError("exists", objectKey, err)
	}
	return true, nil
}

// Delete deletes content from the filesystem
func (b *Backend) Delete(ctx context.Context, objectKey string) error {
	filePath, err := b.objectPath(objectKey)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := os.Remove(filePath); err != nil {
		return b.storageError("delete", objectKey, notFound(err))
	}
	b.cleanupEmptyDirectories(filepath.Dir(filePath))
	return nil
}

// cleanupEmptyDirectories recursively removes empty directories up to baseDir
func (b *Backend) cleanupEmptyDirectories(dir string) {
	if dir == filepath.Clean(b.baseDir) {
		return
	}
	if entries, err := os.ReadDir(dir); err == nil && len(entries) == 0 {
		if os.Remove(dir) == nil {
			b.cleanupEmptyDirectories(filepath.Dir(dir))
		}
	}
}

func (b *Backend) objectPath(objectKey string) (string, error) {
	clean := filepath.FromSlash(objectKey)
	if objectKey == "" || !filepath.IsLocal(clean) || filepath.Base(clean) == uploadsDir {
		return "", b.storageError("resolve", objectKey, fmt.Errorf("invalid object key"))
	}
	return filepath.Join(b.baseDir, clean), nil
}

func (b *Backend) uploadPath(uploadID string) string {
	return filepath.Join(b.baseDir, uploadsDir, filepath.Base(uploadID))
}

func (b *Backend) storageError(op, key string, err error) error {
	return &vstore.StorageError{Backend: "fs", Key: key, Op: op, Err: err}
}

func partPath(dir string, partNumber int) string {
	return filepath.Join(dir, fmt.Sprintf("%05d.part", partNumber))
}

func appendPart(dst io.Writer, path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()
	_, err = io.Copy(dst, src)
	return err
}

func notFound(err error) error {
	if os.IsNotExist(err) {
		return vstore.ErrBlobNotFound
	}
	return err
}
