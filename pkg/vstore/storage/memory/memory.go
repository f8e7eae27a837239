package memory

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tendant/simple-vstore/pkg/vstore"
)

type object struct {
	data        []byte
	contentType string
	updatedAt   time.Time
	etag        string
}

type pendingUpload struct {
	key         string
	contentType string
	parts       map[int][]byte
}

// Backend is an in-memory implementation of the vstore.BlobStore interface
type Backend struct {
	mu      sync.RWMutex
	objects map[string]*object
	uploads map[string]*pendingUpload
}

// New creates a new in-memory storage backend
func New() *Backend {
	return &Backend{
		objects: make(map[string]*object),
		uploads: make(map[string]*pendingUpload),
	}
}

func (b *Backend) InitiateMultipartUpload(ctx context.Context, params vstore.UploadParams) (*vstore.MultipartUpload, error) {
	if params.ObjectKey == "" {
		return nil, fmt.Errorf("object key is required")
	}
	contentType := params.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.NewString()
	b.uploads[id] = &pendingUpload{key: params.ObjectKey, contentType: contentType, parts: make(map[int][]byte)}
	return &vstore.MultipartUpload{Key: params.ObjectKey, UploadID: id, ContentType: contentType}, nil
}

func (b *Backend) UploadPart(ctx context.Context, upload *vstore.MultipartUpload, partNumber int, reader io.Reader, size int64) (*vstore.CompletedPart, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) != size {
		return nil, fmt.Errorf("part %d: expected %d bytes, got %d", partNumber, size, len(data))
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	pending, ok := b.uploads[upload.UploadID]
	if !ok {
		return nil, b.notFound("upload_part", upload.Key)
	}
	pending.parts[partNumber] = data
	return &vstore.CompletedPart{PartNumber: partNumber, ETag: etag(data), Size: size}, nil
}

func (b *Backend) CompleteMultipartUpload(ctx context.Context, upload *vstore.MultipartUpload, parts []vstore.CompletedPart) (*vstore.ObjectMeta, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	pending, ok := b.uploads[upload.UploadID]
	if !ok {
		return nil, b.notFound("complete", upload.Key)
	}

	sorted := append([]vstore.CompletedPart(nil), parts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PartNumber < sorted[j].PartNumber })

	var buf bytes.Buffer
	for _, part := range sorted {
		data, ok := pending.parts[part.PartNumber]
		if !ok || etag(data) != part.ETag {
			return nil, &vstore.StorageError{Backend: "memory", Key: upload.Key, Op: "complete", Err: fmt.Errorf("invalid part %d", part.PartNumber)}
		}
		buf.Write(data)
	}

	obj := &object{
		data:        buf.Bytes(),
		contentType: pending.contentType,
		updatedAt:   time.Now().UTC(),
		etag:        etag(buf.Bytes()),
	}
	b.objects[pending.key] = obj
	delete(b.uploads, upload.UploadID)
	return b.meta(pending.key, obj), nil
}

func (b *Backend) AbortMultipartUpload(ctx context.Context, upload *vstore.MultipartUpload) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.uploads[upload.UploadID]; !ok {
		return b.notFound("abort", upload.Key)
	}
	delete(b.uploads, upload.UploadID)
	return nil
}

// Put stores an object directly; it is meant for seeding tests and fixtures.
func (b *Backend) Put(key, contentType string, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.objects[key] = &object{
		data:        bytes.Clone(data),
		contentType: contentType,
		updatedAt:   time.Now().UTC(),
		etag:        etag(data),
	}
}

// GetObjectMeta retrieves metadata for an object in memory
func (b *Backend) GetObjectMeta(ctx context.Context, objectKey string) (*vstore.ObjectMeta, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, ok := b.objects[objectKey]
	if !ok {
		return nil, b.notFound("get_meta", objectKey)
	}
	return b.meta(objectKey, obj), nil
}

// GetDownloadURL returns a URL for downloading content
// In-memory implementation doesn't use URLs
func (b *Backend) GetDownloadURL(ctx context.Context, objectKey string, downloadFilename string) (string, error) {
	return "", fmt.Errorf("direct download required for memory backend")
}

// Download downloads content directly
func (b *Backend) Download(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, ok := b.objects[objectKey]
	if !ok {
		return nil, b.notFound("download", objectKey)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (b *Backend) Exists(ctx context.Context, objectKey string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	_, ok := b.objects[objectKey]
	return ok, nil
}

// Delete deletes content
func (b *Backend) Delete(ctx context.Context, objectKey string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.objects[objectKey]; !ok {
		return b.notFound("delete", objectKey)
	}
	delete(b.objects, objectKey)
	return nil
}

// PendingUploads returns the number of open multipart uploads.
func (b *Backend) PendingUploads() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.uploads)
}

// Keys returns the keys of all committed objects in sorted order.
func (b *Backend) Keys() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	keys := make([]string, 0, len(b.objects))
	for k := range b.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (b *Backend) meta(key string, obj *object) *vstore.ObjectMeta {
	return &vstore.ObjectMeta{
		Key:         key,
		Size:        int64(len(obj.data)),
		ContentType: obj.contentType,
		UpdatedAt:   obj.updatedAt,
		ETag:        obj.etag,
		Metadata:    map[string]string{"mime_type": obj.contentType},
	}
}

func (b *Backend) notFound(op, key string) error {
	return &vstore.StorageError{Backend: "memory", Key: key, Op: op, Err: vstore.ErrBlobNotFound}
}

func etag(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}
