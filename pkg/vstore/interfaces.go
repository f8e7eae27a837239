package vstore

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/tendant/simple-vstore/pkg/vstore/descriptors"
)

// BlobStore defines the interface for storage backends. Uploads always go through a
// multipart transfer so that files are never held in memory as a whole.
type BlobStore interface {
	// InitiateMultipartUpload opens a transfer for params.ObjectKey
	InitiateMultipartUpload(ctx context.Context, params UploadParams) (*MultipartUpload, error)

	// UploadPart appends part number partNumber (1-based) of size bytes
	UploadPart(ctx context.Context, upload *MultipartUpload, partNumber int, reader io.Reader, size int64) (*CompletedPart, error)

	// CompleteMultipartUpload assembles the parts into the final object
	CompleteMultipartUpload(ctx context.Context, upload *MultipartUpload, parts []CompletedPart) (*ObjectMeta, error)

	// AbortMultipartUpload releases an open transfer and its parts
	AbortMultipartUpload(ctx context.Context, upload *MultipartUpload) error

	// Download downloads content directly
	Download(ctx context.Context, objectKey string) (io.ReadCloser, error)

	// Exists reports whether a committed object exists
	Exists(ctx context.Context, objectKey string) (bool, error)

	// Delete deletes content
	Delete(ctx context.Context, objectKey string) error

	// GetObjectMeta retrieves metadata for an object
	GetObjectMeta(ctx context.Context, objectKey string) (*ObjectMeta, error)

	// GetDownloadURL returns a URL for downloading content
	GetDownloadURL(ctx context.Context, objectKey string, downloadFilename string) (string, error)
}

// Repository defines the interface for versioned documents and upload sessions
type Repository interface {
	// CreateVersion mints a new id when params.ID is zero, otherwise appends a version
	// under the id. A non-empty ExpectedVersionID must match the latest version.
	CreateVersion(ctx context.Context, params CreateVersionParams) (*Document, error)

	// GetVersion returns a version of a document; an empty versionID means latest
	GetVersion(ctx context.Context, kind DocumentKind, id int64, versionID string) (*Document, error)

	// ListVersions returns the version history ordered from oldest to newest
	ListVersions(ctx context.Context, kind DocumentKind, id int64) ([]VersionDescriptor, error)

	// GetFileByKey returns the latest file document recorded for a blob key
	GetFileByKey(ctx context.Context, blobKey string) (*Document, error)

	// Session operations
	CreateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, id uuid.UUID) (*Session, error)
	AddSessionUpload(ctx context.Context, id uuid.UUID, templateCode int) error
	DeleteExpiredSessions(ctx context.Context, before time.Time) (int, error)
}

// EventSink defines the interface for event handling
type EventSink interface {
	// SessionCreated is fired when a session is set up
	SessionCreated(ctx context.Context, session *Session) error

	// FileUploaded is fired when an upload passed validation and was committed
	FileUploaded(ctx context.Context, sessionID uuid.UUID, file *UploadedFileInfo) error

	// UploadAborted is fired when an upload was discarded
	UploadAborted(ctx context.Context, sessionID uuid.UUID, templateCode int, reason error) error

	// ObjectVersionCreated is fired when an object version is committed
	ObjectVersionCreated(ctx context.Context, object *descriptors.ObjectDescriptor) error
}

// SectionIterator yields the sections of a streamed upload request. Next returns
// io.EOF when no sections remain. A section body is only valid until the next call.
type SectionIterator interface {
	Next() (*FileSection, error)
}
