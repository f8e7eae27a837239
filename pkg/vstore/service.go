package vstore

import (
	"context"
	"io"

	"github.com/google/uuid"

	"github.com/tendant/simple-vstore/pkg/vstore/descriptors"
)

// Service is the main interface of the store
type Service interface {
	SessionService
	UploadService
	TemplateService
	ObjectService
	PreviewService
}

// SessionService manages upload sessions
type SessionService interface {
	// Setup opens a session for a template and language
	Setup(ctx context.Context, templateID int64, language descriptors.Language) (*SessionSetupContext, error)

	// GetSession returns a live session; expired sessions are not found
	GetSession(ctx context.Context, id uuid.UUID) (*Session, error)
}

// UploadService streams files into the blob store
type UploadService interface {
	InitiateMultipartUpload(ctx context.Context, req InitiateUploadRequest) (*MultipartUploadSession, error)
	UploadFilePart(ctx context.Context, upload *MultipartUploadSession, reader io.Reader, templateCode int) error
	CompleteMultipartUpload(ctx context.Context, upload *MultipartUploadSession, templateCode int) (*UploadedFileInfo, error)
	AbortMultipartUpload(ctx context.Context, upload *MultipartUploadSession) error

	// UploadFile runs a whole upload request: exactly one file section is accepted
	UploadFile(ctx context.Context, req InitiateUploadRequest, sections SectionIterator) (*UploadedFileInfo, error)

	// DownloadFile streams a committed blob
	DownloadFile(ctx context.Context, key string) (io.ReadCloser, *ObjectMeta, error)
}

// TemplateService stores template versions
type TemplateService interface {
	CreateTemplate(ctx context.Context, req CreateTemplateRequest) (*descriptors.TemplateDescriptor, error)
	UpdateTemplate(ctx context.Context, req UpdateTemplateRequest) (*descriptors.TemplateDescriptor, error)
	GetTemplate(ctx context.Context, id int64, versionID string) (*descriptors.TemplateDescriptor, error)
	ListTemplateVersions(ctx context.Context, id int64) ([]VersionDescriptor, error)
}

// ObjectService stores object versions
type ObjectService interface {
	CreateObject(ctx context.Context, req CreateObjectRequest) (*descriptors.ObjectDescriptor, error)
	UpdateObject(ctx context.Context, req UpdateObjectRequest) (*descriptors.ObjectDescriptor, error)
	GetObject(ctx context.Context, id int64, versionID string) (*descriptors.ObjectDescriptor, error)
	ListObjectVersions(ctx context.Context, id int64) ([]VersionDescriptor, error)
	GetImageElementValue(ctx context.Context, id int64, versionID string, templateCode int) (*descriptors.ObjectElementDescriptor, error)
}

// PreviewService produces image derivatives
type PreviewService interface {
	// GetPreview redirects to a stored variant of width x height or renders one.
	// A zero width or height is unspecified and follows the aspect ratio of the
	// source. There is no way to ask for a literal zero-pixel side. Negative sizes,
	// or both zero, fail with ErrInvalidPreviewRequest.
	GetPreview(ctx context.Context, value descriptors.ElementValue, templateCode int, width, height int) (*Preview, error)

	// GetObjectPreview resolves the image element of an object version first
	GetObjectPreview(ctx context.Context, req PreviewRequest) (*Preview, error)

	// GetScaledPreview only short-circuits to a square variant of side max(width, height)
	GetScaledPreview(ctx context.Context, req PreviewRequest) (*Preview, error)
}
