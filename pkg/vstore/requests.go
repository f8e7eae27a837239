package vstore

import (
	"github.com/google/uuid"

	"github.com/tendant/simple-vstore/pkg/vstore/descriptors"
)

// InitiateUploadRequest opens the transfer of one file
type InitiateUploadRequest struct {
	SessionID    uuid.UUID
	TemplateCode int
	FileName     string
	ContentType  string
	// ContentLength is the declared length, or a negative value when unknown
	ContentLength int64
	FileType      FileType
	// ImageSize is the target size of a size-specific image
	ImageSize descriptors.ImageSize
}

// CreateTemplateRequest contains parameters for creating a template version
type CreateTemplateRequest struct {
	// ID of zero mints a new template
	ID         int64
	Author     string
	Properties map[string]any
	Elements   []descriptors.ElementDescriptor
	IsRetired  bool
}

// UpdateTemplateRequest appends a template version if ExpectedVersionID is current
type UpdateTemplateRequest struct {
	ID                int64
	ExpectedVersionID string
	Author            string
	Properties        map[string]any
	Elements          []descriptors.ElementDescriptor
	IsRetired         bool
}

// ElementValueRequest sets the value of one element
type ElementValueRequest struct {
	TemplateCode int                      `json:"templateCode"`
	Value        descriptors.ElementValue `json:"value"`
}

// CreateObjectRequest contains parameters for creating an object version
type CreateObjectRequest struct {
	// ID of zero mints a new object
	ID         int64
	TemplateID int64
	// TemplateVersionID pins the template version; empty means latest
	TemplateVersionID string
	Language          descriptors.Language
	Properties        map[string]any
	Elements          []ElementValueRequest
}

// UpdateObjectRequest appends an object version if ExpectedVersionID is current.
// The template version and language are taken from the current version.
type UpdateObjectRequest struct {
	ID                int64
	ExpectedVersionID string
	Properties        map[string]any
	Elements          []ElementValueRequest
}

// PreviewRequest addresses an image element of an object version. A zero dimension
// is unspecified.
type PreviewRequest struct {
	ObjectID     int64
	VersionID    string
	TemplateCode int
	Width        int
	Height       int
}

// Validate rejects negative dimensions and requests without any dimension
func (r PreviewRequest) Validate() error {
	return validatePreviewSize(r.Width, r.Height)
}

func validatePreviewSize(width, height int) error {
	if width < 0 || height < 0 || (width == 0 && height == 0) {
		return ErrInvalidPreviewRequest
	}
	return nil
}
