package vstore

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/tendant/simple-vstore/pkg/vstore/admission"
)

// Error types
var (
	// ErrObjectNotFound indicates a template, object or file version does not exist
	ErrObjectNotFound = errors.New("object not found")

	// ErrBlobNotFound indicates a blob store key does not exist
	ErrBlobNotFound = errors.New("blob not found")

	// ErrSessionNotFound indicates a session never existed or has expired
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionCannotBeCreated indicates the template cannot accept uploads for the language
	ErrSessionCannotBeCreated = errors.New("session cannot be created")

	// ErrInvalidTemplateCode indicates the template has no suitable element with the code
	ErrInvalidTemplateCode = errors.New("invalid template code")

	// ErrInvalidTemplate indicates a malformed template descriptor
	ErrInvalidTemplate = errors.New("invalid template")

	// ErrInvalidObject indicates a malformed object request
	ErrInvalidObject = errors.New("invalid object")

	// ErrLanguageNotSupported indicates the template has no constraints for the language
	ErrLanguageNotSupported = errors.New("language not supported by template")

	// ErrConcurrentModification indicates the expected version is no longer current
	ErrConcurrentModification = errors.New("concurrent modification")

	// ErrMemoryLimited indicates the preview memory budget is exhausted
	ErrMemoryLimited = admission.ErrMemoryLimited

	// ErrInvalidPreviewRequest indicates non-positive or missing preview dimensions
	ErrInvalidPreviewRequest = errors.New("invalid preview request")

	// ErrImageDecode indicates a stored image could not be decoded
	ErrImageDecode = errors.New("image cannot be decoded")

	// ErrInvalidUploadRequest indicates a malformed upload request
	ErrInvalidUploadRequest = errors.New("invalid upload request")

	// ErrEmptyUpload indicates an upload request without file sections
	ErrEmptyUpload = errors.New("request body is empty or doesn't contain sections")

	// ErrMultipleFiles indicates a second file in a single upload request
	ErrMultipleFiles = errors.New("only one file can be uploaded per request")

	// ErrNonFileSection indicates a section without a file name in an upload request
	ErrNonFileSection = errors.New("file upload supported only during single request")

	// ErrUploadClosed indicates the upload was already completed or aborted
	ErrUploadClosed = errors.New("upload is closed")
)

// SessionError represents an error related to session operations
type SessionError struct {
	SessionID uuid.UUID
	Op        string
	Err       error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session operation %s failed for session %s: %v", e.Op, e.SessionID, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// UploadError represents an error related to a file upload
type UploadError struct {
	SessionID    uuid.UUID
	TemplateCode int
	Op           string
	Err          error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload operation %s failed for session %s element %d: %v", e.Op, e.SessionID, e.TemplateCode, e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// ObjectError represents an error related to versioned document operations
type ObjectError struct {
	Kind DocumentKind
	ID   int64
	Op   string
	Err  error
}

func (e *ObjectError) Error() string {
	return fmt.Sprintf("%s operation %s failed for %d: %v", e.Kind, e.Op, e.ID, e.Err)
}

func (e *ObjectError) Unwrap() error {
	return e.Err
}

// StorageError represents an error related to storage operations
type StorageError struct {
	Backend string
	Key     string
	Op      string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed for key %s on backend %s: %v", e.Op, e.Key, e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
