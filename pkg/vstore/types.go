package vstore

import (
	"bytes"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tendant/simple-vstore/pkg/vstore/descriptors"
)

// VersionDescriptor identifies a version of a document.
type VersionDescriptor = descriptors.VersionedObjectDescriptor[int64]

// DocumentKind separates the id spaces of versioned documents.
type DocumentKind string

// Document kinds (typed).
const (
	KindTemplate DocumentKind = "template"
	KindObject   DocumentKind = "object"
	KindFile     DocumentKind = "file"
)

// Document is one immutable version of a JSON payload.
type Document struct {
	Kind       DocumentKind      `json:"kind"`
	Descriptor VersionDescriptor `json:"descriptor"`
	Payload    []byte            `json:"payload"`
}

// CreateVersionParams is the input of Repository.CreateVersion.
type CreateVersionParams struct {
	Kind              DocumentKind
	ID                int64
	ExpectedVersionID string
	Payload           []byte
	// BlobKey indexes a file document by the blob it describes. Empty for other kinds.
	BlobKey string
}

// Session is a time-bounded upload transaction for one template version and language.
type Session struct {
	ID                    uuid.UUID            `json:"id"`
	TemplateID            int64                `json:"templateId"`
	TemplateVersionID     string               `json:"templateVersionId"`
	Language              descriptors.Language `json:"language"`
	CreatedAt             time.Time            `json:"createdAt"`
	ExpiresAt             time.Time            `json:"expiresAt"`
	UploadedTemplateCodes []int                `json:"uploadedTemplateCodes,omitempty"`
}

// IsExpired reports whether the session is no longer usable at now.
func (s *Session) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// SessionSetupContext is returned by Setup.
type SessionSetupContext struct {
	ID         uuid.UUID                       `json:"id"`
	Template   *descriptors.TemplateDescriptor `json:"template"`
	Language   descriptors.Language            `json:"language"`
	ExpiresAt  time.Time                       `json:"expiresAt"`
	UploadURLs []UploadURL                     `json:"uploadUrls"`
}

// UploadURL tells the client where to upload the file of one binary element.
type UploadURL struct {
	TemplateCode int    `json:"templateCode"`
	URL          string `json:"url"`
}

// FileType distinguishes original uploads from pre-baked image variants.
type FileType string

// File type constants (typed).
const (
	FileTypeOriginal          FileType = "original"
	FileTypeSizeSpecificImage FileType = "sizeSpecificImage"
)

// UploadParams describes the object created by a multipart upload.
type UploadParams struct {
	ObjectKey string
	MimeType  string
}

// MultipartUpload is an open blob store transfer.
type MultipartUpload struct {
	Key         string
	UploadID    string
	ContentType string
}

// CompletedPart is a part accepted by the blob store.
type CompletedPart struct {
	PartNumber int
	ETag       string
	Size       int64
}

// ObjectMeta represents metadata about a stored object
type ObjectMeta struct {
	Key         string            `json:"key"`
	Size        int64             `json:"size"`
	ContentType string            `json:"contentType"`
	UpdatedAt   time.Time         `json:"updatedAt"`
	ETag        string            `json:"etag"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// FileSection is one file section of a streamed upload request.
type FileSection struct {
	FileName    string
	ContentType string
	Body        io.Reader
}

// FileRecord is the payload of a committed file document.
type FileRecord struct {
	Key          string                 `json:"key"`
	Filename     string                 `json:"filename"`
	ContentType  string                 `json:"contentType"`
	Size         int64                  `json:"size"`
	SessionID    uuid.UUID              `json:"sessionId"`
	TemplateID   int64                  `json:"templateId"`
	TemplateCode int                    `json:"templateCode"`
	FileType     FileType               `json:"fileType"`
	Format       descriptors.FileFormat `json:"format"`
	ImageSize    *descriptors.ImageSize `json:"imageSize,omitempty"`
}

// UploadedFileInfo summarizes a committed upload.
type UploadedFileInfo struct {
	ID          string                 `json:"id"`
	Filename    string                 `json:"filename"`
	PreviewURI  string                 `json:"previewUri,omitempty"`
	Size        int64                  `json:"size"`
	ContentType string                 `json:"contentType"`
	ImageSize   *descriptors.ImageSize `json:"imageSize,omitempty"`
	File        VersionDescriptor      `json:"file"`
}

type uploadState int

const (
	uploadOpen uploadState = iota
	uploadFinalized
	uploadCompleted
	uploadAborted
)

// MultipartUploadSession tracks the transfer of one file. It is created by
// InitiateMultipartUpload and ends with CompleteMultipartUpload or AbortMultipartUpload.
type MultipartUploadSession struct {
	SessionID      uuid.UUID
	TemplateCode   int
	FileName       string
	ContentType    string
	DeclaredLength int64
	FileType       FileType
	TargetSize     descriptors.ImageSize
	ExpiresAt      time.Time
	Key            string

	mu            sync.Mutex
	templateID    int64
	state         uploadState
	handle        *MultipartUpload
	constraints   descriptors.ElementConstraints
	format        descriptors.FileFormat
	maxSize       int64
	parts         []CompletedPart
	pending       bytes.Buffer
	header        []byte
	headerChecked bool
	bytesReceived int64
}

// BytesReceived returns the number of bytes accepted so far.
func (u *MultipartUploadSession) BytesReceived() int64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.bytesReceived
}

// IsOpen reports whether the blob transfer is still held.
func (u *MultipartUploadSession) IsOpen() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state == uploadOpen
}

// PreviewOutcome is the terminal state of a preview request.
type PreviewOutcome string

// Preview outcomes (typed).
const (
	PreviewRedirected   PreviewOutcome = "redirected"
	PreviewReturned     PreviewOutcome = "returned"
	PreviewBudgetDenied PreviewOutcome = "budget_denied"
	PreviewCanceled     PreviewOutcome = "canceled"
	PreviewDecodeError  PreviewOutcome = "decode_error"
)

// Preview is either a redirect to a stored variant or encoded image bytes.
type Preview struct {
	Outcome     PreviewOutcome
	RedirectURL string
	ContentType string
	Content     io.Reader
	Size        descriptors.ImageSize
}

// IsRedirect reports whether the preview points to a stored variant.
func (p *Preview) IsRedirect() bool {
	return p.RedirectURL != ""
}
