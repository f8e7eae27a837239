package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/tendant/simple-vstore/pkg/vstore"
	"github.com/tendant/simple-vstore/pkg/vstore/descriptors"
)

// Optional upload hints, checked against the element constraints before the body is read.
const (
	HeaderFileType  = "X-VStore-FileType"
	HeaderImageSize = "X-VStore-ImageSize"
)

// SessionTemplate is the template summary returned by SetupSession.
type SessionTemplate struct {
	ID         int64                           `json:"id"`
	VersionID  string                          `json:"versionId"`
	Properties map[string]any                  `json:"properties,omitempty"`
	Elements   []descriptors.ElementDescriptor `json:"elements"`
}

// SetupSessionResponse is the body of a created session.
type SetupSessionResponse struct {
	ID         uuid.UUID          `json:"id"`
	Template   SessionTemplate    `json:"template"`
	UploadURLs []vstore.UploadURL `json:"uploadUrls"`
	ExpiresAt  time.Time          `json:"expiresAt"`
}

// UploadResponse is the body of a committed upload.
type UploadResponse struct {
	ID         string `json:"id"`
	Filename   string `json:"filename"`
	PreviewURI string `json:"previewUri"`
}

// SetupSession opens an upload session for a template and language
func (h *Handler) SetupSession(w http.ResponseWriter, r *http.Request) {
	templateID, ok := int64Param(r, "templateId")
	if !ok {
		h.badRequest(w, r, "Invalid template id")
		return
	}
	language, err := descriptors.ParseLanguage(chi.URLParam(r, "language"))
	if err != nil {
		h.badRequest(w, r, err.Error())
		return
	}

	setup, err := h.service.Setup(r.Context(), templateID, language)
	if err != nil {
		h.writeError(w, r, err, 0)
		return
	}

	h.logger.InfoContext(r.Context(), "session created", "session_id", setup.ID, "template_id", templateID, "language", language)
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, SetupSessionResponse{
		ID: setup.ID,
		Template: SessionTemplate{
			ID:         setup.Template.ID,
			VersionID:  setup.Template.VersionID,
			Properties: setup.Template.Properties,
			Elements:   setup.Template.Elements,
		},
		UploadURLs: setup.UploadURLs,
		ExpiresAt:  setup.ExpiresAt,
	})
}

// GetSession returns a live session
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "sessionId"))
	if err != nil {
		h.badRequest(w, r, "Invalid session id")
		return
	}
	session, err := h.service.GetSession(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err, 0)
		return
	}
	render.JSON(w, r, session)
}

// UploadFile streams the single file section of a multipart request into the session
func (h *Handler) UploadFile(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionId"))
	if err != nil {
		h.badRequest(w, r, "Invalid session id")
		return
	}
	templateCode, ok := intParam(r, "templateCode")
	if !ok {
		h.badRequest(w, r, "Invalid template code")
		return
	}

	// r.ContentLength covers the whole multipart body and parts carry no length of
	// their own, so the size limit is enforced on the streamed bytes only.
	req := vstore.InitiateUploadRequest{
		SessionID:     sessionID,
		TemplateCode:  templateCode,
		ContentLength: -1,
		FileType:      vstore.FileTypeOriginal,
	}
	if v := r.Header.Get(HeaderFileType); v != "" {
		switch vstore.FileType(v) {
		case vstore.FileTypeOriginal:
		case vstore.FileTypeSizeSpecificImage:
			size, err := descriptors.ParseImageSize(r.Header.Get(HeaderImageSize))
			if err != nil {
				h.badRequest(w, r, err.Error())
				return
			}
			req.FileType = vstore.FileTypeSizeSpecificImage
			req.ImageSize = size
		default:
			h.badRequest(w, r, "Unsupported file type "+v)
			return
		}
	}

	sections, err := newMultipartSections(r)
	if err != nil {
		h.badRequest(w, r, err.Error())
		return
	}
	defer sections.Close()

	info, err := h.service.UploadFile(r.Context(), req, sections)
	if err != nil {
		h.writeError(w, r, err, templateCode)
		return
	}

	h.logger.InfoContext(r.Context(), "file uploaded",
		"session_id", sessionID,
		"template_code", templateCode,
		"file_id", info.ID,
		"size", info.Size)
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, UploadResponse{ID: info.ID, Filename: info.Filename, PreviewURI: info.PreviewURI})
}
