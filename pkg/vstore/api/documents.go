package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/tendant/simple-vstore/pkg/vstore"
	"github.com/tendant/simple-vstore/pkg/vstore/descriptors"
)

// TemplateRequest is the body of template create and update calls.
type TemplateRequest struct {
	ID         int64                           `json:"id,omitempty"`
	Author     string                          `json:"author"`
	Properties map[string]any                  `json:"properties,omitempty"`
	Elements   []descriptors.ElementDescriptor `json:"elements"`
	IsRetired  bool                            `json:"isRetired,omitempty"`
}

// ObjectRequest is the body of object create and update calls. TemplateID,
// TemplateVersionID and Language are ignored on update.
type ObjectRequest struct {
	ID                int64                        `json:"id,omitempty"`
	TemplateID        int64                        `json:"templateId"`
	TemplateVersionID string                       `json:"templateVersionId,omitempty"`
	Language          descriptors.Language         `json:"language"`
	Properties        map[string]any               `json:"properties,omitempty"`
	Elements          []vstore.ElementValueRequest `json:"elements"`
}

// expectedVersion reads If-Match, accepting quoted and weak entity tags.
func expectedVersion(r *http.Request) string {
	v := strings.TrimSpace(r.Header.Get("If-Match"))
	v = strings.TrimPrefix(v, "W/")
	return strings.Trim(v, `"`)
}

func setVersionHeaders(w http.ResponseWriter, versionID string) {
	w.Header().Set("ETag", strconv.Quote(versionID))
}

func (h *Handler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	var body TemplateRequest
	if err := render.DecodeJSON(r.Body, &body); err != nil {
		h.badRequest(w, r, "Invalid request body: "+err.Error())
		return
	}
	tmpl, err := h.service.CreateTemplate(r.Context(), vstore.CreateTemplateRequest{
		ID:         body.ID,
		Author:     body.Author,
		Properties: body.Properties,
		Elements:   body.Elements,
		IsRetired:  body.IsRetired,
	})
	if err != nil {
		h.writeError(w, r, err, 0)
		return
	}
	h.logger.InfoContext(r.Context(), "template created", "template_id", tmpl.ID, "version_id", tmpl.VersionID)
	setVersionHeaders(w, tmpl.VersionID)
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, tmpl)
}

func (h *Handler) UpdateTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := int64Param(r, "id")
	if !ok {
		h.badRequest(w, r, "Invalid template id")
		return
	}
	expected := expectedVersion(r)
	if expected == "" {
		render.Status(r, http.StatusPreconditionRequired)
		render.JSON(w, r, ErrorResponse{Error: "If-Match header is required"})
		return
	}
	var body TemplateRequest
	if err := render.DecodeJSON(r.Body, &body); err != nil {
		h.badRequest(w, r, "Invalid request body: "+err.Error())
		return
	}
	tmpl, err := h.service.UpdateTemplate(r.Context(), vstore.UpdateTemplateRequest{
		ID:                id,
		ExpectedVersionID: expected,
		Author:            body.Author,
		Properties:        body.Properties,
		Elements:          body.Elements,
		IsRetired:         body.IsRetired,
	})
	if err != nil {
		h.writeError(w, r, err, 0)
		return
	}
	h.logger.InfoContext(r.Context(), "template updated", "template_id", tmpl.ID, "version_id", tmpl.VersionID)
	setVersionHeaders(w, tmpl.VersionID)
	render.JSON(w, r, tmpl)
}

// GetTemplate returns the latest version, or the one named by {versionId}
func (h *Handler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := int64Param(r, "id")
	if !ok {
		h.badRequest(w, r, "Invalid template id")
		return
	}
	tmpl, err := h.service.GetTemplate(r.Context(), id, chi.URLParam(r, "versionId"))
	if err != nil {
		h.writeError(w, r, err, 0)
		return
	}
	setVersionHeaders(w, tmpl.VersionID)
	render.JSON(w, r, tmpl)
}

func (h *Handler) ListTemplateVersions(w http.ResponseWriter, r *http.Request) {
	id, ok := int64Param(r, "id")
	if !ok {
		h.badRequest(w, r, "Invalid template id")
		return
	}
	versions, err := h.service.ListTemplateVersions(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err, 0)
		return
	}
	render.JSON(w, r, versions)
}

func (h *Handler) CreateObject(w http.ResponseWriter, r *http.Request) {
	var body ObjectRequest
	if err := render.DecodeJSON(r.Body, &body); err != nil {
		h.badRequest(w, r, "Invalid request body: "+err.Error())
		return
	}
	obj, err := h.service.CreateObject(r.Context(), vstore.CreateObjectRequest{
		ID:                body.ID,
		TemplateID:        body.TemplateID,
		TemplateVersionID: body.TemplateVersionID,
		Language:          body.Language,
		Properties:        body.Properties,
		Elements:          body.Elements,
	})
	if err != nil {
		h.writeError(w, r, err, 0)
		return
	}
	h.logger.InfoContext(r.Context(), "object created", "object_id", obj.ID, "version_id", obj.VersionID)
	setVersionHeaders(w, obj.VersionID)
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, obj)
}

func (h *Handler) UpdateObject(w http.ResponseWriter, r *http.Request) {
	id, ok := int64Param(r, "id")
	if !ok {
		h.badRequest(w, r, "Invalid object id")
		return
	}
	expected := expectedVersion(r)
	if expected == "" {
		render.Status(r, http.StatusPreconditionRequired)
		render.JSON(w, r, ErrorResponse{Error: "If-Match header is required"})
		return
	}
	var body ObjectRequest
	if err := render.DecodeJSON(r.Body, &body); err != nil {
		h.badRequest(w, r, "Invalid request body: "+err.Error())
		return
	}
	obj, err := h.service.UpdateObject(r.Context(), vstore.UpdateObjectRequest{
		ID:                id,
		ExpectedVersionID: expected,
		Properties:        body.Properties,
		Elements:          body.Elements,
	})
	if err != nil {
		h.writeError(w, r, err, 0)
		return
	}
	h.logger.InfoContext(r.Context(), "object updated", "object_id", obj.ID, "version_id", obj.VersionID)
	setVersionHeaders(w, obj.VersionID)
	render.JSON(w, r, obj)
}

// GetObject returns the latest version, or the one named by {versionId}
func (h *Handler) GetObject(w http.ResponseWriter, r *http.Request) {
	id, ok := int64Param(r, "id")
	if !ok {
		h.badRequest(w, r, "Invalid object id")
		return
	}
	obj, err := h.service.GetObject(r.Context(), id, chi.URLParam(r, "versionId"))
	if err != nil {
		h.writeError(w, r, err, 0)
		return
	}
	setVersionHeaders(w, obj.VersionID)
	render.JSON(w, r, obj)
}

func (h *Handler) ListObjectVersions(w http.ResponseWriter, r *http.Request) {
	id, ok := int64Param(r, "id")
	if !ok {
		h.badRequest(w, r, "Invalid object id")
		return
	}
	versions, err := h.service.ListObjectVersions(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err, 0)
		return
	}
	render.JSON(w, r, versions)
}
