package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tendant/simple-vstore/pkg/vstore"
)

// GetPreview serves /previews/{id}/{versionId}/{templateCode}/image_{w}x{h}.png
func (h *Handler) GetPreview(w http.ResponseWriter, r *http.Request) {
	req, ok := h.previewRequest(w, r)
	if !ok {
		return
	}
	size := chi.URLParam(r, "size")
	dims, found := strings.CutPrefix(size, "image_")
	if found {
		dims, found = strings.CutSuffix(dims, ".png")
	}
	if !found {
		http.NotFound(w, r)
		return
	}
	width, height, err := parseDims(dims)
	if err != nil || width < 1 || height < 1 {
		h.badRequest(w, r, "Incorrect width or height")
		return
	}
	req.Width, req.Height = width, height

	preview, err := h.service.GetObjectPreview(r.Context(), req)
	h.writePreview(w, r, req.TemplateCode, preview, err)
}

// GetScaled serves /scale/{id}/{versionId}/{templateCode}/{w}x, /x{h} and /{w}x{h}
func (h *Handler) GetScaled(w http.ResponseWriter, r *http.Request) {
	req, ok := h.previewRequest(w, r)
	if !ok {
		return
	}
	width, height, err := parseDims(chi.URLParam(r, "size"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	if width < 0 || height < 0 || (width == 0 && height == 0) {
		h.badRequest(w, r, "Incorrect width or height")
		return
	}
	req.Width, req.Height = width, height

	preview, err := h.service.GetScaledPreview(r.Context(), req)
	h.writePreview(w, r, req.TemplateCode, preview, err)
}

func (h *Handler) previewRequest(w http.ResponseWriter, r *http.Request) (vstore.PreviewRequest, bool) {
	id, ok := int64Param(r, "id")
	if !ok {
		h.badRequest(w, r, "Invalid object id")
		return vstore.PreviewRequest{}, false
	}
	templateCode, ok := intParam(r, "templateCode")
	if !ok {
		h.badRequest(w, r, "Invalid template code")
		return vstore.PreviewRequest{}, false
	}
	return vstore.PreviewRequest{
		ObjectID:     id,
		VersionID:    chi.URLParam(r, "versionId"),
		TemplateCode: templateCode,
	}, true
}

func (h *Handler) writePreview(w http.ResponseWriter, r *http.Request, templateCode int, preview *vstore.Preview, err error) {
	if err != nil {
		h.writeError(w, r, err, templateCode)
		return
	}
	if preview.IsRedirect() {
		http.Redirect(w, r, preview.RedirectURL, http.StatusFound)
		return
	}
	w.Header().Set("Content-Type", preview.ContentType)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, preview.Content); err != nil {
		h.logger.WarnContext(r.Context(), "failed to write preview", "err", err)
	}
}

// parseDims parses "WxH", "Wx" and "xH". A missing side is zero.
func parseDims(s string) (width, height int, err error) {
	ws, hs, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok || (ws == "" && hs == "") {
		return 0, 0, fmt.Errorf("invalid size %q", s)
	}
	if ws != "" {
		if width, err = strconv.Atoi(ws); err != nil {
			return 0, 0, err
		}
	}
	if hs != "" {
		if height, err = strconv.Atoi(hs); err != nil {
			return 0, 0, err
		}
	}
	return width, height, nil
}

// DownloadFile streams a raw blob addressed by its key
func (h *Handler) DownloadFile(w http.ResponseWriter, r *http.Request) {
	key, err := url.PathUnescape(chi.URLParam(r, "*"))
	if err != nil || key == "" {
		h.badRequest(w, r, "Invalid file key")
		return
	}
	rc, meta, err := h.service.DownloadFile(r.Context(), key)
	if err != nil {
		if errors.Is(err, vstore.ErrBlobNotFound) {
			http.NotFound(w, r)
			return
		}
		h.writeError(w, r, err, 0)
		return
	}
	defer rc.Close()

	if meta.ContentType != "" {
		w.Header().Set("Content-Type", meta.ContentType)
	}
	if meta.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(meta.Size, 10))
	}
	if etag := meta.ETag; etag != "" {
		if !strings.HasPrefix(etag, `"`) {
			etag = strconv.Quote(etag)
		}
		w.Header().Set("ETag", etag)
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.WarnContext(r.Context(), "failed to stream file", "key", key, "err", err)
	}
}
