package api

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"

	"github.com/tendant/simple-vstore/pkg/vstore"
)

// errNoBoundary is returned for requests that are not multipart.
var errNoBoundary = errors.New("expected a multipart request")

// multipartSections streams the parts of a multipart body without buffering them.
type multipartSections struct {
	reader *multipart.Reader
	part   *multipart.Part
}

func newMultipartSections(r *http.Request) (*multipartSections, error) {
	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || params["boundary"] == "" {
		return nil, fmt.Errorf("%w, but got %q", errNoBoundary, r.Header.Get("Content-Type"))
	}
	if mediaType != "multipart/form-data" && mediaType != "multipart/mixed" {
		return nil, fmt.Errorf("%w, but got %q", errNoBoundary, mediaType)
	}
	return &multipartSections{reader: multipart.NewReader(r.Body, params["boundary"])}, nil
}

func (m *multipartSections) Next() (*vstore.FileSection, error) {
	if m.part != nil {
		m.part.Close()
		m.part = nil
	}
	part, err := m.reader.NextPart()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: %v", vstore.ErrInvalidUploadRequest, err)
	}
	m.part = part
	return &vstore.FileSection{
		FileName:    part.FileName(),
		ContentType: part.Header.Get("Content-Type"),
		Body:        part,
	}, nil
}

func (m *multipartSections) Close() {
	if m.part != nil {
		m.part.Close()
		m.part = nil
	}
}
