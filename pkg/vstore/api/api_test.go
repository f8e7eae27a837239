package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-vstore/pkg/vstore"
	"github.com/tendant/simple-vstore/pkg/vstore/admission"
	"github.com/tendant/simple-vstore/pkg/vstore/api"
	"github.com/tendant/simple-vstore/pkg/vstore/descriptors"
	"github.com/tendant/simple-vstore/pkg/vstore/metrics"
	memoryrepo "github.com/tendant/simple-vstore/pkg/vstore/repo/memory"
	memorystorage "github.com/tendant/simple-vstore/pkg/vstore/storage/memory"
)

const (
	codeTitle = 1
	codeLogo  = 2
)

type testServer struct {
	t       *testing.T
	handler http.Handler
	blobs   *memorystorage.Backend
}

func newServer(t *testing.T, handlerOpts []api.Option, opts ...vstore.Option) *testServer {
	t.Helper()
	blobs := memorystorage.New()
	base := []vstore.Option{
		vstore.WithRepository(memoryrepo.New()),
		vstore.WithBlobStore(blobs),
	}
	svc, err := vstore.New(append(base, opts...)...)
	require.NoError(t, err)
	return &testServer{t: t, handler: api.NewHandler(svc, handlerOpts...).Routes(), blobs: blobs}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) json(method, target string, body any, header ...string) *httptest.ResponseRecorder {
	s.t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(s.t, err)
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, rd)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	return s.do(req)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func templateBody() api.TemplateRequest {
	all := descriptors.LanguageUnspecified
	maxSymbols := 10
	return api.TemplateRequest{
		Author: "api",
		Elements: []descriptors.ElementDescriptor{
			{
				Type:         descriptors.ElementPlainText,
				TemplateCode: codeTitle,
				Constraints: descriptors.ConstraintSet{all: {Text: &descriptors.TextElementConstraints{
					IsMandatory: true,
					MaxSymbols:  &maxSymbols,
				}}},
			},
			{
				Type:         descriptors.ElementBitmapImage,
				TemplateCode: codeLogo,
				Constraints: descriptors.ConstraintSet{all: {BitmapImage: &descriptors.BitmapImageElementConstraints{
					MaxSize:              1 << 20,
					SupportedFileFormats: []descriptors.FileFormat{descriptors.FileFormatPng},
					ImageSizeRange: descriptors.ImageSizeRange{
						Min: descriptors.ImageSize{Width: 1, Height: 1},
						Max: descriptors.ImageSize{Width: 500, Height: 500},
					},
				}}},
			},
		},
	}
}

func (s *testServer) createTemplate() descriptors.TemplateDescriptor {
	s.t.Helper()
	rec := s.json(http.MethodPost, "/templates", templateBody())
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[descriptors.TemplateDescriptor](s.t, rec)
}

func (s *testServer) setup(templateID int64) api.SetupSessionResponse {
	s.t.Helper()
	rec := s.do(httptest.NewRequest(http.MethodPost, fmt.Sprintf("/session/%d/en", templateID), nil))
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[api.SetupSessionResponse](s.t, rec)
}

type part struct {
	field    string
	filename string
	data     []byte
}

func multipartRequest(t *testing.T, target string, parts ...part) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range parts {
		h := textproto.MIMEHeader{}
		if p.filename != "" {
			h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, p.field, p.filename))
			h.Set("Content-Type", "application/octet-stream")
		} else {
			h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q`, p.field))
		}
		w, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = w.Write(p.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func pngBytes(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 9), G: uint8(y * 5), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func uploadPath(sessionID fmt.Stringer, code int) string {
	return fmt.Sprintf("/session/%s/upload/%d", sessionID, code)
}

// uploadLogo commits data as the logo of a fresh session and returns its blob key.
func (s *testServer) uploadLogo(templateID int64, data []byte) string {
	s.t.Helper()
	setup := s.setup(templateID)
	rec := s.do(multipartRequest(s.t, uploadPath(setup.ID, codeLogo), part{field: "file", filename: "logo.png", data: data}))
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[api.UploadResponse](s.t, rec).ID
}

func TestHealth(t *testing.T) {
	s := newServer(t, nil)
	rec := s.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := newServer(t,
		[]api.Option{api.WithMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))},
		vstore.WithMetrics(metrics.New(reg)))
	tmpl := s.createTemplate()
	s.setup(tmpl.ID)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "vstore_sessions_created_total 1")
}

func TestSessionUploadObjectPreviewFlow(t *testing.T) {
	s := newServer(t, nil)
	tmpl := s.createTemplate()

	setup := s.setup(tmpl.ID)
	assert.Equal(t, tmpl.VersionID, setup.Template.VersionID)
	require.Len(t, setup.UploadURLs, 1)
	assert.Equal(t, uploadPath(setup.ID, codeLogo), setup.UploadURLs[0].URL)
	assert.False(t, setup.ExpiresAt.IsZero())

	rec := s.do(httptest.NewRequest(http.MethodGet, "/session/"+setup.ID.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	session := decode[vstore.Session](t, rec)
	assert.Equal(t, tmpl.ID, session.TemplateID)

	logo := pngBytes(t, 40, 20)
	rec = s.do(multipartRequest(t, setup.UploadURLs[0].URL, part{field: "file", filename: "logo.png", data: logo}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	uploaded := decode[api.UploadResponse](t, rec)
	assert.Equal(t, "logo.png", uploaded.Filename)
	require.NotEmpty(t, uploaded.PreviewURI)

	rec = s.do(httptest.NewRequest(http.MethodGet, uploaded.PreviewURI, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, logo, rec.Body.Bytes())
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))

	rec = s.json(http.MethodPost, "/objects", api.ObjectRequest{
		TemplateID: tmpl.ID,
		Language:   "en",
		Elements: []vstore.ElementValueRequest{
			{TemplateCode: codeTitle, Value: descriptors.ElementValue{Raw: "Sale"}},
			{TemplateCode: codeLogo, Value: descriptors.ElementValue{Raw: uploaded.ID}},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	obj := decode[descriptors.ObjectDescriptor](t, rec)
	assert.Equal(t, `"`+obj.VersionID+`"`, rec.Header().Get("ETag"))

	rec = s.do(httptest.NewRequest(http.MethodGet,
		fmt.Sprintf("/previews/%d/%s/%d/image_10x10.png", obj.ID, obj.VersionID, codeLogo), nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	img, err := png.Decode(rec.Body)
	require.NoError(t, err)
	assert.LessOrEqual(t, img.Bounds().Dx(), 10)

	for _, size := range []string{"10x", "x10", "10x10"} {
		rec = s.do(httptest.NewRequest(http.MethodGet,
			fmt.Sprintf("/scale/%d/%s/%d/%s", obj.ID, obj.VersionID, codeLogo, size), nil))
		assert.Equal(t, http.StatusOK, rec.Code, size)
	}

	rec = s.json(http.MethodGet, fmt.Sprintf("/objects/%d/versions", obj.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]vstore.VersionDescriptor](t, rec), 1)
}

func TestUpdateObjectPreconditions(t *testing.T) {
	s := newServer(t, nil)
	tmpl := s.createTemplate()
	rec := s.json(http.MethodPost, "/objects", api.ObjectRequest{
		TemplateID: tmpl.ID,
		Language:   "en",
		Elements:   []vstore.ElementValueRequest{{TemplateCode: codeTitle, Value: descriptors.ElementValue{Raw: "v1"}}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	obj := decode[descriptors.ObjectDescriptor](t, rec)
	target := fmt.Sprintf("/objects/%d", obj.ID)
	body := api.ObjectRequest{Elements: []vstore.ElementValueRequest{{TemplateCode: codeTitle, Value: descriptors.ElementValue{Raw: "v2"}}}}

	rec = s.json(http.MethodPut, target, body)
	assert.Equal(t, http.StatusPreconditionRequired, rec.Code)

	rec = s.json(http.MethodPut, target, body, "If-Match", `"stale"`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.json(http.MethodPut, target, body, "If-Match", `"`+obj.VersionID+`"`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[descriptors.ObjectDescriptor](t, rec)
	assert.NotEqual(t, obj.VersionID, updated.VersionID)

	rec = s.json(http.MethodGet, fmt.Sprintf("/objects/%d/%s", obj.ID, obj.VersionID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	old := decode[descriptors.ObjectDescriptor](t, rec)
	title, ok := old.Element(codeTitle)
	require.True(t, ok)
	assert.Equal(t, "v1", title.Value.Raw)
}

func TestObjectValidationBody(t *testing.T) {
	s := newServer(t, nil)
	tmpl := s.createTemplate()
	rec := s.json(http.MethodPost, "/objects", api.ObjectRequest{
		TemplateID: tmpl.ID,
		Language:   "en",
		Elements: []vstore.ElementValueRequest{
			{TemplateCode: codeTitle, Value: descriptors.ElementValue{Raw: strings.Repeat("x", 30)}},
		},
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())

	var body struct {
		Errors   []json.RawMessage `json:"errors"`
		Elements []struct {
			TemplateCode int `json:"templateCode"`
			Errors       []struct {
				Type string `json:"type"`
			} `json:"errors"`
		} `json:"elements"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotNil(t, body.Errors)
	require.Len(t, body.Elements, 1)
	assert.Equal(t, codeTitle, body.Elements[0].TemplateCode)
	require.NotEmpty(t, body.Elements[0].Errors)
	assert.Equal(t, "maxSymbols", body.Elements[0].Errors[0].Type)
}

func TestSetupSessionErrors(t *testing.T) {
	s := newServer(t, nil)

	rec := s.do(httptest.NewRequest(http.MethodPost, "/session/abc/en", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(httptest.NewRequest(http.MethodPost, "/session/42/en", nil))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = s.do(httptest.NewRequest(http.MethodGet, "/session/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(httptest.NewRequest(http.MethodGet, "/session/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUploadRejections(t *testing.T) {
	s := newServer(t, nil)
	tmpl := s.createTemplate()
	setup := s.setup(tmpl.ID)
	target := uploadPath(setup.ID, codeLogo)
	logo := pngBytes(t, 8, 8)

	t.Run("not multipart", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(logo))
		req.Header.Set("Content-Type", "image/png")
		assert.Equal(t, http.StatusBadRequest, s.do(req).Code)
	})

	t.Run("no sections", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, s.do(multipartRequest(t, target)).Code)
	})

	t.Run("form field", func(t *testing.T) {
		rec := s.do(multipartRequest(t, target, part{field: "name", data: []byte("logo")}))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("two files", func(t *testing.T) {
		rec := s.do(multipartRequest(t, target,
			part{field: "a", filename: "a.png", data: logo},
			part{field: "b", filename: "b.png", data: logo}))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("format mismatch", func(t *testing.T) {
		rec := s.do(multipartRequest(t, target, part{field: "file", filename: "logo.png", data: []byte("GIF89a not really")}))
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
		assert.Contains(t, rec.Body.String(), `"elements"`)
		assert.Contains(t, rec.Body.String(), fmt.Sprintf(`"templateCode":%d`, codeLogo))
	})

	t.Run("element without binary", func(t *testing.T) {
		rec := s.do(multipartRequest(t, uploadPath(setup.ID, codeTitle), part{field: "file", filename: "a.png", data: logo}))
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("unknown session", func(t *testing.T) {
		rec := s.do(multipartRequest(t, uploadPath(uuid.New(), codeLogo),
			part{field: "file", filename: "a.png", data: logo}))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("bad file type header", func(t *testing.T) {
		req := multipartRequest(t, target, part{field: "file", filename: "a.png", data: logo})
		req.Header.Set("X-VStore-FileType", "thumbnail")
		assert.Equal(t, http.StatusBadRequest, s.do(req).Code)
	})

	t.Run("size specific without size", func(t *testing.T) {
		req := multipartRequest(t, target, part{field: "file", filename: "a.png", data: logo})
		req.Header.Set("X-VStore-FileType", string(vstore.FileTypeSizeSpecificImage))
		assert.Equal(t, http.StatusBadRequest, s.do(req).Code)
	})

	assert.Empty(t, s.blobs.Keys(), "rejected uploads leave nothing behind")
}

func TestPreviewErrors(t *testing.T) {
	s := newServer(t,
		[]api.Option{api.WithRetryAfter(7 * time.Second)},
		vstore.WithMemoryBudget(admission.NewMemoryBudget(1024)))
	tmpl := s.createTemplate()
	logo := s.uploadLogo(tmpl.ID, pngBytes(t, 200, 200))
	rec := s.json(http.MethodPost, "/objects", api.ObjectRequest{
		TemplateID: tmpl.ID,
		Language:   "en",
		Elements: []vstore.ElementValueRequest{
			{TemplateCode: codeTitle, Value: descriptors.ElementValue{Raw: "Big"}},
			{TemplateCode: codeLogo, Value: descriptors.ElementValue{Raw: logo}},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	obj := decode[descriptors.ObjectDescriptor](t, rec)
	prefix := fmt.Sprintf("/previews/%d/%s/%d/", obj.ID, obj.VersionID, codeLogo)

	rec = s.do(httptest.NewRequest(http.MethodGet, prefix+"image_100x100.png", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "7", rec.Header().Get("Retry-After"))

	rec = s.do(httptest.NewRequest(http.MethodGet, prefix+"image_0x10.png", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(httptest.NewRequest(http.MethodGet, prefix+"thumbnail.png", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(httptest.NewRequest(http.MethodGet,
		fmt.Sprintf("/previews/%d/%s/%d/image_10x10.png", obj.ID+100, obj.VersionID, codeLogo), nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(httptest.NewRequest(http.MethodGet,
		fmt.Sprintf("/scale/%d/%s/%d/x", obj.ID, obj.VersionID, codeLogo), nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(httptest.NewRequest(http.MethodGet, "/files/logos/missing.png", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRetryAfterRoundsUp(t *testing.T) {
	for _, tc := range []struct {
		retryAfter time.Duration
		want       string
	}{
		{retryAfter: 200 * time.Millisecond, want: "1"},
		{retryAfter: 0, want: "1"},
		{retryAfter: 1500 * time.Millisecond, want: "2"},
		{retryAfter: 3 * time.Second, want: "3"},
	} {
		t.Run(tc.retryAfter.String(), func(t *testing.T) {
			s := newServer(t,
				[]api.Option{api.WithRetryAfter(tc.retryAfter)},
				vstore.WithMemoryBudget(admission.NewMemoryBudget(1024)))
			tmpl := s.createTemplate()
			logo := s.uploadLogo(tmpl.ID, pngBytes(t, 200, 200))
			rec := s.json(http.MethodPost, "/objects", api.ObjectRequest{
				TemplateID: tmpl.ID,
				Language:   "en",
				Elements: []vstore.ElementValueRequest{
					{TemplateCode: codeTitle, Value: descriptors.ElementValue{Raw: "Big"}},
					{TemplateCode: codeLogo, Value: descriptors.ElementValue{Raw: logo}},
				},
			})
			require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
			obj := decode[descriptors.ObjectDescriptor](t, rec)

			rec = s.do(httptest.NewRequest(http.MethodGet,
				fmt.Sprintf("/previews/%d/%s/%d/image_100x100.png", obj.ID, obj.VersionID, codeLogo), nil))
			require.Equal(t, http.StatusTooManyRequests, rec.Code)
			assert.Equal(t, tc.want, rec.Header().Get("Retry-After"))
		})
	}
}

func TestUploadAtMaxSize(t *testing.T) {
	s := newServer(t, nil)
	logo := pngBytes(t, 30, 30)
	body := templateBody()
	body.Elements[1].Constraints[descriptors.LanguageUnspecified].BitmapImage.MaxSize = int64(len(logo))
	rec := s.json(http.MethodPost, "/templates", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	tmpl := decode[descriptors.TemplateDescriptor](t, rec)
	setup := s.setup(tmpl.ID)

	// the multipart envelope pushes the request past MaxSize, the file itself is not
	req := multipartRequest(t, uploadPath(setup.ID, codeLogo), part{field: "file", filename: "logo.png", data: logo})
	require.Greater(t, req.ContentLength, int64(len(logo)))
	rec = s.do(req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotEmpty(t, decode[api.UploadResponse](t, rec).ID)

	over := append(append([]byte{}, logo...), 0)
	rec = s.do(multipartRequest(t, uploadPath(setup.ID, codeLogo), part{field: "file", filename: "logo.png", data: over}))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
}

func TestTemplateRoutes(t *testing.T) {
	s := newServer(t, nil)
	tmpl := s.createTemplate()

	rec := s.json(http.MethodGet, fmt.Sprintf("/templates/%d", tmpl.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `"`+tmpl.VersionID+`"`, rec.Header().Get("ETag"))

	body := templateBody()
	body.IsRetired = true
	rec = s.json(http.MethodPut, fmt.Sprintf("/templates/%d", tmpl.ID), body, "If-Match", tmpl.VersionID)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.json(http.MethodGet, fmt.Sprintf("/templates/%d/versions", tmpl.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]vstore.VersionDescriptor](t, rec), 2)

	rec = s.json(http.MethodGet, fmt.Sprintf("/templates/%d/%s", tmpl.ID, tmpl.VersionID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[descriptors.TemplateDescriptor](t, rec).IsRetired)

	rec = s.do(httptest.NewRequest(http.MethodPost, fmt.Sprintf("/session/%d/en", tmpl.ID), nil))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, "retired templates accept no sessions")

	bad := templateBody()
	bad.Elements = append(bad.Elements, bad.Elements[0])
	rec = s.json(http.MethodPost, "/templates", bad)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/templates", strings.NewReader("{"))
	assert.Equal(t, http.StatusBadRequest, s.do(req).Code)
}
