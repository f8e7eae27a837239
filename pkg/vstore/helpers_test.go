package vstore_test

import (
	"archive/zip"
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-vstore/pkg/vstore"
	"github.com/tendant/simple-vstore/pkg/vstore/descriptors"
	memoryrepo "github.com/tendant/simple-vstore/pkg/vstore/repo/memory"
	memorystorage "github.com/tendant/simple-vstore/pkg/vstore/storage/memory"
)

const (
	codeHeadline  = 1
	codeLogo      = 2
	codeBanner    = 3
	codeArticle   = 4
	maxImageBytes = 1 << 20
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	svc    vstore.Service
	blobs  *memorystorage.Backend
	repo   *memoryrepo.Repository
	clock  *clock
	events *recordingSink
}

func newFixture(t *testing.T, options ...vstore.Option) *fixture {
	t.Helper()
	f := &fixture{
		blobs:  memorystorage.New(),
		repo:   memoryrepo.New(),
		clock:  &clock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)},
		events: &recordingSink{},
	}
	base := []vstore.Option{
		vstore.WithRepository(f.repo),
		vstore.WithBlobStore(f.blobs),
		vstore.WithEventSink(f.events),
		vstore.WithClock(f.clock.Now),
		vstore.WithSessionTTL(time.Hour),
	}
	svc, err := vstore.New(append(base, options...)...)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func ptr[T any](v T) *T { return &v }

func imageRange() descriptors.ImageSizeRange {
	return descriptors.ImageSizeRange{
		Min: descriptors.ImageSize{Width: 1, Height: 1},
		Max: descriptors.ImageSize{Width: 1000, Height: 1000},
	}
}

// bannerTemplate has one element of every kind.
func bannerTemplate() vstore.CreateTemplateRequest {
	all := descriptors.LanguageUnspecified
	return vstore.CreateTemplateRequest{
		Author: "tests",
		Elements: []descriptors.ElementDescriptor{
			{
				Type:         descriptors.ElementPlainText,
				TemplateCode: codeHeadline,
				Constraints: descriptors.ConstraintSet{all: {Text: &descriptors.TextElementConstraints{
					IsMandatory: true,
					MaxSymbols:  ptr(20),
				}}},
			},
			{
				Type:         descriptors.ElementBitmapImage,
				TemplateCode: codeLogo,
				Constraints: descriptors.ConstraintSet{all: {BitmapImage: &descriptors.BitmapImageElementConstraints{
					IsMandatory:          true,
					MaxSize:              maxImageBytes,
					SupportedFileFormats: []descriptors.FileFormat{descriptors.FileFormatPng},
					ImageSizeRange:       imageRange(),
				}}},
			},
			{
				Type:         descriptors.ElementCompositeBitmapImage,
				TemplateCode: codeBanner,
				Constraints: descriptors.ConstraintSet{all: {CompositeBitmapImage: &descriptors.CompositeBitmapImageElementConstraints{
					MaxSize:                  maxImageBytes,
					SupportedFileFormats:     []descriptors.FileFormat{descriptors.FileFormatPng},
					ImageSizeRange:           imageRange(),
					SizeSpecificImageMaxSize: maxImageBytes,
				}}},
			},
			{
				Type:         descriptors.ElementArticle,
				TemplateCode: codeArticle,
				Constraints: descriptors.ConstraintSet{all: {Article: &descriptors.ArticleElementConstraints{
					MaxSize:           maxImageBytes,
					MaxFilenameLength: 32,
				}}},
			},
		},
	}
}

func (f *fixture) createTemplate(t *testing.T) *descriptors.TemplateDescriptor {
	t.Helper()
	tmpl, err := f.svc.CreateTemplate(context.Background(), bannerTemplate())
	require.NoError(t, err)
	return tmpl
}

func (f *fixture) setup(t *testing.T) (*descriptors.TemplateDescriptor, *vstore.SessionSetupContext) {
	t.Helper()
	tmpl := f.createTemplate(t)
	session, err := f.svc.Setup(context.Background(), tmpl.ID, "en")
	require.NoError(t, err)
	return tmpl, session
}

// upload runs a single-file upload of data for templateCode.
func (f *fixture) upload(t *testing.T, sessionID uuid.UUID, templateCode int, name string, data []byte) *vstore.UploadedFileInfo {
	t.Helper()
	info, err := f.svc.UploadFile(context.Background(), vstore.InitiateUploadRequest{
		SessionID:     sessionID,
		TemplateCode:  templateCode,
		ContentLength: -1,
	}, sections(file(name, data)))
	require.NoError(t, err)
	return info
}

// uploadVariant uploads a square pre-baked variant of a composite image element.
func (f *fixture) uploadVariant(t *testing.T, sessionID uuid.UUID, templateCode, side int) *vstore.UploadedFileInfo {
	t.Helper()
	size := descriptors.ImageSize{Width: side, Height: side}
	info, err := f.svc.UploadFile(context.Background(), vstore.InitiateUploadRequest{
		SessionID:     sessionID,
		TemplateCode:  templateCode,
		FileType:      vstore.FileTypeSizeSpecificImage,
		ImageSize:     size,
		ContentLength: -1,
	}, sections(file("variant.png", pngBytes(t, side, side))))
	require.NoError(t, err)
	return info
}

func pngBytes(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 7), G: uint8(y * 13), B: uint8(x ^ y), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func zipBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = io.WriteString(w, content)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func file(name string, data []byte) *vstore.FileSection {
	return &vstore.FileSection{FileName: name, Body: bytes.NewReader(data)}
}

type sliceSections struct {
	sections []*vstore.FileSection
}

func sections(s ...*vstore.FileSection) *sliceSections {
	return &sliceSections{sections: s}
}

func (s *sliceSections) Next() (*vstore.FileSection, error) {
	if len(s.sections) == 0 {
		return nil, io.EOF
	}
	next := s.sections[0]
	s.sections = s.sections[1:]
	return next, nil
}

type recordingSink struct {
	mu       sync.Mutex
	sessions int
	uploaded []*vstore.UploadedFileInfo
	aborted  []error
	objects  []*descriptors.ObjectDescriptor
}

func (r *recordingSink) SessionCreated(ctx context.Context, session *vstore.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions++
	return nil
}

func (r *recordingSink) FileUploaded(ctx context.Context, sessionID uuid.UUID, file *vstore.UploadedFileInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.uploaded = append(r.uploaded, file)
	return nil
}

func (r *recordingSink) UploadAborted(ctx context.Context, sessionID uuid.UUID, templateCode int, reason error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aborted = append(r.aborted, reason)
	return nil
}

func (r *recordingSink) ObjectVersionCreated(ctx context.Context, object *descriptors.ObjectDescriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.objects = append(r.objects, object)
	return nil
}

func (r *recordingSink) abortedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.aborted)
}
