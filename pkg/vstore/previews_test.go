package vstore_test

import (
	"context"
	"errors"
	"image/png"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-vstore/pkg/vstore"
	"github.com/tendant/simple-vstore/pkg/vstore/admission"
	"github.com/tendant/simple-vstore/pkg/vstore/descriptors"
	"github.com/tendant/simple-vstore/pkg/vstore/imaging"
	memorystorage "github.com/tendant/simple-vstore/pkg/vstore/storage/memory"
)

func decodePreview(t *testing.T, p *vstore.Preview) descriptors.ImageSize {
	t.Helper()
	require.Equal(t, vstore.PreviewReturned, p.Outcome)
	require.Equal(t, "image/png", p.ContentType)
	img, err := png.Decode(p.Content)
	require.NoError(t, err)
	return descriptors.ImageSize{Width: img.Bounds().Dx(), Height: img.Bounds().Dy()}
}

func TestGetPreview_RedirectsToVariant(t *testing.T) {
	f := newFixture(t)
	value := descriptors.ElementValue{
		Raw: "banners/b.png",
		SizeSpecificImages: []descriptors.SizeSpecificImage{
			{Size: descriptors.ImageSize{Width: 16, Height: 16}, Raw: "banners/b-16.png"},
		},
	}

	p, err := f.svc.GetPreview(context.Background(), value, codeBanner, 16, 16)
	require.NoError(t, err)
	assert.True(t, p.IsRedirect())
	assert.Equal(t, vstore.PreviewRedirected, p.Outcome)
	assert.Equal(t, "/files/banners/b-16.png", p.RedirectURL)
	assert.Empty(t, f.blobs.Keys(), "redirects never touch the blob store")

	// zero is unspecified, so a 16x0 request scales the original instead of matching 16x16
	f.blobs.Put("banners/b.png", "image/png", pngBytes(t, 40, 20))
	p, err = f.svc.GetPreview(context.Background(), value, codeBanner, 16, 0)
	require.NoError(t, err)
	assert.Equal(t, descriptors.ImageSize{Width: 16, Height: 8}, decodePreview(t, p))
}

func TestGetPreview_Renders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.blobs.Put("banners/b.png", "image/png", pngBytes(t, 40, 20))
	value := descriptors.ElementValue{Raw: "banners/b.png"}

	cases := []struct {
		name          string
		width, height int
		crop          *descriptors.CropArea
		want          descriptors.ImageSize
	}{
		{name: "width only", width: 10, want: descriptors.ImageSize{Width: 10, Height: 5}},
		{name: "height only", height: 10, want: descriptors.ImageSize{Width: 20, Height: 10}},
		{name: "both scale the longer side", width: 8, height: 30, want: descriptors.ImageSize{Width: 30, Height: 15}},
		{name: "cropped", width: 10, crop: &descriptors.CropArea{Left: 5, Top: 0, Width: 20, Height: 20}, want: descriptors.ImageSize{Width: 10, Height: 10}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := value
			v.CropArea = tc.crop
			p, err := f.svc.GetPreview(ctx, v, codeBanner, tc.width, tc.height)
			require.NoError(t, err)
			assert.Equal(t, tc.want, p.Size)
			assert.Equal(t, tc.want, decodePreview(t, p))
		})
	}
}

func TestGetPreview_InvalidRequests(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.blobs.Put("bad.png", "image/png", []byte("definitely not an image"))

	for _, size := range [][2]int{{0, 0}, {-1, 10}, {10, -1}} {
		_, err := f.svc.GetPreview(ctx, descriptors.ElementValue{Raw: "bad.png"}, codeBanner, size[0], size[1])
		assert.ErrorIs(t, err, vstore.ErrInvalidPreviewRequest, "size %v", size)
	}

	_, err := f.svc.GetPreview(ctx, descriptors.ElementValue{Raw: "bad.png"}, codeBanner, 10, 10)
	assert.ErrorIs(t, err, vstore.ErrImageDecode)

	_, err = f.svc.GetPreview(ctx, descriptors.ElementValue{}, codeBanner, 10, 10)
	assert.ErrorIs(t, err, vstore.ErrObjectNotFound)

	_, err = f.svc.GetPreview(ctx, descriptors.ElementValue{Raw: "missing.png"}, codeBanner, 10, 10)
	assert.ErrorIs(t, err, vstore.ErrBlobNotFound)
}

func TestGetPreview_BudgetDenied(t *testing.T) {
	budget := admission.NewMemoryBudget(1024)
	f := newFixture(t, vstore.WithMemoryBudget(budget))
	f.blobs.Put("banners/b.png", "image/png", pngBytes(t, 40, 20))

	_, err := f.svc.GetPreview(context.Background(), descriptors.ElementValue{Raw: "banners/b.png"}, codeBanner, 10, 0)
	assert.ErrorIs(t, err, vstore.ErrMemoryLimited)
	assert.Equal(t, int64(1), budget.Denied())
	assert.Zero(t, budget.InUse())
}

func TestGetPreview_Canceled(t *testing.T) {
	budget := admission.NewMemoryBudget(vstore.DefaultMemoryBudget)
	f := newFixture(t, vstore.WithMemoryBudget(budget))
	f.blobs.Put("banners/b.png", "image/png", pngBytes(t, 40, 20))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.GetPreview(ctx, descriptors.ElementValue{Raw: "banners/b.png"}, codeBanner, 10, 0)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, vstore.ErrImageDecode)
	assert.Zero(t, budget.InUse(), "reservation released on cancel")
}

// pngHeaderLen covers the PNG signature and IHDR chunk, enough to read the image size.
const pngHeaderLen = 33

// gatedBlobs serves the header of every download freely and holds the rest until
// release is closed, keeping reservations taken after the size check open.
type gatedBlobs struct {
	*memorystorage.Backend
	release chan struct{}
	held    *sync.WaitGroup
}

func (g *gatedBlobs) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	rc, err := g.Backend.Download(ctx, key)
	if err != nil {
		return nil, err
	}
	return &gatedReader{ReadCloser: rc, gate: g, free: pngHeaderLen}, nil
}

type gatedReader struct {
	io.ReadCloser
	gate *gatedBlobs
	free int
	held bool
}

func (r *gatedReader) Read(p []byte) (int, error) {
	if r.free > 0 {
		n, err := r.ReadCloser.Read(p[:min(len(p), r.free)])
		r.free -= n
		return n, err
	}
	if !r.held {
		r.held = true
		r.gate.held.Done()
		<-r.gate.release
	}
	return r.ReadCloser.Read(p)
}

func TestGetPreview_ConcurrentRequestsStayWithinBudget(t *testing.T) {
	src := descriptors.ImageSize{Width: 40, Height: 20}
	cost := imaging.EstimateCost(src, imaging.OutputSize(src, imaging.Target{Width: 10}))
	budget := admission.NewMemoryBudget(2 * cost)

	const requests = 16
	var attempted sync.WaitGroup
	attempted.Add(requests)
	blobs := &gatedBlobs{Backend: memorystorage.New(), release: make(chan struct{}), held: &attempted}
	blobs.Put("banners/b.png", "image/png", pngBytes(t, 40, 20))
	f := newFixture(t, vstore.WithMemoryBudget(budget), vstore.WithBlobStore(blobs))
	value := descriptors.ElementValue{Raw: "banners/b.png"}

	var (
		wg               sync.WaitGroup
		mu               sync.Mutex
		returned, denied int
	)
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.GetPreview(context.Background(), value, codeBanner, 10, 0)
			if errors.Is(err, vstore.ErrMemoryLimited) {
				attempted.Done()
			}
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				returned++
			case errors.Is(err, vstore.ErrMemoryLimited):
				denied++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}

	// every request is now either denied or holding its reservation
	attempted.Wait()
	assert.Equal(t, 2*cost, budget.InUse())
	close(blobs.release)
	wg.Wait()

	assert.Equal(t, 2, returned)
	assert.Equal(t, requests-2, denied)
	assert.GreaterOrEqual(t, budget.Denied(), int64(1))
	assert.LessOrEqual(t, budget.Peak(), budget.Capacity())
	assert.Zero(t, budget.InUse())
}

func TestObjectPreviews(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tmpl, session := f.setup(t)
	logo := f.upload(t, session.ID, codeLogo, "a.png", pngBytes(t, 10, 10))
	banner := f.upload(t, session.ID, codeBanner, "b.png", pngBytes(t, 40, 20))
	variant := f.uploadVariant(t, session.ID, codeBanner, 8)

	obj, err := f.svc.CreateObject(ctx, vstore.CreateObjectRequest{
		TemplateID: tmpl.ID,
		Language:   "en",
		Elements: []vstore.ElementValueRequest{
			value(codeHeadline, "Hi"),
			value(codeLogo, logo.ID),
			{TemplateCode: codeBanner, Value: descriptors.ElementValue{
				Raw: banner.ID,
				SizeSpecificImages: []descriptors.SizeSpecificImage{
					{Size: descriptors.ImageSize{Width: 8, Height: 8}, Raw: variant.ID},
				},
			}},
		},
	})
	require.NoError(t, err)
	req := vstore.PreviewRequest{ObjectID: obj.ID, VersionID: obj.VersionID, TemplateCode: codeBanner, Width: 8, Height: 3}

	// exact lookup finds no 8x3 variant
	p, err := f.svc.GetObjectPreview(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, vstore.PreviewReturned, p.Outcome)
	assert.Equal(t, descriptors.ImageSize{Width: 8, Height: 4}, decodePreview(t, p))

	// scaled lookup uses the square variant of side max(8, 3)
	p, err = f.svc.GetScaledPreview(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, vstore.PreviewRedirected, p.Outcome)
	assert.Equal(t, variant.PreviewURI, p.RedirectURL)

	req.TemplateCode = codeHeadline
	_, err = f.svc.GetObjectPreview(ctx, req)
	assert.ErrorIs(t, err, vstore.ErrInvalidTemplateCode)

	req.TemplateCode = codeLogo
	req.Width, req.Height = 0, 0
	_, err = f.svc.GetScaledPreview(ctx, req)
	assert.ErrorIs(t, err, vstore.ErrInvalidPreviewRequest)
}
