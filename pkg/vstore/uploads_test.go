package vstore_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-vstore/pkg/vstore"
	"github.com/tendant/simple-vstore/pkg/vstore/descriptors"
	"github.com/tendant/simple-vstore/pkg/vstore/validation"
)

// assertNothingStored checks that a failed upload left no parts or objects behind.
func (f *fixture) assertNothingStored(t *testing.T) {
	t.Helper()
	assert.Zero(t, f.blobs.PendingUploads(), "open multipart uploads")
	assert.Empty(t, f.blobs.Keys(), "committed objects")
}

func TestUploadFile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, setup := f.setup(t)
	data := pngBytes(t, 16, 12)

	info := f.upload(t, setup.ID, codeLogo, "logo.png", data)

	assert.Equal(t, "logo.png", info.Filename)
	assert.Equal(t, int64(len(data)), info.Size)
	assert.Equal(t, "image/png", info.ContentType)
	require.NotNil(t, info.ImageSize)
	assert.Equal(t, descriptors.ImageSize{Width: 16, Height: 12}, *info.ImageSize)
	assert.NotZero(t, info.File.ID)
	assert.Equal(t, "/files/"+info.ID, info.PreviewURI)

	assert.Equal(t, []string{info.ID}, f.blobs.Keys())
	assert.Zero(t, f.blobs.PendingUploads())
	require.Len(t, f.events.uploaded, 1)

	session, err := f.svc.GetSession(ctx, setup.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{codeLogo}, session.UploadedTemplateCodes)

	rc, meta, err := f.svc.DownloadFile(ctx, info.ID)
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Equal(t, int64(len(data)), meta.Size)
}

func TestUploadFile_SplitsIntoParts(t *testing.T) {
	f := newFixture(t, vstore.WithPartSize(100))
	ctx := context.Background()
	_, setup := f.setup(t)
	data := pngBytes(t, 64, 64)
	require.Greater(t, len(data), 300)

	info := f.upload(t, setup.ID, codeLogo, "big.png", data)

	rc, _, err := f.svc.DownloadFile(ctx, info.ID)
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, data, got, "parts must be reassembled in order")
}

func TestUploadFile_FormatMismatch(t *testing.T) {
	f := newFixture(t)
	_, setup := f.setup(t)

	archive := zipBytes(t, map[string]string{"index.html": "<html></html>"})
	_, err := f.svc.UploadFile(context.Background(), vstore.InitiateUploadRequest{
		SessionID:    setup.ID,
		TemplateCode: codeLogo,
	}, sections(file("logo.png", archive)))

	var formatErr *validation.BinaryInvalidFormatError
	assert.ErrorAs(t, err, &formatErr)
	var elementErr *validation.ElementError
	require.ErrorAs(t, err, &elementErr)
	assert.Equal(t, codeLogo, elementErr.TemplateCode)

	f.assertNothingStored(t)
	assert.Equal(t, 1, f.events.abortedCount())
}

func TestUploadFile_UnsupportedExtension(t *testing.T) {
	f := newFixture(t)
	_, setup := f.setup(t)

	_, err := f.svc.UploadFile(context.Background(), vstore.InitiateUploadRequest{
		SessionID:    setup.ID,
		TemplateCode: codeLogo,
	}, sections(file("logo.gif", pngBytes(t, 4, 4))))

	var formatErr *validation.BinaryInvalidFormatError
	assert.ErrorAs(t, err, &formatErr)
	f.assertNothingStored(t)
}

func TestUploadFile_TooLarge(t *testing.T) {
	ctx := context.Background()

	t.Run("declared length", func(t *testing.T) {
		f := newFixture(t)
		_, setup := f.setup(t)
		_, err := f.svc.InitiateMultipartUpload(ctx, vstore.InitiateUploadRequest{
			SessionID:     setup.ID,
			TemplateCode:  codeLogo,
			FileName:      "logo.png",
			ContentLength: maxImageBytes + 1,
		})
		var tooLarge *validation.BinaryTooLargeError
		require.ErrorAs(t, err, &tooLarge)
		assert.Equal(t, int64(maxImageBytes), tooLarge.MaxSize)
		f.assertNothingStored(t)
	})

	t.Run("streamed length", func(t *testing.T) {
		f := newFixture(t, vstore.WithPartSize(64<<10))
		_, setup := f.setup(t)
		data := append(pngBytes(t, 8, 8), make([]byte, maxImageBytes)...)

		_, err := f.svc.UploadFile(ctx, vstore.InitiateUploadRequest{
			SessionID:     setup.ID,
			TemplateCode:  codeLogo,
			ContentLength: -1,
		}, sections(file("logo.png", data)))

		var tooLarge *validation.BinaryTooLargeError
		require.ErrorAs(t, err, &tooLarge)
		assert.Greater(t, tooLarge.Actual, int64(maxImageBytes))
		f.assertNothingStored(t)
	})
}

func TestUploadFile_Empty(t *testing.T) {
	f := newFixture(t)
	_, setup := f.setup(t)

	_, err := f.svc.UploadFile(context.Background(), vstore.InitiateUploadRequest{
		SessionID:    setup.ID,
		TemplateCode: codeLogo,
	}, sections(file("logo.png", nil)))

	var empty *validation.BinaryEmptyError
	assert.ErrorAs(t, err, &empty)
	f.assertNothingStored(t)
}

func TestUploadFile_RequestShape(t *testing.T) {
	ctx := context.Background()
	req := func(setup *vstore.SessionSetupContext) vstore.InitiateUploadRequest {
		return vstore.InitiateUploadRequest{SessionID: setup.ID, TemplateCode: codeLogo}
	}

	t.Run("no sections", func(t *testing.T) {
		f := newFixture(t)
		_, setup := f.setup(t)
		_, err := f.svc.UploadFile(ctx, req(setup), sections())
		assert.ErrorIs(t, err, vstore.ErrEmptyUpload)
		f.assertNothingStored(t)
	})

	t.Run("second file", func(t *testing.T) {
		f := newFixture(t)
		_, setup := f.setup(t)
		_, err := f.svc.UploadFile(ctx, req(setup), sections(
			file("a.png", pngBytes(t, 4, 4)),
			file("b.png", pngBytes(t, 4, 4)),
		))
		assert.ErrorIs(t, err, vstore.ErrMultipleFiles)
		f.assertNothingStored(t)
	})

	t.Run("form field", func(t *testing.T) {
		f := newFixture(t)
		_, setup := f.setup(t)
		_, err := f.svc.UploadFile(ctx, req(setup), sections(
			&vstore.FileSection{Body: strings.NewReader("value")},
		))
		assert.ErrorIs(t, err, vstore.ErrNonFileSection)
		f.assertNothingStored(t)
	})

	t.Run("form field after file", func(t *testing.T) {
		f := newFixture(t)
		_, setup := f.setup(t)
		_, err := f.svc.UploadFile(ctx, req(setup), sections(
			file("a.png", pngBytes(t, 4, 4)),
			&vstore.FileSection{Body: strings.NewReader("value")},
		))
		assert.ErrorIs(t, err, vstore.ErrNonFileSection)
		f.assertNothingStored(t)
	})

	t.Run("iterator failure", func(t *testing.T) {
		f := newFixture(t)
		_, setup := f.setup(t)
		boom := errors.New("malformed multipart body")
		_, err := f.svc.UploadFile(ctx, req(setup), failingSections{err: boom})
		assert.ErrorIs(t, err, boom)
	})
}

type failingSections struct{ err error }

func (s failingSections) Next() (*vstore.FileSection, error) { return nil, s.err }

func TestUploadFile_InvalidTemplateCode(t *testing.T) {
	f := newFixture(t)
	_, setup := f.setup(t)

	for _, code := range []int{codeHeadline, 42} {
		_, err := f.svc.UploadFile(context.Background(), vstore.InitiateUploadRequest{
			SessionID:    setup.ID,
			TemplateCode: code,
		}, sections(file("a.png", pngBytes(t, 4, 4))))
		assert.ErrorIs(t, err, vstore.ErrInvalidTemplateCode, "code %d", code)
	}
	f.assertNothingStored(t)
}

func TestUploadFile_ExpiredSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, setup := f.setup(t)

	upload, err := f.svc.InitiateMultipartUpload(ctx, vstore.InitiateUploadRequest{
		SessionID:    setup.ID,
		TemplateCode: codeLogo,
		FileName:     "logo.png",
	})
	require.NoError(t, err)

	f.clock.Advance(2 * time.Hour)
	err = f.svc.UploadFilePart(ctx, upload, bytes.NewReader(pngBytes(t, 4, 4)), codeLogo)
	assert.ErrorIs(t, err, vstore.ErrSessionNotFound)
	assert.False(t, upload.IsOpen())
	f.assertNothingStored(t)

	_, err = f.svc.UploadFile(ctx, vstore.InitiateUploadRequest{
		SessionID:    setup.ID,
		TemplateCode: codeLogo,
	}, sections(file("logo.png", pngBytes(t, 4, 4))))
	assert.ErrorIs(t, err, vstore.ErrSessionNotFound)
}

func TestMultipartUpload_Lifecycle(t *testing.T) {
	f := newFixture(t, vstore.WithPartSize(128))
	ctx := context.Background()
	_, setup := f.setup(t)
	data := pngBytes(t, 32, 32)

	upload, err := f.svc.InitiateMultipartUpload(ctx, vstore.InitiateUploadRequest{
		SessionID:     setup.ID,
		TemplateCode:  codeLogo,
		FileName:      "logo.png",
		ContentLength: int64(len(data)),
	})
	require.NoError(t, err)
	assert.True(t, upload.IsOpen())

	half := len(data) / 2
	require.NoError(t, f.svc.UploadFilePart(ctx, upload, bytes.NewReader(data[:half]), codeLogo))
	require.NoError(t, f.svc.UploadFilePart(ctx, upload, bytes.NewReader(data[half:]), codeLogo))
	assert.Equal(t, int64(len(data)), upload.BytesReceived())

	err = f.svc.UploadFilePart(ctx, upload, bytes.NewReader(nil), codeBanner)
	assert.ErrorIs(t, err, vstore.ErrInvalidTemplateCode)
	assert.False(t, upload.IsOpen(), "a failed step aborts the upload")

	f.assertNothingStored(t)
	_, err = f.svc.CompleteMultipartUpload(ctx, upload, codeLogo)
	assert.ErrorIs(t, err, vstore.ErrUploadClosed)
	assert.NoError(t, f.svc.AbortMultipartUpload(ctx, upload), "abort is idempotent")
}

func TestMultipartUpload_Complete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, setup := f.setup(t)

	upload, err := f.svc.InitiateMultipartUpload(ctx, vstore.InitiateUploadRequest{
		SessionID:    setup.ID,
		TemplateCode: codeLogo,
		FileName:     "logo.png",
	})
	require.NoError(t, err)
	require.NoError(t, f.svc.UploadFilePart(ctx, upload, bytes.NewReader(pngBytes(t, 20, 20)), codeLogo))

	info, err := f.svc.CompleteMultipartUpload(ctx, upload, codeLogo)
	require.NoError(t, err)
	assert.Equal(t, upload.Key, info.ID)

	_, err = f.svc.CompleteMultipartUpload(ctx, upload, codeLogo)
	assert.ErrorIs(t, err, vstore.ErrUploadClosed)
	assert.NoError(t, f.svc.AbortMultipartUpload(ctx, upload))
	assert.Equal(t, []string{info.ID}, f.blobs.Keys(), "abort after completion keeps the blob")
}

func TestUploadFile_CanceledContext(t *testing.T) {
	f := newFixture(t)
	_, setup := f.setup(t)
	ctx, cancel := context.WithCancel(context.Background())

	upload, err := f.svc.InitiateMultipartUpload(ctx, vstore.InitiateUploadRequest{
		SessionID:    setup.ID,
		TemplateCode: codeLogo,
		FileName:     "logo.png",
	})
	require.NoError(t, err)
	cancel()

	err = f.svc.UploadFilePart(ctx, upload, bytes.NewReader(pngBytes(t, 4, 4)), codeLogo)
	assert.ErrorIs(t, err, context.Canceled)
	f.assertNothingStored(t)
}

func TestUploadFile_SizeSpecificImage(t *testing.T) {
	ctx := context.Background()
	req := func(setup *vstore.SessionSetupContext) vstore.InitiateUploadRequest {
		return vstore.InitiateUploadRequest{
			SessionID:    setup.ID,
			TemplateCode: codeBanner,
			FileType:     vstore.FileTypeSizeSpecificImage,
			ImageSize:    descriptors.ImageSize{Width: 24, Height: 24},
		}
	}

	t.Run("matching variant", func(t *testing.T) {
		f := newFixture(t)
		_, setup := f.setup(t)
		info, err := f.svc.UploadFile(ctx, req(setup), sections(file("v.png", pngBytes(t, 24, 24))))
		require.NoError(t, err)
		assert.Contains(t, info.ID, "/24x24/")
		assert.Equal(t, descriptors.ImageSize{Width: 24, Height: 24}, *info.ImageSize)
	})

	t.Run("wrong size", func(t *testing.T) {
		f := newFixture(t)
		_, setup := f.setup(t)
		_, err := f.svc.UploadFile(ctx, req(setup), sections(file("v.png", pngBytes(t, 16, 16))))
		var sizeErr *validation.SizeSpecificImageTargetSizeNotEqualToActualSizeError
		require.ErrorAs(t, err, &sizeErr)
		assert.Equal(t, descriptors.ImageSize{Width: 16, Height: 16}, sizeErr.Actual)
		f.assertNothingStored(t)
	})

	t.Run("not square", func(t *testing.T) {
		f := newFixture(t)
		_, setup := f.setup(t)
		_, err := f.svc.UploadFile(ctx, req(setup), sections(file("v.png", pngBytes(t, 24, 12))))
		var squareErr *validation.SizeSpecificImageIsNotSquareError
		assert.ErrorAs(t, err, &squareErr)
		f.assertNothingStored(t)
	})

	t.Run("only for composite images", func(t *testing.T) {
		f := newFixture(t)
		_, setup := f.setup(t)
		r := req(setup)
		r.TemplateCode = codeLogo
		_, err := f.svc.UploadFile(ctx, r, sections(file("v.png", pngBytes(t, 24, 24))))
		assert.ErrorIs(t, err, vstore.ErrInvalidUploadRequest)
	})
}

func TestUploadFile_Article(t *testing.T) {
	ctx := context.Background()
	req := func(setup *vstore.SessionSetupContext) vstore.InitiateUploadRequest {
		return vstore.InitiateUploadRequest{SessionID: setup.ID, TemplateCode: codeArticle}
	}

	t.Run("with index", func(t *testing.T) {
		f := newFixture(t)
		_, setup := f.setup(t)
		archive := zipBytes(t, map[string]string{"index.html": "<p>hi</p>", "img/a.png": "x"})
		info, err := f.svc.UploadFile(ctx, req(setup), sections(file("promo.zip", archive)))
		require.NoError(t, err)
		assert.Equal(t, "application/zip", info.ContentType)
		assert.Nil(t, info.ImageSize)
	})

	t.Run("without index", func(t *testing.T) {
		f := newFixture(t)
		_, setup := f.setup(t)
		archive := zipBytes(t, map[string]string{"page.html": "<p>hi</p>"})
		_, err := f.svc.UploadFile(ctx, req(setup), sections(file("promo.zip", archive)))
		var indexErr *validation.ArticleIndexMissingError
		assert.ErrorAs(t, err, &indexErr)
		f.assertNothingStored(t)
	})

	t.Run("long file name", func(t *testing.T) {
		f := newFixture(t)
		_, setup := f.setup(t)
		archive := zipBytes(t, map[string]string{"index.html": "<p>hi</p>"})
		name := strings.Repeat("a", 40) + ".zip"
		_, err := f.svc.UploadFile(ctx, req(setup), sections(file(name, archive)))
		var nameErr *validation.FilenameTooLongError
		assert.ErrorAs(t, err, &nameErr)
		f.assertNothingStored(t)
	})
}
