package memory_test

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-vstore/pkg/vstore"
	memorystorage "github.com/tendant/simple-vstore/pkg/vstore/storage/memory"
)

func TestMemoryBackend(t *testing.T) {
	backend := memorystorage.New()
	ctx := context.Background()
	testKey := "test/object/key"

	t.Run("MultipartUpload", func(t *testing.T) {
		upload, err := backend.InitiateMultipartUpload(ctx, vstore.UploadParams{ObjectKey: testKey, MimeType: "text/plain"})
		require.NoError(t, err)
		assert.Equal(t, 1, backend.PendingUploads())

		p2, err := backend.UploadPart(ctx, upload, 2, strings.NewReader(" world"), 6)
		require.NoError(t, err)
		p1, err := backend.UploadPart(ctx, upload, 1, strings.NewReader("hello"), 5)
		require.NoError(t, err)

		meta, err := backend.CompleteMultipartUpload(ctx, upload, []vstore.CompletedPart{*p2, *p1})
		require.NoError(t, err)
		assert.Equal(t, int64(11), meta.Size)
		assert.Equal(t, "text/plain", meta.ContentType)
		assert.Equal(t, 0, backend.PendingUploads())
	})

	t.Run("Download", func(t *testing.T) {
		reader, err := backend.Download(ctx, testKey)
		require.NoError(t, err)
		defer reader.Close()

		data, err := io.ReadAll(reader)
		require.NoError(t, err)
		assert.Equal(t, "hello world", string(data))
	})

	t.Run("Exists", func(t *testing.T) {
		ok, err := backend.Exists(ctx, testKey)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = backend.Exists(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("AbortLeavesNothing", func(t *testing.T) {
		upload, err := backend.InitiateMultipartUpload(ctx, vstore.UploadParams{ObjectKey: "aborted"})
		require.NoError(t, err)
		_, err = backend.UploadPart(ctx, upload, 1, strings.NewReader("data"), 4)
		require.NoError(t, err)

		require.NoError(t, backend.AbortMultipartUpload(ctx, upload))
		assert.Equal(t, 0, backend.PendingUploads())
		assert.NotContains(t, backend.Keys(), "aborted")

		err = backend.AbortMultipartUpload(ctx, upload)
		assert.ErrorIs(t, err, vstore.ErrBlobNotFound)
	})

	t.Run("PartSizeMismatch", func(t *testing.T) {
		upload, err := backend.InitiateMultipartUpload(ctx, vstore.UploadParams{ObjectKey: "short"})
		require.NoError(t, err)
		_, err = backend.UploadPart(ctx, upload, 1, strings.NewReader("abc"), 4)
		assert.Error(t, err)
		require.NoError(t, backend.AbortMultipartUpload(ctx, upload))
	})

	t.Run("Delete", func(t *testing.T) {
		backend.Put("to-delete", "text/plain", []byte("x"))
		require.NoError(t, backend.Delete(ctx, "to-delete"))

		_, err := backend.GetObjectMeta(ctx, "to-delete")
		assert.ErrorIs(t, err, vstore.ErrBlobNotFound)
		assert.ErrorIs(t, backend.Delete(ctx, "to-delete"), vstore.ErrBlobNotFound)
	})
}
