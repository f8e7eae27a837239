// Package repotest holds the behaviour every vstore.Repository implementation must share.
package repotest

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-vstore/pkg/vstore"
)

// Run exercises newRepo against the versioning and session contract. newRepo must
// return an empty repository.
func Run(t *testing.T, newRepo func(t *testing.T) vstore.Repository) {
	ctx := context.Background()

	t.Run("CreateVersionMintsIDs", func(t *testing.T) {
		repo := newRepo(t)
		first, err := repo.CreateVersion(ctx, vstore.CreateVersionParams{Kind: vstore.KindObject, Payload: []byte(`{"n":1}`)})
		require.NoError(t, err)
		second, err := repo.CreateVersion(ctx, vstore.CreateVersionParams{Kind: vstore.KindObject, Payload: []byte(`{"n":2}`)})
		require.NoError(t, err)

		assert.NotZero(t, first.Descriptor.ID)
		assert.NotEqual(t, first.Descriptor.ID, second.Descriptor.ID)
		assert.NotEmpty(t, first.Descriptor.VersionID)
		assert.False(t, first.Descriptor.Equal(second.Descriptor))
	})

	t.Run("AppendWithExpectedVersion", func(t *testing.T) {
		repo := newRepo(t)
		v1, err := repo.CreateVersion(ctx, vstore.CreateVersionParams{Kind: vstore.KindTemplate, Payload: []byte(`{"v":1}`)})
		require.NoError(t, err)

		// versions compare case-insensitively
		v2, err := repo.CreateVersion(ctx, vstore.CreateVersionParams{
			Kind:              vstore.KindTemplate,
			ID:                v1.Descriptor.ID,
			ExpectedVersionID: strings.ToUpper(v1.Descriptor.VersionID),
			Payload:           []byte(`{"v":2}`),
		})
		require.NoError(t, err)
		assert.Equal(t, v1.Descriptor.ID, v2.Descriptor.ID)
		assert.NotEqual(t, v1.Descriptor.VersionID, v2.Descriptor.VersionID)
		assert.False(t, v2.Descriptor.LastModified.Before(v1.Descriptor.LastModified))

		_, err = repo.CreateVersion(ctx, vstore.CreateVersionParams{
			Kind:              vstore.KindTemplate,
			ID:                v1.Descriptor.ID,
			ExpectedVersionID: v1.Descriptor.VersionID,
			Payload:           []byte(`{"v":3}`),
		})
		assert.ErrorIs(t, err, vstore.ErrConcurrentModification)
		assert.NotErrorIs(t, err, vstore.ErrObjectNotFound)

		latest, err := repo.GetVersion(ctx, vstore.KindTemplate, v1.Descriptor.ID, "")
		require.NoError(t, err)
		assert.True(t, latest.Descriptor.Equal(v2.Descriptor))
		assert.JSONEq(t, `{"v":2}`, string(latest.Payload))

		old, err := repo.GetVersion(ctx, vstore.KindTemplate, v1.Descriptor.ID, v1.Descriptor.VersionID)
		require.NoError(t, err)
		assert.JSONEq(t, `{"v":1}`, string(old.Payload))
	})

	t.Run("ExpectedVersionOnMissingID", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.CreateVersion(ctx, vstore.CreateVersionParams{
			Kind:              vstore.KindObject,
			ID:                4242,
			ExpectedVersionID: "c0ffee",
			Payload:           []byte(`{}`),
		})
		assert.ErrorIs(t, err, vstore.ErrObjectNotFound)
	})

	t.Run("ExplicitIDWithoutHistory", func(t *testing.T) {
		repo := newRepo(t)
		doc, err := repo.CreateVersion(ctx, vstore.CreateVersionParams{Kind: vstore.KindObject, ID: 77, Payload: []byte(`{}`)})
		require.NoError(t, err)
		assert.Equal(t, int64(77), doc.Descriptor.ID)

		next, err := repo.CreateVersion(ctx, vstore.CreateVersionParams{Kind: vstore.KindObject, Payload: []byte(`{}`)})
		require.NoError(t, err)
		assert.NotEqual(t, int64(77), next.Descriptor.ID)
	})

	t.Run("GetVersionNotFound", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.GetVersion(ctx, vstore.KindObject, 1, "")
		assert.ErrorIs(t, err, vstore.ErrObjectNotFound)

		doc, err := repo.CreateVersion(ctx, vstore.CreateVersionParams{Kind: vstore.KindObject, Payload: []byte(`{}`)})
		require.NoError(t, err)
		_, err = repo.GetVersion(ctx, vstore.KindObject, doc.Descriptor.ID, "unknown")
		assert.ErrorIs(t, err, vstore.ErrObjectNotFound)

		// kinds have separate id spaces
		_, err = repo.GetVersion(ctx, vstore.KindTemplate, doc.Descriptor.ID, "")
		assert.ErrorIs(t, err, vstore.ErrObjectNotFound)
	})

	t.Run("GetFileByKey", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.GetFileByKey(ctx, "uploads/logo.png")
		assert.ErrorIs(t, err, vstore.ErrObjectNotFound)

		_, err = repo.CreateVersion(ctx, vstore.CreateVersionParams{Kind: vstore.KindFile, Payload: []byte(`{"key":"uploads/other.png"}`), BlobKey: "uploads/other.png"})
		require.NoError(t, err)
		doc, err := repo.CreateVersion(ctx, vstore.CreateVersionParams{Kind: vstore.KindFile, Payload: []byte(`{"key":"uploads/logo.png"}`), BlobKey: "uploads/logo.png"})
		require.NoError(t, err)

		got, err := repo.GetFileByKey(ctx, "uploads/logo.png")
		require.NoError(t, err)
		assert.Equal(t, vstore.KindFile, got.Kind)
		assert.True(t, got.Descriptor.Equal(doc.Descriptor))
		assert.JSONEq(t, `{"key":"uploads/logo.png"}`, string(got.Payload))

		// documents without a blob key are not indexed
		_, err = repo.CreateVersion(ctx, vstore.CreateVersionParams{Kind: vstore.KindObject, Payload: []byte(`{}`)})
		require.NoError(t, err)
		_, err = repo.GetFileByKey(ctx, "")
		assert.ErrorIs(t, err, vstore.ErrObjectNotFound)
	})

	t.Run("ListVersionsOldestFirst", func(t *testing.T) {
		repo := newRepo(t)
		doc, err := repo.CreateVersion(ctx, vstore.CreateVersionParams{Kind: vstore.KindObject, Payload: []byte(`{}`)})
		require.NoError(t, err)
		expected := []vstore.VersionDescriptor{doc.Descriptor}
		for i := 0; i < 3; i++ {
			doc, err = repo.CreateVersion(ctx, vstore.CreateVersionParams{
				Kind:              vstore.KindObject,
				ID:                doc.Descriptor.ID,
				ExpectedVersionID: doc.Descriptor.VersionID,
				Payload:           []byte(`{}`),
			})
			require.NoError(t, err)
			expected = append(expected, doc.Descriptor)
		}

		versions, err := repo.ListVersions(ctx, vstore.KindObject, doc.Descriptor.ID)
		require.NoError(t, err)
		require.Len(t, versions, len(expected))
		for i := range expected {
			assert.True(t, expected[i].Equal(versions[i]), "version %d", i)
			if i > 0 {
				assert.False(t, versions[i].LastModified.Before(versions[i-1].LastModified))
			}
		}

		_, err = repo.ListVersions(ctx, vstore.KindObject, doc.Descriptor.ID+100)
		assert.ErrorIs(t, err, vstore.ErrObjectNotFound)
	})

	t.Run("ConcurrentWritersConflict", func(t *testing.T) {
		repo := newRepo(t)
		base, err := repo.CreateVersion(ctx, vstore.CreateVersionParams{Kind: vstore.KindObject, Payload: []byte(`{}`)})
		require.NoError(t, err)

		const writers = 8
		var wg sync.WaitGroup
		var succeeded, conflicted atomic.Int32
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := repo.CreateVersion(ctx, vstore.CreateVersionParams{
					Kind:              vstore.KindObject,
					ID:                base.Descriptor.ID,
					ExpectedVersionID: base.Descriptor.VersionID,
					Payload:           []byte(`{}`),
				})
				switch {
				case err == nil:
					succeeded.Add(1)
				case assert.ErrorIs(t, err, vstore.ErrConcurrentModification):
					conflicted.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), succeeded.Load())
		assert.Equal(t, int32(writers-1), conflicted.Load())
	})

	t.Run("Sessions", func(t *testing.T) {
		repo := newRepo(t)
		now := time.Now().UTC().Truncate(time.Second)
		live := &vstore.Session{
			ID:                uuid.New(),
			TemplateID:        1,
			TemplateVersionID: "v1",
			Language:          "en",
			CreatedAt:         now,
			ExpiresAt:         now.Add(time.Hour),
		}
		expired := &vstore.Session{
			ID:                uuid.New(),
			TemplateID:        1,
			TemplateVersionID: "v1",
			Language:          "en",
			CreatedAt:         now.Add(-2 * time.Hour),
			ExpiresAt:         now.Add(-time.Hour),
		}
		require.NoError(t, repo.CreateSession(ctx, live))
		require.NoError(t, repo.CreateSession(ctx, expired))

		got, err := repo.GetSession(ctx, live.ID)
		require.NoError(t, err)
		assert.Equal(t, live.TemplateVersionID, got.TemplateVersionID)
		assert.True(t, live.ExpiresAt.Equal(got.ExpiresAt))

		require.NoError(t, repo.AddSessionUpload(ctx, live.ID, 3))
		require.NoError(t, repo.AddSessionUpload(ctx, live.ID, 1))
		require.NoError(t, repo.AddSessionUpload(ctx, live.ID, 3))
		got, err = repo.GetSession(ctx, live.ID)
		require.NoError(t, err)
		assert.Equal(t, []int{1, 3}, got.UploadedTemplateCodes)

		assert.ErrorIs(t, repo.AddSessionUpload(ctx, uuid.New(), 1), vstore.ErrSessionNotFound)
		_, err = repo.GetSession(ctx, uuid.New())
		assert.ErrorIs(t, err, vstore.ErrSessionNotFound)

		deleted, err := repo.DeleteExpiredSessions(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, 1, deleted)
		_, err = repo.GetSession(ctx, expired.ID)
		assert.ErrorIs(t, err, vstore.ErrSessionNotFound)
		_, err = repo.GetSession(ctx, live.ID)
		assert.NoError(t, err)
	})
}
