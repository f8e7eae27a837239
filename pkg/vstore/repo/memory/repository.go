package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/xid"

	"github.com/tendant/simple-vstore/pkg/vstore"
)

type docKey struct {
	kind vstore.DocumentKind
	id   int64
}

// Repository implements vstore.Repository using in-memory storage
type Repository struct {
	mu       sync.RWMutex
	now      func() time.Time
	nextID   map[vstore.DocumentKind]int64
	versions map[docKey][]*vstore.Document // oldest first
	fileKeys map[string]int64
	sessions map[uuid.UUID]*vstore.Session
}

// Option configures the repository
type Option func(*Repository)

// WithClock replaces time.Now for version timestamps
func WithClock(now func() time.Time) Option {
	return func(r *Repository) {
		r.now = now
	}
}

// New creates a new in-memory repository
func New(options ...Option) *Repository {
	r := &Repository{
		now:      time.Now,
		nextID:   make(map[vstore.DocumentKind]int64),
		versions: make(map[docKey][]*vstore.Document),
		fileKeys: make(map[string]int64),
		sessions: make(map[uuid.UUID]*vstore.Session),
	}
	for _, option := range options {
		option(r)
	}
	return r
}

// Document operations

func (r *Repository) CreateVersion(ctx context.Context, params vstore.CreateVersionParams) (*vstore.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := params.ID
	if id == 0 {
		if params.ExpectedVersionID != "" {
			return nil, fmt.Errorf("expected version requires an id")
		}
		r.nextID[params.Kind]++
		id = r.nextID[params.Kind]
	}
	key := docKey{kind: params.Kind, id: id}
	history := r.versions[key]
	if params.BlobKey != "" {
		if owner, ok := r.fileKeys[params.BlobKey]; ok && owner != id {
			return nil, fmt.Errorf("blob key %s is already recorded", params.BlobKey)
		}
	}

	lastModified := r.now().UTC()
	if len(history) == 0 {
		if params.ExpectedVersionID != "" {
			return nil, vstore.ErrObjectNotFound
		}
		// keep minted ids ahead of explicitly chosen ones
		if id > r.nextID[params.Kind] {
			r.nextID[params.Kind] = id
		}
	} else {
		latest := history[len(history)-1].Descriptor
		if params.ExpectedVersionID != "" && !strings.EqualFold(latest.VersionID, params.ExpectedVersionID) {
			return nil, vstore.ErrConcurrentModification
		}
		if latest.LastModified.After(lastModified) {
			lastModified = latest.LastModified
		}
	}

	doc := &vstore.Document{
		Kind: params.Kind,
		Descriptor: vstore.VersionDescriptor{
			ID:           id,
			VersionID:    xid.New().String(),
			LastModified: lastModified,
		},
		Payload: slices.Clone(params.Payload),
	}
	r.versions[key] = append(history, doc)
	if params.BlobKey != "" {
		r.fileKeys[params.BlobKey] = id
	}
	return copyDocument(doc), nil
}

func (r *Repository) GetFileByKey(ctx context.Context, blobKey string) (*vstore.Document, error) {
	r.mu.RLock()
	id, ok := r.fileKeys[blobKey]
	r.mu.RUnlock()
	if !ok {
		return nil, vstore.ErrObjectNotFound
	}
	return r.GetVersion(ctx, vstore.KindFile, id, "")
}

func (r *Repository) GetVersion(ctx context.Context, kind vstore.DocumentKind, id int64, versionID string) (*vstore.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	history := r.versions[docKey{kind: kind, id: id}]
	if len(history) == 0 {
		return nil, vstore.ErrObjectNotFound
	}
	if versionID == "" {
		return copyDocument(history[len(history)-1]), nil
	}
	for _, doc := range history {
		if strings.EqualFold(doc.Descriptor.VersionID, versionID) {
			return copyDocument(doc), nil
		}
	}
	return nil, vstore.ErrObjectNotFound
}

func (r *Repository) ListVersions(ctx context.Context, kind vstore.DocumentKind, id int64) ([]vstore.VersionDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	history := r.versions[docKey{kind: kind, id: id}]
	if len(history) == 0 {
		return nil, vstore.ErrObjectNotFound
	}
	out := make([]vstore.VersionDescriptor, len(history))
	for i, doc := range history {
		out[i] = doc.Descriptor
	}
	return out, nil
}

// Session operations

func (r *Repository) CreateSession(ctx context.Context, session *vstore.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[session.ID]; exists {
		return fmt.Errorf("session %s already exists", session.ID)
	}
	r.sessions[session.ID] = copySession(session)
	return nil
}

func (r *Repository) GetSession(ctx context.Context, id uuid.UUID) (*vstore.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, exists := r.sessions[id]
	if !exists {
		return nil, vstore.ErrSessionNotFound
	}
	return copySession(session), nil
}

func (r *Repository) AddSessionUpload(ctx context.Context, id uuid.UUID, templateCode int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, exists := r.sessions[id]
	if !exists {
		return vstore.ErrSessionNotFound
	}
	if !slices.Contains(session.UploadedTemplateCodes, templateCode) {
		session.UploadedTemplateCodes = append(session.UploadedTemplateCodes, templateCode)
		slices.Sort(session.UploadedTemplateCodes)
	}
	return nil
}

func (r *Repository) DeleteExpiredSessions(ctx context.Context, before time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	deleted := 0
	for id, session := range r.sessions {
		if session.ExpiresAt.Before(before) {
			delete(r.sessions, id)
			deleted++
		}
	}
	return deleted, nil
}

func copyDocument(doc *vstore.Document) *vstore.Document {
	c := *doc
	c.Payload = slices.Clone(doc.Payload)
	return &c
}

func copySession(session *vstore.Session) *vstore.Session {
	c := *session
	c.UploadedTemplateCodes = slices.Clone(session.UploadedTemplateCodes)
	return &c
}
