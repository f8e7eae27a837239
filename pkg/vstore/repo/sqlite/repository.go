// Package sqlite implements vstore.Repository on an embedded SQLite database.
// All statements go through a single connection, which serializes writers.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/xid"
	_ "modernc.org/sqlite"

	"github.com/tendant/simple-vstore/pkg/vstore"
	"github.com/tendant/simple-vstore/pkg/vstore/descriptors"
	"github.com/tendant/simple-vstore/pkg/vstore/repo/migrations"
)

// Repository implements vstore.Repository using SQLite
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path, applies migrations and
// returns a repository over it.
func Open(ctx context.Context, path string) (*Repository, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := migrations.Up(ctx, db, migrations.SQLite); err != nil {
		db.Close()
		return nil, err
	}
	return New(db), nil
}

// New wraps an already migrated database
func New(db *sql.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// Close closes the underlying database
func (r *Repository) Close() error {
	return r.db.Close()
}

// DB exposes the handle for tooling such as migrations
func (r *Repository) DB() *sql.DB {
	return r.db
}

func (r *Repository) handleSQLiteError(operation string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return vstore.ErrObjectNotFound
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%s: duplicate entry", operation)
	}
	return fmt.Errorf("database error in %s: %w", operation, err)
}

// Document operations

func (r *Repository) CreateVersion(ctx context.Context, params vstore.CreateVersionParams) (*vstore.Document, error) {
	if params.ID == 0 && params.ExpectedVersionID != "" {
		return nil, fmt.Errorf("expected version requires an id")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, r.handleSQLiteError("begin", err)
	}
	defer tx.Rollback()

	id := params.ID
	if id == 0 {
		err = tx.QueryRowContext(ctx, `
			INSERT INTO document_ids (kind, next_id) VALUES (?, 1)
			ON CONFLICT (kind) DO UPDATE SET next_id = document_ids.next_id + 1
			RETURNING next_id`, params.Kind).Scan(&id)
		if err != nil {
			return nil, r.handleSQLiteError("mint id", err)
		}
	}

	var (
		seq          int
		latestID     string
		lastModified int64
	)
	err = tx.QueryRowContext(ctx, `
		SELECT seq, version_id, last_modified FROM documents
		WHERE kind = ? AND id = ? ORDER BY seq DESC LIMIT 1`, params.Kind, id).
		Scan(&seq, &latestID, &lastModified)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if params.ExpectedVersionID != "" {
			return nil, vstore.ErrObjectNotFound
		}
		if params.ID != 0 {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO document_ids (kind, next_id) VALUES (?, ?)
				ON CONFLICT (kind) DO UPDATE SET next_id = max(document_ids.next_id, excluded.next_id)`,
				params.Kind, id)
			if err != nil {
				return nil, r.handleSQLiteError("reserve id", err)
			}
		}
	case err != nil:
		return nil, r.handleSQLiteError("read head", err)
	default:
		if params.ExpectedVersionID != "" && !strings.EqualFold(latestID, params.ExpectedVersionID) {
			return nil, vstore.ErrConcurrentModification
		}
	}

	modified := r.now().UTC()
	if prev := time.Unix(0, lastModified).UTC(); seq > 0 && prev.After(modified) {
		modified = prev
	}
	doc := &vstore.Document{
		Kind: params.Kind,
		Descriptor: vstore.VersionDescriptor{
			ID:           id,
			VersionID:    xid.New().String(),
			LastModified: modified,
		},
		Payload: params.Payload,
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (kind, id, seq, version_id, last_modified, payload)
		VALUES (?, ?, ?, ?, ?, ?)`,
		params.Kind, id, seq+1, doc.Descriptor.VersionID, modified.UnixNano(), params.Payload)
	if err != nil {
		return nil, r.handleSQLiteError("create version", err)
	}
	if params.BlobKey != "" {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO file_keys (blob_key, id) VALUES (?, ?)
			ON CONFLICT (blob_key) DO NOTHING`, params.BlobKey, id)
		if err != nil {
			return nil, r.handleSQLiteError("index file", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, r.handleSQLiteError("commit", err)
	}
	return doc, nil
}

func (r *Repository) GetVersion(ctx context.Context, kind vstore.DocumentKind, id int64, versionID string) (*vstore.Document, error) {
	query := `SELECT version_id, last_modified, payload FROM documents WHERE kind = ? AND id = ?`
	args := []any{kind, id}
	if versionID == "" {
		query += ` ORDER BY seq DESC LIMIT 1`
	} else {
		query += ` AND version_id = ?` // NOCASE column
		args = append(args, versionID)
	}

	doc := &vstore.Document{Kind: kind}
	var lastModified int64
	err := r.db.QueryRowContext(ctx, query, args...).
		Scan(&doc.Descriptor.VersionID, &lastModified, &doc.Payload)
	if err != nil {
		return nil, r.handleSQLiteError("get version", err)
	}
	doc.Descriptor.ID = id
	doc.Descriptor.LastModified = time.Unix(0, lastModified).UTC()
	return doc, nil
}

func (r *Repository) GetFileByKey(ctx context.Context, blobKey string) (*vstore.Document, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, `SELECT id FROM file_keys WHERE blob_key = ?`, blobKey).Scan(&id)
	if err != nil {
		return nil, r.handleSQLiteError("get file by key", err)
	}
	return r.GetVersion(ctx, vstore.KindFile, id, "")
}

func (r *Repository) ListVersions(ctx context.Context, kind vstore.DocumentKind, id int64) ([]vstore.VersionDescriptor, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT version_id, last_modified FROM documents
		WHERE kind = ? AND id = ? ORDER BY seq`, kind, id)
	if err != nil {
		return nil, r.handleSQLiteError("list versions", err)
	}
	defer rows.Close()

	var versions []vstore.VersionDescriptor
	for rows.Next() {
		v := vstore.VersionDescriptor{ID: id}
		var lastModified int64
		if err := rows.Scan(&v.VersionID, &lastModified); err != nil {
			return nil, r.handleSQLiteError("scan version", err)
		}
		v.LastModified = time.Unix(0, lastModified).UTC()
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, r.handleSQLiteError("list versions", err)
	}
	if len(versions) == 0 {
		return nil, vstore.ErrObjectNotFound
	}
	return versions, nil
}

// Session operations

func (r *Repository) CreateSession(ctx context.Context, session *vstore.Session) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, template_id, template_version_id, language, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		session.ID.String(), session.TemplateID, session.TemplateVersionID, string(session.Language),
		session.CreatedAt.UnixNano(), session.ExpiresAt.UnixNano())
	if err != nil {
		return r.handleSQLiteError("create session", err)
	}
	for _, code := range session.UploadedTemplateCodes {
		if err := r.AddSessionUpload(ctx, session.ID, code); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) GetSession(ctx context.Context, id uuid.UUID) (*vstore.Session, error) {
	session := &vstore.Session{ID: id}
	var (
		language           string
		created, expiresAt int64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT template_id, template_version_id, language, created_at, expires_at
		FROM sessions WHERE id = ?`, id.String()).
		Scan(&session.TemplateID, &session.TemplateVersionID, &language, &created, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, vstore.ErrSessionNotFound
	}
	if err != nil {
		return nil, r.handleSQLiteError("get session", err)
	}
	session.Language = descriptors.Language(language)
	session.CreatedAt = time.Unix(0, created).UTC()
	session.ExpiresAt = time.Unix(0, expiresAt).UTC()

	rows, err := r.db.QueryContext(ctx, `
		SELECT template_code FROM session_uploads WHERE session_id = ? ORDER BY template_code`, id.String())
	if err != nil {
		return nil, r.handleSQLiteError("get session uploads", err)
	}
	defer rows.Close()
	for rows.Next() {
		var code int
		if err := rows.Scan(&code); err != nil {
			return nil, r.handleSQLiteError("scan session upload", err)
		}
		session.UploadedTemplateCodes = append(session.UploadedTemplateCodes, code)
	}
	return session, rows.Err()
}

func (r *Repository) AddSessionUpload(ctx context.Context, id uuid.UUID, templateCode int) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO session_uploads (session_id, template_code)
		SELECT id, ? FROM sessions WHERE id = ?
		ON CONFLICT DO NOTHING`, templateCode, id.String())
	if err != nil {
		return r.handleSQLiteError("add session upload", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	// nothing inserted: either already recorded or no such session
	var exists bool
	err = r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM sessions WHERE id = ?)`, id.String()).Scan(&exists)
	if err != nil {
		return r.handleSQLiteError("add session upload", err)
	}
	if !exists {
		return vstore.ErrSessionNotFound
	}
	return nil
}

func (r *Repository) DeleteExpiredSessions(ctx context.Context, before time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < ?`, before.UnixNano())
	if err != nil {
		return 0, r.handleSQLiteError("delete expired sessions", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, r.handleSQLiteError("delete expired sessions", err)
	}
	return int(n), nil
}
