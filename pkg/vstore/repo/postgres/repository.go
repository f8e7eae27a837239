package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/xid"

	"github.com/tendant/simple-vstore/pkg/vstore"
	"github.com/tendant/simple-vstore/pkg/vstore/descriptors"
	"github.com/tendant/simple-vstore/pkg/vstore/repo/migrations"
)

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// DB is a DBTX that can also start transactions, such as *pgxpool.Pool or *pgx.Conn
type DB interface {
	DBTX
	Begin(context.Context) (pgx.Tx, error)
}

// Repository implements vstore.Repository using PostgreSQL
type Repository struct {
	db  DB
	now func() time.Time
}

// New creates a new PostgreSQL repository
func New(db DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// NewWithPool creates a new PostgreSQL repository with connection pool
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return New(pool)
}

// Migrate applies the schema through a database/sql view of the pool
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()
	return migrations.Up(ctx, db, migrations.Postgres)
}

// Error handling helper
func (r *Repository) handlePostgresError(operation string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return vstore.ErrObjectNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			if strings.Contains(pgErr.ConstraintName, "document") {
				return fmt.Errorf("%w: document version already exists", vstore.ErrConcurrentModification)
			}
			if strings.Contains(pgErr.ConstraintName, "session") {
				return fmt.Errorf("session already exists")
			}
			return fmt.Errorf("duplicate entry")
		case "23503": // foreign_key_violation
			if strings.Contains(pgErr.ConstraintName, "session") {
				return vstore.ErrSessionNotFound
			}
			return fmt.Errorf("referenced record not found")
		case "23502": // not_null_violation
			return fmt.Errorf("required field %s is missing", pgErr.ColumnName)
		case "42P01": // undefined_table
			return fmt.Errorf("table does not exist - database migration required")
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}

	return fmt.Errorf("database error in %s: %w", operation, err)
}

// Document operations

func (r *Repository) CreateVersion(ctx context.Context, params vstore.CreateVersionParams) (*vstore.Document, error) {
	if params.ID == 0 && params.ExpectedVersionID != "" {
		return nil, fmt.Errorf("expected version requires an id")
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, r.handlePostgresError("begin", err)
	}
	defer tx.Rollback(ctx)

	id := params.ID
	if id == 0 {
		err = tx.QueryRow(ctx, `
			INSERT INTO document_ids (kind, next_id) VALUES ($1, 1)
			ON CONFLICT (kind) DO UPDATE SET next_id = document_ids.next_id + 1
			RETURNING next_id`, string(params.Kind)).Scan(&id)
		if err != nil {
			return nil, r.handlePostgresError("mint id", err)
		}
	}

	modified := r.now().UTC().Truncate(time.Microsecond)
	versionID := xid.New().String()

	var (
		seq      int
		latestID string
		prev     time.Time
	)
	// the head row serializes writers of one document
	err = tx.QueryRow(ctx, `
		SELECT seq, version_id, last_modified FROM document_heads
		WHERE kind = $1 AND id = $2 FOR UPDATE`, string(params.Kind), id).
		Scan(&seq, &latestID, &prev)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		if params.ExpectedVersionID != "" {
			return nil, vstore.ErrObjectNotFound
		}
		if params.ID != 0 {
			_, err = tx.Exec(ctx, `
				INSERT INTO document_ids (kind, next_id) VALUES ($1, $2)
				ON CONFLICT (kind) DO UPDATE SET next_id = GREATEST(document_ids.next_id, EXCLUDED.next_id)`,
				string(params.Kind), id)
			if err != nil {
				return nil, r.handlePostgresError("reserve id", err)
			}
		}
		tag, err := tx.Exec(ctx, `
			INSERT INTO document_heads (kind, id, seq, version_id, last_modified)
			VALUES ($1, $2, 1, $3, $4) ON CONFLICT DO NOTHING`,
			string(params.Kind), id, versionID, modified)
		if err != nil {
			return nil, r.handlePostgresError("create head", err)
		}
		if tag.RowsAffected() == 0 {
			// another writer created the document first
			return nil, vstore.ErrConcurrentModification
		}
	case err != nil:
		return nil, r.handlePostgresError("lock head", err)
	default:
		if params.ExpectedVersionID != "" && !strings.EqualFold(latestID, params.ExpectedVersionID) {
			return nil, vstore.ErrConcurrentModification
		}
		if prev.After(modified) {
			modified = prev
		}
		_, err = tx.Exec(ctx, `
			UPDATE document_heads SET seq = $3, version_id = $4, last_modified = $5
			WHERE kind = $1 AND id = $2`,
			string(params.Kind), id, seq+1, versionID, modified)
		if err != nil {
			return nil, r.handlePostgresError("update head", err)
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO documents (kind, id, seq, version_id, last_modified, payload)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		string(params.Kind), id, seq+1, versionID, modified, params.Payload)
	if err != nil {
		return nil, r.handlePostgresError("create version", err)
	}
	if params.BlobKey != "" {
		_, err = tx.Exec(ctx, `
			INSERT INTO file_keys (blob_key, id) VALUES ($1, $2)
			ON CONFLICT (blob_key) DO NOTHING`, params.BlobKey, id)
		if err != nil {
			return nil, r.handlePostgresError("index file", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, r.handlePostgresError("commit", err)
	}

	return &vstore.Document{
		Kind: params.Kind,
		Descriptor: vstore.VersionDescriptor{
			ID:           id,
			VersionID:    versionID,
			LastModified: modified,
		},
		Payload: params.Payload,
	}, nil
}

func (r *Repository) GetVersion(ctx context.Context, kind vstore.DocumentKind, id int64, versionID string) (*vstore.Document, error) {
	query := `SELECT version_id, last_modified, payload FROM documents WHERE kind = $1 AND id = $2`
	args := []interface{}{string(kind), id}
	if versionID == "" {
		query += ` ORDER BY seq DESC LIMIT 1`
	} else {
		query += ` AND lower(version_id) = lower($3)`
		args = append(args, versionID)
	}

	doc := &vstore.Document{Kind: kind}
	err := r.db.QueryRow(ctx, query, args...).
		Scan(&doc.Descriptor.VersionID, &doc.Descriptor.LastModified, &doc.Payload)
	if err != nil {
		return nil, r.handlePostgresError("get version", err)
	}
	doc.Descriptor.ID = id
	doc.Descriptor.LastModified = doc.Descriptor.LastModified.UTC()
	return doc, nil
}

func (r *Repository) GetFileByKey(ctx context.Context, blobKey string) (*vstore.Document, error) {
	var id int64
	err := r.db.QueryRow(ctx, `SELECT id FROM file_keys WHERE blob_key = $1`, blobKey).Scan(&id)
	if err != nil {
		return nil, r.handlePostgresError("get file by key", err)
	}
	return r.GetVersion(ctx, vstore.KindFile, id, "")
}

func (r *Repository) ListVersions(ctx context.Context, kind vstore.DocumentKind, id int64) ([]vstore.VersionDescriptor, error) {
	rows, err := r.db.Query(ctx, `
		SELECT version_id, last_modified FROM documents
		WHERE kind = $1 AND id = $2 ORDER BY seq`, string(kind), id)
	if err != nil {
		return nil, r.handlePostgresError("list versions", err)
	}
	defer rows.Close()

	var versions []vstore.VersionDescriptor
	for rows.Next() {
		v := vstore.VersionDescriptor{ID: id}
		if err := rows.Scan(&v.VersionID, &v.LastModified); err != nil {
			return nil, r.handlePostgresError("scan version", err)
		}
		v.LastModified = v.LastModified.UTC()
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, r.handlePostgresError("list versions", err)
	}
	if len(versions) == 0 {
		return nil, vstore.ErrObjectNotFound
	}
	return versions, nil
}

// Session operations

func (r *Repository) CreateSession(ctx context.Context, session *vstore.Session) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO sessions (id, template_id, template_version_id, language, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		session.ID, session.TemplateID, session.TemplateVersionID, string(session.Language),
		session.CreatedAt, session.ExpiresAt)
	if err != nil {
		return r.handlePostgresError("create session", err)
	}
	for _, code := range session.UploadedTemplateCodes {
		if err := r.AddSessionUpload(ctx, session.ID, code); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) GetSession(ctx context.Context, id uuid.UUID) (*vstore.Session, error) {
	query := `
		SELECT s.template_id, s.template_version_id, s.language, s.created_at, s.expires_at,
		       COALESCE(array_agg(u.template_code ORDER BY u.template_code)
		                FILTER (WHERE u.template_code IS NOT NULL), '{}')
		FROM sessions s
		LEFT JOIN session_uploads u ON u.session_id = s.id
		WHERE s.id = $1
		GROUP BY s.id`

	session := &vstore.Session{ID: id}
	var (
		language string
		codes    []int32
	)
	err := r.db.QueryRow(ctx, query, id).Scan(
		&session.TemplateID, &session.TemplateVersionID, &language,
		&session.CreatedAt, &session.ExpiresAt, &codes)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, vstore.ErrSessionNotFound
	}
	if err != nil {
		return nil, r.handlePostgresError("get session", err)
	}

	session.Language = descriptors.Language(language)
	session.CreatedAt = session.CreatedAt.UTC()
	session.ExpiresAt = session.ExpiresAt.UTC()
	for _, code := range codes {
		session.UploadedTemplateCodes = append(session.UploadedTemplateCodes, int(code))
	}
	return session, nil
}

func (r *Repository) AddSessionUpload(ctx context.Context, id uuid.UUID, templateCode int) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO session_uploads (session_id, template_code) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, id, templateCode)
	if err != nil {
		return r.handlePostgresError("add session upload", err)
	}
	return nil
}

func (r *Repository) DeleteExpiredSessions(ctx context.Context, before time.Time) (int, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE expires_at < $1`, before)
	if err != nil {
		return 0, r.handlePostgresError("delete expired sessions", err)
	}
	return int(tag.RowsAffected()), nil
}
