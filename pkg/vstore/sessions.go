package vstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/tendant/simple-vstore/pkg/vstore/descriptors"
)

func (s *service) Setup(ctx context.Context, templateID int64, language descriptors.Language) (*SessionSetupContext, error) {
	tmpl, err := s.GetTemplate(ctx, templateID, "")
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: template %d not found", ErrSessionCannotBeCreated, templateID)
		}
		return nil, err
	}
	if tmpl.IsRetired {
		return nil, fmt.Errorf("%w: template %d is retired", ErrSessionCannotBeCreated, templateID)
	}
	if !tmpl.SupportsLanguage(language) {
		return nil, fmt.Errorf("%w: template %d has no %q variant", ErrSessionCannotBeCreated, templateID, language)
	}

	now := s.now().UTC()
	session := &Session{
		ID:                uuid.New(),
		TemplateID:        tmpl.ID,
		TemplateVersionID: tmpl.VersionID,
		Language:          language,
		CreatedAt:         now,
		ExpiresAt:         now.Add(s.sessionTTL),
	}
	if err := s.repository.CreateSession(ctx, session); err != nil {
		return nil, &SessionError{SessionID: session.ID, Op: "create", Err: err}
	}

	urls := make([]UploadURL, 0, len(tmpl.Elements))
	for _, e := range tmpl.BinaryElements() {
		urls = append(urls, UploadURL{TemplateCode: e.TemplateCode, URL: s.uploadURL(session.ID, e.TemplateCode)})
	}

	s.metrics.SessionCreated()
	if err := s.eventSink.SessionCreated(ctx, session); err != nil {
		s.logger.WarnContext(ctx, "event sink failed", "event", "session_created", "err", err)
	}

	return &SessionSetupContext{
		ID:         session.ID,
		Template:   tmpl,
		Language:   language,
		ExpiresAt:  session.ExpiresAt,
		UploadURLs: urls,
	}, nil
}

func (s *service) GetSession(ctx context.Context, id uuid.UUID) (*Session, error) {
	session, err := s.repository.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, &SessionError{SessionID: id, Op: "get", Err: ErrSessionNotFound}
		}
		return nil, &SessionError{SessionID: id, Op: "get", Err: err}
	}
	// expired and unknown sessions are indistinguishable to callers
	if session.IsExpired(s.now()) {
		return nil, &SessionError{SessionID: id, Op: "get", Err: ErrSessionNotFound}
	}
	return session, nil
}
