package vstore

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/tendant/simple-vstore/pkg/vstore/descriptors"
)

// NoopEventSink is a no-operation implementation of EventSink
type NoopEventSink struct{}

// NewNoopEventSink creates a new no-operation event sink
func NewNoopEventSink() EventSink {
	return &NoopEventSink{}
}

func (n *NoopEventSink) SessionCreated(ctx context.Context, session *Session) error {
	return nil
}

func (n *NoopEventSink) FileUploaded(ctx context.Context, sessionID uuid.UUID, file *UploadedFileInfo) error {
	return nil
}

func (n *NoopEventSink) UploadAborted(ctx context.Context, sessionID uuid.UUID, templateCode int, reason error) error {
	return nil
}

func (n *NoopEventSink) ObjectVersionCreated(ctx context.Context, object *descriptors.ObjectDescriptor) error {
	return nil
}

// LoggingEventSink is an event sink that logs events but takes no other action.
// Useful for development and debugging
type LoggingEventSink struct {
	logger *slog.Logger
}

// NewLoggingEventSink creates a new logging event sink
func NewLoggingEventSink(logger *slog.Logger) EventSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingEventSink{logger: logger}
}

func (l *LoggingEventSink) SessionCreated(ctx context.Context, session *Session) error {
	l.logger.InfoContext(ctx, "session created",
		"session_id", session.ID,
		"template_id", session.TemplateID,
		"language", session.Language,
		"expires_at", session.ExpiresAt)
	return nil
}

func (l *LoggingEventSink) FileUploaded(ctx context.Context, sessionID uuid.UUID, file *UploadedFileInfo) error {
	l.logger.InfoContext(ctx, "file uploaded",
		"session_id", sessionID,
		"key", file.ID,
		"filename", file.Filename,
		"size", file.Size)
	return nil
}

func (l *LoggingEventSink) UploadAborted(ctx context.Context, sessionID uuid.UUID, templateCode int, reason error) error {
	l.logger.WarnContext(ctx, "upload aborted",
		"session_id", sessionID,
		"template_code", templateCode,
		"reason", reason)
	return nil
}

func (l *LoggingEventSink) ObjectVersionCreated(ctx context.Context, object *descriptors.ObjectDescriptor) error {
	l.logger.InfoContext(ctx, "object version created",
		"object_id", object.ID,
		"version_id", object.VersionID,
		"template_id", object.TemplateID)
	return nil
}
