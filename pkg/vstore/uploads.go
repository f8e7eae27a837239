package vstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/tendant/simple-vstore/pkg/vstore/descriptors"
	"github.com/tendant/simple-vstore/pkg/vstore/objectkey"
	"github.com/tendant/simple-vstore/pkg/vstore/validation"
)

const readChunkSize = 32 << 10

func (s *service) InitiateMultipartUpload(ctx context.Context, req InitiateUploadRequest) (*MultipartUploadSession, error) {
	session, err := s.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	tmpl, err := s.GetTemplate(ctx, session.TemplateID, session.TemplateVersionID)
	if err != nil {
		return nil, err
	}

	fail := func(err error) (*MultipartUploadSession, error) {
		return nil, &UploadError{SessionID: req.SessionID, TemplateCode: req.TemplateCode, Op: "initiate", Err: err}
	}

	element, ok := tmpl.Element(req.TemplateCode)
	if !ok || !element.Type.IsBinary() {
		return fail(fmt.Errorf("%w: %d is not a binary element", ErrInvalidTemplateCode, req.TemplateCode))
	}
	c, ok := element.Constraints.For(session.Language)
	if !ok {
		return fail(ErrLanguageNotSupported)
	}

	fileType := req.FileType
	if fileType == "" {
		fileType = FileTypeOriginal
	}
	maxSize := c.MaxSize()
	var variant string
	switch fileType {
	case FileTypeOriginal:
	case FileTypeSizeSpecificImage:
		if element.Type != descriptors.ElementCompositeBitmapImage {
			return fail(fmt.Errorf("%w: size-specific images require a composite image element", ErrInvalidUploadRequest))
		}
		if req.ImageSize.Width <= 0 || req.ImageSize.Height <= 0 {
			return fail(fmt.Errorf("%w: size-specific images require a target size", ErrInvalidUploadRequest))
		}
		if limit := c.CompositeBitmapImage.SizeSpecificImageMaxSize; limit > 0 {
			maxSize = limit
		}
		variant = req.ImageSize.String()
	default:
		return fail(fmt.Errorf("%w: unknown file type %q", ErrInvalidUploadRequest, fileType))
	}

	format, ok := descriptors.ParseFileFormat(req.FileName)
	if !ok || !descriptors.ContainsFormat(c.SupportedFileFormats(), format) {
		return fail(validation.NewElementError(req.TemplateCode, &validation.BinaryInvalidFormatError{}))
	}
	if req.ContentLength > 0 && maxSize > 0 && req.ContentLength > maxSize {
		return fail(validation.NewElementError(req.TemplateCode, &validation.BinaryTooLargeError{MaxSize: maxSize, Actual: req.ContentLength}))
	}

	key := s.keys.GenerateKey(session.ID, &objectkey.KeyMetadata{
		FileName:     req.FileName,
		TemplateCode: req.TemplateCode,
		Variant:      variant,
	})
	handle, err := s.blobStore.InitiateMultipartUpload(ctx, UploadParams{ObjectKey: key, MimeType: format.MimeType()})
	if err != nil {
		return fail(err)
	}

	s.logger.DebugContext(ctx, "multipart upload initiated",
		"session_id", session.ID,
		"template_code", req.TemplateCode,
		"key", key,
		"file_type", fileType)

	return &MultipartUploadSession{
		SessionID:      session.ID,
		TemplateCode:   req.TemplateCode,
		FileName:       req.FileName,
		ContentType:    format.MimeType(),
		DeclaredLength: req.ContentLength,
		FileType:       fileType,
		TargetSize:     req.ImageSize,
		ExpiresAt:      session.ExpiresAt,
		Key:            key,
		templateID:     tmpl.ID,
		state:          uploadOpen,
		handle:         handle,
		constraints:    c,
		format:         format,
		maxSize:        maxSize,
	}, nil
}

func (s *service) UploadFilePart(ctx context.Context, upload *MultipartUploadSession, reader io.Reader, templateCode int) error {
	upload.mu.Lock()
	defer upload.mu.Unlock()

	if err := s.checkUpload(upload, templateCode); err != nil {
		return s.failLocked(ctx, upload, "upload_part", err)
	}

	chunk := make([]byte, readChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return s.failLocked(ctx, upload, "upload_part", err)
		}
		n, readErr := reader.Read(chunk)
		if n > 0 {
			if err := s.acceptLocked(ctx, upload, chunk[:n]); err != nil {
				return s.failLocked(ctx, upload, "upload_part", err)
			}
		}
		if errors.Is(readErr, io.EOF) {
			return nil
		}
		if readErr != nil {
			return s.failLocked(ctx, upload, "read", readErr)
		}
	}
}

func (s *service) CompleteMultipartUpload(ctx context.Context, upload *MultipartUploadSession, templateCode int) (*UploadedFileInfo, error) {
	upload.mu.Lock()
	defer upload.mu.Unlock()

	if err := s.checkUpload(upload, templateCode); err != nil {
		return nil, s.failLocked(ctx, upload, "complete", err)
	}
	if !upload.headerChecked && upload.bytesReceived > 0 {
		if err := s.checkHeaderLocked(upload); err != nil {
			return nil, s.failLocked(ctx, upload, "complete", err)
		}
	}
	if err := validation.ValidateSize(upload.TemplateCode, upload.maxSize, upload.bytesReceived); err != nil {
		return nil, s.failLocked(ctx, upload, "complete", err)
	}
	if upload.pending.Len() > 0 {
		if err := s.flushPartLocked(ctx, upload, upload.pending.Len()); err != nil {
			return nil, s.failLocked(ctx, upload, "complete", err)
		}
	}

	meta, err := s.blobStore.CompleteMultipartUpload(ctx, upload.handle, upload.parts)
	if err != nil {
		return nil, s.failLocked(ctx, upload, "complete", err)
	}
	upload.state = uploadFinalized

	// From here on the blob exists and failures must delete it.
	imageSize, err := s.validateBlob(ctx, upload)
	if err != nil {
		return nil, s.discardLocked(ctx, upload, err)
	}

	if err := s.repository.AddSessionUpload(ctx, upload.SessionID, upload.TemplateCode); err != nil {
		return nil, s.discardLocked(ctx, upload, err)
	}
	record := FileRecord{
		Key:          upload.Key,
		Filename:     upload.FileName,
		ContentType:  upload.ContentType,
		Size:         meta.Size,
		SessionID:    upload.SessionID,
		TemplateID:   upload.templateID,
		TemplateCode: upload.TemplateCode,
		FileType:     upload.FileType,
		Format:       upload.format,
		ImageSize:    imageSize,
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return nil, s.discardLocked(ctx, upload, err)
	}
	doc, err := s.repository.CreateVersion(ctx, CreateVersionParams{Kind: KindFile, Payload: payload, BlobKey: upload.Key})
	if err != nil {
		return nil, s.discardLocked(ctx, upload, err)
	}

	previewURI, err := s.urls.GenerateFileURL(ctx, upload.Key)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to build preview uri", "key", upload.Key, "err", err)
	}
	upload.state = uploadCompleted

	info := &UploadedFileInfo{
		ID:          upload.Key,
		Filename:    upload.FileName,
		PreviewURI:  previewURI,
		Size:        meta.Size,
		ContentType: upload.ContentType,
		ImageSize:   imageSize,
		File:        doc.Descriptor,
	}

	s.metrics.UploadFinished("committed", meta.Size)
	s.logger.InfoContext(ctx, "file uploaded",
		"session_id", upload.SessionID,
		"template_code", upload.TemplateCode,
		"key", upload.Key,
		"size", meta.Size)
	if err := s.eventSink.FileUploaded(ctx, upload.SessionID, info); err != nil {
		s.logger.WarnContext(ctx, "event sink failed", "event", "file_uploaded", "err", err)
	}
	return info, nil
}

func (s *service) AbortMultipartUpload(ctx context.Context, upload *MultipartUploadSession) error {
	upload.mu.Lock()
	defer upload.mu.Unlock()

	if upload.state != uploadOpen {
		return nil
	}
	return s.abortLocked(ctx, upload, nil)
}

func (s *service) UploadFile(ctx context.Context, req InitiateUploadRequest, sections SectionIterator) (info *UploadedFileInfo, err error) {
	var upload *MultipartUploadSession
	defer func() {
		if err != nil && upload != nil {
			if abortErr := s.AbortMultipartUpload(ctx, upload); abortErr != nil {
				s.logger.ErrorContext(ctx, "failed to abort upload", "key", upload.Key, "err", abortErr)
			}
		}
	}()

	fail := func(err error) (*UploadedFileInfo, error) {
		return nil, &UploadError{SessionID: req.SessionID, TemplateCode: req.TemplateCode, Op: "upload", Err: err}
	}

	for {
		section, nextErr := sections.Next()
		if errors.Is(nextErr, io.EOF) {
			break
		}
		if nextErr != nil {
			return fail(nextErr)
		}
		if section.FileName == "" {
			return fail(ErrNonFileSection)
		}
		if upload != nil {
			return fail(ErrMultipleFiles)
		}

		fileReq := req
		fileReq.FileName = section.FileName
		fileReq.ContentType = section.ContentType
		upload, err = s.InitiateMultipartUpload(ctx, fileReq)
		if err != nil {
			return nil, err
		}
		if err = s.UploadFilePart(ctx, upload, section.Body, req.TemplateCode); err != nil {
			return nil, err
		}
	}

	if upload == nil {
		return fail(ErrEmptyUpload)
	}
	return s.CompleteMultipartUpload(ctx, upload, req.TemplateCode)
}

func (s *service) DownloadFile(ctx context.Context, key string) (io.ReadCloser, *ObjectMeta, error) {
	meta, err := s.blobStore.GetObjectMeta(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	rc, err := s.blobStore.Download(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	return rc, meta, nil
}

// checkUpload rejects steps on closed uploads, on the wrong element or after the
// owning session expired.
func (s *service) checkUpload(upload *MultipartUploadSession, templateCode int) error {
	if upload.state != uploadOpen {
		return ErrUploadClosed
	}
	if templateCode != upload.TemplateCode {
		return fmt.Errorf("%w: upload is for element %d", ErrInvalidTemplateCode, upload.TemplateCode)
	}
	if s.now().After(upload.ExpiresAt) {
		return ErrSessionNotFound
	}
	return nil
}

// acceptLocked buffers p and flushes every full part to the blob store. The format is
// checked as soon as the sniff window is filled.
func (s *service) acceptLocked(ctx context.Context, upload *MultipartUploadSession, p []byte) error {
	upload.bytesReceived += int64(len(p))
	if upload.maxSize > 0 && upload.bytesReceived > upload.maxSize {
		return validation.NewElementError(upload.TemplateCode, &validation.BinaryTooLargeError{
			MaxSize: upload.maxSize,
			Actual:  upload.bytesReceived,
		})
	}
	upload.pending.Write(p)

	if !upload.headerChecked {
		need := validation.SniffLen - len(upload.header)
		upload.header = append(upload.header, p[:min(need, len(p))]...)
		if len(upload.header) >= validation.SniffLen {
			if err := s.checkHeaderLocked(upload); err != nil {
				return err
			}
		}
	}

	for int64(upload.pending.Len()) >= s.partSize {
		if err := s.flushPartLocked(ctx, upload, int(s.partSize)); err != nil {
			return err
		}
	}
	return nil
}

func (s *service) checkHeaderLocked(upload *MultipartUploadSession) error {
	sniffed, err := validation.CheckFormat(upload.constraints.SupportedFileFormats(), upload.format, upload.header)
	if err != nil {
		var verr validation.Error
		if errors.As(err, &verr) {
			return validation.NewElementError(upload.TemplateCode, verr)
		}
		return err
	}
	upload.ContentType = sniffed.MimeType()
	upload.headerChecked = true
	upload.header = nil
	return nil
}

func (s *service) flushPartLocked(ctx context.Context, upload *MultipartUploadSession, n int) error {
	data := upload.pending.Next(n)
	partNumber := len(upload.parts) + 1
	part, err := s.blobStore.UploadPart(ctx, upload.handle, partNumber, bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return err
	}
	upload.parts = append(upload.parts, *part)
	return nil
}

// validateBlob re-reads the finalized blob and runs the checks of the element kind.
func (s *service) validateBlob(ctx context.Context, upload *MultipartUploadSession) (*descriptors.ImageSize, error) {
	rc, err := s.blobStore.Download(ctx, upload.Key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	c := upload.constraints
	var info validation.ImageInfo
	switch {
	case c.BitmapImage != nil:
		info, err = validation.ValidateBitmapImageOriginalHeader(upload.TemplateCode, *c.BitmapImage, upload.format, rc)
	case c.CompositeBitmapImage != nil && upload.FileType == FileTypeSizeSpecificImage:
		info, err = validation.ValidateSizeSpecificBitmapImageHeader(upload.TemplateCode, *c.CompositeBitmapImage, upload.format, rc, upload.TargetSize)
	case c.CompositeBitmapImage != nil:
		info, err = validation.ValidateCompositeBitmapImageOriginalHeader(upload.TemplateCode, *c.CompositeBitmapImage, upload.format, rc)
	case c.Article != nil:
		return nil, s.validateArticle(upload, *c.Article, rc)
	default:
		return nil, fmt.Errorf("%w: %d", ErrInvalidTemplateCode, upload.TemplateCode)
	}
	if err != nil {
		return nil, err
	}
	return &info.Size, nil
}

// validateArticle spools the archive to a temporary file since zip needs random access.
func (s *service) validateArticle(upload *MultipartUploadSession, c descriptors.ArticleElementConstraints, r io.Reader) error {
	f, err := os.CreateTemp("", "vstore-article-*.zip")
	if err != nil {
		return err
	}
	defer func() {
		f.Close()
		os.Remove(f.Name())
	}()

	size, err := io.Copy(f, r)
	if err != nil {
		return err
	}
	return validation.ValidateArticle(upload.TemplateCode, c, upload.FileName, f, size)
}

// failLocked aborts an open upload and wraps err.
func (s *service) failLocked(ctx context.Context, upload *MultipartUploadSession, op string, err error) error {
	if upload.state == uploadOpen {
		if abortErr := s.abortLocked(ctx, upload, err); abortErr != nil {
			s.logger.ErrorContext(ctx, "failed to abort upload", "key", upload.Key, "err", abortErr)
		}
	}
	return &UploadError{SessionID: upload.SessionID, TemplateCode: upload.TemplateCode, Op: op, Err: err}
}

func (s *service) abortLocked(ctx context.Context, upload *MultipartUploadSession, reason error) error {
	cleanupCtx, cancel := s.cleanupContext(ctx)
	defer cancel()

	upload.state = uploadAborted
	upload.pending.Reset()
	upload.parts = nil
	upload.header = nil

	s.metrics.UploadFinished(uploadResult(reason), upload.bytesReceived)
	s.logger.InfoContext(ctx, "upload aborted",
		"session_id", upload.SessionID,
		"template_code", upload.TemplateCode,
		"key", upload.Key,
		"reason", reason)
	if err := s.eventSink.UploadAborted(ctx, upload.SessionID, upload.TemplateCode, reason); err != nil {
		s.logger.WarnContext(ctx, "event sink failed", "event", "upload_aborted", "err", err)
	}

	if err := s.blobStore.AbortMultipartUpload(cleanupCtx, upload.handle); err != nil {
		return &StorageError{Key: upload.Key, Op: "abort", Err: err}
	}
	return nil
}

// discardLocked deletes a finalized blob that must not be committed.
func (s *service) discardLocked(ctx context.Context, upload *MultipartUploadSession, err error) error {
	cleanupCtx, cancel := s.cleanupContext(ctx)
	defer cancel()

	upload.state = uploadAborted
	if delErr := s.blobStore.Delete(cleanupCtx, upload.Key); delErr != nil {
		s.logger.ErrorContext(ctx, "failed to delete rejected blob", "key", upload.Key, "err", delErr)
	}

	s.metrics.UploadFinished(uploadResult(err), upload.bytesReceived)
	s.logger.InfoContext(ctx, "upload rejected",
		"session_id", upload.SessionID,
		"template_code", upload.TemplateCode,
		"key", upload.Key,
		"err", err)
	if sinkErr := s.eventSink.UploadAborted(ctx, upload.SessionID, upload.TemplateCode, err); sinkErr != nil {
		s.logger.WarnContext(ctx, "event sink failed", "event", "upload_aborted", "err", sinkErr)
	}
	return &UploadError{SessionID: upload.SessionID, TemplateCode: upload.TemplateCode, Op: "complete", Err: err}
}

func uploadResult(err error) string {
	var elementErr *validation.ElementError
	if errors.As(err, &elementErr) {
		return "invalid"
	}
	return "aborted"
}
