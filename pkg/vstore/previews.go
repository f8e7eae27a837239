package vstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tendant/simple-vstore/pkg/vstore/descriptors"
	"github.com/tendant/simple-vstore/pkg/vstore/imaging"
)

// GetPreview treats 0 as an unspecified dimension; see PreviewService.
func (s *service) GetPreview(ctx context.Context, value descriptors.ElementValue, templateCode int, width, height int) (*Preview, error) {
	if err := validatePreviewSize(width, height); err != nil {
		return nil, err
	}
	if width > 0 && height > 0 {
		if variant, ok := value.TryGetSizeSpecificImage(width, height); ok {
			return s.redirectPreview(ctx, templateCode, variant)
		}
	}
	return s.renderPreview(ctx, value, templateCode, imaging.Target{Width: width, Height: height})
}

func (s *service) GetObjectPreview(ctx context.Context, req PreviewRequest) (*Preview, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	element, err := s.GetImageElementValue(ctx, req.ObjectID, req.VersionID, req.TemplateCode)
	if err != nil {
		return nil, err
	}
	return s.GetPreview(ctx, element.Value, req.TemplateCode, req.Width, req.Height)
}

func (s *service) GetScaledPreview(ctx context.Context, req PreviewRequest) (*Preview, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	element, err := s.GetImageElementValue(ctx, req.ObjectID, req.VersionID, req.TemplateCode)
	if err != nil {
		return nil, err
	}
	target := imaging.Target{Width: req.Width, Height: req.Height}
	if target.Width > 0 && target.Height > 0 {
		side := target.Side()
		if variant, ok := element.Value.TryGetSizeSpecificImage(side, side); ok {
			return s.redirectPreview(ctx, req.TemplateCode, variant)
		}
	}
	return s.renderPreview(ctx, element.Value, req.TemplateCode, target)
}

func (s *service) redirectPreview(ctx context.Context, templateCode int, variant descriptors.SizeSpecificImage) (*Preview, error) {
	url, err := s.urls.GenerateFileURL(ctx, variant.Raw)
	if err != nil {
		return nil, fmt.Errorf("failed to build variant url: %w", err)
	}
	s.previewFinished(ctx, templateCode, PreviewRedirected, time.Now(), nil)
	return &Preview{
		Outcome:     PreviewRedirected,
		RedirectURL: url,
		Size:        variant.Size,
	}, nil
}

// renderPreview decodes the original under a memory reservation and scales it.
func (s *service) renderPreview(ctx context.Context, value descriptors.ElementValue, templateCode int, target imaging.Target) (*Preview, error) {
	started := time.Now()
	if value.Raw == "" {
		return nil, fmt.Errorf("%w: element %d has no image", ErrObjectNotFound, templateCode)
	}

	rc, err := s.blobStore.Download(ctx, value.Raw)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	srcSize, _, r, err := imaging.PeekSize(rc)
	if err != nil {
		return nil, s.previewFailed(ctx, templateCode, started, err)
	}
	dstSize := imaging.OutputSize(croppedSize(srcSize, value.CropArea), target)

	reservation, err := s.budget.TryReserve(imaging.EstimateCost(srcSize, dstSize))
	if err != nil {
		s.previewFinished(ctx, templateCode, PreviewBudgetDenied, started, err)
		return nil, err
	}
	defer reservation.Release()

	img, err := imaging.Decode(ctx, r)
	if err != nil {
		return nil, s.previewFailed(ctx, templateCode, started, err)
	}
	img = imaging.Scale(imaging.Crop(img, value.CropArea), target)

	var buf bytes.Buffer
	if err := imaging.EncodePNG(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode preview: %w", err)
	}
	b := img.Bounds()
	s.previewFinished(ctx, templateCode, PreviewReturned, started, nil)
	return &Preview{
		Outcome:     PreviewReturned,
		ContentType: descriptors.FileFormatPng.MimeType(),
		Content:     &buf,
		Size:        descriptors.ImageSize{Width: b.Dx(), Height: b.Dy()},
	}, nil
}

// previewFailed classifies a header or decode failure as cancellation or decode error.
func (s *service) previewFailed(ctx context.Context, templateCode int, started time.Time, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		s.previewFinished(ctx, templateCode, PreviewCanceled, started, err)
		return err
	}
	s.previewFinished(ctx, templateCode, PreviewDecodeError, started, err)
	return fmt.Errorf("%w: %v", ErrImageDecode, err)
}

func (s *service) previewFinished(ctx context.Context, templateCode int, outcome PreviewOutcome, started time.Time, err error) {
	elapsed := time.Since(started)
	s.metrics.PreviewFinished(string(outcome), elapsed)
	if err != nil {
		s.logger.WarnContext(ctx, "preview failed",
			"template_code", templateCode,
			"outcome", outcome,
			"elapsed", elapsed,
			"err", err)
		return
	}
	s.logger.DebugContext(ctx, "preview served", "template_code", templateCode, "outcome", outcome, "elapsed", elapsed)
}

func croppedSize(src descriptors.ImageSize, area *descriptors.CropArea) descriptors.ImageSize {
	if area.IsEmpty() {
		return src
	}
	w := min(area.Left+area.Width, src.Width) - max(area.Left, 0)
	h := min(area.Top+area.Height, src.Height) - max(area.Top, 0)
	if w <= 0 || h <= 0 {
		return src
	}
	return descriptors.ImageSize{Width: w, Height: h}
}
