package vstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tendant/simple-vstore/pkg/vstore/descriptors"
	"github.com/tendant/simple-vstore/pkg/vstore/validation"
)

func (s *service) CreateObject(ctx context.Context, req CreateObjectRequest) (*descriptors.ObjectDescriptor, error) {
	tmpl, err := s.GetTemplate(ctx, req.TemplateID, req.TemplateVersionID)
	if err != nil {
		return nil, err
	}
	if !tmpl.SupportsLanguage(req.Language) {
		return nil, fmt.Errorf("%w: template %d, language %q", ErrLanguageNotSupported, tmpl.ID, req.Language)
	}
	obj := &descriptors.ObjectDescriptor{
		TemplateID:        tmpl.ID,
		TemplateVersionID: tmpl.VersionID,
		Language:          req.Language,
		Properties:        req.Properties,
	}
	return s.saveObject(ctx, req.ID, "", tmpl, obj, req.Elements)
}

func (s *service) UpdateObject(ctx context.Context, req UpdateObjectRequest) (*descriptors.ObjectDescriptor, error) {
	if req.ID == 0 || req.ExpectedVersionID == "" {
		return nil, fmt.Errorf("%w: id and expected version are required", ErrInvalidObject)
	}
	current, err := s.GetObject(ctx, req.ID, "")
	if err != nil {
		return nil, err
	}
	tmpl, err := s.GetTemplate(ctx, current.TemplateID, current.TemplateVersionID)
	if err != nil {
		return nil, err
	}
	obj := &descriptors.ObjectDescriptor{
		TemplateID:        current.TemplateID,
		TemplateVersionID: current.TemplateVersionID,
		Language:          current.Language,
		Properties:        req.Properties,
	}
	return s.saveObject(ctx, req.ID, req.ExpectedVersionID, tmpl, obj, req.Elements)
}

func (s *service) GetObject(ctx context.Context, id int64, versionID string) (*descriptors.ObjectDescriptor, error) {
	doc, err := s.repository.GetVersion(ctx, KindObject, id, versionID)
	if err != nil {
		return nil, &ObjectError{Kind: KindObject, ID: id, Op: "get", Err: err}
	}
	return decodeObject(doc)
}

func (s *service) ListObjectVersions(ctx context.Context, id int64) ([]VersionDescriptor, error) {
	versions, err := s.repository.ListVersions(ctx, KindObject, id)
	if err != nil {
		return nil, &ObjectError{Kind: KindObject, ID: id, Op: "list_versions", Err: err}
	}
	return versions, nil
}

func (s *service) GetImageElementValue(ctx context.Context, id int64, versionID string, templateCode int) (*descriptors.ObjectElementDescriptor, error) {
	obj, err := s.GetObject(ctx, id, versionID)
	if err != nil {
		return nil, err
	}
	element, ok := obj.Element(templateCode)
	if !ok || !element.Type.IsImage() {
		return nil, fmt.Errorf("%w: object %d has no image element %d", ErrInvalidTemplateCode, id, templateCode)
	}
	return &element, nil
}

func (s *service) saveObject(ctx context.Context, id int64, expectedVersionID string, tmpl *descriptors.TemplateDescriptor, obj *descriptors.ObjectDescriptor, values []ElementValueRequest) (*descriptors.ObjectDescriptor, error) {
	elements, err := s.resolveElements(ctx, tmpl, obj.Language, values)
	if err != nil {
		return nil, err
	}
	obj.Elements = elements

	payload, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to encode object: %w", err)
	}
	doc, err := s.repository.CreateVersion(ctx, CreateVersionParams{
		Kind:              KindObject,
		ID:                id,
		ExpectedVersionID: expectedVersionID,
		Payload:           payload,
	})
	if err != nil {
		return nil, &ObjectError{Kind: KindObject, ID: id, Op: "create_version", Err: err}
	}
	saved, err := decodeObject(doc)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "object version created",
		"object_id", saved.ID,
		"version_id", saved.VersionID,
		"template_id", saved.TemplateID)
	if err := s.eventSink.ObjectVersionCreated(ctx, saved); err != nil {
		s.logger.WarnContext(ctx, "event sink failed", "event", "object_version_created", "err", err)
	}
	return saved, nil
}

// resolveElements pairs every template element with its submitted value and validates
// the whole object. Violations are collected into a *validation.InvalidObjectError;
// under the fail-fast policy only the first failing element is reported.
func (s *service) resolveElements(ctx context.Context, tmpl *descriptors.TemplateDescriptor, lang descriptors.Language, values []ElementValueRequest) ([]descriptors.ObjectElementDescriptor, error) {
	byCode := make(map[int]descriptors.ElementValue, len(values))
	for _, v := range values {
		if _, ok := tmpl.Element(v.TemplateCode); !ok {
			return nil, fmt.Errorf("%w: %d", ErrInvalidTemplateCode, v.TemplateCode)
		}
		if _, dup := byCode[v.TemplateCode]; dup {
			return nil, fmt.Errorf("%w: duplicate value for element %d", ErrInvalidObject, v.TemplateCode)
		}
		byCode[v.TemplateCode] = v.Value
	}

	invalid := &validation.InvalidObjectError{}
	elements := make([]descriptors.ObjectElementDescriptor, 0, len(tmpl.Elements))
	for _, e := range tmpl.Elements {
		c, ok := e.Constraints.For(lang)
		if !ok {
			return nil, fmt.Errorf("%w: element %d, language %q", ErrLanguageNotSupported, e.TemplateCode, lang)
		}
		value := byCode[e.TemplateCode]

		var err error
		if e.Type.IsBinary() {
			value, err = s.checkBinaryValue(ctx, tmpl.ID, e.TemplateCode, c, value)
		} else {
			err = validation.ValidateText(e.TemplateCode, *c.Text, value.Raw, s.policy)
		}
		if err != nil {
			var elementErr *validation.ElementError
			if !errors.As(err, &elementErr) {
				return nil, err
			}
			invalid.Elements = append(invalid.Elements, elementErr)
			if s.policy == validation.FailFast {
				break
			}
		}

		elements = append(elements, descriptors.ObjectElementDescriptor{
			Type:         e.Type,
			TemplateCode: e.TemplateCode,
			Properties:   e.Properties,
			Constraints:  c,
			Value:        value,
		})
	}
	if len(invalid.Elements) > 0 {
		return nil, invalid
	}
	return elements, nil
}

// checkBinaryValue accepts only blobs committed by an upload for this element: the
// original under Raw and pre-baked variants whose recorded size matches the declared one.
// Missing file sizes are filled in from the upload records.
func (s *service) checkBinaryValue(ctx context.Context, templateID int64, templateCode int, c descriptors.ElementConstraints, value descriptors.ElementValue) (descriptors.ElementValue, error) {
	if value.Raw == "" {
		if c.IsMandatory() {
			return value, validation.NewElementError(templateCode, &validation.ElementIsMandatoryError{})
		}
		return value, nil
	}

	original, err := s.uploadedFile(ctx, templateID, templateCode, value.Raw, FileTypeOriginal)
	if err != nil {
		return value, err
	}
	if value.Filesize == 0 {
		value.Filesize = original.Size
	}

	images := make([]descriptors.SizeSpecificImage, len(value.SizeSpecificImages))
	for i, img := range value.SizeSpecificImages {
		variant, err := s.uploadedFile(ctx, templateID, templateCode, img.Raw, FileTypeSizeSpecificImage)
		if err != nil {
			return value, err
		}
		if variant.ImageSize == nil || *variant.ImageSize != img.Size {
			var actual descriptors.ImageSize
			if variant.ImageSize != nil {
				actual = *variant.ImageSize
			}
			return value, validation.NewElementError(templateCode,
				&validation.SizeSpecificImageTargetSizeNotEqualToActualSizeError{Expected: img.Size, Actual: actual})
		}
		if img.Filesize == 0 {
			img.Filesize = variant.Size
		}
		images[i] = img
	}
	if len(images) > 0 {
		value.SizeSpecificImages = images
	}
	return value, nil
}

// uploadedFile returns the upload record for key if it was committed for the element
// with the given file type and the blob is still stored.
func (s *service) uploadedFile(ctx context.Context, templateID int64, templateCode int, key string, fileType FileType) (*FileRecord, error) {
	notUploaded := validation.NewElementError(templateCode, &validation.BinaryNotFoundError{Key: key})

	doc, err := s.repository.GetFileByKey(ctx, key)
	if errors.Is(err, ErrObjectNotFound) {
		return nil, notUploaded
	}
	if err != nil {
		return nil, err
	}
	var record FileRecord
	if err := json.Unmarshal(doc.Payload, &record); err != nil {
		return nil, fmt.Errorf("failed to decode file record %d: %w", doc.Descriptor.ID, err)
	}
	if record.TemplateID != templateID || record.TemplateCode != templateCode || record.FileType != fileType {
		s.logger.DebugContext(ctx, "binary not uploaded for element",
			"key", key,
			"template_id", templateID,
			"template_code", templateCode,
			"file_type", fileType,
			"recorded_template_code", record.TemplateCode,
			"recorded_file_type", record.FileType)
		return nil, notUploaded
	}

	if _, err := s.blobStore.GetObjectMeta(ctx, key); err != nil {
		if errors.Is(err, ErrBlobNotFound) {
			return nil, notUploaded
		}
		return nil, err
	}
	return &record, nil
}

func decodeObject(doc *Document) (*descriptors.ObjectDescriptor, error) {
	var obj descriptors.ObjectDescriptor
	if err := json.Unmarshal(doc.Payload, &obj); err != nil {
		return nil, fmt.Errorf("failed to decode object %d: %w", doc.Descriptor.ID, err)
	}
	obj.ID = doc.Descriptor.ID
	obj.VersionID = doc.Descriptor.VersionID
	obj.LastModified = doc.Descriptor.LastModified
	return &obj, nil
}
