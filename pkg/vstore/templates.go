package vstore

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/tendant/simple-vstore/pkg/vstore/descriptors"
)

func (s *service) CreateTemplate(ctx context.Context, req CreateTemplateRequest) (*descriptors.TemplateDescriptor, error) {
	tmpl := &descriptors.TemplateDescriptor{
		Author:     req.Author,
		Properties: req.Properties,
		Elements:   req.Elements,
		IsRetired:  req.IsRetired,
	}
	return s.saveTemplate(ctx, req.ID, "", tmpl)
}

func (s *service) UpdateTemplate(ctx context.Context, req UpdateTemplateRequest) (*descriptors.TemplateDescriptor, error) {
	if req.ID == 0 || req.ExpectedVersionID == "" {
		return nil, fmt.Errorf("%w: id and expected version are required", ErrInvalidTemplate)
	}
	tmpl := &descriptors.TemplateDescriptor{
		Author:     req.Author,
		Properties: req.Properties,
		Elements:   req.Elements,
		IsRetired:  req.IsRetired,
	}
	return s.saveTemplate(ctx, req.ID, req.ExpectedVersionID, tmpl)
}

func (s *service) GetTemplate(ctx context.Context, id int64, versionID string) (*descriptors.TemplateDescriptor, error) {
	if versionID != "" && s.templates != nil {
		key := VersionDescriptor{ID: id, VersionID: versionID}.Key()
		if cached, ok := s.templates.Get(key); ok {
			return cloneTemplate(cached), nil
		}
	}

	doc, err := s.repository.GetVersion(ctx, KindTemplate, id, versionID)
	if err != nil {
		return nil, &ObjectError{Kind: KindTemplate, ID: id, Op: "get", Err: err}
	}
	tmpl, err := decodeTemplate(doc)
	if err != nil {
		return nil, err
	}
	if s.templates != nil {
		s.templates.Add(tmpl.Descriptor().Key(), tmpl)
	}
	return cloneTemplate(tmpl), nil
}

func (s *service) ListTemplateVersions(ctx context.Context, id int64) ([]VersionDescriptor, error) {
	versions, err := s.repository.ListVersions(ctx, KindTemplate, id)
	if err != nil {
		return nil, &ObjectError{Kind: KindTemplate, ID: id, Op: "list_versions", Err: err}
	}
	return versions, nil
}

func (s *service) saveTemplate(ctx context.Context, id int64, expectedVersionID string, tmpl *descriptors.TemplateDescriptor) (*descriptors.TemplateDescriptor, error) {
	if err := s.checkTemplate(tmpl); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(tmpl)
	if err != nil {
		return nil, fmt.Errorf("failed to encode template: %w", err)
	}
	doc, err := s.repository.CreateVersion(ctx, CreateVersionParams{
		Kind:              KindTemplate,
		ID:                id,
		ExpectedVersionID: expectedVersionID,
		Payload:           payload,
	})
	if err != nil {
		return nil, &ObjectError{Kind: KindTemplate, ID: id, Op: "create_version", Err: err}
	}
	s.logger.InfoContext(ctx, "template version created", "template_id", doc.Descriptor.ID, "version_id", doc.Descriptor.VersionID)
	return decodeTemplate(doc)
}

// checkTemplate validates the structure of a template: struct tags, unique element
// codes and constraints matching each element type.
func (s *service) checkTemplate(tmpl *descriptors.TemplateDescriptor) error {
	if err := s.validate.Struct(tmpl); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
	}
	seen := make(map[int]bool, len(tmpl.Elements))
	for _, e := range tmpl.Elements {
		if seen[e.TemplateCode] {
			return fmt.Errorf("%w: duplicate template code %d", ErrInvalidTemplate, e.TemplateCode)
		}
		seen[e.TemplateCode] = true
		for lang, c := range e.Constraints {
			if !c.Matches(e.Type) {
				return fmt.Errorf("%w: element %d constraints for %s do not match type %s", ErrInvalidTemplate, e.TemplateCode, lang, e.Type)
			}
			if err := s.validate.Struct(c); err != nil {
				return fmt.Errorf("%w: element %d: %v", ErrInvalidTemplate, e.TemplateCode, err)
			}
		}
	}
	return nil
}

func decodeTemplate(doc *Document) (*descriptors.TemplateDescriptor, error) {
	var tmpl descriptors.TemplateDescriptor
	if err := json.Unmarshal(doc.Payload, &tmpl); err != nil {
		return nil, fmt.Errorf("failed to decode template %d: %w", doc.Descriptor.ID, err)
	}
	tmpl.ID = doc.Descriptor.ID
	tmpl.VersionID = doc.Descriptor.VersionID
	tmpl.LastModified = doc.Descriptor.LastModified
	return &tmpl, nil
}

// cloneTemplate copies the parts of a cached template a caller could mutate.
func cloneTemplate(t *descriptors.TemplateDescriptor) *descriptors.TemplateDescriptor {
	c := *t
	c.Elements = slices.Clone(t.Elements)
	return &c
}
