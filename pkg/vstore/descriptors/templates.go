package descriptors

import "time"

// ElementDescriptor describes one slot of a template.
type ElementDescriptor struct {
	Type         ElementDescriptorType `json:"type" validate:"required,oneof=plainText formattedText bitmapImage compositeBitmapImage article"`
	TemplateCode int                   `json:"templateCode" validate:"min=1"`
	Properties   map[string]any        `json:"properties,omitempty"`
	Constraints  ConstraintSet         `json:"constraints" validate:"required,min=1"`
}

// TemplateDescriptor is one version of a template.
type TemplateDescriptor struct {
	ID           int64               `json:"id"`
	VersionID    string              `json:"versionId"`
	LastModified time.Time           `json:"lastModified"`
	Author       string              `json:"author,omitempty"`
	Properties   map[string]any      `json:"properties,omitempty"`
	Elements     []ElementDescriptor `json:"elements" validate:"dive"`
	IsRetired    bool                `json:"isRetired,omitempty"`
}

// Descriptor returns the identity of this template version.
func (t *TemplateDescriptor) Descriptor() VersionedObjectDescriptor[int64] {
	return VersionedObjectDescriptor[int64]{ID: t.ID, VersionID: t.VersionID, LastModified: t.LastModified}
}

// Element finds the element with the given code.
func (t *TemplateDescriptor) Element(code int) (ElementDescriptor, bool) {
	for _, e := range t.Elements {
		if e.TemplateCode == code {
			return e, true
		}
	}
	return ElementDescriptor{}, false
}

// SupportsLanguage reports whether every element defines constraints for lang.
func (t *TemplateDescriptor) SupportsLanguage(lang Language) bool {
	for _, e := range t.Elements {
		if _, ok := e.Constraints.For(lang); !ok {
			return false
		}
	}
	return true
}

// BinaryElements returns the elements whose values are uploaded files.
func (t *TemplateDescriptor) BinaryElements() []ElementDescriptor {
	var out []ElementDescriptor
	for _, e := range t.Elements {
		if e.Type.IsBinary() {
			out = append(out, e)
		}
	}
	return out
}
