package descriptors

import "time"

// CropArea selects the visible part of a composite image.
type CropArea struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// IsEmpty reports whether the area selects nothing, meaning "use the whole image".
func (a *CropArea) IsEmpty() bool {
	return a == nil || a.Width <= 0 || a.Height <= 0
}

// SizeSpecificImage is a pre-baked variant of a composite image.
type SizeSpecificImage struct {
	Size     ImageSize `json:"size"`
	Raw      string    `json:"raw"`
	Filename string    `json:"filename,omitempty"`
	Filesize int64     `json:"filesize,omitempty"`
}

// ElementValue is the content of one element of an object. For text elements Raw is the
// text itself; for binaries Raw is the blob key of the uploaded file.
type ElementValue struct {
	Raw                string              `json:"raw"`
	Filename           string              `json:"filename,omitempty"`
	Filesize           int64               `json:"filesize,omitempty"`
	CropArea           *CropArea           `json:"cropArea,omitempty"`
	SizeSpecificImages []SizeSpecificImage `json:"sizeSpecificImages,omitempty"`
}

// TryGetSizeSpecificImage looks for a pre-baked variant of exactly width x height.
func (v ElementValue) TryGetSizeSpecificImage(width, height int) (SizeSpecificImage, bool) {
	for _, img := range v.SizeSpecificImages {
		if img.Size.Width == width && img.Size.Height == height {
			return img, true
		}
	}
	return SizeSpecificImage{}, false
}

// ObjectElementDescriptor is an element of an object with its resolved constraints.
type ObjectElementDescriptor struct {
	Type         ElementDescriptorType `json:"type"`
	TemplateCode int                   `json:"templateCode"`
	Properties   map[string]any        `json:"properties,omitempty"`
	Constraints  ElementConstraints    `json:"constraints"`
	Value        ElementValue          `json:"value"`
}

// ObjectDescriptor is one version of an advertising object.
type ObjectDescriptor struct {
	ID                int64                     `json:"id"`
	VersionID         string                    `json:"versionId"`
	LastModified      time.Time                 `json:"lastModified"`
	TemplateID        int64                     `json:"templateId"`
	TemplateVersionID string                    `json:"templateVersionId"`
	Language          Language                  `json:"language"`
	Properties        map[string]any            `json:"properties,omitempty"`
	Elements          []ObjectElementDescriptor `json:"elements"`
}

// Descriptor returns the identity of this object version.
func (o *ObjectDescriptor) Descriptor() VersionedObjectDescriptor[int64] {
	return VersionedObjectDescriptor[int64]{ID: o.ID, VersionID: o.VersionID, LastModified: o.LastModified}
}

// Element finds the element with the given code.
func (o *ObjectDescriptor) Element(code int) (ObjectElementDescriptor, bool) {
	for _, e := range o.Elements {
		if e.TemplateCode == code {
			return e, true
		}
	}
	return ObjectElementDescriptor{}, false
}
