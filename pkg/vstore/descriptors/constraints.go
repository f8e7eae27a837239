package descriptors

// ElementDescriptorType is the kind of content an element slot accepts.
type ElementDescriptorType string

const (
	ElementPlainText            ElementDescriptorType = "plainText"
	ElementFormattedText        ElementDescriptorType = "formattedText"
	ElementBitmapImage          ElementDescriptorType = "bitmapImage"
	ElementCompositeBitmapImage ElementDescriptorType = "compositeBitmapImage"
	ElementArticle              ElementDescriptorType = "article"
)

// IsBinary reports whether values of this type are uploaded files.
func (t ElementDescriptorType) IsBinary() bool {
	switch t {
	case ElementBitmapImage, ElementCompositeBitmapImage, ElementArticle:
		return true
	}
	return false
}

// IsImage reports whether previews can be generated for this type.
func (t ElementDescriptorType) IsImage() bool {
	return t == ElementBitmapImage || t == ElementCompositeBitmapImage
}

// TextElementConstraints apply to plain and formatted text. Nil limits are not enforced.
type TextElementConstraints struct {
	IsMandatory       bool `json:"isMandatory"`
	MaxSymbols        *int `json:"maxSymbols,omitempty" validate:"omitempty,min=1"`
	MinSymbolsPerWord *int `json:"minSymbolsPerWord,omitempty" validate:"omitempty,min=1"`
	MaxSymbolsPerWord *int `json:"maxSymbolsPerWord,omitempty" validate:"omitempty,min=1"`
	MaxLines          *int `json:"maxLines,omitempty" validate:"omitempty,min=1"`
	IsFormatted       bool `json:"isFormatted"`
}

// BitmapImageElementConstraints apply to the original upload of a bitmap image.
type BitmapImageElementConstraints struct {
	IsMandatory          bool           `json:"isMandatory"`
	MaxSize              int64          `json:"maxSize" validate:"min=0"`
	SupportedFileFormats []FileFormat   `json:"supportedFileFormats" validate:"required,min=1"`
	ImageSizeRange       ImageSizeRange `json:"imageSizeRange"`
}

// CompositeBitmapImageElementConstraints apply to a cropped image and its pre-baked
// size-specific variants.
type CompositeBitmapImageElementConstraints struct {
	IsMandatory              bool           `json:"isMandatory"`
	MaxSize                  int64          `json:"maxSize" validate:"min=0"`
	SupportedFileFormats     []FileFormat   `json:"supportedFileFormats" validate:"required,min=1"`
	ImageSizeRange           ImageSizeRange `json:"imageSizeRange"`
	SizeSpecificImageMaxSize int64          `json:"sizeSpecificImageMaxSize" validate:"min=0"`
}

// ArticleElementConstraints apply to zipped html articles.
type ArticleElementConstraints struct {
	IsMandatory       bool  `json:"isMandatory"`
	MaxSize           int64 `json:"maxSize" validate:"min=0"`
	MaxFilenameLength int   `json:"maxFilenameLength" validate:"min=0"`
}

// ElementConstraints holds the constraints of exactly one element kind.
type ElementConstraints struct {
	Text                 *TextElementConstraints                 `json:"text,omitempty"`
	BitmapImage          *BitmapImageElementConstraints          `json:"bitmapImage,omitempty"`
	CompositeBitmapImage *CompositeBitmapImageElementConstraints `json:"compositeBitmapImage,omitempty"`
	Article              *ArticleElementConstraints              `json:"article,omitempty"`
}

// IsMandatory reports whether a value is required, whatever the kind.
func (c ElementConstraints) IsMandatory() bool {
	switch {
	case c.Text != nil:
		return c.Text.IsMandatory
	case c.BitmapImage != nil:
		return c.BitmapImage.IsMandatory
	case c.CompositeBitmapImage != nil:
		return c.CompositeBitmapImage.IsMandatory
	case c.Article != nil:
		return c.Article.IsMandatory
	}
	return false
}

// MaxSize returns the byte limit for binary kinds, 0 meaning unlimited.
func (c ElementConstraints) MaxSize() int64 {
	switch {
	case c.BitmapImage != nil:
		return c.BitmapImage.MaxSize
	case c.CompositeBitmapImage != nil:
		return c.CompositeBitmapImage.MaxSize
	case c.Article != nil:
		return c.Article.MaxSize
	}
	return 0
}

// SupportedFileFormats returns the accepted formats for binary kinds.
func (c ElementConstraints) SupportedFileFormats() []FileFormat {
	switch {
	case c.BitmapImage != nil:
		return c.BitmapImage.SupportedFileFormats
	case c.CompositeBitmapImage != nil:
		return c.CompositeBitmapImage.SupportedFileFormats
	case c.Article != nil:
		return []FileFormat{FileFormatZip}
	}
	return nil
}

// Matches reports whether exactly one kind is populated and it agrees with the element type.
func (c ElementConstraints) Matches(t ElementDescriptorType) bool {
	if c.kinds() != 1 {
		return false
	}
	switch t {
	case ElementPlainText, ElementFormattedText:
		return c.Text != nil
	case ElementBitmapImage:
		return c.BitmapImage != nil
	case ElementCompositeBitmapImage:
		return c.CompositeBitmapImage != nil
	case ElementArticle:
		return c.Article != nil
	}
	return false
}

func (c ElementConstraints) kinds() int {
	n := 0
	for _, set := range []bool{c.Text != nil, c.BitmapImage != nil, c.CompositeBitmapImage != nil, c.Article != nil} {
		if set {
			n++
		}
	}
	return n
}

// ConstraintSet maps languages to the constraints of one element.
type ConstraintSet map[Language]ElementConstraints

// For returns the constraints for lang, falling back to LanguageUnspecified.
func (cs ConstraintSet) For(lang Language) (ElementConstraints, bool) {
	if c, ok := cs[lang]; ok {
		return c, true
	}
	c, ok := cs[LanguageUnspecified]
	return c, ok
}
