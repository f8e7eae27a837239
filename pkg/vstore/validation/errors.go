package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tendant/simple-vstore/pkg/vstore/descriptors"
)

// ErrorType is the machine-readable tag of a validation error.
type ErrorType string

const (
	TypeSupportedFileFormats        ErrorType = "supportedFileFormats"
	TypeMaxSize                     ErrorType = "maxSize"
	TypeBinaryNotEmpty              ErrorType = "binaryNotEmpty"
	TypeValidImage                  ErrorType = "validImage"
	TypeImageSizeRange              ErrorType = "imageSizeRange"
	TypeSizeSpecificImageIsSquare   ErrorType = "sizeSpecificImageIsSquare"
	TypeSizeSpecificImageTargetSize ErrorType = "sizeSpecificImageTargetSize"
	TypeSupportedListElements       ErrorType = "supportedListElements"
	TypeSupportedTags               ErrorType = "supportedTags"
	TypeIsMandatory                 ErrorType = "isMandatory"
	TypeMaxSymbols                  ErrorType = "maxSymbols"
	TypeMinSymbolsPerWord           ErrorType = "minSymbolsPerWord"
	TypeMaxSymbolsPerWord           ErrorType = "maxSymbolsPerWord"
	TypeMaxLines                    ErrorType = "maxLines"
	TypeArticleContainsIndexFile    ErrorType = "articleContainsIndexFile"
	TypeMaxFilenameLength           ErrorType = "maxFilenameLength"
	TypeBinaryExists                ErrorType = "binaryExists"
)

// Error is a single constraint violation. The set of implementations is closed.
type Error interface {
	error
	json.Marshaler
	Type() ErrorType
	validationError()
}

type envelope struct {
	ErrorType ErrorType `json:"errorType"`
	Value     any       `json:"value,omitempty"`
}

func encode(t ErrorType, value any) ([]byte, error) {
	return json.Marshal(envelope{ErrorType: t, Value: value})
}

// BinaryInvalidFormatError reports a file whose format is not accepted by the element.
type BinaryInvalidFormatError struct{}

func (*BinaryInvalidFormatError) Type() ErrorType                { return TypeSupportedFileFormats }
func (*BinaryInvalidFormatError) Error() string                  { return "file format is not supported" }
func (e *BinaryInvalidFormatError) MarshalJSON() ([]byte, error) { return encode(e.Type(), nil) }
func (*BinaryInvalidFormatError) validationError()               {}

// BinaryTooLargeError reports a file exceeding the element size limit.
type BinaryTooLargeError struct {
	MaxSize int64 `json:"maxSize"`
	Actual  int64 `json:"actual"`
}

func (*BinaryTooLargeError) Type() ErrorType { return TypeMaxSize }
func (e *BinaryTooLargeError) Error() string {
	return fmt.Sprintf("file size %d exceeds limit %d", e.Actual, e.MaxSize)
}
func (e *BinaryTooLargeError) MarshalJSON() ([]byte, error) {
	type payload BinaryTooLargeError
	return encode(e.Type(), (*payload)(e))
}
func (*BinaryTooLargeError) validationError() {}

// BinaryEmptyError reports an upload without content.
type BinaryEmptyError struct{}

func (*BinaryEmptyError) Type() ErrorType                { return TypeBinaryNotEmpty }
func (*BinaryEmptyError) Error() string                  { return "file is empty" }
func (e *BinaryEmptyError) MarshalJSON() ([]byte, error) { return encode(e.Type(), nil) }
func (*BinaryEmptyError) validationError()               {}

// InvalidImageError reports an image whose header cannot be decoded.
type InvalidImageError struct{}

func (*InvalidImageError) Type() ErrorType                { return TypeValidImage }
func (*InvalidImageError) Error() string                  { return "image cannot be decoded" }
func (e *InvalidImageError) MarshalJSON() ([]byte, error) { return encode(e.Type(), nil) }
func (*InvalidImageError) validationError()               {}

// ImageSizeOutOfRangeError reports original image dimensions outside the allowed range.
type ImageSizeOutOfRangeError struct {
	Actual descriptors.ImageSize
}

func (*ImageSizeOutOfRangeError) Type() ErrorType { return TypeImageSizeRange }
func (e *ImageSizeOutOfRangeError) Error() string {
	return fmt.Sprintf("image size %s is out of range", e.Actual)
}
func (e *ImageSizeOutOfRangeError) MarshalJSON() ([]byte, error) { return encode(e.Type(), e.Actual) }
func (*ImageSizeOutOfRangeError) validationError()               {}

// SizeSpecificImageIsNotSquareError reports a pre-baked variant with width != height.
type SizeSpecificImageIsNotSquareError struct{}

func (*SizeSpecificImageIsNotSquareError) Type() ErrorType { return TypeSizeSpecificImageIsSquare }
func (*SizeSpecificImageIsNotSquareError) Error() string {
	return "size specific image is not square"
}
func (e *SizeSpecificImageIsNotSquareError) MarshalJSON() ([]byte, error) {
	return encode(e.Type(), nil)
}
func (*SizeSpecificImageIsNotSquareError) validationError() {}

// SizeSpecificImageTargetSizeNotEqualToActualSizeError reports a pre-baked variant whose
// dimensions differ from the requested target.
type SizeSpecificImageTargetSizeNotEqualToActualSizeError struct {
	Expected descriptors.ImageSize `json:"expected"`
	Actual   descriptors.ImageSize `json:"actual"`
}

func (*SizeSpecificImageTargetSizeNotEqualToActualSizeError) Type() ErrorType {
	return TypeSizeSpecificImageTargetSize
}
func (e *SizeSpecificImageTargetSizeNotEqualToActualSizeError) Error() string {
	return fmt.Sprintf("size specific image is %s, expected %s", e.Actual, e.Expected)
}
func (e *SizeSpecificImageTargetSizeNotEqualToActualSizeError) MarshalJSON() ([]byte, error) {
	type payload SizeSpecificImageTargetSizeNotEqualToActualSizeError
	return encode(e.Type(), (*payload)(e))
}
func (*SizeSpecificImageTargetSizeNotEqualToActualSizeError) validationError() {}

// UnsupportedMarkupElementError reports an unsupported child inside an unordered list.
type UnsupportedMarkupElementError struct{}

func (*UnsupportedMarkupElementError) Type() ErrorType { return TypeSupportedListElements }
func (*UnsupportedMarkupElementError) Error() string {
	return "list contains unsupported elements"
}
func (e *UnsupportedMarkupElementError) MarshalJSON() ([]byte, error) {
	return encode(e.Type(), nil)
}
func (*UnsupportedMarkupElementError) validationError() {}

// UnsupportedTagsError reports markup tags outside the formatted text allow-list.
type UnsupportedTagsError struct {
	Tags []string
}

func (*UnsupportedTagsError) Type() ErrorType { return TypeSupportedTags }
func (e *UnsupportedTagsError) Error() string {
	return "unsupported tags: " + strings.Join(e.Tags, ", ")
}
func (e *UnsupportedTagsError) MarshalJSON() ([]byte, error) { return encode(e.Type(), e.Tags) }
func (*UnsupportedTagsError) validationError()               {}

// ElementIsMandatoryError reports a missing value for a mandatory element.
type ElementIsMandatoryError struct{}

func (*ElementIsMandatoryError) Type() ErrorType                { return TypeIsMandatory }
func (*ElementIsMandatoryError) Error() string                  { return "element is mandatory" }
func (e *ElementIsMandatoryError) MarshalJSON() ([]byte, error) { return encode(e.Type(), nil) }
func (*ElementIsMandatoryError) validationError()               {}

// TextTooLongError reports text with more symbols than allowed.
type TextTooLongError struct {
	MaxSymbols int `json:"maxSymbols"`
	Actual     int `json:"actual"`
}

func (*TextTooLongError) Type() ErrorType { return TypeMaxSymbols }
func (e *TextTooLongError) Error() string {
	return fmt.Sprintf("text has %d symbols, limit is %d", e.Actual, e.MaxSymbols)
}
func (e *TextTooLongError) MarshalJSON() ([]byte, error) {
	type payload TextTooLongError
	return encode(e.Type(), (*payload)(e))
}
func (*TextTooLongError) validationError() {}

// WordsTooShortError lists words shorter than the element minimum.
type WordsTooShortError struct {
	MinSymbolsPerWord int      `json:"min"`
	Words             []string `json:"words"`
}

func (*WordsTooShortError) Type() ErrorType { return TypeMinSymbolsPerWord }
func (e *WordsTooShortError) Error() string {
	return fmt.Sprintf("words shorter than %d symbols: %s", e.MinSymbolsPerWord, strings.Join(e.Words, ", "))
}
func (e *WordsTooShortError) MarshalJSON() ([]byte, error) {
	type payload WordsTooShortError
	return encode(e.Type(), (*payload)(e))
}
func (*WordsTooShortError) validationError() {}

// WordsTooLongError lists words longer than the element maximum.
type WordsTooLongError struct {
	MaxSymbolsPerWord int      `json:"max"`
	Words             []string `json:"words"`
}

func (*WordsTooLongError) Type() ErrorType { return TypeMaxSymbolsPerWord }
func (e *WordsTooLongError) Error() string {
	return fmt.Sprintf("words longer than %d symbols: %s", e.MaxSymbolsPerWord, strings.Join(e.Words, ", "))
}
func (e *WordsTooLongError) MarshalJSON() ([]byte, error) {
	type payload WordsTooLongError
	return encode(e.Type(), (*payload)(e))
}
func (*WordsTooLongError) validationError() {}

// TooManyLinesError reports text with more lines than allowed.
type TooManyLinesError struct {
	MaxLines int `json:"maxLines"`
	Actual   int `json:"actual"`
}

func (*TooManyLinesError) Type() ErrorType { return TypeMaxLines }
func (e *TooManyLinesError) Error() string {
	return fmt.Sprintf("text has %d lines, limit is %d", e.Actual, e.MaxLines)
}
func (e *TooManyLinesError) MarshalJSON() ([]byte, error) {
	type payload TooManyLinesError
	return encode(e.Type(), (*payload)(e))
}
func (*TooManyLinesError) validationError() {}

// ArticleIndexMissingError reports an article archive without index.html.
type ArticleIndexMissingError struct{}

func (*ArticleIndexMissingError) Type() ErrorType { return TypeArticleContainsIndexFile }
func (*ArticleIndexMissingError) Error() string   { return "article does not contain index.html" }
func (e *ArticleIndexMissingError) MarshalJSON() ([]byte, error) {
	return encode(e.Type(), nil)
}
func (*ArticleIndexMissingError) validationError() {}

// FilenameTooLongError reports an uploaded file name above the element limit.
type FilenameTooLongError struct {
	MaxLength int `json:"maxLength"`
	Actual    int `json:"actual"`
}

func (*FilenameTooLongError) Type() ErrorType { return TypeMaxFilenameLength }
func (e *FilenameTooLongError) Error() string {
	return fmt.Sprintf("file name has %d symbols, limit is %d", e.Actual, e.MaxLength)
}
func (e *FilenameTooLongError) MarshalJSON() ([]byte, error) {
	type payload FilenameTooLongError
	return encode(e.Type(), (*payload)(e))
}
func (*FilenameTooLongError) validationError() {}

// BinaryNotFoundError reports an element value referencing a blob that does not exist.
type BinaryNotFoundError struct {
	Key string
}

func (*BinaryNotFoundError) Type() ErrorType                { return TypeBinaryExists }
func (e *BinaryNotFoundError) Error() string                { return "binary " + e.Key + " not found" }
func (e *BinaryNotFoundError) MarshalJSON() ([]byte, error) { return encode(e.Type(), e.Key) }
func (*BinaryNotFoundError) validationError()               {}

// ElementError carries the violations found for one template element.
type ElementError struct {
	TemplateCode int
	Errors       []Error
}

// NewElementError wraps violations of the element identified by templateCode.
func NewElementError(templateCode int, errs ...Error) *ElementError {
	return &ElementError{TemplateCode: templateCode, Errors: errs}
}

func (e *ElementError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("element %d is invalid: %s", e.TemplateCode, strings.Join(msgs, "; "))
}

func (e *ElementError) Unwrap() []error {
	out := make([]error, len(e.Errors))
	for i, err := range e.Errors {
		out[i] = err
	}
	return out
}

func (e *ElementError) MarshalJSON() ([]byte, error) {
	errs := e.Errors
	if errs == nil {
		errs = []Error{}
	}
	return json.Marshal(struct {
		TemplateCode int     `json:"templateCode"`
		Errors       []Error `json:"errors"`
	}{e.TemplateCode, errs})
}

// InvalidObjectError aggregates element violations found when committing an object.
type InvalidObjectError struct {
	Errors   []Error
	Elements []*ElementError
}

func (e *InvalidObjectError) Error() string {
	msgs := make([]string, 0, len(e.Errors)+len(e.Elements))
	for _, err := range e.Errors {
		msgs = append(msgs, err.Error())
	}
	for _, err := range e.Elements {
		msgs = append(msgs, err.Error())
	}
	return "object is invalid: " + strings.Join(msgs, "; ")
}

func (e *InvalidObjectError) Unwrap() []error {
	out := make([]error, 0, len(e.Errors)+len(e.Elements))
	for _, err := range e.Errors {
		out = append(out, err)
	}
	for _, err := range e.Elements {
		out = append(out, err)
	}
	return out
}

func (e *InvalidObjectError) MarshalJSON() ([]byte, error) {
	errs, elements := e.Errors, e.Elements
	if errs == nil {
		errs = []Error{}
	}
	if elements == nil {
		elements = []*ElementError{}
	}
	return json.Marshal(struct {
		Errors   []Error         `json:"errors"`
		Elements []*ElementError `json:"elements"`
	}{errs, elements})
}
