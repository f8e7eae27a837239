package descriptors

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// Language identifies a language variant of a template.
type Language string

// LanguageUnspecified matches any language in a ConstraintSet.
const LanguageUnspecified Language = "unspecified"

// ParseLanguage normalizes a language code taken from a request.
func ParseLanguage(s string) (Language, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", fmt.Errorf("empty language")
	}
	return Language(s), nil
}

// FileFormat is the format of a binary element value.
type FileFormat string

const (
	FileFormatPng  FileFormat = "png"
	FileFormatGif  FileFormat = "gif"
	FileFormatJpg  FileFormat = "jpg"
	FileFormatJpeg FileFormat = "jpeg"
	FileFormatBmp  FileFormat = "bmp"
	FileFormatZip  FileFormat = "zip"
)

var knownFormats = map[FileFormat]string{
	FileFormatPng:  "image/png",
	FileFormatGif:  "image/gif",
	FileFormatJpg:  "image/jpeg",
	FileFormatJpeg: "image/jpeg",
	FileFormatBmp:  "image/bmp",
	FileFormatZip:  "application/zip",
}

// ParseFileFormat derives the declared format of a file from its extension.
func ParseFileFormat(fileName string) (FileFormat, bool) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(fileName)), ".")
	f := FileFormat(ext)
	if _, ok := knownFormats[f]; !ok {
		return "", false
	}
	return f, true
}

// MimeType returns the canonical content type for the format.
func (f FileFormat) MimeType() string {
	if m, ok := knownFormats[f]; ok {
		return m
	}
	return "application/octet-stream"
}

// Equivalent reports whether two formats denote the same encoding (jpg and jpeg).
func (f FileFormat) Equivalent(other FileFormat) bool {
	return f.canonical() == other.canonical()
}

func (f FileFormat) canonical() FileFormat {
	f = FileFormat(strings.ToLower(string(f)))
	if f == FileFormatJpg {
		return FileFormatJpeg
	}
	return f
}

// ContainsFormat reports whether formats holds a format equivalent to f.
func ContainsFormat(formats []FileFormat, f FileFormat) bool {
	for _, candidate := range formats {
		if candidate.Equivalent(f) {
			return true
		}
	}
	return false
}

// ImageSize is a width/height pair in pixels.
type ImageSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (s ImageSize) String() string {
	return strconv.Itoa(s.Width) + "x" + strconv.Itoa(s.Height)
}

// IsSquare reports whether width equals height.
func (s ImageSize) IsSquare() bool {
	return s.Width == s.Height
}

// Pixels returns width*height.
func (s ImageSize) Pixels() int64 {
	return int64(s.Width) * int64(s.Height)
}

// ParseImageSize parses "WxH".
func ParseImageSize(s string) (ImageSize, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return ImageSize{}, fmt.Errorf("invalid image size %q", s)
	}
	width, err := strconv.Atoi(w)
	if err != nil {
		return ImageSize{}, fmt.Errorf("invalid image width %q: %w", w, err)
	}
	height, err := strconv.Atoi(h)
	if err != nil {
		return ImageSize{}, fmt.Errorf("invalid image height %q: %w", h, err)
	}
	if width < 1 || height < 1 {
		return ImageSize{}, fmt.Errorf("image size %q must be positive", s)
	}
	return ImageSize{Width: width, Height: height}, nil
}

// ImageSizeRange bounds the dimensions of an original image, inclusive.
type ImageSizeRange struct {
	Min ImageSize `json:"min"`
	Max ImageSize `json:"max"`
}

// Contains checks both dimensions of s against the range.
func (r ImageSizeRange) Contains(s ImageSize) bool {
	return s.Width >= r.Min.Width && s.Width <= r.Max.Width &&
		s.Height >= r.Min.Height && s.Height <= r.Max.Height
}
