package validation

import (
	"archive/zip"
	"bufio"
	"errors"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"path"
	"strings"
	"unicode/utf8"

	_ "golang.org/x/image/bmp"

	"github.com/tendant/simple-vstore/pkg/vstore/descriptors"
)

// SniffLen is the number of leading bytes inspected to detect a file format.
const SniffLen = 512

// ImageInfo describes a decoded image header.
type ImageInfo struct {
	Format descriptors.FileFormat
	Size   descriptors.ImageSize
}

// DetectFormat sniffs the format of a file from its leading bytes.
func DetectFormat(header []byte) (descriptors.FileFormat, bool) {
	switch http.DetectContentType(header) {
	case "image/png":
		return descriptors.FileFormatPng, true
	case "image/gif":
		return descriptors.FileFormatGif, true
	case "image/jpeg":
		return descriptors.FileFormatJpeg, true
	case "image/bmp":
		return descriptors.FileFormatBmp, true
	case "application/zip":
		return descriptors.FileFormatZip, true
	}
	return "", false
}

// CheckFormat verifies the declared format is supported and agrees with the sniffed one.
// The sniffed format is returned on success.
func CheckFormat(supported []descriptors.FileFormat, declared descriptors.FileFormat, header []byte) (descriptors.FileFormat, error) {
	if !descriptors.ContainsFormat(supported, declared) {
		return "", &BinaryInvalidFormatError{}
	}
	sniffed, ok := DetectFormat(header)
	if !ok || !sniffed.Equivalent(declared) {
		return "", &BinaryInvalidFormatError{}
	}
	return sniffed, nil
}

// ValidateSize checks the byte length of an upload. A maxSize of zero disables the limit.
func ValidateSize(templateCode int, maxSize, actual int64) error {
	if actual <= 0 {
		return NewElementError(templateCode, &BinaryEmptyError{})
	}
	if maxSize > 0 && actual > maxSize {
		return NewElementError(templateCode, &BinaryTooLargeError{MaxSize: maxSize, Actual: actual})
	}
	return nil
}

// ValidateBitmapImageOriginalHeader checks the format and dimensions of a bitmap image.
func ValidateBitmapImageOriginalHeader(templateCode int, c descriptors.BitmapImageElementConstraints, declared descriptors.FileFormat, r io.Reader) (ImageInfo, error) {
	return validateOriginalHeader(templateCode, c.SupportedFileFormats, c.ImageSizeRange, declared, r)
}

// ValidateCompositeBitmapImageOriginalHeader checks the format and dimensions of the
// original of a composite image.
func ValidateCompositeBitmapImageOriginalHeader(templateCode int, c descriptors.CompositeBitmapImageElementConstraints, declared descriptors.FileFormat, r io.Reader) (ImageInfo, error) {
	return validateOriginalHeader(templateCode, c.SupportedFileFormats, c.ImageSizeRange, declared, r)
}

// ValidateSizeSpecificBitmapImageHeader checks a pre-baked variant of a composite image:
// it must be square and exactly the target size.
func ValidateSizeSpecificBitmapImageHeader(templateCode int, c descriptors.CompositeBitmapImageElementConstraints, declared descriptors.FileFormat, r io.Reader, target descriptors.ImageSize) (ImageInfo, error) {
	info, err := readImageHeader(c.SupportedFileFormats, declared, r)
	if err != nil {
		return ImageInfo{}, asElementError(templateCode, err)
	}
	if !info.Size.IsSquare() {
		return info, NewElementError(templateCode, &SizeSpecificImageIsNotSquareError{})
	}
	if info.Size != target {
		return info, NewElementError(templateCode, &SizeSpecificImageTargetSizeNotEqualToActualSizeError{
			Expected: target,
			Actual:   info.Size,
		})
	}
	return info, nil
}

func validateOriginalHeader(templateCode int, formats []descriptors.FileFormat, sizeRange descriptors.ImageSizeRange, declared descriptors.FileFormat, r io.Reader) (ImageInfo, error) {
	info, err := readImageHeader(formats, declared, r)
	if err != nil {
		return ImageInfo{}, asElementError(templateCode, err)
	}
	if !sizeRange.Contains(info.Size) {
		return info, NewElementError(templateCode, &ImageSizeOutOfRangeError{Actual: info.Size})
	}
	return info, nil
}

func readImageHeader(formats []descriptors.FileFormat, declared descriptors.FileFormat, r io.Reader) (ImageInfo, error) {
	tr := &trackingReader{r: r}
	br := bufio.NewReaderSize(tr, SniffLen)
	header, err := br.Peek(SniffLen)
	if err != nil && !errors.Is(err, io.EOF) {
		return ImageInfo{}, err
	}
	format, err := CheckFormat(formats, declared, header)
	if err != nil {
		return ImageInfo{}, err
	}

	cfg, _, err := image.DecodeConfig(br)
	if err != nil {
		if tr.err != nil {
			return ImageInfo{}, tr.err
		}
		return ImageInfo{}, &InvalidImageError{}
	}
	return ImageInfo{Format: format, Size: descriptors.ImageSize{Width: cfg.Width, Height: cfg.Height}}, nil
}

// ValidateArticle checks that an article upload is a zip archive with index.html at its root.
func ValidateArticle(templateCode int, c descriptors.ArticleElementConstraints, fileName string, r io.ReaderAt, size int64) error {
	if n := utf8.RuneCountInString(fileName); c.MaxFilenameLength > 0 && n > c.MaxFilenameLength {
		return NewElementError(templateCode, &FilenameTooLongError{MaxLength: c.MaxFilenameLength, Actual: n})
	}
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return NewElementError(templateCode, &BinaryInvalidFormatError{})
	}
	for _, f := range zr.File {
		if strings.EqualFold(path.Clean(f.Name), "index.html") {
			return nil
		}
	}
	return NewElementError(templateCode, &ArticleIndexMissingError{})
}

func asElementError(templateCode int, err error) error {
	var verr Error
	if errors.As(err, &verr) {
		return NewElementError(templateCode, verr)
	}
	return err
}

// trackingReader remembers the first non-EOF read error so that transport failures are
// not reported as undecodable images.
type trackingReader struct {
	r   io.Reader
	err error
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) && t.err == nil {
		t.err = err
	}
	return n, err
}
