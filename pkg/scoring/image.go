// Package scoring provides the ensemble members that turn an uploaded skin image into a score
// vector over the catalog diseases: image decoding, tensor preprocessing, and local (ONNX Runtime)
// and remote (TF-Serving REST) model scorers.
package scoring

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"net/http"
	"strings"

	"github.com/idemdrem-diagnosis-server/internal/domain"
)

// Supported upload content types.
const (
	ContentTypeJPEG = "image/jpeg"
	ContentTypePNG  = "image/png"
)

// IsSupportedContentType reports whether ct names an accepted image format. Parameters such as
// charset are ignored.
func IsSupportedContentType(ct string) bool {
	switch normalizeContentType(ct) {
	case ContentTypeJPEG, ContentTypePNG:
		return true
	}
	return false
}

// DecodeImage validates and decodes an uploaded image. The declared content type must be JPEG or
// PNG when present, and the payload itself must sniff as the same format. The header is read
// first and images whose width*height exceeds maxPixels are rejected without decoding; a
// non-positive maxPixels selects domain.DefaultMaxImagePixels. Every failure is an InputError.
func DecodeImage(data []byte, contentType string, maxPixels int64) (*domain.ImageInput, error) {
	if len(data) == 0 {
		return nil, domain.NewInputError("file", "image payload is empty", nil)
	}

	declared := normalizeContentType(contentType)
	if declared != "" && !IsSupportedContentType(declared) {
		return nil, domain.NewInputError("file", "only image/jpeg and image/png are supported", contentType)
	}

	sniffed := normalizeContentType(http.DetectContentType(data))
	if !IsSupportedContentType(sniffed) {
		return nil, domain.NewInputError("file", "payload is not a JPEG or PNG image", sniffed)
	}
	if declared != "" && declared != sniffed {
		return nil, domain.NewInputError("file", "payload does not match declared content type", contentType)
	}

	if maxPixels <= 0 {
		maxPixels = domain.DefaultMaxImagePixels
	}
	if err := checkDimensions(data, sniffed, maxPixels); err != nil {
		return nil, err
	}

	var (
		img image.Image
		err error
	)
	switch sniffed {
	case ContentTypeJPEG:
		img, err = jpeg.Decode(bytes.NewReader(data))
	case ContentTypePNG:
		img, err = png.Decode(bytes.NewReader(data))
	}
	if err != nil {
		return nil, domain.NewInputError("file", "failed to decode image: "+err.Error(), sniffed)
	}

	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, domain.NewInputError("file", "image has no pixels", sniffed)
	}

	return &domain.ImageInput{Data: data, ContentType: sniffed, Image: img}, nil
}

func checkDimensions(data []byte, contentType string, maxPixels int64) error {
	var (
		cfg image.Config
		err error
	)
	switch contentType {
	case ContentTypeJPEG:
		cfg, err = jpeg.DecodeConfig(bytes.NewReader(data))
	case ContentTypePNG:
		cfg, err = png.DecodeConfig(bytes.NewReader(data))
	}
	if err != nil {
		return domain.NewInputError("file", "failed to read image header: "+err.Error(), contentType)
	}
	if int64(cfg.Width)*int64(cfg.Height) > maxPixels {
		return domain.NewInputError("file", "image dimensions exceed limit",
			fmt.Sprintf("%dx%d > %d pixels", cfg.Width, cfg.Height, maxPixels))
	}
	return nil
}

func normalizeContentType(ct string) string {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	ct = strings.ToLower(strings.TrimSpace(ct))
	if ct == "image/jpg" || ct == "image/pjpeg" {
		return ContentTypeJPEG
	}
	return ct
}
