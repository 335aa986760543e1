package prospect

import (
	"bytes"
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/h2non/filetype"
	ftypes "github.com/h2non/filetype/types"
)

// ThumbWidth is the bounding width for generated thumbnails. Height scales to
// keep aspect ratio.
const ThumbWidth = 320

// ImageProcessor abstracts content sniffing and thumbnail generation so the
// upload handler can be tested without real image bytes.
type ImageProcessor interface {
	// SniffMIME returns the detected MIME type of the payload.
	SniffMIME(data []byte) (string, error)
	// Thumbnail writes a bounded-width thumbnail of src to dst.
	Thumbnail(src, dst string) error
}

// IsImageMIME reports whether a sniffed MIME type belongs to an image format.
// SVG is text and invisible to magic-byte sniffing, so it is allowed by
// extension at the call site instead.
func IsImageMIME(mime string) bool {
	return strings.HasPrefix(mime, "image/")
}

// filetypeMatchFunc is the filetype matcher used by SniffMIME. Package-level so
// tests can inject a failing matcher to cover the error return path.
var filetypeMatchFunc func([]byte) (ftypes.Type, error) = filetype.Match

// RealImageProcessor implements ImageProcessor using h2non/filetype for MIME
// detection and disintegration/imaging for resizing.
type RealImageProcessor struct{}

// SniffMIME inspects the payload's magic bytes. filetype only needs the first
// 261 bytes; unknown content maps to application/octet-stream.
func (r *RealImageProcessor) SniffMIME(data []byte) (string, error) {
	head := data
	if len(head) > 261 {
		head = head[:261]
	}
	kind, err := filetypeMatchFunc(head)
	if err != nil {
		return "", fmt.Errorf("filetype match error: %w", err)
	}
	if kind == filetype.Unknown {
		return "application/octet-stream", nil
	}
	return kind.MIME.Value, nil
}

// Thumbnail loads src, fits it inside ThumbWidth, and saves it to dst.
func (r *RealImageProcessor) Thumbnail(src, dst string) error {
	img, err := imaging.Open(src)
	if err != nil {
		return fmt.Errorf("cannot open image for thumbnail: %w", err)
	}
	bounds := img.Bounds()
	if bounds.Dx() > ThumbWidth {
		img = imaging.Resize(img, ThumbWidth, 0, imaging.Lanczos)
	}
	if err := imaging.Save(img, dst); err != nil {
		return fmt.Errorf("cannot save thumbnail: %w", err)
	}
	return nil
}

// DecodeDimensions returns the pixel size of an encoded image payload.
func DecodeDimensions(data []byte) (int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("cannot decode image config: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}
