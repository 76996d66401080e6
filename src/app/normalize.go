package app

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"strings"

	// Registers the PNG decoder for image.Decode.
	_ "image/png"

	"golang.org/x/image/draw"
)

const (
	// MaxFileBytes is the upload size ceiling (10 MB).
	MaxFileBytes = 10 * 1024 * 1024
	// MaxDimensionPx bounds the longest edge after normalization.
	MaxDimensionPx = 448
	// JpegQuality is the single re-encode quality level.
	JpegQuality = 100
)

var (
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrTooLarge        = errors.New("file too large")
	ErrDecode          = errors.New("failed to decode image")
)

// allowedTypes is the MIME allow-list for uploads. Checked before any
// decode work so a bad file never touches the codecs.
var allowedTypes = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
}

// NormalizationError carries the validation failure class together with the
// user-facing message.
type NormalizationError struct {
	Kind    error
	Message string
}

func (e *NormalizationError) Error() string { return e.Message }

func (e *NormalizationError) Unwrap() error { return e.Kind }

// Normalize validates a user-selected file and produces an upload-ready
// JPEG data-URL. The image is downscaled so its longest edge fits within
// MaxDimensionPx, never upscaled. If re-encoding fails after a successful
// decode, the original bytes are returned unmodified as a data-URL: the
// input is preserved rather than the whole selection failing.
func Normalize(mimeType string, data []byte) (string, error) {
	if _, ok := allowedTypes[mimeType]; !ok {
		return "", &NormalizationError{
			Kind:    ErrUnsupportedType,
			Message: "Unsupported file type. Please upload a JPEG or PNG image.",
		}
	}
	if len(data) > MaxFileBytes {
		return "", &NormalizationError{
			Kind: ErrTooLarge,
			Message: fmt.Sprintf("File is too large (%.1f MB). Maximum allowed size is %d MB.",
				float64(len(data))/1024/1024, MaxFileBytes/1024/1024),
		}
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", &NormalizationError{
			Kind:    ErrDecode,
			Message: "Failed to process the image. Please try a different file.",
		}
	}

	scaled, err := scaleToFit(src, MaxDimensionPx)
	if err != nil {
		// Lenient degradation: keep the original, unscaled bytes.
		return DataURL(mimeType, data), nil
	}

	var out bytes.Buffer
	if err := jpeg.Encode(&out, scaled, &jpeg.Options{Quality: JpegQuality}); err != nil {
		return DataURL(mimeType, data), nil
	}
	return DataURL("image/jpeg", out.Bytes()), nil
}

// scaleToFit shrinks src so max(w,h) <= maxEdge, preserving aspect ratio.
// Scale clamps at 1: an image already inside the budget is redrawn at its
// own size and only re-encoded.
func scaleToFit(src image.Image, maxEdge int) (image.Image, error) {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("invalid image dimensions %dx%d", w, h)
	}

	longest := w
	if h > longest {
		longest = h
	}
	scale := 1.0
	if maxEdge < longest {
		scale = float64(maxEdge) / float64(longest)
	}

	outW := int(float64(w)*scale + 0.5)
	outH := int(float64(h)*scale + 0.5)
	dst := image.NewRGBA(image.Rect(0, 0, outW, outH))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, bounds, draw.Src, nil)
	return dst, nil
}

// DataURL encodes binary data as a base64 data-URL.
func DataURL(mimeType string, data []byte) string {
	return fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data))
}

// DecodeDataURL reverses DataURL, returning the MIME type and raw bytes.
func DecodeDataURL(dataURL string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(dataURL, "data:")
	if !ok {
		return "", nil, fmt.Errorf("not a data-URL")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, fmt.Errorf("malformed data-URL")
	}
	mimeType, _, _ := strings.Cut(meta, ";")
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("decode data-URL payload: %w", err)
	}
	return mimeType, raw, nil
}
