// Package intake validates the image carried by a submission request before
// any storage or network work happens. Validation is pure request-shape
// checking; the result is a typed submission the uploader consumes.
package intake

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"path"
	"strings"
)

// MaxImageBytes caps accepted uploads at 10 MiB, matching the upload form.
const MaxImageBytes = 10 << 20

var (
	// ErrMissingImage means the request carried neither a file nor a source URL.
	ErrMissingImage = errors.New("no image found in request")
	// ErrPayloadTooLarge means the uploaded file exceeds MaxImageBytes.
	ErrPayloadTooLarge = errors.New("image exceeds 10 MiB limit")
	// ErrUnsupportedMediaType means neither the declared content type nor the
	// filename extension matched an allowed image format.
	ErrUnsupportedMediaType = errors.New("only JPG, PNG, GIF, WebP, HEIC and HEIF images are allowed")
)

// allowedFormats doubles as the extension and mime-subtype allow-list.
var allowedFormats = map[string]bool{
	"jpeg": true,
	"jpg":  true,
	"png":  true,
	"gif":  true,
	"webp": true,
	"heic": true,
	"heif": true,
}

// Submission is one in-flight image, either raw uploaded bytes or a reference
// to a preset image by URL. Exactly one variant exists per request; the type
// switch in the uploader covers both.
type Submission interface {
	isSubmission()
}

// FileSubmission holds an uploaded file read fully into memory.
type FileSubmission struct {
	Data        []byte
	Filename    string
	ContentType string
	Size        int64
}

// SourceSubmission references a preset image the uploader fetches itself.
type SourceSubmission struct {
	URL string
}

func (FileSubmission) isSubmission()   {}
func (SourceSubmission) isSubmission() {}

// FromRequest builds the submission from the raw form fields. A source URL
// takes precedence over an attached file, mirroring the upload form.
func FromRequest(file *multipart.FileHeader, sourceURL string) (Submission, error) {
	sourceURL = strings.TrimSpace(sourceURL)
	if sourceURL != "" {
		return SourceSubmission{URL: sourceURL}, nil
	}
	if file == nil {
		return nil, ErrMissingImage
	}
	return FromUpload(file)
}

// FromUpload validates size and media type, then reads the part into memory.
// Size is checked first: an oversized payload is rejected regardless of type.
func FromUpload(file *multipart.FileHeader) (Submission, error) {
	if file.Size > MaxImageBytes {
		return nil, ErrPayloadTooLarge
	}
	contentType := file.Header.Get("Content-Type")
	if !allowedImage(contentType, file.Filename) {
		return nil, ErrUnsupportedMediaType
	}
	src, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()
	data, err := io.ReadAll(io.LimitReader(src, MaxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > MaxImageBytes {
		return nil, ErrPayloadTooLarge
	}
	return FileSubmission{
		Data:        data,
		Filename:    file.Filename,
		ContentType: contentType,
		Size:        int64(len(data)),
	}, nil
}

// allowedImage accepts the file when either the declared content type or the
// filename extension names an allowed format.
func allowedImage(contentType, filename string) bool {
	if sub, ok := strings.CutPrefix(strings.ToLower(contentType), "image/"); ok {
		if allowedFormats[sub] {
			return true
		}
	}
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(filename)), ".")
	return allowedFormats[ext]
}
