// Package upload persists validated image bytes in Cloudinary and returns the
// durable delivery URL later stages depend on.
package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"

	"meowroast/internal/config"
	"meowroast/internal/intake"
)

var (
	// ErrSourceFetch means downloading a preset image from its source URL
	// failed before any storage work happened.
	ErrSourceFetch = errors.New("fetching source image failed")
	// ErrUploadFailed means the storage provider rejected or failed the upload.
	ErrUploadFailed = errors.New("storage upload failed")
)

const (
	defaultFolder      = "cat_photos"
	sourceFetchTimeout = 30 * time.Second
	// Every upload normalizes to jpg and lets Cloudinary pick delivery
	// encoding and quality.
	outputFormat   = "jpg"
	transformation = "q_auto:good/f_auto"
)

// Cloudinary streams image bytes to the Cloudinary upload API. One attempt per
// call; a failure surfaces immediately to the orchestrator.
type Cloudinary struct {
	cld        *cloudinary.Cloudinary
	folder     string
	httpClient *http.Client
}

// Option customizes the uploader.
type Option func(*Cloudinary)

// WithHTTPClient overrides the client used for source-URL fetches.
func WithHTTPClient(client *http.Client) Option {
	return func(u *Cloudinary) {
		if client != nil {
			u.httpClient = client
		}
	}
}

// NewCloudinary constructs the uploader from the cloudinary config section.
func NewCloudinary(cfg config.CloudinaryConfig, opts ...Option) (*Cloudinary, error) {
	cld, err := cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("init cloudinary: %w", err)
	}
	folder := cfg.Folder
	if folder == "" {
		folder = defaultFolder
	}
	u := &Cloudinary{
		cld:        cld,
		folder:     folder,
		httpClient: &http.Client{Timeout: sourceFetchTimeout},
	}
	for _, opt := range opts {
		opt(u)
	}
	return u, nil
}

// Store uploads the submission and returns the durable public URL. For preset
// submissions the source bytes are fetched synchronously first; that failure
// mode is reported as ErrSourceFetch, distinct from a provider failure.
//
// Bytes already persisted stay persisted even when a later pipeline stage
// fails; nothing here deletes an orphaned upload.
func (u *Cloudinary) Store(ctx context.Context, sub intake.Submission) (string, error) {
	switch s := sub.(type) {
	case intake.FileSubmission:
		return u.upload(ctx, bytes.NewReader(s.Data))
	case intake.SourceSubmission:
		data, err := u.fetchSource(ctx, s.URL)
		if err != nil {
			return "", err
		}
		return u.upload(ctx, bytes.NewReader(data))
	default:
		return "", fmt.Errorf("%w: unknown submission variant %T", ErrUploadFailed, sub)
	}
}

func (u *Cloudinary) fetchSource(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceFetch, err)
	}
	resp, err := u.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceFetch, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: http %d from %s", ErrSourceFetch, resp.StatusCode, rawURL)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, intake.MaxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceFetch, err)
	}
	// Source images obey the same size cap as direct uploads; a truncated
	// prefix must never reach the provider.
	if int64(len(data)) > intake.MaxImageBytes {
		return nil, fmt.Errorf("%w: source image from %s", intake.ErrPayloadTooLarge, rawURL)
	}
	return data, nil
}

func (u *Cloudinary) upload(ctx context.Context, r io.Reader) (string, error) {
	result, err := u.cld.Upload.Upload(ctx, r, uploader.UploadParams{
		ResourceType:   "auto",
		Folder:         u.folder,
		Format:         outputFormat,
		Transformation: transformation,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	if result.Error.Message != "" {
		return "", fmt.Errorf("%w: %s", ErrUploadFailed, result.Error.Message)
	}
	if result.SecureURL == "" {
		return "", fmt.Errorf("%w: provider returned no url", ErrUploadFailed)
	}
	return result.SecureURL, nil
}
