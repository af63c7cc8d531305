// Package pipeline composes intake, upload, inference and persistence into
// the single end-to-end submission flow.
package pipeline

import (
	"context"
	"fmt"
	"mime/multipart"

	"meowroast/internal/auth"
	"meowroast/internal/intake"
	"meowroast/internal/models"
)

// Stage names one discrete step of the submission pipeline. Failure reports
// carry the stage so the caller knows how far the request got.
type Stage string

const (
	StageAuth     Stage = "auth"
	StageValidate Stage = "validate"
	StageUpload   Stage = "upload"
	StageInfer    Stage = "infer"
	StagePersist  Stage = "persist"
	// StagePipeline marks unclassified failures recovered at the
	// orchestrator boundary.
	StagePipeline Stage = "pipeline"
)

// StageError reports which stage aborted the pipeline and why.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("submission failed at %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Uploader persists image bytes and returns a durable public URL.
type Uploader interface {
	Store(ctx context.Context, sub intake.Submission) (string, error)
}

// Annotator produces the generated commentary for a stored image.
type Annotator interface {
	Annotate(ctx context.Context, imageURL string) (string, error)
}

// Recorder persists the completed submission.
type Recorder interface {
	Save(ctx context.Context, userID, userName, imageURL, comment string, isDefault bool) (*models.Photo, error)
}

// Result is what a completed submission returns to the caller.
type Result struct {
	ImageURL string        `json:"imageUrl"`
	Comment  string        `json:"comment"`
	Photo    *models.Photo `json:"-"`
}

// Runner executes submissions. Each request runs as its own goroutine with no
// shared mutable state, so Runner needs no locking.
type Runner struct {
	uploader  Uploader
	annotator Annotator
	photos    Recorder
}

// NewRunner wires the pipeline stages together.
func NewRunner(uploader Uploader, annotator Annotator, photos Recorder) *Runner {
	return &Runner{uploader: uploader, annotator: annotator, photos: photos}
}

// Submit walks one submission through validate, upload, infer and persist.
// The stages are strictly sequential: each consumes the previous stage's
// output. Any stage error aborts immediately; an upload that already
// completed is not rolled back when a later stage fails, the orphaned bytes
// are an accepted cost.
//
// A record is only written after both the upload and the inference call
// succeeded, so a stored photo always implies a full pipeline run.
func (r *Runner) Submit(ctx context.Context, claim *auth.Claims, file *multipart.FileHeader, sourceURL string) (result *Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			result = nil
			err = &StageError{Stage: StagePipeline, Err: fmt.Errorf("unexpected failure: %v", rec)}
		}
	}()

	if claim == nil || claim.Subject == "" {
		return nil, &StageError{Stage: StageAuth, Err: auth.ErrNoCredential}
	}

	sub, err := intake.FromRequest(file, sourceURL)
	if err != nil {
		return nil, &StageError{Stage: StageValidate, Err: err}
	}

	imageURL, err := r.uploader.Store(ctx, sub)
	if err != nil {
		return nil, &StageError{Stage: StageUpload, Err: err}
	}

	comment, err := r.annotator.Annotate(ctx, imageURL)
	if err != nil {
		return nil, &StageError{Stage: StageInfer, Err: err}
	}

	_, isPreset := sub.(intake.SourceSubmission)
	photo, err := r.photos.Save(ctx, claim.Subject, claim.Name, imageURL, comment, isPreset)
	if err != nil {
		return nil, &StageError{Stage: StagePersist, Err: err}
	}

	return &Result{ImageURL: imageURL, Comment: comment, Photo: photo}, nil
}
