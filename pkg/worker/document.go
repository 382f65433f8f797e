package worker

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/autoflow/autoflow/internal/engine"
	"github.com/autoflow/autoflow/internal/taskqueue"
	"github.com/autoflow/autoflow/pkg/api"
)

// Extractor turns an uploaded file into plain text.
type Extractor interface {
	Extract(path, fileType string) (string, error)
}

// FileExtractor reads text files straight from disk. PDF extraction needs a
// parser this module does not bundle; plug one in via the PDF hook.
type FileExtractor struct {
	// PDF extracts text from a PDF file. Left nil, PDF inputs are rejected.
	PDF func(path string) (string, error)
}

var _ Extractor = (*FileExtractor)(nil)

func (e *FileExtractor) Extract(path, fileType string) (string, error) {
	switch fileType {
	case "application/pdf":
		if e.PDF == nil {
			return "", fmt.Errorf("PDF extraction not configured for %s", path)
		}
		return e.PDF(path)
	default:
		// text/plain, text/markdown, and anything else readable as text.
		data, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}

// DocumentExecutor handles document-processing jobs: extract the file's
// text, fold it into the run input, then start the workflow's first step.
type DocumentExecutor struct {
	orch      *engine.Orchestrator
	extractor Extractor
	logger    zerolog.Logger
}

var _ Executor = (*DocumentExecutor)(nil)

// NewDocumentExecutor creates a DocumentExecutor. A nil extractor defaults
// to a plain FileExtractor.
func NewDocumentExecutor(orch *engine.Orchestrator, extractor Extractor, logger zerolog.Logger) *DocumentExecutor {
	if extractor == nil {
		extractor = &FileExtractor{}
	}
	return &DocumentExecutor{
		orch:      orch,
		extractor: extractor,
		logger:    logger,
	}
}

func (e *DocumentExecutor) Execute(ctx context.Context, job *taskqueue.Job) error {
	payload := job.Document
	if payload == nil {
		return fmt.Errorf("job %s has no document payload", job.ID)
	}

	e.logger.Info().
		Str("jobId", job.ID).
		Str("runId", payload.RunID).
		Str("fileType", payload.FileType).
		Msg("processing document")

	text, err := e.extractor.Extract(payload.FileURL, payload.FileType)
	if err != nil {
		e.orch.AddLog(ctx, payload.RunID, "", api.LogError,
			fmt.Sprintf("Document processing failed: %s", err), nil)
		return err
	}

	if err := e.orch.MergeRunInput(ctx, payload.RunID, map[string]any{
		"extractedText": text,
		"originalFile":  payload.FileURL,
		"fileType":      payload.FileType,
	}); err != nil {
		return err
	}

	e.orch.AddLog(ctx, payload.RunID, "", api.LogInfo,
		fmt.Sprintf("Document processed: %d characters extracted", len(text)), nil)
	e.logger.Info().
		Str("jobId", job.ID).
		Str("runId", payload.RunID).
		Int("charactersExtracted", len(text)).
		Msg("document processing completed")

	return e.orch.StartFirstStep(ctx, payload.RunID)
}

// FailRunOnExhausted returns an OnExhausted hook that fails the job's run.
// Document jobs run before any step exists, so nothing else would ever move
// the run out of pending once extraction gives up.
func (e *DocumentExecutor) FailRunOnExhausted() func(ctx context.Context, job *taskqueue.Job, err error) {
	return func(ctx context.Context, job *taskqueue.Job, err error) {
		if job.Document == nil {
			return
		}
		run, getErr := e.orch.GetRun(ctx, job.Document.RunID)
		if getErr != nil {
			e.logger.Error().Err(getErr).Str("runId", job.Document.RunID).Msg("cannot fail run after extraction gave up")
			return
		}
		if run.Status.Terminal() {
			return
		}
		if failErr := e.orch.FailRun(ctx, run, fmt.Sprintf("Document processing failed: %s", err)); failErr != nil {
			e.logger.Error().Err(failErr).Str("runId", run.ID).Msg("failed to fail run")
		}
	}
}
