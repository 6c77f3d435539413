package ingest

import (
	"errors"
	"fmt"
)

// Step identifies which pipeline step an ingestion error came from.
type Step string

const (
	StepStage Step = "stage"
	StepParse Step = "parse"
	StepChunk Step = "chunk"
	StepEmbed Step = "embed"
)

// ErrStagedFileNotFound is returned when a reprocess is requested for a file
// that has no blob in the staging area.
var ErrStagedFileNotFound = errors.New("staged file not found")

// StepError wraps a pipeline failure with the step it occurred in. The
// partial state left behind is reconciled by the dedup pass of the next
// ingestion attempt, so callers only need the step for reporting.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

func stepErr(step Step, err error) error {
	return &StepError{Step: step, Err: err}
}
