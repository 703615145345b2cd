package core

import (
	"errors"
	"fmt"
)

var (
	ErrClassification = errors.New("classification failed")
	ErrParse          = errors.New("unparseable model output")
	ErrWorker         = errors.New("worker failed")
	ErrSummarization  = errors.New("summarization failed")
)

// StageError is the single failure a caller sees from a run, tagged with the
// stage it originated in.
type StageError struct {
	Stage State
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func stageError(stage State, kind, err error) *StageError {
	if err == nil {
		return &StageError{Stage: stage, Err: kind}
	}
	return &StageError{Stage: stage, Err: fmt.Errorf("%w: %w", kind, err)}
}
