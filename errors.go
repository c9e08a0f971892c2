package batchmast

import "fmt"

// CollectionError reports a failure while collecting job results. It
// carries the submissions still outstanding so the caller can resume
// collection later instead of losing the jobs.
type CollectionError struct {
	Collection map[string]Submission
	Err        error
}

func (e *CollectionError) Error() string {
	return fmt.Sprintf("collecting %d jobs: %v", len(e.Collection), e.Err)
}

func (e *CollectionError) Unwrap() error {
	return e.Err
}
