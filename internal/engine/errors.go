package engine

import "fmt"

// StageFatalError marks a stage failure the session cannot recover from. The
// session transitions to failed and stops.
type StageFatalError struct {
	Stage SessionStatus
	Err   error
}

func (e StageFatalError) Error() string {
	return fmt.Sprintf("stage %s failed fatally: %v", e.Stage, e.Err)
}

func (e StageFatalError) Unwrap() error { return e.Err }
