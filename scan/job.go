package scan

import (
	"fmt"
	"time"

	"github.com/agentivy/sentinel/internal/hashutil"
)

// JobState tracks one scan request through submission and polling.
type JobState string

const (
	StateSubmitted JobState = "submitted"
	StatePolling   JobState = "polling"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
	StateTimedOut  JobState = "timed_out"
)

// Terminal reports whether no further transition may leave this state.
func (s JobState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateTimedOut:
		return true
	}
	return false
}

// Job is the gateway's handle for one scan request. One job per artifact
// submission; jobs are never reused. Only the gateway drives transitions.
type Job struct {
	ID          string
	Kind        ArtifactKind
	ArtifactRef string
	Hashes      hashutil.Hashes
	State       JobState
	Attempts    int
	SubmittedAt time.Time
}

// advance moves the job to the given state, refusing to leave a terminal one.
func (j *Job) advance(to JobState) error {
	if j.State.Terminal() {
		return fmt.Errorf("scan job %s is already %s, cannot become %s", j.ID, j.State, to)
	}
	j.State = to
	return nil
}
