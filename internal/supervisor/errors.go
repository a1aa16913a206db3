package supervisor

import (
	"fmt"
	"strings"
)

// SpawnError reports that the OS (or container engine) refused to create
// the gateway process. The supervisor state is unchanged when it is returned.
type SpawnError struct {
	Command []string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %q: %v", strings.Join(e.Command, " "), e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// TerminationError reports that a graceful signal and the forced kill both
// failed to bring the process down. The handle is cleared optimistically
// before this is returned, so status keeps reporting not-running.
type TerminationError struct {
	PID int
	Err error
}

func (e *TerminationError) Error() string {
	return fmt.Sprintf("terminate pid %d: %v", e.PID, e.Err)
}

func (e *TerminationError) Unwrap() error {
	return e.Err
}
