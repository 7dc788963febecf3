package provision

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrRuntimeUnavailable is returned when the container runtime cannot be reached
var ErrRuntimeUnavailable = errors.New("container runtime unavailable")

// ErrHealthGate is returned under strict health checking when the instance
// never became healthy
var ErrHealthGate = errors.New("instance did not become healthy")

// ErrorKind classifies provisioning failures
type ErrorKind string

const (
	PullAuthRequired ErrorKind = "pull_auth_required"
	PullNotFound     ErrorKind = "pull_not_found"
	PullAPIFailure   ErrorKind = "pull_api_failure"
	CreateFailure    ErrorKind = "create_failure"
	StartFailure     ErrorKind = "start_failure"
)

// Error is a fatal provisioning failure
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Cause supports errors.Cause from github.com/pkg/errors
func (e *Error) Cause() error { return e.Err }

// KindOf returns the kind of a provisioning error anywhere in err's chain
func KindOf(err error) (ErrorKind, bool) {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind, true
	}
	return "", false
}
