package job

import "errors"

// Precondition and consistency errors surfaced by trackers. Callers can
// match them with errors.Is to distinguish invalid usage from store failures.
var (
	ErrMissingTask       = errors.New("task name is required")
	ErrMissingJobID      = errors.New("job id is required")
	ErrEmptyJobIDs       = errors.New("job id list is empty")
	ErrTaskExists        = errors.New("task already exists")
	ErrJobNotFound       = errors.New("job not found in task")
	ErrInvalidStatus     = errors.New("invalid job status")
	ErrStatusConflict    = errors.New("status flags do not sum to one")
	ErrFieldTagCollision = errors.New("field key collides with tag key")
)
