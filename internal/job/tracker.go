package job

import (
	"context"
	"time"
)

// Tracker records and aggregates job statuses for one task bound to one
// database. All operations are synchronous round trips to the store.
type Tracker interface {
	// TaskExists reports whether any point for the task is in the store.
	TaskExists(ctx context.Context) (bool, error)

	// CreateTask seeds one IDLE point per job id. fields, when non-nil,
	// supplies per-job auxiliary fields matching ids one to one. With
	// recreate set, all prior points for the task are deleted first;
	// otherwise creating an existing task fails with ErrTaskExists.
	CreateTask(ctx context.Context, ids []string, fields []Fields, recreate bool) error

	// Job returns the full point history for one job, or only its most
	// recent point when last is set.
	Job(ctx context.Context, id string, last bool) ([]Point, error)

	// Jobs classifies every job id under the task into the status bucket
	// of its most recent point.
	Jobs(ctx context.Context) (map[Status][]string, error)

	// Retries counts the historical points of a job with the FAILED flag set.
	Retries(ctx context.Context, id string) (int, error)

	// SetStatus appends a new point for the job with exactly the given
	// status active. Auxiliary fields from the job's previous point are
	// carried forward; caller fields take precedence over them.
	SetStatus(ctx context.Context, id string, s Status, fields Fields) error

	// Convenience wrappers around SetStatus.
	Idle(ctx context.Context, id string, fields Fields) error
	Running(ctx context.Context, id string, fields Fields) error
	Failed(ctx context.Context, id string, fields Fields) error
	Done(ctx context.Context, id string, fields Fields) error

	// TaskCompleted reports whether the last status of every job is DONE.
	TaskCompleted(ctx context.Context) (bool, error)

	// TaskEndTime returns the timestamp of the most recent DONE point,
	// or nil if the task is not completed.
	TaskEndTime(ctx context.Context) (*time.Time, error)
}
