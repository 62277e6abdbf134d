// Package job defines the job status model recorded as time-series points.
package job

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Status represents the lifecycle state of a job within a task.
type Status string

const (
	StatusIdle    Status = "IDLE"
	StatusRunning Status = "RUNNING"
	StatusFailed  Status = "FAILED"
	StatusDone    Status = "DONE"
)

// Statuses returns the canonical statuses in declaration order.
func Statuses() []Status {
	return []Status{StatusIdle, StatusRunning, StatusFailed, StatusDone}
}

// Valid reports whether s is one of the canonical statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusIdle, StatusRunning, StatusFailed, StatusDone:
		return true
	}
	return false
}

// Task identifies the set of jobs sharing a (task, campaign, block) triple.
type Task struct {
	Name     string `json:"task"`
	Campaign string `json:"campaign"`
	Block    int    `json:"block"`
}

// Tags returns the identity tags of the task. The "id" tag is added per job
// when points are built.
func (t Task) Tags() map[string]string {
	return map[string]string{
		"task":     t.Name,
		"campaign": t.Campaign,
		"block":    strconv.Itoa(t.Block),
	}
}

// TagKeys lists the point tag keys in the order they appear in queries.
func TagKeys() []string {
	return []string{"task", "campaign", "block", "id"}
}

// Fields holds the field set of a point: the four canonical status flags
// plus any caller-supplied auxiliary values (numeric or string).
type Fields map[string]interface{}

// Flag reports whether the canonical flag for s is present and positive.
func (f Fields) Flag(s Status) bool {
	v, ok := f[string(s)]
	if !ok {
		return false
	}
	n, ok := AsNumber(v)
	return ok && n > 0
}

// FlagSum returns the sum of the four canonical status flags in f.
// A consistent status point sums to exactly 1.
func (f Fields) FlagSum() float64 {
	var total float64
	for _, s := range Statuses() {
		if v, ok := f[string(s)]; ok {
			n, _ := AsNumber(v)
			total += n
		}
	}
	return total
}

// Aux returns the auxiliary fields of f, i.e. everything that is neither
// a canonical status flag nor the point time.
func (f Fields) Aux() Fields {
	aux := Fields{}
	for k, v := range f {
		if k == "time" || Status(k).Valid() {
			continue
		}
		aux[k] = v
	}
	return aux
}

// AsNumber coerces a field value to a float64. Query results decode
// numbers as json.Number, written points carry Go numeric types.
func AsNumber(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case json.Number:
		n, err := x.Float64()
		return n, err == nil
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint64:
		return float64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// Point is a single recorded status event for one job.
type Point struct {
	Tags   map[string]string `json:"tags"`
	Time   time.Time         `json:"time"`
	Fields Fields            `json:"fields"`
}

// NewStatusPoint builds a point for one job with exactly the given status
// flag active and all others zero.
func NewStatusPoint(t Task, id string, s Status, ts time.Time) Point {
	tags := t.Tags()
	tags["id"] = id

	fields := Fields{}
	for _, st := range Statuses() {
		fields[string(st)] = 0
	}
	fields[string(s)] = 1

	return Point{Tags: tags, Time: ts, Fields: fields}
}

// Validate checks the given points for tag/field key collisions. A field
// whose key shadows a tag key would silently split the series, so such
// points are rejected before any write.
func Validate(points ...Point) error {
	for _, p := range points {
		for k := range p.Fields {
			if _, ok := p.Tags[k]; ok {
				return fmt.Errorf("%w: %q", ErrFieldTagCollision, k)
			}
		}
	}
	return nil
}
