// Package storage provides the InfluxDB-backed implementation of the job
// status tracker.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/influxdata/influxdb1-client/models"
	influx "github.com/influxdata/influxdb1-client/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/simonepigazzini/dynamic-automation/internal/config"
	"github.com/simonepigazzini/dynamic-automation/internal/job"
	"github.com/simonepigazzini/dynamic-automation/internal/metrics"
)

var tracer = otel.Tracer("dynamic-automation/storage")

// measurement holds every status point; tasks are told apart by tags.
const measurement = "job"

// store is the subset of the InfluxDB client used by the tracker.
type store interface {
	Query(q influx.Query) (*influx.Response, error)
	Write(bp influx.BatchPoints) error
	Close() error
}

var _ job.Tracker = (*InfluxTracker)(nil)

// InfluxTracker implements job.Tracker against one InfluxDB v1 database.
type InfluxTracker struct {
	task      job.Task
	database  string
	db        store
	matchTags string
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// NewInfluxTracker opens a client connection for the given task and
// database. The task name is mandatory.
func NewInfluxTracker(cfg config.Config, t job.Task, database string, logger *zap.Logger, m *metrics.Metrics) (*InfluxTracker, error) {
	c, err := influx.NewHTTPClient(influx.HTTPConfig{
		Addr:     cfg.Addr(),
		Username: cfg.Username,
		Password: cfg.Password,
		Timeout:  cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to store: %w", err)
	}
	return NewTrackerFromClient(c, t, database, logger, m)
}

// NewTrackerFromClient builds a tracker on an existing client connection,
// letting several trackers share one connection.
func NewTrackerFromClient(c influx.Client, t job.Task, database string, logger *zap.Logger, m *metrics.Metrics) (*InfluxTracker, error) {
	if t.Name == "" {
		return nil, job.ErrMissingTask
	}

	return &InfluxTracker{
		task:      t,
		database:  database,
		db:        c,
		matchTags: matchTags(t),
		logger:    logger,
		metrics:   m,
	}, nil
}

// matchTags builds the tag-equality filter shared by every task query.
func matchTags(t job.Task) string {
	tags := t.Tags()
	parts := make([]string, 0, len(tags))
	for _, k := range job.TagKeys() {
		if v, ok := tags[k]; ok {
			parts = append(parts, fmt.Sprintf("%q = '%s'", k, v))
		}
	}
	return strings.Join(parts, " AND ")
}

// Close releases the underlying client connection.
func (t *InfluxTracker) Close() error {
	return t.db.Close()
}

// Task returns the task identity the tracker is bound to.
func (t *InfluxTracker) Task() job.Task {
	return t.task
}

// TaskExists reports whether at least one point for the task is in the store.
func (t *InfluxTracker) TaskExists(ctx context.Context) (bool, error) {
	resp, err := t.query(ctx, fmt.Sprintf(`SELECT * FROM %q WHERE %s`, measurement, t.matchTags))
	if err != nil {
		return false, err
	}
	return len(seriesOf(resp)) > 0, nil
}

// CreateTask seeds one IDLE point per job id, all sharing a submission
// timestamp. fields, when non-nil, matches ids one to one.
func (t *InfluxTracker) CreateTask(ctx context.Context, ids []string, fields []job.Fields, recreate bool) error {
	ctx, span := tracer.Start(ctx, "tracker.create_task",
		trace.WithAttributes(
			attribute.String("task", t.task.Name),
			attribute.Int("jobs", len(ids)),
			attribute.Bool("recreate", recreate),
		),
	)
	defer span.End()

	if len(ids) == 0 {
		return job.ErrEmptyJobIDs
	}
	if fields != nil && len(fields) != len(ids) {
		return fmt.Errorf("fields list length %d does not match %d job ids", len(fields), len(ids))
	}

	exists, err := t.TaskExists(ctx)
	if err != nil {
		return err
	}
	if exists && !recreate {
		return fmt.Errorf("%w: %s in campaign %s", job.ErrTaskExists, t.task.Name, t.task.Campaign)
	}
	if recreate {
		if _, err := t.query(ctx, fmt.Sprintf(`DELETE FROM %q WHERE %s`, measurement, t.matchTags)); err != nil {
			return fmt.Errorf("delete previous task points: %w", err)
		}
	}

	subTime := time.Now().UTC().Truncate(time.Second)
	points := make([]job.Point, len(ids))
	for i, id := range ids {
		p := job.NewStatusPoint(t.task, id, job.StatusIdle, subTime)
		if fields != nil {
			for k, v := range fields[i] {
				p.Fields[k] = v
			}
		}
		points[i] = p
	}

	if err := job.Validate(points...); err != nil {
		return err
	}
	if err := t.write(points...); err != nil {
		return err
	}

	t.metrics.TasksCreatedTotal.Inc()
	t.logger.Info("task created",
		zap.String("task", t.task.Name),
		zap.String("campaign", t.task.Campaign),
		zap.Int("block", t.task.Block),
		zap.Int("jobs", len(ids)),
	)
	return nil
}

// Job returns the point history of one job, oldest first, or only the most
// recent point when last is set.
func (t *InfluxTracker) Job(ctx context.Context, id string, last bool) ([]job.Point, error) {
	sel := "*"
	if last {
		sel = "last(*)"
	}
	resp, err := t.query(ctx, fmt.Sprintf(`SELECT %s FROM %q WHERE %s AND "id" = '%s'`, sel, measurement, t.matchTags, id))
	if err != nil {
		return nil, err
	}

	var points []job.Point
	for _, row := range seriesOf(resp) {
		points = append(points, rowPoints(row)...)
	}
	return points, nil
}

// Jobs classifies every job id under the task into the status bucket of
// its most recent point. Jobs with no points appear in no bucket.
func (t *InfluxTracker) Jobs(ctx context.Context) (map[job.Status][]string, error) {
	resp, err := t.query(ctx, fmt.Sprintf(`SELECT %s FROM %q WHERE %s GROUP BY "id"`, lastSelect(), measurement, t.matchTags))
	if err != nil {
		return nil, err
	}

	buckets := make(map[job.Status][]string, len(job.Statuses()))
	for _, s := range job.Statuses() {
		buckets[s] = []string{}
	}

	for _, row := range seriesOf(resp) {
		id := row.Tags["id"]
		for _, p := range rowPoints(row) {
			for _, s := range job.Statuses() {
				if p.Fields.Flag(s) {
					buckets[s] = append(buckets[s], id)
				}
			}
		}
	}
	return buckets, nil
}

// Retries counts the historical points of a job with the FAILED flag set,
// a proxy for the number of resubmissions.
func (t *InfluxTracker) Retries(ctx context.Context, id string) (int, error) {
	points, err := t.Job(ctx, id, false)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, p := range points {
		if p.Fields.Flag(job.StatusFailed) {
			n++
		}
	}
	return n, nil
}

// SetStatus appends a new point for the job with exactly the given status
// flag active. Auxiliary fields carried on the job's previous point are
// merged in; caller fields take precedence over them. A caller field that
// re-sets a canonical flag trips the single-active-status guard.
func (t *InfluxTracker) SetStatus(ctx context.Context, id string, s job.Status, fields job.Fields) error {
	ctx, span := tracer.Start(ctx, "tracker.set_status",
		trace.WithAttributes(
			attribute.String("task", t.task.Name),
			attribute.String("job.id", id),
			attribute.String("job.status", string(s)),
		),
	)
	defer span.End()

	if id == "" {
		return job.ErrMissingJobID
	}
	if !s.Valid() {
		return fmt.Errorf("%w: %q", job.ErrInvalidStatus, s)
	}

	prev, err := t.Job(ctx, id, true)
	if err != nil {
		return err
	}
	if len(prev) == 0 {
		return fmt.Errorf("%w: job %s in task %s/%s, create the task first",
			job.ErrJobNotFound, id, t.task.Campaign, t.task.Name)
	}

	p := job.NewStatusPoint(t.task, id, s, time.Now().UTC().Truncate(time.Second))
	for k, v := range prev[len(prev)-1].Fields.Aux() {
		p.Fields[k] = normalize(v)
	}
	for k, v := range fields {
		p.Fields[k] = v
	}

	if sum := p.Fields.FlagSum(); sum != 1 {
		return fmt.Errorf("%w: job %s sums to %v", job.ErrStatusConflict, id, sum)
	}
	if err := job.Validate(p); err != nil {
		return err
	}
	if err := t.write(p); err != nil {
		return err
	}

	t.metrics.TransitionsTotal.WithLabelValues(string(s)).Inc()
	t.logger.Debug("status recorded",
		zap.String("task", t.task.Name),
		zap.String("id", id),
		zap.String("status", string(s)),
	)
	return nil
}

// Idle sets the job status to IDLE.
func (t *InfluxTracker) Idle(ctx context.Context, id string, fields job.Fields) error {
	return t.SetStatus(ctx, id, job.StatusIdle, fields)
}

// Running sets the job status to RUNNING.
func (t *InfluxTracker) Running(ctx context.Context, id string, fields job.Fields) error {
	return t.SetStatus(ctx, id, job.StatusRunning, fields)
}

// Failed sets the job status to FAILED.
func (t *InfluxTracker) Failed(ctx context.Context, id string, fields job.Fields) error {
	return t.SetStatus(ctx, id, job.StatusFailed, fields)
}

// Done sets the job status to DONE.
func (t *InfluxTracker) Done(ctx context.Context, id string, fields job.Fields) error {
	return t.SetStatus(ctx, id, job.StatusDone, fields)
}

// TaskCompleted reports whether the last recorded status of every job in
// the task is DONE. It sums the last flag values per job and compares the
// DONE total against the total across all flags.
func (t *InfluxTracker) TaskCompleted(ctx context.Context) (bool, error) {
	ctx, span := tracer.Start(ctx, "tracker.task_completed",
		trace.WithAttributes(attribute.String("task", t.task.Name)),
	)
	defer span.End()

	resp, err := t.query(ctx, fmt.Sprintf(`SELECT sum(*) FROM (SELECT %s FROM %q WHERE %s GROUP BY "id")`,
		lastSelect(), measurement, t.matchTags))
	if err != nil {
		return false, err
	}

	rows := seriesOf(resp)
	if len(rows) == 0 || len(rows[0].Values) == 0 {
		return false, nil
	}

	row := rows[0]
	var done, total float64
	for i, col := range row.Columns {
		if col == "time" {
			continue
		}
		name := job.Status(strings.TrimPrefix(col, "sum_"))
		if !name.Valid() {
			continue
		}
		v, _ := job.AsNumber(row.Values[0][i])
		total += v
		if name == job.StatusDone {
			done = v
		}
	}
	return total > 0 && done == total, nil
}

// TaskEndTime returns the timestamp of the most recent DONE point, or nil
// if the task is not completed.
func (t *InfluxTracker) TaskEndTime(ctx context.Context) (*time.Time, error) {
	completed, err := t.TaskCompleted(ctx)
	if err != nil {
		return nil, err
	}
	if !completed {
		return nil, nil
	}

	resp, err := t.query(ctx, fmt.Sprintf(`SELECT last(%q) FROM %q WHERE %s`, string(job.StatusDone), measurement, t.matchTags))
	if err != nil {
		return nil, err
	}

	rows := seriesOf(resp)
	if len(rows) == 0 || len(rows[0].Values) == 0 {
		return nil, nil
	}

	raw, ok := rows[0].Values[0][0].(string)
	if !ok {
		return nil, fmt.Errorf("unexpected time value %v", rows[0].Values[0][0])
	}
	end, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("parse end time: %w", err)
	}
	return &end, nil
}

// query runs one InfluxQL statement against the bound database.
func (t *InfluxTracker) query(ctx context.Context, cmd string) (*influx.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := t.db.Query(influx.NewQuery(cmd, t.database, ""))
	t.metrics.QueriesTotal.Inc()
	t.metrics.QueryLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("query store: %w", err)
	}
	if resp.Error() != nil {
		return nil, fmt.Errorf("query store: %w", resp.Error())
	}
	return resp, nil
}

// write sends the given points as a single batch.
func (t *InfluxTracker) write(points ...job.Point) error {
	bp, err := influx.NewBatchPoints(influx.BatchPointsConfig{
		Database:  t.database,
		Precision: "s",
	})
	if err != nil {
		return fmt.Errorf("build batch: %w", err)
	}

	for _, p := range points {
		pt, err := influx.NewPoint(measurement, p.Tags, map[string]interface{}(p.Fields), p.Time)
		if err != nil {
			return fmt.Errorf("build point: %w", err)
		}
		bp.AddPoint(pt)
	}

	if err := t.db.Write(bp); err != nil {
		t.metrics.WriteFailuresTotal.Inc()
		return fmt.Errorf("write points: %w", err)
	}
	t.metrics.PointsWrittenTotal.Add(float64(len(points)))
	return nil
}

// lastSelect builds the last-value projection for the canonical flags,
// aliased back to their plain names.
func lastSelect() string {
	parts := make([]string, 0, len(job.Statuses()))
	for _, s := range job.Statuses() {
		parts = append(parts, fmt.Sprintf("last(%q) AS %q", string(s), string(s)))
	}
	return strings.Join(parts, ", ")
}

// seriesOf flattens the rows of a query response.
func seriesOf(resp *influx.Response) []models.Row {
	var rows []models.Row
	for _, res := range resp.Results {
		rows = append(rows, res.Series...)
	}
	return rows
}

// rowPoints converts a result row into points. Aggregated columns come
// back prefixed with "last_"; the prefix is stripped so fields keep their
// written identity. Tag columns from SELECT * are folded back into tags.
func rowPoints(row models.Row) []job.Point {
	tagKeys := make(map[string]bool, len(job.TagKeys()))
	for _, k := range job.TagKeys() {
		tagKeys[k] = true
	}

	points := make([]job.Point, 0, len(row.Values))
	for _, vals := range row.Values {
		p := job.Point{Tags: map[string]string{}, Fields: job.Fields{}}
		for k, v := range row.Tags {
			p.Tags[k] = v
		}

		for i, col := range row.Columns {
			if i >= len(vals) || vals[i] == nil {
				continue
			}
			if col == "time" {
				if raw, ok := vals[i].(string); ok {
					if ts, err := time.Parse(time.RFC3339, raw); err == nil {
						p.Time = ts
					}
				}
				continue
			}
			name := strings.TrimPrefix(col, "last_")
			if tagKeys[name] {
				if s, ok := vals[i].(string); ok {
					p.Tags[name] = s
				}
				continue
			}
			p.Fields[name] = vals[i]
		}
		points = append(points, p)
	}
	return points
}

// normalize rewrites json.Number values into native numerics so carried
// fields survive the point encoder.
func normalize(v interface{}) interface{} {
	num, ok := v.(json.Number)
	if !ok {
		return v
	}
	if i, err := num.Int64(); err == nil {
		return i
	}
	if f, err := num.Float64(); err == nil {
		return f
	}
	return num.String()
}
