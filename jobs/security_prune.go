package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/assessly/assessly/internal/jobs"
)

// EventPruner deletes stored events older than a cutoff.
type EventPruner interface {
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// EventTrimmer caps a bounded event list and reports its length.
type EventTrimmer interface {
	Trim(ctx context.Context) (int64, error)
}

// SecurityPruneJob enforces retention on the persisted event stores. Either
// store may be nil.
type SecurityPruneJob struct {
	Table     EventPruner
	List      EventTrimmer
	Retention time.Duration
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
	clock     func() time.Time
}

// NewSecurityPruneJob initialises the prune handler.
func NewSecurityPruneJob(table EventPruner, list EventTrimmer, retention time.Duration, logger *slog.Logger, metrics *jobmetrics.Metrics) *SecurityPruneJob {
	return &SecurityPruneJob{
		Table:     table,
		List:      list,
		Retention: retention,
		Logger:    logger,
		Metrics:   metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the prune.
func (j *SecurityPruneJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("security prune: handler not configured")
	}
	var payload PrunePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	return j.Run(ctx, payload)
}

// Run deletes table rows past retention and trims the list.
func (j *SecurityPruneJob) Run(ctx context.Context, payload PrunePayload) (resultErr error) {
	tracker := j.metrics().Track(TaskSecurityPrune)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	retention := payload.Retention()
	if retention <= 0 {
		retention = j.Retention
	}
	if retention <= 0 {
		return errors.New("security prune: retention not configured")
	}
	cutoff := j.now().Add(-retention)
	logger := j.logger().With(slog.Time("cutoff", cutoff))

	var errs []error
	if j.Table != nil {
		n, err := j.Table.PruneBefore(ctx, cutoff)
		if err != nil {
			logger.Error("prune table failed", slog.Any("error", err))
			errs = append(errs, err)
		} else {
			j.metrics().AddPruned("postgres", n)
			logger.Info("pruned security events", slog.Int64("rows", n))
		}
	}
	if j.List != nil {
		n, err := j.List.Trim(ctx)
		if err != nil {
			logger.Error("trim list failed", slog.Any("error", err))
			errs = append(errs, err)
		} else {
			logger.Info("trimmed security event list", slog.Int64("remaining", n))
		}
	}
	return errors.Join(errs...)
}

func (j *SecurityPruneJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskSecurityPrune))
	}
	return slog.Default().With(slog.String("job", TaskSecurityPrune))
}

func (j *SecurityPruneJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *SecurityPruneJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
