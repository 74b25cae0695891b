package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/assessly/assessly/internal/jobs"
	"github.com/assessly/assessly/internal/security"
)

// EventSource lists persisted security events, newest first.
type EventSource interface {
	Recent(ctx context.Context, limit int) ([]security.Event, error)
}

// DigestResult summarises one digest run.
type DigestResult struct {
	Window  time.Duration
	Summary security.Metrics
	Flagged []string
}

// SecurityDigestJob aggregates the persisted event stream so flagged
// addresses surface even when the web process restarts.
type SecurityDigestJob struct {
	Events  EventSource
	Config  security.Config
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewSecurityDigestJob initialises the digest handler.
func NewSecurityDigestJob(events EventSource, cfg security.Config, logger *slog.Logger, metrics *jobmetrics.Metrics) *SecurityDigestJob {
	return &SecurityDigestJob{
		Events:  events,
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the digest.
func (j *SecurityDigestJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("security digest: handler not configured")
	}
	var payload DigestPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	_, err := j.Run(ctx, payload)
	return err
}

// Run aggregates events inside the payload window.
func (j *SecurityDigestJob) Run(ctx context.Context, payload DigestPayload) (result DigestResult, resultErr error) {
	tracker := j.metrics().Track(TaskSecurityDigest)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	window := payload.Window()
	if window <= 0 {
		window = j.Config.BlockWindow
	}
	limit := payload.Limit
	if limit <= 0 {
		limit = j.Config.MaxEvents
	}
	logger := j.logger().With(slog.Duration("window", window))

	if j.Events == nil {
		return result, errors.New("security digest: event source not configured")
	}
	start := j.now()
	events, err := j.Events.Recent(ctx, limit)
	if err != nil {
		logger.Error("read events failed", slog.Any("error", err))
		return result, err
	}

	from := start.Add(-window)
	inWindow := events[:0:0]
	for _, e := range events {
		if !e.Timestamp.Before(from) {
			inWindow = append(inWindow, e)
		}
	}

	result = DigestResult{
		Window:  window,
		Summary: security.Aggregate(inWindow, j.Config.HighActivityThreshold),
		Flagged: security.FlaggedIPs(inWindow, j.Config.BlockSeverity, j.Config.BlockThreshold),
	}
	for _, ip := range result.Flagged {
		logger.Warn("address flagged", slog.String("ip", ip))
	}
	j.metrics().SetFlaggedIPs(len(result.Flagged))

	logger.Info("completed security digest",
		slog.Int("events", result.Summary.TotalEvents),
		slog.Int("blocked", result.Summary.BlockedCount),
		slog.Int("high_activity_ips", result.Summary.HighActivityIPs),
		slog.Int("flagged", len(result.Flagged)),
		slog.Duration("duration", time.Since(start)),
	)
	return result, nil
}

func (j *SecurityDigestJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskSecurityDigest))
	}
	return slog.Default().With(slog.String("job", TaskSecurityDigest))
}

func (j *SecurityDigestJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *SecurityDigestJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
