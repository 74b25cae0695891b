package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/assessly/assessly/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskSecurityDigest summarises recent security events.
	TaskSecurityDigest = "security:digest"
	// TaskSecurityPrune removes security events past retention.
	TaskSecurityPrune = "security:prune"
)

// Cron schedules of the security tasks.
const (
	DigestSchedule = "*/15 * * * *"
	PruneSchedule  = "5 * * * *"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// DigestPayload controls a digest run. Zero values fall back to the job
// configuration.
type DigestPayload struct {
	WindowMinutes int `json:"window_minutes"`
	Limit         int `json:"limit"`
}

// Window returns the payload window as a duration.
func (p DigestPayload) Window() time.Duration {
	return time.Duration(p.WindowMinutes) * time.Minute
}

// PrunePayload controls a prune run.
type PrunePayload struct {
	RetentionHours int `json:"retention_hours"`
}

// Retention returns the payload retention as a duration.
func (p PrunePayload) Retention() time.Duration {
	return time.Duration(p.RetentionHours) * time.Hour
}

// NewSecurityDigestTask constructs the digest task.
func NewSecurityDigestTask(payload DigestPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSecurityDigest, data), nil
}

// NewSecurityPruneTask constructs the prune task.
func NewSecurityPruneTask(payload PrunePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSecurityPrune, data), nil
}
