package notify

import "context"

// JobMessage describes a finished check job.
type JobMessage struct {
	JobID     string  `json:"job_id"`
	Kind      string  `json:"kind"`
	Status    string  `json:"status"`
	Error     string  `json:"error,omitempty"`
	ReportURL string  `json:"report_url,omitempty"`
	Seconds   float64 `json:"duration_seconds"`
}

// Notifier sends notifications.
type Notifier interface {
	Notify(ctx context.Context, msg JobMessage) error
}
