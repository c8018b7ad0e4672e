package domain

import (
	"encoding/json"
	"time"
)

// JobType enumerates the background job types the worker pool executes.
type JobType string

const (
	JobImport       JobType = "import"
	JobEnrich       JobType = "enrich"
	JobCRMSync      JobType = "crm-sync"
	JobEnrol        JobType = "enrol"
	JobCampaignTick JobType = "campaign-tick"
)

// JobPriority orders pickup within the queue. Higher values are claimed first.
type JobPriority int

const (
	PriorityLow      JobPriority = 0
	PriorityNormal   JobPriority = 10
	PriorityHigh     JobPriority = 20
	PriorityCritical JobPriority = 30
)

// ParsePriority maps the API-level priority names to queue values.
// Unknown names fall back to normal.
func ParsePriority(s string) JobPriority {
	switch s {
	case "low":
		return PriorityLow
	case "high":
		return PriorityHigh
	case "critical":
		return PriorityCritical
	default:
		return PriorityNormal
	}
}

// JobStatus enumerates the job state machine:
// pending → processing → completed | failed; pending → cancelled;
// processing → cancelled (cooperative, at a batch boundary).
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

// Job is a durable unit of background work. At most one worker holds an
// active lease on a job at any time.
type Job struct {
	ID          string          `json:"id" db:"id"`
	Type        JobType         `json:"type" db:"type"`
	Priority    JobPriority     `json:"priority" db:"priority"`
	Status      JobStatus       `json:"status" db:"status"`
	Parameters  json.RawMessage `json:"parameters" db:"parameters"`
	Progress    float64         `json:"progress" db:"progress"`
	Attempts    int             `json:"attempts" db:"attempts"`
	LeaseID     string          `json:"lease_id,omitempty" db:"lease_id"`
	Result      json.RawMessage `json:"result,omitempty" db:"result"`
	Error       string          `json:"error,omitempty" db:"error"`
	CancelAsked bool            `json:"cancel_requested" db:"cancel_requested"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	StartedAt   *time.Time      `json:"started_at" db:"started_at"`
	CompletedAt *time.Time      `json:"completed_at" db:"completed_at"`
}

// IsTerminal returns true once the job can no longer change state.
func (j *Job) IsTerminal() bool {
	return j.Status == JobCompleted || j.Status == JobFailed || j.Status == JobCancelled
}
