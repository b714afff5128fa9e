package jobqueue

import (
	"encoding/json"
	"time"
)

// JobType names a queue. Each type is consumed independently.
type JobType string

const (
	JobTypeCronStatOrg JobType = "cron_stat_org"
	JobTypeCronStatApp JobType = "cron_stat_app"
)

// KnownJobTypes lists the queues the consumer trigger accepts.
var KnownJobTypes = []JobType{JobTypeCronStatOrg, JobTypeCronStatApp}

// ParseJobType returns the queue named s.
func ParseJobType(s string) (JobType, bool) {
	for _, t := range KnownJobTypes {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}

// JobStatus defines the status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusArchived   JobStatus = "archived"
)

// Job represents a queued message. ReadCount is maintained by the queue and
// grows every time the job is handed to a consumer.
type Job struct {
	ID          string                 `json:"id"`
	Type        JobType                `json:"type"`
	Status      JobStatus              `json:"status"`
	Payload     map[string]interface{} `json:"payload"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	ProcessedAt *time.Time             `json:"processed_at,omitempty"`
	ArchivedAt  *time.Time             `json:"archived_at,omitempty"`
	ErrorMsg    string                 `json:"error_msg,omitempty"`
	ReadCount   int                    `json:"read_count"`
}

// CronStatOrgPayload asks for an account usage recomputation
type CronStatOrgPayload struct {
	AccountID string `json:"account_id"`
	Force     bool   `json:"force"`
}

// ToMap converts the payload to a map for storage
func (p CronStatOrgPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"account_id": p.AccountID,
		"force":      p.Force,
	}
}

// CronStatOrgPayloadFromMap creates a payload from a map
func CronStatOrgPayloadFromMap(data map[string]interface{}) (*CronStatOrgPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var payload CronStatOrgPayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}

// CronStatAppPayload asks for per-app statistics (counter flush, storage footprint)
type CronStatAppPayload struct {
	AppID string `json:"app_id"`
}

func (p CronStatAppPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"app_id": p.AppID,
	}
}

func CronStatAppPayloadFromMap(data map[string]interface{}) (*CronStatAppPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var payload CronStatAppPayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}

// IsRetryable reports whether the job will be delivered again after a failure
func (j *Job) IsRetryable(maxReads int) bool {
	return j.ReadCount < maxReads
}

// MarkAsProcessing updates the job status to processing
func (j *Job) MarkAsProcessing() {
	now := time.Now()
	j.Status = JobStatusProcessing
	j.UpdatedAt = now
	j.ProcessedAt = &now
}

// MarkAsCompleted updates the job status to completed
func (j *Job) MarkAsCompleted() {
	j.Status = JobStatusCompleted
	j.UpdatedAt = time.Now()
	j.ErrorMsg = ""
}

// MarkAsFailed records the error; the job becomes visible again after the visibility timeout
func (j *Job) MarkAsFailed(errorMsg string) {
	j.Status = JobStatusFailed
	j.UpdatedAt = time.Now()
	j.ErrorMsg = errorMsg
}

// MarkAsArchived marks the job as given up on
func (j *Job) MarkAsArchived() {
	now := time.Now()
	j.Status = JobStatusArchived
	j.UpdatedAt = now
	j.ArchivedAt = &now
}
