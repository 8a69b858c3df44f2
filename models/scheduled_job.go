package models

import (
	"time"
)

type ScheduleTriggerType string

const (
	// TriggerDate fires once at RunAt, then the job is removed
	TriggerDate ScheduleTriggerType = "date"
	// TriggerCron re-fires on CronSpec until canceled or past EndDate
	TriggerCron ScheduleTriggerType = "cron"
)

// ScheduledJob is a persisted deferred or recurring operation definition. At
// fire time the job materializes a real operation through the operation store,
// re-resolving tag membership at that moment rather than at schedule time.
type ScheduledJob struct {
	ID          string              `json:"id"              db:"id"`
	JobName     string              `json:"job_name"        db:"job_name"`
	OrgID       string              `json:"organization_id" db:"organization_id"`
	TriggerType ScheduleTriggerType `json:"trigger_type"    db:"trigger_type"`

	RunAt    *time.Time `json:"run_at,omitempty"    db:"run_at"`
	CronSpec *string    `json:"cron_spec,omitempty" db:"cron_spec"`
	EndDate  *time.Time `json:"end_date,omitempty"  db:"end_date"`
	TimeZone string     `json:"time_zone"           db:"time_zone"`

	// The same fields an operation needs, stored for fire time
	OperationType OperationType `json:"operation_type" db:"operation_type"`
	AgentIDs      []string      `json:"agent_ids,omitempty"`
	TagID         *string       `json:"tag_id,omitempty" db:"tag_id"`
	AppIDs        []string      `json:"app_ids,omitempty"`
	RestartPolicy RestartPolicy `json:"restart_policy" db:"restart_policy"`
	CPUThrottle   CPUThrottle   `json:"cpu_throttle"   db:"cpu_throttle"`
	NetThrottle   int           `json:"net_throttle"   db:"net_throttle"`
	CreatedBy     string        `json:"created_by"     db:"created_by"`

	NextRunAt time.Time `json:"next_run_at" db:"next_run_at"`
	CreatedAt time.Time `json:"created_at"  db:"created_at"`
	UpdatedAt time.Time `json:"updated_at"  db:"updated_at"`
}

// CreateScheduledJobRequest is the input for scheduling a deferred or
// recurring operation. RunAt is required for date triggers, CronSpec for cron
// triggers; EndDate only applies to cron triggers.
type CreateScheduledJobRequest struct {
	JobName     string              `json:"job_name"`
	TriggerType ScheduleTriggerType `json:"trigger_type"`

	RunAt    *time.Time `json:"run_at,omitempty"`
	CronSpec *string    `json:"cron_spec,omitempty"`
	EndDate  *time.Time `json:"end_date,omitempty"`
	TimeZone string     `json:"time_zone,omitempty"`

	Operation CreateOperationRequest `json:"operation"`
}

// Target rebuilds the operation target from the stored job fields.
func (j *ScheduledJob) Target() OperationTarget {
	return OperationTarget{AgentIDs: j.AgentIDs, TagID: j.TagID}
}

// Policy rebuilds the install policy from the stored job fields.
func (j *ScheduledJob) Policy() InstallPolicy {
	net := j.NetThrottle
	return InstallPolicy{
		RestartPolicy:  j.RestartPolicy,
		CPUThrottle:    j.CPUThrottle,
		NetThrottleKBs: &net,
	}
}
