package models

import (
	"time"
)

type OperationType string

const (
	OperationTypeInstallOSApps        OperationType = "install_os_apps"
	OperationTypeInstallCustomApps    OperationType = "install_custom_apps"
	OperationTypeInstallSupportedApps OperationType = "install_supported_apps"
	OperationTypeInstallAgentUpdate   OperationType = "install_agent_update"
	OperationTypeUninstall            OperationType = "uninstall"
	OperationTypeReboot               OperationType = "reboot"
	OperationTypeShutdown             OperationType = "shutdown"
	OperationTypeRefreshApps          OperationType = "refresh_apps"
)

func (t OperationType) Valid() bool {
	switch t {
	case OperationTypeInstallOSApps, OperationTypeInstallCustomApps,
		OperationTypeInstallSupportedApps, OperationTypeInstallAgentUpdate,
		OperationTypeUninstall, OperationTypeReboot, OperationTypeShutdown,
		OperationTypeRefreshApps:
		return true
	}
	return false
}

// PerApp reports whether the operation tracks per-application results. The
// remaining types (reboot, shutdown, refresh_apps) collapse to a single
// outcome per agent.
func (t OperationType) PerApp() bool {
	switch t {
	case OperationTypeInstallOSApps, OperationTypeInstallCustomApps,
		OperationTypeInstallSupportedApps, OperationTypeInstallAgentUpdate,
		OperationTypeUninstall:
		return true
	}
	return false
}

type PerformedOn string

const (
	PerformedOnAgent PerformedOn = "agent"
	PerformedOnTag   PerformedOn = "tag"
)

type AgentOperationStatus string

const (
	AgentStatusPendingPickup       AgentOperationStatus = "pending_pickup"
	AgentStatusPendingResults      AgentOperationStatus = "pending_results"
	AgentStatusCompleted           AgentOperationStatus = "completed"
	AgentStatusCompletedWithErrors AgentOperationStatus = "completed_with_errors"
	AgentStatusFailed              AgentOperationStatus = "failed"
	AgentStatusExpired             AgentOperationStatus = "expired"
)

// Terminal reports whether the status is final. Terminal statuses never
// transition again.
func (s AgentOperationStatus) Terminal() bool {
	switch s {
	case AgentStatusCompleted, AgentStatusCompletedWithErrors, AgentStatusFailed, AgentStatusExpired:
		return true
	}
	return false
}

// agentStatusTransitions is the exhaustive transition table for per-agent
// operation status. Anything not listed is rejected.
var agentStatusTransitions = map[AgentOperationStatus][]AgentOperationStatus{
	AgentStatusPendingPickup:  {AgentStatusPendingResults, AgentStatusExpired, AgentStatusFailed},
	AgentStatusPendingResults: {AgentStatusCompleted, AgentStatusCompletedWithErrors, AgentStatusFailed, AgentStatusExpired},
}

// CanTransitionTo reports whether s -> next is an allowed status transition.
func (s AgentOperationStatus) CanTransitionTo(next AgentOperationStatus) bool {
	for _, allowed := range agentStatusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// CounterColumn maps a per-agent status to the aggregate counter column on the
// master operation record. Every status change moves exactly one agent from
// one column to another, which keeps the agents_total invariant intact.
func (s AgentOperationStatus) CounterColumn() string {
	switch s {
	case AgentStatusPendingPickup:
		return "agents_pending_pickup"
	case AgentStatusPendingResults:
		return "agents_pending_results"
	case AgentStatusCompleted:
		return "agents_completed"
	case AgentStatusCompletedWithErrors:
		return "agents_completed_with_errors"
	case AgentStatusFailed:
		return "agents_failed"
	case AgentStatusExpired:
		return "agents_expired"
	}
	return ""
}

type AppResultStatus string

const (
	AppResultPending            AppResultStatus = "pending"
	AppResultReceived           AppResultStatus = "received"
	AppResultReceivedWithErrors AppResultStatus = "received_with_errors"
)

func (s AppResultStatus) Terminal() bool {
	return s == AppResultReceived || s == AppResultReceivedWithErrors
}

// Operation is the master record for one fleet-wide unit of work. AgentIDs is
// an immutable snapshot taken at creation time: later tag membership changes
// never affect an existing operation.
type Operation struct {
	ID            string        `json:"id"              db:"id"`
	OrgID         string        `json:"organization_id" db:"organization_id"`
	OperationType OperationType `json:"operation_type"  db:"operation_type"`
	Plugin        string        `json:"plugin"          db:"plugin"`
	PerformedOn   PerformedOn   `json:"performed_on"    db:"performed_on"`
	TagID         *string       `json:"tag_id,omitempty" db:"tag_id"`
	AgentIDs      []string      `json:"agent_ids"`
	RestartPolicy RestartPolicy `json:"restart_policy"  db:"restart_policy"`
	CPUThrottle   CPUThrottle   `json:"cpu_throttle"    db:"cpu_throttle"`
	NetThrottle   int           `json:"net_throttle"    db:"net_throttle"`
	CreatedBy     string        `json:"created_by"      db:"created_by"`

	AgentsTotal               int `json:"agents_total"                 db:"agents_total"`
	AgentsCompleted           int `json:"agents_completed"             db:"agents_completed"`
	AgentsCompletedWithErrors int `json:"agents_completed_with_errors" db:"agents_completed_with_errors"`
	AgentsFailed              int `json:"agents_failed"                db:"agents_failed"`
	AgentsExpired             int `json:"agents_expired"               db:"agents_expired"`
	AgentsPendingPickup       int `json:"agents_pending_pickup"        db:"agents_pending_pickup"`
	AgentsPendingResults      int `json:"agents_pending_results"       db:"agents_pending_results"`

	CreatedAt     time.Time  `json:"created_at"               db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"               db:"updated_at"`
	CompletedTime *time.Time `json:"completed_time,omitempty" db:"completed_time"`
}

// CountersReconcile reports whether the six state counters sum to the total.
func (o *Operation) CountersReconcile() bool {
	sum := o.AgentsCompleted + o.AgentsCompletedWithErrors + o.AgentsFailed +
		o.AgentsExpired + o.AgentsPendingPickup + o.AgentsPendingResults
	return sum == o.AgentsTotal
}

// OperationPerAgent tracks one agent's share of an operation.
type OperationPerAgent struct {
	OperationID string               `json:"operation_id"    db:"operation_id"`
	AgentID     string               `json:"agent_id"        db:"agent_id"`
	OrgID       string               `json:"organization_id" db:"organization_id"`
	Status      AgentOperationStatus `json:"status"          db:"status"`

	AppsTotal     int `json:"apps_total"     db:"apps_total"`
	AppsPending   int `json:"apps_pending"   db:"apps_pending"`
	AppsFailed    int `json:"apps_failed"    db:"apps_failed"`
	AppsCompleted int `json:"apps_completed" db:"apps_completed"`

	PickedUpTime  *time.Time `json:"picked_up_time,omitempty" db:"picked_up_time"`
	CompletedTime *time.Time `json:"completed_time,omitempty" db:"completed_time"`
	ExpiredTime   *time.Time `json:"expired_time,omitempty"   db:"expired_time"`
	Errors        *string    `json:"errors,omitempty"         db:"errors"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// OperationPerApp tracks the result of one application on one agent. Rows are
// created once at operation-creation time for every validated (agent, app)
// pair and accept a result at most once.
type OperationPerApp struct {
	OperationID string          `json:"operation_id"    db:"operation_id"`
	AgentID     string          `json:"agent_id"        db:"agent_id"`
	AppID       string          `json:"app_id"          db:"app_id"`
	OrgID       string          `json:"organization_id" db:"organization_id"`
	AppName     string          `json:"app_name"        db:"app_name"`
	AppVersion  string          `json:"app_version"     db:"app_version"`
	Results     AppResultStatus `json:"results"         db:"results"`

	ResultsReceivedTime *time.Time `json:"results_received_time,omitempty" db:"results_received_time"`
	Errors              *string    `json:"errors,omitempty"                db:"errors"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// OperationAgentDetail is a per-agent record merged with its per-app children.
type OperationAgentDetail struct {
	OperationPerAgent
	Apps []*OperationPerApp `json:"apps"`
}

// OperationDetail is the master record merged with all per-agent details,
// as returned to the API layer.
type OperationDetail struct {
	Operation
	Agents []*OperationAgentDetail `json:"agents"`
}

// CreateOperationRequest is the full input for creating an operation, either
// from a direct call or from a scheduled job firing.
type CreateOperationRequest struct {
	OperationType OperationType   `json:"operation_type"`
	Target        OperationTarget `json:"target"`
	AppIDs        []string        `json:"app_ids,omitempty"`
	Policy        InstallPolicy   `json:"policy"`
	CreatedBy     string          `json:"created_by"`
}

// CreateOperationResult reports the created operation id plus any agents whose
// fan-out failed; those agents can be retried individually without touching
// the rest of the operation.
type CreateOperationResult struct {
	OperationID    string   `json:"operation_id"`
	FailedAgentIDs []string `json:"failed_agent_ids,omitempty"`
}
