package models

import (
	"time"
)

// AppFileData is one per-app download descriptor inside a queue entry payload.
// URIs and CLI options are resolved by the catalog collaborator at enqueue
// time.
type AppFileData struct {
	AppID      string   `json:"app_id"`
	AppName    string   `json:"app_name"`
	AppVersion string   `json:"app_version"`
	AppURIs    []string `json:"app_uris"`
	CLIOptions []string `json:"cli_options,omitempty"`
}

// AgentQueueEntry is the per-agent payload for one operation, held in the
// agent's work queue until the agent polls it or it expires server-side.
// Entries are unique per (operation_id, agent_id) and ordered per agent by
// OrderID.
type AgentQueueEntry struct {
	ID            string        `json:"id"              db:"id"`
	OperationID   string        `json:"operation_id"    db:"operation_id"`
	AgentID       string        `json:"agent_id"        db:"agent_id"`
	OrgID         string        `json:"organization_id" db:"organization_id"`
	OperationType OperationType `json:"operation_type"  db:"operation_type"`
	OrderID       int           `json:"order_id"        db:"order_id"`

	RestartPolicy RestartPolicy `json:"restart_policy" db:"restart_policy"`
	CPUThrottle   CPUThrottle   `json:"cpu_throttle"   db:"cpu_throttle"`
	NetThrottle   int           `json:"net_throttle"   db:"net_throttle"`
	FileData      []AppFileData `json:"file_data"`

	// Where the agent reports its results back to
	ResponseURI   string `json:"response_uri"   db:"response_uri"`
	RequestMethod string `json:"request_method" db:"request_method"`

	EnqueuedAt         time.Time `json:"enqueued_at"           db:"enqueued_at"`
	ServerTTLExpiresAt time.Time `json:"server_ttl_expires_at" db:"server_ttl_expires_at"`
	AgentTTLExpiresAt  time.Time `json:"agent_ttl_expires_at"  db:"agent_ttl_expires_at"`
}

// ServerExpired reports whether the entry has sat unpicked past its server TTL.
func (e *AgentQueueEntry) ServerExpired(now time.Time) bool {
	return now.After(e.ServerTTLExpiresAt)
}
