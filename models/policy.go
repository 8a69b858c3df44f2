package models

type RestartPolicy string

const (
	RestartNone   RestartPolicy = "none"
	RestartNeeded RestartPolicy = "needed"
	RestartForce  RestartPolicy = "force"
)

func (r RestartPolicy) Valid() bool {
	switch r {
	case RestartNone, RestartNeeded, RestartForce:
		return true
	}
	return false
}

type CPUThrottle string

const (
	CPUThrottleIdle        CPUThrottle = "idle"
	CPUThrottleBelowNormal CPUThrottle = "below_normal"
	CPUThrottleNormal      CPUThrottle = "normal"
	CPUThrottleAboveNormal CPUThrottle = "above_normal"
	CPUThrottleHigh        CPUThrottle = "high"
)

func (c CPUThrottle) Valid() bool {
	switch c {
	case CPUThrottleIdle, CPUThrottleBelowNormal, CPUThrottleNormal, CPUThrottleAboveNormal, CPUThrottleHigh:
		return true
	}
	return false
}

// InstallPolicy carries the restart and throttle settings attached to every
// operation. NetThrottleKBs is a pointer because 0 means "unlimited", which is
// different from the value not being supplied at all.
type InstallPolicy struct {
	RestartPolicy  RestartPolicy `json:"restart_policy"`
	CPUThrottle    CPUThrottle   `json:"cpu_throttle"`
	NetThrottleKBs *int          `json:"net_throttle_kbs,omitempty"`
}

// Policy violation codes reported back to the caller
const (
	PolicyCodeInvalidRestart     = "INVALID_RESTART_POLICY"
	PolicyCodeInvalidCPUThrottle = "INVALID_CPU_THROTTLE"
	PolicyCodeInvalidNetThrottle = "INVALID_NET_THROTTLE"
	PolicyCodeEmptyTarget        = "EMPTY_TARGET"
	PolicyCodeEmptyAppIDs        = "EMPTY_APP_IDS"
)

type PolicyViolation struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
	Code   string `json:"code"`
}

// Normalized returns a copy of the policy with documented defaults filled in
// for anything unset: restart=none, cpu=normal, net=0 (unlimited). Values that
// are present but invalid are left untouched so Validate can report them.
func (p InstallPolicy) Normalized() InstallPolicy {
	normalized := p
	if normalized.RestartPolicy == "" {
		normalized.RestartPolicy = RestartNone
	}
	if normalized.CPUThrottle == "" {
		normalized.CPUThrottle = CPUThrottleNormal
	}
	if normalized.NetThrottleKBs == nil {
		unlimited := 0
		normalized.NetThrottleKBs = &unlimited
	}
	return normalized
}

// Validate checks the policy values after normalization. It never mutates
// state; it returns the empty list when everything is acceptable.
func (p InstallPolicy) Validate() []PolicyViolation {
	var violations []PolicyViolation
	normalized := p.Normalized()

	if !normalized.RestartPolicy.Valid() {
		violations = append(violations, PolicyViolation{
			Field:  "restart_policy",
			Reason: "must be one of none, needed, force",
			Code:   PolicyCodeInvalidRestart,
		})
	}
	if !normalized.CPUThrottle.Valid() {
		violations = append(violations, PolicyViolation{
			Field:  "cpu_throttle",
			Reason: "must be one of idle, below_normal, normal, above_normal, high",
			Code:   PolicyCodeInvalidCPUThrottle,
		})
	}
	if *normalized.NetThrottleKBs < 0 {
		violations = append(violations, PolicyViolation{
			Field:  "net_throttle_kbs",
			Reason: "must be zero (unlimited) or a positive KB/s value",
			Code:   PolicyCodeInvalidNetThrottle,
		})
	}
	return violations
}

// OperationTarget identifies the agents an operation is performed on: an
// explicit agent list, a tag, or both (the union is taken at resolve time).
type OperationTarget struct {
	AgentIDs []string `json:"agent_ids,omitempty"`
	TagID    *string  `json:"tag_id,omitempty"`
}

func (t OperationTarget) Empty() bool {
	return len(t.AgentIDs) == 0 && (t.TagID == nil || *t.TagID == "")
}

// ValidateInstallRequest validates the full input of an app-level operation:
// policy values, target and app ids. Returns the empty list on success.
func ValidateInstallRequest(policy InstallPolicy, target OperationTarget, appIDs []string) []PolicyViolation {
	violations := policy.Validate()
	if target.Empty() {
		violations = append(violations, PolicyViolation{
			Field:  "target",
			Reason: "at least one agent id or a tag id is required",
			Code:   PolicyCodeEmptyTarget,
		})
	}
	if len(appIDs) == 0 {
		violations = append(violations, PolicyViolation{
			Field:  "app_ids",
			Reason: "at least one app id is required",
			Code:   PolicyCodeEmptyAppIDs,
		})
	}
	return violations
}

// ValidateAgentRequest validates the input of an agent-level operation
// (reboot, shutdown, refresh-apps), which carries no app ids.
func ValidateAgentRequest(policy InstallPolicy, target OperationTarget) []PolicyViolation {
	violations := policy.Validate()
	if target.Empty() {
		violations = append(violations, PolicyViolation{
			Field:  "target",
			Reason: "at least one agent id or a tag id is required",
			Code:   PolicyCodeEmptyTarget,
		})
	}
	return violations
}
