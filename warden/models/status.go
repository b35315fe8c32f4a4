package models

// ExecutionStatus is the runtime state of an execution or a node. Paused
// is only ever entered through governance (awaiting approval) and only at
// the execution level.
type ExecutionStatus string

const (
	StatusIdle    ExecutionStatus = "idle"
	StatusRunning ExecutionStatus = "running"
	StatusPaused  ExecutionStatus = "paused"
	StatusSuccess ExecutionStatus = "success"
	StatusFailed  ExecutionStatus = "failed"
)

func (s ExecutionStatus) String() string {
	return string(s)
}

func (s ExecutionStatus) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Precedence orders statuses for idempotent upserts: a write is only
// applied if it does not decrease precedence, so a late-arriving
// "running" can never downgrade a node that already finished.
func (s ExecutionStatus) Precedence() int {
	switch s {
	case StatusIdle, StatusPaused:
		return 0
	case StatusRunning:
		return 1
	case StatusSuccess, StatusFailed:
		return 2
	default:
		return 0
	}
}

// GovernanceStatus is the policy outcome for an execution, distinct from
// its runtime status. Set exactly once at creation; it never regresses
// from allowed/blocked back to awaiting_approval.
type GovernanceStatus string

const (
	GovernanceAllowed          GovernanceStatus = "allowed"
	GovernanceAwaitingApproval GovernanceStatus = "awaiting_approval"
	GovernanceBlocked          GovernanceStatus = "blocked"
)

// ApprovalStatus is the lifecycle of an approval request.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// FromProvider maps the provider's status/conclusion vocabulary onto our
// statuses. Applied uniformly wherever a workflow_run or workflow_job
// event updates node or execution state.
func FromProvider(status, conclusion string) ExecutionStatus {
	switch status {
	case "queued", "pending", "waiting":
		return StatusIdle
	case "in_progress":
		return StatusRunning
	case "completed":
		switch conclusion {
		case "success":
			return StatusSuccess
		case "failure", "timed_out", "cancelled":
			return StatusFailed
		case "skipped":
			return StatusIdle
		default:
			return StatusIdle
		}
	default:
		return StatusIdle
	}
}
