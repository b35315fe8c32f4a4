package models

import (
	"time"
)

// Integration identifies a connected source repository. Immutable except
// for secret rotation; never deleted while executions reference it.
type Integration struct {
	ID            int64
	Owner         string
	Name          string
	WebhookSecret string
	CreatedAt     time.Time
}

func (i Integration) FullName() string {
	return i.Owner + "/" + i.Name
}

// EnvironmentLock gates an environment. Singleton per environment name,
// written by privileged operators; the engine reads the freshest row at
// decision time, never a cached copy.
type EnvironmentLock struct {
	Environment      string
	Locked           bool
	RequiredRole     string
	RequiresApproval bool
	LockReason       string
	UnlockedBy       string
	UnlockedAt       *time.Time
}

// Execution is one governed deployment attempt for a commit+environment.
type Execution struct {
	ID               string
	Name             string
	Branch           string
	CommitHash       string
	Environment      string
	Status           ExecutionStatus
	GovernanceStatus GovernanceStatus
	BlockedReason    string
	Progress         int
	StartedAt        time.Time
	CompletedAt      *time.Time
	Metadata         map[string]string
}

// Metadata keys carried on executions.
const (
	MetaRepository       = "repository"
	MetaPusher           = "pusher"
	MetaRunID            = "githubRunId"
	MetaDeliveryID       = "deliveryId"
	MetaCancelReason     = "cancelReason"
	MetaSourceCheckpoint = "sourceCheckpointId"
	MetaSourceExecution  = "sourceExecutionId"
	MetaResumeAfterNode  = "resumeAfterNode"
	MetaInheritedState   = "inheritedState"
)

// ExecutionNode is one pipeline step within an execution. NodeID is
// unique within the execution; rows are upserted by provider job events.
type ExecutionNode struct {
	ExecutionID string
	NodeID      string
	Status      ExecutionStatus
	StartedAt   *time.Time
	CompletedAt *time.Time
	DurationMs  *int64
	Metadata    map[string]string
}

// Checkpoint is an immutable snapshot written when a node succeeds. No
// update or delete path exists; recovery reads it as a resume point.
type Checkpoint struct {
	ID          string
	ExecutionID string
	NodeID      string
	Name        string
	State       map[string]string
	CreatedAt   time.Time
}

// ApprovalRequest pauses an execution until enough votes arrive. Votes
// are written by the approval UI; the engine only reads resolution.
type ApprovalRequest struct {
	ID                string
	ExecutionID       string
	NodeID            string
	Title             string
	RequiredApprovals int
	Status            ApprovalStatus
	CreatedAt         time.Time
}

type ApprovalVote struct {
	RequestID string
	UserID    string
	Approve   bool
	VotedAt   time.Time
}

// AuditLogEntry is append-only; entries are never mutated.
type AuditLogEntry struct {
	ID           int64
	Action       string
	ResourceType string
	ResourceID   string
	UserID       string
	Details      map[string]string
	CreatedAt    time.Time
}
