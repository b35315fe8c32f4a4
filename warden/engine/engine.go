package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"shipgate.sh/core/email"
	"shipgate.sh/core/log"
	"shipgate.sh/core/notifier"
	"shipgate.sh/core/policy"
	"shipgate.sh/core/warden/db"
	"shipgate.sh/core/warden/models"
)

// ApproverChecker answers whether a user's vote counts toward an
// approval threshold. Backed by the rbac enforcer in production.
type ApproverChecker interface {
	IsApprover(env, user string) (bool, error)
}

// Engine owns the execution lifecycle: it turns verified webhook events
// into governance decisions and tracks node-by-node progress through to
// completion or recovery. Handlers are stateless; every decision reads
// the store fresh, so concurrent deliveries and provider retries are
// safe to process in parallel.
type Engine struct {
	db         *db.DB
	l          *slog.Logger
	n          *notifier.Notifier
	thresholds *policy.Thresholds

	approvers ApproverChecker
	mailer    *email.Mailer
}

func New(ctx context.Context, d *db.DB, n *notifier.Notifier, thresholds *policy.Thresholds) *Engine {
	if thresholds == nil {
		thresholds = policy.DefaultThresholds()
	}
	return &Engine{
		db:         d,
		l:          log.FromContext(ctx).With("component", "engine"),
		n:          n,
		thresholds: thresholds,
	}
}

// SetApproverChecker wires role-aware vote counting. Without one, every
// vote counts.
func (e *Engine) SetApproverChecker(c ApproverChecker) {
	e.approvers = c
}

// SetMailer enables approval notification emails.
func (e *Engine) SetMailer(m *email.Mailer) {
	e.mailer = m
}

// PushEvent is a verified, parsed push delivery.
type PushEvent struct {
	DeliveryID  string
	Integration models.Integration
	Branch      string
	CommitHash  string
	Pusher      string
}

// ProcessPush runs the full governance decision for one push: resolve
// the branch against the integration's mappings, evaluate each matched
// environment's lock, and create one execution per environment (or a
// single blocked execution when nothing matches). Returns the created
// executions.
//
// The delivery id is the idempotency key: providers deliver at least
// once, and a redelivered push must not create a second execution. When
// processing fails midway the delivery id is released again, so the
// provider's redelivery can finish the work instead of being dropped as
// a duplicate.
func (e *Engine) ProcessPush(ctx context.Context, ev PushEvent) ([]models.Execution, error) {
	if ev.DeliveryID != "" {
		err := e.db.RecordDelivery(ev.DeliveryID, "push")
		if errors.Is(err, db.ErrDuplicateDelivery) {
			e.l.Info("skipping duplicate delivery", "deliveryId", ev.DeliveryID)
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to record delivery: %w", err)
		}
	}

	executions, err := e.processPush(ctx, ev)
	if err != nil && ev.DeliveryID != "" {
		if ferr := e.db.ForgetDelivery(ev.DeliveryID); ferr != nil {
			e.l.Error("failed to release delivery id", "deliveryId", ev.DeliveryID, "error", ferr)
		}
	}
	return executions, err
}

func (e *Engine) processPush(ctx context.Context, ev PushEvent) ([]models.Execution, error) {
	mappings, err := e.db.BranchMappings(ev.Integration.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load branch mappings: %w", err)
	}

	matched := policy.ResolveBranch(ev.Branch, mappings)
	if len(matched) == 0 {
		if existing, ok, err := e.existingExecution(ev, ""); err != nil {
			return nil, err
		} else if ok {
			return []models.Execution{existing}, nil
		}

		exec, err := e.blockExecution(ctx, ev, "", fmt.Sprintf("branch pattern not configured for %q", ev.Branch))
		if err != nil {
			return nil, err
		}
		return []models.Execution{exec}, nil
	}

	var executions []models.Execution
	for _, m := range matched {
		var exec models.Execution
		var err error

		// a reprocessed delivery picks up where the failed attempt
		// stopped; environments already written keep their execution
		if existing, ok, err := e.existingExecution(ev, m.Environment); err != nil {
			return executions, err
		} else if ok {
			executions = append(executions, existing)
			continue
		}

		if !m.Deployable {
			exec, err = e.blockExecution(ctx, ev, m.Environment, fmt.Sprintf("branch %q marked non-deployable to %s", ev.Branch, m.Environment))
		} else {
			exec, err = e.decide(ctx, ev, m.Environment)
		}
		if err != nil {
			return executions, err
		}
		executions = append(executions, exec)
	}

	return executions, nil
}

func (e *Engine) existingExecution(ev PushEvent, environment string) (models.Execution, bool, error) {
	if ev.DeliveryID == "" {
		return models.Execution{}, false, nil
	}
	exec, err := e.db.FindExecutionByDelivery(ev.DeliveryID, environment)
	if errors.Is(err, db.ErrNotFound) {
		return models.Execution{}, false, nil
	}
	if err != nil {
		return models.Execution{}, false, err
	}
	return exec, true, nil
}

// decide evaluates the environment lock and creates the execution in
// the right initial state. The lock row is read here, per decision,
// never from a cache: an unlock racing this push must be observed.
func (e *Engine) decide(ctx context.Context, ev PushEvent, environment string) (models.Execution, error) {
	lock, err := e.db.GetEnvironmentLock(environment)
	if err != nil {
		return models.Execution{}, fmt.Errorf("failed to read environment lock: %w", err)
	}

	exec := e.newExecution(ev, environment)

	if !lock.Locked {
		exec.Status = models.StatusIdle
		exec.GovernanceStatus = models.GovernanceAllowed
		if err := e.db.CreateExecution(exec); err != nil {
			return exec, fmt.Errorf("failed to create execution: %w", err)
		}
		e.Record(ctx, "execution_created", "execution", exec.ID, ev.Pusher, map[string]string{
			"branch":      exec.Branch,
			"environment": environment,
			"commit":      exec.CommitHash,
		})
		e.l.Info("execution allowed", "execution", exec.ID, "environment", environment, "branch", ev.Branch)
		e.n.NotifyAll()
		return exec, nil
	}

	// a lock pauses, it never rejects; locks are expected to be lifted
	required := e.thresholds.RequiredApprovals(environment)
	exec.Status = models.StatusPaused
	exec.GovernanceStatus = models.GovernanceAwaitingApproval
	if err := e.db.CreateExecution(exec); err != nil {
		return exec, fmt.Errorf("failed to create execution: %w", err)
	}

	request := models.ApprovalRequest{
		ID:                uuid.NewString(),
		ExecutionID:       exec.ID,
		Title:             fmt.Sprintf("deploy %s to %s", ev.Branch, environment),
		RequiredApprovals: required,
		Status:            models.ApprovalPending,
	}
	if err := e.db.CreateApprovalRequest(request); err != nil {
		return exec, fmt.Errorf("failed to create approval request: %w", err)
	}

	e.Record(ctx, "execution_paused", "execution", exec.ID, ev.Pusher, map[string]string{
		"branch":            exec.Branch,
		"environment":       environment,
		"lockReason":        lock.LockReason,
		"approvalRequest":   request.ID,
		"requiredApprovals": fmt.Sprint(required),
	})
	e.l.Info("execution paused for approval",
		"execution", exec.ID,
		"environment", environment,
		"requiredApprovals", required,
	)
	e.notifyApprovers(environment, exec.Name, request)
	e.n.NotifyAll()

	return exec, nil
}

func (e *Engine) blockExecution(ctx context.Context, ev PushEvent, environment, reason string) (models.Execution, error) {
	exec := e.newExecution(ev, environment)
	exec.Status = models.StatusFailed
	exec.GovernanceStatus = models.GovernanceBlocked
	exec.BlockedReason = reason
	now := time.Now().UTC()
	exec.CompletedAt = &now

	if err := e.db.CreateExecution(exec); err != nil {
		return exec, fmt.Errorf("failed to create blocked execution: %w", err)
	}

	e.Record(ctx, "execution_blocked", "execution", exec.ID, ev.Pusher, map[string]string{
		"branch": exec.Branch,
		"reason": reason,
	})
	e.l.Info("execution blocked", "execution", exec.ID, "branch", ev.Branch, "reason", reason)
	e.n.NotifyAll()

	return exec, nil
}

func (e *Engine) newExecution(ev PushEvent, environment string) models.Execution {
	name := fmt.Sprintf("%s: deploy %s", ev.Integration.FullName(), ev.Branch)
	if environment != "" {
		name = fmt.Sprintf("%s to %s", name, environment)
	}

	return models.Execution{
		ID:          uuid.NewString(),
		Name:        name,
		Branch:      ev.Branch,
		CommitHash:  ev.CommitHash,
		Environment: environment,
		StartedAt:   time.Now().UTC(),
		Metadata: map[string]string{
			models.MetaRepository: ev.Integration.FullName(),
			models.MetaPusher:     ev.Pusher,
			models.MetaDeliveryID: ev.DeliveryID,
		},
	}
}

func (e *Engine) notifyApprovers(environment, executionName string, request models.ApprovalRequest) {
	if !e.mailer.Enabled() {
		return
	}
	recipients := e.thresholds.ApproverEmails(environment)
	if len(recipients) == 0 {
		return
	}

	go func() {
		err := e.mailer.SendApprovalRequest(recipients, environment, executionName, request.ID, request.RequiredApprovals)
		if err != nil {
			e.l.Error("failed to notify approvers", "request", request.ID, "error", err)
		}
	}()
}
