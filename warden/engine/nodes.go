package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"shipgate.sh/core/warden/db"
	"shipgate.sh/core/warden/models"
)

// RunEvent is a provider workflow_run delivery: execution-level status.
type RunEvent struct {
	DeliveryID string
	RunID      string
	CommitHash string
	Status     string
	Conclusion string
}

// JobEvent is a provider workflow_job delivery: one pipeline step.
type JobEvent struct {
	DeliveryID  string
	RunID       string
	CommitHash  string
	NodeID      string
	Status      string
	Conclusion  string
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// HandleRun applies a workflow_run event to the executions it targets.
// The run id is recorded as a correlation id on first sight so later job
// events can find their execution directly.
func (e *Engine) HandleRun(ctx context.Context, ev RunEvent) error {
	if skip, err := e.dedup(ev.DeliveryID, "workflow_run"); skip || err != nil {
		return err
	}

	executions, err := e.targetExecutions(ev.RunID, ev.CommitHash)
	if err != nil {
		return err
	}
	if len(executions) == 0 {
		e.l.Info("run event matches no execution", "runId", ev.RunID, "commit", ev.CommitHash)
		return nil
	}

	mapped := models.FromProvider(ev.Status, ev.Conclusion)

	for _, exec := range executions {
		if exec.GovernanceStatus == models.GovernanceBlocked {
			continue
		}

		if ev.RunID != "" && exec.Metadata[models.MetaRunID] == "" {
			err := e.db.AmendExecutionMetadata(exec.ID, map[string]string{models.MetaRunID: ev.RunID})
			if err != nil {
				return fmt.Errorf("failed to attach run id: %w", err)
			}
		}

		applied, err := e.db.ApplyProviderExecutionStatus(exec.ID, mapped)
		if err != nil {
			return fmt.Errorf("failed to apply run status: %w", err)
		}
		if !applied {
			continue
		}

		if mapped.IsTerminal() {
			action := "execution_completed"
			if mapped == models.StatusFailed {
				action = "execution_failed"
			}
			e.Record(ctx, action, "execution", exec.ID, "", map[string]string{
				"runId":      ev.RunID,
				"conclusion": ev.Conclusion,
			})
		}
		e.n.NotifyAll()
	}

	return nil
}

// HandleJob upserts one node's status from a workflow_job event. Events
// arrive out of order; the upsert's precedence guard keeps a late
// "running" from downgrading a finished node. A paused execution accepts
// the row for the record but clamps it to idle: nothing runs while an
// approval is pending.
func (e *Engine) HandleJob(ctx context.Context, ev JobEvent) error {
	if skip, err := e.dedup(ev.DeliveryID, "workflow_job"); skip || err != nil {
		return err
	}

	executions, err := e.targetExecutions(ev.RunID, ev.CommitHash)
	if err != nil {
		return err
	}
	if len(executions) == 0 {
		e.l.Info("job event matches no execution", "runId", ev.RunID, "node", ev.NodeID)
		return nil
	}

	mapped := models.FromProvider(ev.Status, ev.Conclusion)

	for _, exec := range executions {
		if exec.GovernanceStatus == models.GovernanceBlocked {
			continue
		}
		if err := e.applyJob(ctx, exec, ev, mapped); err != nil {
			return err
		}
	}

	return nil
}

func (e *Engine) applyJob(ctx context.Context, exec models.Execution, ev JobEvent, mapped models.ExecutionStatus) error {
	status := mapped
	if exec.Status == models.StatusPaused && status != models.StatusIdle {
		e.l.Info("approval pending, recording node without running it",
			"execution", exec.ID,
			"node", ev.NodeID,
			"providerStatus", ev.Status,
		)
		status = models.StatusIdle
	}

	node := models.ExecutionNode{
		ExecutionID: exec.ID,
		NodeID:      ev.NodeID,
		Status:      status,
		StartedAt:   ev.StartedAt,
		CompletedAt: ev.CompletedAt,
	}
	if ev.StartedAt != nil && ev.CompletedAt != nil {
		ms := ev.CompletedAt.Sub(*ev.StartedAt).Milliseconds()
		node.DurationMs = &ms
	}

	applied, err := e.db.UpsertNodeStatus(node)
	if err != nil {
		return fmt.Errorf("failed to upsert node: %w", err)
	}
	if !applied {
		e.l.Debug("dropping stale node event", "execution", exec.ID, "node", ev.NodeID, "status", status)
		return nil
	}
	e.n.NotifyAll()

	switch status {
	case models.StatusRunning:
		if _, err := e.db.ApplyProviderExecutionStatus(exec.ID, models.StatusRunning); err != nil {
			return err
		}

	case models.StatusSuccess:
		if err := e.onNodeSuccess(ctx, exec, node); err != nil {
			return err
		}
		if err := e.updateProgress(exec.ID); err != nil {
			return err
		}

	case models.StatusFailed:
		// a failed node fails the parent; sibling nodes that have not
		// started stay idle and are not retried automatically
		e.l.Error("node failed", "execution", exec.ID, "node", ev.NodeID, "conclusion", ev.Conclusion)
		e.Record(ctx, "node_failed", "execution_node", exec.ID+"/"+ev.NodeID, "", map[string]string{
			"conclusion": ev.Conclusion,
		})
		if exec.Status != models.StatusPaused {
			applied, err := e.db.TransitionExecution(exec.ID, models.StatusFailed)
			if err != nil {
				return err
			}
			if applied {
				e.Record(ctx, "execution_failed", "execution", exec.ID, "", map[string]string{
					"node": ev.NodeID,
				})
				e.n.NotifyAll()
			}
		}
	}

	return nil
}

func (e *Engine) updateProgress(executionID string) error {
	nodes, err := e.db.ListNodes(executionID)
	if err != nil {
		return err
	}
	if len(nodes) == 0 {
		return nil
	}

	done := 0
	for _, n := range nodes {
		if n.Status == models.StatusSuccess {
			done++
		}
	}
	return e.db.SetExecutionProgress(executionID, done*100/len(nodes))
}

// targetExecutions resolves which executions a run/job event belongs to:
// by correlation id when one is recorded, otherwise by commit hash
// across all environments.
func (e *Engine) targetExecutions(runID, commitHash string) ([]models.Execution, error) {
	if runID != "" {
		executions, err := e.db.ListExecutionsByRun(runID)
		if err != nil {
			return nil, err
		}
		if len(executions) > 0 {
			return executions, nil
		}
	}
	if commitHash == "" {
		return nil, nil
	}
	return e.db.ListExecutionsByCommit(commitHash)
}

func (e *Engine) dedup(deliveryID, event string) (bool, error) {
	if deliveryID == "" {
		return false, nil
	}
	err := e.db.RecordDelivery(deliveryID, event)
	if errors.Is(err, db.ErrDuplicateDelivery) {
		e.l.Info("skipping duplicate delivery", "deliveryId", deliveryID, "event", event)
		return true, nil
	}
	return false, err
}
