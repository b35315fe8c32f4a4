package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"shipgate.sh/core/warden/models"
)

// onNodeSuccess snapshots the node as an immutable checkpoint. Exactly
// one checkpoint exists per (execution, node); a redelivered success for
// the same node hits the unique constraint and leaves the first snapshot
// untouched.
func (e *Engine) onNodeSuccess(ctx context.Context, exec models.Execution, node models.ExecutionNode) error {
	state := map[string]string{
		"branch":      exec.Branch,
		"commit":      exec.CommitHash,
		"environment": exec.Environment,
	}
	if node.DurationMs != nil {
		state["durationMs"] = fmt.Sprint(*node.DurationMs)
	}

	cp := models.Checkpoint{
		ID:          uuid.NewString(),
		ExecutionID: exec.ID,
		NodeID:      node.NodeID,
		Name:        fmt.Sprintf("%s after %s", exec.Name, node.NodeID),
		State:       state,
	}
	if err := e.db.CreateCheckpoint(cp); err != nil {
		return fmt.Errorf("failed to create checkpoint: %w", err)
	}

	e.Record(ctx, "checkpoint_created", "checkpoint", cp.ID, "", map[string]string{
		"execution": exec.ID,
		"node":      node.NodeID,
	})
	return nil
}

// RerunFromCheckpoint starts a new execution that resumes at the node
// immediately after the checkpointed one. The failed execution is never
// mutated: its rows stay as history, and the new execution links back
// through metadata for traceability. An unknown checkpoint id fails with
// ErrNotFound; there is no silent restart-from-the-beginning fallback.
func (e *Engine) RerunFromCheckpoint(ctx context.Context, checkpointID, newName string) (models.Execution, error) {
	cp, err := e.db.GetCheckpoint(checkpointID)
	if err != nil {
		return models.Execution{}, err
	}

	src, err := e.db.GetExecution(cp.ExecutionID)
	if err != nil {
		return models.Execution{}, err
	}

	if newName == "" {
		newName = fmt.Sprintf("%s (rerun from %s)", src.Name, cp.NodeID)
	}

	meta := map[string]string{
		models.MetaRepository:       src.Metadata[models.MetaRepository],
		models.MetaSourceCheckpoint: cp.ID,
		models.MetaSourceExecution:  src.ID,
		models.MetaResumeAfterNode:  cp.NodeID,
	}
	// the checkpoint's recorded state is the new execution's starting
	// context
	for k, v := range cp.State {
		meta[models.MetaInheritedState+"."+k] = v
	}

	exec := models.Execution{
		ID:               uuid.NewString(),
		Name:             newName,
		Branch:           src.Branch,
		CommitHash:       src.CommitHash,
		Environment:      src.Environment,
		Status:           models.StatusIdle,
		GovernanceStatus: models.GovernanceAllowed,
		StartedAt:        time.Now().UTC(),
		Metadata:         meta,
	}
	if err := e.db.CreateExecution(exec); err != nil {
		return exec, fmt.Errorf("failed to create recovery execution: %w", err)
	}

	// seed node rows: everything up to and including the checkpointed
	// node is inherited as already-succeeded, everything after starts
	// idle and runs again
	nodes, err := e.db.ListNodes(src.ID)
	if err != nil {
		return exec, err
	}

	inherited := true
	for _, n := range nodes {
		seed := models.ExecutionNode{
			ExecutionID: exec.ID,
			NodeID:      n.NodeID,
			Status:      models.StatusIdle,
		}
		if inherited {
			seed.Status = models.StatusSuccess
			seed.Metadata = map[string]string{"inherited": "true"}
		}
		if _, err := e.db.UpsertNodeStatus(seed); err != nil {
			return exec, err
		}
		if n.NodeID == cp.NodeID {
			inherited = false
		}
	}

	e.Record(ctx, "execution_recovered", "execution", exec.ID, "", map[string]string{
		"checkpoint":      cp.ID,
		"sourceExecution": src.ID,
		"resumeAfterNode": cp.NodeID,
	})
	e.l.Info("execution recovered from checkpoint",
		"execution", exec.ID,
		"checkpoint", cp.ID,
		"source", src.ID,
	)
	e.n.NotifyAll()

	return exec, nil
}
