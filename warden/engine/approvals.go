package engine

import (
	"context"
	"errors"
	"fmt"

	"shipgate.sh/core/warden/db"
	"shipgate.sh/core/warden/models"
)

// ErrNotApprover is returned when a vote comes from a user without the
// approver role in the execution's environment.
var ErrNotApprover = errors.New("user is not an approver for this environment")

// SubmitVote records one vote and resolves the request if the vote
// pushes it over the line. Votes from users without the approver role
// are refused outright rather than silently ignored.
func (e *Engine) SubmitVote(ctx context.Context, requestID, userID string, approve bool) (models.ApprovalRequest, error) {
	request, err := e.db.GetApprovalRequest(requestID)
	if err != nil {
		return request, err
	}
	if request.Status != models.ApprovalPending {
		// already resolved; the vote is moot
		return request, nil
	}

	exec, err := e.db.GetExecution(request.ExecutionID)
	if err != nil {
		return request, err
	}

	if e.approvers != nil {
		ok, err := e.approvers.IsApprover(exec.Environment, userID)
		if err != nil {
			return request, fmt.Errorf("failed to check approver role: %w", err)
		}
		if !ok {
			return request, ErrNotApprover
		}
	}

	err = e.db.AddApprovalVote(models.ApprovalVote{
		RequestID: requestID,
		UserID:    userID,
		Approve:   approve,
	})
	if err != nil {
		return request, fmt.Errorf("failed to record vote: %w", err)
	}
	e.Record(ctx, "approval.vote", "approval_request", requestID, userID, map[string]string{
		"approve": fmt.Sprint(approve),
	})

	return e.resolve(ctx, request, exec)
}

// resolve applies the voting outcome: any reject vote rejects the
// request and fails the execution; enough approvals release it back to
// idle where provider events pick it up. The status guard on resolution
// makes this idempotent under concurrent votes: only one caller performs
// the execution transition.
func (e *Engine) resolve(ctx context.Context, request models.ApprovalRequest, exec models.Execution) (models.ApprovalRequest, error) {
	votes, err := e.db.ListApprovalVotes(request.ID)
	if err != nil {
		return request, err
	}

	approvals := 0
	rejected := false
	for _, v := range votes {
		if v.Approve {
			approvals++
		} else {
			rejected = true
		}
	}

	switch {
	case rejected:
		applied, err := e.db.ResolveApprovalRequest(request.ID, models.ApprovalRejected)
		if err != nil || !applied {
			return request, err
		}
		request.Status = models.ApprovalRejected

		failed, err := e.db.TransitionExecution(exec.ID, models.StatusFailed)
		if err != nil {
			return request, err
		}
		if failed {
			// an execution that already went terminal keeps its recorded
			// governance outcome
			if err := e.db.SetGovernanceStatus(exec.ID, models.GovernanceBlocked, "approval rejected"); err != nil {
				return request, err
			}
		}
		e.Record(ctx, "approval.rejected", "approval_request", request.ID, "", map[string]string{
			"execution": exec.ID,
		})
		e.l.Info("approval rejected", "request", request.ID, "execution", exec.ID)
		e.n.NotifyAll()

	case approvals >= request.RequiredApprovals:
		applied, err := e.db.ResolveApprovalRequest(request.ID, models.ApprovalApproved)
		if err != nil || !applied {
			return request, err
		}
		request.Status = models.ApprovalApproved

		released, err := e.db.TransitionExecution(exec.ID, models.StatusIdle)
		if err != nil {
			return request, err
		}
		if released {
			if err := e.db.SetGovernanceStatus(exec.ID, models.GovernanceAllowed, ""); err != nil {
				return request, err
			}
		}
		e.Record(ctx, "approval.approved", "approval_request", request.ID, "", map[string]string{
			"execution": exec.ID,
			"approvals": fmt.Sprint(approvals),
		})
		e.l.Info("approval granted", "request", request.ID, "execution", exec.ID, "approvals", approvals)
		e.n.NotifyAll()
	}

	return request, nil
}

// CancelExecution is the explicit external cancel command: the execution
// goes terminal immediately, and node updates still in flight are
// recorded for audit without resurrecting it.
func (e *Engine) CancelExecution(ctx context.Context, id, reason, actor string) error {
	if _, err := e.db.GetExecution(id); err != nil {
		return err
	}

	applied, err := e.db.TransitionExecution(id, models.StatusFailed)
	if err != nil {
		return err
	}
	if !applied {
		// already terminal; cancelling twice is a no-op
		return nil
	}

	if reason == "" {
		reason = "cancelled"
	}
	if err := e.db.AmendExecutionMetadata(id, map[string]string{models.MetaCancelReason: reason}); err != nil {
		return err
	}

	// a pending approval request gates nothing once the execution is
	// terminal; close it so later votes cannot resolve it, and settle
	// the governance outcome of an execution cancelled mid-approval
	request, err := e.db.PendingApprovalForExecution(id)
	switch {
	case err == nil:
		if _, err := e.db.ResolveApprovalRequest(request.ID, models.ApprovalRejected); err != nil {
			return err
		}
		if err := e.db.SetGovernanceStatus(id, models.GovernanceBlocked, reason); err != nil {
			return err
		}
	case !errors.Is(err, db.ErrNotFound):
		return err
	}

	e.Record(ctx, "execution_cancelled", "execution", id, actor, map[string]string{
		"reason": reason,
	})
	e.l.Info("execution cancelled", "execution", id, "reason", reason, "actor", actor)
	e.n.NotifyAll()

	return nil
}
