package warden

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-git/go-git/v5/plumbing"

	"shipgate.sh/core/warden/db"
	"shipgate.sh/core/warden/engine"
	"shipgate.sh/core/warden/models"
)

// payload shapes, one strict schema per event kind; dispatch is on the
// event-type header, never on sniffing the body
type repository struct {
	FullName string `json:"full_name"`
	Name     string `json:"name"`
	Owner    struct {
		Login string `json:"login"`
		Name  string `json:"name"`
	} `json:"owner"`
}

func (r repository) identity() (owner, name string, ok bool) {
	if o, n, found := strings.Cut(r.FullName, "/"); found {
		return o, n, true
	}
	owner = r.Owner.Login
	if owner == "" {
		owner = r.Owner.Name
	}
	if owner == "" || r.Name == "" {
		return "", "", false
	}
	return owner, r.Name, true
}

type pushPayload struct {
	Ref        string     `json:"ref"`
	After      string     `json:"after"`
	Repository repository `json:"repository"`
	Pusher     struct {
		Name string `json:"name"`
	} `json:"pusher"`
}

type workflowRunPayload struct {
	Action      string     `json:"action"`
	Repository  repository `json:"repository"`
	WorkflowRun struct {
		ID         int64  `json:"id"`
		Status     string `json:"status"`
		Conclusion string `json:"conclusion"`
		HeadSha    string `json:"head_sha"`
		HeadBranch string `json:"head_branch"`
	} `json:"workflow_run"`
}

type workflowJobPayload struct {
	Action      string     `json:"action"`
	Repository  repository `json:"repository"`
	WorkflowJob struct {
		ID          int64      `json:"id"`
		RunID       int64      `json:"run_id"`
		Name        string     `json:"name"`
		Status      string     `json:"status"`
		Conclusion  string     `json:"conclusion"`
		HeadSha     string     `json:"head_sha"`
		StartedAt   *time.Time `json:"started_at"`
		CompletedAt *time.Time `json:"completed_at"`
	} `json:"workflow_job"`
}

// Webhook is the single inbound surface: verify, resolve the
// integration, then dispatch by event type. Verification and
// configuration failures short-circuit before any governance decision.
func (s *Warden) Webhook(w http.ResponseWriter, r *http.Request) {
	l := s.l.With("handler", "Webhook")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, "failed to read body", http.StatusBadRequest)
		return
	}

	event := r.Header.Get("X-GitHub-Event")
	if event == "" {
		event = r.Header.Get("X-Webhook-Event")
	}
	deliveryID := r.Header.Get("X-GitHub-Delivery")
	if deliveryID == "" {
		deliveryID = r.Header.Get("X-Delivery-ID")
	}

	// ping carries no governance meaning; answer before any lookups
	if event == "ping" {
		writeJSON(w, map[string]any{"success": true})
		return
	}

	var envelope struct {
		Repository repository `json:"repository"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		writeError(w, "malformed payload", http.StatusBadRequest)
		return
	}
	owner, name, ok := envelope.Repository.identity()
	if !ok {
		writeError(w, "missing repository identity", http.StatusBadRequest)
		return
	}

	integration, err := s.db.GetIntegration(owner, name)
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, "repository not configured", http.StatusNotFound)
		return
	}
	if err != nil {
		l.Error("integration lookup failed", "error", err)
		writeError(w, "internal error", http.StatusInternalServerError)
		return
	}

	sigHeader := r.Header.Get("X-Hub-Signature-256")
	switch VerifySignature(integration.WebhookSecret, body, sigHeader) {
	case SignatureUnsigned:
		l.Warn("signature verification skipped, no secret configured",
			"repository", integration.FullName(),
		)
	case SignatureInvalid:
		action := "webhook_signature_invalid"
		if sigHeader == "" {
			action = "webhook_signature_missing"
		}
		s.eng.Record(r.Context(), action, "integration", fmt.Sprint(integration.ID), "", map[string]string{
			"repository": integration.FullName(),
			"deliveryId": deliveryID,
		})
		l.Error("signature verification failed", "repository", integration.FullName(), "deliveryId", deliveryID)
		writeError(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	switch event {
	case "push":
		s.handlePush(w, r, body, deliveryID, integration)
	case "workflow_run":
		s.handleWorkflowRun(w, r, body, deliveryID)
	case "workflow_job":
		s.handleWorkflowJob(w, r, body, deliveryID)
	default:
		l.Info("ignoring event", "event", event)
		writeJSON(w, map[string]any{"success": true, "ignored": event})
	}
}

func (s *Warden) handlePush(w http.ResponseWriter, r *http.Request, body []byte, deliveryID string, integration models.Integration) {
	var p pushPayload
	if err := json.Unmarshal(body, &p); err != nil {
		writeError(w, "malformed push payload", http.StatusBadRequest)
		return
	}

	refName := plumbing.ReferenceName(p.Ref)
	if !refName.IsBranch() {
		// tag pushes and the like are not governed
		writeJSON(w, map[string]any{"success": true, "ignored": p.Ref})
		return
	}

	executions, err := s.eng.ProcessPush(r.Context(), engine.PushEvent{
		DeliveryID:  deliveryID,
		Integration: integration,
		Branch:      refName.Short(),
		CommitHash:  p.After,
		Pusher:      p.Pusher.Name,
	})
	if err != nil {
		s.l.Error("push processing failed", "deliveryId", deliveryID, "error", err)
		writeError(w, "internal error", http.StatusInternalServerError)
		return
	}

	ids := make([]string, 0, len(executions))
	for _, e := range executions {
		ids = append(ids, e.ID)
	}
	writeJSON(w, map[string]any{"success": true, "executions": ids})
}

func (s *Warden) handleWorkflowRun(w http.ResponseWriter, r *http.Request, body []byte, deliveryID string) {
	var p workflowRunPayload
	if err := json.Unmarshal(body, &p); err != nil {
		writeError(w, "malformed workflow_run payload", http.StatusBadRequest)
		return
	}

	err := s.eng.HandleRun(r.Context(), engine.RunEvent{
		DeliveryID: deliveryID,
		RunID:      fmt.Sprint(p.WorkflowRun.ID),
		CommitHash: p.WorkflowRun.HeadSha,
		Status:     p.WorkflowRun.Status,
		Conclusion: p.WorkflowRun.Conclusion,
	})
	if err != nil {
		s.l.Error("workflow_run processing failed", "deliveryId", deliveryID, "error", err)
		writeError(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"success": true})
}

func (s *Warden) handleWorkflowJob(w http.ResponseWriter, r *http.Request, body []byte, deliveryID string) {
	var p workflowJobPayload
	if err := json.Unmarshal(body, &p); err != nil {
		writeError(w, "malformed workflow_job payload", http.StatusBadRequest)
		return
	}

	err := s.eng.HandleJob(r.Context(), engine.JobEvent{
		DeliveryID:  deliveryID,
		RunID:       fmt.Sprint(p.WorkflowJob.RunID),
		CommitHash:  p.WorkflowJob.HeadSha,
		NodeID:      p.WorkflowJob.Name,
		Status:      p.WorkflowJob.Status,
		Conclusion:  p.WorkflowJob.Conclusion,
		StartedAt:   p.WorkflowJob.StartedAt,
		CompletedAt: p.WorkflowJob.CompletedAt,
	})
	if err != nil {
		s.l.Error("workflow_job processing failed", "deliveryId", deliveryID, "error", err)
		writeError(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"success": true})
}
