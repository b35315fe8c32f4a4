package warden

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"shipgate.sh/core/warden/db"
	"shipgate.sh/core/warden/engine"
	"shipgate.sh/core/warden/models"
)

// actor identifies the caller for audit and rbac checks. Identity is
// asserted by the fronting proxy; warden itself does not authenticate.
func actor(r *http.Request) string {
	return r.Header.Get("X-Warden-User")
}

// decodeOptional parses a request body that may be absent. An empty
// body leaves the target zeroed; malformed JSON is an error.
func decodeOptional(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (s *Warden) ListExecutions(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	executions, err := s.db.ListExecutions(limit)
	if err != nil {
		s.l.Error("failed to list executions", "error", err)
		writeError(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"executions": executions})
}

func (s *Warden) GetExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	exec, err := s.db.GetExecution(id)
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, "execution not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.l.Error("failed to load execution", "execution", id, "error", err)
		writeError(w, "internal error", http.StatusInternalServerError)
		return
	}

	nodes, err := s.db.ListNodes(id)
	if err != nil {
		s.l.Error("failed to load nodes", "execution", id, "error", err)
		writeError(w, "internal error", http.StatusInternalServerError)
		return
	}

	checkpoints, err := s.db.ListCheckpoints(id)
	if err != nil {
		s.l.Error("failed to load checkpoints", "execution", id, "error", err)
		writeError(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]any{
		"execution":   exec,
		"nodes":       nodes,
		"checkpoints": checkpoints,
	})
}

func (s *Warden) CancelExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body struct {
		Reason string `json:"reason"`
	}
	if err := decodeOptional(r, &body); err != nil {
		writeError(w, "malformed body", http.StatusBadRequest)
		return
	}

	err := s.eng.CancelExecution(r.Context(), id, body.Reason, actor(r))
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, "execution not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.l.Error("failed to cancel execution", "execution", id, "error", err)
		writeError(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"success": true})
}

func (s *Warden) SubmitVote(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	user := actor(r)
	if user == "" {
		writeError(w, "missing user identity", http.StatusBadRequest)
		return
	}

	var body struct {
		Approve bool `json:"approve"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, "malformed vote", http.StatusBadRequest)
		return
	}

	request, err := s.eng.SubmitVote(r.Context(), id, user, body.Approve)
	switch {
	case errors.Is(err, db.ErrNotFound):
		writeError(w, "approval request not found", http.StatusNotFound)
		return
	case errors.Is(err, engine.ErrNotApprover):
		writeError(w, "not an approver for this environment", http.StatusForbidden)
		return
	case err != nil:
		s.l.Error("failed to submit vote", "request", id, "error", err)
		writeError(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]any{"request": request})
}

func (s *Warden) RerunFromCheckpoint(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body struct {
		Name string `json:"name"`
	}
	if err := decodeOptional(r, &body); err != nil {
		writeError(w, "malformed body", http.StatusBadRequest)
		return
	}

	exec, err := s.eng.RerunFromCheckpoint(r.Context(), id, body.Name)
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, "checkpoint not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.l.Error("failed to rerun from checkpoint", "checkpoint", id, "error", err)
		writeError(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]any{"execution": exec})
}

func (s *Warden) LockEnvironment(w http.ResponseWriter, r *http.Request) {
	env := chi.URLParam(r, "env")
	user := actor(r)

	ok, err := s.e.IsOperator(env, user)
	if err != nil {
		s.l.Error("rbac check failed", "environment", env, "error", err)
		writeError(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !ok {
		writeError(w, "not an operator for this environment", http.StatusForbidden)
		return
	}

	var body struct {
		Reason string `json:"reason"`
	}
	if err := decodeOptional(r, &body); err != nil {
		writeError(w, "malformed body", http.StatusBadRequest)
		return
	}

	err = s.db.SetEnvironmentLock(models.EnvironmentLock{
		Environment:      env,
		Locked:           true,
		RequiresApproval: true,
		LockReason:       body.Reason,
	})
	if err != nil {
		s.l.Error("failed to lock environment", "environment", env, "error", err)
		writeError(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.eng.Record(r.Context(), "environment_locked", "environment", env, user, map[string]string{
		"reason": body.Reason,
	})
	s.l.Info("environment locked", "environment", env, "by", user)
	writeJSON(w, map[string]any{"success": true})
}

func (s *Warden) UnlockEnvironment(w http.ResponseWriter, r *http.Request) {
	env := chi.URLParam(r, "env")
	user := actor(r)

	ok, err := s.e.IsOperator(env, user)
	if err != nil {
		s.l.Error("rbac check failed", "environment", env, "error", err)
		writeError(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !ok {
		writeError(w, "not an operator for this environment", http.StatusForbidden)
		return
	}

	if err := s.db.UnlockEnvironment(env, user); err != nil {
		s.l.Error("failed to unlock environment", "environment", env, "error", err)
		writeError(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.eng.Record(r.Context(), "environment_unlocked", "environment", env, user, nil)
	s.l.Info("environment unlocked", "environment", env, "by", user)
	writeJSON(w, map[string]any{"success": true})
}

func (s *Warden) AddIntegration(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Owner  string `json:"owner"`
		Name   string `json:"name"`
		Secret string `json:"secret"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Owner == "" || body.Name == "" {
		writeError(w, "owner and name are required", http.StatusBadRequest)
		return
	}

	if body.Secret == "" {
		body.Secret = newSecret()
	}

	id, err := s.db.AddIntegration(body.Owner, body.Name, body.Secret)
	if err != nil {
		s.l.Error("failed to add integration", "error", err)
		writeError(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.eng.Record(r.Context(), "integration_created", "integration", strconv.FormatInt(id, 10), actor(r), map[string]string{
		"repository": body.Owner + "/" + body.Name,
	})
	writeJSON(w, map[string]any{"id": id, "secret": body.Secret})
}

func (s *Warden) AddBranchMapping(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	name := chi.URLParam(r, "name")

	integration, err := s.db.GetIntegration(owner, name)
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, "repository not configured", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, "internal error", http.StatusInternalServerError)
		return
	}

	var body struct {
		Pattern     string `json:"pattern"`
		Environment string `json:"environment"`
		Deployable  *bool  `json:"deployable"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Pattern == "" || body.Environment == "" {
		writeError(w, "pattern and environment are required", http.StatusBadRequest)
		return
	}
	deployable := body.Deployable == nil || *body.Deployable

	if err := s.db.AddBranchMapping(integration.ID, body.Pattern, body.Environment, deployable); err != nil {
		s.l.Error("failed to add branch mapping", "error", err)
		writeError(w, "internal error", http.StatusInternalServerError)
		return
	}

	// role policies for the environment are idempotent to register
	if err := s.e.AddEnvironment(body.Environment); err != nil {
		s.l.Error("failed to register environment policies", "environment", body.Environment, "error", err)
	}

	writeJSON(w, map[string]any{"success": true})
}

func (s *Warden) RotateSecret(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	name := chi.URLParam(r, "name")

	integration, err := s.db.GetIntegration(owner, name)
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, "repository not configured", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, "internal error", http.StatusInternalServerError)
		return
	}

	secret := newSecret()
	if err := s.db.RotateIntegrationSecret(integration.ID, secret); err != nil {
		s.l.Error("failed to rotate secret", "integration", integration.FullName(), "error", err)
		writeError(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.eng.Record(r.Context(), "integration_secret_rotated", "integration", strconv.FormatInt(integration.ID, 10), actor(r), map[string]string{
		"repository": integration.FullName(),
	})
	writeJSON(w, map[string]any{"secret": secret})
}

func (s *Warden) ListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))

	entries, err := s.db.ListAuditEntries(q.Get("resourceType"), q.Get("resourceId"), limit)
	if err != nil {
		s.l.Error("failed to list audit entries", "error", err)
		writeError(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"entries": entries})
}

func newSecret() string {
	b := make([]byte, 32)
	rand.Read(b)
	return hex.EncodeToString(b)
}
