package warden

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shipgate.sh/core/log"
	"shipgate.sh/core/notifier"
	"shipgate.sh/core/warden/db"
	"shipgate.sh/core/warden/engine"
	"shipgate.sh/core/warden/models"
)

func testWarden(t *testing.T) (*Warden, *db.DB) {
	t.Helper()

	d, err := db.Make(filepath.Join(t.TempDir(), "warden.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	n := notifier.New()
	eng := engine.New(context.Background(), d, &n, nil)

	return &Warden{
		db:  d,
		l:   log.New("warden-test"),
		n:   &n,
		eng: eng,
	}, d
}

func seedIntegration(t *testing.T, d *db.DB, secret string) models.Integration {
	t.Helper()

	_, err := d.AddIntegration("acme", "api", secret)
	require.NoError(t, err)
	integration, err := d.GetIntegration("acme", "api")
	require.NoError(t, err)
	require.NoError(t, d.AddBranchMapping(integration.ID, "main", "PROD", true))
	return integration
}

func deliver(s *Warden, event, deliveryID, secret string, payload any) *httptest.ResponseRecorder {
	body, _ := json.Marshal(payload)

	r := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	r.Header.Set("X-GitHub-Event", event)
	r.Header.Set("X-GitHub-Delivery", deliveryID)
	if secret != "" {
		r.Header.Set("X-Hub-Signature-256", sign(secret, body))
	}

	w := httptest.NewRecorder()
	s.Webhook(w, r)
	return w
}

func pushPayloadFor(branch string) map[string]any {
	return map[string]any{
		"ref":        "refs/heads/" + branch,
		"after":      "deadbeef",
		"repository": map[string]any{"full_name": "acme/api"},
		"pusher":     map[string]any{"name": "kalle"},
	}
}

func TestWebhookPing(t *testing.T) {
	s, _ := testWarden(t)

	w := deliver(s, "ping", "d-1", "", map[string]any{"zen": "keep it simple"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWebhookUnknownRepository(t *testing.T) {
	s, _ := testWarden(t)

	w := deliver(s, "push", "d-1", "", pushPayloadFor("main"))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWebhookMalformedPayload(t *testing.T) {
	s, _ := testWarden(t)

	r := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader([]byte("{not json")))
	r.Header.Set("X-GitHub-Event", "push")
	w := httptest.NewRecorder()
	s.Webhook(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhookMissingRepositoryIdentity(t *testing.T) {
	s, _ := testWarden(t)

	w := deliver(s, "push", "d-1", "", map[string]any{"ref": "refs/heads/main"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhookInvalidSignature(t *testing.T) {
	s, d := testWarden(t)
	integration := seedIntegration(t, d, "s3cret")

	w := deliver(s, "push", "d-1", "wrong-secret", pushPayloadFor("main"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// the refusal itself leaves a trace
	entries, err := d.ListAuditEntries("integration", fmt.Sprint(integration.ID), 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "webhook_signature_invalid", entries[0].Action)

	executions, err := d.ListExecutions(0)
	require.NoError(t, err)
	assert.Empty(t, executions)
}

func TestWebhookMissingSignature(t *testing.T) {
	s, d := testWarden(t)
	integration := seedIntegration(t, d, "s3cret")

	w := deliver(s, "push", "d-1", "", pushPayloadFor("main"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	entries, err := d.ListAuditEntries("integration", fmt.Sprint(integration.ID), 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "webhook_signature_missing", entries[0].Action)
}

func TestWebhookSignedPushCreatesExecution(t *testing.T) {
	s, d := testWarden(t)
	seedIntegration(t, d, "s3cret")

	w := deliver(s, "push", "d-1", "s3cret", pushPayloadFor("main"))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Success    bool     `json:"success"`
		Executions []string `json:"executions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	require.Len(t, resp.Executions, 1)

	exec, err := d.GetExecution(resp.Executions[0])
	require.NoError(t, err)
	assert.Equal(t, "main", exec.Branch)
	assert.Equal(t, "PROD", exec.Environment)
	assert.Equal(t, models.GovernanceAllowed, exec.GovernanceStatus)
}

func TestWebhookUnsignedIntegrationAllowed(t *testing.T) {
	s, d := testWarden(t)
	seedIntegration(t, d, "")

	w := deliver(s, "push", "d-1", "", pushPayloadFor("main"))
	assert.Equal(t, http.StatusOK, w.Code)

	executions, err := d.ListExecutions(0)
	require.NoError(t, err)
	assert.Len(t, executions, 1)
}

func TestWebhookIgnoresTagPush(t *testing.T) {
	s, d := testWarden(t)
	seedIntegration(t, d, "s3cret")

	payload := pushPayloadFor("main")
	payload["ref"] = "refs/tags/v1.0.0"

	w := deliver(s, "push", "d-1", "s3cret", payload)
	assert.Equal(t, http.StatusOK, w.Code)

	executions, err := d.ListExecutions(0)
	require.NoError(t, err)
	assert.Empty(t, executions)
}

func TestWebhookWorkflowJobFlow(t *testing.T) {
	s, d := testWarden(t)
	seedIntegration(t, d, "s3cret")

	w := deliver(s, "push", "d-1", "s3cret", pushPayloadFor("main"))
	require.Equal(t, http.StatusOK, w.Code)

	w = deliver(s, "workflow_job", "d-2", "s3cret", map[string]any{
		"repository": map[string]any{"full_name": "acme/api"},
		"workflow_job": map[string]any{
			"id":       int64(7),
			"run_id":   int64(42),
			"name":     "build",
			"head_sha": "deadbeef",
			"status":   "in_progress",
		},
	})
	require.Equal(t, http.StatusOK, w.Code)

	executions, err := d.ListExecutions(0)
	require.NoError(t, err)
	require.Len(t, executions, 1)
	assert.Equal(t, models.StatusRunning, executions[0].Status)

	node, err := d.GetNode(executions[0].ID, "build")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, node.Status)
}

func TestWebhookUnknownEventIgnored(t *testing.T) {
	s, d := testWarden(t)
	seedIntegration(t, d, "s3cret")

	w := deliver(s, "issues", "d-1", "s3cret", map[string]any{
		"repository": map[string]any{"full_name": "acme/api"},
	})
	assert.Equal(t, http.StatusOK, w.Code)
}
