package db

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shipgate.sh/core/warden/models"
)

func testDB(t *testing.T) *DB {
	t.Helper()

	d, err := Make(filepath.Join(t.TempDir(), "warden.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func seedExecution(t *testing.T, d *DB, id string, status models.ExecutionStatus) {
	t.Helper()

	err := d.CreateExecution(models.Execution{
		ID:               id,
		Name:             "acme/api: deploy main to PROD",
		Branch:           "main",
		CommitHash:       "deadbeef",
		Environment:      "PROD",
		Status:           status,
		GovernanceStatus: models.GovernanceAllowed,
		StartedAt:        time.Now().UTC(),
	})
	require.NoError(t, err)
}

func TestRecordDeliveryDedup(t *testing.T) {
	d := testDB(t)

	require.NoError(t, d.RecordDelivery("d-1", "push"))
	err := d.RecordDelivery("d-1", "push")
	assert.ErrorIs(t, err, ErrDuplicateDelivery)

	// a different delivery id is unrelated
	assert.NoError(t, d.RecordDelivery("d-2", "push"))
}

func TestTransitionExecutionTerminalIsFinal(t *testing.T) {
	d := testDB(t)
	seedExecution(t, d, "e-1", models.StatusRunning)

	applied, err := d.TransitionExecution("e-1", models.StatusFailed)
	require.NoError(t, err)
	assert.True(t, applied)

	exec, err := d.GetExecution("e-1")
	require.NoError(t, err)
	require.NotNil(t, exec.CompletedAt)
	completedAt := *exec.CompletedAt

	applied, err = d.TransitionExecution("e-1", models.StatusRunning)
	require.NoError(t, err)
	assert.False(t, applied)

	exec, err = d.GetExecution("e-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, exec.Status)
	assert.Equal(t, completedAt, *exec.CompletedAt)
}

func TestApplyProviderStatusPrecedence(t *testing.T) {
	d := testDB(t)
	seedExecution(t, d, "e-1", models.StatusRunning)

	// a late queued event must not downgrade running
	applied, err := d.ApplyProviderExecutionStatus("e-1", models.StatusIdle)
	require.NoError(t, err)
	assert.False(t, applied)

	exec, err := d.GetExecution("e-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, exec.Status)
}

func TestApplyProviderStatusSkipsPaused(t *testing.T) {
	d := testDB(t)
	seedExecution(t, d, "e-1", models.StatusPaused)

	applied, err := d.ApplyProviderExecutionStatus("e-1", models.StatusRunning)
	require.NoError(t, err)
	assert.False(t, applied)

	exec, err := d.GetExecution("e-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaused, exec.Status)
}

func TestGovernanceStatusNeverRegresses(t *testing.T) {
	d := testDB(t)
	seedExecution(t, d, "e-1", models.StatusPaused)
	_, err := d.Exec(`update executions set governance_status = 'awaiting_approval' where id = 'e-1'`)
	require.NoError(t, err)

	require.NoError(t, d.SetGovernanceStatus("e-1", models.GovernanceAllowed, ""))

	exec, err := d.GetExecution("e-1")
	require.NoError(t, err)
	assert.Equal(t, models.GovernanceAllowed, exec.GovernanceStatus)

	// once decided, the outcome is settled
	err = d.SetGovernanceStatus("e-1", models.GovernanceAwaitingApproval, "")
	assert.Error(t, err)

	require.NoError(t, d.SetGovernanceStatus("e-1", models.GovernanceBlocked, "nope"))
	exec, err = d.GetExecution("e-1")
	require.NoError(t, err)
	assert.Equal(t, models.GovernanceAllowed, exec.GovernanceStatus)
}

func TestCheckpointIsImmutable(t *testing.T) {
	d := testDB(t)
	seedExecution(t, d, "e-1", models.StatusRunning)

	first := models.Checkpoint{
		ID:          "cp-1",
		ExecutionID: "e-1",
		NodeID:      "build",
		Name:        "after build",
		State:       map[string]string{"commit": "deadbeef"},
	}
	require.NoError(t, d.CreateCheckpoint(first))

	// a second write for the same node is silently dropped
	second := first
	second.ID = "cp-2"
	second.State = map[string]string{"commit": "overwritten"}
	require.NoError(t, d.CreateCheckpoint(second))

	cp, err := d.GetCheckpointForNode("e-1", "build")
	require.NoError(t, err)
	assert.Equal(t, "cp-1", cp.ID)
	assert.Equal(t, "deadbeef", cp.State["commit"])

	_, err = d.GetCheckpoint("cp-2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpsertNodeStatusDropsStaleWrites(t *testing.T) {
	d := testDB(t)
	seedExecution(t, d, "e-1", models.StatusRunning)

	applied, err := d.UpsertNodeStatus(models.ExecutionNode{
		ExecutionID: "e-1", NodeID: "build", Status: models.StatusSuccess,
	})
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = d.UpsertNodeStatus(models.ExecutionNode{
		ExecutionID: "e-1", NodeID: "build", Status: models.StatusRunning,
	})
	require.NoError(t, err)
	assert.False(t, applied)

	node, err := d.GetNode("e-1", "build")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, node.Status)
}

func TestAuditEntriesAfterCursor(t *testing.T) {
	d := testDB(t)

	for _, action := range []string{"a", "b", "c"} {
		require.NoError(t, d.AddAuditEntry(models.AuditLogEntry{
			Action:       action,
			ResourceType: "execution",
			ResourceID:   "e-1",
		}))
	}

	entries, err := d.AuditEntriesAfter(0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "a", entries[0].Action)

	tail, err := d.AuditEntriesAfter(entries[1].ID)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, "c", tail[0].Action)
}

func TestEnvironmentLockRoundtrip(t *testing.T) {
	d := testDB(t)

	lock, err := d.GetEnvironmentLock("PROD")
	require.NoError(t, err)
	assert.False(t, lock.Locked)

	require.NoError(t, d.SetEnvironmentLock(models.EnvironmentLock{
		Environment: "PROD",
		Locked:      true,
		LockReason:  "release freeze",
	}))

	lock, err = d.GetEnvironmentLock("PROD")
	require.NoError(t, err)
	assert.True(t, lock.Locked)
	assert.Equal(t, "release freeze", lock.LockReason)

	require.NoError(t, d.UnlockEnvironment("PROD", "alice"))

	lock, err = d.GetEnvironmentLock("PROD")
	require.NoError(t, err)
	assert.False(t, lock.Locked)
	assert.Equal(t, "alice", lock.UnlockedBy)
	assert.NotNil(t, lock.UnlockedAt)
}
