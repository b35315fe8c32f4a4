package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadThresholds(t *testing.T) {
	yamlData := `
default_approvals: 1
environments:
  PROD: 3
  UAT: 2
approvers:
  PROD:
    - ops@example.com
`
	path := filepath.Join(t.TempDir(), "policy.yml")
	require.NoError(t, os.WriteFile(path, []byte(yamlData), 0o644))

	th, err := LoadThresholds(path)
	require.NoError(t, err)

	assert.Equal(t, 3, th.RequiredApprovals("PROD"))
	assert.Equal(t, 2, th.RequiredApprovals("UAT"))
	assert.Equal(t, 1, th.RequiredApprovals("DEV"), "unlisted environments fall back to the default")
	assert.Equal(t, []string{"ops@example.com"}, th.ApproverEmails("PROD"))
	assert.Empty(t, th.ApproverEmails("DEV"))
}

func TestDefaultThresholds(t *testing.T) {
	th := DefaultThresholds()
	assert.Equal(t, 1, th.RequiredApprovals("PROD"))
}

func TestLoadThresholdsZeroDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yml")
	require.NoError(t, os.WriteFile(path, []byte(`environments: {DEV: 1}`), 0o644))

	th, err := LoadThresholds(path)
	require.NoError(t, err)
	assert.Equal(t, 1, th.DefaultApprovals, "missing default clamps to one approver")
}
