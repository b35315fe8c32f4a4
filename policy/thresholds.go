package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Thresholds is the per-environment approval policy. It is deliberately an
// explicit map keyed by environment name; deciding approver counts by
// matching substrings of the environment name couples policy to naming
// conventions and breaks the first time someone calls an environment
// "preprod".
type Thresholds struct {
	// DefaultApprovals applies to any environment not listed below.
	DefaultApprovals int `yaml:"default_approvals"`

	// Environments maps an environment name to its required approver count.
	Environments map[string]int `yaml:"environments"`

	// Approvers lists notification recipients per environment. Optional;
	// only consulted when an email API key is configured.
	Approvers map[string][]string `yaml:"approvers"`
}

func LoadThresholds(path string) (*Thresholds, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}

	var t Thresholds
	if err := yaml.Unmarshal(contents, &t); err != nil {
		return nil, fmt.Errorf("failed to parse policy file: %w", err)
	}

	if t.DefaultApprovals <= 0 {
		t.DefaultApprovals = 1
	}

	return &t, nil
}

// DefaultThresholds is the policy used when no file is configured: one
// approver everywhere.
func DefaultThresholds() *Thresholds {
	return &Thresholds{DefaultApprovals: 1}
}

// RequiredApprovals returns the approver count for an environment.
func (t *Thresholds) RequiredApprovals(environment string) int {
	if n, ok := t.Environments[environment]; ok && n > 0 {
		return n
	}
	return t.DefaultApprovals
}

// ApproverEmails returns the notification recipients for an environment.
func (t *Thresholds) ApproverEmails(environment string) []string {
	return t.Approvers[environment]
}
