package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchBranch(t *testing.T) {
	cases := []struct {
		pattern string
		branch  string
		want    bool
	}{
		{"main", "main", true},
		{"main", "maintenance", false},
		{"main", "feature/main", false},

		{"feature/*", "feature/x", true},
		{"feature/*", "feature/deep/nesting", true},
		{"feature/*", "release/x", false},
		{"feature/*", "feature", false},

		{"rel*se", "release", true},
		{"rel*se", "relse", true},
		{"rel*se", "releases", false},
		{"v?", "v1", true},
		{"v?", "v12", false},
		{"release-?.*", "release-2.0", true},
	}

	for _, c := range cases {
		got := MatchBranch(c.pattern, c.branch)
		assert.Equal(t, c.want, got, "pattern %q vs branch %q", c.pattern, c.branch)
	}
}

func TestResolveBranchFanOut(t *testing.T) {
	mappings := []BranchMapping{
		{Pattern: "develop", Environment: "DEV", Deployable: true},
		{Pattern: "develop", Environment: "UAT", Deployable: true},
		{Pattern: "release/*", Environment: "UAT", Deployable: true},
		{Pattern: "main", Environment: "PROD", Deployable: true},
	}

	matched := ResolveBranch("develop", mappings)
	assert.Len(t, matched, 2, "develop should fan out to both DEV and UAT")

	matched = ResolveBranch("release/2.0", mappings)
	assert.Len(t, matched, 1)
	assert.Equal(t, "UAT", matched[0].Environment)

	matched = ResolveBranch("hotfix/oops", mappings)
	assert.Empty(t, matched)
}

func TestResolveBranchKeepsNonDeployable(t *testing.T) {
	mappings := []BranchMapping{
		{Pattern: "sandbox/*", Environment: "DEV", Deployable: false},
	}

	// non-deployable mappings still match; the engine distinguishes
	// "no mapping at all" from "mapped but not deployable"
	matched := ResolveBranch("sandbox/test", mappings)
	assert.Len(t, matched, 1)
	assert.False(t, matched[0].Deployable)
}
