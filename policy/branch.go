package policy

import (
	"regexp"
	"strings"
)

// BranchMapping maps a branch pattern to a target environment. Rows are
// operator-owned; the engine only reads them.
type BranchMapping struct {
	ID            int64
	IntegrationID int64
	Pattern       string
	Environment   string
	Deployable    bool
}

// MatchBranch reports whether a branch name satisfies a mapping pattern.
//
// A pattern is interpreted as, in order:
//  1. an exact branch name
//  2. a "prefix/*" wildcard, matching any branch under prefix/
//  3. a general glob, where '*' matches any run of characters and '?'
//     matches exactly one, anchored at both ends
func MatchBranch(pattern, branch string) bool {
	if pattern == branch {
		return true
	}

	if prefix, ok := strings.CutSuffix(pattern, "/*"); ok {
		return strings.HasPrefix(branch, prefix+"/")
	}

	if strings.ContainsAny(pattern, "*?") {
		return globToRegexp(pattern).MatchString(branch)
	}

	return false
}

func globToRegexp(pattern string) *regexp.Regexp {
	var sb strings.Builder
	sb.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '*':
			sb.WriteString(".*")
		case '?':
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	sb.WriteString("$")
	return regexp.MustCompile(sb.String())
}

// ResolveBranch returns every mapping the branch satisfies. A branch may
// fan out to several environments (develop deploying to both DEV and UAT
// is the typical case), so all matches are returned, not the first.
func ResolveBranch(branch string, mappings []BranchMapping) []BranchMapping {
	var matched []BranchMapping
	for _, m := range mappings {
		if MatchBranch(m.Pattern, branch) {
			matched = append(matched, m)
		}
	}
	return matched
}
