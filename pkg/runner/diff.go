package runner

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/nstogner/autofix/pkg/snapshot"
)

// unifiedDiff renders the changes to paths between before and after.
func unifiedDiff(before, after snapshot.Files, paths []string) string {
	var b strings.Builder
	for _, p := range paths {
		from := "a/" + p
		if _, ok := before[p]; !ok {
			from = "/dev/null"
		}
		d, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
			A:        difflib.SplitLines(before[p]),
			B:        difflib.SplitLines(after[p]),
			FromFile: from,
			ToFile:   "b/" + p,
			Context:  3,
		})
		if err != nil {
			continue
		}
		b.WriteString(d)
	}
	return b.String()
}
