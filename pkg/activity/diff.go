package activity

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// DiffStats is the line-level result of comparing two texts
type DiffStats struct {
	Additions int
	Deletions int
	Patch     string
}

// Merge adds other's counts and keeps the latest non-empty patch
func (d DiffStats) Merge(other DiffStats) DiffStats {
	d.Additions += other.Additions
	d.Deletions += other.Deletions
	if other.Patch != "" {
		d.Patch = other.Patch
	}
	return d
}

// LineDiffer computes line-mode diffs. Additions minus deletions always
// equals the change in line count, and replacing one line counts +1/-1.
type LineDiffer struct {
	dmp *diffmatchpatch.DiffMatchPatch
}

// NewLineDiffer creates a differ with default settings
func NewLineDiffer() *LineDiffer {
	return &LineDiffer{dmp: diffmatchpatch.New()}
}

// Diff compares oldText with newText line by line
func (l *LineDiffer) Diff(oldText, newText string) DiffStats {
	if oldText == newText {
		return DiffStats{}
	}

	a, b, lines := l.dmp.DiffLinesToChars(oldText, newText)
	diffs := l.dmp.DiffMain(a, b, false)
	diffs = l.dmp.DiffCharsToLines(diffs, lines)

	var stats DiffStats
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			stats.Additions += countLines(d.Text)
		case diffmatchpatch.DiffDelete:
			stats.Deletions += countLines(d.Text)
		}
	}

	stats.Patch = l.dmp.PatchToText(l.dmp.PatchMake(oldText, diffs))
	return stats
}

// countLines counts lines, including a final line without a newline
func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}
