// Package diff produces the line-level change sequence used by the commit
// graph's blob comparison endpoint (§4.6).
package diff

import "github.com/sergi/go-diff/diffmatchpatch"

type Tag string

const (
	Delete Tag = "delete"
	Insert Tag = "insert"
	Equal  Tag = "equal"
)

// Change is one tuple in the ordered diff sequence; OldIndex/NewIndex are
// -1 when not applicable on that side.
type Change struct {
	Tag      Tag    `json:"tag"`
	Content  string `json:"content"`
	OldIndex int    `json:"old_index"`
	NewIndex int    `json:"new_index"`
}

// TextDiff tokenizes a and b by line and returns the ordered sequence of
// changes reconstructing the common subsequence on Equal segments. Uses the
// line-mode recipe (map lines to runes, diff the rune strings, map back)
// which keeps large files fast without a custom LCS implementation.
func TextDiff(a, b string) []Change {
	dmp := diffmatchpatch.New()

	aRunes, bRunes, lines := dmp.DiffLinesToRunes(a, b)
	diffs := dmp.DiffMainRunes(aRunes, bRunes, false)
	diffs = dmp.DiffCharsToLines(diffs, lines)

	changes := make([]Change, 0, len(diffs))
	oldIdx, newIdx := 0, 0
	for _, d := range diffs {
		lineCount := countLines(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			for i := 0; i < lineCount; i++ {
				changes = append(changes, Change{Tag: Delete, Content: lineAt(d.Text, i), OldIndex: oldIdx, NewIndex: -1})
				oldIdx++
			}
		case diffmatchpatch.DiffInsert:
			for i := 0; i < lineCount; i++ {
				changes = append(changes, Change{Tag: Insert, Content: lineAt(d.Text, i), OldIndex: -1, NewIndex: newIdx})
				newIdx++
			}
		case diffmatchpatch.DiffEqual:
			for i := 0; i < lineCount; i++ {
				changes = append(changes, Change{Tag: Equal, Content: lineAt(d.Text, i), OldIndex: oldIdx, NewIndex: newIdx})
				oldIdx++
				newIdx++
			}
		}
	}
	return changes
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := 1
	for _, r := range s {
		if r == '\n' {
			n++
		}
	}
	if len(s) > 0 && s[len(s)-1] == '\n' {
		n--
	}
	return n
}

func lineAt(s string, i int) string {
	start := 0
	line := 0
	for idx, r := range s {
		if line == i {
			end := idx
			for end < len(s) && s[end] != '\n' {
				end++
			}
			return s[start:end]
		}
		if r == '\n' {
			line++
			start = idx + 1
		}
	}
	if line == i {
		return s[start:]
	}
	return ""
}
