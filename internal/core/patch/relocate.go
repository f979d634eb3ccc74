package patch

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/bluekeyes/go-gitdiff/gitdiff"
)

type applyState int

const (
	stateApplied applyState = iota
	stateRelocated
	stateAlreadyApplied
)

// patchContent applies the text fragments of f to content. Fragments whose
// post-image is already present are skipped, so re-applying a diff is a
// no-op. When every fragment applies, the strict applier is tried first
// and a fragment is only moved away from its header position when that
// fails.
func patchContent(content []byte, f *gitdiff.File) ([]byte, applyState, error) {
	if len(f.TextFragments) == 0 {
		return content, stateAlreadyApplied, nil
	}

	lines := splitLines(string(content))
	out, applied, skipped, err := relocate(lines, f.TextFragments)
	if err != nil {
		return nil, 0, err
	}
	if applied == 0 {
		return content, stateAlreadyApplied, nil
	}

	if skipped == 0 && !hasBareInsertion(f.TextFragments) {
		var buf bytes.Buffer
		if err := gitdiff.Apply(&buf, bytes.NewReader(content), f); err == nil {
			return buf.Bytes(), stateApplied, nil
		}
	}
	return []byte(strings.Join(out, "")), stateRelocated, nil
}

// hasBareInsertion reports whether a fragment inserts lines without any
// old-side anchor. Those positions are read as "after line N" here, which
// the strict applier does not share.
func hasBareInsertion(frags []*gitdiff.TextFragment) bool {
	for _, frag := range frags {
		if frag.OldLines == 0 {
			return true
		}
	}
	return false
}

// alreadyAppliedWindow is how far from its header position a fragment's
// new-side block may sit and still count as already applied.
const alreadyAppliedWindow = 30

// relocate applies frags to lines in order of their old position. Each
// fragment is placed by searching for its old-side block and its new-side
// block nearest to the position its header names:
//
//   - old block missing: already applied when the fragment has context
//     and its new block lies within alreadyAppliedWindow of the hint,
//     otherwise a conflict
//   - only the old block: apply
//   - both: a longer new block means already applied, a shorter one means
//     apply, equal lengths go to whichever block is nearer the hint
//
// Context lines keep the file's own text. Matching ignores trailing
// whitespace.
func relocate(lines []string, frags []*gitdiff.TextFragment) (out []string, applied, skipped int, err error) {
	sorted := make([]*gitdiff.TextFragment, len(frags))
	copy(sorted, frags)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].OldPosition < sorted[j].OldPosition
	})

	out = append([]string(nil), lines...)
	delta := 0
	for i, frag := range sorted {
		oldBlock, newBlock := sides(frag)

		anchor := int(frag.OldPosition) - 1
		if frag.OldLines == 0 {
			anchor = int(frag.OldPosition)
		}
		anchor = max(anchor, 0)
		hint := anchor + delta

		var oldAt int
		if len(oldBlock) == 0 {
			oldAt = min(max(hint, 0), len(out))
		} else {
			oldAt = find(out, oldBlock, hint)
		}
		newAt := find(out, newBlock, hint)

		skip := false
		switch {
		case oldAt < 0:
			if newAt < 0 || !hasContext(frag) || !near(newAt, hint, len(out)) {
				return nil, 0, 0, fmt.Errorf("hunk %d (%s) does not match the file: context not found", i+1, strings.TrimSpace(frag.Header()))
			}
			skip = true
		case newAt >= 0:
			switch {
			case len(newBlock) > len(oldBlock):
				skip = true
			case len(newBlock) == len(oldBlock) && distance(newAt, hint) < distance(oldAt, hint):
				skip = true
			}
		}

		if skip {
			skipped++
			if newAt >= 0 {
				delta = newAt + len(newBlock) - (anchor + int(frag.OldLines))
			}
			continue
		}

		var repl []string
		pos := oldAt
		for _, l := range frag.Lines {
			switch l.Op {
			case gitdiff.OpContext:
				repl = append(repl, out[pos])
				pos++
			case gitdiff.OpDelete:
				pos++
			case gitdiff.OpAdd:
				repl = append(repl, l.Line)
			}
		}

		tail := append([]string(nil), out[pos:]...)
		out = append(append(out[:oldAt], repl...), tail...)
		delta = oldAt + len(repl) - (anchor + int(frag.OldLines))
		applied++
	}

	for i := 0; i < len(out)-1; i++ {
		if !strings.HasSuffix(out[i], "\n") {
			out[i] += "\n"
		}
	}
	return out, applied, skipped, nil
}

// hasContext reports whether frag carries at least one context line.
func hasContext(frag *gitdiff.TextFragment) bool {
	for _, l := range frag.Lines {
		if l.Op == gitdiff.OpContext {
			return true
		}
	}
	return false
}

// near reports whether at lies within alreadyAppliedWindow lines of hint.
// A hint past the end of the file is measured from the end.
func near(at, hint, n int) bool {
	return distance(at, min(hint, n)) <= alreadyAppliedWindow
}

// sides returns the comparison keys of the old and new sides of frag.
func sides(frag *gitdiff.TextFragment) (oldBlock, newBlock []string) {
	for _, l := range frag.Lines {
		if l.Old() {
			oldBlock = append(oldBlock, key(l.Line))
		}
		if l.New() {
			newBlock = append(newBlock, key(l.Line))
		}
	}
	return oldBlock, newBlock
}

// find returns the start of the occurrence of block in lines nearest to
// hint, or -1. An empty block is never found.
func find(lines, block []string, hint int) int {
	if len(block) == 0 || len(block) > len(lines) {
		return -1
	}

	best := -1
	for i := 0; i+len(block) <= len(lines); i++ {
		if !matchAt(lines, block, i) {
			continue
		}
		if best < 0 || distance(i, hint) < distance(best, hint) {
			best = i
		}
	}
	return best
}

func matchAt(lines, block []string, at int) bool {
	for j, want := range block {
		if key(lines[at+j]) != want {
			return false
		}
	}
	return true
}

func key(line string) string {
	return strings.TrimRight(line, " \t\r\n")
}

// splitLines splits s into lines that keep their "\n".
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// postImagePresent reports whether the new side of every fragment appears
// in content.
func postImagePresent(content []byte, frags []*gitdiff.TextFragment) error {
	lines := splitLines(string(content))
	for i, frag := range frags {
		_, newBlock := sides(frag)
		if len(newBlock) == 0 {
			continue
		}
		if find(lines, newBlock, 0) < 0 {
			return fmt.Errorf("verification failed: hunk %d is not present in the patched file", i+1)
		}
	}
	return nil
}

func distance(a, b int) int {
	if a < b {
		return b - a
	}
	return a - b
}
