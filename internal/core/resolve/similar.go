package resolve

import (
	"io/fs"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/sahilm/fuzzy"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/colonyops/mender/internal/core/action"
)

const (
	maxCandidates = 10
	// maxTypoDistance is the largest whole-path edit distance at which the
	// best candidate is served in place of a missing path.
	maxTypoDistance = 2
	fuzzyBonus      = 5
)

// Candidate is a path considered by the similarity search.
type Candidate struct {
	Path  string `json:"path"`
	Score int    `json:"score"`
}

// similar walks root for entries of the kind req asks for and ranks them
// by closeness to req.Path. At most maxCandidates are returned, best
// first.
func (r *Resolver) similar(root string, req action.FileRequest) []Candidate {
	wantDir := req.Kind == action.KindDirectoryListing
	target := strings.Trim(path.Clean(filepath.ToSlash(req.Path)), "/")

	var paths []string
	_ = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() && p != root {
				return fs.SkipDir
			}
			return nil
		}
		if p == root {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if r.ignored(rel, d.Name()) {
				return fs.SkipDir
			}
			if wantDir {
				paths = append(paths, rel)
			}
			if strings.Count(rel, "/")+1 >= r.opts.SearchDepth {
				return fs.SkipDir
			}
			return nil
		}

		if !wantDir && d.Type().IsRegular() {
			paths = append(paths, rel)
		}
		return nil
	})

	bonus := fuzzyBonuses(path.Base(target), paths)

	cands := make([]Candidate, 0, len(paths))
	for i, p := range paths {
		score := Similarity(target, p) + bonus[i]
		if score > 0 {
			cands = append(cands, Candidate{Path: p, Score: score})
		}
	}

	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Score != cands[j].Score {
			return cands[i].Score > cands[j].Score
		}
		return cands[i].Path < cands[j].Path
	})

	if len(cands) > maxCandidates {
		cands = cands[:maxCandidates]
	}
	return cands
}

func (r *Resolver) ignored(rel, name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	for _, pattern := range r.opts.Ignore {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
		if ok, _ := doublestar.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// fuzzyBonuses gives a small bonus to every path whose base name contains
// the characters of base in order.
func fuzzyBonuses(base string, paths []string) []int {
	bonus := make([]int, len(paths))
	if base == "" || base == "." {
		return bonus
	}

	names := make([]string, len(paths))
	for i, p := range paths {
		names[i] = path.Base(p)
	}
	for _, m := range fuzzy.Find(base, names) {
		bonus[m.Index] = fuzzyBonus
	}
	return bonus
}

// Similarity scores how closely candidate resembles target. Both are
// slash-separated paths relative to the project root.
//
//   - +100 when the base names are identical
//   - +50 when both have the same non-empty extension
//   - +30 when the candidate's stem contains the target's stem
//   - +10 for every directory segment equal at the same position
//   - up to +20 for a small edit distance between the base names
func Similarity(target, candidate string) int {
	tBase, cBase := path.Base(target), path.Base(candidate)
	tExt, cExt := path.Ext(tBase), path.Ext(cBase)
	tStem, cStem := strings.TrimSuffix(tBase, tExt), strings.TrimSuffix(cBase, cExt)

	score := 0
	if tBase == cBase {
		score += 100
	}
	if tExt != "" && tExt == cExt {
		score += 50
	}
	if tStem != "" && strings.Contains(cStem, tStem) {
		score += 30
	}

	tDirs := strings.Split(path.Dir(target), "/")
	cDirs := strings.Split(path.Dir(candidate), "/")
	for i := 0; i < min(len(tDirs), len(cDirs)); i++ {
		if tDirs[i] == cDirs[i] {
			score += 10
		}
	}

	if d := editDistance(strings.ToLower(tBase), strings.ToLower(cBase)); d < len(tBase) {
		score += max(0, 20-2*d)
	}
	return score
}

func editDistance(a, b string) int {
	dmp := diffmatchpatch.New()
	return dmp.DiffLevenshtein(dmp.DiffMain(a, b, false))
}

// accept picks the candidate to serve in place of a missing path: one
// within a small edit distance of the whole requested path whose base name
// is a typo of the requested one, or the single best-scoring entry with
// the same base name.
func accept(requested string, cands []Candidate) (Candidate, bool) {
	if len(cands) == 0 {
		return Candidate{}, false
	}

	target := strings.ToLower(strings.Trim(path.Clean(filepath.ToSlash(requested)), "/"))

	closest, closestDist := -1, maxTypoDistance+1
	for i, c := range cands {
		cand := strings.ToLower(c.Path)
		if !typo(target, cand) {
			continue
		}
		if d := editDistance(target, cand); d < closestDist {
			closest, closestDist = i, d
		}
	}
	if closest >= 0 {
		return cands[closest], true
	}

	best := cands[0]
	unique := len(cands) == 1 || cands[1].Score < best.Score
	if unique && strings.EqualFold(path.Base(best.Path), path.Base(target)) {
		return best, true
	}
	return Candidate{}, false
}

// typo reports whether the base name of candidate could be a mistyping of
// the base name of target: same extension, and a stem edit distance that
// grows with the stem length and never rewrites a whole stem.
func typo(target, candidate string) bool {
	tBase, cBase := path.Base(target), path.Base(candidate)
	tExt, cExt := path.Ext(tBase), path.Ext(cBase)
	if tExt != cExt {
		return false
	}

	tStem, cStem := strings.TrimSuffix(tBase, tExt), strings.TrimSuffix(cBase, cExt)
	d := editDistance(tStem, cStem)
	return d <= max(1, len(tStem)/4) && d < max(len(tStem), len(cStem))
}
