package action

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Protocol markers. Each must appear alone on its line.
const (
	MarkerThought       = "%_Thought_%"
	MarkerPlan          = "%_Plan_%"
	MarkerReplyRequired = "%_Reply Required_%"
	MarkerModified      = "%_Modified_%"
	MarkerComment       = "%_Comment_%"
	MarkerFin           = "%%_Fin_%%"
)

var tagRe = regexp.MustCompile(`^%_(.+?)_%$`)

type section string

const (
	secPreamble section = "preamble"
	secThought  section = "thought"
	secPlan     section = "plan"
	secRequired section = "reply_required"
	secModified section = "modified"
	secComment  section = "comment"
	secUnknown  section = "unknown"
)

func sectionFor(tag string) section {
	name := strings.ToLower(strings.TrimSpace(tag))
	name = strings.NewReplacer(" ", "_", "-", "_").Replace(name)

	switch name {
	case "thought":
		return secThought
	case "plan":
		return secPlan
	case "reply_required", "required":
		return secRequired
	case "modified", "modified_diff":
		return secModified
	case "comment":
		return secComment
	default:
		return secUnknown
	}
}

// scan is the sectioned form of a reply.
type scan struct {
	sections    map[section][]string
	hasRequired bool
	hasFin      bool
}

func (s scan) text(sec section) string {
	return strings.TrimSpace(strings.Join(s.sections[sec], "\n"))
}

func scanReply(raw string) scan {
	s := scan{sections: make(map[section][]string)}

	current := secPreamble
	for _, line := range strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n") {
		trimmed := strings.TrimSpace(line)

		if trimmed == MarkerFin {
			s.hasFin = true
			break
		}

		if m := tagRe.FindStringSubmatch(trimmed); m != nil {
			current = sectionFor(m[1])
			if current == secRequired {
				s.hasRequired = true
			}
			continue
		}

		s.sections[current] = append(s.sections[current], line)
	}

	return s
}

// Parse classifies a raw model reply. It never fails: anything it cannot
// interpret becomes a Malformed action.
//
// Precedence, highest first:
//  1. a broken %_Reply Required_% section makes the reply Malformed
//  2. a non-empty patch (a %_Modified_% section or untagged text that
//     holds diff headers) makes it a Patch; %%_Fin_%% is deferred. A
//     %_Modified_% section without diff headers is kept as a comment
//  3. %%_Fin_%% makes it a Completion
//  4. a %_Reply Required_% section makes it an InfoRequest, possibly empty
//  5. anything else is Malformed
func Parse(raw string) ParsedAction {
	if strings.TrimSpace(raw) == "" {
		return &Malformed{Reason: "the reply was empty"}
	}

	s := scanReply(raw)
	notes := Notes{
		Thought: s.text(secThought),
		Plan:    s.text(secPlan),
		Comment: s.text(secComment),
	}

	var requests []FileRequest
	if s.hasRequired {
		reqs, err := parseRequests(s.text(secRequired))
		if err != nil {
			return &Malformed{Notes: notes, Reason: err.Error()}
		}
		requests = reqs
	}

	// A %_Modified_% section without diff headers is commentary.
	var diff string
	modified := stripFences(s.text(secModified))
	proseModified := modified != "" && !looksLikeDiff(modified)
	switch {
	case proseModified:
		notes.Comment = joinNonEmpty(notes.Comment, modified)
	case modified != "":
		diff = modified
	default:
		if pre := stripFences(s.text(secPreamble)); looksLikeDiff(pre) {
			diff = pre
		}
	}

	switch {
	case diff != "":
		return &Patch{
			Notes:              notes,
			Diff:               diff,
			CompletionDeferred: s.hasFin,
			Requests:           requests,
		}
	case s.hasFin && len(requests) == 0:
		return &Completion{Notes: notes}
	case s.hasRequired:
		return &InfoRequest{Notes: notes, Requests: requests}
	}

	if proseModified {
		return &Malformed{Notes: notes, Reason: fmt.Sprintf("the %s section does not contain a unified diff", MarkerModified)}
	}
	if s.text(secPreamble) != "" && len(s.sections) == 1 {
		return &Malformed{Notes: notes, Reason: "the reply used no protocol markers and its text is not a unified diff"}
	}
	return &Malformed{
		Notes:  notes,
		Reason: fmt.Sprintf("the reply has no %s section, no %s section and no %s marker", MarkerReplyRequired, MarkerModified, MarkerFin),
	}
}

type rawRequest struct {
	Type *string `json:"type"`
	Path *string `json:"path"`
}

// parseRequests decodes the body of a %_Reply Required_% section. The body
// must be a JSON array whose elements are {"type","path"} objects or bare
// path strings (read as FILE_CONTENT). Order is preserved.
func parseRequests(body string) ([]FileRequest, error) {
	body = stripFences(body)
	if body == "" {
		return []FileRequest{}, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal([]byte(body), &items); err != nil {
		return nil, fmt.Errorf("the %s section is not a valid JSON array: %v", MarkerReplyRequired, err)
	}

	out := make([]FileRequest, 0, len(items))
	for i, item := range items {
		req, err := decodeRequest(item)
		if err != nil {
			return nil, fmt.Errorf("entry %d of the %s section: %v", i+1, MarkerReplyRequired, err)
		}
		out = append(out, req)
	}
	return out, nil
}

func decodeRequest(item json.RawMessage) (FileRequest, error) {
	var path string
	if err := json.Unmarshal(item, &path); err == nil {
		path = cleanRequestPath(path)
		if path == "" {
			return FileRequest{}, fmt.Errorf("path is empty")
		}
		return FileRequest{Kind: KindFileContent, Path: path}, nil
	}

	var obj rawRequest
	if err := json.Unmarshal(item, &obj); err != nil {
		return FileRequest{}, fmt.Errorf("expected an object with \"type\" and \"path\" or a path string, got %s", strings.TrimSpace(string(item)))
	}

	if obj.Path == nil || cleanRequestPath(*obj.Path) == "" {
		return FileRequest{}, fmt.Errorf("\"path\" is missing or empty")
	}

	kind := KindFileContent
	if obj.Type != nil && *obj.Type != "" {
		kind = Kind(strings.ToUpper(strings.TrimSpace(*obj.Type)))
	}
	if !kind.IsRequest() {
		return FileRequest{}, fmt.Errorf("unsupported type %q (use %s or %s)", kind, KindFileContent, KindDirectoryListing)
	}

	return FileRequest{Kind: kind, Path: cleanRequestPath(*obj.Path)}, nil
}

func cleanRequestPath(p string) string {
	p = strings.TrimSpace(p)
	for strings.HasPrefix(p, "./") {
		p = p[2:]
	}
	return p
}

// stripFences removes markdown code fence lines from s.
func stripFences(s string) string {
	if !strings.Contains(s, "```") {
		return s
	}

	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, l := range lines {
		if strings.HasPrefix(strings.TrimSpace(l), "```") {
			continue
		}
		kept = append(kept, l)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// looksLikeDiff reports whether s carries at least one file header of a
// unified or git diff.
func looksLikeDiff(s string) bool {
	sawOld := false
	for _, l := range strings.Split(s, "\n") {
		switch {
		case strings.HasPrefix(l, "diff --git "):
			return true
		case strings.HasPrefix(l, "--- "):
			sawOld = true
		case strings.HasPrefix(l, "+++ ") && sawOld:
			return true
		}
	}
	return false
}

func joinNonEmpty(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + "\n\n" + b
}
