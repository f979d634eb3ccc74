package prompt

import (
	"fmt"
	"strings"

	"github.com/colonyops/mender/internal/core/resolve"
	"github.com/colonyops/mender/pkg/tmpl"
)

// Section is one answered request in an information prompt.
type Section struct {
	Title string
	Note  string
	Lang  string
	Body  string
}

// Sections turns resolutions into prompt sections, one per request, in
// request order.
func Sections(res []resolve.Resolution) []Section {
	out := make([]Section, 0, len(res))
	for _, r := range res {
		out = append(out, section(r))
	}
	return out
}

func section(r resolve.Resolution) Section {
	req := r.Request
	s := Section{Title: fmt.Sprintf("%s %s", req.Kind, req.Path)}

	switch r.Status {
	case resolve.StatusResolved, resolve.StatusSubstituted:
		if r.Status == resolve.StatusSubstituted {
			s.Note = fmt.Sprintf("%q does not exist; showing %q instead.", req.Path, r.Path)
		}
		if r.Listing != nil {
			s.Body = r.Listing.String()
			return s
		}
		s.Lang = tmpl.Lang(r.Path)
		s.Body = r.Content
		if s.Body == "" {
			s.Note = strings.TrimSpace(s.Note + " The file is empty.")
		}
	case resolve.StatusNotFound:
		s.Note = fmt.Sprintf("%q does not exist.", req.Path)
		if len(r.Suggestions) > 0 {
			s.Note += " Similar paths: " + strings.Join(r.Suggestions, ", ")
		}
	case resolve.StatusTooLarge:
		s.Note = fmt.Sprintf("The file is too large to show (%s).", r.Detail)
	case resolve.StatusUnreadable:
		s.Note = fmt.Sprintf("The path could not be read: %s.", r.Detail)
	case resolve.StatusRejected:
		if r.Err != nil {
			s.Note = r.Err.FeedbackMessage()
		}
	}

	if s.Note == "" && s.Body == "" {
		s.Note = string(r.Status)
	}
	return s
}
