// Package action defines the typed actions a model reply can carry and the
// parser that recognises them in free text.
package action

import (
	"slices"
	"strings"
)

// Kind names an action type in the reply protocol.
type Kind string

const (
	KindFileContent      Kind = "FILE_CONTENT"
	KindDirectoryListing Kind = "DIRECTORY_LISTING"
	KindPatch            Kind = "PATCH"
	KindCompletion       Kind = "COMPLETION"
)

// Kinds lists every action kind in protocol order.
var Kinds = []Kind{KindFileContent, KindDirectoryListing, KindPatch, KindCompletion}

// IsValid reports whether k is a known kind.
func (k Kind) IsValid() bool {
	return slices.Contains(Kinds, k)
}

// IsRequest reports whether k is an information request kind.
func (k Kind) IsRequest() bool {
	return k == KindFileContent || k == KindDirectoryListing
}

// KindSet is an ordered set of kinds.
type KindSet []Kind

// Has reports whether k is in the set.
func (s KindSet) Has(k Kind) bool {
	return slices.Contains(s, k)
}

func (s KindSet) String() string {
	parts := make([]string, len(s))
	for i, k := range s {
		parts[i] = string(k)
	}
	return strings.Join(parts, ", ")
}

// FileRequest is a single entry of an information request.
type FileRequest struct {
	Kind Kind   `json:"type"`
	Path string `json:"path"`
}

// Notes carries the informational sections of a reply. Notes never drive
// control flow.
type Notes struct {
	Thought string `json:"thought,omitempty"`
	Plan    string `json:"plan,omitempty"`
	Comment string `json:"comment,omitempty"`
}

// ParsedAction is the closed set of actions a reply parses to: InfoRequest,
// Patch, Completion or Malformed. Consumers switch on the concrete type.
type ParsedAction interface {
	// Name is the stable identifier used in logs and reports.
	Name() string
	// Annotations returns the reply's informational sections.
	Annotations() Notes

	sealed()
}

// InfoRequest asks for file contents or directory listings. An empty
// Requests slice means the model needs nothing further.
type InfoRequest struct {
	Notes
	Requests []FileRequest
}

// Patch carries a unified diff. CompletionDeferred is set when the reply
// also carried the completion marker: the patch is applied first and the
// model must confirm completion on a later turn.
type Patch struct {
	Notes
	Diff               string
	CompletionDeferred bool
	// Requests holds an information request sent alongside the patch. It
	// is served after the patch is applied.
	Requests []FileRequest
}

// Completion signals that the model considers the task finished.
type Completion struct {
	Notes
}

// Malformed is a reply that could not be classified. Reason describes what
// was wrong in terms the model can act on.
type Malformed struct {
	Notes
	Reason string
}

func (a *InfoRequest) Name() string { return "info_request" }
func (a *Patch) Name() string       { return "patch" }
func (a *Completion) Name() string  { return "completion" }
func (a *Malformed) Name() string   { return "malformed" }

func (a *InfoRequest) Annotations() Notes { return a.Notes }
func (a *Patch) Annotations() Notes       { return a.Notes }
func (a *Completion) Annotations() Notes  { return a.Notes }
func (a *Malformed) Annotations() Notes   { return a.Notes }

func (*InfoRequest) sealed() {}
func (*Patch) sealed()       {}
func (*Completion) sealed()  {}
func (*Malformed) sealed()   {}

// KindOf returns the permission kind governing a parsed action. Malformed
// replies and information requests have no single kind and return "".
func KindOf(a ParsedAction) Kind {
	switch a.(type) {
	case *Patch:
		return KindPatch
	case *Completion:
		return KindCompletion
	default:
		return ""
	}
}

// Envelope is the flat, serialisable form of a ParsedAction used by the
// turn log and reports.
type Envelope struct {
	Type               string        `json:"type"`
	Requests           []FileRequest `json:"requests,omitempty"`
	Diff               string        `json:"diff,omitempty"`
	CompletionDeferred bool          `json:"completion_deferred,omitempty"`
	Reason             string        `json:"reason,omitempty"`
	Notes
}

// Envelop flattens a into an Envelope.
func Envelop(a ParsedAction) Envelope {
	env := Envelope{Type: a.Name(), Notes: a.Annotations()}
	switch v := a.(type) {
	case *InfoRequest:
		env.Requests = v.Requests
	case *Patch:
		env.Diff = v.Diff
		env.CompletionDeferred = v.CompletionDeferred
		env.Requests = v.Requests
	case *Malformed:
		env.Reason = v.Reason
	}
	return env
}
