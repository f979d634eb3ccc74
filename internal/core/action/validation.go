package action

import (
	"fmt"
	"strings"
)

// ErrorKind classifies a ValidationError.
type ErrorKind string

const (
	// InvalidActionForPath means the request kind does not fit the path:
	// FILE_CONTENT on a directory or DIRECTORY_LISTING on a file.
	InvalidActionForPath ErrorKind = "INVALID_ACTION_FOR_PATH"
	// ActionNotAllowedInState means the kind is not permitted in the
	// current session state.
	ActionNotAllowedInState ErrorKind = "ACTION_NOT_ALLOWED_IN_STATE"
	// PathOutsideRoot means the path escapes the project root.
	PathOutsideRoot ErrorKind = "PATH_OUTSIDE_ROOT"
)

// ValidationError is a well-formed action used in the wrong context. It is
// returned to the model as corrective feedback, never raised as a failure
// of the controller.
type ValidationError struct {
	Kind   ErrorKind `json:"kind"`
	Action Kind      `json:"action"`
	Path   string    `json:"path,omitempty"`
	// Hint is the kind that would have been valid, if there is one.
	Hint Kind `json:"hint,omitempty"`
	// Allowed lists the kinds permitted in the current state.
	Allowed KindSet `json:"allowed,omitempty"`
	// IsDir records what Path turned out to be for InvalidActionForPath.
	IsDir bool `json:"is_dir,omitempty"`
}

// NewInvalidForPath builds an InvalidActionForPath error for a request
// whose kind does not match the path type.
func NewInvalidForPath(req FileRequest, isDir bool) *ValidationError {
	hint := KindFileContent
	if isDir {
		hint = KindDirectoryListing
	}
	return &ValidationError{
		Kind:   InvalidActionForPath,
		Action: req.Kind,
		Path:   req.Path,
		Hint:   hint,
		IsDir:  isDir,
	}
}

// NewNotAllowed builds an ActionNotAllowedInState error.
func NewNotAllowed(kind Kind, path string, allowed KindSet) *ValidationError {
	return &ValidationError{
		Kind:    ActionNotAllowedInState,
		Action:  kind,
		Path:    path,
		Allowed: allowed,
	}
}

// NewOutsideRoot builds a PathOutsideRoot error.
func NewOutsideRoot(req FileRequest) *ValidationError {
	return &ValidationError{
		Kind:   PathOutsideRoot,
		Action: req.Kind,
		Path:   req.Path,
	}
}

func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s for %q", e.Kind, e.Action, e.Path)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Action)
}

// FeedbackMessage renders the error as text addressed to the model.
func (e *ValidationError) FeedbackMessage() string {
	var b strings.Builder
	b.WriteString("Note:\n")

	switch e.Kind {
	case InvalidActionForPath:
		what, inspect := "file", "a file's content"
		if e.IsDir {
			what, inspect = "directory", "a directory"
		}
		fmt.Fprintf(&b, "You requested %s for %q, which is a %s.\n", e.Action, e.Path, what)
		fmt.Fprintf(&b, "To inspect %s, use %s instead.\n", inspect, e.Hint)
		b.WriteString("Please try again using the correct action type.")
	case ActionNotAllowedInState:
		fmt.Fprintf(&b, "Action type %s is not available in your current state.\n", e.Action)
		fmt.Fprintf(&b, "Available action types: %s\n", e.Allowed)
		b.WriteString("Please use one of the allowed action types.")
	case PathOutsideRoot:
		fmt.Fprintf(&b, "The path %q is outside the project root.\n", e.Path)
		b.WriteString("Request paths relative to the project root, without \"..\" segments.")
	default:
		b.WriteString(e.Error())
	}

	return b.String()
}
