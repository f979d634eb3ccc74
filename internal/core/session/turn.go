package session

import (
	"time"

	"github.com/colonyops/mender/internal/core/action"
	"github.com/colonyops/mender/internal/core/llm"
	"github.com/colonyops/mender/internal/core/patch"
	"github.com/colonyops/mender/internal/core/resolve"
)

// SystemAction is what the controller did with a reply.
type SystemAction string

const (
	SystemResolvedInfo      SystemAction = "resolved_info"
	SystemAppliedPatch      SystemAction = "applied_patch"
	SystemPatchFailed       SystemAction = "patch_failed"
	SystemCompleted         SystemAction = "completed"
	SystemRejected          SystemAction = "rejected"
	SystemRepromptMalformed SystemAction = "reprompt_malformed"
	SystemNoInfoNeeded      SystemAction = "no_info_needed"
	SystemExhausted         SystemAction = "exhausted"
	SystemFatal             SystemAction = "fatal"
)

// Turn is one prompt/response exchange. A recorded turn is never modified.
type Turn struct {
	Index     int       `json:"index"`
	Timestamp time.Time `json:"timestamp"`
	// Answering is the Send state whose prompt this reply answered.
	Answering    State           `json:"answering"`
	Prompt       string          `json:"prompt"`
	Response     string          `json:"response"`
	Action       action.Envelope `json:"action"`
	SystemAction SystemAction    `json:"system_action"`
	// Detail explains a rejection or failure in a line.
	Detail      string               `json:"detail,omitempty"`
	Usage       llm.Usage            `json:"usage"`
	Resolutions []resolve.Resolution `json:"resolutions,omitempty"`
	Apply       *patch.Result        `json:"apply,omitempty"`
	Verify      *patch.Verification  `json:"verify,omitempty"`
	// RetriesLeft is the retry budget after this turn.
	RetriesLeft int `json:"retries_left"`
}
