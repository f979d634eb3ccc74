package session

import "slices"

// State is a state of the repair state machine. Exactly one is active at
// any time.
type State string

const (
	StateStart               State = "Start"
	StatePrepareContext      State = "PrepareContext"
	StateSendInitial         State = "SendInitial"
	StateAwaitDecision       State = "AwaitDecision"
	StateResolveInfoRequests State = "ResolveInfoRequests"
	StateSendResolvedInfo    State = "SendResolvedInfo"
	StateParseDiff           State = "ParseDiff"
	StateApplyDiff           State = "ApplyDiff"
	StateCheckApplyResult    State = "CheckApplyResult"
	StateSendResult          State = "SendResult"
	StateSendErrorToLLM      State = "SendErrorToLLM"
	StateEnd                 State = "End"
)

// States lists every state in declaration order.
var States = []State{
	StateStart,
	StatePrepareContext,
	StateSendInitial,
	StateAwaitDecision,
	StateResolveInfoRequests,
	StateSendResolvedInfo,
	StateParseDiff,
	StateApplyDiff,
	StateCheckApplyResult,
	StateSendResult,
	StateSendErrorToLLM,
	StateEnd,
}

// IsValid reports whether s is a declared state.
func (s State) IsValid() bool {
	return slices.Contains(States, s)
}

// IsSend reports whether s sends a prompt to the model.
func (s State) IsSend() bool {
	switch s {
	case StateSendInitial, StateSendResolvedInfo, StateSendResult, StateSendErrorToLLM:
		return true
	}
	return false
}

// transitions holds the forward edges. Every state other than End may also
// move to SendErrorToLLM or End.
var transitions = map[State][]State{
	StateStart:               {StatePrepareContext},
	StatePrepareContext:      {StateSendInitial},
	StateSendInitial:         {StateAwaitDecision},
	StateAwaitDecision:       {StateResolveInfoRequests, StateParseDiff},
	StateResolveInfoRequests: {StateSendResolvedInfo},
	StateSendResolvedInfo:    {StateAwaitDecision},
	StateParseDiff:           {StateApplyDiff},
	StateApplyDiff:           {StateCheckApplyResult},
	StateCheckApplyResult:    {StateSendResult},
	StateSendResult:          {StateAwaitDecision},
	StateSendErrorToLLM:      {StateAwaitDecision},
}

// CanTransition reports whether the machine may move from one state to
// another.
func CanTransition(from, to State) bool {
	if from == StateEnd || !to.IsValid() {
		return false
	}
	if to == StateEnd || to == StateSendErrorToLLM {
		return true
	}
	return slices.Contains(transitions[from], to)
}
