package repair

import "github.com/colonyops/mender/internal/core/llm"

const (
	elidedPrompt = "[earlier prompt elided to fit the context window; request files again if you still need them]"
	elidedReply  = "[earlier reply elided]"
)

// keepRecent is the number of trailing messages compaction never touches:
// the last reply and the prompt awaiting an answer.
const keepRecent = 2

// compact returns history with its oldest prompts and replies elided until
// the estimated size fits within limit tokens. The system prompt, the
// first user prompt (the project context) and the last keepRecent
// messages are kept verbatim. history itself is not modified. A limit of
// zero or less disables compaction.
func compact(history []llm.Message, limit int) (out []llm.Message, elided int) {
	if limit <= 0 || llm.EstimateTokens(history) <= limit {
		return history, 0
	}

	out = make([]llm.Message, len(history))
	copy(out, history)

	firstUser := -1
	for i, m := range out {
		if m.Role == llm.RoleUser {
			firstUser = i
			break
		}
	}

	for i := 0; i < len(out)-keepRecent; i++ {
		m := out[i]
		if m.Role == llm.RoleSystem || i == firstUser || m.Content == elidedMarker(m) {
			continue
		}
		out[i].Content = elidedMarker(m)
		elided++
		if llm.EstimateTokens(out) <= limit {
			break
		}
	}
	return out, elided
}

func elidedMarker(m llm.Message) string {
	if m.Role == llm.RoleAssistant {
		return elidedReply
	}
	return elidedPrompt
}
