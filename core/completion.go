package orchestration

import "strings"

// DefaultEndMarker is the token a model appends to a reply when it wants the
// conversation to end.
const DefaultEndMarker = "END_CONVO"

// CompletionResult is a backend reply prepared for publication.
type CompletionResult struct {
	Content                string
	TerminatesConversation bool
}

// InterpretReply trims reply and strips every occurrence of marker from it.
// TerminatesConversation is set iff the marker was present. An empty marker
// never matches.
func InterpretReply(reply string, marker string) CompletionResult {
	content := strings.TrimSpace(reply)
	if marker == "" || !strings.Contains(content, marker) {
		return CompletionResult{Content: content}
	}

	return CompletionResult{
		Content:                strings.TrimSpace(strings.ReplaceAll(content, marker, "")),
		TerminatesConversation: true,
	}
}
