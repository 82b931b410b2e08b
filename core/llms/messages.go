package llms

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoChoices is reported when a completion came back without any choice to
// read the reply from.
var ErrNoChoices = errors.New("completion has no choices")

// Role describes who a message is from
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ParseRole accepts any casing of a known role.
func ParseRole(role string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(role))) {
	case RoleSystem:
		return RoleSystem, nil
	case RoleUser:
		return RoleUser, nil
	case RoleAssistant:
		return RoleAssistant, nil
	}
	return "", fmt.Errorf("unknown message role %q", role)
}

func (r Role) IsValid() bool {
	_, err := ParseRole(string(r))
	return err == nil
}

// Message is a single entry of the conversation history. Messages are never
// edited once they have been appended to a history.
type Message struct {
	Role    Role
	Content string
}

func SystemMessage(content string) Message    { return Message{Role: RoleSystem, Content: content} }
func UserMessage(content string) Message      { return Message{Role: RoleUser, Content: content} }
func AssistantMessage(content string) Message { return Message{Role: RoleAssistant, Content: content} }

// CompletionResponse is the chat backend's answer to a history.
type CompletionResponse struct {
	ID      string
	Object  string
	Created int64
	Model   string
	Choices []Choice
	Usage   Usage
}

type Choice struct {
	Message      Message
	Index        int
	FinishReason string
}

// Usage reports token accounting for a single completion.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Reply returns the message of the first choice.
func (r *CompletionResponse) Reply() (Message, error) {
	if r == nil || len(r.Choices) == 0 {
		return Message{}, ErrNoChoices
	}
	return r.Choices[0].Message, nil
}
