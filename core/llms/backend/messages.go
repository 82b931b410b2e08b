package backend

import (
	"fmt"
	"strings"

	"github.com/koscakluka/ema-dialog/core/llms"
)

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func toMessages(history []llms.Message) ([]message, error) {
	messages := make([]message, 0, len(history))
	for i, msg := range history {
		if !msg.Role.IsValid() {
			return nil, fmt.Errorf("message %d has unknown role %q", i, msg.Role)
		}
		messages = append(messages, message{
			Role:    strings.ToLower(string(msg.Role)),
			Content: msg.Content,
		})
	}
	return messages, nil
}

func (m message) toLLMMessage() llms.Message {
	role, err := llms.ParseRole(m.Role)
	if err != nil {
		// The backend only ever answers as the assistant.
		role = llms.RoleAssistant
	}
	return llms.Message{Role: role, Content: m.Content}
}
