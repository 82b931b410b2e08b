package llms

import (
	"errors"
	"testing"
)

func TestParseRoleAcceptsAnyCasing(t *testing.T) {
	for input, expected := range map[string]Role{
		"system":      RoleSystem,
		"User":        RoleUser,
		" ASSISTANT ": RoleAssistant,
	} {
		role, err := ParseRole(input)
		if err != nil {
			t.Fatalf("expected %q to parse, got %v", input, err)
		}
		if role != expected {
			t.Fatalf("expected %q to parse as %q, got %q", input, expected, role)
		}
	}

	if _, err := ParseRole("tool"); err == nil {
		t.Fatalf("expected unknown role to be rejected")
	}
}

func TestReplyWithoutChoicesFails(t *testing.T) {
	response := &CompletionResponse{}
	if _, err := response.Reply(); !errors.Is(err, ErrNoChoices) {
		t.Fatalf("expected ErrNoChoices, got %v", err)
	}

	var missing *CompletionResponse
	if _, err := missing.Reply(); !errors.Is(err, ErrNoChoices) {
		t.Fatalf("expected ErrNoChoices for nil response, got %v", err)
	}
}

func TestCompletionOptionsLaterOptionsWin(t *testing.T) {
	options := NewCompletionOptions(WithMaxTokens(10), WithTopP(0.5), WithMaxTokens(20))

	if options.MaxTokens == nil || *options.MaxTokens != 20 {
		t.Fatalf("expected max tokens 20, got %v", options.MaxTokens)
	}
	if options.TopP == nil || *options.TopP != 0.5 {
		t.Fatalf("expected top p 0.5, got %v", options.TopP)
	}
	if options.FrequencyPenalty != nil || options.PresencePenalty != nil {
		t.Fatalf("expected unset penalties to stay nil")
	}
}
