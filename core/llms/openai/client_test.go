package openai

import (
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/koscakluka/ada-core/core/llms"
)

func TestToMessagesOrdersInstructionsHistoryGroundingPrompt(t *testing.T) {
	options := llms.GenerateOptions{
		Instructions: "be brief",
		History: []llms.Turn{
			{Role: llms.RoleUser, Content: "hello"},
			{Role: llms.RoleAssistant, Content: "hi"},
		},
		Grounding: []string{"objects in view: cup"},
	}

	messages := toMessages(options, "what do you see")

	expected := []struct {
		role    string
		content string
	}{
		{openai.ChatMessageRoleSystem, "be brief"},
		{openai.ChatMessageRoleUser, "hello"},
		{openai.ChatMessageRoleAssistant, "hi"},
		{openai.ChatMessageRoleSystem, "objects in view: cup"},
		{openai.ChatMessageRoleUser, "what do you see"},
	}

	if len(messages) != len(expected) {
		t.Fatalf("expected %d messages, got %d", len(expected), len(messages))
	}
	for i, want := range expected {
		if messages[i].Role != want.role || messages[i].Content != want.content {
			t.Fatalf("message %d: expected %s %q, got %s %q", i, want.role, want.content, messages[i].Role, messages[i].Content)
		}
	}
}

func TestToMessagesSkipsEmptySections(t *testing.T) {
	messages := toMessages(llms.GenerateOptions{}, "hello")

	if len(messages) != 1 {
		t.Fatalf("expected only the prompt message, got %d messages", len(messages))
	}
	if messages[0].Role != openai.ChatMessageRoleUser || messages[0].Content != "hello" {
		t.Fatalf("unexpected prompt message: %+v", messages[0])
	}
}
