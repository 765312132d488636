package session

import (
	"iter"

	"github.com/zhouzirui/session-chat/backend/internal/model/chat"
)

// DefaultSystemPrompt is the instruction prepended to every context.
const DefaultSystemPrompt = "You are a helpful assistant. Remember and use information from previous messages."

// BuildContext assembles the message list sent to the completion provider:
// the system instruction, then each turn as a user message followed by its
// assistant reply, oldest first, then the new prompt.
func BuildContext(system string, history iter.Seq2[chat.Turn, error], prompt string) ([]chat.Message, error) {
	messages := []chat.Message{chat.SystemMessage(system)}

	if history != nil {
		for turn, err := range history {
			if err != nil {
				return nil, err
			}
			messages = append(messages, chat.UserMessage(turn.Prompt), chat.AssistantMessage(turn.Response))
		}
	}

	return append(messages, chat.UserMessage(prompt)), nil
}
