package ai

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/session-chat/backend/internal/model/chat"
)

// ArkProvider completes conversations through an eino chain wrapping an
// Ark (or any eino) chat model.
type ArkProvider struct {
	chain compose.Runnable[[]*schema.Message, *schema.Message]
}

// NewArkProvider compiles the completion chain around chatModel.
func NewArkProvider(ctx context.Context, chatModel model.ChatModel) (*ArkProvider, error) {
	if chatModel == nil {
		return nil, errors.New("chat model is required")
	}

	chain := compose.NewChain[[]*schema.Message, *schema.Message]()
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &ArkProvider{chain: runnable}, nil
}

// Complete implements Provider.
func (p *ArkProvider) Complete(ctx context.Context, messages []chat.Message) (string, error) {
	response, err := p.chain.Invoke(ctx, toSchemaMessages(messages))
	if err != nil {
		return "", &ProviderError{Provider: "ark", Err: err}
	}
	if response == nil || strings.TrimSpace(response.Content) == "" {
		return "", &ProviderError{Provider: "ark", Err: errors.New("empty completion")}
	}

	log.Printf("[ai] ark completion messages=%d length=%d", len(messages), len(response.Content))
	return response.Content, nil
}

func toSchemaMessages(messages []chat.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case chat.RoleSystem:
			out = append(out, schema.SystemMessage(msg.Content))
		case chat.RoleAssistant:
			out = append(out, schema.AssistantMessage(msg.Content, nil))
		default:
			out = append(out, schema.UserMessage(msg.Content))
		}
	}
	return out
}
