package ai

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/zhouzirui/session-chat/backend/internal/model/chat"
)

// ContentGenerator is the slice of a langchaingo model the provider needs.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

// LangChainProvider completes conversations through a langchaingo model.
type LangChainProvider struct {
	name string
	llm  ContentGenerator
	opts []llms.CallOption
}

// NewOpenAIProvider builds a LangChainProvider backed by the OpenAI chat API.
func NewOpenAIProvider(opts ...openai.Option) (*LangChainProvider, error) {
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create openai client: %w", err)
	}
	return NewLangChainProvider("openai", llm), nil
}

// NewLangChainProvider wraps any langchaingo content generator.
func NewLangChainProvider(name string, llm ContentGenerator, opts ...llms.CallOption) *LangChainProvider {
	return &LangChainProvider{name: name, llm: llm, opts: opts}
}

// Complete implements Provider.
func (p *LangChainProvider) Complete(ctx context.Context, messages []chat.Message) (string, error) {
	output, err := p.llm.GenerateContent(ctx, toLangChainMessages(messages), p.opts...)
	if err != nil {
		return "", &ProviderError{Provider: p.name, Err: err}
	}
	if output == nil || len(output.Choices) == 0 {
		return "", &ProviderError{Provider: p.name, Err: errors.New("no choices in completion")}
	}

	reply := output.Choices[0].Content
	if strings.TrimSpace(reply) == "" {
		return "", &ProviderError{Provider: p.name, Err: errors.New("empty completion")}
	}

	log.Printf("[ai] %s completion messages=%d length=%d", p.name, len(messages), len(reply))
	return reply, nil
}

func toLangChainMessages(messages []chat.Message) []llms.MessageContent {
	content := make([]llms.MessageContent, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case chat.RoleSystem:
			content = append(content, llms.TextParts(llms.ChatMessageTypeSystem, msg.Content))
		case chat.RoleAssistant:
			content = append(content, llms.TextParts(llms.ChatMessageTypeAI, msg.Content))
		default:
			content = append(content, llms.TextParts(llms.ChatMessageTypeHuman, msg.Content))
		}
	}
	return content
}
