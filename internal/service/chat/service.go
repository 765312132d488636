package chat

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/zhouzirui/session-chat/backend/internal/service/ai"
	"github.com/zhouzirui/session-chat/backend/internal/service/routing"
	"github.com/zhouzirui/session-chat/backend/internal/service/session"
)

// ValidationError rejects a request before any store or provider call.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s is required", e.Field)
}

// Request is one user prompt.
type Request struct {
	UserID string
	Prompt string
}

// Reply is the outcome of a successful turn.
type Reply struct {
	Response  string
	SessionID string
	Timestamp time.Time
}

// Service runs chat turns: session lookup, history, completion, persistence.
type Service struct {
	sessions   *session.Manager
	provider   ai.Provider
	classifier routing.Classifier
	now        func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now as the turn timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService wires the chat flow. A nil classifier routes everything to the
// general specialist.
func NewService(sessions *session.Manager, provider ai.Provider, classifier routing.Classifier, opts ...Option) *Service {
	if classifier == nil {
		classifier = routing.Fixed{Specialist: routing.General}
	}
	s := &Service{
		sessions:   sessions,
		provider:   provider,
		classifier: classifier,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Chat handles one prompt. Either the reply is produced and the turn stored,
// or an error is returned; a failed store write after a successful completion
// is not compensated.
func (s *Service) Chat(ctx context.Context, req Request) (Reply, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return Reply{}, &ValidationError{Field: "user_id"}
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return Reply{}, &ValidationError{Field: "prompt"}
	}

	now := s.now().UTC()

	sessionID, err := s.sessions.GetOrCreateSession(ctx, req.UserID)
	if err != nil {
		log.Printf("[chat] session error user=%s: %v", req.UserID, err)
		return Reply{}, err
	}

	specialist, err := s.classifier.Classify(ctx, routing.Request{UserID: req.UserID, Prompt: req.Prompt})
	if err != nil {
		log.Printf("[chat] classify error user=%s: %v", req.UserID, err)
		return Reply{}, fmt.Errorf("classify request: %w", err)
	}
	system := specialist.Instructions
	if system == "" {
		system = session.DefaultSystemPrompt
	}

	messages, err := session.BuildContext(system, s.sessions.LoadHistory(ctx, req.UserID, sessionID), req.Prompt)
	if err != nil {
		log.Printf("[chat] history error user=%s session=%s: %v", req.UserID, sessionID, err)
		return Reply{}, err
	}

	response, err := s.provider.Complete(ctx, messages)
	if err != nil {
		log.Printf("[chat] completion error user=%s session=%s: %v", req.UserID, sessionID, err)
		return Reply{}, err
	}

	if err := s.sessions.AppendTurn(ctx, req.UserID, sessionID, req.Prompt, response, now); err != nil {
		log.Printf("[chat] persist error user=%s session=%s: %v", req.UserID, sessionID, err)
		return Reply{}, err
	}

	log.Printf("[chat] turn stored user=%s session=%s specialist=%s history=%d", req.UserID, sessionID, specialist.Name, (len(messages)-2)/2)
	return Reply{Response: response, SessionID: sessionID, Timestamp: now}, nil
}
