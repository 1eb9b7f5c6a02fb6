package llm

import (
	"context"
	"fmt"
)

// Service wraps an LLM provider for dependency injection.
type Service struct {
	provider Provider
}

// NewService creates the LLM service with the provider from environment.
func NewService() (*Service, error) {
	cfg, err := LoadProviderFromEnv()
	if err != nil {
		return nil, fmt.Errorf("load LLM config: %w", err)
	}

	provider, err := NewProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("create LLM provider: %w", err)
	}

	return &Service{provider: provider}, nil
}

// NewServiceWithProvider creates a service with a custom provider (for testing).
func NewServiceWithProvider(provider Provider) *Service {
	return &Service{provider: provider}
}

func (s *Service) GenerateReply(ctx context.Context, systemPrompt string, turns []Turn) (string, error) {
	return s.provider.GenerateReply(ctx, systemPrompt, turns)
}

func (s *Service) GetProviderName() string {
	return s.provider.GetProviderName()
}
