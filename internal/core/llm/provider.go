package llm

import (
	"context"
	"fmt"
	"os"
)

// Role of one transcript turn relative to the merchant's agent.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAgent    Role = "agent"
)

// Turn is one message of the bounded conversation window passed to the model.
type Turn struct {
	Role    Role
	Content string
}

// Provider abstracts the language-model backends.
type Provider interface {
	// GenerateReply produces the agent's next message given the system
	// instruction, the recent transcript window and the current customer
	// message (last element of turns).
	GenerateReply(ctx context.Context, systemPrompt string, turns []Turn) (string, error)
	GetProviderName() string
}

type ProviderType string

const (
	ProviderOpenAI   ProviderType = "openai"
	ProviderGroq     ProviderType = "groq"
	ProviderDeepSeek ProviderType = "deepseek"
)

type ProviderConfig struct {
	Type ProviderType

	OpenAIKey   string
	GroqKey     string
	DeepSeekKey string

	Model       string
	Temperature float32
	MaxTokens   int
}

func NewProvider(cfg *ProviderConfig) (Provider, error) {
	switch cfg.Type {
	case ProviderOpenAI:
		if cfg.OpenAIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required")
		}
		return NewOpenAIProvider(cfg.OpenAIKey, cfg.Model, cfg.Temperature, cfg.MaxTokens), nil

	case ProviderGroq:
		if cfg.GroqKey == "" {
			return nil, fmt.Errorf("GROQ_API_KEY is required")
		}
		return NewGroqProvider(cfg.GroqKey, cfg.Model, cfg.Temperature, cfg.MaxTokens), nil

	case ProviderDeepSeek:
		if cfg.DeepSeekKey == "" {
			return nil, fmt.Errorf("DEEPSEEK_API_KEY is required")
		}
		return NewDeepSeekProvider(cfg.DeepSeekKey, cfg.Model, cfg.Temperature, cfg.MaxTokens), nil

	default:
		return nil, fmt.Errorf("unknown LLM provider type: %s", cfg.Type)
	}
}

func LoadProviderFromEnv() (*ProviderConfig, error) {
	providerType := os.Getenv("LLM_PROVIDER")
	if providerType == "" {
		providerType = "openai" // default
	}

	cfg := &ProviderConfig{
		Type:        ProviderType(providerType),
		OpenAIKey:   os.Getenv("OPENAI_API_KEY"),
		GroqKey:     os.Getenv("GROQ_API_KEY"),
		DeepSeekKey: os.Getenv("DEEPSEEK_API_KEY"),
	}

	if model := os.Getenv("LLM_MODEL"); model != "" {
		cfg.Model = model
	} else {
		switch cfg.Type {
		case ProviderOpenAI:
			cfg.Model = "gpt-4o-mini"
		case ProviderGroq:
			cfg.Model = "llama-3.1-8b-instant"
		case ProviderDeepSeek:
			cfg.Model = "deepseek-chat"
		}
	}

	cfg.Temperature = 0.7
	cfg.MaxTokens = 1024

	return cfg, nil
}

// chatRole maps a transcript role to the OpenAI-compatible wire role shared
// by all three backends.
func chatRole(r Role) string {
	if r == RoleAgent {
		return "assistant"
	}
	return "user"
}
