package ai

import (
	"fmt"

	"github.com/kiranshivaraju/docsift/internal/ai/anthropic"
	"github.com/kiranshivaraju/docsift/internal/ai/mock"
	"github.com/kiranshivaraju/docsift/internal/ai/ollama"
	"github.com/kiranshivaraju/docsift/internal/ai/openai"
	"github.com/kiranshivaraju/docsift/internal/ai/vllm"
	"github.com/kiranshivaraju/docsift/internal/config"
	"github.com/kiranshivaraju/docsift/pkg/models"
)

// NewProvider constructs the AI provider described by cfg.
func NewProvider(cfg config.ProviderConfig) (models.AIProvider, error) {
	switch cfg.Type {
	case "ollama":
		return ollama.NewProvider(cfg), nil
	case "vllm":
		return vllm.NewProvider(cfg), nil
	case "openai":
		return openai.NewProvider(cfg), nil
	case "anthropic":
		return anthropic.NewProvider(cfg), nil
	case "mock":
		p := mock.NewMockProvider()
		p.Name_ = cfg.Name
		return p, nil
	default:
		return nil, fmt.Errorf("unknown AI provider type %q: must be one of ollama, vllm, openai, anthropic, mock", cfg.Type)
	}
}

// RegisterProviders builds and registers every configured provider. All start
// non-functional until the first health refresh.
func RegisterProviders(registry *Registry, cfgs []config.ProviderConfig) error {
	for _, c := range cfgs {
		p, err := NewProvider(c)
		if err != nil {
			return fmt.Errorf("provider %q: %w", c.Name, err)
		}
		desc := models.ProviderDescriptor{
			Name:         c.Name,
			Type:         c.Type,
			DefaultModel: c.Model,
			Priority:     c.Priority,
		}
		if err := registry.Register(desc, p); err != nil {
			return err
		}
	}
	return nil
}
