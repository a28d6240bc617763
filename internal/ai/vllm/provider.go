package vllm

import (
	"context"

	"github.com/go-resty/resty/v2"
	"github.com/kiranshivaraju/docsift/internal/ai/openai"
	"github.com/kiranshivaraju/docsift/internal/ai/transport"
	"github.com/kiranshivaraju/docsift/internal/config"
	"github.com/kiranshivaraju/docsift/pkg/models"
)

// Provider implements models.AIProvider using vLLM's OpenAI-compatible server.
type Provider struct {
	name   string
	model  string
	client *resty.Client
}

func NewProvider(cfg config.ProviderConfig) *Provider {
	client := transport.NewClient(cfg.BaseURL)
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}
	return &Provider{name: cfg.Name, model: cfg.Model, client: client}
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) Execute(ctx context.Context, req models.ExecuteRequest) (models.ExecuteResult, error) {
	var out openai.ChatResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(openai.BuildChatRequest(req, p.model)).
		SetResult(&out).
		Post("/v1/chat/completions")
	if err := transport.Check(p.name, resp, err); err != nil {
		return models.ExecuteResult{}, err
	}
	return openai.ParseChatResponse(p.name, &out)
}

func (p *Provider) Ping(ctx context.Context) error {
	resp, err := p.client.R().SetContext(ctx).Get("/health")
	return transport.Check(p.name, resp, err)
}

var _ models.AIProvider = (*Provider)(nil)
