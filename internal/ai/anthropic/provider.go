package anthropic

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/kiranshivaraju/docsift/internal/ai/transport"
	"github.com/kiranshivaraju/docsift/internal/config"
	"github.com/kiranshivaraju/docsift/pkg/models"
)

const (
	apiVersion       = "2023-06-01"
	defaultMaxTokens = 4096
)

// Provider implements models.AIProvider using the Anthropic Messages API.
type Provider struct {
	name   string
	model  string
	client *resty.Client
}

func NewProvider(cfg config.ProviderConfig) *Provider {
	client := transport.NewClient(cfg.BaseURL).
		SetHeader("x-api-key", cfg.APIKey).
		SetHeader("anthropic-version", apiVersion)
	return &Provider{name: cfg.Name, model: cfg.Model, client: client}
}

func (p *Provider) Name() string { return p.name }

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
}

type messagesResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (p *Provider) Execute(ctx context.Context, req models.ExecuteRequest) (models.ExecuteResult, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	var out messagesResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(messagesRequest{
			Model:     model,
			MaxTokens: maxTokens,
			System:    req.Prompt,
			Messages:  []message{{Role: "user", Content: req.Content}},
		}).
		SetResult(&out).
		Post("/v1/messages")
	if err := transport.Check(p.name, resp, err); err != nil {
		return models.ExecuteResult{}, err
	}

	if out.StopReason == "refusal" {
		return models.ExecuteResult{}, fmt.Errorf("%s: %w: refused", p.name, models.ErrProviderRejected)
	}

	var text strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return models.ExecuteResult{}, fmt.Errorf("%s: %w: empty content", p.name, models.ErrInvalidResponse)
	}

	return models.ExecuteResult{
		Text:         text.String(),
		Model:        out.Model,
		InputTokens:  out.Usage.InputTokens,
		OutputTokens: out.Usage.OutputTokens,
	}, nil
}

func (p *Provider) Ping(ctx context.Context) error {
	resp, err := p.client.R().SetContext(ctx).Get("/v1/models")
	return transport.Check(p.name, resp, err)
}

var _ models.AIProvider = (*Provider)(nil)
