package ollama

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
	"github.com/kiranshivaraju/docsift/internal/ai/transport"
	"github.com/kiranshivaraju/docsift/internal/config"
	"github.com/kiranshivaraju/docsift/pkg/models"
)

// Provider implements models.AIProvider using Ollama.
type Provider struct {
	name   string
	model  string
	client *resty.Client
}

func NewProvider(cfg config.ProviderConfig) *Provider {
	return &Provider{name: cfg.Name, model: cfg.Model, client: transport.NewClient(cfg.BaseURL)}
}

func (p *Provider) Name() string { return p.name }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatResponse struct {
	Model           string      `json:"model"`
	Message         chatMessage `json:"message"`
	Done            bool        `json:"done"`
	PromptEvalCount int         `json:"prompt_eval_count"`
	EvalCount       int         `json:"eval_count"`
}

func (p *Provider) Execute(ctx context.Context, req models.ExecuteRequest) (models.ExecuteResult, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}
	body := chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: req.Prompt},
			{Role: "user", Content: req.Content},
		},
	}
	if req.MaxTokens > 0 {
		body.Options = map[string]any{"num_predict": req.MaxTokens}
	}

	var out chatResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		Post("/api/chat")
	if err := transport.Check(p.name, resp, err); err != nil {
		return models.ExecuteResult{}, err
	}
	if out.Message.Content == "" {
		return models.ExecuteResult{}, fmt.Errorf("%s: %w: empty message", p.name, models.ErrInvalidResponse)
	}

	return models.ExecuteResult{
		Text:         out.Message.Content,
		Model:        out.Model,
		InputTokens:  out.PromptEvalCount,
		OutputTokens: out.EvalCount,
	}, nil
}

// Ping lists local models; an Ollama server answers this without loading any.
func (p *Provider) Ping(ctx context.Context) error {
	resp, err := p.client.R().SetContext(ctx).Get("/api/tags")
	return transport.Check(p.name, resp, err)
}

var _ models.AIProvider = (*Provider)(nil)
