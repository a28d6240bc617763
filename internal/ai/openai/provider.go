package openai

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
	"github.com/kiranshivaraju/docsift/internal/ai/transport"
	"github.com/kiranshivaraju/docsift/internal/config"
	"github.com/kiranshivaraju/docsift/pkg/models"
)

// Provider implements models.AIProvider against the OpenAI chat completions API.
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

// ChatMessage is one entry of an OpenAI-style messages array.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the OpenAI-compatible /chat/completions request body.
type ChatRequest struct {
	Model     string        `json:"model"`
	Messages  []ChatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

// ChatResponse is the subset of the /chat/completions response docsift reads.
type ChatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      ChatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// BuildChatRequest turns an ExecuteRequest into a two-message chat: the prompt as the system
// message and the subject content as the user message.
func BuildChatRequest(req models.ExecuteRequest, defaultModel string) ChatRequest {
	model := req.Model
	if model == "" {
		model = defaultModel
	}
	return ChatRequest{
		Model: model,
		Messages: []ChatMessage{
			{Role: "system", Content: req.Prompt},
			{Role: "user", Content: req.Content},
		},
		MaxTokens: req.MaxTokens,
	}
}

// ParseChatResponse extracts the first choice from a chat completion.
func ParseChatResponse(provider string, out *ChatResponse) (models.ExecuteResult, error) {
	if len(out.Choices) == 0 || out.Choices[0].Message.Content == "" {
		return models.ExecuteResult{}, fmt.Errorf("%s: %w: no choices", provider, models.ErrInvalidResponse)
	}
	if out.Choices[0].FinishReason == "content_filter" {
		return models.ExecuteResult{}, fmt.Errorf("%s: %w: content filtered", provider, models.ErrProviderRejected)
	}
	return models.ExecuteResult{
		Text:         out.Choices[0].Message.Content,
		Model:        out.Model,
		InputTokens:  out.Usage.PromptTokens,
		OutputTokens: out.Usage.CompletionTokens,
	}, nil
}

func (p *Provider) Execute(ctx context.Context, req models.ExecuteRequest) (models.ExecuteResult, error) {
	var out ChatResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(BuildChatRequest(req, p.model)).
		SetResult(&out).
		Post("/chat/completions")
	if err := transport.Check(p.name, resp, err); err != nil {
		return models.ExecuteResult{}, err
	}
	return ParseChatResponse(p.name, &out)
}

// Ping lists models, which needs a valid key but costs no tokens.
func (p *Provider) Ping(ctx context.Context) error {
	resp, err := p.client.R().SetContext(ctx).Get("/models")
	return transport.Check(p.name, resp, err)
}

var _ models.AIProvider = (*Provider)(nil)
