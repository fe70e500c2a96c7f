package vision

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/sashabaranov/go-openai"

	"insightpdf/core"
)

// Completion is a model answer plus token usage.
type Completion struct {
	Text             string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// Client calls one OpenAI-compatible chat completions endpoint with
// image input. It is safe for concurrent use.
type Client struct {
	name   string
	cfg    core.ProviderConfig
	client *openai.Client
}

// NewClient builds a client for cfg. timeout bounds each HTTP request
// (0 means no limit).
func NewClient(cfg core.ProviderConfig, timeout time.Duration) (*Client, error) {
	if !cfg.Configured() {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotConfigured, cfg.Name)
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = cfg.BaseURL
	clientConfig.HTTPClient = &http.Client{Timeout: timeout}

	return &Client{
		name:   cfg.Name,
		cfg:    cfg,
		client: openai.NewClientWithConfig(clientConfig),
	}, nil
}

// Name returns the provider name.
func (c *Client) Name() string { return c.name }

// Model returns the configured model.
func (c *Client) Model() string { return c.cfg.Model }

// Complete sends prompt and the image data URL in a single user message.
func (c *Client) Complete(ctx context.Context, prompt, imageURL string) (Completion, error) {
	var messages []openai.ChatCompletionMessage
	if c.cfg.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: c.cfg.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser,
		MultiContent: []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: prompt},
			{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
				URL:    imageURL,
				Detail: openai.ImageURLDetailHigh,
			}},
		},
	})

	req := openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
	}
	if c.cfg.JSONMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return Completion{}, fmt.Errorf("%s chat completion: %w", c.name, err)
	}
	if len(resp.Choices) == 0 {
		return Completion{}, fmt.Errorf("%s: %w", c.name, ErrEmptyResponse)
	}

	return Completion{
		Text:             resp.Choices[0].Message.Content,
		Model:            resp.Model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

// Registry holds one client per configured provider.
type Registry struct {
	declared map[string]core.ProviderConfig
	clients  map[string]*Client
	def      string
}

// NewRegistry builds clients for every configured provider in cfg.
// Declared but unconfigured providers are remembered so lookups can tell
// "unknown" from "not configured".
func NewRegistry(cfg *core.Config) *Registry {
	r := &Registry{
		declared: make(map[string]core.ProviderConfig, len(cfg.Providers)),
		clients:  make(map[string]*Client),
		def:      cfg.DefaultProvider,
	}
	for name, pc := range cfg.Providers {
		if pc.Name == "" {
			pc.Name = name
		}
		r.declared[name] = pc
		if client, err := NewClient(pc, cfg.APITimeout); err == nil {
			r.clients[name] = client
		}
	}
	return r
}

// Get returns the client for name; an empty name selects the default.
func (r *Registry) Get(name string) (*Client, error) {
	if name == "" {
		name = r.def
	}
	if c, ok := r.clients[name]; ok {
		return c, nil
	}
	if _, ok := r.declared[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotConfigured, name)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
}

// Check validates a provider name without returning the client.
func (r *Registry) Check(name string) error {
	_, err := r.Get(name)
	return err
}

// Default returns the default provider name.
func (r *Registry) Default() string { return r.def }

// Configured returns the sorted names of callable providers.
func (r *Registry) Configured() []string {
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
