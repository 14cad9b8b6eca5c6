package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"reflect"
	"strings"

	"github.com/ollama/ollama/api"

	"github.com/scholargraph/scholargraph/pkg/ai"
)

// Client implements ai.Client against an Ollama server, for fully local
// extraction and embedding.
type Client struct {
	chatModel      string
	embeddingModel string

	api *api.Client
}

// NewClientParams configures an Ollama-backed Client.
type NewClientParams struct {
	ChatModel      string
	EmbeddingModel string

	BaseURL string
	APIKey  string
}

type headerTransport struct {
	headers map[string]string
	rt      http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	for k, v := range t.headers {
		if r.Header.Get(k) == "" {
			r.Header.Set(k, v)
		}
	}
	return t.rt.RoundTrip(r)
}

// NewClient creates an Ollama-backed AI client. BaseURL may be empty to use
// the default local server; APIKey, when set, is sent as a bearer token for
// proxied deployments.
func NewClient(params NewClientParams) (*Client, error) {
	var (
		u   *url.URL
		err error
	)
	if params.BaseURL != "" {
		u, err = url.Parse(params.BaseURL)
		if err != nil {
			return nil, err
		}
	} else {
		u, err = url.Parse("http://127.0.0.1:11434")
		if err != nil {
			return nil, err
		}
	}

	httpClient := http.DefaultClient
	if params.APIKey != "" {
		httpClient = &http.Client{
			Transport: &headerTransport{
				headers: map[string]string{"Authorization": "Bearer " + params.APIKey},
				rt:      http.DefaultTransport,
			},
		}
	}

	return &Client{
		chatModel:      params.ChatModel,
		embeddingModel: params.EmbeddingModel,
		api:            api.NewClient(u, httpClient),
	}, nil
}

func (c *Client) chat(ctx context.Context, req *api.ChatRequest) (string, error) {
	var content strings.Builder
	err := c.api.Chat(ctx, req, func(cr api.ChatResponse) error {
		content.WriteString(cr.Message.Content)
		return nil
	})
	if err != nil {
		return "", err
	}
	return content.String(), nil
}

// Complete sends a single-turn prompt and returns the generated text.
func (c *Client) Complete(ctx context.Context, prompt string, opts ...ai.GenerateOption) (string, error) {
	options := ai.GenerateOptions{
		Model:       c.chatModel,
		Temperature: 0.3,
	}
	for _, o := range opts {
		o(&options)
	}

	stream := false
	req := &api.ChatRequest{
		Model:    options.Model,
		Messages: buildMessages(prompt, options),
		Stream:   &stream,
		Options:  map[string]any{"temperature": options.Temperature},
	}
	return c.chat(ctx, req)
}

// CompleteJSON enforces a JSON schema derived from out's type and unmarshals
// the response into out. The name and description parameters exist for
// interface parity; Ollama takes the schema directly as the format field.
func (c *Client) CompleteJSON(
	ctx context.Context,
	name string,
	description string,
	prompt string,
	out any,
	opts ...ai.GenerateOption,
) error {
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return errors.New("out must be a non-nil pointer")
	}

	formatBytes, err := json.Marshal(ai.GenerateSchema(out))
	if err != nil {
		return err
	}

	options := ai.GenerateOptions{
		Model:       c.chatModel,
		Temperature: 0.1,
	}
	for _, o := range opts {
		o(&options)
	}

	stream := false
	req := &api.ChatRequest{
		Model:    options.Model,
		Messages: buildMessages(prompt, options),
		Stream:   &stream,
		Format:   json.RawMessage(formatBytes),
		Options:  map[string]any{"temperature": options.Temperature},
	}

	content, err := c.chat(ctx, req)
	if err != nil {
		return err
	}
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("empty response from model %s", options.Model)
	}
	return ai.UnmarshalFlexible(content, out)
}

// Embed returns the embedding vector for the input text.
func (c *Client) Embed(ctx context.Context, input string) ([]float32, error) {
	if strings.TrimSpace(input) == "" {
		return nil, fmt.Errorf("embedding input is empty")
	}

	res, err := c.api.Embed(ctx, &api.EmbedRequest{
		Model: c.embeddingModel,
		Input: input,
	})
	if err != nil {
		return nil, err
	}
	if len(res.Embeddings) != 1 {
		return nil, fmt.Errorf("unexpected embedding result size: got %d want 1", len(res.Embeddings))
	}
	return res.Embeddings[0], nil
}

func buildMessages(prompt string, options ai.GenerateOptions) []api.Message {
	msgs := make([]api.Message, 0, len(options.SystemPrompts)+1)
	for _, sp := range options.SystemPrompts {
		msgs = append(msgs, api.Message{Role: "system", Content: sp})
	}
	return append(msgs, api.Message{Role: "user", Content: prompt})
}
