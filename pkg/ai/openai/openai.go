package openai

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/scholargraph/scholargraph/pkg/ai"
)

// Client implements ai.Client against any OpenAI-compatible endpoint. It
// keeps separate underlying clients for chat and embeddings so the two can
// point at different providers.
type Client struct {
	chatModel      string
	embeddingModel string

	chat      *openai.Client
	embedding *openai.Client
}

// NewClientParams configures a Client. URLs may be left empty to use the
// public OpenAI endpoint; keys are per-endpoint.
type NewClientParams struct {
	ChatModel      string
	EmbeddingModel string

	ChatURL      string
	ChatKey      string
	EmbeddingURL string
	EmbeddingKey string
}

// NewClient creates an OpenAI-backed AI client.
func NewClient(params NewClientParams) *Client {
	chatOpts := []option.RequestOption{option.WithAPIKey(params.ChatKey)}
	if params.ChatURL != "" {
		chatOpts = append(chatOpts, option.WithBaseURL(params.ChatURL))
	}
	embedOpts := []option.RequestOption{option.WithAPIKey(params.EmbeddingKey)}
	if params.EmbeddingURL != "" {
		embedOpts = append(embedOpts, option.WithBaseURL(params.EmbeddingURL))
	}

	chat := openai.NewClient(chatOpts...)
	embedding := openai.NewClient(embedOpts...)
	return &Client{
		chatModel:      params.ChatModel,
		embeddingModel: params.EmbeddingModel,
		chat:           &chat,
		embedding:      &embedding,
	}
}

func (c *Client) buildMessages(prompt string, options ai.GenerateOptions) []openai.ChatCompletionMessageParamUnion {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(options.SystemPrompts)+1)
	for _, sp := range options.SystemPrompts {
		msgs = append(msgs, openai.SystemMessage(sp))
	}
	return append(msgs, openai.UserMessage(prompt))
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

	response, err := c.chat.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(options.Model),
		Messages:    c.buildMessages(prompt, options),
		Temperature: openai.Float(options.Temperature),
	})
	if err != nil {
		return "", err
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("no choices in response from model")
	}
	return response.Choices[0].Message.Content, nil
}

// CompleteJSON sends a prompt with a JSON-schema response format derived
// from out's type and unmarshals the response into out.
func (c *Client) CompleteJSON(
	ctx context.Context,
	name string,
	description string,
	prompt string,
	out any,
	opts ...ai.GenerateOption,
) error {
	options := ai.GenerateOptions{
		Model:       c.chatModel,
		Temperature: 0.1,
	}
	for _, o := range opts {
		o(&options)
	}

	schemaParam := openai.ResponseFormatJSONSchemaJSONSchemaParam{
		Name:        name,
		Description: openai.String(description),
		Schema:      ai.GenerateSchema(out),
		Strict:      openai.Bool(true),
	}

	response, err := c.chat.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(options.Model),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: schemaParam,
			},
		},
		Messages:    c.buildMessages(prompt, options),
		Temperature: openai.Float(options.Temperature),
	})
	if err != nil {
		return err
	}
	if len(response.Choices) == 0 {
		return fmt.Errorf("no choices in response from model")
	}
	message := response.Choices[0].Message.Content
	if message == "" {
		return fmt.Errorf("empty response from model (finish_reason: %s)", response.Choices[0].FinishReason)
	}
	return ai.UnmarshalFlexible(message, out)
}

// Embed returns the embedding vector for the input text.
func (c *Client) Embed(ctx context.Context, input string) ([]float32, error) {
	if strings.TrimSpace(input) == "" {
		return nil, fmt.Errorf("embedding input is empty")
	}

	res, err := c.embedding.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(c.embeddingModel),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: []string{input},
		},
	})
	if err != nil {
		return nil, err
	}
	if len(res.Data) != 1 {
		return nil, fmt.Errorf("unexpected embedding result size: got %d want 1", len(res.Data))
	}

	out := make([]float32, len(res.Data[0].Embedding))
	for i, v := range res.Data[0].Embedding {
		out[i] = float32(v)
	}
	return out, nil
}
