package llm

import (
	"context"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIAdapter implements Adapter against the OpenAI chat completions
// API, grounded on Ubastic-light-llm-client/llm/openai.go for the
// go-openai client idiom (stream construction, Recv loop, io.EOF
// termination).
type OpenAIAdapter struct {
	client *openai.Client
	model  string
}

// NewOpenAIAdapter constructs an adapter. baseURL, if non-empty, points
// the client at an OpenAI-compatible endpoint other than the public API.
func NewOpenAIAdapter(apiKey, baseURL, defaultModel string) *OpenAIAdapter {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if defaultModel == "" {
		defaultModel = openai.GPT4oMini
	}
	return &OpenAIAdapter{client: openai.NewClientWithConfig(cfg), model: defaultModel}
}

func (a *OpenAIAdapter) Name() string { return "openai" }

func (a *OpenAIAdapter) StreamChat(ctx context.Context, messages []Message, systemPrompt string, opts Options) (<-chan StreamEvent, error) {
	req := a.buildRequest(messages, systemPrompt, opts)
	req.Stream = true

	stream, err := a.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create stream: %w", err)
	}

	out := make(chan StreamEvent)
	go func() {
		defer close(out)
		defer stream.Close()

		var text, id, model string
		var usage Usage
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				out <- StreamEvent{Done: &Result{Text: text, Usage: usage, ID: id, Model: model}}
				return
			}
			if err != nil {
				out <- StreamEvent{Err: fmt.Errorf("stream recv: %w", err)}
				return
			}

			id = resp.ID
			model = resp.Model
			if resp.Usage != nil {
				usage = Usage{
					PromptTokens:     resp.Usage.PromptTokens,
					CompletionTokens: resp.Usage.CompletionTokens,
					TotalTokens:      resp.Usage.TotalTokens,
				}
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			text += delta
			select {
			case <-ctx.Done():
				out <- StreamEvent{Err: ctx.Err()}
				return
			case out <- StreamEvent{Token: delta}:
			}
		}
	}()

	return out, nil
}

func (a *OpenAIAdapter) Complete(ctx context.Context, messages []Message, systemPrompt string, opts Options) (Result, error) {
	req := a.buildRequest(messages, systemPrompt, opts)

	resp, err := a.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("create completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Result{}, errors.New("no response choices from openai")
	}

	return Result{
		Text: resp.Choices[0].Message.Content,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		ID:    resp.ID,
		Model: resp.Model,
	}, nil
}

func (a *OpenAIAdapter) TestConnection(ctx context.Context) ConnectionStatus {
	ctx, cancel := context.WithTimeout(ctx, testConnectionBudget)
	defer cancel()

	_, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     a.model,
		Messages:  []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: "ping"}},
		MaxTokens: 1,
	})
	if err != nil {
		return ConnectionStatus{Success: false, Name: a.Name(), Error: err.Error()}
	}
	return ConnectionStatus{Success: true, Name: a.Name()}
}

func (a *OpenAIAdapter) buildRequest(messages []Message, systemPrompt string, opts Options) openai.ChatCompletionRequest {
	model := opts.Model
	if model == "" {
		model = a.model
	}

	chatMessages := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if systemPrompt != "" {
		chatMessages = append(chatMessages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: systemPrompt})
	}
	for _, m := range messages {
		chatMessages = append(chatMessages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	req := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    chatMessages,
		Temperature: float32(opts.Temperature),
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}
	return req
}
