package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// CompatAdapter is a raw HTTP SSE client for any OpenAI-compatible chat
// completions endpoint (OpenRouter, DeepSeek, local inference servers),
// grounded on mestarz-agentic's OpenAIProvider/OpenAIAdapter for the
// manual SSE line-reader idiom, parameterised by base URL and name so one
// adapter covers the whole family.
type CompatAdapter struct {
	name    string
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

// NewCompatAdapter constructs a CompatAdapter against baseURL (expected
// to accept POST {baseURL}/chat/completions).
func NewCompatAdapter(name, apiKey, baseURL, defaultModel string) *CompatAdapter {
	return &CompatAdapter{
		name:    name,
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   defaultModel,
		client:  &http.Client{Timeout: 90 * time.Second},
	}
}

func (a *CompatAdapter) Name() string { return a.name }

type compatChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (a *CompatAdapter) buildMessages(messages []Message, systemPrompt string) []compatChatMessage {
	out := make([]compatChatMessage, 0, len(messages)+1)
	if systemPrompt != "" {
		out = append(out, compatChatMessage{Role: "system", Content: systemPrompt})
	}
	for _, m := range messages {
		out = append(out, compatChatMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

func (a *CompatAdapter) resolveModel(opts Options) string {
	if opts.Model != "" {
		return opts.Model
	}
	return a.model
}

func (a *CompatAdapter) doRequest(ctx context.Context, body map[string]any) (*http.Response, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, fmt.Errorf("%s returned status %d", a.name, resp.StatusCode)
	}
	return resp, nil
}

func (a *CompatAdapter) StreamChat(ctx context.Context, messages []Message, systemPrompt string, opts Options) (<-chan StreamEvent, error) {
	body := map[string]any{
		"model":       a.resolveModel(opts),
		"messages":    a.buildMessages(messages, systemPrompt),
		"stream":      true,
		"temperature": opts.Temperature,
	}
	if opts.MaxTokens > 0 {
		body["max_tokens"] = opts.MaxTokens
	}

	resp, err := a.doRequest(ctx, body)
	if err != nil {
		return nil, err
	}

	out := make(chan StreamEvent)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		var text strings.Builder
		var id, model string
		var usage Usage

		reader := bufio.NewReader(resp.Body)
		for {
			line, err := reader.ReadString('\n')
			line = strings.TrimSpace(line)
			if line != "" && strings.HasPrefix(line, "data: ") {
				data := strings.TrimPrefix(line, "data: ")
				if data == "[DONE]" {
					out <- StreamEvent{Done: &Result{Text: text.String(), Usage: usage, ID: id, Model: model}}
					return
				}
				var chunk struct {
					ID      string `json:"id"`
					Model   string `json:"model"`
					Choices []struct {
						Delta struct {
							Content string `json:"content"`
						} `json:"delta"`
					} `json:"choices"`
					Usage *struct {
						PromptTokens     int `json:"prompt_tokens"`
						CompletionTokens int `json:"completion_tokens"`
						TotalTokens      int `json:"total_tokens"`
					} `json:"usage"`
				}
				if jsonErr := json.Unmarshal([]byte(data), &chunk); jsonErr == nil {
					if chunk.ID != "" {
						id = chunk.ID
					}
					if chunk.Model != "" {
						model = chunk.Model
					}
					if chunk.Usage != nil {
						usage = Usage{PromptTokens: chunk.Usage.PromptTokens, CompletionTokens: chunk.Usage.CompletionTokens, TotalTokens: chunk.Usage.TotalTokens}
					}
					if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
						delta := chunk.Choices[0].Delta.Content
						text.WriteString(delta)
						select {
						case <-ctx.Done():
							out <- StreamEvent{Err: ctx.Err()}
							return
						case out <- StreamEvent{Token: delta}:
						}
					}
				}
			}
			if err != nil {
				out <- StreamEvent{Done: &Result{Text: text.String(), Usage: usage, ID: id, Model: model}}
				return
			}
		}
	}()

	return out, nil
}

func (a *CompatAdapter) Complete(ctx context.Context, messages []Message, systemPrompt string, opts Options) (Result, error) {
	body := map[string]any{
		"model":       a.resolveModel(opts),
		"messages":    a.buildMessages(messages, systemPrompt),
		"temperature": opts.Temperature,
	}
	if opts.MaxTokens > 0 {
		body["max_tokens"] = opts.MaxTokens
	}

	resp, err := a.doRequest(ctx, body)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	var parsed struct {
		ID      string `json:"id"`
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Result{}, fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return Result{}, fmt.Errorf("%s returned no choices", a.name)
	}

	return Result{
		Text:  parsed.Choices[0].Message.Content,
		Usage: Usage{PromptTokens: parsed.Usage.PromptTokens, CompletionTokens: parsed.Usage.CompletionTokens, TotalTokens: parsed.Usage.TotalTokens},
		ID:    parsed.ID,
		Model: parsed.Model,
	}, nil
}

func (a *CompatAdapter) TestConnection(ctx context.Context) ConnectionStatus {
	ctx, cancel := context.WithTimeout(ctx, testConnectionBudget)
	defer cancel()

	_, err := a.Complete(ctx, []Message{{Role: "user", Content: "ping"}}, "", Options{MaxTokens: 1})
	if err != nil {
		return ConnectionStatus{Success: false, Name: a.name, Error: err.Error()}
	}
	return ConnectionStatus{Success: true, Name: a.name}
}
