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

// GeminiAdapter implements Adapter against the Gemini
// generateContent/streamGenerateContent REST endpoints, grounded on
// mestarz-agentic's GeminiAdapter for the request/SSE shape, translated
// onto this package's StreamEvent/Result contract.
type GeminiAdapter struct {
	apiKey string
	model  string
	client *http.Client
}

// NewGeminiAdapter constructs an adapter against the public Gemini API.
func NewGeminiAdapter(apiKey, defaultModel string) *GeminiAdapter {
	if defaultModel == "" {
		defaultModel = "gemini-1.5-flash"
	}
	return &GeminiAdapter{
		apiKey: apiKey,
		model:  defaultModel,
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

func (a *GeminiAdapter) Name() string { return "gemini" }

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents          []geminiContent `json:"contents"`
	SystemInstruction *geminiContent  `json:"system_instruction,omitempty"`
}

func (a *GeminiAdapter) buildRequest(messages []Message, systemPrompt string) geminiRequest {
	contents := make([]geminiContent, 0, len(messages))
	for _, m := range messages {
		role := "user"
		if m.Role == "assistant" {
			role = "model"
		}
		contents = append(contents, geminiContent{Role: role, Parts: []geminiPart{{Text: m.Content}}})
	}
	req := geminiRequest{Contents: contents}
	if systemPrompt != "" {
		req.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: systemPrompt}}}
	}
	return req
}

func (a *GeminiAdapter) resolveModel(opts Options) string {
	if opts.Model != "" {
		return opts.Model
	}
	return a.model
}

func (a *GeminiAdapter) StreamChat(ctx context.Context, messages []Message, systemPrompt string, opts Options) (<-chan StreamEvent, error) {
	reqBody := a.buildRequest(messages, systemPrompt)
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/models/%s:streamGenerateContent?key=%s&alt=sse", a.resolveModel(opts), a.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("gemini returned status %d", resp.StatusCode)
	}

	out := make(chan StreamEvent)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		var text strings.Builder
		reader := bufio.NewReader(resp.Body)
		for {
			line, err := reader.ReadString('\n')
			line = strings.TrimSpace(line)
			if line != "" && strings.HasPrefix(line, "data: ") {
				data := strings.TrimPrefix(line, "data: ")
				var chunk struct {
					Candidates []struct {
						Content struct {
							Parts []geminiPart `json:"parts"`
						} `json:"content"`
					} `json:"candidates"`
				}
				if jsonErr := json.Unmarshal([]byte(data), &chunk); jsonErr == nil {
					if len(chunk.Candidates) > 0 && len(chunk.Candidates[0].Content.Parts) > 0 {
						delta := chunk.Candidates[0].Content.Parts[0].Text
						if delta != "" {
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
			}
			if err != nil {
				out <- StreamEvent{Done: &Result{Text: text.String(), Model: a.resolveModel(opts)}}
				return
			}
		}
	}()

	return out, nil
}

func (a *GeminiAdapter) Complete(ctx context.Context, messages []Message, systemPrompt string, opts Options) (Result, error) {
	reqBody := a.buildRequest(messages, systemPrompt)
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return Result{}, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent?key=%s", a.resolveModel(opts), a.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return Result{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("gemini returned status %d", resp.StatusCode)
	}

	var parsed struct {
		Candidates []struct {
			Content struct {
				Parts []geminiPart `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
		UsageMetadata struct {
			PromptTokenCount     int `json:"promptTokenCount"`
			CandidatesTokenCount int `json:"candidatesTokenCount"`
			TotalTokenCount      int `json:"totalTokenCount"`
		} `json:"usageMetadata"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Result{}, fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return Result{}, fmt.Errorf("gemini returned no candidates")
	}

	return Result{
		Text: parsed.Candidates[0].Content.Parts[0].Text,
		Usage: Usage{
			PromptTokens:     parsed.UsageMetadata.PromptTokenCount,
			CompletionTokens: parsed.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      parsed.UsageMetadata.TotalTokenCount,
		},
		Model: a.resolveModel(opts),
	}, nil
}

func (a *GeminiAdapter) TestConnection(ctx context.Context) ConnectionStatus {
	ctx, cancel := context.WithTimeout(ctx, testConnectionBudget)
	defer cancel()

	_, err := a.Complete(ctx, []Message{{Role: "user", Content: "ping"}}, "", Options{})
	if err != nil {
		return ConnectionStatus{Success: false, Name: a.Name(), Error: err.Error()}
	}
	return ConnectionStatus{Success: true, Name: a.Name()}
}
