package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/amishk599/careerscan/internal/model"
)

// jobPostingSchema is the JSON Schema enforced server-side via OpenAI structured outputs.
// It matches rawJob field for field so the response can be validated directly.
var jobPostingSchema = map[string]any{
	"type":                 "object",
	"additionalProperties": false,
	"properties": map[string]any{
		"jobs": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"properties": map[string]any{
					"title":          map[string]any{"type": "string"},
					"url":            map[string]any{"type": "string"},
					"location":       map[string]any{"type": "string"},
					"description":    map[string]any{"type": "string"},
					"recommendation": map[string]any{"type": "string"},
					"recommended":    map[string]any{"type": "boolean"},
					"posted_date":    map[string]any{"type": []string{"string", "null"}},
				},
				"required": []string{
					"title", "url", "location", "description",
					"recommendation", "recommended", "posted_date",
				},
			},
		},
	},
	"required": []string{"jobs"},
}

// OpenAIProvider calls the OpenAI /v1/chat/completions endpoint with structured outputs.
type OpenAIProvider struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

var _ LLMProvider = (*OpenAIProvider)(nil)

// NewOpenAIProvider creates a provider targeting an OpenAI-compatible API.
func NewOpenAIProvider(baseURL, apiKey, model string, httpClient *http.Client) *OpenAIProvider {
	return &OpenAIProvider{
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		httpClient: httpClient,
	}
}

// Model returns the configured model identifier.
func (p *OpenAIProvider) Model() string { return p.model }

// chatRequest mirrors the OpenAI /v1/chat/completions request body.
type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    int            `json:"temperature"`
	ResponseFormat responseFormat `json:"response_format"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type       string         `json:"type"`
	JSONSchema jsonSchemaSpec `json:"json_schema"`
}

type jsonSchemaSpec struct {
	Name   string         `json:"name"`
	Strict bool           `json:"strict"`
	Schema map[string]any `json:"schema"`
}

type chatChoice struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// chatResponse mirrors the relevant fields of the OpenAI response.
type chatResponse struct {
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
	Error   *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Complete sends prompt to OpenAI and returns JSON conforming to jobPostingSchema.
func (p *OpenAIProvider) Complete(ctx context.Context, prompt string) (Completion, error) {
	reqBody := chatRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "system", Content: "You extract job postings from career page content into structured data."},
			{Role: "user", Content: prompt},
		},
		Temperature: 0,
		ResponseFormat: responseFormat{
			Type: "json_schema",
			JSONSchema: jsonSchemaSpec{
				Name:   "job_postings",
				Strict: true,
				Schema: jobPostingSchema,
			},
		},
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return Completion{}, providerError(model.ProviderBadRequest, fmt.Errorf("marshal llm request: %w", err))
	}

	url := p.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Completion{}, providerError(model.ProviderBadRequest, fmt.Errorf("create llm request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Completion{}, providerError(model.ProviderNetwork, fmt.Errorf("llm request: %w", err))
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return Completion{}, providerError(model.ProviderNetwork, fmt.Errorf("read llm response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		httpErr := &model.HTTPError{
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Err:        errors.New(string(respBytes)),
		}
		return Completion{}, providerError(codeForStatus(resp.StatusCode), httpErr)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBytes, &chatResp); err != nil {
		return Completion{}, providerError(model.ProviderServer, fmt.Errorf("parse llm response: %w", err))
	}

	if chatResp.Error != nil {
		return Completion{}, providerError(model.ProviderServer, fmt.Errorf("llm error (%s): %s", chatResp.Error.Type, chatResp.Error.Message))
	}

	if len(chatResp.Choices) == 0 {
		return Completion{}, providerError(model.ProviderEmpty, errors.New("llm returned no choices"))
	}

	modelName := chatResp.Model
	if modelName == "" {
		modelName = p.model
	}
	return Completion{
		Content:          chatResp.Choices[0].Message.Content,
		Model:            modelName,
		PromptTokens:     chatResp.Usage.PromptTokens,
		CompletionTokens: chatResp.Usage.CompletionTokens,
		TotalTokens:      chatResp.Usage.TotalTokens,
	}, nil
}

func providerError(code string, err error) *model.ExtractionProviderError {
	return &model.ExtractionProviderError{Code: code, Err: err}
}

func codeForStatus(status int) string {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return model.ProviderAuth
	case status == http.StatusTooManyRequests:
		return model.ProviderRateLimit
	case status >= 500:
		return model.ProviderServer
	default:
		return model.ProviderBadRequest
	}
}

// parseRetryAfter parses a Retry-After header given in seconds.
// Returns zero if absent or unparseable.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	seconds, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
