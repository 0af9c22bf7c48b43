package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/caseflowhq/casechat/internal/chatbot"
	"github.com/caseflowhq/casechat/internal/config"
	"github.com/caseflowhq/casechat/internal/telemetry"
)

const openaiAPIURL = "https://api.openai.com/v1/chat/completions"

// OpenAI implements chatbot.CompletionProvider against the chat
// completions API.
type OpenAI struct {
	apiKey     string
	baseURL    string
	model      string
	maxRetries int
	cfg        config.LLMConfig
	httpClient *http.Client
	telemetry  *telemetry.Telemetry
}

func NewOpenAI(cfg config.LLMConfig, tele *telemetry.Telemetry) *OpenAI {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = openaiAPIURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenAI{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		model:      cfg.Model,
		maxRetries: cfg.MaxRetries,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		telemetry:  tele,
	}
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiRequest struct {
	Model     string          `json:"model"`
	Messages  []openaiMessage `json:"messages"`
	MaxTokens int             `json:"max_tokens,omitempty"`
}

type openaiResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends a system prompt plus conversation turns and returns the
// assistant text. Transient failures are retried with a short backoff.
func (c *OpenAI) Complete(ctx context.Context, system string, turns []chatbot.Message, maxTokens int) (string, error) {
	messages := make([]openaiMessage, 0, len(turns)+1)
	if system != "" {
		messages = append(messages, openaiMessage{Role: "system", Content: system})
	}
	for _, t := range turns {
		messages = append(messages, openaiMessage{Role: t.Role, Content: t.Content})
	}

	body, err := json.Marshal(openaiRequest{Model: c.model, Messages: messages, MaxTokens: maxTokens})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
		text, usage, err := c.send(ctx, body)
		if err == nil {
			c.telemetry.RecordCompletion("openai", true)
			c.telemetry.RecordUsage(usage.PromptTokens, usage.CompletionTokens,
				c.cfg.CompletionCost(usage.PromptTokens, usage.CompletionTokens))
			return text, nil
		}
		lastErr = err
	}
	c.telemetry.RecordCompletion("openai", false)
	return "", lastErr
}

type openaiUsage struct {
	PromptTokens     int
	CompletionTokens int
}

func (c *OpenAI) send(ctx context.Context, body []byte) (string, openaiUsage, error) {
	var usage openaiUsage
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return "", usage, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", usage, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", usage, fmt.Errorf("failed to read response: %w", err)
	}
	var parsed openaiResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", usage, fmt.Errorf("failed to parse response: %w", err)
	}
	usage = openaiUsage{
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
	}
	if resp.StatusCode != http.StatusOK {
		if parsed.Error != nil {
			return "", usage, fmt.Errorf("API returned status %d: %s", resp.StatusCode, parsed.Error.Message)
		}
		return "", usage, fmt.Errorf("API returned status %d", resp.StatusCode)
	}
	if len(parsed.Choices) == 0 {
		return "", usage, fmt.Errorf("no choices in response")
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), usage, nil
}
