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

const (
	anthropicAPIURL  = "https://api.anthropic.com/v1/messages"
	anthropicVersion = "2023-06-01"
)

// Anthropic implements chatbot.CompletionProvider against the messages API.
type Anthropic struct {
	apiKey     string
	baseURL    string
	model      string
	maxRetries int
	cfg        config.LLMConfig
	httpClient *http.Client
	telemetry  *telemetry.Telemetry
}

func NewAnthropic(cfg config.LLMConfig, tele *telemetry.Telemetry) *Anthropic {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = anthropicAPIURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	model := cfg.Model
	if model == "" {
		model = "claude-3-5-sonnet-20241022"
	}
	return &Anthropic{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		model:      model,
		maxRetries: cfg.MaxRetries,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		telemetry:  tele,
	}
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	MaxTokens int                `json:"max_tokens"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends a system prompt plus conversation turns and returns the
// assistant text.
func (c *Anthropic) Complete(ctx context.Context, system string, turns []chatbot.Message, maxTokens int) (string, error) {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	messages := make([]anthropicMessage, 0, len(turns))
	for _, t := range turns {
		messages = append(messages, anthropicMessage{Role: t.Role, Content: t.Content})
	}

	body, err := json.Marshal(anthropicRequest{Model: c.model, System: system, Messages: messages, MaxTokens: maxTokens})
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
		text, in, out, err := c.send(ctx, body)
		if err == nil {
			c.telemetry.RecordCompletion("anthropic", true)
			c.telemetry.RecordUsage(in, out, c.cfg.CompletionCost(in, out))
			return text, nil
		}
		lastErr = err
	}
	c.telemetry.RecordCompletion("anthropic", false)
	return "", lastErr
}

func (c *Anthropic) send(ctx context.Context, body []byte) (string, int, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return "", 0, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, 0, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, 0, fmt.Errorf("failed to read response: %w", err)
	}
	var parsed anthropicResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", 0, 0, fmt.Errorf("failed to parse response: %w", err)
	}
	in, out := parsed.Usage.InputTokens, parsed.Usage.OutputTokens
	if resp.StatusCode != http.StatusOK {
		if parsed.Error != nil {
			return "", in, out, fmt.Errorf("API returned status %d: %s", resp.StatusCode, parsed.Error.Message)
		}
		return "", in, out, fmt.Errorf("API returned status %d", resp.StatusCode)
	}

	var b strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return "", in, out, fmt.Errorf("no text content in response")
	}
	return strings.TrimSpace(b.String()), in, out, nil
}
