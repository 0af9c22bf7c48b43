// Package provider implements the LLM completion clients used for query
// planning and response synthesis.
package provider

import (
	"fmt"

	"github.com/caseflowhq/casechat/internal/chatbot"
	"github.com/caseflowhq/casechat/internal/config"
	"github.com/caseflowhq/casechat/internal/telemetry"
)

// New builds the completion provider selected by the configuration. The
// "none" provider returns nil, which the pipeline treats as deterministic
// rule-only operation.
func New(cfg config.LLMConfig, tele *telemetry.Telemetry) (chatbot.CompletionProvider, error) {
	switch cfg.Provider {
	case "openai", "":
		return NewOpenAI(cfg, tele), nil
	case "anthropic":
		return NewAnthropic(cfg, tele), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %q", cfg.Provider)
	}
}
