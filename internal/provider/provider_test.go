package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/caseflowhq/casechat/internal/chatbot"
	"github.com/caseflowhq/casechat/internal/config"
	"github.com/caseflowhq/casechat/internal/telemetry"
)

func TestOpenAI_Complete(t *testing.T) {
	var gotReq openaiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer key-1" {
			t.Errorf("unexpected auth header: %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": "  the answer  "}},
			},
		})
	}))
	defer srv.Close()

	c := NewOpenAI(config.LLMConfig{APIKey: "key-1", BaseURL: srv.URL, Model: "gpt-4o-mini"}, nil)
	got, err := c.Complete(context.Background(), "system prompt", []chatbot.Message{{Role: "user", Content: "hi"}}, 100)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "the answer" {
		t.Fatalf("expected trimmed answer, got %q", got)
	}
	if len(gotReq.Messages) != 2 || gotReq.Messages[0].Role != "system" {
		t.Fatalf("system prompt not first: %+v", gotReq.Messages)
	}
	if gotReq.MaxTokens != 100 {
		t.Fatalf("max tokens not forwarded: %d", gotReq.MaxTokens)
	}
}

func TestOpenAI_RetriesThenFails(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error": {"message": "overloaded"}}`))
	}))
	defer srv.Close()

	c := NewOpenAI(config.LLMConfig{APIKey: "k", BaseURL: srv.URL, MaxRetries: 2}, nil)
	if _, err := c.Complete(context.Background(), "", []chatbot.Message{{Role: "user", Content: "hi"}}, 0); err == nil {
		t.Fatalf("expected error")
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestAnthropic_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-api-key"); got != "key-2" {
			t.Errorf("unexpected api key header: %q", got)
		}
		if got := r.Header.Get("anthropic-version"); got == "" {
			t.Errorf("missing anthropic-version header")
		}
		var req anthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.System != "sys" {
			t.Errorf("system prompt not set: %q", req.System)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"content": []map[string]string{
				{"type": "text", "text": "part one "},
				{"type": "text", "text": "part two"},
			},
		})
	}))
	defer srv.Close()

	c := NewAnthropic(config.LLMConfig{APIKey: "key-2", BaseURL: srv.URL}, nil)
	got, err := c.Complete(context.Background(), "sys", []chatbot.Message{{Role: "user", Content: "hi"}}, 50)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "part one part two" {
		t.Fatalf("text blocks not joined: %q", got)
	}
}

func TestNew_ProviderSelection(t *testing.T) {
	p, err := New(config.LLMConfig{Provider: "none"}, nil)
	if err != nil || p != nil {
		t.Fatalf("none should yield a nil provider, got (%v, %v)", p, err)
	}
	p, err = New(config.LLMConfig{Provider: "anthropic", APIKey: "k"}, nil)
	if err != nil {
		t.Fatalf("anthropic: %v", err)
	}
	if _, ok := p.(*Anthropic); !ok {
		t.Fatalf("expected *Anthropic, got %T", p)
	}
}

func TestOpenAI_RecordsUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": "ok"}},
			},
			"usage": map[string]int{"prompt_tokens": 2000, "completion_tokens": 500},
		})
	}))
	defer srv.Close()

	tele := telemetry.New(nil)
	cfg := config.LLMConfig{APIKey: "k", BaseURL: srv.URL, Model: "gpt-4o-mini",
		CostPer1KInput: 0.15, CostPer1KOutput: 0.60}
	c := NewOpenAI(cfg, tele)
	if _, err := c.Complete(context.Background(), "", []chatbot.Message{{Role: "user", Content: "hi"}}, 0); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	stats := tele.Snapshot()
	if stats.TokensIn != 2000 || stats.TokensOut != 500 {
		t.Fatalf("usage not recorded: in=%d out=%d", stats.TokensIn, stats.TokensOut)
	}
	want := 2.0*0.15 + 0.5*0.60
	if stats.LLMCost < want-1e-9 || stats.LLMCost > want+1e-9 {
		t.Fatalf("expected cost %.4f, got %.4f", want, stats.LLMCost)
	}
}
