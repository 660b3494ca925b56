package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/kramenhq/kramen/config"
)

// OpenAIClient backs the Oracle interface with the OpenAI HTTP API.
type OpenAIClient struct {
	baseURL      string
	keys         map[string]string
	defaultModel string
	embedModel   string
	client       *http.Client
	logger       *log.Logger
}

// NewOpenAIClient builds a client from LLM configuration. Keys map model
// names to credentials; OPENAI_API_KEY is the fallback for unmapped models.
func NewOpenAIClient(cfg config.LLMConfig, embedModel string) *OpenAIClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 90 * time.Second
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	keys := make(map[string]string, len(cfg.APIKeys))
	for model, key := range cfg.APIKeys {
		keys[model] = key
	}
	return &OpenAIClient{
		baseURL:      baseURL,
		keys:         keys,
		defaultModel: cfg.Default,
		embedModel:   embedModel,
		client:       &http.Client{Timeout: timeout},
		logger:       log.New(log.Writer(), "[ORACLE] ", log.LstdFlags),
	}
}

func (c *OpenAIClient) resolveModel(cfg ModelConfig) string {
	if cfg.Model != "" {
		return cfg.Model
	}
	return c.defaultModel
}

func (c *OpenAIClient) resolveKey(model string) string {
	if key, ok := c.keys[model]; ok && key != "" {
		return key
	}
	return os.Getenv("OPENAI_API_KEY")
}

// CheckCredential verifies a usable key exists for the model.
func (c *OpenAIClient) CheckCredential(cfg ModelConfig) error {
	model := c.resolveModel(cfg)
	if c.resolveKey(model) == "" {
		return fmt.Errorf("%w: %s", ErrMissingCredential, model)
	}
	return nil
}

// Complete issues one chat completion for the request's model.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (string, error) {
	model := c.resolveModel(req.Model)
	apiKey := c.resolveKey(model)
	if apiKey == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingCredential, model)
	}

	type chatMsg struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	type chatReq struct {
		Model       string    `json:"model"`
		Messages    []chatMsg `json:"messages"`
		Temperature float64   `json:"temperature,omitempty"`
		MaxTokens   int       `json:"max_tokens,omitempty"`
	}

	body, err := json.Marshal(chatReq{
		Model:       model,
		Messages:    []chatMsg{{Role: "user", Content: req.Prompt}},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewBuffer(body))
	if err != nil {
		return "", fmt.Errorf("request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("do: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("openai status %d", resp.StatusCode)
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("no choices")
	}
	return out.Choices[0].Message.Content, nil
}

// Embed returns one embedding vector per input text, in input order.
func (c *OpenAIClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	apiKey := c.resolveKey(c.embedModel)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingCredential, c.embedModel)
	}

	body, err := json.Marshal(map[string]interface{}{
		"model": c.embedModel,
		"input": texts,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/embeddings", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("do: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("openai status %d", resp.StatusCode)
	}

	var out struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if len(out.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(out.Data))
	}

	vecs := make([][]float32, len(texts))
	for _, d := range out.Data {
		if d.Index < 0 || d.Index >= len(vecs) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		vecs[d.Index] = d.Embedding
	}
	return vecs, nil
}
