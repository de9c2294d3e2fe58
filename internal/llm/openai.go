package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mohammad-safakhou/scout/config"
)

// Client talks to an OpenAI-compatible chat/embeddings endpoint.
type Client struct {
	baseURL        string
	apiKey         string
	model          string
	embeddingModel string
	temperature    float64
	maxTokens      int
	maxRetries     int
	httpClient     *http.Client
}

// NewClient builds a provider from configuration.
func NewClient(cfg config.LLMConfig) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm.api_key not configured")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	base := strings.TrimSuffix(cfg.BaseURL, "/")
	if base == "" {
		base = "https://api.openai.com/v1"
	}
	return &Client{
		baseURL:        base,
		apiKey:         cfg.APIKey,
		model:          cfg.Model,
		embeddingModel: cfg.EmbeddingModel,
		temperature:    cfg.Temperature,
		maxTokens:      cfg.MaxTokens,
		maxRetries:     retries,
		httpClient:     &http.Client{Timeout: timeout},
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string                 `json:"model"`
	Messages       []chatMessage          `json:"messages"`
	Temperature    float64                `json:"temperature"`
	MaxTokens      int                    `json:"max_tokens,omitempty"`
	ResponseFormat map[string]interface{} `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Generate implements Provider.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	return c.chat(ctx, prompt, nil)
}

// GenerateObject implements Provider. The model is asked for a JSON object;
// the raw payload is unmarshalled into out.
func (c *Client) GenerateObject(ctx context.Context, prompt string, out interface{}) error {
	raw, err := c.chat(ctx, prompt, map[string]interface{}{"type": "json_object"})
	if err != nil {
		return err
	}
	cleaned := stripFences(raw)
	if err := json.Unmarshal([]byte(cleaned), out); err != nil {
		return SchemaValidationError{Raw: raw, Err: err}
	}
	return nil
}

func (c *Client) chat(ctx context.Context, prompt string, responseFormat map[string]interface{}) (string, error) {
	body := chatRequest{
		Model:          c.model,
		Messages:       []chatMessage{{Role: "user", Content: prompt}},
		Temperature:    c.temperature,
		MaxTokens:      c.maxTokens,
		ResponseFormat: responseFormat,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshalling chat request: %w", err)
	}

	var content string
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			io.Copy(io.Discard, resp.Body)
			return fmt.Errorf("chat completions status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("chat completions status %d", resp.StatusCode))
		}
		var parsed chatResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return fmt.Errorf("decoding chat response: %w", err)
		}
		if len(parsed.Choices) == 0 {
			return fmt.Errorf("chat response has no choices")
		}
		content = parsed.Choices[0].Message.Content
		return nil
	}
	if err := c.retry(ctx, op); err != nil {
		return "", ProviderError{Reason: "generate failed", Err: err}
	}
	return content, nil
}

// Embed implements Provider.
func (c *Client) Embed(ctx context.Context, input []string) ([][]float32, error) {
	if len(input) == 0 {
		return nil, nil
	}
	payload, err := json.Marshal(map[string]interface{}{
		"model": c.embeddingModel,
		"input": input,
	})
	if err != nil {
		return nil, fmt.Errorf("marshalling embeddings request: %w", err)
	}

	var vecs [][]float32
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			io.Copy(io.Discard, resp.Body)
			return fmt.Errorf("embeddings status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("embeddings status %d", resp.StatusCode))
		}
		var parsed struct {
			Data []struct {
				Embedding []float32 `json:"embedding"`
				Index     int       `json:"index"`
			} `json:"data"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return fmt.Errorf("decoding embeddings response: %w", err)
		}
		if len(parsed.Data) != len(input) {
			return fmt.Errorf("expected %d embeddings, got %d", len(input), len(parsed.Data))
		}
		vecs = make([][]float32, len(parsed.Data))
		for _, d := range parsed.Data {
			vecs[d.Index] = d.Embedding
		}
		return nil
	}
	if err := c.retry(ctx, op); err != nil {
		return nil, ProviderError{Reason: "embed failed", Err: err}
	}
	return vecs, nil
}

func (c *Client) retry(ctx context.Context, op backoff.Operation) error {
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.maxRetries))
	return backoff.Retry(op, backoff.WithContext(policy, ctx))
}

// stripFences removes markdown code fences some models wrap JSON payloads in.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
	}
	return strings.TrimSpace(s)
}

var _ Provider = (*Client)(nil)
