package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/repoqa/repoqa/pkg/models"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIClient speaks the openai-compatible wire protocol: POST
// {base_url}/embeddings and {base_url}/chat/completions. It works
// against any host implementing that shape, not just api.openai.com.
type OpenAIClient struct {
	config *ClientConfig
	http   *http.Client
}

func NewOpenAIClient(config *ClientConfig) *OpenAIClient {
	if config.BaseURL == "" {
		config.BaseURL = defaultOpenAIBaseURL
	}
	if config.EmbedModel == "" {
		config.EmbedModel = "text-embedding-3-small"
	}
	if config.ChatModel == "" {
		config.ChatModel = "gpt-4o-mini"
	}
	if config.Dim == 0 {
		switch config.EmbedModel {
		case "text-embedding-3-large":
			config.Dim = 3072
		default:
			config.Dim = 1536
		}
	}

	return &OpenAIClient{
		config: config,
		http:   &http.Client{Timeout: 120 * time.Second},
	}
}

// EmbedTexts embeds the given texts in one request, preserving order.
func (c *OpenAIClient) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if c.config.APIKey == "" {
		return nil, &CredentialError{Setting: c.credentialName()}
	}

	payload := map[string]any{
		"model": c.config.EmbedModel,
		"input": texts,
	}
	body, err := c.post(ctx, "/embeddings", payload)
	if err != nil {
		return nil, err
	}

	var out struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &ShapeError{Snippet: snippet(body), Err: err}
	}
	if len(out.Data) != len(texts) {
		return nil, &ShapeError{
			Snippet: snippet(body),
			Err:     fmt.Errorf("expected %d embeddings, got %d", len(texts), len(out.Data)),
		}
	}

	vecs := make([][]float32, len(out.Data))
	for i, d := range out.Data {
		vecs[i] = d.Embedding
	}
	return vecs, nil
}

// Generate calls the chat completions endpoint with the full message
// sequence and returns the first choice's content.
func (c *OpenAIClient) Generate(ctx context.Context, messages []models.Message) (string, error) {
	if c.config.APIKey == "" {
		return "", &CredentialError{Setting: c.credentialName()}
	}

	wire := make([]map[string]string, 0, len(messages))
	for _, m := range messages {
		wire = append(wire, map[string]string{
			"role":    string(m.Role),
			"content": m.Content,
		})
	}
	payload := map[string]any{
		"model":       c.config.ChatModel,
		"messages":    wire,
		"temperature": 0.2,
	}

	body, err := c.post(ctx, "/chat/completions", payload)
	if err != nil {
		return "", err
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", &ShapeError{Snippet: snippet(body), Err: err}
	}
	if len(out.Choices) == 0 {
		return "", &ShapeError{Snippet: snippet(body), Err: fmt.Errorf("no choices in response")}
	}
	return out.Choices[0].Message.Content, nil
}

func (c *OpenAIClient) Dim() int {
	return c.config.Dim
}

func (c *OpenAIClient) credentialName() string {
	if c.config.APIKeyName != "" {
		return c.config.APIKeyName
	}
	return "REPOQA_PROVIDER_API_KEY"
}

func (c *OpenAIClient) post(ctx context.Context, path string, payload any) ([]byte, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	url := strings.TrimRight(c.config.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &TransportError{Status: resp.StatusCode, Body: snippet(body)}
	}
	return body, nil
}
