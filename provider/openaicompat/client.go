// Package openaicompat implements the LLM completion and embedding
// capabilities against any OpenAI-compatible API.
//
// Works with OpenAI, OpenRouter, Groq, Together, Fireworks, DeepSeek,
// Mistral, Ollama, vLLM, LM Studio, Azure OpenAI, and any other provider
// that implements the chat completions and embeddings endpoints.
package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/recallio/recall"
	"github.com/recallio/recall/extract"
)

// Client talks to one OpenAI-compatible endpoint. It implements both
// extract.LLM and recall.Embedder; deployments may point the two
// capabilities at different Clients.
type Client struct {
	apiKey         string
	chatModel      string
	embeddingModel string
	dimensions     int
	baseURL        string
	client         *http.Client
	breaker        *recall.Breaker
}

var (
	_ extract.LLM     = (*Client)(nil)
	_ recall.Embedder = (*Client)(nil)
)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.client = c }
}

// WithEmbeddingModel sets the embeddings model and its output dimension.
func WithEmbeddingModel(model string, dimensions int) Option {
	return func(cl *Client) {
		cl.embeddingModel = model
		cl.dimensions = dimensions
	}
}

// WithBreaker guards every request with the given circuit breaker.
func WithBreaker(b *recall.Breaker) Option {
	return func(cl *Client) { cl.breaker = b }
}

// New creates a Client.
//
// baseURL is the API base (e.g. "https://api.openai.com/v1",
// "http://localhost:11434/v1"); endpoint paths are appended
// automatically.
func New(apiKey, chatModel, baseURL string, opts ...Option) *Client {
	c := &Client{
		apiKey:         apiKey,
		chatModel:      chatModel,
		embeddingModel: "text-embedding-3-small",
		dimensions:     1536,
		baseURL:        baseURL,
		client:         &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete sends one system+user exchange and returns the assistant's
// text.
func (c *Client) Complete(ctx context.Context, system, prompt string) (string, error) {
	body := chatRequest{
		Model: c.chatModel,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
	}
	var out chatResponse
	if err := c.post(ctx, "/chat/completions", body, &out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", &recall.PermanentError{Op: "chat completion", Err: fmt.Errorf("no choices in response")}
	}
	return out.Choices[0].Message.Content, nil
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// Embed returns the embedding of one text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch returns one embedding per input text, in input order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	body := embeddingRequest{Model: c.embeddingModel, Input: texts}
	var out embeddingResponse
	if err := c.post(ctx, "/embeddings", body, &out); err != nil {
		return nil, err
	}
	if len(out.Data) != len(texts) {
		return nil, &recall.PermanentError{
			Op:  "embeddings",
			Err: fmt.Errorf("got %d embeddings for %d inputs", len(out.Data), len(texts)),
		}
	}
	vecs := make([][]float32, len(texts))
	for _, d := range out.Data {
		if d.Index < 0 || d.Index >= len(vecs) {
			return nil, &recall.PermanentError{Op: "embeddings", Err: fmt.Errorf("embedding index %d out of range", d.Index)}
		}
		vecs[d.Index] = d.Embedding
	}
	return vecs, nil
}

// Dimensions returns the embedding dimension of the configured model.
func (c *Client) Dimensions() int { return c.dimensions }

// post sends one JSON request and decodes the response, classifying
// failures so retry and acknowledgement policy can act on them.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	call := func() error { return c.doPost(ctx, path, body, out) }
	if c.breaker != nil {
		return c.breaker.Do(call)
	}
	return call()
}

func (c *Client) doPost(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return &recall.PermanentError{Op: "marshal request", Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return &recall.PermanentError{Op: "create request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &recall.TransientError{Op: "llm request", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return classifyStatus(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &recall.PermanentError{Op: "decode response", Err: err}
	}
	return nil
}

// classifyStatus maps an HTTP error status to the transient/permanent
// split: rate limits and server-side failures are worth retrying,
// everything else is not.
func classifyStatus(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	err := fmt.Errorf("status %d: %s", resp.StatusCode, body)
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return &recall.TransientError{Op: "llm request", Err: err}
	}
	return &recall.PermanentError{Op: "llm request", Err: err}
}
