package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// openAICompatClient is the shared base for all OpenAI-compatible providers.
type openAICompatClient struct {
	cfg        Config
	client     *http.Client
	pathPrefix string // API path prefix, defaults to "/v1"
}

func newOpenAICompatClient(cfg Config) openAICompatClient {
	return newOpenAICompatClientPrefix(cfg, "/v1")
}

func newOpenAICompatClientPrefix(cfg Config, prefix string) openAICompatClient {
	// Timeout for individual HTTP requests. Kept generous for local providers
	// (Ollama, LM Studio) which may load models on first request, but
	// reasonable enough to avoid multi-minute hangs on stalled connections.
	timeout := 120 * time.Second
	return openAICompatClient{
		cfg:        cfg,
		pathPrefix: prefix,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// NewOpenAICompat creates a generic OpenAI-compatible provider.
func NewOpenAICompat(cfg Config) Provider {
	return &openAICompatProvider{base: newOpenAICompatClient(cfg)}
}

type openAICompatProvider struct {
	base openAICompatClient
}

func (p *openAICompatProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return p.base.chat(ctx, req)
}

func (p *openAICompatProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return p.base.embed(ctx, texts)
}

func (p *openAICompatProvider) Complete(ctx context.Context, prompt string, timeoutS float64) (string, error) {
	return p.base.complete(ctx, prompt, timeoutS)
}

// --- shared implementation ---

type chatCompletionRequest struct {
	Model          string          `json:"model"`
	Messages       json.RawMessage `json:"messages"`
	Temperature    float64         `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Model string `json:"model"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
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

func (c *openAICompatClient) chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	msgs, err := json.Marshal(req.Messages)
	if err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = c.cfg.Model
	}

	body := chatCompletionRequest{
		Model:       model,
		Messages:    msgs,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.ResponseFormat == "json_object" {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	respBody, err := c.doPost(ctx, c.pathPrefix+"/chat/completions", body, 0)
	if err != nil {
		return nil, err
	}

	var resp chatCompletionResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, newError(KindPermanent, fmt.Errorf("decoding chat response: %w", err))
	}

	if len(resp.Choices) == 0 {
		return nil, newError(KindPermanent, fmt.Errorf("no choices in response"))
	}

	return &ChatResponse{
		Content:          resp.Choices[0].Message.Content,
		Model:            resp.Model,
		FinishReason:     resp.Choices[0].FinishReason,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}, nil
}

func (c *openAICompatClient) embed(ctx context.Context, texts []string) ([][]float32, error) {
	body := embeddingRequest{
		Model: c.cfg.Model,
		Input: texts,
	}

	respBody, err := c.doPost(ctx, c.pathPrefix+"/embeddings", body, 0)
	if err != nil {
		return nil, err
	}

	var resp embeddingResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, newError(KindPermanent, fmt.Errorf("decoding embedding response: %w", err))
	}

	// Sort by index to ensure correct ordering
	embeddings := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < len(embeddings) {
			embeddings[d.Index] = d.Embedding
		}
	}
	return embeddings, nil
}

// complete issues a single-turn chat completion and returns only the
// message text, matching the LLMClient collaborator contract: the
// coordinator owns retry/backoff decisions based on the returned error's
// Kind, not this method.
func (c *openAICompatClient) complete(ctx context.Context, prompt string, timeoutS float64) (string, error) {
	body := chatCompletionRequest{
		Model: c.cfg.Model,
		Messages: mustMarshalMessages([]Message{
			{Role: "user", Content: prompt},
		}),
	}

	respBody, err := c.doPost(ctx, c.pathPrefix+"/chat/completions", body, timeoutS)
	if err != nil {
		return "", err
	}

	var resp chatCompletionResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", newError(KindPermanent, fmt.Errorf("decoding completion response: %w", err))
	}
	if len(resp.Choices) == 0 {
		return "", newError(KindPermanent, fmt.Errorf("no choices in response"))
	}
	return resp.Choices[0].Message.Content, nil
}

func mustMarshalMessages(msgs []Message) json.RawMessage {
	b, err := json.Marshal(msgs)
	if err != nil {
		return json.RawMessage("[]")
	}
	return b
}

// networkRetries bounds the internal retry loop for genuinely transient
// network/5xx failures. Rate limiting (429) is never retried here: it
// surfaces immediately as a KindRateLimited error so the pipeline
// coordinator can apply the spec's own exponential backoff schedule
// instead of two independent backoff loops fighting each other.
const networkRetries = 2

const networkRetryDelay = 500 * time.Millisecond

func retryableStatusCode(code int) bool {
	return code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable ||
		code == http.StatusGatewayTimeout
}

func (c *openAICompatClient) doPost(ctx context.Context, path string, body interface{}, timeoutS float64) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, newError(KindPermanent, err)
	}

	reqCtx := ctx
	if timeoutS > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, time.Duration(timeoutS*float64(time.Second)))
		defer cancel()
	}

	url := c.cfg.BaseURL + path

	var lastErr error
	for attempt := 0; attempt <= networkRetries; attempt++ {
		if attempt > 0 {
			slog.Warn("llm: retrying transient failure", "url", url, "attempt", attempt, "error", lastErr)
			select {
			case <-time.After(networkRetryDelay * time.Duration(1<<(attempt-1))):
			case <-reqCtx.Done():
				return nil, classifyContextErr(reqCtx)
			}
		}

		req, err := http.NewRequestWithContext(reqCtx, "POST", url, bytes.NewReader(data))
		if err != nil {
			return nil, newError(KindPermanent, err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.cfg.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if reqCtx.Err() != nil {
				return nil, classifyContextErr(reqCtx)
			}
			lastErr = fmt.Errorf("request to %s failed: %w", url, err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("reading response body: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusOK {
			return respBody, nil
		}

		apiErr := fmt.Errorf("LLM API error %d: %s", resp.StatusCode, string(respBody))

		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, newError(KindRateLimited, apiErr)
		}
		if !retryableStatusCode(resp.StatusCode) {
			return nil, newError(KindPermanent, apiErr)
		}

		lastErr = apiErr
	}

	return nil, newError(KindTransient, fmt.Errorf("max retries exceeded: %w", lastErr))
}

func classifyContextErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return newError(KindTimeout, ctx.Err())
	}
	return newError(KindPermanent, ctx.Err())
}
