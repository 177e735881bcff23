package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/000p1umDiesel/telegram-chatbot-news-analyzer/internal/infra/metrics"
)

const defaultBaseURL = "http://localhost:11434"

// Client выполняет запросы генерации к Ollama.
type Client struct {
	http    *http.Client
	baseURL string
	model   string
}

// NewClient создаёт клиента Ollama.
func NewClient(baseURL, model string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout + 5*time.Second}
	return &Client{http: httpClient, baseURL: baseURL, model: model}
}

// Model возвращает имя используемой модели.
func (c *Client) Model() string {
	return c.model
}

// GenerateRequest описывает тело запроса /api/generate.
type GenerateRequest struct {
	Model   string           `json:"model"`
	Prompt  string           `json:"prompt"`
	Stream  bool             `json:"stream"`
	Format  string           `json:"format,omitempty"`
	Options *GenerateOptions `json:"options,omitempty"`
}

// GenerateOptions задаёт параметры сэмплирования.
type GenerateOptions struct {
	Temperature   float64 `json:"temperature,omitempty"`
	TopP          float64 `json:"top_p,omitempty"`
	RepeatPenalty float64 `json:"repeat_penalty,omitempty"`
}

// GenerateResponse описывает ответ модели.
type GenerateResponse struct {
	Response        string `json:"response"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

// Generate вызывает /api/generate без стриминга.
func (c *Client) Generate(ctx context.Context, prompt string, jsonMode bool) (GenerateResponse, error) {
	req := GenerateRequest{
		Model:  c.model,
		Prompt: prompt,
		Stream: false,
		Options: &GenerateOptions{
			Temperature:   0.3,
			TopP:          0.9,
			RepeatPenalty: 1.1,
		},
	}
	if jsonMode {
		req.Format = "json"
	}
	body, err := json.Marshal(req)
	if err != nil {
		return GenerateResponse{}, fmt.Errorf("ollama: marshal request: %w", err)
	}
	endpoint := c.baseURL + "/api/generate"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return GenerateResponse{}, fmt.Errorf("ollama: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		metrics.ObserveNetworkRequest("ollama", "generate", c.model, start, err)
		return GenerateResponse{}, fmt.Errorf("ollama: do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.ObserveNetworkRequest("ollama", "generate", c.model, start, err)
		return GenerateResponse{}, fmt.Errorf("ollama: read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		var apiErr apiErrorResponse
		if err := json.Unmarshal(respBody, &apiErr); err == nil && apiErr.Error != "" {
			err = fmt.Errorf("ollama: %s", apiErr.Error)
		} else {
			err = fmt.Errorf("ollama: unexpected status %d", resp.StatusCode)
		}
		metrics.ObserveNetworkRequest("ollama", "generate", c.model, start, err)
		return GenerateResponse{}, err
	}
	var generated GenerateResponse
	if err := json.Unmarshal(respBody, &generated); err != nil {
		metrics.ObserveNetworkRequest("ollama", "generate", c.model, start, err)
		return GenerateResponse{}, fmt.Errorf("ollama: decode response: %w", err)
	}
	metrics.ObserveNetworkRequest("ollama", "generate", c.model, start, nil)
	metrics.ObserveLLMGeneration(c.model, time.Since(start), generated.PromptEvalCount, generated.EvalCount)
	return generated, nil
}

type apiErrorResponse struct {
	Error string `json:"error"`
}
