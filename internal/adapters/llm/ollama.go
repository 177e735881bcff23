package llm

import (
	"context"

	"github.com/000p1umDiesel/telegram-chatbot-news-analyzer/internal/infra/ollama"
	"github.com/000p1umDiesel/telegram-chatbot-news-analyzer/internal/usecase/analyzer"
)

// Ollama адаптирует клиента Ollama к порту анализатора.
type Ollama struct {
	client *ollama.Client
}

// NewOllama создаёт адаптер.
func NewOllama(client *ollama.Client) *Ollama {
	return &Ollama{client: client}
}

var _ analyzer.LLM = (*Ollama)(nil)

// Generate выполняет генерацию и отдаёт текст с оценкой токенов.
func (o *Ollama) Generate(ctx context.Context, prompt string, jsonMode bool) (analyzer.Completion, error) {
	resp, err := o.client.Generate(ctx, prompt, jsonMode)
	if err != nil {
		return analyzer.Completion{}, err
	}
	return analyzer.Completion{
		Text:             resp.Response,
		PromptTokens:     resp.PromptEvalCount,
		CompletionTokens: resp.EvalCount,
	}, nil
}
