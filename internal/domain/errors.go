package domain

import (
	"errors"
	"strings"
)

// ErrNotParsed возвращается, когда ответ модели не удалось разобрать в
// полный анализ. Ошибка считается временной: следующая попытка может
// получить корректный JSON.
var ErrNotParsed = errors.New("ответ модели не разобран")

// ErrRecipientBlocked сигнализирует, что получатель недоступен навсегда
// (заблокировал бота или удалил чат).
var ErrRecipientBlocked = errors.New("получатель заблокировал отправителя")

// ErrChannelNotFound возвращается источником для неизвестного канала.
var ErrChannelNotFound = errors.New("канал не найден")

// ErrorCategory группирует ошибки для метрик и уровня логирования.
type ErrorCategory string

const (
	CategoryNetwork    ErrorCategory = "network"
	CategoryDatabase   ErrorCategory = "database"
	CategoryLLM        ErrorCategory = "llm"
	CategoryTelegram   ErrorCategory = "telegram_api"
	CategoryValidation ErrorCategory = "validation"
	CategoryUnknown    ErrorCategory = "unknown"
)

// Categorize определяет категорию ошибки по известным признакам.
func Categorize(err error) ErrorCategory {
	if err == nil {
		return CategoryUnknown
	}
	switch {
	case errors.Is(err, ErrNotParsed):
		return CategoryLLM
	case errors.Is(err, ErrRecipientBlocked):
		return CategoryTelegram
	case errors.Is(err, ErrChannelNotFound):
		return CategoryValidation
	}
	msg := strings.ToLower(err.Error())
	for category, keywords := range categoryKeywords {
		for _, kw := range keywords {
			if strings.Contains(msg, kw) {
				return category
			}
		}
	}
	return CategoryUnknown
}

var categoryKeywords = map[ErrorCategory][]string{
	CategoryNetwork:  {"connection", "timeout", "network", "unreachable", "dns"},
	CategoryDatabase: {"postgres", "pgx", "sql", "pool"},
	CategoryLLM:      {"ollama", "model", "prompt"},
	CategoryTelegram: {"telegram", "flood", "chat not found"},
}
