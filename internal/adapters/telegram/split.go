package telegram

import "strings"

// MessageLimit — максимальная длина одного сообщения Telegram в рунах.
const MessageLimit = 4096

// SplitMessage разбивает текст на части, укладывающиеся в лимит Telegram.
func SplitMessage(text string) []string {
	return Split(text, MessageLimit)
}

// Split разбивает текст на куски не длиннее limit рун, предпочитая границы
// строк, чтобы не рвать форматированные блоки.
func Split(text string, limit int) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	runes := []rune(trimmed)
	if len(runes) <= limit {
		return []string{trimmed}
	}

	var parts []string
	for start := 0; start < len(runes); {
		end := start + limit
		if end >= len(runes) {
			chunk := strings.Trim(string(runes[start:]), "\n")
			if chunk != "" {
				parts = append(parts, chunk)
			}
			break
		}

		split := -1
		for i := end; i > start; i-- {
			if runes[i-1] == '\n' {
				split = i
				break
			}
		}
		if split == -1 {
			split = end
		}

		chunk := strings.Trim(string(runes[start:split]), "\n")
		if chunk != "" {
			parts = append(parts, chunk)
		}

		start = split
		for start < len(runes) && runes[start] == '\n' {
			start++
		}
	}

	if len(parts) == 0 {
		return []string{trimmed}
	}

	return parts
}
