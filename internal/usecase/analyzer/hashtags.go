package analyzer

import (
	"strings"
	"unicode"
)

// CleanHashtags нормализует хештеги из ответа модели: выбрасывает всё, кроме
// букв, цифр, подчёркиваний и пробелов, заменяет пробелы подчёркиваниями,
// приводит к нижнему регистру и убирает дубликаты, сохраняя порядок.
// Операция идемпотентна. max > 0 ограничивает число тегов.
func CleanHashtags(raw []string, max int) []string {
	seen := make(map[string]struct{}, len(raw))
	cleaned := make([]string, 0, len(raw))
	for _, tag := range raw {
		filtered := strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || unicode.IsSpace(r) {
				return r
			}
			return -1
		}, tag)
		normalized := strings.ToLower(strings.Join(strings.Fields(filtered), "_"))
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		cleaned = append(cleaned, normalized)
		if max > 0 && len(cleaned) >= max {
			break
		}
	}
	return cleaned
}
