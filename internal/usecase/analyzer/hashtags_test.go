package analyzer

import (
	"reflect"
	"testing"
)

func TestCleanHashtagsNormalizes(t *testing.T) {
	got := CleanHashtags([]string{"#Экономика!", "Наука и технологии", "  спорт  "}, 5)
	want := []string{"экономика", "наука_и_технологии", "спорт"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ожидали %v, получили %v", want, got)
	}
}

func TestCleanHashtagsDeduplicatesPreservingOrder(t *testing.T) {
	got := CleanHashtags([]string{"спорт", "Спорт", "#спорт", "политика"}, 5)
	want := []string{"спорт", "политика"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ожидали %v, получили %v", want, got)
	}
}

func TestCleanHashtagsDropsEmpty(t *testing.T) {
	got := CleanHashtags([]string{"!!!", "   ", "", "ок"}, 5)
	want := []string{"ок"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ожидали %v, получили %v", want, got)
	}
}

func TestCleanHashtagsCapsAtMax(t *testing.T) {
	got := CleanHashtags([]string{"а", "б", "в", "г"}, 2)
	if len(got) != 2 {
		t.Fatalf("ожидали 2 тега, получили %d", len(got))
	}
}

func TestCleanHashtagsIdempotent(t *testing.T) {
	first := CleanHashtags([]string{"Наука и технологии", "#Спорт"}, 5)
	second := CleanHashtags(first, 5)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("повторная очистка изменила результат: %v -> %v", first, second)
	}
}
