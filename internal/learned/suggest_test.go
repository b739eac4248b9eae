package learned

import (
	"fmt"
	"testing"

	"github.com/dukerupert/aisle/internal/model"
)

func item(name string, freq int) model.LearnedItem {
	return model.LearnedItem{ID: name, Name: name, Frequency: freq}
}

func names(items []model.LearnedItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Name
	}
	return out
}

func TestSuggestEmptyQueryTopByFrequency(t *testing.T) {
	var items []model.LearnedItem
	for i := 1; i <= 7; i++ {
		items = append(items, item(fmt.Sprintf("item%d", i), i))
	}

	got := Suggest(items, "  ")
	if len(got) != MaxPopular {
		t.Fatalf("len = %d, want %d", len(got), MaxPopular)
	}
	for i, want := range []int{7, 6, 5, 4, 3} {
		if got[i].Frequency != want {
			t.Errorf("got[%d].Frequency = %d, want %d", i, got[i].Frequency, want)
		}
	}

	if got := Suggest(nil, ""); len(got) != 0 {
		t.Errorf("Suggest(nil) = %v, want empty", got)
	}
}

func TestSuggestExactMatchAlwaysIncluded(t *testing.T) {
	items := []model.LearnedItem{
		item("milk chocolate", 50),
		item("almond milk", 30),
		item("oat milk", 20),
		item("milkshake", 12),
		item("buttermilk", 11),
		item("milk bones", 10),
		item("soy milk", 9),
		item("coconut milk", 8),
		item("milk powder", 7),
		item("milk", 1),
	}

	got := Suggest(items, "Milk")
	if len(got) != MaxSuggestions {
		t.Fatalf("len = %d, want %d", len(got), MaxSuggestions)
	}
	if got[0].Name != "milk" {
		t.Errorf("first = %q, want exact match %q (got %v)", got[0].Name, "milk", names(got))
	}

	exact, ok := ExactMatch(got, " MILK ")
	if !ok || exact.Name != "milk" {
		t.Errorf("ExactMatch = %v, %v, want milk", exact.Name, ok)
	}
}

func TestSuggestOrdersByFrequencyWithinBand(t *testing.T) {
	items := []model.LearnedItem{
		item("pineapple", 100),
		item("apple pie", 1),
		item("apples", 10),
		item("bread", 500),
	}

	got := names(Suggest(items, "apple"))
	want := []string{"apples", "apple pie", "pineapple"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSuggestToleratesTypos(t *testing.T) {
	items := []model.LearnedItem{
		item("cheese", 3),
		item("banana", 2),
		item("milk", 9),
	}

	tests := []struct {
		query string
		want  string
	}{
		{"chese", "cheese"},
		{"bananna", "banana"},
		{"BAN", "banana"},
	}
	for _, tt := range tests {
		got := Suggest(items, tt.query)
		if len(got) == 0 || got[0].Name != tt.want {
			t.Errorf("Suggest(%q) = %v, want first %q", tt.query, names(got), tt.want)
		}
	}

	if got := Suggest(items, "xyz"); len(got) != 0 {
		t.Errorf("Suggest(xyz) = %v, want no matches", names(got))
	}
}

func TestSuggestCapsResults(t *testing.T) {
	var items []model.LearnedItem
	for i := 0; i < 12; i++ {
		items = append(items, item(fmt.Sprintf("soup %d", i), i))
	}
	got := Suggest(items, "soup")
	if len(got) != MaxSuggestions {
		t.Fatalf("len = %d, want %d", len(got), MaxSuggestions)
	}
	if got[0].Frequency != 11 {
		t.Errorf("first frequency = %d, want 11", got[0].Frequency)
	}
}

func TestExactMatchMissing(t *testing.T) {
	items := []model.LearnedItem{item("milk", 1)}
	if _, ok := ExactMatch(items, "mil"); ok {
		t.Error("expected no exact match for a prefix")
	}
	if _, ok := ExactMatch(items, ""); ok {
		t.Error("expected no exact match for empty query")
	}
}
