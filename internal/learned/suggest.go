package learned

import (
	"math"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/dukerupert/aisle/internal/model"
)

const (
	// MaxSuggestions caps results for a non-empty query.
	MaxSuggestions = 8
	// MaxPopular caps results for an empty query.
	MaxPopular = 5

	// Threshold is the largest share of query characters that may differ
	// in a fuzzy match.
	Threshold = 0.4
	// scoreBand is the width within which matches order by frequency.
	scoreBand = 0.1

	prefixScore    = 0.05
	substringScore = 0.1
)

type scored struct {
	item  model.LearnedItem
	score float64
	exact bool
}

// Suggest ranks learned items against a partial query. An empty query returns
// the most frequently used items. Otherwise items are fuzzy-matched on name,
// a case-insensitive exact match always comes first, and the rest order by
// match quality band and then by frequency.
func Suggest(items []model.LearnedItem, query string) []model.LearnedItem {
	q := Normalize(query)
	if q == "" {
		popular := make([]model.LearnedItem, len(items))
		copy(popular, items)
		sort.SliceStable(popular, func(i, j int) bool {
			return popular[i].Frequency > popular[j].Frequency
		})
		if len(popular) > MaxPopular {
			popular = popular[:MaxPopular]
		}
		return popular
	}

	var matches []scored
	for _, item := range items {
		name := Normalize(item.Name)
		score, ok := matchScore(q, name)
		if !ok {
			continue
		}
		matches = append(matches, scored{item: item, score: score, exact: name == q})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.exact != b.exact {
			return a.exact
		}
		if ba, bb := band(a.score), band(b.score); ba != bb {
			return ba < bb
		}
		if a.item.Frequency != b.item.Frequency {
			return a.item.Frequency > b.item.Frequency
		}
		if a.score != b.score {
			return a.score < b.score
		}
		return a.item.Name < b.item.Name
	})

	if len(matches) > MaxSuggestions {
		matches = matches[:MaxSuggestions]
	}
	out := make([]model.LearnedItem, len(matches))
	for i, m := range matches {
		out[i] = m.item
	}
	return out
}

// ExactMatch returns the learned item whose name equals query ignoring case
// and surrounding whitespace.
func ExactMatch(items []model.LearnedItem, query string) (model.LearnedItem, bool) {
	q := Normalize(query)
	if q == "" {
		return model.LearnedItem{}, false
	}
	for _, item := range items {
		if Normalize(item.Name) == q {
			return item, true
		}
	}
	return model.LearnedItem{}, false
}

// matchScore returns 0 for an exact match and grows as the match gets worse.
// Names whose best window differs from the query by more than Threshold do
// not match.
func matchScore(query, name string) (float64, bool) {
	switch {
	case name == query:
		return 0, true
	case strings.HasPrefix(name, query):
		return prefixScore, true
	case strings.Contains(name, query):
		return substringScore, true
	}

	d := windowDistance([]rune(query), []rune(name))
	if d > Threshold {
		return 0, false
	}
	return substringScore + d, true
}

// windowDistance is the smallest edit distance between query and any run of
// name close to the query's length, relative to the query length.
func windowDistance(query, name []rune) float64 {
	m := len(query)
	if m == 0 {
		return 1
	}
	q := string(query)
	if len(name) <= m+1 {
		return float64(levenshtein.ComputeDistance(q, string(name))) / float64(m)
	}

	best := math.MaxInt
	for w := max(m-1, 1); w <= m+1; w++ {
		for i := 0; i+w <= len(name); i++ {
			if d := levenshtein.ComputeDistance(q, string(name[i:i+w])); d < best {
				best = d
			}
		}
	}
	return float64(best) / float64(m)
}

func band(score float64) int {
	return int(math.Floor(score/scoreBand + 1e-9))
}
