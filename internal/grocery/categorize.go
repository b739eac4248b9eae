// Package grocery guesses which default section a new item belongs in.
package grocery

import (
	"sort"
	"strings"
	"unicode"

	"github.com/dukerupert/aisle/internal/model"
)

// Section names the keyword table maps to. They match the default sections
// every store starts with.
const (
	Produce   = "Produce"
	Dairy     = "Dairy"
	Meat      = "Meat & Seafood"
	Bakery    = "Bakery"
	Pantry    = "Pantry"
	Frozen    = "Frozen"
	Snacks    = "Snacks & Beverages"
	Household = "Household"
)

type rule struct {
	words   []string
	section string
}

// modifiers decide the section whatever the item is, as in "frozen peas".
var modifiers = map[string]string{
	"frozen": Frozen,
	"canned": Pantry,
}

var phrases, words = buildRules(map[string][]string{
	Produce: {
		"apple", "banana", "orange", "lemon", "lime", "avocado", "tomato", "potato",
		"onion", "garlic", "lettuce", "spinach", "kale", "broccoli", "carrot",
		"celery", "cucumber", "pepper", "mushroom", "corn", "grape", "berry",
		"strawberry", "blueberry", "raspberry", "melon", "watermelon", "pineapple",
		"mango", "peach", "pear", "cilantro", "basil", "parsley", "ginger",
		"jalapeño", "zucchini", "asparagus", "green bean", "salad",
	},
	Dairy: {
		"milk", "cheese", "butter", "yogurt", "cream", "sour cream", "cream cheese",
		"cottage cheese", "egg", "half and half", "creamer",
	},
	Meat: {
		"chicken", "beef", "pork", "turkey", "ham", "bacon", "sausage", "steak",
		"ground beef", "lamb", "salmon", "shrimp", "fish", "cod", "tilapia", "crab",
		"deli meat", "hot dog",
	},
	Bakery: {
		"bread", "sourdough", "bagel", "tortilla", "bun", "roll", "muffin",
		"croissant", "baguette", "pita", "cake", "donut",
	},
	Pantry: {
		"rice", "pasta", "noodle", "flour", "sugar", "salt", "spice", "seasoning",
		"sauce", "broth", "stock", "soup", "bean", "lentil", "cereal", "oatmeal",
		"oat", "peanut butter", "jam", "honey", "olive oil", "oil", "vinegar",
		"maple syrup", "tuna", "ketchup", "mustard", "mayo", "mayonnaise",
	},
	Frozen: {
		"ice cream", "popsicle", "ice",
	},
	Snacks: {
		"chip", "cracker", "cookie", "popcorn", "pretzel", "candy", "chocolate",
		"snack", "granola bar", "trail mix", "nut", "coffee", "tea", "juice",
		"soda", "water", "beer", "wine", "drink", "kombucha",
	},
	Household: {
		"paper towel", "toilet paper", "trash bag", "garbage bag", "dish soap",
		"soap", "laundry", "detergent", "cleaner", "sponge", "foil", "plastic wrap",
		"ziplock", "battery", "light bulb", "shampoo", "conditioner", "toothpaste",
		"toothbrush", "deodorant", "tissue", "napkin",
	},
})

// buildRules splits the table into multi-word phrases, longest first, and a
// lookup of single words.
func buildRules(table map[string][]string) ([]rule, map[string]string) {
	var multi []rule
	single := make(map[string]string)
	for section, entries := range table {
		for _, e := range entries {
			w := tokenize(e)
			if len(w) == 1 {
				single[w[0]] = section
				continue
			}
			multi = append(multi, rule{words: w, section: section})
		}
	}
	sort.Slice(multi, func(i, j int) bool {
		if len(multi[i].words) != len(multi[j].words) {
			return len(multi[i].words) > len(multi[j].words)
		}
		return strings.Join(multi[i].words, " ") < strings.Join(multi[j].words, " ")
	})
	return multi, single
}

// Categorize returns the default section name for an item, or "" when no
// keyword matches. Matching is by whole word, ignores case and treats
// simple plurals as singular. Known phrases win, then modifiers like
// "frozen", then the last recognised word, so "chicken soup" is soup.
func Categorize(itemName string) string {
	tokens := tokenize(itemName)
	if len(tokens) == 0 {
		return ""
	}
	for _, r := range phrases {
		if containsRun(tokens, r.words) {
			return r.section
		}
	}
	for _, t := range tokens {
		if section, ok := modifiers[t]; ok {
			return section
		}
	}
	for i := len(tokens) - 1; i >= 0; i-- {
		if section, ok := words[tokens[i]]; ok {
			return section
		}
	}
	return ""
}

// SectionHint maps Categorize's answer onto one of the store's sections by
// name.
func SectionHint(itemName string, sections []model.Section) (model.Section, bool) {
	name := Categorize(itemName)
	if name == "" {
		return model.Section{}, false
	}
	for _, s := range sections {
		if strings.EqualFold(strings.TrimSpace(s.Name), name) {
			return s, true
		}
	}
	return model.Section{}, false
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for i, f := range fields {
		fields[i] = singular(f)
	}
	return fields
}

func singular(w string) string {
	switch {
	case len(w) > 4 && strings.HasSuffix(w, "ies"):
		return w[:len(w)-3] + "y"
	case len(w) > 4 && (strings.HasSuffix(w, "oes") || strings.HasSuffix(w, "ches") || strings.HasSuffix(w, "shes")):
		return w[:len(w)-2]
	case len(w) > 3 && strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss"):
		return w[:len(w)-1]
	}
	return w
}

func containsRun(words, run []string) bool {
	if len(run) == 0 || len(run) > len(words) {
		return false
	}
	for i := 0; i+len(run) <= len(words); i++ {
		match := true
		for j, w := range run {
			if words[i+j] != w {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
