// Package validate holds the input rules shared by the list, registry and HTTP layers.
package validate

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/dukerupert/aisle/internal/model"
)

const (
	MaxItemNameLength    = 500
	MaxStoreNameLength   = 100
	MaxSectionNameLength = 100
)

// Letters, digits, combining marks, whitespace and common punctuation.
var namePattern = regexp.MustCompile(`^[\p{L}\p{N}\p{M}\s\-.,&'!?()#@%+=/\\:;"]+$`)

var v = validator.New(validator.WithRequiredStructEnabled())

// ItemName checks an item name and returns it trimmed.
func ItemName(name string) (string, error) {
	return checkName("Item", name, MaxItemNameLength)
}

// StoreName checks a store name and returns it trimmed.
func StoreName(name string) (string, error) {
	return checkName("Store", name, MaxStoreNameLength)
}

// SectionName checks a section name and returns it trimmed.
func SectionName(name string) (string, error) {
	return checkName("Section", name, MaxSectionNameLength)
}

func checkName(kind, name string, max int) (string, error) {
	if name == "" {
		return "", model.Invalid("%s name cannot be empty", kind)
	}
	if utf8.RuneCountInString(name) > max {
		return "", model.Invalid("%s name too long (maximum %d characters)", kind, max)
	}
	if !namePattern.MatchString(name) {
		return "", model.Invalid("%s name contains invalid characters", kind)
	}
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", model.Invalid("%s name cannot be empty", kind)
	}
	return trimmed, nil
}

// Email checks an address and returns it trimmed and lowercased.
func Email(email string) (string, error) {
	normalized := NormalizeEmail(email)
	if err := v.Var(normalized, "required,email"); err != nil {
		return "", model.Invalid("Invalid email format")
	}
	return normalized, nil
}

// NormalizeEmail is the key pending shares are stored and matched under.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Struct runs validator tags on a request struct and reports the first
// failure as a *model.ValidationError.
func Struct(s any) error {
	err := v.Struct(s)
	if err == nil {
		return nil
	}
	if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
		fe := errs[0]
		return model.Invalid("%s failed %q validation", fe.Field(), fe.Tag())
	}
	return model.Invalid("invalid request")
}
