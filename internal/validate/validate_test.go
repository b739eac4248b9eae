package validate

import (
	"errors"
	"strings"
	"testing"

	"github.com/dukerupert/aisle/internal/model"
)

func TestItemName(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"Milk", "Milk", false},
		{"  eggs  ", "eggs", false},
		{"Ben & Jerry's (pint)", "Ben & Jerry's (pint)", false},
		{"crème fraîche", "crème fraîche", false},
		{"牛乳", "牛乳", false},
		{"50% cocoa / 2:1", "50% cocoa / 2:1", false},
		{"", "", true},
		{"   ", "", true},
		{"<script>", "", true},
		{"milk\x00", "", true},
		{strings.Repeat("a", 500), strings.Repeat("a", 500), false},
		{strings.Repeat("a", 501), "", true},
	}

	for _, tt := range tests {
		got, err := ItemName(tt.in)
		if tt.wantErr {
			var ve *model.ValidationError
			if !errors.As(err, &ve) {
				t.Errorf("ItemName(%q) err = %v, want ValidationError", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ItemName(%q) unexpected error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ItemName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStoreNameLength(t *testing.T) {
	if _, err := StoreName(strings.Repeat("b", 100)); err != nil {
		t.Errorf("100 chars: unexpected error %v", err)
	}
	_, err := StoreName(strings.Repeat("b", 101))
	if err == nil || !strings.Contains(err.Error(), "maximum 100") {
		t.Errorf("101 chars: err = %v, want too long", err)
	}
}

func TestEmail(t *testing.T) {
	got, err := Email("  Alice@Example.COM ")
	if err != nil {
		t.Fatalf("email: %v", err)
	}
	if got != "alice@example.com" {
		t.Errorf("email = %q, want %q", got, "alice@example.com")
	}

	for _, bad := range []string{"", "not-an-email", "a@", "@x.com"} {
		if _, err := Email(bad); err == nil {
			t.Errorf("Email(%q): expected error", bad)
		}
	}
}

func TestStruct(t *testing.T) {
	type req struct {
		Email string `validate:"required,email"`
	}
	if err := Struct(req{Email: "a@x.com"}); err != nil {
		t.Errorf("valid struct: %v", err)
	}
	err := Struct(req{})
	var ve *model.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if !strings.Contains(ve.Message, "Email") {
		t.Errorf("message = %q, want field name", ve.Message)
	}
}

func TestSectionName(t *testing.T) {
	got, err := SectionName("  Deli & Cheese ")
	if err != nil {
		t.Fatalf("section name: %v", err)
	}
	if got != "Deli & Cheese" {
		t.Errorf("name = %q, want %q", got, "Deli & Cheese")
	}
	if _, err := SectionName("<aisle>"); err == nil {
		t.Error("expected error for invalid characters")
	}
}
