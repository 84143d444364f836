package language

import (
	"reflect"
	"testing"
)

func TestCanonical(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"en", "en"},
		{"EN", "en"},
		{"eng", "en"},
		{"jpn", "ja"},
		{"fre", "fr"},
		{"ger", "de"},
		{"chi", "zh"},
		{"pt-BR", "pt-BR"},
		{"pt_BR", "pt-BR"},
		{"english", "en"},
		{"", "und"},
		{"und", "und"},
		{"!!", "und"},
		{"en\u0000", "en"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := Canonical(tt.input); got != tt.expected {
				t.Errorf("Canonical(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestDisplayName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"eng", "English"},
		{"ja", "Japanese"},
		{"", "Unknown"},
		{"und", "Unknown"},
		{"!!", "!!"},
	}

	for _, tt := range tests {
		if got := DisplayName(tt.input); got != tt.expected {
			t.Errorf("DisplayName(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestMatch(t *testing.T) {
	candidates := []string{"jpn", "eng", "und"}

	if got := Match("en", candidates); got != 1 {
		t.Errorf("Match(en) = %d, want 1", got)
	}
	if got := Match("ja", candidates); got != 0 {
		t.Errorf("Match(ja) = %d, want 0", got)
	}
	if got := Match("", candidates); got != -1 {
		t.Errorf("Match(empty) = %d, want -1", got)
	}
	if got := Match("ru", []string{"und"}); got != -1 {
		t.Errorf("Match(ru) against und = %d, want -1", got)
	}
}

func TestNormalizeList(t *testing.T) {
	got := NormalizeList([]string{"eng", "en", "fre", "", "!!", "fr"})
	want := []string{"en", "fr"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("NormalizeList = %v, want %v", got, want)
	}
	if NormalizeList(nil) != nil {
		t.Error("NormalizeList(nil) should be nil")
	}
}
