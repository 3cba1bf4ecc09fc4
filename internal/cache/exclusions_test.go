package cache

import (
	"testing"
)

func TestExclusionList_NilSafe(t *testing.T) {
	var el *ExclusionList
	if el.Matches("claude-3-5-haiku-20241022") {
		t.Fatal("nil ExclusionList must never match")
	}
	if el.Len() != 0 {
		t.Fatal("nil ExclusionList Len must be 0")
	}
}

func TestExclusionList_ExactMatch(t *testing.T) {
	el, err := NewExclusionList([]string{"claude-3-opus-20240229", "claude-3-5-sonnet-20241022"}, nil)
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		model string
		want  bool
	}{
		{"claude-3-opus-20240229", true},
		{"claude-3-5-sonnet-20241022", true},
		{"claude-3-5-haiku-20241022", false}, // different model
		{"CLAUDE-3-OPUS-20240229", false},    // case-sensitive
		{"claude-3-opus", false},             // prefix only
	}
	for _, c := range cases {
		if got := el.Matches(c.model); got != c.want {
			t.Errorf("Matches(%q) = %v, want %v", c.model, got, c.want)
		}
	}
}

func TestExclusionList_RegexMatch(t *testing.T) {
	el, err := NewExclusionList(nil, []string{`^claude-3-opus`, `-latest$`})
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		model string
		want  bool
	}{
		{"claude-3-opus-20240229", true},
		{"claude-3-opus-latest", true},
		{"claude-3-5-sonnet-latest", true},
		{"claude-3-5-haiku-20241022", false}, // matches neither pattern
		{"claude-3-5-sonnet-20241022", false},
	}
	for _, c := range cases {
		if got := el.Matches(c.model); got != c.want {
			t.Errorf("Matches(%q) = %v, want %v", c.model, got, c.want)
		}
	}
}

func TestExclusionList_ExactBeatsRegex(t *testing.T) {
	// Both exact and regex configured; exact should still work.
	el, err := NewExclusionList(
		[]string{"claude-3-5-haiku-20241022"},
		[]string{`^claude-3-opus`},
	)
	if err != nil {
		t.Fatal(err)
	}

	if !el.Matches("claude-3-5-haiku-20241022") {
		t.Error("exact match missed")
	}
	if !el.Matches("claude-3-opus-20240229") {
		t.Error("regex match missed")
	}
	if el.Matches("claude-3-5-sonnet-20241022") {
		t.Error("should not match")
	}
}

func TestExclusionList_InvalidPattern(t *testing.T) {
	_, err := NewExclusionList(nil, []string{`[invalid(`})
	if err == nil {
		t.Fatal("expected error for invalid regex")
	}
}

func TestExclusionList_EmptyStringsSkipped(t *testing.T) {
	el, err := NewExclusionList([]string{"", "claude-3-opus-20240229", ""}, []string{"", `-latest$`})
	if err != nil {
		t.Fatal(err)
	}
	if !el.Matches("claude-3-opus-20240229") {
		t.Error("should match the exact rule")
	}
	if !el.Matches("claude-3-5-sonnet-latest") {
		t.Error("should match the -latest$ pattern")
	}
	if el.Len() != 2 { // 1 exact + 1 regex
		t.Errorf("Len = %d, want 2", el.Len())
	}
}
