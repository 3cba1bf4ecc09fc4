package server

import (
	"strings"
	"testing"
)

func TestToolRegistryNames(t *testing.T) {
	want := map[string]bool{
		"translate":         false,
		"grammar-check":     false,
		"summarize":         false,
		"paraphrase":        false,
		"punctuation-check": false,
		"topic-generate":    false,
	}
	for _, spec := range toolRegistry() {
		seen, ok := want[spec.name]
		if !ok {
			t.Errorf("unexpected tool %q", spec.name)
			continue
		}
		if seen {
			t.Errorf("duplicate tool %q", spec.name)
		}
		want[spec.name] = true
		if spec.system == "" {
			t.Errorf("tool %q has no system prompt", spec.name)
		}
		if spec.maxTokens <= 0 {
			t.Errorf("tool %q has maxTokens %d", spec.name, spec.maxTokens)
		}
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("tool %q missing from registry", name)
		}
	}
}

func TestTranslatePayloadNormalizesLanguage(t *testing.T) {
	spec := translateTool()

	p1, _, err := spec.build([]byte(`{"text":"hello","targetLanguage":"Tagalog"}`))
	if err != nil {
		t.Fatal(err)
	}
	p2, _, err := spec.build([]byte(`{"text":"hello","targetLanguage":"TAGALOG"}`))
	if err != nil {
		t.Fatal(err)
	}
	if p1 != p2 {
		t.Errorf("language casing must not change the cache payload: %+v vs %+v", p1, p2)
	}
}

func TestTextPayloadIncludesTool(t *testing.T) {
	p, _, err := textTool("summarize", "s", "i", 100, 0).build([]byte(`{"text":"abc"}`))
	if err != nil {
		t.Fatal(err)
	}
	tp, ok := p.(textPayload)
	if !ok {
		t.Fatalf("payload type %T", p)
	}
	if tp.Tool != "summarize" {
		t.Errorf("tool = %q", tp.Tool)
	}
}

func TestTextToolRejectsOversizedInput(t *testing.T) {
	spec := textTool("summarize", "s", "i", 100, 0)
	big := `{"text":"` + strings.Repeat("a", maxTextLen+1) + `"}`
	if _, _, err := spec.build([]byte(big)); err == nil {
		t.Fatal("oversized text must be rejected")
	}
}

func TestPromptContainsText(t *testing.T) {
	spec := translateTool()
	_, prompt, err := spec.build([]byte(`{"text":"magandang umaga","targetLanguage":"English"}`))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(prompt, "magandang umaga") {
		t.Errorf("prompt %q does not carry the input text", prompt)
	}
	if !strings.Contains(prompt, "English") {
		t.Errorf("prompt %q does not carry the target language", prompt)
	}
}
