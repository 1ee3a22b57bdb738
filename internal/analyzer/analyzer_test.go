package analyzer

import (
	"reflect"
	"testing"
)

func terms(tokens []Token) []string {
	out := make([]string, len(tokens))
	for i, tok := range tokens {
		out[i] = tok.Term
	}
	return out
}

func TestAnalyzeNormalizes(t *testing.T) {
	a := New(DefaultConfig())

	got := terms(a.Analyze("body", "The Quick-Brown Fox, searching!"))
	want := []string{"quick", "brown", "fox", "search"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Analyze() = %v, want %v", got, want)
	}
}

func TestAnalyzeDeterministic(t *testing.T) {
	a := New(DefaultConfig())
	text := "distributed search engines require careful indexing strategies"

	first := a.Analyze("body", text)
	for i := 0; i < 10; i++ {
		if got := a.Analyze("body", text); !reflect.DeepEqual(got, first) {
			t.Fatalf("run %d: Analyze() = %v, want %v", i, got, first)
		}
	}
}

func TestAnalyzeStopwords(t *testing.T) {
	a := New(DefaultConfig())
	if got := a.Analyze("body", "the of and is a to"); len(got) != 0 {
		t.Fatalf("all-stopword text yielded %v, want none", got)
	}
}

func TestAnalyzeExtraStopwords(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Stemming = false
	cfg.ExtraStopwords = []string{"foo", "BAR"}
	a := New(cfg)

	got := terms(a.Analyze("body", "foo bar baz"))
	want := []string{"baz"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Analyze() = %v, want %v", got, want)
	}
}

func TestAnalyzeMinTokenLength(t *testing.T) {
	cfg := Config{MinTokenLength: 4, Lowercase: true}
	a := New(cfg)

	got := terms(a.Analyze("body", "cat wolf elephant"))
	want := []string{"wolf", "elephant"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Analyze() = %v, want %v", got, want)
	}
}

func TestAnalyzeEmptyText(t *testing.T) {
	a := New(DefaultConfig())
	for _, text := range []string{"", "   ", "\t\n", "!!! ---"} {
		if got := a.Analyze("body", text); len(got) != 0 {
			t.Errorf("Analyze(%q) = %v, want none", text, got)
		}
	}
}

func TestAnalyzePositions(t *testing.T) {
	cfg := Config{MinTokenLength: 2, Lowercase: true, StripStopwords: true}
	a := New(cfg)

	// "the" is dropped; surviving tokens must still be densely numbered.
	tokens := a.Analyze("body", "alpha the beta gamma")
	want := []Token{{"alpha", 0}, {"beta", 1}, {"gamma", 2}}
	if !reflect.DeepEqual(tokens, want) {
		t.Fatalf("Analyze() = %v, want %v", tokens, want)
	}
}

func TestAnalyzeFieldDoesNotAffectTerms(t *testing.T) {
	a := New(DefaultConfig())
	title := terms(a.Analyze("title", "distributed indexing"))
	body := terms(a.Analyze("body", "distributed indexing"))
	if !reflect.DeepEqual(title, body) {
		t.Fatalf("title terms %v != body terms %v", title, body)
	}
}

func TestAnalyzeNGrams(t *testing.T) {
	cfg := Config{MinTokenLength: 2, Lowercase: true, NGramSize: 2}
	a := New(cfg)

	tokens := a.Analyze("body", "alpha beta gamma")
	want := []Token{
		{"alpha", 0}, {"beta", 1}, {"gamma", 2},
		{"alpha beta", 0}, {"beta gamma", 1},
	}
	if !reflect.DeepEqual(tokens, want) {
		t.Fatalf("Analyze() = %v, want %v", tokens, want)
	}
}

func TestAnalyzeNGramsShortInput(t *testing.T) {
	cfg := Config{MinTokenLength: 2, Lowercase: true, NGramSize: 3}
	a := New(cfg)

	tokens := a.Analyze("body", "alpha beta")
	want := []Token{{"alpha", 0}, {"beta", 1}}
	if !reflect.DeepEqual(tokens, want) {
		t.Fatalf("Analyze() = %v, want %v", tokens, want)
	}
}

func TestStem(t *testing.T) {
	tests := []struct {
		word string
		want string
	}{
		{"searching", "search"},
		{"searches", "search"},
		{"search", "search"},
		{"indexing", "index"},
		{"distributed", "distribut"},
		{"relational", "relate"},
		{"class", "class"},
		{"go", "go"},
	}
	for _, tt := range tests {
		if got := stem(tt.word); got != tt.want {
			t.Errorf("stem(%q) = %q, want %q", tt.word, got, tt.want)
		}
	}
}

func TestSignatureStableAcrossStopwordOrder(t *testing.T) {
	cfg1 := DefaultConfig()
	cfg1.ExtraStopwords = []string{"foo", "bar"}
	cfg2 := DefaultConfig()
	cfg2.ExtraStopwords = []string{"bar", "foo"}

	if New(cfg1).Signature() != New(cfg2).Signature() {
		t.Fatal("signature should not depend on extra stop-word order")
	}
}

func TestSignatureDistinguishesConfigs(t *testing.T) {
	base := New(DefaultConfig()).Signature()

	changed := DefaultConfig()
	changed.NGramSize = 2
	if New(changed).Signature() == base {
		t.Fatal("changing NGramSize must change the signature")
	}

	changed = DefaultConfig()
	changed.Stemming = false
	if New(changed).Signature() == base {
		t.Fatal("changing Stemming must change the signature")
	}
}
