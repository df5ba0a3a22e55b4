package internal

import (
	"strings"
	"testing"
)

func TestNormalizeAnswer(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"ab23cd", "AB23CD"},
		{"  AB23CD  ", "AB23CD"},
		{"\tAb23Cd\n", "AB23CD"},
		{"", ""},
	}

	for _, tc := range cases {
		if got := NormalizeAnswer(tc.in); got != tc.want {
			t.Fatalf("NormalizeAnswer(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestHashAnswerEquivalentForms(t *testing.T) {
	a := HashAnswer(NormalizeAnswer("ab23cd"))
	b := HashAnswer(NormalizeAnswer("  AB23CD "))
	if a != b {
		t.Fatal("normalized forms of the same answer must hash identically")
	}

	c := HashAnswer(NormalizeAnswer("XY45ZW"))
	if a == c {
		t.Fatal("different answers must hash differently")
	}
}

func TestAnswerAlphabetAvoidsAmbiguousGlyphs(t *testing.T) {
	for _, r := range "01OI" {
		if strings.ContainsRune(AnswerAlphabet, r) {
			t.Fatalf("alphabet must not contain ambiguous glyph %q", r)
		}
	}
}
