package lexer

import (
	"slices"
	"strings"
	"testing"
	"unicode"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"case fold", "Hello World42", []string{"HELLO", "WORLD42"}},
		{"digit letter split", "42apples", []string{"42", "APPLES"}},
		{"punctuation", "a,b", []string{"A", ",", "B"}},
		{"symbols are single runes", "x+=1;", []string{"X", "+", "=", "1", ";"}},
		{"digits verbatim", "007 3.14", []string{"007", "3", ".", "14"}},
		{"mixed case identifier", "glBindBuffer", []string{"GLBINDBUFFER"}},
		{"non ascii letters", "naïve café", []string{"NAÏVE", "CAFÉ"}},
		{"tabs and newlines", "\tone\n\ntwo\r\n", []string{"ONE", "TWO"}},
		{"empty", "", []string{}},
		{"only whitespace", " \t\n ", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Tokenize(tt.input)
			if !slices.Equal(got, tt.want) {
				t.Errorf("Tokenize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestTokenizeUpperCasesEveryLetter(t *testing.T) {
	for _, input := range []string{"MiXeD cAsE", "lower", "ÀéÎõü", "aBc123dEf"} {
		for _, token := range Tokenize(input) {
			for _, r := range token {
				if unicode.IsLetter(r) && unicode.IsLower(r) {
					t.Errorf("token %q from %q contains lower-case letter %q", token, input, r)
				}
			}
		}
	}
}

func TestTokenizeWhitespaceIdempotent(t *testing.T) {
	a := Tokenize("  a   b  ")
	b := Tokenize("a b")
	if !slices.Equal(a, b) {
		t.Errorf("padded input gave %q, compact input gave %q", a, b)
	}
}

func TestTokensRestartable(t *testing.T) {
	seq := Tokens("int main(void) { return 0; }")
	first := slices.Collect(seq)
	second := slices.Collect(seq)
	if !slices.Equal(first, second) {
		t.Fatalf("second pass %q differs from first %q", second, first)
	}
	want := []string{"INT", "MAIN", "(", "VOID", ")", "{", "RETURN", "0", ";", "}"}
	if !slices.Equal(first, want) {
		t.Errorf("got %q, want %q", first, want)
	}
}

func TestTokensEarlyBreak(t *testing.T) {
	var got []string
	for token := range Tokens("one two three four") {
		got = append(got, token)
		if len(got) == 2 {
			break
		}
	}
	if !slices.Equal(got, []string{"ONE", "TWO"}) {
		t.Errorf("got %q", got)
	}
}

func TestTokenizeInvalidUTF8(t *testing.T) {
	tokens := Tokenize("ab\xffcd")
	want := []string{"AB", "\uFFFD", "CD"}
	if !slices.Equal(tokens, want) {
		t.Errorf("got %q, want %q", tokens, want)
	}
}

func TestTokenizeNeverEmitsWhitespace(t *testing.T) {
	input := strings.Repeat("foo \t bar\n42 ,", 50)
	for _, token := range Tokenize(input) {
		if token == "" {
			t.Fatal("empty token emitted")
		}
		for _, r := range token {
			if unicode.IsSpace(r) {
				t.Fatalf("token %q contains whitespace", token)
			}
		}
	}
}

func TestLexerNextAfterEnd(t *testing.T) {
	l := New([]rune("x"))
	if tok, ok := l.Next(); !ok || tok != "X" {
		t.Fatalf("Next() = %q, %v", tok, ok)
	}
	for i := 0; i < 3; i++ {
		if tok, ok := l.Next(); ok {
			t.Fatalf("Next() after end returned %q", tok)
		}
	}
}
