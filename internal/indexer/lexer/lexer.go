// Package lexer turns raw document text into the normalised tokens used by
// the index and the query engine. A token is a run of decimal digits, a run
// of letters and digits that starts with a letter (upper-cased), or a single
// symbol rune. Whitespace only separates tokens.
package lexer

import (
	"iter"
	"unicode"
)

// Lexer walks a rune slice and yields one token per call to Next.
type Lexer struct {
	content []rune
}

// New returns a Lexer positioned at the start of content.
func New(content []rune) *Lexer {
	return &Lexer{content: content}
}

// Next returns the next token and true, or "" and false once the input is
// exhausted.
func (l *Lexer) Next() (string, bool) {
	l.trimLeft()
	if len(l.content) == 0 {
		return "", false
	}
	r := l.content[0]
	if unicode.IsDigit(r) {
		return string(l.chopWhile(unicode.IsDigit)), true
	}
	if unicode.IsLetter(r) {
		word := l.chopWhile(isAlphanumeric)
		upper := make([]rune, len(word))
		for i, c := range word {
			upper[i] = unicode.ToUpper(c)
		}
		return string(upper), true
	}
	return string(l.chop(1)), true
}

func (l *Lexer) trimLeft() {
	for len(l.content) > 0 && unicode.IsSpace(l.content[0]) {
		l.content = l.content[1:]
	}
}

func (l *Lexer) chop(n int) []rune {
	token := l.content[:n]
	l.content = l.content[n:]
	return token
}

func (l *Lexer) chopWhile(pred func(rune) bool) []rune {
	n := 0
	for n < len(l.content) && pred(l.content[n]) {
		n++
	}
	return l.chop(n)
}

func isAlphanumeric(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// Tokens returns a lazy token sequence over content. Each range over the
// sequence starts a fresh Lexer, so the sequence can be consumed any number
// of times with identical results.
func Tokens(content string) iter.Seq[string] {
	return func(yield func(string) bool) {
		l := New([]rune(content))
		for {
			token, ok := l.Next()
			if !ok || !yield(token) {
				return
			}
		}
	}
}

// Tokenize collects every token of content into a slice.
func Tokenize(content string) []string {
	tokens := make([]string, 0, len(content)/4)
	for token := range Tokens(content) {
		tokens = append(tokens, token)
	}
	return tokens
}
