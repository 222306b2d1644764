package crawler

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// markupExtensions are parsed as HTML and reduced to their visible text.
var markupExtensions = map[string]struct{}{
	".html":  {},
	".htm":   {},
	".xhtml": {},
	".xml":   {},
}

// ExtractText returns the indexable text of a file. Markup files are reduced
// to their text nodes; everything else is returned unchanged.
func ExtractText(path string, r io.Reader) (string, error) {
	if _, ok := markupExtensions[strings.ToLower(filepath.Ext(path))]; ok {
		return extractMarkup(r)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return string(data), nil
}

// extractMarkup streams the document through the html tokenizer, keeping
// text tokens outside script and style elements. Each text node is followed
// by a space so adjacent elements never fuse into one word.
func extractMarkup(r io.Reader) (string, error) {
	z := html.NewTokenizer(r)
	var sb strings.Builder
	skipDepth := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			if err := z.Err(); !errors.Is(err, io.EOF) {
				return "", fmt.Errorf("tokenizing markup: %w", err)
			}
			return sb.String(), nil
		case html.StartTagToken:
			if isHidden(z) {
				skipDepth++
			}
		case html.EndTagToken:
			if skipDepth > 0 && isHidden(z) {
				skipDepth--
			}
		case html.TextToken:
			if skipDepth > 0 {
				continue
			}
			text := z.Text()
			if len(strings.TrimSpace(string(text))) == 0 {
				continue
			}
			sb.Write(text)
			sb.WriteByte(' ')
		}
	}
}

func isHidden(z *html.Tokenizer) bool {
	name, _ := z.TagName()
	switch atom.Lookup(name) {
	case atom.Script, atom.Style, atom.Noscript, atom.Template:
		return true
	}
	return false
}
