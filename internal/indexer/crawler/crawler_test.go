package crawler

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer/lexer"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/config"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func testConfig(root string) config.CrawlerConfig {
	return config.CrawlerConfig{
		Root:        root,
		Extensions:  []string{".txt", "md", ".xhtml"},
		MaxFileSize: 1024,
		Workers:     4,
		SkipHidden:  true,
	}
}

func TestCrawl(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "b.txt", "bravo")
	writeFile(t, root, "a.md", "# alpha")
	writeFile(t, root, "gl/glClear.xhtml", `<html><head><style>p{color:red}</style></head>
<body><h1>glClear</h1><p>clear buffers</p><script>var hidden = 1;</script></body></html>`)
	writeFile(t, root, "image.png", "\x89PNG")
	writeFile(t, root, ".git/config", "secret")
	writeFile(t, root, ".hidden.txt", "secret")
	writeFile(t, root, "huge.txt", strings.Repeat("x", 2048))

	docs, err := New(testConfig(root)).Crawl(context.Background())
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	var ids []string
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	want := []string{"a.md", "b.txt", "gl/glClear.xhtml"}
	if strings.Join(ids, ",") != strings.Join(want, ",") {
		t.Fatalf("crawled %v, want %v", ids, want)
	}

	tokens := lexer.Tokenize(docs[2].Content)
	joined := strings.Join(tokens, " ")
	if !strings.Contains(joined, "GLCLEAR") || !strings.Contains(joined, "BUFFERS") {
		t.Errorf("markup text missing from %q", joined)
	}
	if strings.Contains(joined, "HIDDEN") || strings.Contains(joined, "COLOR") {
		t.Errorf("script/style text leaked into %q", joined)
	}
}

func TestCrawlAllExtensionsWhenEmpty(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "Makefile", "all: build")
	writeFile(t, root, "main.c", "int main() {}")
	cfg := testConfig(root)
	cfg.Extensions = nil
	docs, err := New(cfg).Crawl(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 2 {
		t.Errorf("got %d documents, want 2", len(docs))
	}
}

func TestCrawlMissingRoot(t *testing.T) {
	_, err := New(testConfig(filepath.Join(t.TempDir(), "nope"))).Crawl(context.Background())
	if err == nil {
		t.Error("expected error for missing root")
	}
}

func TestCrawlCancelled(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "a")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New(testConfig(root)).Crawl(ctx); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestExtractTextPlain(t *testing.T) {
	got, err := ExtractText("notes.txt", strings.NewReader("<b>not markup</b>"))
	if err != nil {
		t.Fatal(err)
	}
	if got != "<b>not markup</b>" {
		t.Errorf("plain text altered: %q", got)
	}
}

func TestExtractTextMarkupSeparatesElements(t *testing.T) {
	got, err := ExtractText("page.HTML", strings.NewReader("<td>one</td><td>two</td>"))
	if err != nil {
		t.Fatal(err)
	}
	tokens := lexer.Tokenize(got)
	if strings.Join(tokens, " ") != "ONE TWO" {
		t.Errorf("tokens = %v, want [ONE TWO]", tokens)
	}
}

func TestCrawlSkipsNonUTF8Names(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "cafe.txt", "plain name")
	if err := os.WriteFile(filepath.Join(root, "caf\xff.txt"), []byte("latin-1 name"), 0644); err != nil {
		t.Skipf("filesystem rejects non-UTF-8 names: %v", err)
	}

	docs, err := New(testConfig(root)).Crawl(context.Background())
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != "cafe.txt" {
		ids := make([]string, len(docs))
		for i, d := range docs {
			ids[i] = d.ID
		}
		t.Errorf("docs = %q, want only cafe.txt", ids)
	}
}
