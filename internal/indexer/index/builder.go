package index

import (
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer/lexer"
)

// Builder accumulates documents into a new Index. It is not safe for
// concurrent use.
type Builder struct {
	docs map[string]TermFreq
	df   DocFreq
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{
		docs: make(map[string]TermFreq),
		df:   make(DocFreq),
	}
}

// CountTerms lexes content and counts every token.
func CountTerms(content string) TermFreq {
	tf := make(TermFreq)
	for token := range lexer.Tokens(content) {
		tf[token]++
	}
	return tf
}

// Add lexes content and records it under docID. Adding an ID a second time
// replaces the earlier content.
func (b *Builder) Add(docID string, content string) {
	b.AddTermFreq(docID, CountTerms(content))
}

// AddTermFreq records an already counted table under docID. The builder
// takes ownership of tf.
func (b *Builder) AddTermFreq(docID string, tf TermFreq) {
	if old, exists := b.docs[docID]; exists {
		for term := range old {
			b.df[term]--
			if b.df[term] <= 0 {
				delete(b.df, term)
			}
		}
	}
	for term, n := range tf {
		if n <= 0 {
			delete(tf, term)
			continue
		}
		b.df[term]++
	}
	b.docs[docID] = tf
}

// Len returns the number of documents added so far.
func (b *Builder) Len() int {
	return len(b.docs)
}

// Build returns the accumulated Index and resets the builder.
func (b *Builder) Build() *Index {
	ix := &Index{Docs: b.docs, DF: b.df}
	b.docs = make(map[string]TermFreq)
	b.df = make(DocFreq)
	return ix
}

// Build indexes every document in order.
func Build(docs []Document) *Index {
	b := NewBuilder()
	for _, doc := range docs {
		b.Add(doc.ID, doc.Content)
	}
	return b.Build()
}
