// Package index holds the corpus statistics used for TF-IDF scoring: one
// term-frequency table per document plus a shared document-frequency table.
package index

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"math"
	"slices"
	"sort"
)

// TermFreq maps a token to the number of times it occurs in one document.
type TermFreq map[string]int

// Total returns the number of token occurrences in the document.
func (tf TermFreq) Total() int {
	total := 0
	for _, n := range tf {
		total += n
	}
	return total
}

// DocFreq maps a token to the number of documents that contain it.
type DocFreq map[string]int

// Document is one unit of input to the builder.
type Document struct {
	ID      string
	Content string
}

// Index is an immutable snapshot of corpus statistics. Callers must not
// modify the maps of an Index once it has been built; a new Index is built
// and swapped in instead.
type Index struct {
	Docs map[string]TermFreq `json:"docs" cbor:"docs"`
	DF   DocFreq             `json:"df" cbor:"df"`
}

// Empty returns an Index with no documents.
func Empty() *Index {
	return &Index{
		Docs: make(map[string]TermFreq),
		DF:   make(DocFreq),
	}
}

// DocCount returns N, the number of indexed documents.
func (ix *Index) DocCount() int {
	return len(ix.Docs)
}

// TermCount returns the size of the corpus vocabulary.
func (ix *Index) TermCount() int {
	return len(ix.DF)
}

// DocIDs returns every document identifier in ascending order.
func (ix *Index) DocIDs() []string {
	ids := make([]string, 0, len(ix.Docs))
	for id := range ix.Docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Fingerprint returns a hex SHA-256 digest of the index content. Equal
// indexes have equal fingerprints regardless of map order, in any process.
// DF is derived from Docs and is not hashed.
func (ix *Index) Fingerprint() string {
	h := sha256.New()
	writeUint(h, uint64(len(ix.Docs)))
	for _, id := range ix.DocIDs() {
		writeString(h, id)
		tf := ix.Docs[id]
		terms := make([]string, 0, len(tf))
		for term := range tf {
			terms = append(terms, term)
		}
		slices.Sort(terms)
		writeUint(h, uint64(len(terms)))
		for _, term := range terms {
			writeString(h, term)
			writeUint(h, uint64(tf[term]))
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeUint(h hash.Hash, v uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	h.Write(buf[:])
}

func writeString(h hash.Hash, s string) {
	writeUint(h, uint64(len(s)))
	h.Write([]byte(s))
}

// TermFrequency returns the share of token among all token occurrences of
// doc. An empty document yields 0.
func TermFrequency(token string, doc TermFreq) float64 {
	total := doc.Total()
	if total == 0 {
		return 0
	}
	return float64(doc[token]) / float64(total)
}

// InverseDocumentFrequency returns log10(n / max(1, df[token])). Tokens that
// never occur in the corpus get the maximum weight log10(n).
func InverseDocumentFrequency(token string, n int, df DocFreq) float64 {
	if n <= 0 {
		return 0
	}
	m := df[token]
	if m < 1 {
		m = 1
	}
	return math.Log10(float64(n) / float64(m))
}

// Validate checks that DF agrees with the per-document tables: every token
// of every document is counted once per document, and nothing else is.
func (ix *Index) Validate() error {
	seen := make(map[string]int, len(ix.DF))
	for docID, tf := range ix.Docs {
		for term, n := range tf {
			if n <= 0 {
				return fmt.Errorf("document %q: term %q has non-positive count %d", docID, term, n)
			}
			seen[term]++
		}
	}
	if len(seen) != len(ix.DF) {
		return fmt.Errorf("document frequency table has %d terms, documents contain %d", len(ix.DF), len(seen))
	}
	for term, n := range seen {
		if ix.DF[term] != n {
			return fmt.Errorf("term %q: document frequency %d, found in %d documents", term, ix.DF[term], n)
		}
	}
	return nil
}
