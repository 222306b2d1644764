// Package ranker scores every document of an index against a query with
// TF-IDF and orders the results.
package ranker

import (
	"cmp"
	"math"
	"slices"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer/lexer"
)

// ScoredDoc is one ranked document.
type ScoredDoc struct {
	DocID string  `json:"doc_id"`
	Score float64 `json:"score"`
}

// Search tokenizes query and ranks every document in ix. An empty query
// scores every document 0.
func Search(ix *index.Index, query string) []ScoredDoc {
	return Rank(ix, lexer.Tokenize(query))
}

// Rank scores every document in ix against tokens. Each document's score is
// the sum, over tokens in order and with repeats, of TF times IDF. Documents
// scoring 0 are kept. Results are ordered by Compare.
func Rank(ix *index.Index, tokens []string) []ScoredDoc {
	if ix == nil || len(ix.Docs) == 0 {
		return []ScoredDoc{}
	}

	n := len(ix.Docs)
	idf := make(map[string]float64, len(tokens))
	for _, token := range tokens {
		if _, ok := idf[token]; !ok {
			idf[token] = index.InverseDocumentFrequency(token, n, ix.DF)
		}
	}

	results := make([]ScoredDoc, 0, n)
	for docID, tf := range ix.Docs {
		var score float64
		// Same arithmetic as index.TermFrequency with the total hoisted.
		if total := float64(tf.Total()); total > 0 {
			for _, token := range tokens {
				score += float64(tf[token]) / total * idf[token]
			}
		}
		results = append(results, ScoredDoc{DocID: docID, Score: score})
	}
	slices.SortFunc(results, Compare)
	return results
}

// Compare orders a before b when it has the higher score. NaN sorts after
// every number and equal scores fall back to ascending DocID, which makes
// the order total and deterministic.
func Compare(a, b ScoredDoc) int {
	aNaN, bNaN := math.IsNaN(a.Score), math.IsNaN(b.Score)
	switch {
	case aNaN && !bNaN:
		return 1
	case !aNaN && bNaN:
		return -1
	case !aNaN && a.Score != b.Score:
		if a.Score > b.Score {
			return -1
		}
		return 1
	}
	return cmp.Compare(a.DocID, b.DocID)
}

// Top returns at most limit leading results. A limit below 1 returns all of
// them.
func Top(results []ScoredDoc, limit int) []ScoredDoc {
	if limit < 1 || limit >= len(results) {
		return results
	}
	return results[:limit]
}

// Matches counts results with a positive score.
func Matches(results []ScoredDoc) int {
	n := 0
	for _, r := range results {
		if r.Score > 0 {
			n++
		}
	}
	return n
}
