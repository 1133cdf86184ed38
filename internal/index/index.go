// Package index maintains per-knowledge-base inverted indexes with BM25
// scoring over ingested chunks. Indexes live in memory and are rebuilt from
// the chunk store on startup.
package index

import (
	"math"
	"sort"
	"sync"
)

// BM25 constants. k1 controls term-frequency saturation, b controls document
// length normalization.
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// Hit is a single lexical search result.
type Hit struct {
	ChunkID string
	Score   float64
}

// posting records term occurrences for one chunk.
type posting struct {
	chunkID string
	freq    int
}

// kbIndex holds the inverted index for a single knowledge base.
type kbIndex struct {
	postings  map[string][]posting // term -> postings, append order
	docLen    map[string]int       // chunkID -> token count
	totalLen  int
}

func newKBIndex() *kbIndex {
	return &kbIndex{
		postings: make(map[string][]posting),
		docLen:   make(map[string]int),
	}
}

// Index is a concurrency-safe collection of per-knowledge-base inverted
// indexes. Reads run in parallel; writes take the exclusive lock.
type Index struct {
	mu  sync.RWMutex
	kbs map[int]*kbIndex
}

// New creates an empty lexical index.
func New() *Index {
	return &Index{kbs: make(map[int]*kbIndex)}
}

// Put indexes a chunk's text under a knowledge base. Re-putting the same
// chunk id replaces its previous postings.
func (idx *Index) Put(kbID int, chunkID, text string) {
	tokens := Tokenize(text)

	idx.mu.Lock()
	defer idx.mu.Unlock()

	kb, ok := idx.kbs[kbID]
	if !ok {
		kb = newKBIndex()
		idx.kbs[kbID] = kb
	}

	if _, exists := kb.docLen[chunkID]; exists {
		kb.remove(chunkID)
	}

	freq := make(map[string]int, len(tokens))
	for _, token := range tokens {
		freq[token]++
	}
	for term, count := range freq {
		kb.postings[term] = append(kb.postings[term], posting{chunkID: chunkID, freq: count})
	}
	kb.docLen[chunkID] = len(tokens)
	kb.totalLen += len(tokens)
}

// Remove drops a chunk from a knowledge base index. Unknown ids are ignored.
func (idx *Index) Remove(kbID int, chunkID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if kb, ok := idx.kbs[kbID]; ok {
		kb.remove(chunkID)
	}
}

func (kb *kbIndex) remove(chunkID string) {
	length, ok := kb.docLen[chunkID]
	if !ok {
		return
	}
	delete(kb.docLen, chunkID)
	kb.totalLen -= length

	for term, list := range kb.postings {
		for i, p := range list {
			if p.chunkID == chunkID {
				kb.postings[term] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
		if len(kb.postings[term]) == 0 {
			delete(kb.postings, term)
		}
	}
}

// DocCount returns the number of chunks indexed under a knowledge base.
func (idx *Index) DocCount(kbID int) int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if kb, ok := idx.kbs[kbID]; ok {
		return len(kb.docLen)
	}
	return 0
}

// Search scores indexed chunks against the query with BM25 and returns up to
// limit hits sorted by score descending, ties broken by chunk id so identical
// inputs always produce identical orderings.
func (idx *Index) Search(kbID int, query string, limit int) []Hit {
	terms := QueryTokens(query)
	if len(terms) == 0 || limit <= 0 {
		return nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	kb, ok := idx.kbs[kbID]
	if !ok || len(kb.docLen) == 0 {
		return nil
	}

	n := float64(len(kb.docLen))
	avgLen := float64(kb.totalLen) / n

	scores := make(map[string]float64)
	for _, term := range terms {
		list := kb.postings[term]
		if len(list) == 0 {
			continue
		}
		df := float64(len(list))
		idf := math.Log(1 + (n-df+0.5)/(df+0.5))
		for _, p := range list {
			tf := float64(p.freq)
			norm := 1 - bm25B + bm25B*float64(kb.docLen[p.chunkID])/avgLen
			scores[p.chunkID] += idf * tf * (bm25K1 + 1) / (tf + bm25K1*norm)
		}
	}

	if len(scores) == 0 {
		return nil
	}

	hits := make([]Hit, 0, len(scores))
	for chunkID, score := range scores {
		hits = append(hits, Hit{ChunkID: chunkID, Score: score})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})

	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}
