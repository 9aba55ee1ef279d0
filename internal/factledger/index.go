package factledger

import (
	"fmt"

	"github.com/blevesearch/bleve/v2"
)

// Index is an optional full-text index over solution entries, a first-pass
// filter FindSimilar consults ahead of its bag-of-tokens scan once the
// ledger grows too large to scan linearly.
type Index struct {
	idx bleve.Index
}

type indexedSolution struct {
	ID      string `json:"id"`
	Problem string `json:"problem"`
}

// NewIndex builds an in-memory bleve index from the ledger's current
// solution entries.
func NewIndex(l *Ledger) (*Index, error) {
	l.mu.Lock()
	entries := make([]Entry, len(l.entries))
	copy(entries, l.entries)
	l.mu.Unlock()

	return buildIndex(entries)
}

// buildIndex indexes entries without touching the ledger's lock, so it can
// be called both from NewIndex (which copies entries under lock first) and
// from ensureIndexLocked (which already holds l.mu).
func buildIndex(entries []Entry) (*Index, error) {
	mapping := bleve.NewIndexMapping()
	idx, err := bleve.NewMemOnly(mapping)
	if err != nil {
		return nil, fmt.Errorf("failed to build solution index: %w", err)
	}

	for _, e := range entries {
		if e.Kind != KindSolution {
			continue
		}
		if err := idx.Index(e.ID, indexedSolution{ID: e.ID, Problem: e.Problem}); err != nil {
			return nil, fmt.Errorf("failed to index solution %s: %w", e.ID, err)
		}
	}
	return &Index{idx: idx}, nil
}

// Search returns solution entry ids ranked by full-text relevance to query.
func (ix *Index) Search(query string, limit int) ([]string, error) {
	q := bleve.NewMatchQuery(query)
	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	res, err := ix.idx.Search(req)
	if err != nil {
		return nil, fmt.Errorf("solution search failed: %w", err)
	}
	ids := make([]string, 0, len(res.Hits))
	for _, hit := range res.Hits {
		ids = append(ids, hit.ID)
	}
	return ids, nil
}

// Close releases index resources.
func (ix *Index) Close() error {
	return ix.idx.Close()
}
