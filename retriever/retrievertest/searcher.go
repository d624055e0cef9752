// Package retrievertest provides an in-memory Searcher with deterministic
// keyword-overlap scoring.
package retrievertest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/sammcj/auditor/retriever"
)

// Searcher scores each stored fragment by the fraction of query words it contains
type Searcher struct {
	mu        sync.Mutex
	fragments []retriever.Fragment
	queries   []string
	Err       error
}

// New returns a searcher holding the given fragments
func New(fragments ...retriever.Fragment) *Searcher {
	s := &Searcher{}
	for _, f := range fragments {
		s.Add(f.Source, f.Text)
	}
	return s
}

// Add stores a fragment under source
func (s *Searcher) Add(source, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fragments = append(s.fragments, retriever.Fragment{
		ID:     int64(len(s.fragments) + 1),
		Source: source,
		Text:   text,
	})
}

// Queries returns every query text seen so far
func (s *Searcher) Queries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.queries...)
}

// Search implements retriever.Searcher
func (s *Searcher) Search(ctx context.Context, text string, k int) ([]retriever.Fragment, error) {
	return s.search(text, "", k)
}

// SearchSource implements retriever.Searcher
func (s *Searcher) SearchSource(ctx context.Context, text, source string, k int) ([]retriever.Fragment, error) {
	return s.search(text, source, k)
}

func (s *Searcher) search(text, source string, k int) ([]retriever.Fragment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, text)
	if s.Err != nil {
		return nil, s.Err
	}
	if k <= 0 {
		return nil, nil
	}

	words := tokens(text)
	var scored []retriever.Fragment
	for _, f := range s.fragments {
		if source != "" && f.Source != source {
			continue
		}
		f.Score = overlap(words, tokens(f.Text))
		scored = append(scored, f)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

func tokens(text string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		out[w] = true
	}
	return out
}

func overlap(query, doc map[string]bool) float64 {
	if len(query) == 0 {
		return 0
	}
	hits := 0
	for w := range query {
		if doc[w] {
			hits++
		}
	}
	return float64(hits) / float64(len(query))
}
