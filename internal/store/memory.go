package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/blevesearch/bleve"

	"github.com/caseflowhq/casechat/internal/chatbot"
)

// Memory is an in-memory case store backed by a bleve index. It serves
// development, the CLI, and tests; the retrieval contract is identical to
// the Postgres store.
type Memory struct {
	mu    sync.RWMutex
	index bleve.Index
	cases map[string]chatbot.Case
	order []string
}

// NewMemory creates an empty in-memory store.
func NewMemory() (*Memory, error) {
	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("creating bleve index: %w", err)
	}
	return &Memory{
		index: index,
		cases: make(map[string]chatbot.Case),
	}, nil
}

// indexedCase is the searchable projection of a case.
type indexedCase struct {
	Summary          string `json:"summary"`
	FullConversation string `json:"full_conversation"`
	Subject          string `json:"subject"`
	Description      string `json:"description"`
}

// Add indexes a case. The record ID must be unique.
func (m *Memory) Add(c chatbot.Case) error {
	if c.ID == "" {
		c.ID = fmt.Sprintf("case-%d", c.CaseNumber)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cases[c.ID]; !ok {
		m.order = append(m.order, c.ID)
	}
	m.cases[c.ID] = c
	return m.index.Index(c.ID, indexedCase{
		Summary:          c.Summary,
		FullConversation: c.FullConversation,
		Subject:          c.Subject,
		Description:      c.Description,
	})
}

func (m *Memory) ByCaseNumber(_ context.Context, n int) (*chatbot.Case, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, id := range m.order {
		if c := m.cases[id]; c.CaseNumber == n {
			out := c
			return &out, nil
		}
	}
	return nil, nil
}

func matchesFilters(c chatbot.Case, f chatbot.SearchFilters) bool {
	if f.Theme != "" && c.Theme != f.Theme {
		return false
	}
	if len(f.Brands) > 0 {
		found := false
		for _, b := range f.Brands {
			if c.Brand == b {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.DateStart != "" && c.CreatedAt < f.DateStart {
		return false
	}
	// Lexical compare; the tilde sorts after any time suffix.
	if f.DateEnd != "" && c.CreatedAt > f.DateEnd+"~" {
		return false
	}
	return true
}

// Search ranks by bleve match score, then applies the filters. An empty
// query lists by insertion order.
func (m *Memory) Search(_ context.Context, query string, limit int, f chatbot.SearchFilters) ([]chatbot.Case, error) {
	if limit <= 0 {
		limit = 10
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var candidates []string
	if query == "" {
		candidates = m.order
	} else {
		q := bleve.NewMatchQuery(query)
		req := bleve.NewSearchRequestOptions(q, len(m.order), 0, false)
		res, err := m.index.Search(req)
		if err != nil {
			return nil, fmt.Errorf("searching index: %w", err)
		}
		for _, hit := range res.Hits {
			candidates = append(candidates, hit.ID)
		}
	}

	var out []chatbot.Case
	for _, id := range candidates {
		c, ok := m.cases[id]
		if !ok || !matchesFilters(c, f) {
			continue
		}
		out = append(out, c)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) CountGroupedBy(_ context.Context, field string) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[string]int)
	for _, c := range m.cases {
		v, err := fieldValue(c, field)
		if err != nil {
			return nil, err
		}
		if v == "" {
			v = "unknown"
		}
		counts[v]++
	}
	return counts, nil
}

func (m *Memory) FilterAndCount(_ context.Context, groupBy string, filters map[string]string, topN int) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[string]int)
	for _, c := range m.cases {
		match, err := matchesEquality(c, filters)
		if err != nil {
			return nil, err
		}
		if !match {
			continue
		}
		v, err := fieldValue(c, groupBy)
		if err != nil {
			return nil, err
		}
		if v == "" {
			v = "unknown"
		}
		counts[v]++
	}
	if topN > 0 && len(counts) > topN {
		type kv struct {
			k string
			n int
		}
		entries := make([]kv, 0, len(counts))
		for k, n := range counts {
			entries = append(entries, kv{k, n})
		}
		sort.Slice(entries, func(i, j int) bool {
			if entries[i].n == entries[j].n {
				return entries[i].k < entries[j].k
			}
			return entries[i].n > entries[j].n
		})
		top := make(map[string]int, topN)
		for _, e := range entries[:topN] {
			top[e.k] = e.n
		}
		counts = top
	}
	return counts, nil
}

func (m *Memory) FilteredCases(_ context.Context, filters map[string]string, limit int) ([]chatbot.Case, error) {
	if limit <= 0 {
		limit = 10
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []chatbot.Case
	for _, id := range m.order {
		c := m.cases[id]
		match, err := matchesEquality(c, filters)
		if err != nil {
			return nil, err
		}
		if !match {
			continue
		}
		out = append(out, c)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) CaseCount(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.cases), nil
}

// DateRange returns the earliest and latest case dates, empty when no
// indexed case carries a date.
func (m *Memory) DateRange(_ context.Context) (string, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var start, end string
	for _, c := range m.cases {
		if c.CreatedAt == "" {
			continue
		}
		if start == "" || c.CreatedAt < start {
			start = c.CreatedAt
		}
		if c.CreatedAt > end {
			end = c.CreatedAt
		}
	}
	return start, end, nil
}

func (m *Memory) AllThemes(ctx context.Context) ([]string, error) {
	return m.distinct("theme")
}

func (m *Memory) AllBrands(ctx context.Context) ([]string, error) {
	return m.distinct("brand")
}

func (m *Memory) distinct(field string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]bool)
	for _, c := range m.cases {
		v, err := fieldValue(c, field)
		if err != nil {
			return nil, err
		}
		if v != "" {
			seen[v] = true
		}
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out, nil
}

func matchesEquality(c chatbot.Case, filters map[string]string) (bool, error) {
	for field, want := range filters {
		v, err := fieldValue(c, field)
		if err != nil {
			return false, err
		}
		if v != want {
			return false, nil
		}
	}
	return true, nil
}

func fieldValue(c chatbot.Case, field string) (string, error) {
	switch field {
	case "theme":
		return c.Theme, nil
	case "brand":
		return c.Brand, nil
	case "sentiment":
		return c.Sentiment, nil
	case "case_type":
		return c.CaseType, nil
	case "case_topic":
		return c.CaseTopic, nil
	case "channel":
		return c.Channel, nil
	case "outcome":
		return c.Outcome, nil
	case "language":
		return c.Language, nil
	case "country":
		return c.Country, nil
	default:
		return "", fmt.Errorf("cannot group by field %q", field)
	}
}
