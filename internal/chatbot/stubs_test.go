package chatbot

import (
	"context"
	"errors"
	"strings"
)

var errBoom = errors.New("boom")

// stubProvider returns a canned completion, or cycles through responses
// when more than one is set.
type stubProvider struct {
	response  string
	responses []string
	err       error
	calls     int
	lastSys   string
	lastUser  string
}

func (p *stubProvider) Complete(_ context.Context, system string, turns []Message, _ int) (string, error) {
	p.calls++
	p.lastSys = system
	if len(turns) > 0 {
		p.lastUser = turns[len(turns)-1].Content
	}
	if p.err != nil {
		return "", p.err
	}
	if len(p.responses) > 0 {
		r := p.responses[0]
		if len(p.responses) > 1 {
			p.responses = p.responses[1:]
		}
		return r, nil
	}
	return p.response, nil
}

// stubStore serves canned cases and records the filters it was asked with.
type stubStore struct {
	cases       []Case
	themes      []string
	brands      []string
	counts      map[string]int
	searchErr   error
	countErr    error
	lastQuery   string
	lastLimit   int
	lastFilters SearchFilters
	lastGroupBy string
}

func (s *stubStore) ByCaseNumber(_ context.Context, n int) (*Case, error) {
	for i := range s.cases {
		if s.cases[i].CaseNumber == n {
			c := s.cases[i]
			return &c, nil
		}
	}
	return nil, nil
}

func (s *stubStore) Search(_ context.Context, query string, limit int, f SearchFilters) ([]Case, error) {
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	s.lastQuery = query
	s.lastLimit = limit
	s.lastFilters = f
	var out []Case
	for _, c := range s.cases {
		if f.Theme != "" && c.Theme != f.Theme {
			continue
		}
		out = append(out, c)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *stubStore) CountGroupedBy(_ context.Context, field string) (map[string]int, error) {
	if s.countErr != nil {
		return nil, s.countErr
	}
	s.lastGroupBy = field
	return s.counts, nil
}

func (s *stubStore) FilterAndCount(_ context.Context, groupBy string, filters map[string]string, topN int) (map[string]int, error) {
	if s.countErr != nil {
		return nil, s.countErr
	}
	s.lastGroupBy = groupBy
	return s.counts, nil
}

func (s *stubStore) FilteredCases(_ context.Context, filters map[string]string, limit int) ([]Case, error) {
	var out []Case
	for _, c := range s.cases {
		if v, ok := filters["theme"]; ok && !strings.EqualFold(c.Theme, v) {
			continue
		}
		if v, ok := filters["brand"]; ok && !strings.EqualFold(c.Brand, v) {
			continue
		}
		out = append(out, c)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *stubStore) CaseCount(_ context.Context) (int, error) {
	return len(s.cases), nil
}

func (s *stubStore) AllThemes(_ context.Context) ([]string, error) { return s.themes, nil }
func (s *stubStore) AllBrands(_ context.Context) ([]string, error) { return s.brands, nil }
