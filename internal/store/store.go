// Package store provides the case retrieval backends. The Postgres store is
// the production backend; Memory (bleve) backs development and tests.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/caseflowhq/casechat/internal/chatbot"
)

// Store is the Postgres-backed case store.
type Store struct {
	DB *sql.DB
}

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &Store{DB: db}, nil
}

func (s *Store) Close() error { return s.DB.Close() }

// groupableFields whitelists the columns grouping and equality filters may
// reference; anything else is rejected before reaching SQL.
var groupableFields = map[string]bool{
	"theme":      true,
	"brand":      true,
	"sentiment":  true,
	"case_type":  true,
	"case_topic": true,
	"channel":    true,
	"outcome":    true,
	"language":   true,
	"country":    true,
}

const caseColumns = `id, case_number, summary, full_conversation, subject, description,
	created_at, channel, brand, theme, outcome, sentiment, language, country,
	message_count, case_type, case_topic`

func scanCase(scanner interface{ Scan(...interface{}) error }) (chatbot.Case, error) {
	var c chatbot.Case
	err := scanner.Scan(
		&c.ID, &c.CaseNumber, &c.Summary, &c.FullConversation, &c.Subject, &c.Description,
		&c.CreatedAt, &c.Channel, &c.Brand, &c.Theme, &c.Outcome, &c.Sentiment, &c.Language,
		&c.Country, &c.MessageCount, &c.CaseType, &c.CaseTopic,
	)
	return c, err
}

// ByCaseNumber returns the case with the given number, or (nil, nil) when no
// such case exists.
func (s *Store) ByCaseNumber(ctx context.Context, n int) (*chatbot.Case, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM cases WHERE case_number=$1`, n)
	c, err := scanCase(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Search runs a ranked full-text search constrained by filters. An empty
// query degrades to a filtered listing ordered by recency.
func (s *Store) Search(ctx context.Context, query string, limit int, f chatbot.SearchFilters) ([]chatbot.Case, error) {
	if limit <= 0 {
		limit = 10
	}
	var (
		conds []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	order := "created_at DESC"
	if strings.TrimSpace(query) != "" {
		p := arg(query)
		conds = append(conds, fmt.Sprintf("search_vector @@ plainto_tsquery('english', %s)", p))
		order = fmt.Sprintf("ts_rank(search_vector, plainto_tsquery('english', %s)) DESC, created_at DESC", p)
	}
	if f.Theme != "" {
		conds = append(conds, "theme = "+arg(f.Theme))
	}
	if len(f.Brands) > 0 {
		conds = append(conds, "brand = ANY("+arg(pq.Array(f.Brands))+")")
	}
	if f.DateStart != "" {
		conds = append(conds, "created_at >= "+arg(f.DateStart))
	}
	if f.DateEnd != "" {
		// Dates are ISO strings compared lexically; padding the end bound
		// past any time suffix keeps the range inclusive of the whole day.
		conds = append(conds, "created_at <= "+arg(f.DateEnd+"~"))
	}

	q := `SELECT ` + caseColumns + ` FROM cases`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY " + order + " LIMIT " + arg(limit)

	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []chatbot.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CountGroupedBy returns the number of cases per distinct value of field.
func (s *Store) CountGroupedBy(ctx context.Context, field string) (map[string]int, error) {
	if !groupableFields[field] {
		return nil, fmt.Errorf("cannot group by field %q", field)
	}
	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf(
		`SELECT COALESCE(NULLIF(%s, ''), 'unknown'), COUNT(*) FROM cases GROUP BY 1`, field))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[string]int)
	for rows.Next() {
		var k string
		var n int
		if err := rows.Scan(&k, &n); err != nil {
			return nil, err
		}
		counts[k] = n
	}
	return counts, rows.Err()
}

// FilterAndCount applies equality filters, groups by a field, and optionally
// keeps only the topN largest groups.
func (s *Store) FilterAndCount(ctx context.Context, groupBy string, filters map[string]string, topN int) (map[string]int, error) {
	if !groupableFields[groupBy] {
		return nil, fmt.Errorf("cannot group by field %q", groupBy)
	}
	conds, args, err := equalityConds(filters)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`SELECT COALESCE(NULLIF(%s, ''), 'unknown'), COUNT(*) FROM cases`, groupBy)
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " GROUP BY 1 ORDER BY 2 DESC"
	if topN > 0 {
		args = append(args, topN)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[string]int)
	for rows.Next() {
		var k string
		var n int
		if err := rows.Scan(&k, &n); err != nil {
			return nil, err
		}
		counts[k] = n
	}
	return counts, rows.Err()
}

// FilteredCases returns up to limit cases matching equality filters, newest
// first.
func (s *Store) FilteredCases(ctx context.Context, filters map[string]string, limit int) ([]chatbot.Case, error) {
	if limit <= 0 {
		limit = 10
	}
	conds, args, err := equalityConds(filters)
	if err != nil {
		return nil, err
	}
	q := `SELECT ` + caseColumns + ` FROM cases`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, limit)
	q += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []chatbot.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func equalityConds(filters map[string]string) ([]string, []interface{}, error) {
	var conds []string
	var args []interface{}
	for field, value := range filters {
		if !groupableFields[field] {
			return nil, nil, fmt.Errorf("cannot filter by field %q", field)
		}
		args = append(args, value)
		conds = append(conds, fmt.Sprintf("%s = $%d", field, len(args)))
	}
	return conds, args, nil
}

func (s *Store) CaseCount(ctx context.Context) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM cases`).Scan(&n)
	return n, err
}

// DateRange returns the earliest and latest case dates, empty when the
// table has no dated cases.
func (s *Store) DateRange(ctx context.Context) (string, string, error) {
	var start, end sql.NullString
	err := s.DB.QueryRowContext(ctx,
		`SELECT MIN(created_at), MAX(created_at) FROM cases WHERE created_at <> ''`).Scan(&start, &end)
	if err != nil {
		return "", "", err
	}
	return start.String, end.String, nil
}

func (s *Store) AllThemes(ctx context.Context) ([]string, error) {
	return s.distinct(ctx, "theme")
}

func (s *Store) AllBrands(ctx context.Context) ([]string, error) {
	return s.distinct(ctx, "brand")
}

func (s *Store) distinct(ctx context.Context, field string) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf(
		`SELECT DISTINCT %s FROM cases WHERE %s <> '' ORDER BY 1`, field, field))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// UpsertCase inserts or replaces a case by case number. Records without a
// case number are always inserted under a fresh ID.
func (s *Store) UpsertCase(ctx context.Context, c chatbot.Case) (string, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO cases (`+caseColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		ON CONFLICT (case_number) WHERE case_number <> 0 DO UPDATE SET
			summary=EXCLUDED.summary,
			full_conversation=EXCLUDED.full_conversation,
			subject=EXCLUDED.subject,
			description=EXCLUDED.description,
			created_at=EXCLUDED.created_at,
			channel=EXCLUDED.channel,
			brand=EXCLUDED.brand,
			theme=EXCLUDED.theme,
			outcome=EXCLUDED.outcome,
			sentiment=EXCLUDED.sentiment,
			language=EXCLUDED.language,
			country=EXCLUDED.country,
			message_count=EXCLUDED.message_count,
			case_type=EXCLUDED.case_type,
			case_topic=EXCLUDED.case_topic`,
		c.ID, c.CaseNumber, c.Summary, c.FullConversation, c.Subject, c.Description,
		c.CreatedAt, c.Channel, c.Brand, c.Theme, c.Outcome, c.Sentiment, c.Language,
		c.Country, c.MessageCount, c.CaseType, c.CaseTopic)
	if err != nil {
		return "", fmt.Errorf("upserting case %d: %w", c.CaseNumber, err)
	}
	return c.ID, nil
}

// CreateUser stores a user's bcrypt hash for the auth endpoints.
func (s *Store) CreateUser(ctx context.Context, email, hash string) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash) VALUES ($1,$2,$3)`,
		uuid.NewString(), email, hash)
	return err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (id string, hash string, err error) {
	err = s.DB.QueryRowContext(ctx,
		`SELECT id, password_hash FROM users WHERE email=$1`, email).Scan(&id, &hash)
	return
}
