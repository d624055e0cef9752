// Package translator turns natural-language questions into validated,
// bounded SQL over the transaction table.
package translator

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
	"github.com/sammcj/auditor/llm"
	"github.com/sammcj/auditor/types"
)

// Options fixes the context every generated query is produced against
type Options struct {
	Table         string
	Schema        string
	Dialect       string
	ReferenceYear int
	DefaultLimit  int
}

// Request is one question to translate. Context carries evidence gathered by
// earlier steps; Rules carries the compliance rule set.
type Request struct {
	Question string
	Context  []string
	Rules    []string
}

// Translator generates SQL with a single model call and validates the result
type Translator struct {
	llm    llm.Completer
	opts   Options
	table  *regexp.Regexp
	logger zerolog.Logger
}

// New creates a translator
func New(completer llm.Completer, opts Options, logger zerolog.Logger) *Translator {
	if opts.Dialect == "" {
		opts.Dialect = "SQLite"
	}
	return &Translator{
		llm:    completer,
		opts:   opts,
		table:  regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(opts.Table) + `\b`),
		logger: logger.With().Str("component", "translator").Logger(),
	}
}

// Translate asks the model for a query answering req and returns it validated and bounded
func (t *Translator) Translate(ctx context.Context, req Request) (StructuredQuery, error) {
	if strings.TrimSpace(req.Question) == "" {
		return StructuredQuery{}, &types.TranslationError{Message: "question is empty"}
	}

	messages := []types.Message{
		{Role: types.RoleSystem, Content: t.instructions(req.Rules)},
		{Role: types.RoleUser, Content: userPrompt(req)},
	}

	resp, err := t.llm.Complete(ctx, messages, nil)
	if err != nil {
		return StructuredQuery{}, &types.TranslationError{Question: req.Question, Message: "query generation failed", Err: err}
	}

	t.logger.Debug().Str("question", req.Question).Str("raw", resp.Content).Msg("model produced query")
	return t.Prepare(resp.Content, req.Question)
}

// Prepare turns raw model output into a StructuredQuery: fences are stripped, the
// query is validated, must reference the transaction table, and gets the default bound.
func (t *Translator) Prepare(raw, question string) (StructuredQuery, error) {
	base := StripFences(raw)
	if base == "" {
		return StructuredQuery{}, &types.TranslationError{Question: question, Message: "model returned an empty query"}
	}

	if err := Validate(base); err != nil {
		t.logger.Warn().Str("query", base).Err(err).Msg("generated query rejected")
		return StructuredQuery{}, &types.TranslationError{Question: question, Query: base, Message: "generated query rejected", Err: err}
	}
	if !t.table.MatchString(base) {
		err := &types.ValidationError{Query: base, Message: fmt.Sprintf("query must read from table %s", t.opts.Table)}
		return StructuredQuery{}, &types.TranslationError{Question: question, Query: base, Message: "generated query rejected", Err: err}
	}

	sql, bounded := EnsureBound(base, t.opts.DefaultLimit)
	q := StructuredQuery{
		sql:       sql,
		base:      base,
		schema:    t.opts.Schema,
		question:  question,
		aggregate: IsAggregate(base),
		bounded:   bounded,
	}
	t.logger.Debug().Str("query", sql).Bool("aggregate", q.aggregate).Bool("bound_appended", bounded).Msg("query prepared")
	return q, nil
}

func (t *Translator) instructions(rules []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You write %s queries for a forensic audit of the table %s.\n\n", t.opts.Dialect, t.opts.Table)
	b.WriteString("Schema:\n")
	b.WriteString(t.opts.Schema)
	b.WriteString("\n\nInstructions:\n")
	fmt.Fprintf(&b, "- All data is from the year %d. Treat %d as the current year.\n", t.opts.ReferenceYear, t.opts.ReferenceYear)
	b.WriteString("- Never use date or time functions such as now(), date('now'), CURRENT_DATE or CURRENT_TIMESTAMP.\n")
	fmt.Fprintf(&b, "- Filter periods with a literal prefix on the date column, for example date LIKE '%d%%' or date LIKE '%d-03%%'.\n", t.opts.ReferenceYear, t.opts.ReferenceYear)
	b.WriteString("- Match employees with employee = '<full name>' when the full name is known, otherwise with LIKE.\n")
	b.WriteString("- Match description and category with LIKE and % wildcards.\n")
	fmt.Fprintf(&b, "- Unless the question asks for a total, count or other aggregate, return at most %d rows with LIMIT %d.\n", t.opts.DefaultLimit, t.opts.DefaultLimit)
	b.WriteString("- Write exactly one SELECT statement. Never modify data.\n")
	b.WriteString("- Output only the SQL query. No explanation, no markdown, no code fences.\n")

	if len(rules) > 0 {
		b.WriteString("\nCompliance rules:\n")
		for _, r := range rules {
			fmt.Fprintf(&b, "- %s\n", r)
		}
	}
	return b.String()
}

func userPrompt(req Request) string {
	if len(req.Context) == 0 {
		return "Question: " + req.Question
	}
	var b strings.Builder
	b.WriteString("Context:\n")
	for _, c := range req.Context {
		b.WriteString(c)
		b.WriteString("\n---\n")
	}
	b.WriteString("\nQuestion: ")
	b.WriteString(req.Question)
	return b.String()
}
