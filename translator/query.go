package translator

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/sammcj/auditor/types"
)

var (
	// Any token that makes a query depend on the wall clock. Checked against
	// the whole text, string literals included, so date('now') is caught.
	forbiddenTimePattern = regexp.MustCompile(`(?i)\b(now|current_date|current_time|current_timestamp|localtime|localtimestamp|sysdate|getdate|unixepoch|clock_timestamp|statement_timestamp|transaction_timestamp|timeofday)\b`)
	// Calls that default to the current moment when the time argument is left out:
	// date(), julianday(), strftime('%Y') and the one-argument age(ts) of PostgreSQL.
	implicitNowPattern = regexp.MustCompile(`(?i)\b(?:(?:date|time|datetime|julianday)\s*\(\s*\)|strftime\s*\(\s*'[^']*'\s*\)|age\s*\(\s*[^,()]*\))`)

	writePattern     = regexp.MustCompile(`(?i)\b(insert|update|delete|drop|alter|create|attach|detach|pragma|vacuum|truncate|grant|revoke|merge)\b`)
	readStartPattern = regexp.MustCompile(`(?i)^\s*(select|with)\b`)
	limitPattern     = regexp.MustCompile(`(?i)\blimit\s+\d+`)
	aggregatePattern = regexp.MustCompile(`(?i)\b(sum|count|avg|min|max|total|group_concat|string_agg)\s*\(|\bgroup\s+by\b`)
	literalPattern   = regexp.MustCompile(`'(?:[^']|'')*'`)
	commentPattern   = regexp.MustCompile(`--[^\n]*|/\*(?s:.*?)\*/`)
	fencePattern     = regexp.MustCompile("(?m)^\\s*```[a-zA-Z]*\\s*$")
)

// StructuredQuery is a generated query that passed validation and carries a row bound.
// Only this package can build one, so holding a non-zero value proves the query was checked.
type StructuredQuery struct {
	sql       string
	base      string
	schema    string
	question  string
	aggregate bool
	bounded   bool
}

// SQL returns the query to execute
func (q StructuredQuery) SQL() string { return q.sql }

// Base returns the query without the bound appended by the translator
func (q StructuredQuery) Base() string { return q.base }

// Schema returns the schema description used to generate the query
func (q StructuredQuery) Schema() string { return q.schema }

// Question returns the natural-language question the query answers
func (q StructuredQuery) Question() string { return q.question }

// Aggregate reports whether the query computes an aggregate
func (q StructuredQuery) Aggregate() bool { return q.aggregate }

// BoundAppended reports whether the translator added the default bound
func (q StructuredQuery) BoundAppended() bool { return q.bounded }

// IsZero reports whether q was never produced by a translator
func (q StructuredQuery) IsZero() bool { return q.sql == "" }

func (q StructuredQuery) String() string { return q.sql }

// StripFences removes markdown code fences and stray backticks around a generated query
func StripFences(raw string) string {
	text := fencePattern.ReplaceAllString(raw, "")
	text = strings.ReplaceAll(text, "```", "")
	text = strings.TrimSpace(text)
	text = strings.Trim(text, "`")
	text = strings.TrimSpace(text)
	for strings.HasSuffix(text, ";") {
		text = strings.TrimSpace(strings.TrimSuffix(text, ";"))
	}
	return text
}

// Validate rejects queries that depend on the current time, write data,
// contain more than one statement or do not start with SELECT or WITH.
func Validate(query string) error {
	if m := forbiddenTimePattern.FindString(query); m != "" {
		return &types.ValidationError{Query: query, Pattern: m, Message: "dynamic date and time functions are not allowed"}
	}
	if m := implicitNowPattern.FindString(query); m != "" {
		return &types.ValidationError{Query: query, Pattern: m, Message: "date and time functions must be given an explicit date"}
	}

	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return &types.ValidationError{Query: query, Message: "query is empty"}
	}
	if !readStartPattern.MatchString(trimmed) {
		return &types.ValidationError{Query: query, Message: "only SELECT queries are allowed"}
	}

	stripped := code(trimmed)
	if m := writePattern.FindString(stripped); m != "" {
		return &types.ValidationError{Query: query, Pattern: m, Message: "only SELECT queries are allowed"}
	}
	if strings.Contains(strings.TrimRight(stripped, "; \n\t"), ";") {
		return &types.ValidationError{Query: query, Message: "multiple statements are not allowed"}
	}
	return nil
}

// IsAggregate reports whether the query computes an aggregate
func IsAggregate(query string) bool {
	return aggregatePattern.MatchString(code(query))
}

// code returns the query with string literals emptied and comments removed
func code(query string) string {
	return commentPattern.ReplaceAllString(literalPattern.ReplaceAllString(query, "''"), "")
}

// EnsureBound appends a LIMIT clause when the query has none and is not an aggregate.
// It reports whether it changed the query; applying it to its own output never appends again.
func EnsureBound(query string, limit int) (string, bool) {
	stripped := code(query)
	if limitPattern.MatchString(stripped) || aggregatePattern.MatchString(stripped) {
		return query, false
	}
	return query + "\nLIMIT " + strconv.Itoa(limit), true
}
