// Package store executes validated queries against the transaction table.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/sammcj/auditor/translator"
	"github.com/sammcj/auditor/types"
)

// Executor runs structured queries. Implementations never retry.
type Executor interface {
	Execute(ctx context.Context, q translator.StructuredQuery) ([]Row, error)
	Count(ctx context.Context, q translator.StructuredQuery) (int, error)
}

// Row is one result row with its column names in query order
type Row struct {
	Columns []string
	Values  []interface{}
}

// Get returns the value of the named column
func (r Row) Get(column string) (interface{}, bool) {
	for i, c := range r.Columns {
		if strings.EqualFold(c, column) {
			return r.Values[i], true
		}
	}
	return nil, false
}

// Map returns the row keyed by column name
func (r Row) Map() map[string]interface{} {
	m := make(map[string]interface{}, len(r.Columns))
	for i, c := range r.Columns {
		m[c] = r.Values[i]
	}
	return m
}

// Transaction maps the row onto a Transaction. It reports false when the row
// does not carry the transaction columns, for example an aggregate result.
func (r Row) Transaction() (Transaction, bool) {
	var t Transaction
	found := 0
	for i, c := range r.Columns {
		v := r.Values[i]
		switch strings.ToLower(c) {
		case "id":
			t.ID = asString(v)
		case "date":
			t.Date = asString(v)
		case "employee":
			t.Employee = asString(v)
		case "role":
			t.Role = asString(v)
		case "description":
			t.Description = asString(v)
		case "amount":
			t.Amount = asFloat(v)
		case "category":
			t.Category = asString(v)
		case "department":
			t.Department = asString(v)
		default:
			continue
		}
		found++
	}
	return t, found > 0 && (t.ID != "" || t.Employee != "")
}

// Store wraps the transaction table
type Store struct {
	db     *sql.DB
	driver string
	table  string
	logger zerolog.Logger
}

// Open connects to the transaction store. driver is sqlite3 or pgx.
func Open(driver, dsn, table string, logger zerolog.Logger) (*Store, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, &types.ConfigError{Field: "database.dsn", Message: "failed to open database", Err: err}
	}
	return &Store{
		db:     db,
		driver: driver,
		table:  table,
		logger: logger.With().Str("component", "store").Str("table", table).Logger(),
	}, nil
}

// Table returns the transaction table name
func (s *Store) Table() string {
	return s.table
}

// Close releases database resources
func (s *Store) Close() error {
	return s.db.Close()
}

// VerifySchema checks that the transaction table exists with every expected column.
// A failure here must stop the caller from serving.
func (s *Store) VerifySchema(ctx context.Context) error {
	columns, err := s.tableColumns(ctx)
	if err != nil {
		return &types.ConfigError{Field: "database", Message: "failed to inspect transaction table", Err: err}
	}
	if len(columns) == 0 {
		return &types.ConfigError{Field: "database.table", Message: fmt.Sprintf("table %s does not exist, run ingestion first", s.table)}
	}

	var missing []string
	for _, c := range Columns {
		if !columns[c.Name] {
			missing = append(missing, c.Name)
		}
	}
	if len(missing) > 0 {
		return &types.ConfigError{Field: "database.table", Message: fmt.Sprintf("table %s is missing columns: %s", s.table, strings.Join(missing, ", "))}
	}

	s.logger.Info().Str("driver", s.driver).Msg("transaction table ready")
	return nil
}

func (s *Store) tableColumns(ctx context.Context) (map[string]bool, error) {
	var rows *sql.Rows
	var err error
	if s.driver == "pgx" {
		rows, err = s.db.QueryContext(ctx, "SELECT column_name FROM information_schema.columns WHERE table_name = $1", s.table)
	} else {
		rows, err = s.db.QueryContext(ctx, "SELECT name FROM pragma_table_info(?)", s.table)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan column info: %w", err)
		}
		columns[strings.ToLower(name)] = true
	}
	return columns, rows.Err()
}

// Execute runs exactly the validated query and returns its rows
func (s *Store) Execute(ctx context.Context, q translator.StructuredQuery) ([]Row, error) {
	if q.IsZero() {
		return nil, &types.QueryExecutionError{Operation: "execute", Message: "refusing to run a query that was not validated"}
	}

	query := q.SQL()
	s.logger.Debug().Str("query", query).Msg("executing query")

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, &types.QueryExecutionError{Operation: "execute", Query: query, Message: "failed to execute query", Err: err}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, &types.QueryExecutionError{Operation: "execute", Query: query, Message: "failed to get columns", Err: err}
	}

	var results []Row
	for rows.Next() {
		values := make([]interface{}, len(columns))
		scanArgs := make([]interface{}, len(columns))
		for i := range values {
			scanArgs[i] = &values[i]
		}
		if err := rows.Scan(scanArgs...); err != nil {
			return nil, &types.QueryExecutionError{Operation: "execute", Query: query, Message: "failed to scan row", Err: err}
		}
		for i, v := range values {
			// []byte is unreadable once serialized for the model
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		results = append(results, Row{Columns: columns, Values: values})
	}
	if err := rows.Err(); err != nil {
		return nil, &types.QueryExecutionError{Operation: "execute", Query: query, Message: "failed to read rows", Err: err}
	}

	s.logger.Debug().Int("rows", len(results)).Msg("query executed")
	return results, nil
}

// Count returns how many rows the query matches before its bound is applied
func (s *Store) Count(ctx context.Context, q translator.StructuredQuery) (int, error) {
	if q.IsZero() {
		return 0, &types.QueryExecutionError{Operation: "count", Message: "refusing to run a query that was not validated"}
	}

	query := fmt.Sprintf("SELECT COUNT(*) FROM (%s\n) AS matches", q.Base())
	var n int
	if err := s.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, &types.QueryExecutionError{Operation: "count", Query: query, Message: "failed to count matches", Err: err}
	}
	return n, nil
}

// ReplaceTransactions recreates the transaction table and loads txs into it in one transaction
func (s *Store) ReplaceTransactions(ctx context.Context, txs []Transaction) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &types.QueryExecutionError{Operation: "load", Message: "failed to begin transaction", Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+s.table); err != nil {
		return &types.QueryExecutionError{Operation: "load", Message: "failed to drop table", Err: err}
	}

	defs := make([]string, len(Columns))
	for i, c := range Columns {
		defs[i] = c.Name + " " + s.columnType(c)
	}
	create := fmt.Sprintf("CREATE TABLE %s (%s)", s.table, strings.Join(defs, ", "))
	if _, err := tx.ExecContext(ctx, create); err != nil {
		return &types.QueryExecutionError{Operation: "load", Query: create, Message: "failed to create table", Err: err}
	}

	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", s.table, strings.Join(ColumnNames(), ", "), s.placeholders(len(Columns)))
	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		return &types.QueryExecutionError{Operation: "load", Query: insert, Message: "failed to prepare insert", Err: err}
	}
	defer stmt.Close()

	for _, t := range txs {
		if _, err := stmt.ExecContext(ctx, t.values()...); err != nil {
			return &types.QueryExecutionError{Operation: "load", Query: insert, Message: fmt.Sprintf("failed to insert transaction %s", t.ID), Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &types.QueryExecutionError{Operation: "load", Message: "failed to commit", Err: err}
	}
	s.logger.Info().Int("rows", len(txs)).Msg("transaction table loaded")
	return nil
}

func (s *Store) columnType(c Column) string {
	if s.driver == "pgx" && c.Type == "REAL" {
		return "DOUBLE PRECISION"
	}
	return c.Type
}

func (s *Store) placeholders(n int) string {
	marks := make([]string, n)
	for i := range marks {
		if s.driver == "pgx" {
			marks[i] = "$" + strconv.Itoa(i+1)
		} else {
			marks[i] = "?"
		}
	}
	return strings.Join(marks, ", ")
}

func asString(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	default:
		return fmt.Sprint(x)
	}
}

func asFloat(v interface{}) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case float32:
		return float64(x)
	case int64:
		return float64(x)
	case int:
		return float64(x)
	case string:
		f, _ := strconv.ParseFloat(x, 64)
		return f
	default:
		return 0
	}
}
