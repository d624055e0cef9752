package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/sammcj/auditor/translator"
	"github.com/sammcj/auditor/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixtures = []Transaction{
	{ID: "TX1", Date: "2008-01-15", Employee: "Michael Scott", Role: "Regional Manager", Description: "Serenity by Jan candles", Amount: 1200, Category: "Personal Expenses", Department: "Management"},
	{ID: "TX2", Date: "2008-02-03", Employee: "Michael Scott", Role: "Regional Manager", Description: "Printer paper", Amount: 80.5, Category: "Office Supplies", Department: "Management"},
	{ID: "TX3", Date: "2008-03-22", Employee: "Ryan Howard", Role: "Temp", Description: "WUPHF launch party", Amount: 650, Category: "Entertainment", Department: "Sales"},
	{ID: "TX4", Date: "2008-04-10", Employee: "Dwight Schrute", Role: "Assistant to the Regional Manager", Description: "Beet seeds", Amount: 45, Category: "Office Supplies", Department: "Sales"},
}

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("sqlite3", filepath.Join(t.TempDir(), "tx.db"), "transactions", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.ReplaceTransactions(context.Background(), fixtures))
	return s
}

func prepare(t *testing.T, sql string) translator.StructuredQuery {
	t.Helper()
	tr := translator.New(nil, translator.Options{Table: "transactions", DefaultLimit: 2}, zerolog.Nop())
	q, err := tr.Prepare(sql, "test")
	require.NoError(t, err)
	return q
}

func TestVerifySchema(t *testing.T) {
	ctx := context.Background()
	s, err := Open("sqlite3", filepath.Join(t.TempDir(), "empty.db"), "transactions", zerolog.Nop())
	require.NoError(t, err)
	defer s.Close()

	err = s.VerifySchema(ctx)
	require.ErrorIs(t, err, types.ErrInvalidConfig)
	assert.Contains(t, err.Error(), "does not exist")

	_, err = s.db.Exec("CREATE TABLE transactions (id TEXT, date TEXT, employee TEXT)")
	require.NoError(t, err)
	err = s.VerifySchema(ctx)
	require.ErrorIs(t, err, types.ErrInvalidConfig)
	assert.Contains(t, err.Error(), "amount")

	require.NoError(t, newStore(t).VerifySchema(ctx))
}

func TestExecuteRows(t *testing.T) {
	s := newStore(t)
	rows, err := s.Execute(context.Background(), prepare(t, "SELECT * FROM transactions WHERE employee = 'Michael Scott' ORDER BY id"))
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, ColumnNames(), rows[0].Columns)
	tx, ok := rows[0].Transaction()
	require.True(t, ok)
	assert.Equal(t, fixtures[0], tx)

	v, ok := rows[1].Get("AMOUNT")
	require.True(t, ok)
	assert.Equal(t, 80.5, v)
	assert.Equal(t, "TX2", rows[1].Map()["id"])
}

func TestExecuteAppliesBound(t *testing.T) {
	s := newStore(t)
	q := prepare(t, "SELECT * FROM transactions ORDER BY id")
	require.True(t, q.BoundAppended())

	rows, err := s.Execute(context.Background(), q)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	n, err := s.Count(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, len(fixtures), n)
}

func TestCountWithTrailingComment(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"line comment", "SELECT * FROM transactions WHERE amount > 500 -- over the approval threshold", 2},
		{"block comment", "SELECT * FROM transactions WHERE category = 'Office Supplies' /* supplies only */", 2},
		{"no comment", "SELECT * FROM transactions WHERE employee = 'Michael Scott'", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			q := prepare(t, tt.query)

			rows, err := s.Execute(context.Background(), q)
			require.NoError(t, err)
			assert.Len(t, rows, tt.want)

			n, err := s.Count(context.Background(), q)
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
		})
	}
}

func TestExecuteAggregate(t *testing.T) {
	s := newStore(t)
	rows, err := s.Execute(context.Background(), prepare(t, "SELECT SUM(amount) AS total FROM transactions WHERE employee = 'Michael Scott'"))
	require.NoError(t, err)
	require.Len(t, rows, 1)

	total, ok := rows[0].Get("total")
	require.True(t, ok)
	assert.InDelta(t, 1280.5, total, 0.001)
	_, isTx := rows[0].Transaction()
	assert.False(t, isTx)
}

func TestExecuteErrors(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.Execute(ctx, translator.StructuredQuery{})
	require.ErrorIs(t, err, types.ErrQueryExecution)

	q := prepare(t, "SELECT missing_column FROM transactions")
	_, err = s.Execute(ctx, q)
	require.ErrorIs(t, err, types.ErrQueryExecution)

	var qerr *types.QueryExecutionError
	require.True(t, errors.As(err, &qerr))
	assert.Equal(t, q.SQL(), qerr.Query)
	assert.Contains(t, err.Error(), "missing_column")
}

func TestDescribe(t *testing.T) {
	d := Describe("transactions")
	assert.Contains(t, d, "Table transactions:")
	for _, c := range Columns {
		assert.Contains(t, d, c.Name)
	}
}
