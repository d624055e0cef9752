package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/sammcj/auditor/store"
)

// headerAliases maps accepted CSV headers onto transaction columns. The
// Portuguese names are the headers of the bank export.
var headerAliases = map[string]string{
	"id":             "id",
	"id_transacao":   "id",
	"transaction_id": "id",
	"date":           "date",
	"data":           "date",
	"employee":       "employee",
	"funcionario":    "employee",
	"role":           "role",
	"cargo":          "role",
	"description":    "description",
	"descricao":      "description",
	"amount":         "amount",
	"valor":          "amount",
	"category":       "category",
	"categoria":      "category",
	"department":     "department",
	"departamento":   "department",
}

// ReadTransactions parses a transaction CSV export with a header row
func ReadTransactions(r io.Reader) ([]store.Transaction, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("transaction file is empty")
		}
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	index := make(map[string]int)
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if col, ok := headerAliases[name]; ok {
			index[col] = i
		}
	}
	var missing []string
	for _, col := range store.ColumnNames() {
		if _, ok := index[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("transaction file is missing columns: %s", strings.Join(missing, ", "))
	}

	var txs []store.Transaction
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		field := func(col string) string {
			return strings.TrimSpace(record[index[col]])
		}
		amount, err := strconv.ParseFloat(field("amount"), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid amount %q: %w", line, field("amount"), err)
		}

		txs = append(txs, store.Transaction{
			ID:          field("id"),
			Date:        field("date"),
			Employee:    field("employee"),
			Role:        field("role"),
			Description: field("description"),
			Amount:      amount,
			Category:    field("category"),
			Department:  field("department"),
		})
	}
	return txs, nil
}
