package store

import (
	"fmt"
	"strings"
)

// Column describes one column of the transaction table
type Column struct {
	Name        string
	Type        string
	Description string
}

// Columns is the fixed layout of the transaction table, in order
var Columns = []Column{
	{Name: "id", Type: "TEXT", Description: "transaction identifier"},
	{Name: "date", Type: "TEXT", Description: "transaction date as YYYY-MM-DD"},
	{Name: "employee", Type: "TEXT", Description: "full name of the employee who made the expense"},
	{Name: "role", Type: "TEXT", Description: "job title of the employee"},
	{Name: "description", Type: "TEXT", Description: "free-text description of the purchase"},
	{Name: "amount", Type: "REAL", Description: "amount spent in dollars"},
	{Name: "category", Type: "TEXT", Description: "expense category"},
	{Name: "department", Type: "TEXT", Description: "department charged"},
}

// ColumnNames returns the column names in table order
func ColumnNames() []string {
	names := make([]string, len(Columns))
	for i, c := range Columns {
		names[i] = c.Name
	}
	return names
}

// Describe renders the table layout for query generation prompts
func Describe(table string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Table %s:\n", table)
	for _, col := range Columns {
		fmt.Fprintf(&b, "  - %s (%s): %s\n", col.Name, col.Type, col.Description)
	}
	return b.String()
}

// Transaction is one row of the transaction table
type Transaction struct {
	ID          string  `json:"id"`
	Date        string  `json:"date"`
	Employee    string  `json:"employee"`
	Role        string  `json:"role"`
	Description string  `json:"description"`
	Amount      float64 `json:"amount"`
	Category    string  `json:"category"`
	Department  string  `json:"department"`
}

func (t Transaction) values() []interface{} {
	return []interface{}{t.ID, t.Date, t.Employee, t.Role, t.Description, t.Amount, t.Category, t.Department}
}
