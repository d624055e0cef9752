// Command create-example-db writes the Dunder Mifflin demo data set: the
// transaction CSV, the compliance policy, the e-mail dump and a seeded
// transaction database. Run `auditor ingest` afterwards to build the index.
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/sammcj/auditor/store"
)

var transactions = []store.Transaction{
	{ID: "TX1001", Date: "2008-01-07", Employee: "Michael Scott", Role: "Regional Manager", Description: "Serenity by Jan candles, 40 units", Amount: 1200.00, Category: "Personal Expenses", Department: "Management"},
	{ID: "TX1002", Date: "2008-01-09", Employee: "Pam Beesly", Role: "Receptionist", Description: "Printer paper and toner", Amount: 84.50, Category: "Office Supplies", Department: "Administration"},
	{ID: "TX1003", Date: "2008-01-15", Employee: "Dwight Schrute", Role: "Assistant to the Regional Manager", Description: "Beet farm fertilizer", Amount: 320.00, Category: "Personal Expenses", Department: "Sales"},
	{ID: "TX1004", Date: "2008-02-02", Employee: "Ryan Howard", Role: "Temp", Description: "WUPHF.com server hosting", Amount: 2500.00, Category: "Technology", Department: "Sales"},
	{ID: "TX1005", Date: "2008-02-14", Employee: "Michael Scott", Role: "Regional Manager", Description: "Magic show for the office party", Amount: 80.00, Category: "Entertainment", Department: "Management"},
	{ID: "TX1006", Date: "2008-03-01", Employee: "Jim Halpert", Role: "Sales Representative", Description: "Client lunch at Cugino's", Amount: 65.20, Category: "Meals", Department: "Sales"},
	{ID: "TX1007", Date: "2008-03-18", Employee: "Andy Bernard", Role: "Regional Director in Sales", Description: "Helicopter rental for client tour", Amount: 1800.00, Category: "Helicopters", Department: "Sales"},
	{ID: "TX1008", Date: "2008-04-04", Employee: "Angela Martin", Role: "Senior Accountant", Description: "Cat grooming supplies", Amount: 140.00, Category: "Personal Expenses", Department: "Accounting"},
	{ID: "TX1009", Date: "2008-04-22", Employee: "Oscar Martinez", Role: "Accountant", Description: "Accounting software licence", Amount: 450.00, Category: "Technology", Department: "Accounting"},
	{ID: "TX1010", Date: "2008-05-10", Employee: "Kevin Malone", Role: "Accountant", Description: "Chili ingredients for potluck", Amount: 45.00, Category: "Meals", Department: "Accounting"},
	{ID: "TX1011", Date: "2008-05-30", Employee: "Ryan Howard", Role: "Temp", Description: "WUPHF launch party venue", Amount: 900.00, Category: "Entertainment", Department: "Sales"},
	{ID: "TX1012", Date: "2008-06-12", Employee: "Stanley Hudson", Role: "Sales Representative", Description: "Crossword puzzle books", Amount: 22.00, Category: "Office Supplies", Department: "Sales"},
}

const policy = `DUNDER MIFFLIN PAPER COMPANY - EXPENSE AND COMPLIANCE POLICY (2008)

1. Approval limit
Any single expense with an amount above 500 requires written approval from corporate before reimbursement.

2. Forbidden categories
Company money may not be used for Personal Expenses, Entertainment unrelated to clients, Magic performances or Helicopters.

3. Conflicts of interest
Employees may not fund personal business ventures (for example WUPHF) with company resources.

4. Concealment
Splitting, disguising or hiding an expense from accounting is a severe violation and is treated as fraud.`

const emails = `From: Michael Scott
To: Pam Beesly
Subject: candles
Pam, put the Serenity by Jan candles on the company card. Jan needs the sales and nobody in accounting will notice.

From: Ryan Howard
To: Kelly Kapoor
Subject: WUPHF
Kelly, I billed the WUPHF servers to the sales budget. Once we get funding I will pay it back, probably. Delete this.

From: Andy Bernard
To: Dwight Schrute
Subject: client tour
The helicopter was for the client tour. Technically a client was nearby. Please do not bring it up with corporate.

From: Jim Halpert
To: Dwight Schrute
Subject: lunch
Lunch with the client went well, receipt attached.

From: Angela Martin
To: Oscar Martinez
Subject: grooming
File the grooming supplies under office supplies. Sprinkles deserves it.`

func main() {
	out := flag.String("out", "data", "output directory")
	flag.Parse()

	if err := os.MkdirAll(*out, 0755); err != nil {
		panic(err)
	}

	f, err := os.Create(filepath.Join(*out, "transactions.csv"))
	if err != nil {
		panic(err)
	}
	w := csv.NewWriter(f)
	w.Write(store.ColumnNames())
	for _, tx := range transactions {
		w.Write([]string{tx.ID, tx.Date, tx.Employee, tx.Role, tx.Description,
			strconv.FormatFloat(tx.Amount, 'f', 2, 64), tx.Category, tx.Department})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		panic(err)
	}
	f.Close()

	if err := os.WriteFile(filepath.Join(*out, "compliance_policy.txt"), []byte(policy), 0644); err != nil {
		panic(err)
	}
	if err := os.WriteFile(filepath.Join(*out, "emails.txt"), []byte(emails), 0644); err != nil {
		panic(err)
	}

	st, err := store.Open("sqlite3", filepath.Join(*out, "dunder_mifflin.db"), "transactions", zerolog.Nop())
	if err != nil {
		panic(err)
	}
	defer st.Close()
	if err := st.ReplaceTransactions(context.Background(), transactions); err != nil {
		panic(err)
	}
}
