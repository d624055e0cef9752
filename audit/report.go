package audit

import (
	"encoding/json"
	"fmt"

	"github.com/sammcj/auditor/retriever"
	"github.com/sammcj/auditor/store"
)

// Status is the outcome of an audit procedure
type Status string

const (
	StatusViolations  Status = "violations_found"
	StatusNoViolation Status = "no_violation"
	StatusConfirmed   Status = "confirmed"
	StatusUnconfirmed Status = "unconfirmed"
	StatusNoEvidence  Status = "no_evidence"
	StatusFailed      Status = "failed"
)

// NoViolationMessage is the summary of a policy audit that matched no transaction
const NoViolationMessage = "No policy violation found."

// Finding pairs a transaction with the fragments that make it suspicious
type Finding struct {
	Transaction store.Transaction    `json:"transaction"`
	Fragments   []retriever.Fragment `json:"fragments"`
	Verdict     string               `json:"verdict"`
}

// Report is the result of one audit run. LastQuery and LastContext are always
// present so a failed run shows what was attempted.
type Report struct {
	Procedure    string    `json:"procedure"`
	Status       Status    `json:"status"`
	Summary      string    `json:"summary"`
	Findings     []Finding `json:"findings,omitempty"`
	TotalMatches int       `json:"total_matches"`
	Analysis     string    `json:"analysis,omitempty"`
	LastQuery    string    `json:"last_query"`
	LastContext  []string  `json:"last_context"`
	FailedStage  string    `json:"failed_stage,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// Failed reports whether a stage failed
func (r *Report) Failed() bool {
	return r.Status == StatusFailed
}

// String renders the report as indented JSON for the model
func (r *Report) String() string {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Sprintf("%s: %s (%s)", r.Procedure, r.Summary, r.Status)
	}
	return string(data)
}

func fragmentTexts(fragments []retriever.Fragment) []string {
	texts := make([]string, len(fragments))
	for i, f := range fragments {
		texts[i] = f.Text
	}
	return texts
}
