// tools/toolbox.go
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/sammcj/auditor/audit"
	"github.com/sammcj/auditor/retriever"
	"github.com/sammcj/auditor/store"
	"github.com/sammcj/auditor/translator"
	"github.com/sammcj/auditor/types"
)

// Auditor is a composite audit procedure
type Auditor interface {
	Run(ctx context.Context) *audit.Report
}

// Toolbox executes decoded invocations. Every error is turned into a failed
// ToolResult so one broken tool never aborts the request.
type Toolbox struct {
	searcher   retriever.Searcher
	translator audit.QueryTranslator
	executor   store.Executor
	policy     Auditor
	cross      Auditor
	sampleSize int
	logger     zerolog.Logger
}

// NewToolbox wires the tool implementations
func NewToolbox(searcher retriever.Searcher, tr audit.QueryTranslator, executor store.Executor, policy, cross Auditor, sampleSize int, logger zerolog.Logger) *Toolbox {
	return &Toolbox{
		searcher:   searcher,
		translator: tr,
		executor:   executor,
		policy:     policy,
		cross:      cross,
		sampleSize: sampleSize,
		logger:     logger.With().Str("component", "toolbox").Logger(),
	}
}

// LookupResult is the structured outcome of structured_lookup
type LookupResult struct {
	Question     string                   `json:"question"`
	Query        string                   `json:"query"`
	Aggregate    bool                     `json:"aggregate"`
	TotalMatches int                      `json:"total_matches"`
	Rows         []map[string]interface{} `json:"rows"`
}

// Run executes one invocation
func (tb *Toolbox) Run(ctx context.Context, inv Invocation) types.ToolResult {
	log := tb.logger.With().Str("tool", inv.ToolName()).Str("call_id", inv.CallID()).Logger()
	log.Info().Msg("executing tool")

	var (
		data interface{}
		err  error
	)
	switch v := inv.(type) {
	case SemanticLookup:
		data, err = tb.semanticLookup(ctx, v)
	case StructuredLookup:
		data, err = tb.structuredLookup(ctx, v)
	case RunPolicyAudit:
		data, err = reportResult(tb.policy.Run(ctx))
	case RunCrossSourceAudit:
		data, err = reportResult(tb.cross.Run(ctx))
	case Unknown:
		err = &types.UnknownToolError{Name: v.Name}
	case Malformed:
		err = v.Err
	default:
		err = &types.UnknownToolError{Name: inv.ToolName()}
	}

	if err != nil {
		log.Warn().Err(err).Msg("tool failed")
		content := describeFailure(inv.ToolName(), err)
		if data != nil {
			// partial evidence stays visible to the synthesis step
			content += "\n" + render(data)
		}
		return types.ToolResult{
			ToolName: inv.ToolName(),
			CallID:   inv.CallID(),
			Content:  content,
			Data:     data,
			Failed:   true,
		}
	}

	return types.ToolResult{
		ToolName: inv.ToolName(),
		CallID:   inv.CallID(),
		Content:  render(data),
		Data:     data,
	}
}

func (tb *Toolbox) semanticLookup(ctx context.Context, v SemanticLookup) (interface{}, error) {
	var (
		fragments []retriever.Fragment
		err       error
	)
	if v.Source != "" {
		fragments, err = tb.searcher.SearchSource(ctx, v.Query, v.Source, v.K)
	} else {
		fragments, err = tb.searcher.Search(ctx, v.Query, v.K)
	}
	if err != nil {
		return nil, &types.ToolError{Tool: SemanticLookupName, Message: "search failed", Err: err}
	}
	if fragments == nil {
		fragments = []retriever.Fragment{}
	}
	return fragments, nil
}

func (tb *Toolbox) structuredLookup(ctx context.Context, v StructuredLookup) (interface{}, error) {
	q, err := tb.translator.Translate(ctx, translator.Request{Question: v.Question})
	if err != nil {
		return nil, err
	}

	rows, err := tb.executor.Execute(ctx, q)
	if err != nil {
		return nil, err
	}

	result := &LookupResult{
		Question:     v.Question,
		Query:        q.SQL(),
		Aggregate:    q.Aggregate(),
		TotalMatches: len(rows),
		Rows:         make([]map[string]interface{}, 0, len(rows)),
	}
	if !q.Aggregate() && q.BoundAppended() {
		if n, err := tb.executor.Count(ctx, q); err == nil {
			result.TotalMatches = n
		} else {
			tb.logger.Warn().Err(err).Msg("failed to count matches")
		}
	}

	sample := rows
	if !q.Aggregate() && len(sample) > tb.sampleSize {
		sample = sample[:tb.sampleSize]
	}
	for _, row := range sample {
		result.Rows = append(result.Rows, row.Map())
	}
	return result, nil
}

// reportResult passes the report through and marks failed audits as failed tool results
func reportResult(r *audit.Report) (interface{}, error) {
	if r.Failed() {
		return r, &types.ToolError{Tool: r.Procedure, Message: r.Summary, Err: errors.New(r.Error)}
	}
	return r, nil
}

func describeFailure(tool string, err error) string {
	var unknown *types.UnknownToolError
	if errors.As(err, &unknown) {
		return fmt.Sprintf("tool unavailable: %s is not a registered tool", unknown.Name)
	}

	msg := fmt.Sprintf("%s failed: %v", tool, err)

	var terr *types.TranslationError
	var qerr *types.QueryExecutionError
	switch {
	case errors.As(err, &terr) && terr.Query != "":
		msg += fmt.Sprintf("\nQuery attempted: %s", terr.Query)
	case errors.As(err, &qerr) && qerr.Query != "":
		msg += fmt.Sprintf("\nQuery attempted: %s", qerr.Query)
	}
	return msg
}

func render(data interface{}) string {
	if r, ok := data.(*audit.Report); ok {
		return r.String()
	}
	if fragments, ok := data.([]retriever.Fragment); ok && len(fragments) == 0 {
		return "No matching documents found."
	}
	out, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(out)
}
