package tools

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/sammcj/auditor/audit"
	"github.com/sammcj/auditor/llm/llmtest"
	"github.com/sammcj/auditor/retriever"
	"github.com/sammcj/auditor/retriever/retrievertest"
	"github.com/sammcj/auditor/store"
	"github.com/sammcj/auditor/translator"
	"github.com/sammcj/auditor/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAuditor struct {
	report *audit.Report
	runs   int
}

func (s *stubAuditor) Run(ctx context.Context) *audit.Report {
	s.runs++
	return s.report
}

func TestRegistrySpecs(t *testing.T) {
	r, err := NewRegistry(4)
	require.NoError(t, err)

	specs := r.Specs()
	require.Len(t, specs, 4)
	names := make([]string, len(specs))
	for i, s := range specs {
		names[i] = s.Name
		assert.NotEmpty(t, s.Description)
		assert.Equal(t, "object", s.InputSchema.Type)
	}
	assert.Equal(t, []string{SemanticLookupName, StructuredLookupName, PolicyAuditName, CrossSourceAuditName}, names)

	assert.Equal(t, []string{"query"}, specs[0].InputSchema.Required)
	assert.Contains(t, specs[0].InputSchema.Properties, "source")
	assert.Contains(t, specs[0].InputSchema.Properties, "k")
	assert.Equal(t, []string{"question"}, specs[1].InputSchema.Required)
	assert.Empty(t, specs[2].InputSchema.Properties)
}

func TestDecode(t *testing.T) {
	r, err := NewRegistry(4)
	require.NoError(t, err)

	tests := []struct {
		name string
		call types.ToolCall
		want Invocation
	}{
		{
			name: "semantic lookup with default k",
			call: types.NewToolCall("c1", SemanticLookupName, map[string]interface{}{"query": "candles"}),
			want: SemanticLookup{ID: "c1", Query: "candles", K: 4},
		},
		{
			name: "semantic lookup scoped",
			call: types.NewToolCall("c2", SemanticLookupName, map[string]interface{}{"query": "rules", "source": "policy", "k": float64(2)}),
			want: SemanticLookup{ID: "c2", Query: "rules", Source: "policy", K: 2},
		},
		{
			name: "structured lookup",
			call: types.NewToolCall("c3", StructuredLookupName, map[string]interface{}{"question": "total spend by Michael Scott"}),
			want: StructuredLookup{ID: "c3", Question: "total spend by Michael Scott"},
		},
		{
			name: "policy audit without arguments",
			call: types.NewToolCall("c4", PolicyAuditName, nil),
			want: RunPolicyAudit{ID: "c4"},
		},
		{
			name: "cross audit",
			call: types.NewToolCall("c5", CrossSourceAuditName, map[string]interface{}{}),
			want: RunCrossSourceAudit{ID: "c5"},
		},
		{
			name: "unknown",
			call: types.NewToolCall("c6", "shred_documents", map[string]interface{}{}),
			want: Unknown{ID: "c6", Name: "shred_documents"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Decode(tt.call))
		})
	}
}

func TestDecodeMalformed(t *testing.T) {
	r, err := NewRegistry(4)
	require.NoError(t, err)

	calls := []types.ToolCall{
		types.NewToolCall("m1", StructuredLookupName, nil),
		types.NewToolCall("m2", StructuredLookupName, map[string]interface{}{"question": 7}),
		types.NewToolCall("m3", SemanticLookupName, map[string]interface{}{"query": "x", "source": "slack"}),
		types.NewToolCall("m4", SemanticLookupName, map[string]interface{}{"query": "x", "k": float64(0)}),
	}
	for _, call := range calls {
		inv := r.Decode(call)
		m, ok := inv.(Malformed)
		require.True(t, ok, "%s: got %T", call.ID, inv)
		assert.Equal(t, call.ID, m.CallID())
		assert.Equal(t, call.Function.Name, m.ToolName())
		assert.ErrorIs(t, m.Err, types.ErrToolExecution)
	}
}

type toolboxFixture struct {
	box       *Toolbox
	completer *llmtest.ScriptedCompleter
	searcher  *retrievertest.Searcher
	policy    *stubAuditor
	cross     *stubAuditor
}

func newToolbox(t *testing.T, steps ...llmtest.Step) *toolboxFixture {
	t.Helper()
	st, err := store.Open("sqlite3", filepath.Join(t.TempDir(), "tx.db"), "transactions", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.ReplaceTransactions(context.Background(), []store.Transaction{
		{ID: "TX1", Date: "2008-01-15", Employee: "Michael Scott", Description: "Serenity candles", Amount: 1200, Category: "Personal Expenses"},
		{ID: "TX2", Date: "2008-02-03", Employee: "Michael Scott", Description: "Printer paper", Amount: 80, Category: "Office Supplies"},
		{ID: "TX3", Date: "2008-03-22", Employee: "Ryan Howard", Description: "WUPHF launch party", Amount: 650, Category: "Entertainment"},
	}))

	completer := llmtest.NewScriptedCompleter(steps...)
	tr := translator.New(completer, translator.Options{Table: "transactions", Schema: store.Describe("transactions"), ReferenceYear: 2008, DefaultLimit: 20}, zerolog.Nop())
	searcher := retrievertest.New(
		retriever.Fragment{Source: retriever.SourceEmail, Text: "Michael: the Serenity candles go on the company card"},
		retriever.Fragment{Source: retriever.SourcePolicy, Text: "Personal expenses are never reimbursed"},
	)
	policy := &stubAuditor{report: &audit.Report{Procedure: "policy_violation_audit", Status: audit.StatusNoViolation, Summary: audit.NoViolationMessage}}
	cross := &stubAuditor{report: &audit.Report{Procedure: "cross_source_audit", Status: audit.StatusFailed, FailedStage: "execute", LastQuery: "SELECT 1", Error: "boom", Summary: "stage execute failed"}}

	return &toolboxFixture{
		box:       NewToolbox(searcher, tr, st, policy, cross, 1, zerolog.Nop()),
		completer: completer,
		searcher:  searcher,
		policy:    policy,
		cross:     cross,
	}
}

func TestToolboxStructuredLookupAggregate(t *testing.T) {
	f := newToolbox(t, llmtest.Text("SELECT SUM(amount) AS total FROM transactions WHERE employee = 'Michael Scott'"))

	res := f.box.Run(context.Background(), StructuredLookup{ID: "c1", Question: "What is the total spend by Michael Scott?"})

	require.False(t, res.Failed, res.Content)
	assert.Equal(t, StructuredLookupName, res.ToolName)
	assert.Equal(t, "c1", res.CallID)
	lookup := res.Data.(*LookupResult)
	assert.True(t, lookup.Aggregate)
	require.Len(t, lookup.Rows, 1)
	assert.InDelta(t, 1280.0, lookup.Rows[0]["total"], 0.001)
	assert.Contains(t, res.Content, "employee = 'Michael Scott'")
	assert.Contains(t, res.Content, "1280")
}

func TestToolboxStructuredLookupSamplesRows(t *testing.T) {
	f := newToolbox(t, llmtest.Text("SELECT * FROM transactions WHERE employee = 'Michael Scott'"))

	res := f.box.Run(context.Background(), StructuredLookup{ID: "c1", Question: "Michael's purchases"})

	require.False(t, res.Failed, res.Content)
	lookup := res.Data.(*LookupResult)
	assert.Equal(t, 2, lookup.TotalMatches)
	assert.Len(t, lookup.Rows, 1)
	assert.Contains(t, lookup.Query, "LIMIT 20")
}

func TestToolboxStructuredLookupFailures(t *testing.T) {
	t.Run("rejected query", func(t *testing.T) {
		f := newToolbox(t, llmtest.Text("SELECT * FROM transactions WHERE date = CURRENT_DATE"))
		res := f.box.Run(context.Background(), StructuredLookup{ID: "c1", Question: "today"})
		assert.True(t, res.Failed)
		assert.Contains(t, res.Content, "structured_lookup failed")
		assert.Contains(t, res.Content, "Query attempted: SELECT * FROM transactions WHERE date = CURRENT_DATE")
	})

	t.Run("execution error", func(t *testing.T) {
		f := newToolbox(t, llmtest.Text("SELECT nope FROM transactions"))
		res := f.box.Run(context.Background(), StructuredLookup{ID: "c1", Question: "nope"})
		assert.True(t, res.Failed)
		assert.Contains(t, res.Content, "Query attempted: SELECT nope FROM transactions\nLIMIT 20")
	})
}

func TestToolboxSemanticLookup(t *testing.T) {
	f := newToolbox(t)

	res := f.box.Run(context.Background(), SemanticLookup{ID: "s1", Query: "serenity candles", K: 5})
	require.False(t, res.Failed)
	fragments := res.Data.([]retriever.Fragment)
	require.Len(t, fragments, 2)
	assert.Contains(t, fragments[0].Text, "Serenity")

	res = f.box.Run(context.Background(), SemanticLookup{ID: "s2", Query: "expenses", Source: retriever.SourcePolicy, K: 5})
	require.Len(t, res.Data.([]retriever.Fragment), 1)

	f.searcher.Err = errors.New("index offline")
	res = f.box.Run(context.Background(), SemanticLookup{ID: "s3", Query: "x", K: 1})
	assert.True(t, res.Failed)
	assert.Contains(t, res.Content, "index offline")
}

func TestToolboxSemanticLookupNoHits(t *testing.T) {
	f := newToolbox(t)
	res := f.box.Run(context.Background(), SemanticLookup{ID: "s1", Query: "x", Source: "archive", K: 3})
	require.False(t, res.Failed)
	assert.Equal(t, "No matching documents found.", res.Content)
}

func TestToolboxAudits(t *testing.T) {
	f := newToolbox(t)

	res := f.box.Run(context.Background(), RunPolicyAudit{ID: "p1"})
	assert.False(t, res.Failed)
	assert.Contains(t, res.Content, audit.NoViolationMessage)
	assert.Equal(t, 1, f.policy.runs)

	res = f.box.Run(context.Background(), RunCrossSourceAudit{ID: "x1"})
	assert.True(t, res.Failed)
	assert.Contains(t, res.Content, `"last_query": "SELECT 1"`)
	assert.Equal(t, 1, f.cross.runs)
}

func TestToolboxUnknownAndMalformed(t *testing.T) {
	f := newToolbox(t)

	res := f.box.Run(context.Background(), Unknown{ID: "u1", Name: "shred_documents"})
	assert.True(t, res.Failed)
	assert.Equal(t, "u1", res.CallID)
	assert.Contains(t, res.Content, "tool unavailable")

	res = f.box.Run(context.Background(), Malformed{ID: "m1", Name: StructuredLookupName, Err: &types.ToolError{Tool: StructuredLookupName, Message: "invalid arguments"}})
	assert.True(t, res.Failed)
	assert.Contains(t, res.Content, "invalid arguments")
	assert.Empty(t, f.completer.Calls())
}
