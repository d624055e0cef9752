package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/sammcj/auditor/audit"
	"github.com/sammcj/auditor/config"
	"github.com/sammcj/auditor/llm/llmtest"
	"github.com/sammcj/auditor/retriever"
	"github.com/sammcj/auditor/retriever/retrievertest"
	"github.com/sammcj/auditor/store"
	"github.com/sammcj/auditor/tools"
	"github.com/sammcj/auditor/translator"
	"github.com/sammcj/auditor/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	orch      *Orchestrator
	completer *llmtest.ScriptedCompleter
}

// newHarness wires the real registry, toolbox, translator, audits and store
// around a scripted model and an in-memory document index.
func newHarness(t *testing.T, steps ...llmtest.Step) *harness {
	t.Helper()
	ctx := context.Background()
	logger := zerolog.Nop()
	cfg := config.DefaultConfig()

	st, err := store.Open("sqlite3", filepath.Join(t.TempDir(), "tx.db"), cfg.Database.Table, logger)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.ReplaceTransactions(ctx, []store.Transaction{
		{ID: "TX1", Date: "2008-01-15", Employee: "Michael Scott", Role: "Regional Manager", Description: "Serenity by Jan candles", Amount: 1200, Category: "Personal Expenses", Department: "Management"},
		{ID: "TX2", Date: "2008-02-03", Employee: "Michael Scott", Role: "Regional Manager", Description: "Printer paper", Amount: 80, Category: "Office Supplies", Department: "Management"},
		{ID: "TX3", Date: "2008-03-22", Employee: "Ryan Howard", Role: "Temp", Description: "WUPHF launch party", Amount: 650, Category: "Entertainment", Department: "Sales"},
	}))

	searcher := retrievertest.New(
		retriever.Fragment{Source: retriever.SourcePolicy, Text: "Compliance policy: expenses above 500 require approval. Personal Expenses and Entertainment are forbidden."},
		retriever.Fragment{Source: retriever.SourceEmail, Text: "From Michael Scott: put the Serenity candles on the company card, Jan needs the money"},
	)

	completer := llmtest.NewScriptedCompleter(steps...)
	tr := translator.New(completer, translator.Options{
		Table:         cfg.Database.Table,
		Schema:        store.Describe(cfg.Database.Table),
		ReferenceYear: cfg.Audit.ReferenceYear,
		DefaultLimit:  cfg.Audit.DefaultLimit,
	}, logger)
	policy := audit.NewPolicyAudit(searcher, tr, st, cfg.Audit, logger)
	cross := audit.NewCrossSourceAudit(searcher, tr, st, completer, cfg.Audit, logger)

	registry, err := tools.NewRegistry(cfg.Audit.SearchK)
	require.NoError(t, err)
	box := tools.NewToolbox(searcher, tr, st, policy, cross, cfg.Audit.SampleSize, logger)

	return &harness{
		orch:      New(completer, registry, box, cfg.LLM.SystemPrompt, logger),
		completer: completer,
	}
}

func toolMessages(messages []types.Message) []types.Message {
	var out []types.Message
	for _, m := range messages {
		if m.Role == types.RoleTool {
			out = append(out, m)
		}
	}
	return out
}

func TestDirectAnswer(t *testing.T) {
	h := newHarness(t, llmtest.Text("I am Toby, the forensic auditor."))

	ex, err := h.orch.Run(context.Background(), "Who are you?", nil)
	require.NoError(t, err)

	assert.Equal(t, "I am Toby, the forensic auditor.", ex.Final)
	assert.Equal(t, []State{StateAwaitingDecision, StateDirect, StateDone}, ex.States)
	assert.Zero(t, ex.DispatchRounds)
	assert.Empty(t, ex.Results)

	calls := h.completer.Calls()
	require.Len(t, calls, 1)
	assert.Len(t, calls[0].Tools, 4)
	assert.Equal(t, types.RoleSystem, calls[0].Messages[0].Role)
	assert.Equal(t, "Who are you?", calls[0].Messages[len(calls[0].Messages)-1].Content)
}

func TestScenarioTotalSpendByEmployee(t *testing.T) {
	h := newHarness(t,
		llmtest.Tools(types.NewToolCall("call_1", tools.StructuredLookupName, map[string]interface{}{
			"question": "What is the total spend by Michael Scott?",
		})),
		llmtest.Text("SELECT SUM(amount) AS total_spend FROM transactions WHERE employee = 'Michael Scott'"),
		llmtest.Text("Michael Scott spent a total of $1,280.00 in 2008."),
	)

	ex, err := h.orch.Run(context.Background(), "What is the total spend by employee Michael Scott?", nil)
	require.NoError(t, err)

	assert.Equal(t, "Michael Scott spent a total of $1,280.00 in 2008.", ex.Final)
	assert.Equal(t, []State{StateAwaitingDecision, StateToolDispatch, StateAwaitingSynthesis, StateDone}, ex.States)
	assert.Equal(t, 1, ex.DispatchRounds)

	require.Len(t, ex.Results, 1)
	res := ex.Results[0]
	require.False(t, res.Failed, res.Content)
	assert.Equal(t, tools.StructuredLookupName, res.ToolName)
	lookup := res.Data.(*tools.LookupResult)
	assert.Contains(t, lookup.Query, "employee = 'Michael Scott'")
	assert.True(t, lookup.Aggregate)
	require.Len(t, lookup.Rows, 1)
	assert.InDelta(t, 1280.0, lookup.Rows[0]["total_spend"], 0.001)

	require.NoError(t, types.CheckToolThreading(ex.Messages))
	synthesis := h.completer.Calls()[2]
	assert.Empty(t, synthesis.Tools)
	tm := toolMessages(synthesis.Messages)
	require.Len(t, tm, 1)
	assert.Equal(t, "call_1", tm[0].ToolCallID)
	assert.Contains(t, tm[0].Content, "1280")
}

func TestScenarioFullFraudAudit(t *testing.T) {
	h := newHarness(t,
		llmtest.Tools(
			types.NewToolCall("", tools.PolicyAuditName, nil),
			types.NewToolCall("", tools.CrossSourceAuditName, map[string]interface{}{}),
		),
		// policy audit translation
		llmtest.Text("SELECT * FROM transactions WHERE amount > 500 OR category IN ('Personal Expenses', 'Entertainment') ORDER BY id"),
		// cross audit extraction and translation
		llmtest.Text(`{"analysis": "Michael hides a candle purchase.", "entities": [{"actor": "Michael Scott", "item": "Serenity candles", "amount": "1200"}]}`),
		llmtest.Text("SELECT * FROM transactions WHERE employee = 'Michael Scott' AND description LIKE '%candles%'"),
		llmtest.Text("- Fraud: TX1, Michael Scott, Serenity candles for $1,200 (e-mail: \"put the Serenity candles on the company card\").\n- Policy Violation: TX3, Ryan Howard, WUPHF launch party (policy: Entertainment is forbidden)."),
	)

	ex, err := h.orch.Run(context.Background(), "Run a full fraud audit", nil)
	require.NoError(t, err)
	assert.Zero(t, h.completer.Remaining())
	assert.False(t, ex.Degraded)

	decision := h.completer.Calls()[0]
	assert.Contains(t, decision.Messages[0].Content, "Do not ask for clarification")

	require.Len(t, ex.Results, 2)
	assert.Equal(t, tools.PolicyAuditName, ex.Results[0].ToolName)
	assert.Equal(t, tools.CrossSourceAuditName, ex.Results[1].ToolName)
	for _, res := range ex.Results {
		require.False(t, res.Failed, res.Content)
		assert.NotEmpty(t, res.CallID)
		report := res.Data.(*audit.Report)
		require.NotEmpty(t, report.Findings)
		for _, f := range report.Findings {
			require.NotEmpty(t, f.Fragments, "finding %s has no evidence", f.Transaction.ID)
			assert.Contains(t, res.Content, f.Fragments[0].Text)
		}
	}
	assert.Equal(t, audit.StatusViolations, ex.Results[0].Data.(*audit.Report).Status)
	assert.Equal(t, audit.StatusConfirmed, ex.Results[1].Data.(*audit.Report).Status)

	require.NoError(t, types.CheckToolThreading(ex.Messages))
	assert.Contains(t, ex.Final, "TX1")
	assert.Contains(t, ex.Final, "e-mail")
	assert.Contains(t, ex.Final, "policy")
}

func TestSingleDispatchRound(t *testing.T) {
	again := types.NewToolCall("call_2", tools.PolicyAuditName, nil)
	h := newHarness(t,
		llmtest.Tools(types.NewToolCall("call_1", tools.SemanticLookupName, map[string]interface{}{"query": "candles"})),
		// the model asks for more tools during synthesis and also writes an answer
		llmtest.Step{Response: &types.LLMResponse{Content: "Michael bought candles.", ToolCalls: []types.ToolCall{again}}},
		llmtest.Tools(again),
	)

	ex, err := h.orch.Run(context.Background(), "What did Michael buy?", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, ex.DispatchRounds)
	assert.Equal(t, "Michael bought candles.", ex.Final)
	assert.Len(t, ex.Results, 1)
	assert.Equal(t, 1, h.completer.Remaining())
}

func TestSynthesisFailureReturnsEvidence(t *testing.T) {
	h := newHarness(t,
		llmtest.Tools(types.NewToolCall("call_1", tools.SemanticLookupName, map[string]interface{}{"query": "Serenity candles", "source": "email"})),
		llmtest.Fail(errors.New("context length exceeded")),
	)

	final, err := h.orch.Handle(context.Background(), "Any e-mails about candles?", nil)
	require.ErrorIs(t, err, types.ErrSynthesis)
	assert.True(t, strings.HasPrefix(final, apologyText))
	assert.Contains(t, final, "put the Serenity candles on the company card")
	assert.Contains(t, final, tools.SemanticLookupName)
}

func TestEmptySynthesisIsDegraded(t *testing.T) {
	h := newHarness(t,
		llmtest.Tools(types.NewToolCall("call_1", tools.SemanticLookupName, map[string]interface{}{"query": "candles"})),
		llmtest.Text("   "),
	)

	ex, err := h.orch.Run(context.Background(), "candles?", nil)
	require.ErrorIs(t, err, types.ErrSynthesis)
	assert.True(t, ex.Degraded)
	assert.Equal(t, StateDone, ex.States[len(ex.States)-1])
}

func TestUnknownToolDegradesToUnavailable(t *testing.T) {
	h := newHarness(t,
		llmtest.Tools(types.NewToolCall("call_1", "shred_documents", map[string]interface{}{})),
		llmtest.Text("That capability is not available to me."),
	)

	ex, err := h.orch.Run(context.Background(), "Shred the evidence", nil)
	require.NoError(t, err)
	require.Len(t, ex.Results, 1)
	assert.True(t, ex.Results[0].Failed)
	assert.Contains(t, ex.Results[0].Content, "tool unavailable")

	tm := toolMessages(h.completer.Calls()[1].Messages)
	require.Len(t, tm, 1)
	assert.Contains(t, tm[0].Content, "tool unavailable")
}

func TestFailingToolDoesNotAbortOthers(t *testing.T) {
	h := newHarness(t,
		llmtest.Tools(
			types.NewToolCall("call_1", tools.StructuredLookupName, map[string]interface{}{"question": "spend this month"}),
			types.NewToolCall("call_2", tools.SemanticLookupName, map[string]interface{}{"query": "candles"}),
		),
		llmtest.Text("SELECT * FROM transactions WHERE date >= date('now', 'start of month')"),
		llmtest.Text("The date query failed but the e-mail mentions candles."),
	)

	ex, err := h.orch.Run(context.Background(), "What was spent this month and why?", nil)
	require.NoError(t, err)
	require.Len(t, ex.Results, 2)
	assert.True(t, ex.Results[0].Failed)
	assert.Contains(t, ex.Results[0].Content, "Query attempted")
	assert.False(t, ex.Results[1].Failed)
	assert.Equal(t, "The date query failed but the e-mail mentions candles.", ex.Final)
}

func TestDecisionFailure(t *testing.T) {
	h := newHarness(t, llmtest.Fail(errors.New("401 unauthorized")))

	final, err := h.orch.Handle(context.Background(), "hello", nil)
	require.ErrorIs(t, err, types.ErrLLMResponse)
	assert.Equal(t, decisionFailureText, final)
}

func TestHistoryIsReplayed(t *testing.T) {
	h := newHarness(t, llmtest.Text("Yes, that was Michael."))
	history := []types.Message{
		{Role: types.RoleSystem, Content: "old persona"},
		{Role: types.RoleUser, Content: "Who bought candles?"},
		{Role: types.RoleAssistant, Content: "Michael Scott."},
	}

	_, err := h.orch.Handle(context.Background(), "Are you sure?", history)
	require.NoError(t, err)

	msgs := h.completer.Calls()[0].Messages
	require.Len(t, msgs, 4)
	assert.NotEqual(t, "old persona", msgs[0].Content)
	assert.Equal(t, "Who bought candles?", msgs[1].Content)
	assert.Equal(t, "Michael Scott.", msgs[2].Content)
	assert.Equal(t, "Are you sure?", msgs[3].Content)
}

func TestEmptyMessage(t *testing.T) {
	h := newHarness(t)
	_, err := h.orch.Run(context.Background(), "  ", nil)
	require.ErrorIs(t, err, ErrEmptyMessage)
	assert.Empty(t, h.completer.Calls())
}
