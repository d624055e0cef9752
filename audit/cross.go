package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/sammcj/auditor/config"
	"github.com/sammcj/auditor/llm"
	"github.com/sammcj/auditor/retriever"
	"github.com/sammcj/auditor/store"
	"github.com/sammcj/auditor/translator"
	"github.com/sammcj/auditor/types"
)

const extractionPrompt = `You are a forensic analyst reading internal e-mails.
Identify every suspicious expense the messages mention or try to hide.
Answer with JSON only, in this shape:
{"analysis": "<two or three sentences on what the messages suggest>",
 "entities": [{"actor": "<full name of the person spending>", "item": "<what was bought>", "amount": "<amount if stated, else empty>", "excerpt": "<the sentence that mentions it>"}]}`

const matchQuestion = "Find the transactions that correspond to the suspicious expenses in the context. " +
	"Match the employee by name and the description or category with LIKE on the item; use the amount when one is given. " +
	"Return all columns."

// Entity is one suspicious expense extracted from communications
type Entity struct {
	Actor   string `json:"actor"`
	Item    string `json:"item"`
	Amount  string `json:"amount"`
	Excerpt string `json:"excerpt"`
}

type extraction struct {
	Analysis string   `json:"analysis"`
	Entities []Entity `json:"entities"`
}

// CrossSourceAudit correlates suspicious communications with transaction records
type CrossSourceAudit struct {
	searcher   retriever.Searcher
	translator QueryTranslator
	executor   store.Executor
	llm        llm.Completer
	cfg        config.AuditConfig
	logger     zerolog.Logger
}

// NewCrossSourceAudit creates the cross-source correlation audit
func NewCrossSourceAudit(searcher retriever.Searcher, tr QueryTranslator, executor store.Executor, completer llm.Completer, cfg config.AuditConfig, logger zerolog.Logger) *CrossSourceAudit {
	return &CrossSourceAudit{
		searcher:   searcher,
		translator: tr,
		executor:   executor,
		llm:        completer,
		cfg:        cfg,
		logger:     logger.With().Str("component", "audit").Str("procedure", "cross_source").Logger(),
	}
}

// Run executes the audit. It never returns nil; failures are described on the report.
func (a *CrossSourceAudit) Run(ctx context.Context) *Report {
	report := &Report{Procedure: "cross_source_audit", LastContext: []string{}}

	var (
		communications []retriever.Fragment
		entities       []Entity
		query          translator.StructuredQuery
	)

	runStages(ctx, report, a.logger,
		stage{"retrieve_communications", func(ctx context.Context) error {
			var err error
			communications, err = a.gatherCommunications(ctx)
			if err != nil {
				return err
			}
			report.LastContext = fragmentTexts(communications)
			if len(communications) == 0 {
				report.Status = StatusNoEvidence
				report.Summary = "No communication matching the fraud indicators was found."
				return errDone
			}
			return nil
		}},
		stage{"extract_entities", func(ctx context.Context) error {
			raw, err := llm.Prompt(ctx, a.llm, extractionPrompt, "Messages:\n"+strings.Join(report.LastContext, "\n---\n"))
			if err != nil {
				return &types.LLMError{Operation: "extract_entities", Message: "entity extraction failed", Err: err}
			}
			parsed, ok := parseExtraction(raw)
			if !ok {
				a.logger.Warn().Str("raw", raw).Msg("entity extraction was not valid JSON, keeping the raw analysis")
				report.Analysis = strings.TrimSpace(raw)
				return nil
			}
			entities = parsed.Entities
			report.Analysis = parsed.Analysis
			return nil
		}},
		stage{"translate", func(ctx context.Context) error {
			var err error
			query, err = a.translator.Translate(ctx, translator.Request{
				Question: matchQuestion,
				Context:  matchContext(report.Analysis, entities),
				Rules:    a.cfg.Rules,
			})
			if err != nil {
				return err
			}
			report.LastQuery = query.SQL()
			return nil
		}},
		stage{"execute", func(ctx context.Context) error {
			rows, err := a.executor.Execute(ctx, query)
			if err != nil {
				return err
			}
			matches := transactions(rows)
			report.TotalMatches = len(matches)
			if len(matches) == 0 {
				if len(rows) > 0 {
					a.logger.Warn().Str("query", report.LastQuery).Int("rows", len(rows)).Msg("query returned no transaction records")
				}
				report.Status = StatusUnconfirmed
				report.Summary = fmt.Sprintf("The communications suggest wrongdoing but no transaction record confirms it. Query attempted: %s", report.LastQuery)
				return errDone
			}

			sample := matches
			if len(sample) > a.cfg.SampleSize {
				sample = sample[:a.cfg.SampleSize]
			}
			for _, tx := range sample {
				evidence := relatedFragments(communications, append(transactionTerms(tx), entityTerms(entities, tx)...))
				report.Findings = append(report.Findings, Finding{
					Transaction: tx,
					Fragments:   evidence,
					Verdict: fmt.Sprintf("Confirmed: transaction %s by %s (%.2f, %q) matches the communication %q",
						tx.ID, tx.Employee, tx.Amount, tx.Description, excerpt(evidence)),
				})
			}
			report.Status = StatusConfirmed
			report.Summary = fmt.Sprintf("%d transaction(s) confirm the suspicious communications.", len(report.Findings))
			return nil
		}},
	)

	a.logger.Info().Str("status", string(report.Status)).Int("communications", len(communications)).Msg("cross-source audit finished")
	return report
}

// gatherCommunications searches e-mail for every fraud term, keeps the best
// score per fragment and returns the strongest hits first.
func (a *CrossSourceAudit) gatherCommunications(ctx context.Context) ([]retriever.Fragment, error) {
	best := make(map[string]retriever.Fragment)
	for _, term := range a.cfg.FraudTerms {
		hits, err := a.searcher.SearchSource(ctx, term, retriever.SourceEmail, a.cfg.PerTermK)
		if err != nil {
			return nil, fmt.Errorf("communication retrieval failed for %q: %w", term, err)
		}
		for _, h := range hits {
			if prev, ok := best[h.Text]; !ok || h.Score > prev.Score {
				best[h.Text] = h
			}
		}
	}

	fragments := make([]retriever.Fragment, 0, len(best))
	for _, f := range best {
		fragments = append(fragments, f)
	}
	sort.Slice(fragments, func(i, j int) bool {
		if fragments[i].Score != fragments[j].Score {
			return fragments[i].Score > fragments[j].Score
		}
		return fragments[i].Text < fragments[j].Text
	})
	if len(fragments) > a.cfg.MaxCommunications {
		fragments = fragments[:a.cfg.MaxCommunications]
	}
	return fragments, nil
}

// parseExtraction accepts the JSON object even when the model wraps it in prose or fences
func parseExtraction(raw string) (extraction, bool) {
	var out extraction
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return out, false
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), &out); err != nil {
		return out, false
	}
	return out, true
}

func matchContext(analysis string, entities []Entity) []string {
	var ctx []string
	if analysis != "" {
		ctx = append(ctx, "Analysis: "+analysis)
	}
	for _, e := range entities {
		line := fmt.Sprintf("Suspicious expense: actor=%q item=%q", e.Actor, e.Item)
		if e.Amount != "" {
			line += fmt.Sprintf(" amount=%q", e.Amount)
		}
		if e.Excerpt != "" {
			line += fmt.Sprintf(" excerpt=%q", e.Excerpt)
		}
		ctx = append(ctx, line)
	}
	return ctx
}

// entityTerms returns the item words of entities whose actor matches the transaction
func entityTerms(entities []Entity, tx store.Transaction) []string {
	var terms []string
	for _, e := range entities {
		names := strings.Fields(e.Actor)
		if len(names) == 0 || !strings.Contains(strings.ToLower(tx.Employee), strings.ToLower(names[0])) {
			continue
		}
		for _, w := range strings.Fields(e.Item) {
			if len(w) > 3 {
				terms = append(terms, strings.ToLower(w))
			}
		}
	}
	return terms
}

func excerpt(fragments []retriever.Fragment) string {
	if len(fragments) == 0 {
		return ""
	}
	text := []rune(strings.TrimSpace(fragments[0].Text))
	if len(text) > 160 {
		return string(text[:160]) + "..."
	}
	return string(text)
}
