package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/sammcj/auditor/config"
	"github.com/sammcj/auditor/retriever"
	"github.com/sammcj/auditor/store"
	"github.com/sammcj/auditor/translator"
)

const violationQuestion = "List every transaction that violates the compliance policy given in the context: " +
	"amounts above the spending threshold, forbidden or suspicious expense categories, and descriptions " +
	"containing suspicious keywords. Combine the conditions with OR and return all columns."

// PolicyAudit checks the transaction table against the written compliance policy
type PolicyAudit struct {
	searcher   retriever.Searcher
	translator QueryTranslator
	executor   store.Executor
	cfg        config.AuditConfig
	logger     zerolog.Logger
}

// NewPolicyAudit creates the policy-violation audit
func NewPolicyAudit(searcher retriever.Searcher, tr QueryTranslator, executor store.Executor, cfg config.AuditConfig, logger zerolog.Logger) *PolicyAudit {
	return &PolicyAudit{
		searcher:   searcher,
		translator: tr,
		executor:   executor,
		cfg:        cfg,
		logger:     logger.With().Str("component", "audit").Str("procedure", "policy_violation").Logger(),
	}
}

// Run executes the audit. It never returns nil; failures are described on the report.
func (a *PolicyAudit) Run(ctx context.Context) *Report {
	report := &Report{Procedure: "policy_violation_audit", LastContext: []string{}}

	var (
		rules   []retriever.Fragment
		query   translator.StructuredQuery
		matches []store.Transaction
	)

	runStages(ctx, report, a.logger,
		stage{"retrieve_policy", func(ctx context.Context) error {
			var err error
			rules, err = a.searcher.SearchSource(ctx, a.cfg.PolicyQuery, retriever.SourcePolicy, a.cfg.PolicyK)
			if err != nil {
				return fmt.Errorf("policy retrieval failed: %w", err)
			}
			report.LastContext = fragmentTexts(rules)
			if len(rules) == 0 {
				a.logger.Warn().Msg("no policy fragments retrieved, using the configured rule set only")
			}
			return nil
		}},
		stage{"translate", func(ctx context.Context) error {
			var err error
			query, err = a.translator.Translate(ctx, translator.Request{
				Question: violationQuestion,
				Context:  report.LastContext,
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
			matches = transactions(rows)
			if len(matches) == 0 {
				if len(rows) > 0 {
					a.logger.Warn().Str("query", report.LastQuery).Int("rows", len(rows)).Msg("query returned no transaction records")
				}
				report.Status = StatusNoViolation
				report.Summary = NoViolationMessage
				return errDone
			}
			return nil
		}},
		stage{"summarize", func(ctx context.Context) error {
			report.TotalMatches = len(matches)
			if !query.Aggregate() {
				if n, err := a.executor.Count(ctx, query); err != nil {
					a.logger.Warn().Err(err).Msg("failed to count matches, reporting the returned rows only")
				} else if n > report.TotalMatches {
					report.TotalMatches = n
				}
			}

			sample := matches
			if len(sample) > a.cfg.SampleSize {
				sample = sample[:a.cfg.SampleSize]
			}
			for _, tx := range sample {
				report.Findings = append(report.Findings, Finding{
					Transaction: tx,
					Fragments:   relatedFragments(rules, transactionTerms(tx)),
					Verdict: fmt.Sprintf("Policy violation: %s (%s) spent %.2f on %q in category %s on %s",
						tx.Employee, tx.Role, tx.Amount, tx.Description, tx.Category, tx.Date),
				})
			}

			report.Status = StatusViolations
			report.Summary = fmt.Sprintf("Found %d transactions violating the compliance policy; showing %d.",
				report.TotalMatches, len(report.Findings))
			return nil
		}},
	)

	a.logger.Info().Str("status", string(report.Status)).Int("matches", report.TotalMatches).Msg("policy audit finished")
	return report
}

// transactionTerms returns the words of a transaction worth looking for in evidence text
func transactionTerms(tx store.Transaction) []string {
	var terms []string
	for _, field := range []string{tx.Employee, tx.Description, tx.Category} {
		for _, w := range strings.Fields(field) {
			w = strings.Trim(w, ".,;:!?\"'()")
			if len(w) > 3 {
				terms = append(terms, strings.ToLower(w))
			}
		}
	}
	return terms
}

// relatedFragments returns the fragments mentioning any of terms, best score first.
// When none does, the top-ranked fragment is returned so every finding cites a source.
func relatedFragments(fragments []retriever.Fragment, terms []string) []retriever.Fragment {
	var related []retriever.Fragment
	for _, f := range fragments {
		text := strings.ToLower(f.Text)
		for _, t := range terms {
			if strings.Contains(text, t) {
				related = append(related, f)
				break
			}
		}
	}
	if len(related) == 0 && len(fragments) > 0 {
		return fragments[:1]
	}
	return related
}
