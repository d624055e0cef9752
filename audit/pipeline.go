// Package audit implements the composite audit procedures: fixed pipelines
// that chain semantic retrieval, query translation, execution and analysis.
package audit

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"github.com/sammcj/auditor/store"
	"github.com/sammcj/auditor/translator"
	"github.com/sammcj/auditor/types"
)

// errDone ends a pipeline early with a successful outcome already recorded on the report
var errDone = errors.New("pipeline finished early")

// QueryTranslator produces validated queries
type QueryTranslator interface {
	Translate(ctx context.Context, req translator.Request) (translator.StructuredQuery, error)
}

type stage struct {
	name string
	run  func(ctx context.Context) error
}

// runStages runs stages in order and stops at the first error. A failure is
// recorded on the report together with any query the failing stage attempted.
func runStages(ctx context.Context, report *Report, logger zerolog.Logger, stages ...stage) {
	for _, s := range stages {
		logger.Debug().Str("stage", s.name).Msg("running audit stage")

		err := s.run(ctx)
		if err == nil {
			continue
		}
		if errors.Is(err, errDone) {
			logger.Debug().Str("stage", s.name).Str("status", string(report.Status)).Msg("audit finished early")
			return
		}

		var terr *types.TranslationError
		if errors.As(err, &terr) && terr.Query != "" {
			report.LastQuery = terr.Query
		}
		var qerr *types.QueryExecutionError
		if errors.As(err, &qerr) && qerr.Query != "" {
			report.LastQuery = qerr.Query
		}

		report.Status = StatusFailed
		report.FailedStage = s.name
		report.Error = err.Error()
		report.Summary = "The audit could not be completed: stage " + s.name + " failed. Evidence gathered so far is included."
		logger.Warn().Str("stage", s.name).Str("query", report.LastQuery).Err(err).Msg("audit stage failed")
		return
	}
}

// transactions keeps the rows that map onto transaction records. Aggregate
// rows such as a bare COUNT(*) carry no record and are not evidence.
func transactions(rows []store.Row) []store.Transaction {
	var txs []store.Transaction
	for _, row := range rows {
		if tx, ok := row.Transaction(); ok {
			txs = append(txs, tx)
		}
	}
	return txs
}
