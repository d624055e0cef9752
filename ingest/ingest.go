// Package ingest builds the persisted artifacts the auditor reads: the
// transaction table and the semantic index of policy and e-mail text.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"github.com/sammcj/auditor/config"
	"github.com/sammcj/auditor/store"
	"golang.org/x/sync/errgroup"
)

// TransactionLoader replaces the contents of the transaction table
type TransactionLoader interface {
	ReplaceTransactions(ctx context.Context, txs []store.Transaction) error
}

// Indexer stores text fragments in the semantic index
type Indexer interface {
	Reset(ctx context.Context) error
	Insert(ctx context.Context, source, text string) (int64, error)
}

// Summary reports what an ingestion run loaded
type Summary struct {
	Transactions int
	Fragments    map[string]int
	Skipped      []string
}

// Job loads the CSV export and indexes the documents
type Job struct {
	loader TransactionLoader
	index  Indexer
	cfg    config.IngestConfig
	logger zerolog.Logger
}

// NewJob creates an ingestion job
func NewJob(loader TransactionLoader, index Indexer, cfg config.IngestConfig, logger zerolog.Logger) *Job {
	return &Job{
		loader: loader,
		index:  index,
		cfg:    cfg,
		logger: logger.With().Str("component", "ingest").Logger(),
	}
}

// Run replaces the transaction table and rebuilds the index
func (j *Job) Run(ctx context.Context) (*Summary, error) {
	summary := &Summary{Fragments: make(map[string]int)}

	n, err := j.loadTransactions(ctx)
	if err != nil {
		return nil, err
	}
	summary.Transactions = n

	if err := j.index.Reset(ctx); err != nil {
		return nil, err
	}

	type chunk struct{ source, text string }
	var chunks []chunk
	for _, doc := range j.cfg.Documents {
		data, err := os.ReadFile(doc.Path)
		if errors.Is(err, fs.ErrNotExist) {
			j.logger.Warn().Str("path", doc.Path).Msg("document not found, skipping")
			summary.Skipped = append(summary.Skipped, doc.Path)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", doc.Path, err)
		}
		parts := SplitText(string(data), "\n", j.cfg.ChunkSize, j.cfg.ChunkOverlap)
		j.logger.Info().Str("path", doc.Path).Str("source", doc.Source).Int("chunks", len(parts)).Msg("document split")
		for _, p := range parts {
			chunks = append(chunks, chunk{source: doc.Source, text: p})
		}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(j.cfg.Workers, 1))
	for _, c := range chunks {
		g.Go(func() error {
			if _, err := j.index.Insert(gctx, c.source, c.text); err != nil {
				return fmt.Errorf("failed to index %s fragment: %w", c.source, err)
			}
			mu.Lock()
			summary.Fragments[c.source]++
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	j.logger.Info().Int("transactions", summary.Transactions).Int("fragments", len(chunks)).Msg("ingestion complete")
	return summary, nil
}

func (j *Job) loadTransactions(ctx context.Context) (int, error) {
	f, err := os.Open(j.cfg.TransactionsCSV)
	if err != nil {
		return 0, fmt.Errorf("failed to open transactions file: %w", err)
	}
	defer f.Close()

	txs, err := ReadTransactions(f)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", j.cfg.TransactionsCSV, err)
	}
	if err := j.loader.ReplaceTransactions(ctx, txs); err != nil {
		return 0, err
	}
	return len(txs), nil
}
