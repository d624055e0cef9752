package bridge

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/sammcj/auditor/config"
	"github.com/sammcj/auditor/embedding"
	"github.com/sammcj/auditor/ingest"
	"github.com/sammcj/auditor/retriever"
	"github.com/sammcj/auditor/store"
	"github.com/sammcj/auditor/types"
)

// Ingest rebuilds the transaction table and the semantic index from the
// files named in cfg.Ingest
func Ingest(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*ingest.Summary, error) {
	if err := cfg.ValidateIngest(); err != nil {
		return nil, err
	}
	embedder, err := embedding.New(ctx, cfg.Embedding, logger)
	if err != nil {
		return nil, err
	}
	return runIngest(ctx, cfg, embedder, logger)
}

func runIngest(ctx context.Context, cfg *config.Config, embedder embedding.Embedder, logger zerolog.Logger) (*ingest.Summary, error) {
	index, err := retriever.Open(cfg.Index.Path, embedder, logger)
	if err != nil {
		return nil, &types.BridgeError{Operation: "open_index", Message: "failed to open semantic index", Err: err}
	}
	defer index.Close()

	st, err := store.Open(cfg.Database.Driver, cfg.Database.DSN, cfg.Database.Table, logger)
	if err != nil {
		return nil, &types.BridgeError{Operation: "open_store", Message: "failed to open transaction store", Err: err}
	}
	defer st.Close()

	return ingest.NewJob(st, index, cfg.Ingest, logger).Run(ctx)
}
