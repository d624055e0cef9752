// Package embedding turns text fragments into vectors for the semantic index.
package embedding

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/sammcj/auditor/config"
	"github.com/sammcj/auditor/types"
)

// Embedder produces a vector for one piece of text
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// New builds the Embedder selected by cfg.Provider
func New(ctx context.Context, cfg config.EmbeddingConfig, logger zerolog.Logger) (Embedder, error) {
	switch cfg.Provider {
	case "ollama", "":
		return NewOllamaEmbedder(cfg.Endpoint, cfg.Model, logger), nil
	case "genai":
		e, err := NewGenAIEmbedder(ctx, cfg.APIKey, cfg.Model, logger)
		if err != nil {
			return nil, &types.ConfigError{Field: "embedding", Message: "failed to create genai embedder", Err: err}
		}
		return e, nil
	default:
		return nil, &types.ConfigError{Field: "embedding.provider", Message: fmt.Sprintf("unsupported provider %q", cfg.Provider)}
	}
}
