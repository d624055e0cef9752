// Package bridge assembles the auditor from configuration and hands chat
// messages to the orchestrator.
package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/sammcj/auditor/audit"
	"github.com/sammcj/auditor/config"
	"github.com/sammcj/auditor/embedding"
	"github.com/sammcj/auditor/llm"
	"github.com/sammcj/auditor/memory"
	"github.com/sammcj/auditor/orchestrator"
	"github.com/sammcj/auditor/retriever"
	"github.com/sammcj/auditor/store"
	"github.com/sammcj/auditor/tools"
	"github.com/sammcj/auditor/translator"
	"github.com/sammcj/auditor/types"
)

// Bridge owns every long-lived component of the auditor
type Bridge struct {
	cfg          *config.Config
	index        *retriever.Index
	store        *store.Store
	memory       *memory.Store
	registry     *tools.Registry
	toolbox      *tools.Toolbox
	orchestrator *orchestrator.Orchestrator
	logger       zerolog.Logger
}

// New builds the auditor from cfg. It fails when the index or the transaction
// table is missing, so the process never starts half-ready.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Bridge, error) {
	logger.Info().Str("provider", cfg.LLM.Provider).Str("model", cfg.LLM.Model).Msg("creating bridge")

	completer, err := llm.New(cfg.LLM, logger)
	if err != nil {
		return nil, err
	}
	embedder, err := embedding.New(ctx, cfg.Embedding, logger)
	if err != nil {
		return nil, err
	}
	return assemble(ctx, cfg, withRetry(completer, cfg.LLM.RetryAttempts, logger), embedder, logger)
}

func assemble(ctx context.Context, cfg *config.Config, completer llm.Completer, embedder embedding.Embedder, logger zerolog.Logger) (_ *Bridge, err error) {
	b := &Bridge{cfg: cfg, logger: logger.With().Str("component", "bridge").Logger()}
	defer func() {
		if err != nil {
			b.Close()
		}
	}()

	b.index, err = retriever.Open(cfg.Index.Path, embedder, logger)
	if err != nil {
		return nil, &types.BridgeError{Operation: "open_index", Message: "failed to open semantic index", Err: err}
	}
	if err = b.index.Verify(ctx); err != nil {
		return nil, err
	}

	b.store, err = store.Open(cfg.Database.Driver, cfg.Database.DSN, cfg.Database.Table, logger)
	if err != nil {
		return nil, &types.BridgeError{Operation: "open_store", Message: "failed to open transaction store", Err: err}
	}
	if err = b.store.VerifySchema(ctx); err != nil {
		return nil, err
	}

	if cfg.Conversation.Persist {
		b.memory, err = memory.Open(ctx, cfg.Conversation.DSN, cfg.Conversation.MaxMessages, logger)
		if err != nil {
			return nil, &types.BridgeError{Operation: "open_memory", Message: "failed to open conversation store", Err: err}
		}
	}

	dialect := "SQLite"
	if cfg.Database.Driver == "pgx" {
		dialect = "PostgreSQL"
	}
	tr := translator.New(completer, translator.Options{
		Table:         cfg.Database.Table,
		Schema:        store.Describe(cfg.Database.Table),
		Dialect:       dialect,
		ReferenceYear: cfg.Audit.ReferenceYear,
		DefaultLimit:  cfg.Audit.DefaultLimit,
	}, logger)

	policy := audit.NewPolicyAudit(b.index, tr, b.store, cfg.Audit, logger)
	cross := audit.NewCrossSourceAudit(b.index, tr, b.store, completer, cfg.Audit, logger)

	b.registry, err = tools.NewRegistry(cfg.Audit.SearchK)
	if err != nil {
		return nil, &types.BridgeError{Operation: "register_tools", Message: "failed to build tool registry", Err: err}
	}
	b.toolbox = tools.NewToolbox(b.index, tr, b.store, policy, cross, cfg.Audit.SampleSize, logger)
	b.orchestrator = orchestrator.New(completer, b.registry, b.toolbox, cfg.LLM.SystemPrompt, logger)

	b.logger.Info().Int("tools", len(b.registry.Specs())).Bool("memory", b.memory != nil).Msg("bridge ready")
	return b, nil
}

// Registry returns the tool catalog
func (b *Bridge) Registry() *tools.Registry {
	return b.registry
}

// Toolbox returns the tool executor
func (b *Bridge) Toolbox() *tools.Toolbox {
	return b.toolbox
}

// ProcessMessage answers msg. With conversation memory enabled, the prior
// turns of sessionID are replayed and the new turn is stored.
func (b *Bridge) ProcessMessage(ctx context.Context, sessionID, msg string) (string, error) {
	b.logger.Debug().Str("session", sessionID).Str("message", msg).Msg("processing message")

	var history []types.Message
	if b.memory != nil && sessionID != "" {
		h, err := b.memory.History(ctx, sessionID)
		if err != nil {
			b.logger.Warn().Err(err).Str("session", sessionID).Msg("failed to load history, continuing without it")
		}
		history = h
	}

	ex, err := b.orchestrator.Run(ctx, msg, history)
	if errors.Is(err, orchestrator.ErrEmptyMessage) {
		return "", err
	}
	if ex == nil {
		return "", &types.BridgeError{Operation: "process_message", Message: "exchange failed", Err: err}
	}
	if err != nil {
		b.logger.Warn().Err(err).Bool("degraded", ex.Degraded).Msg("exchange degraded")
	}

	if b.memory != nil && sessionID != "" {
		turn := []types.Message{
			{Role: types.RoleUser, Content: msg},
			{Role: types.RoleAssistant, Content: ex.Final},
		}
		if err := b.memory.Append(ctx, sessionID, turn...); err != nil {
			b.logger.Warn().Err(err).Str("session", sessionID).Msg("failed to store turn")
		}
	}

	b.logger.Debug().Int("tool_results", len(ex.Results)).Strs("states", states(ex)).Msg("exchange complete")
	return ex.Final, err
}

// Close releases the stores
func (b *Bridge) Close() error {
	var errs []error
	if b.memory != nil {
		if err := b.memory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("conversation store: %w", err))
		}
	}
	if b.store != nil {
		if err := b.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("transaction store: %w", err))
		}
	}
	if b.index != nil {
		if err := b.index.Close(); err != nil {
			errs = append(errs, fmt.Errorf("semantic index: %w", err))
		}
	}
	return errors.Join(errs...)
}

func states(ex *orchestrator.Exchange) []string {
	out := make([]string, len(ex.States))
	for i, s := range ex.States {
		out[i] = string(s)
	}
	return out
}
