// Package main provides the CLI entry point for the forensic auditor.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/sammcj/auditor/bridge"
	"github.com/sammcj/auditor/config"
	"github.com/sammcj/auditor/interactive"
	"github.com/sammcj/auditor/mcpserver"
	"github.com/sammcj/auditor/server"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Version information (set at build time)
var version = "dev"

var (
	configPath string
	logLevel   string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "auditor",
		Short: "Conversational forensic auditor over transactions, policy and e-mail",
		Long: `Auditor answers questions about company spending by combining SQL over the
transaction table with semantic search over the compliance policy and e-mails.

Run 'auditor ingest' once to build the data stores, then 'auditor serve' or 'auditor chat'.`,
		Version:       version,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ~/.config/auditor/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")

	rootCmd.AddCommand(
		newServeCmd(),
		newChatCmd(),
		newAskCmd(),
		newMCPCmd(),
		newIngestCmd(),
		newConfigCmd(),
	)
	return rootCmd
}

// setup loads the configuration and builds the logger
func setup(cmd *cobra.Command) (*config.Config, zerolog.Logger, error) {
	cfg, created, err := config.LoadOrCreate(configPath)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	logger := newLogger(cfg.Logging, cmd.ErrOrStderr())
	if created {
		logger.Info().Msg("wrote default configuration")
	}
	return cfg, logger, nil
}

// openBridge loads and validates the configuration and assembles the auditor
func openBridge(cmd *cobra.Command) (*bridge.Bridge, *config.Config, zerolog.Logger, error) {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return nil, nil, logger, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, logger, err
	}
	b, err := bridge.New(cmd.Context(), cfg, logger)
	if err != nil {
		return nil, nil, logger, err
	}
	return b, cfg, logger, nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat API over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, cfg, logger, err := openBridge(cmd)
			if err != nil {
				return err
			}

			srv := server.New(cfg.Server, b, logger)
			sm := server.NewShutdownManager(srv.HTTPServer(), logger, b)

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Start()
			}()
			go func() {
				if err := sm.HandleGracefulShutdown(); err != nil {
					logger.Error().Err(err).Msg("shutdown failed")
				}
			}()

			err = <-errCh
			if err != nil {
				b.Close()
				return err
			}
			sm.WaitForShutdown()
			return nil
		},
	}
}

func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Chat with the auditor in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, cfg, logger, err := openBridge(cmd)
			if err != nil {
				return err
			}
			defer b.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return interactive.New(cfg, b, cmd.InOrStdin(), cmd.OutOrStdout(), logger).Start(ctx)
		},
	}
}

func newAskCmd() *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a single question and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, _, _, err := openBridge(cmd)
			if err != nil {
				return err
			}
			defer b.Close()

			answer, err := b.ProcessMessage(cmd.Context(), sessionID, strings.Join(args, " "))
			if answer != "" {
				fmt.Fprintln(cmd.OutOrStdout(), answer)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "conversation session to continue (requires conversation.persist)")
	return cmd
}

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the audit tools over MCP stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, _, logger, err := openBridge(cmd)
			if err != nil {
				return err
			}
			defer b.Close()

			return mcpserver.NewMCPServer(cmd.Context(), b.Registry(), b.Toolbox(), version, logger).Serve()
		},
	}
}

func newIngestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Load the transaction CSV and index the policy and e-mail documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}

			summary, err := bridge.Ingest(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Transactions loaded: %d\n", summary.Transactions)
			for source, n := range summary.Fragments {
				fmt.Fprintf(out, "Fragments indexed (%s): %d\n", source, n)
			}
			for _, path := range summary.Skipped {
				fmt.Fprintf(out, "Skipped missing document: %s\n", path)
			}
			return nil
		},
	}
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := setup(cmd)
			if err != nil {
				return err
			}
			path := configPath
			if path == "" {
				if path, err = config.GetConfigPath(); err != nil {
					return err
				}
			}

			redacted := *cfg
			redacted.LLM.APIKey = redact(cfg.LLM.APIKey)
			redacted.Embedding.APIKey = redact(cfg.Embedding.APIKey)
			data, err := yaml.Marshal(&redacted)
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "# %s\n%s", path, data)
			if err := cfg.Validate(); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
			}
			return nil
		},
	}
}

func redact(secret string) string {
	if secret == "" {
		return ""
	}
	return "********"
}
