// interactive/interactive.go
package interactive

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sammcj/auditor/config"
)

// Processor answers one chat message
type Processor interface {
	ProcessMessage(ctx context.Context, sessionID, msg string) (string, error)
}

type Interactive struct {
	logger    zerolog.Logger
	scanner   *bufio.Scanner
	out       io.Writer
	cfg       *config.Config
	processor Processor
	sessionID string
}

func New(cfg *config.Config, processor Processor, in io.Reader, out io.Writer, logger zerolog.Logger) *Interactive {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Interactive{
		scanner:   scanner,
		out:       out,
		logger:    logger.With().Str("component", "interactive").Logger(),
		cfg:       cfg,
		processor: processor,
		sessionID: uuid.NewString(),
	}
}

// Start reads messages until quit, exit or end of input
func (i *Interactive) Start(ctx context.Context) error {
	fmt.Fprintln(i.out, "\n=== Forensic Auditor Ready ===")
	fmt.Fprintln(i.out, "Type 'quit' or press Ctrl+D to exit, 'new' to start a new session")
	fmt.Fprintf(i.out, "Connected to model: %s (%s)\n", i.cfg.LLM.Model, i.cfg.LLM.Provider)
	fmt.Fprintf(i.out, "Transactions: %s\n", i.cfg.Database.DSN)
	fmt.Fprintln(i.out, "==============================")

	for {
		fmt.Fprint(i.out, "\nEnter your message: ")
		if !i.scanner.Scan() {
			if err := i.scanner.Err(); err != nil {
				return fmt.Errorf("failed to read input: %w", err)
			}
			fmt.Fprintln(i.out, "\nGoodbye!")
			return nil
		}

		input := strings.TrimSpace(i.scanner.Text())
		switch input {
		case "":
			continue
		case "quit", "exit":
			fmt.Fprintln(i.out, "Goodbye!")
			return nil
		case "new":
			i.sessionID = uuid.NewString()
			fmt.Fprintln(i.out, "Started a new session.")
			continue
		}

		i.logger.Debug().Str("session", i.sessionID).Str("message", input).Msg("sending message")
		response, err := i.processor.ProcessMessage(ctx, i.sessionID, input)
		if errors.Is(err, context.Canceled) {
			return err
		}
		if err != nil {
			i.logger.Debug().Err(err).Msg("processor returned an error")
			if response == "" {
				fmt.Fprintf(i.out, "\nError: %v\n", err)
				continue
			}
		}

		if response == "" {
			fmt.Fprintln(i.out, "\nNo response received.")
			continue
		}
		fmt.Fprintf(i.out, "\n%s\n", response)
	}
}
