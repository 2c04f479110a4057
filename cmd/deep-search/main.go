package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mikeboe/deep-search/pkg/config"
	"github.com/mikeboe/deep-search/pkg/generation"
	"github.com/mikeboe/deep-search/pkg/research"
	"github.com/mikeboe/deep-search/pkg/research/tools"
	"github.com/spf13/cobra"
)

var (
	intent         string
	outPath        string
	checkpointPath string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "deep-search [query]",
		Short: "A terminal-based deep research agent",
		Long: `deep-search asks three clarifying questions, then iterates Plan -> Search -> Evaluate
over the web and writes a cited Markdown answer.`,
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			query := ""
			if len(args) == 1 {
				query = args[0]
			}
			return runResearch(cmd.Context(), query, os.Stdin, cmd.OutOrStdout())
		},
	}

	rootCmd.Flags().StringVarP(&intent, "intent", "i", "", "Answer to the clarifying questions; prompts interactively when empty")
	rootCmd.Flags().StringVarP(&outPath, "out", "o", "", "Also write the final answer to this file")
	rootCmd.Flags().StringVarP(&checkpointPath, "checkpoint", "c", "", "Save progress to this file and resume from it when it exists")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("Command execution failed", "error", err)
		os.Exit(1)
	}
}

func runResearch(ctx context.Context, query string, stdin io.Reader, out io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)
	if err := cfg.Validate(); err != nil {
		return err
	}

	agents, err := generation.FromConfig(ctx, cfg, logger)
	if err != nil {
		return err
	}
	search, err := tools.New(cfg)
	if err != nil {
		return err
	}
	engine, err := research.NewEngine(agents.Capabilities(), search, research.Options{
		MaxRounds:       cfg.MaxRounds,
		ResultsPerQuery: cfg.ResultsPerQuery,
	})
	if err != nil {
		return err
	}
	engine.Logger = logger

	reader := bufio.NewReader(stdin)
	streamed := false
	opts := []research.RunOption{
		research.WithLogger(logger),
		research.WithAnswerStream(func(chunk string) {
			streamed = true
			fmt.Fprint(out, chunk)
		}),
	}
	if checkpointPath != "" {
		opts = append(opts, research.WithCheckpointHook(func(cp research.Checkpoint) {
			if err := saveCheckpoint(checkpointPath, cp); err != nil {
				logger.Warn("Failed to save checkpoint", "path", checkpointPath, "error", err)
			}
		}))
	}

	run, err := openRun(ctx, engine, query, reader, out, opts)
	if err != nil {
		return err
	}

	var res research.RunResult
	if s := run.Suspension(); s != nil {
		fmt.Fprintln(out, s.AssistantMessage)
		answer := intent
		if strings.TrimSpace(answer) == "" {
			fmt.Fprint(out, "\n> ")
			answer = readLine(reader)
		}
		if answer == "" {
			if checkpointPath != "" {
				fmt.Fprintf(out, "\nRun suspended. Resume with: deep-search --checkpoint %s --intent \"...\"\n", checkpointPath)
				return nil
			}
			return errors.New("an answer to the clarifying questions is required")
		}
		res, err = run.Resume(ctx, answer)
	} else {
		res, err = run.Continue(ctx)
	}
	if checkpointPath != "" && run.Phase().Terminal() {
		if rmErr := clearCheckpoint(checkpointPath); rmErr != nil {
			logger.Warn("Failed to remove finished checkpoint", "path", checkpointPath, "error", rmErr)
		}
	}
	if err != nil {
		if ctx.Err() != nil && checkpointPath != "" {
			logger.Info("Interrupted; progress saved", "checkpoint", checkpointPath, "phase", run.Phase())
		}
		return err
	}

	if !streamed {
		fmt.Fprint(out, res.Answer)
	}
	fmt.Fprintln(out)
	logger.Info("Research complete", "run_id", run.ID(), "rounds", res.Rounds, "exhausted", res.Exhausted)

	if outPath != "" {
		if err := os.WriteFile(outPath, []byte(res.Answer), 0o644); err != nil {
			return fmt.Errorf("failed to write answer: %w", err)
		}
	}
	return nil
}

// openRun restores the checkpointed run when one exists, otherwise starts a
// new one, prompting for the query when none was given.
func openRun(ctx context.Context, engine *research.Engine, query string, reader *bufio.Reader, out io.Writer, opts []research.RunOption) (*research.Run, error) {
	cp, found, err := loadCheckpoint(checkpointPath)
	if err != nil {
		return nil, err
	}
	if found {
		slog.Info("Resuming run", "run_id", cp.RunID, "phase", cp.Phase, "round", cp.Round)
		return engine.Restore(cp, opts...)
	}

	if strings.TrimSpace(query) == "" {
		fmt.Fprint(out, "Enter your research question: ")
		query = readLine(reader)
		if query == "" {
			return nil, errors.New("query cannot be empty")
		}
	}
	run, err := engine.Start(ctx, query, opts...)
	if err != nil {
		return nil, err
	}
	return run, nil
}

func readLine(r *bufio.Reader) string {
	line, _ := r.ReadString('\n')
	return strings.TrimSpace(line)
}
