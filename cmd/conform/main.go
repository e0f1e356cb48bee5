package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/voocel/conform"
	"github.com/voocel/conform/adapter"
	"github.com/voocel/conform/containment"
	"github.com/voocel/conform/schema"
	"github.com/voocel/conform/store"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "conform",
		Short: "Schema-conforming structured output from CLI agents",
		Long: "Conform runs a CLI agent against a JSON Schema, serves it the\n" +
			"example/validate/submit tool bridge, and retries with structured\n" +
			"feedback until the agent produces a conforming value.",
	}

	rootCmd.AddCommand(newExtractCommand())
	rootCmd.AddCommand(newExampleCommand())
	rootCmd.AddCommand(newRunsCommand())
	rootCmd.AddCommand(newShowCommand())
	rootCmd.AddCommand(newDeleteCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "conform.db"
	}
	return filepath.Join(home, ".conform", "runs.db")
}

func newExtractCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract <prompt>",
		Short: "Run an extraction against a JSON Schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := args[0]
			schemaPath, _ := cmd.Flags().GetString("schema")
			payloadPath, _ := cmd.Flags().GetString("payload")
			agentKind, _ := cmd.Flags().GetString("agent")
			binary, _ := cmd.Flags().GetString("bin")
			maxAttempts, _ := cmd.Flags().GetInt("max-attempts")
			timeout, _ := cmd.Flags().GetDuration("timeout")
			maxTurns, _ := cmd.Flags().GetInt("max-turns")
			allowBuiltin, _ := cmd.Flags().GetStringSlice("allow-builtin")
			dbPath, _ := cmd.Flags().GetString("db")
			noSave, _ := cmd.Flags().GetBool("no-save")
			verbose, _ := cmd.Flags().GetBool("verbose")
			jsonOnly, _ := cmd.Flags().GetBool("json")

			schemaRaw, err := os.ReadFile(schemaPath)
			if err != nil {
				return fmt.Errorf("failed to read schema: %w", err)
			}

			opts := []conform.RequestOption{
				conform.WithMaxAttempts(maxAttempts),
				conform.WithTimeoutPerAttempt(timeout),
			}
			if payloadPath != "" {
				payload, err := os.ReadFile(payloadPath)
				if err != nil {
					return fmt.Errorf("failed to read payload: %w", err)
				}
				opts = append(opts, conform.WithPayload(string(payload)))
			}
			if len(allowBuiltin) > 0 {
				opts = append(opts, conform.WithPolicy(containment.NewPolicy(
					containment.WithBuiltinAllow(allowBuiltin...),
				)))
			}

			switch agentKind {
			case "claude":
				opts = append(opts, conform.WithAdapter(&adapter.Claude{
					Binary:   binary,
					MaxTurns: maxTurns,
				}))
			case "script":
				if binary == "" {
					return fmt.Errorf("--agent script requires --bin")
				}
				opts = append(opts, conform.WithAdapter(&adapter.Script{Path: binary}))
			default:
				return fmt.Errorf("unknown agent %q (want claude or script)", agentKind)
			}

			logger := zap.NewNop()
			if verbose {
				logger, err = zap.NewDevelopment()
				if err != nil {
					return err
				}
				defer logger.Sync()
			}

			req := conform.NewRequest(schemaRaw, prompt, opts...)
			extractor := conform.New(conform.WithLogger(logger))
			out, err := extractor.Extract(cmd.Context(), req)
			if err != nil {
				return err
			}

			if !noSave {
				s, err := store.Open(dbPath)
				if err != nil {
					return fmt.Errorf("failed to open run database: %w", err)
				}
				defer s.Close()
				runID, err := s.SaveOutcome(req, out)
				if err != nil {
					return fmt.Errorf("failed to save run: %w", err)
				}
				if !jsonOnly {
					fmt.Printf("Saved run #%d\n", runID)
				}
			}

			if jsonOnly {
				if !out.Succeeded() {
					return fmt.Errorf("extraction failed: %s", out.Status)
				}
				fmt.Println(string(out.Value))
				return nil
			}

			printOutcome(out)
			if !out.Succeeded() {
				return fmt.Errorf("extraction failed: %s", out.Status)
			}
			return nil
		},
	}

	cmd.Flags().StringP("schema", "s", "", "Path to the target JSON Schema (required)")
	cmd.MarkFlagRequired("schema")
	cmd.Flags().StringP("payload", "d", "", "Path to a context data file, kept separate from instructions")
	cmd.Flags().String("agent", "claude", "Agent adapter: claude or script")
	cmd.Flags().String("bin", "", "Agent binary override")
	cmd.Flags().Int("max-attempts", conform.DefaultMaxAttempts, "Retry budget shared by all failure kinds")
	cmd.Flags().Duration("timeout", conform.DefaultTimeoutPerAttempt, "Per-attempt deadline")
	cmd.Flags().Int("max-turns", 0, "Agent turn cap (claude adapter)")
	cmd.Flags().StringSlice("allow-builtin", nil, "Agent builtin tools to allow (e.g. Read,Grep)")
	cmd.Flags().String("db", defaultDBPath(), "Run database path")
	cmd.Flags().Bool("no-save", false, "Do not persist the run")
	cmd.Flags().BoolP("verbose", "v", false, "Verbose logging")
	cmd.Flags().Bool("json", false, "Print only the conforming JSON value")
	return cmd
}

func printOutcome(out *conform.Outcome) {
	fmt.Printf("Status: %s\n", out.Status)
	fmt.Printf("Attempts: %d (wall time %s)\n", out.Metrics.Attempts, out.Metrics.WallTime.Round(time.Millisecond))
	if out.Metrics.InputTokens > 0 || out.Metrics.OutputTokens > 0 {
		fmt.Printf("Tokens: %d in / %d out\n", out.Metrics.InputTokens, out.Metrics.OutputTokens)
	} else {
		fmt.Printf("Tokens (estimated): %d in / %d out\n",
			out.Metrics.EstimatedInputTokens, out.Metrics.EstimatedOutputTokens)
	}

	switch {
	case out.Succeeded():
		fmt.Printf("Value:\n%s\n", out.Value)
	case out.Err != nil:
		fmt.Printf("Error: %v\n", out.Err)
	default:
		for _, rec := range out.Attempts {
			fmt.Printf("\nAttempt %d (%s):\n", rec.Number, rec.Elapsed.Round(time.Millisecond))
			for _, msg := range rec.ValidationErrors {
				fmt.Printf("  - %s\n", msg)
			}
		}
	}
}

func newExampleCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "example <schema-file>",
		Short: "Print a synthesized example for a JSON Schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read schema: %w", err)
			}
			compiled, err := schema.Compile(raw)
			if err != nil {
				return err
			}
			fmt.Println(string(compiled.Example()))
			return nil
		},
	}
}

func newRunsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			dbPath, _ := cmd.Flags().GetString("db")
			limit, _ := cmd.Flags().GetInt("limit")

			s, err := store.Open(dbPath)
			if err != nil {
				return fmt.Errorf("failed to open run database: %w", err)
			}
			defer s.Close()

			runs, err := s.ListRuns(limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("No runs recorded.")
				return nil
			}
			for _, run := range runs {
				fmt.Printf("#%-4d %-22s %-20s attempts=%d %s\n",
					run.ID, run.CreatedAt.Format(time.RFC3339), run.Status,
					run.Metrics.Attempts, truncate(run.Prompt, 50))
			}
			return nil
		},
	}
	cmd.Flags().String("db", defaultDBPath(), "Run database path")
	cmd.Flags().IntP("limit", "n", 20, "Maximum runs to list")
	return cmd
}

func newShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run with its attempt history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid run ID: %w", err)
			}
			dbPath, _ := cmd.Flags().GetString("db")

			s, err := store.Open(dbPath)
			if err != nil {
				return fmt.Errorf("failed to open run database: %w", err)
			}
			defer s.Close()

			run, err := s.GetRun(runID)
			if err != nil {
				return fmt.Errorf("failed to get run: %w", err)
			}

			fmt.Printf("Run #%d (%s)\n", run.ID, run.CreatedAt.Format(time.RFC3339))
			fmt.Printf("Status: %s\n", run.Status)
			fmt.Printf("Adapter: %s\n", run.Adapter)
			fmt.Printf("Prompt: %s\n", run.Prompt)
			fmt.Printf("Attempts: %d (wall time %s)\n", run.Metrics.Attempts, run.Metrics.WallTime)
			if run.Error != "" {
				fmt.Printf("Error: %s\n", run.Error)
			}
			if len(run.Value) > 0 {
				var pretty json.RawMessage = run.Value
				if indented, err := json.MarshalIndent(pretty, "", "  "); err == nil {
					fmt.Printf("Value:\n%s\n", indented)
				} else {
					fmt.Printf("Value:\n%s\n", run.Value)
				}
			}

			attempts, err := s.GetAttempts(runID)
			if err != nil {
				return err
			}
			for _, a := range attempts {
				fmt.Printf("\nAttempt %d (%s):\n", a.Number, a.Elapsed)
				if len(a.Submitted) > 0 {
					fmt.Printf("  Submitted: %s\n", a.Submitted)
				} else {
					fmt.Println("  Submitted: (none)")
				}
				for _, msg := range a.ValidationErrors {
					fmt.Printf("  - %s\n", msg)
				}
			}
			return nil
		},
	}
	cmd.Flags().String("db", defaultDBPath(), "Run database path")
	return cmd
}

func newDeleteCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete a run and its attempts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid run ID: %w", err)
			}
			dbPath, _ := cmd.Flags().GetString("db")

			s, err := store.Open(dbPath)
			if err != nil {
				return fmt.Errorf("failed to open run database: %w", err)
			}
			defer s.Close()

			if err := s.DeleteRun(runID); err != nil {
				return fmt.Errorf("failed to delete run: %w", err)
			}
			fmt.Printf("Deleted run #%d\n", runID)
			return nil
		},
	}
	cmd.Flags().String("db", defaultDBPath(), "Run database path")
	return cmd
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
