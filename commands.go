package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lemayian23/code-review-ai/internal/githubfetch"
	"github.com/lemayian23/code-review-ai/internal/ragstore"
	"github.com/lemayian23/code-review-ai/internal/review"
	"github.com/lemayian23/code-review-ai/internal/types"
)

func newRootCmd() *cobra.Command {
	var cfgFile, logLevel string

	root := &cobra.Command{
		Use:   "crai",
		Short: "AI code review with retrieval context and feedback learning",
		Long: `crai analyzes code changes with a layered pipeline: deterministic
pattern rules, retrieval of relevant repository context, and tiered model
analysis. Feedback on suggestions adjusts pattern confidence over time.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(
		newAnalyzeCmd(&cfgFile, &logLevel),
		newIndexCmd(&cfgFile, &logLevel),
		newFeedbackCmd(&cfgFile, &logLevel),
		newMetricsCmd(&cfgFile, &logLevel),
		newPatternsCmd(&cfgFile, &logLevel),
	)
	return root
}

func newAnalyzeCmd(cfgFile, logLevel *string) *cobra.Command {
	var prRef, repo string
	var rulesOnly bool

	cmd := &cobra.Command{
		Use:   "analyze [diff-file]",
		Short: "Analyze a diff and print ranked suggestions",
		Long: `Analyze reads a unified diff from a file, stdin ("-"), or a GitHub
pull request (--pr owner/repo#number) and runs the full analysis
pipeline. Progress streams to the terminal; the final output is the
ranked suggestion list with calibrated confidence.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx, *cfgFile, *logLevel, !rulesOnly)
			if err != nil {
				return err
			}
			defer a.close()

			diff, repository, err := resolveDiff(cmd, args, prRef, repo, a)
			if err != nil {
				return err
			}

			r, err := a.manager.Submit(ctx, review.Request{
				Repository: repository,
				Diff:       diff,
			})
			if err != nil {
				return err
			}

			final, err := a.manager.Wait(ctx, r.ID)
			if err != nil {
				return err
			}
			if final.Status == types.StatusFailed {
				return fmt.Errorf("review %s failed: %s", final.ID, final.FailureMsg)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&prRef, "pr", "", "GitHub pull request as owner/repo#number")
	cmd.Flags().StringVar(&repo, "repo", "", "repository name used to scope context retrieval")
	cmd.Flags().BoolVar(&rulesOnly, "rules-only", false, "skip model analysis and retrieval, run pattern rules only")
	return cmd
}

func resolveDiff(cmd *cobra.Command, args []string, prRef, repo string, a *app) (string, string, error) {
	if prRef != "" {
		ref, err := githubfetch.ParsePRRef(prRef)
		if err != nil {
			return "", "", err
		}
		token := a.cfg.GitHubToken
		if token == "" {
			token = os.Getenv("GITHUB_TOKEN")
		}
		gh := githubfetch.NewClient(cmd.Context(), token)
		if title, err := gh.FetchTitle(cmd.Context(), ref); err == nil {
			a.console.Printf("Reviewing %s: %s\n", ref, title)
		}
		diff, err := gh.FetchDiff(cmd.Context(), ref)
		if err != nil {
			return "", "", err
		}
		return diff, ref.Repository(), nil
	}

	if len(args) == 0 {
		return "", "", fmt.Errorf("provide a diff file, \"-\" for stdin, or --pr")
	}

	var data []byte
	var err error
	if args[0] == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		return "", "", fmt.Errorf("failed to read diff: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return "", "", fmt.Errorf("diff is empty")
	}
	return string(data), repo, nil
}

func newIndexCmd(cfgFile, logLevel *string) *cobra.Command {
	var repo string

	cmd := &cobra.Command{
		Use:   "index <path>",
		Short: "Index a repository so its code can serve as review context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx, *cfgFile, *logLevel, true)
			if err != nil {
				return err
			}
			defer a.close()

			if a.index == nil {
				return fmt.Errorf("context index could not be opened")
			}
			if repo == "" {
				repo = args[0]
			}

			ix := ragstore.NewIndexer(a.index, a.embedder, a.logger)
			n, err := ix.IndexRepository(ctx, args[0], repo)
			if err != nil {
				return err
			}
			a.console.Printf("Indexed %d chunks from %s as %q\n", n, args[0], repo)
			return nil
		},
	}
	cmd.Flags().StringVar(&repo, "repo", "", "repository name to index under (default: the path)")
	return cmd
}

func newFeedbackCmd(cfgFile, logLevel *string) *cobra.Command {
	var helpful, notHelpful bool
	var correction string

	cmd := &cobra.Command{
		Use:   "feedback <suggestion-id>",
		Short: "Record whether a suggestion was helpful",
		Long: `Feedback links a human judgment to a past suggestion. Helpful
feedback raises the weight of the patterns that produced it; a dismissal
lowers them. Weights adjust gradually and never drop below the floor.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if helpful == notHelpful {
				return fmt.Errorf("pass exactly one of --helpful or --not-helpful")
			}
			ctx := cmd.Context()

			a, err := newApp(ctx, *cfgFile, *logLevel, false)
			if err != nil {
				return err
			}
			defer a.close()

			err = a.learner.Submit(ctx, types.Feedback{
				SuggestionID: args[0],
				Helpful:      helpful,
				Correction:   correction,
			})
			if err != nil {
				return err
			}
			a.console.Printf("Feedback recorded for suggestion %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&helpful, "helpful", false, "the suggestion was helpful")
	cmd.Flags().BoolVar(&notHelpful, "not-helpful", false, "the suggestion was not helpful")
	cmd.Flags().StringVar(&correction, "correction", "", "optional corrected description of the issue")
	return cmd
}

func newMetricsCmd(cfgFile, logLevel *string) *cobra.Command {
	var recompute bool

	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Show learning quality metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx, *cfgFile, *logLevel, false)
			if err != nil {
				return err
			}
			defer a.close()

			var m *types.LearningMetrics
			if recompute {
				m, err = a.learner.ComputeMetrics(ctx)
			} else {
				m, err = a.store.LatestMetrics(ctx)
				if err == nil && m == nil {
					m, err = a.learner.ComputeMetrics(ctx)
				}
			}
			if err != nil {
				return err
			}
			a.console.PrintMetrics(m)
			return nil
		},
	}
	cmd.Flags().BoolVar(&recompute, "recompute", false, "recompute from the full feedback log instead of showing the last snapshot")
	return cmd
}

func newPatternsCmd(cfgFile, logLevel *string) *cobra.Command {
	return &cobra.Command{
		Use:   "patterns",
		Short: "List the active detection patterns and their learned weights",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx, *cfgFile, *logLevel, false)
			if err != nil {
				return err
			}
			defer a.close()

			for _, p := range a.patterns.List() {
				state := " "
				if !p.Active {
					state = "-"
				}
				a.console.Printf("%s %-26s %-16s %-8s base %.2f factor %.2f\n",
					state, p.ID, p.Category, p.Severity, p.BaseWeight, a.weights.Factor(p.ID))
			}
			return nil
		},
	}
}
