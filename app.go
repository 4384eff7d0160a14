package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/XiaoConstantine/dspy-go/pkg/core"
	"github.com/XiaoConstantine/dspy-go/pkg/llms"
	"github.com/XiaoConstantine/dspy-go/pkg/logging"

	"github.com/lemayian23/code-review-ai/internal/aggregate"
	"github.com/lemayian23/code-review-ai/internal/config"
	"github.com/lemayian23/code-review-ai/internal/console"
	"github.com/lemayian23/code-review-ai/internal/learning"
	"github.com/lemayian23/code-review-ai/internal/llm"
	"github.com/lemayian23/code-review-ai/internal/ragstore"
	"github.com/lemayian23/code-review-ai/internal/retriever"
	"github.com/lemayian23/code-review-ai/internal/review"
	"github.com/lemayian23/code-review-ai/internal/rules"
	"github.com/lemayian23/code-review-ai/internal/store"
	"github.com/lemayian23/code-review-ai/internal/types"
)

// app holds the wired components for one CLI invocation.
type app struct {
	cfg      *config.Config
	logger   *logging.Logger
	console  *console.Console
	store    *store.SQLite
	index    *ragstore.Store
	weights  *rules.WeightTable
	patterns *rules.Store
	learner  *learning.Learner
	manager  *review.Manager
	embedder core.LLM
}

func setupLogging(level string) *logging.Logger {
	severity := logging.INFO
	switch strings.ToLower(level) {
	case "debug":
		severity = logging.DEBUG
	case "warn":
		severity = logging.WARN
	case "error":
		severity = logging.ERROR
	}
	logger := logging.NewLogger(logging.Config{
		Severity: severity,
		Outputs:  []logging.Output{logging.NewConsoleOutput(true, logging.WithColor(true))},
	})
	logging.SetLogger(logger)
	return logger
}

// newApp wires the full pipeline from configuration. withModels controls
// whether provider clients are constructed; offline commands such as
// metrics and patterns skip them.
func newApp(ctx context.Context, cfgFile, logLevel string, withModels bool) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	logger := setupLogging(logLevel)

	a := &app{
		cfg:     cfg,
		logger:  logger,
		console: console.New(os.Stdout, logger),
	}

	a.store, err = store.Open(cfg.DBPath, logger)
	if err != nil {
		return nil, err
	}

	a.patterns = rules.NewStoreWithDefaults()
	a.weights = rules.NewWeightTable(cfg.LearningRate, cfg.WeightFloor)
	persisted, err := a.store.LoadWeights(ctx)
	if err != nil {
		a.close()
		return nil, err
	}
	for id, factor := range persisted {
		a.weights.Set(id, factor)
	}

	a.learner = learning.New(a.store, a.weights, nil, logger)
	engine := rules.NewEngine(a.patterns, a.weights, cfg.RuleWorkers, logger)

	var analyzer review.Analyzer = noopAnalyzer{}
	var ret review.Retriever
	if withModels {
		geminiKey := cfg.GeminiAPIKey
		if geminiKey == "" {
			geminiKey = os.Getenv("GEMINI_API_KEY")
		}
		anthropicKey := cfg.AnthropicAPIKey
		if anthropicKey == "" {
			anthropicKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if geminiKey == "" || anthropicKey == "" {
			a.close()
			return nil, fmt.Errorf("GEMINI_API_KEY and ANTHROPIC_API_KEY must be set")
		}

		triage, err := llm.NewTriageProvider(geminiKey, cfg.TriageModel)
		if err != nil {
			a.close()
			return nil, err
		}
		deep, err := llm.NewDeepProvider(anthropicKey, cfg.DeepModel)
		if err != nil {
			a.close()
			return nil, err
		}
		analyzer = llm.NewOrchestrator(triage, deep, llm.Options{
			CallTimeout: cfg.ProviderTimeout,
			CacheTTL:    cfg.CacheTTL,
		}, logger)

		llms.EnsureFactory()
		a.embedder, err = llms.NewGeminiLLM(geminiKey, core.ModelID(cfg.EmbeddingModel))
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to create embedding model: %w", err)
		}

		a.index, err = ragstore.Open(cfg.IndexDBPath, cfg.VectorDimensions, logger)
		if err != nil {
			logger.Warn(ctx, "Context index unavailable, reviews run without retrieval: %v", err)
		} else {
			ret = retriever.New(a.embedder, a.index, retriever.Options{
				SimilarityThreshold: cfg.SimilarityThreshold,
				Timeout:             cfg.RetrievalTimeout,
			}, logger)
		}
	}

	aggregator := aggregate.New(aggregate.WithCap(cfg.ConfidenceCap))
	a.manager = review.NewManager(ret, engine, analyzer, aggregator, a.store, review.Options{
		RetrievalTopK: cfg.RetrievalTopK,
		Deadline:      cfg.ReviewDeadline,
		BudgetUSD:     cfg.ReviewBudgetUSD,
	}, logger, a.console)

	return a, nil
}

func (a *app) close() {
	if a.learner != nil {
		a.learner.Close()
	}
	if a.index != nil {
		a.index.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
}

// noopAnalyzer keeps the pipeline runnable when model providers are not
// configured; only the pattern layer contributes findings.
type noopAnalyzer struct{}

func (noopAnalyzer) Analyze(context.Context, string, string, *llm.Budget) ([]types.Finding, error) {
	return nil, nil
}
