package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/openlend/loan-matcher/internal/ai"
	"github.com/openlend/loan-matcher/internal/ai/gemini"
	"github.com/openlend/loan-matcher/internal/logger"
	"github.com/openlend/loan-matcher/internal/pipeline"
	"github.com/openlend/loan-matcher/internal/secrets"
)

const (
	PromptYes = "Yes"
	PromptNo  = "No"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the matching pipeline over the stored applicants and catalog",
	Run: func(cmd *cobra.Command, _ []string) {
		run(cmd)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolP("auto-approve", "y", false, "commit matches without asking for confirmation")
	runCmd.Flags().Bool("dry-run", false, "run the pipeline but do not write matches to the ledger")
}

// run executes the full pipeline: hard constraints, deterministic scoring,
// selective arbitration, then the ledger commit.
func run(cmd *cobra.Command) {
	ctx := context.Background()

	log := mustLogger()

	config, err := getConfig()
	if err != nil {
		log.Fatal("getting a config", zap.Error(err))
	}

	log.Info("starting the loan-matcher pipeline", zap.String("version", version))

	db, err := openStore(ctx, config, log)
	if err != nil {
		log.Fatal("connecting to the record store", zap.Error(err))
	}

	policy := buildPolicy(config)

	workers := 0
	arbitrationCfg := pipeline.ArbitrationConfig{}
	if config.Pipeline != nil {
		workers = config.Pipeline.Workers
		if arb := config.Pipeline.Arbitration; arb != nil {
			arbitrationCfg = pipeline.ArbitrationConfig{
				MaxCalls:    arb.MaxCalls,
				Concurrency: arb.Concurrency,
				CallTimeout: arb.Timeout,
			}
		}
	}

	arbiter, err := buildArbiter(ctx, config, log)
	if err != nil {
		log.Fatal("configuring the arbitration provider", zap.Error(err))
	}

	runner := pipeline.NewRunner(db, log,
		pipeline.NewHardConstraintFilter(db),
		pipeline.NewDeterministicScorer(policy, workers),
		pipeline.NewSelectiveArbitration(arbiter, arbitrationCfg, log),
	)

	set, summary, err := runner.Run(ctx)
	if err != nil {
		log.Fatal("pipeline failed", zap.Error(err))
	}

	logSummary(log, summary)

	if dryRun, _ := cmd.Flags().GetBool("dry-run"); dryRun {
		log.Info("exiting", zap.String("reason", "dry run requested"))
		return
	}

	if summary.Accepted == 0 {
		log.Info("exiting", zap.String("reason", "no accepted pairs to commit"))
		return
	}

	if autoApprove, _ := cmd.Flags().GetBool("auto-approve"); !autoApprove {
		prompt := promptui.Select{
			Label: fmt.Sprintf("Commit %d matches to the ledger?", summary.Accepted),
			Items: []string{PromptYes, PromptNo},
		}

		_, action, err := prompt.Run()
		if err != nil {
			log.Fatal("exiting", zap.Error(err))
		}
		if action != PromptYes {
			log.Info("exiting", zap.String("reason", "commit declined"))
			return
		}
	}

	if err := runner.Commit(ctx, set, summary); err != nil {
		log.Fatal("committing matches", zap.Error(err))
	}

	log.Info("run finished", zap.Int("committed", summary.Committed))
}

// buildArbiter wires the configured arbitration provider, or returns nil when
// arbitration is disabled (ambiguous pairs then stay unresolved).
func buildArbiter(ctx context.Context, config *Config, log *zap.Logger) (ai.Arbiter, error) {
	if config.Pipeline == nil || config.Pipeline.Arbitration == nil || !config.Pipeline.Arbitration.Enabled {
		return nil, nil
	}

	arb := config.Pipeline.Arbitration
	provider := strings.TrimSpace(arb.Provider)
	if provider == "" {
		provider = "gemini"
	}
	if !strings.EqualFold(provider, "gemini") {
		return nil, fmt.Errorf("unsupported arbitration provider %q", provider)
	}
	if arb.Gemini == nil {
		return nil, errors.New("gemini configuration is required when arbitration is enabled")
	}

	apiKey, err := secrets.Load(secrets.Source{
		Name:  "gemini api key",
		Value: arb.Gemini.APIKey,
		File:  arb.Gemini.APIKeyFile,
	})
	if err != nil {
		return nil, err
	}

	generator, err := gemini.NewGenerator(ctx, apiKey, arb.Gemini.Model)
	if err != nil {
		return nil, err
	}

	return gemini.NewArbiter(generator, log, arb.Gemini.MaxLogLength), nil
}

func logSummary(log *zap.Logger, summary *pipeline.Summary) {
	log.Info("run summary",
		zap.Int64("applicants", summary.Applicants),
		zap.Int64("products", summary.Products),
		zap.Int64("cross_product", summary.CrossProduct),
		zap.Int("stage1_pairs", summary.Stage1Pairs),
		zap.Int("accepted", summary.Accepted),
		zap.Int("ambiguous", summary.Ambiguous),
		zap.Int("arbitration_calls", summary.ArbitrationCalls),
		zap.Int("arbitration_accepted", summary.ArbitrationAccepted),
		zap.Int("unresolved", summary.Unresolved),
		zap.Duration("duration", summary.Duration),
	)
}

// mustLogger builds the zap logger from the global flags.
func mustLogger() *zap.Logger {
	l, err := logger.New(flagBool("json"), flagBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}
	return l
}

func flagBool(name string) bool {
	flag := rootCmd.PersistentFlags().Lookup(name)
	if flag == nil {
		return false
	}
	return strings.EqualFold(flag.Value.String(), "true")
}
