package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"reflect"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/openlend/loan-matcher/internal/records"
	"github.com/openlend/loan-matcher/internal/secrets"
	"github.com/openlend/loan-matcher/internal/store"
)

const (
	app = "loan-matcher"
)

type Config struct {
	Database *DatabaseConfig `mapstructure:"database"`
	Ingest   *IngestConfig   `mapstructure:"ingest"`
	Pipeline *PipelineConfig `mapstructure:"pipeline"`
}

type DatabaseConfig struct {
	DSN     string `mapstructure:"dsn"`
	DSNFile string `mapstructure:"dsn-file"`
}

type IngestConfig struct {
	ChunkSize int `mapstructure:"chunk-size"`
}

type PipelineConfig struct {
	Workers     int                `mapstructure:"workers"`
	Policy      *PolicyConfig      `mapstructure:"policy"`
	Arbitration *ArbitrationConfig `mapstructure:"arbitration"`
}

type PolicyConfig struct {
	BaseScore            int             `mapstructure:"base-score"`
	CreditBonusThreshold int             `mapstructure:"credit-bonus-threshold"`
	CreditBonus          int             `mapstructure:"credit-bonus"`
	IncomeBonusThreshold decimal.Decimal `mapstructure:"income-bonus-threshold"`
	IncomeBonus          int             `mapstructure:"income-bonus"`
	AmbiguityCreditFloor int             `mapstructure:"ambiguity-credit-floor"`
}

type ArbitrationConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Provider    string        `mapstructure:"provider"`
	MaxCalls    int           `mapstructure:"max-calls"`
	Concurrency int           `mapstructure:"concurrency"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Gemini      *GeminiConfig `mapstructure:"gemini"`
}

type GeminiConfig struct {
	APIKey       string `mapstructure:"api-key"`
	APIKeyFile   string `mapstructure:"api-key-file"`
	Model        string `mapstructure:"model"`
	MaxLogLength int    `mapstructure:"max-log-length"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "loan-matcher ingests applicant files and matches applicants against a loan product catalog",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	if err := viper.BindEnv("database.dsn", "LOAN_MATCHER_DATABASE_DSN"); err != nil {
		log.Fatalf("binding LOAN_MATCHER_DATABASE_DSN environment variable: %v", err)
	}
	if err := viper.BindEnv("pipeline.arbitration.gemini.api-key-file", "LOAN_MATCHER_GEMINI_KEY_FILE"); err != nil {
		log.Fatalf("binding LOAN_MATCHER_GEMINI_KEY_FILE environment variable: %v", err)
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is loan-matcher.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app + ".yaml")
	}

	// A missing config file is fine: every setting has a default or an env
	// binding. A config file that parses with an error is not.
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			log.Fatal(err)
		}
	}
}

// getConfig decodes the merged viper settings. Durations come from strings
// like "30s"; decimals from strings or numbers.
func getConfig() (*Config, error) {
	var config Config

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result: &config,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			decimalDecodeHook,
		),
	})
	if err != nil {
		return nil, fmt.Errorf("build config decoder: %w", err)
	}

	if err := decoder.Decode(viper.AllSettings()); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	return &config, nil
}

func decimalDecodeHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(decimal.Decimal{}) {
		return data, nil
	}

	switch v := data.(type) {
	case string:
		return decimal.NewFromString(v)
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case float64:
		return decimal.NewFromFloat(v), nil
	default:
		return data, nil
	}
}

// openStore resolves the database DSN and connects to the record store.
func openStore(ctx context.Context, config *Config, logger *zap.Logger) (*store.Store, error) {
	if config == nil || config.Database == nil {
		return nil, fmt.Errorf("database configuration is required")
	}

	dsn, err := secrets.Load(secrets.Source{
		Name:  "database dsn",
		Value: config.Database.DSN,
		File:  config.Database.DSNFile,
	})
	if err != nil {
		return nil, err
	}

	return store.Open(ctx, dsn, logger)
}

// buildPolicy starts from the shipped defaults and overlays any constants set
// in the configuration.
func buildPolicy(config *Config) records.Policy {
	policy := records.DefaultPolicy()
	if config == nil || config.Pipeline == nil || config.Pipeline.Policy == nil {
		return policy
	}

	override := config.Pipeline.Policy
	if override.BaseScore > 0 {
		policy.BaseScore = override.BaseScore
	}
	if override.CreditBonusThreshold > 0 {
		policy.CreditBonusThreshold = override.CreditBonusThreshold
	}
	if override.CreditBonus > 0 {
		policy.CreditBonus = override.CreditBonus
	}
	if override.IncomeBonusThreshold.IsPositive() {
		policy.IncomeBonusThreshold = override.IncomeBonusThreshold
	}
	if override.IncomeBonus > 0 {
		policy.IncomeBonus = override.IncomeBonus
	}
	if override.AmbiguityCreditFloor > 0 {
		policy.AmbiguityCreditFloor = override.AmbiguityCreditFloor
	}
	return policy
}
