package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/openlend/loan-matcher/internal/records"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage the loan product catalog",
}

var catalogImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Upsert product definitions from a yaml file into the catalog",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runCatalogImport(cmd, args[0])
	},
}

func init() {
	rootCmd.AddCommand(catalogCmd)
	catalogCmd.AddCommand(catalogImportCmd)
}

// productSpec is the yaml shape of one catalog entry. Absent bounds mean the
// dimension is unconstrained.
type productSpec struct {
	Name                     string  `yaml:"name"`
	Provider                 string  `yaml:"provider"`
	InterestRate             string  `yaml:"interest-rate"`
	MinIncome                *string `yaml:"min-income"`
	MinCreditScore           *int    `yaml:"min-credit-score"`
	MaxCreditScore           *int    `yaml:"max-credit-score"`
	MinAge                   *int    `yaml:"min-age"`
	MaxAge                   *int    `yaml:"max-age"`
	RequiredEmploymentStatus string  `yaml:"required-employment-status"`
	MinAmount                string  `yaml:"min-amount"`
	MaxAmount                string  `yaml:"max-amount"`
	ComplexEligibility       bool    `yaml:"complex-eligibility"`
	EligibilityNotes         string  `yaml:"eligibility-notes"`
}

type catalogFile struct {
	Products []productSpec `yaml:"products"`
}

func runCatalogImport(_ *cobra.Command, path string) {
	ctx := context.Background()

	log := mustLogger()

	config, err := getConfig()
	if err != nil {
		log.Fatal("getting a config", zap.Error(err))
	}

	db, err := openStore(ctx, config, log)
	if err != nil {
		log.Fatal("connecting to the record store", zap.Error(err))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatal("reading catalog file", zap.String("path", path), zap.Error(err))
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		log.Fatal("parsing catalog file", zap.String("path", path), zap.Error(err))
	}

	products := make([]*records.Product, 0, len(file.Products))
	for i, spec := range file.Products {
		product, err := spec.toProduct()
		if err != nil {
			log.Fatal("invalid product definition",
				zap.Int("index", i),
				zap.String("name", spec.Name),
				zap.Error(err),
			)
		}
		products = append(products, product)
	}

	if err := db.UpsertProducts(ctx, products); err != nil {
		log.Fatal("importing catalog", zap.Error(err))
	}

	log.Info("catalog imported", zap.Int("products", len(products)))
}

func (s productSpec) toProduct() (*records.Product, error) {
	product := &records.Product{
		Name:                     s.Name,
		Provider:                 s.Provider,
		RequiredEmploymentStatus: s.RequiredEmploymentStatus,
		MinCreditScore:           s.MinCreditScore,
		MaxCreditScore:           s.MaxCreditScore,
		MinAge:                   s.MinAge,
		MaxAge:                   s.MaxAge,
		ComplexEligibility:       s.ComplexEligibility,
		EligibilityNotes:         s.EligibilityNotes,
	}

	var err error
	if product.InterestRate, err = parseDecimal(s.InterestRate, "interest-rate"); err != nil {
		return nil, err
	}
	if s.MinIncome != nil {
		minIncome, err := parseDecimal(*s.MinIncome, "min-income")
		if err != nil {
			return nil, err
		}
		product.MinIncome = &minIncome
	}
	if s.MinAmount != "" {
		if product.MinAmount, err = parseDecimal(s.MinAmount, "min-amount"); err != nil {
			return nil, err
		}
	}
	if s.MaxAmount != "" {
		if product.MaxAmount, err = parseDecimal(s.MaxAmount, "max-amount"); err != nil {
			return nil, err
		}
	}

	if err := product.Validate(); err != nil {
		return nil, err
	}

	return product, nil
}

func parseDecimal(value, field string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %q is not a number", field, value)
	}
	return d, nil
}
