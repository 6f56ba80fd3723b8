package cmd

import (
	"context"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/openlend/loan-matcher/internal/ingest"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file.csv>",
	Short: "Validate and load a CSV file of applicants into the record store",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runIngest(cmd, args[0])
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(_ *cobra.Command, path string) {
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

	file, err := os.Open(path)
	if err != nil {
		log.Fatal("opening input file", zap.String("path", path), zap.Error(err))
	}
	defer file.Close()

	chunkSize := 0
	if config.Ingest != nil {
		chunkSize = config.Ingest.ChunkSize
	}

	loader := ingest.New(db, log, chunkSize)

	result, err := loader.Run(ctx, filepath.Base(path), path, file)
	if err != nil {
		fields := []zap.Field{zap.Error(err)}
		if result != nil {
			fields = append(fields, zap.String("batch_id", result.BatchID))
		}
		log.Fatal("ingestion failed", fields...)
	}

	log.Info("ingestion finished",
		zap.String("batch_id", result.BatchID),
		zap.String("status", result.Status),
		zap.Int("total", result.Total),
		zap.Int("processed", result.Processed),
		zap.Int("failed", result.Failed),
		zap.Strings("errors", result.Errors),
	)
}
