package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var matchesCmd = &cobra.Command{
	Use:   "matches",
	Short: "Inspect the match ledger",
}

var matchesPendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List matches the notification collaborator has not confirmed yet",
	Run: func(cmd *cobra.Command, _ []string) {
		runMatchesPending(cmd)
	},
}

var matchesMarkSentCmd = &cobra.Command{
	Use:   "mark-sent <match-id>",
	Short: "Mark a match as notified; calling it twice is a no-op",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runMatchesMarkSent(cmd, args[0])
	},
}

func init() {
	rootCmd.AddCommand(matchesCmd)
	matchesCmd.AddCommand(matchesPendingCmd)
	matchesCmd.AddCommand(matchesMarkSentCmd)
}

func runMatchesPending(_ *cobra.Command) {
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

	matches, err := db.UnnotifiedMatches(ctx)
	if err != nil {
		log.Fatal("listing pending matches", zap.Error(err))
	}

	if len(matches) == 0 {
		log.Info("no pending matches")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tAPPLICANT\tPRODUCT\tSCORE\tMATCHED AT")
	for _, m := range matches {
		fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%s\n",
			m.ID, m.ApplicantID, m.ProductID, m.Score, m.MatchedAt.Format("2006-01-02 15:04:05"))
	}
	w.Flush()
}

func runMatchesMarkSent(_ *cobra.Command, rawID string) {
	ctx := context.Background()

	log := mustLogger()

	matchID, err := strconv.ParseUint(rawID, 10, 64)
	if err != nil {
		log.Fatal("invalid match id", zap.String("id", rawID))
	}

	config, err := getConfig()
	if err != nil {
		log.Fatal("getting a config", zap.Error(err))
	}

	db, err := openStore(ctx, config, log)
	if err != nil {
		log.Fatal("connecting to the record store", zap.Error(err))
	}

	if err := db.MarkNotified(ctx, uint(matchID)); err != nil {
		log.Fatal("marking match sent", zap.Error(err))
	}

	log.Info("match marked as sent", zap.Uint64("match_id", matchID))
}
