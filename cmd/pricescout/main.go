package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "pricescout",
		Short: "Ingest price history and serve per-item price forecasts",
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")

	root.AddCommand(ingestCmd())
	root.AddCommand(trainCmd())
	root.AddCommand(eligibleCmd())
	root.AddCommand(forecastCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(runCmd())

	return root
}

func ingestCmd() *cobra.Command {
	var (
		localFile string
		bucketKey string
		showStats bool
	)

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Load a CSV price payload into the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(localFile, bucketKey, showStats)
		},
	}

	cmd.Flags().StringVar(&localFile, "local-file", "", "local CSV file path")
	cmd.Flags().StringVar(&bucketKey, "bucket-key", "", "bucket object key for the CSV payload")
	cmd.Flags().BoolVar(&showStats, "stats", false, "show ingestion statistics")
	return cmd
}

func trainCmd() *cobra.Command {
	var (
		itemID  int64
		sku     string
		all     bool
		version string
	)

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train forecast models",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrain(itemID, sku, all, version)
		},
	}

	cmd.Flags().Int64Var(&itemID, "item", 0, "train a single item by internal id")
	cmd.Flags().StringVar(&sku, "sku", "", "train a single item by external key")
	cmd.Flags().BoolVar(&all, "all", false, "train every item that is due")
	cmd.Flags().StringVar(&version, "version", "", "explicit model version identifier")
	return cmd
}

func eligibleCmd() *cobra.Command {
	var (
		minPoints   int
		retrainDays int
		jsonOutput  bool
	)

	cmd := &cobra.Command{
		Use:   "eligible",
		Short: "List items with enough history and their retrain status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEligible(minPoints, retrainDays, jsonOutput)
		},
	}

	cmd.Flags().IntVar(&minPoints, "min-points", 0, "observation threshold (default: from config)")
	cmd.Flags().IntVar(&retrainDays, "retrain-days", 0, "retrain interval in days (default: from config)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func forecastCmd() *cobra.Command {
	var (
		itemID     int64
		sku        string
		from       string
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "forecast",
		Short: "Show the active forecast for an item",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runForecast(itemID, sku, from, limit, jsonOutput)
		},
	}

	cmd.Flags().Int64Var(&itemID, "item", 0, "item internal id")
	cmd.Flags().StringVar(&sku, "sku", "", "item external key")
	cmd.Flags().StringVar(&from, "from", "", "start date YYYY-MM-DD (default: today)")
	cmd.Flags().IntVar(&limit, "limit", 30, "max rows to show")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}

func runCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start daemon with scheduler and HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}
