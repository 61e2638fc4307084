package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dbfleet/dbfleet/broker"
	"github.com/dbfleet/dbfleet/config"
	"github.com/dbfleet/dbfleet/discovery"
	"github.com/dbfleet/dbfleet/scanner"
)

var scanOutput string

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one discovery cycle and print the inventory",
	Long: `Scan the configured account/region matrix once and print the
discovered managed database instances. Accounts that fail to scan are
reported alongside the results; they never abort the cycle.`,
	Example: `  dbfleet scan                     # Table output
  dbfleet scan --output json       # Machine-readable output`,
	RunE: runScanCmd,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().StringVarP(&scanOutput, "output", "o", "table", "Output format: table, json")
}

func runScanCmd(cmd *cobra.Command, args []string) error {
	if scanOutput != "table" && scanOutput != "json" {
		return fmt.Errorf("invalid output format: %s (must be table or json)", scanOutput)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(zerolog.WarnLevel)

	ctx := cmd.Context()
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.HubRegion))
	if err != nil {
		return fmt.Errorf("failed to load aws config: %w", err)
	}

	creds := broker.New(sts.NewFromConfig(awsCfg), "dbfleet-scan")
	coordinator := discovery.NewCoordinator(creds, scanner.New(cfg.Classification), cfg.Discovery)

	aggregate := coordinator.Discover(ctx, cfg.Accounts)

	if scanOutput == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(aggregate)
	}
	printAggregate(aggregate)
	return nil
}

func printAggregate(aggregate *discovery.AggregateResult) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "INSTANCE\tACCOUNT\tREGION\tENGINE\tSTATUS\tENVIRONMENT")
	for _, r := range aggregate.Records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.InstanceID, r.AccountID, r.Region, r.Engine, r.Status, r.Environment)
	}
	_ = w.Flush()

	fmt.Printf("\n%d instances, %d/%d accounts scanned in %s\n",
		len(aggregate.Records), aggregate.AccountsScanned, aggregate.AccountsAttempted,
		aggregate.Duration.Round(10*time.Millisecond))

	if len(aggregate.PerPairErrors) > 0 {
		fmt.Printf("\n%d pair failures:\n", len(aggregate.PerPairErrors))
		for _, pe := range aggregate.PerPairErrors {
			fmt.Printf("  %s/%s: %s\n", pe.AccountID, pe.Region, pe.Error)
		}
	}
}
