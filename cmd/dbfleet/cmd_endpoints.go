package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dbfleet/dbfleet/config"
	"github.com/dbfleet/dbfleet/resolver"
)

var endpointsProbe bool

var endpointsCmd = &cobra.Command{
	Use:   "endpoints",
	Short: "Show configured service endpoints",
	Long: `List the downstream service endpoints this instance resolves,
optionally probing each one for current health.`,
	Example: `  dbfleet endpoints           # List configured endpoints
  dbfleet endpoints --probe   # Probe each endpoint once`,
	RunE: runEndpoints,
}

func init() {
	rootCmd.AddCommand(endpointsCmd)
	endpointsCmd.Flags().BoolVar(&endpointsProbe, "probe", false, "Probe each endpoint once")
}

func runEndpoints(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(zerolog.WarnLevel)

	directory := resolver.New(cfg.Resolver)

	if endpointsProbe {
		prober := resolver.NewHTTPProber(5 * time.Second)
		checker := resolver.NewHealthChecker(directory, prober, cfg.Resolver.HealthInterval)
		checker.SweepOnce(cmd.Context())
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SERVICE\tURL\tHEALTH\tFAILURES")
	for _, e := range directory.Endpoints() {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", e.LogicalName, e.URL, e.HealthStatus, e.ConsecutiveFailures)
	}
	return w.Flush()
}
