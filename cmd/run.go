package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/ukleads-cli/internal/enrich"
	"github.com/sells-group/ukleads-cli/internal/pipeline"
	"github.com/sells-group/ukleads-cli/pkg/companieshouse"
	"github.com/sells-group/ukleads-cli/pkg/serp"
	"github.com/sells-group/ukleads-cli/pkg/sponsor"
	"github.com/sells-group/ukleads-cli/pkg/webpage"
)

var (
	runLookbackDays int
	runBudgetCap    int
	runTableOut     bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one full lead discovery run",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if cfg.Registry.APIKey == "" {
			return eris.New("registry API key is required (UKLEADS_REGISTRY_API_KEY)")
		}

		if runLookbackDays > 0 {
			cfg.Pipeline.LookbackDays = runLookbackDays
		}
		if runBudgetCap >= 0 {
			cfg.Enrich.BudgetCap = runBudgetCap
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		registry := companieshouse.NewClient(cfg.Registry.APIKey,
			companieshouse.WithBaseURL(cfg.Registry.BaseURL))
		sponsorClient := sponsor.NewClient(sponsor.WithPageURL(cfg.Sponsor.PageURL))
		searchClient := serp.NewClient(cfg.Search.APIKey,
			serp.WithBaseURL(cfg.Search.BaseURL),
			serp.WithLocale(cfg.Search.Locale, "en"),
			serp.WithResultCount(cfg.Search.ResultCount))
		fetcher := webpage.NewFetcher(
			webpage.WithTimeout(time.Duration(cfg.Enrich.FetchTimeoutSecs) * time.Second))

		enricher := enrich.NewEnricher(searchClient, fetcher, st, cfg.Enrich)
		runner := pipeline.NewRunner(cfg, st, sponsorClient, registry, enricher)

		run, leads, err := runner.Run(ctx)
		if err != nil {
			return eris.Wrap(err, "pipeline run")
		}

		zap.L().Info("run complete",
			zap.String("run_id", run.ID),
			zap.Int("leads", len(leads)),
			zap.Int("search_calls", run.SearchCalls),
		)

		if runTableOut {
			formatLeads(os.Stdout, leads)
			return nil
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(leads)
	},
}

func init() {
	runCmd.Flags().IntVar(&runLookbackDays, "lookback-days", 0, "incorporation lookback window (default from config)")
	runCmd.Flags().IntVar(&runBudgetCap, "budget", -1, "search budget cap for this run (default from config)")
	runCmd.Flags().BoolVar(&runTableOut, "table", false, "print a table instead of JSON")
	rootCmd.AddCommand(runCmd)
}
