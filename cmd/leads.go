package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/ukleads-cli/internal/model"
)

var leadsCmd = &cobra.Command{
	Use:   "leads",
	Short: "List recent leads",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		runID, _ := cmd.Flags().GetString("run")
		since, _ := cmd.Flags().GetDuration("since")
		limit, _ := cmd.Flags().GetInt("limit")
		jsonOut, _ := cmd.Flags().GetBool("json")

		var leads []*model.Lead
		if runID != "" {
			leads, err = st.LeadsForRun(ctx, runID)
		} else {
			leads, err = st.RecentLeads(ctx, time.Now().UTC().Add(-since), limit)
		}
		if err != nil {
			return eris.Wrap(err, "leads list")
		}

		if jsonOut {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(leads)
		}

		if len(leads) == 0 {
			fmt.Fprintln(os.Stderr, "No leads found.")
			return nil
		}
		formatLeads(os.Stdout, leads)
		return nil
	},
}

func init() {
	leadsCmd.Flags().String("run", "", "show leads for a specific run ID")
	leadsCmd.Flags().Duration("since", 30*24*time.Hour, "time window when no run ID is given")
	leadsCmd.Flags().Int("limit", 50, "max number of leads to display")
	leadsCmd.Flags().Bool("json", false, "emit leads as JSON instead of a table")
	rootCmd.AddCommand(leadsCmd)
}

// formatLeads writes a tabular lead list to w.
func formatLeads(out io.Writer, leads []*model.Lead) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SCORE\tBUCKET\tNAME\tNUMBER\tSOURCES\tSITE\tSTATUS")
	_, _ = fmt.Fprintln(w, "-----\t------\t----\t------\t-------\t----\t------")

	for _, l := range leads {
		name := l.Name
		if len(name) > 34 {
			name = name[:31] + "..."
		}
		site := l.Enrichment.Website
		if l.Backfilled {
			site += " (backfilled)"
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			l.Score.Score,
			l.Score.Bucket,
			name,
			l.RegistryNumber,
			l.SourceLabel(),
			site,
			l.Enrichment.Status,
		)
	}
	_ = w.Flush()
}
