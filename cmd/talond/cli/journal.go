package cli

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/talon-ops/talon/internal/config"
	"github.com/talon-ops/talon/internal/journal"
)

// RegisterJournalCommands adds journal inspection to the root.
func RegisterJournalCommands(root *cobra.Command) {
	journalCmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect the local action journal",
	}

	journalCmd.AddCommand(newJournalTailCmd())
	journalCmd.AddCommand(newJournalVerifyCmd())

	root.AddCommand(journalCmd)
}

func openJournal() (*journal.Journal, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(cfg.JournalPath); err != nil {
		return nil, fmt.Errorf("no journal at %s", cfg.JournalPath)
	}
	return journal.Open(cfg.JournalPath)
}

func newJournalTailCmd() *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the most recent action records",
		RunE: func(cmd *cobra.Command, args []string) error {
			jnl, err := openJournal()
			if err != nil {
				return err
			}
			defer jnl.Close()

			entries, err := jnl.Tail(count)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("Journal is empty.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tACTION\tINITIATOR\tSERVER\tSTATUS\tDETAIL")
			for _, e := range entries {
				var detail []string
				for k, v := range e.Detail {
					detail = append(detail, k+"="+v)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
					e.Timestamp.Format("2006-01-02 15:04:05"),
					e.Action,
					e.Initiator,
					e.ServerID,
					e.Status,
					strings.Join(detail, " "),
				)
			}
			w.Flush()
			return nil
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", 20, "Number of records to show")

	return cmd
}

func newJournalVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Verify the integrity of the journal hash chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			jnl, err := openJournal()
			if err != nil {
				return err
			}
			defer jnl.Close()

			ok, count, err := journal.Verify(jnl.DB())
			if !ok {
				return fmt.Errorf("journal verification FAILED: %v", err)
			}
			fmt.Printf("Journal intact: %d records verified.\n", count)
			return nil
		},
	}
}
