package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rexliu/biosdk/pkg/config"
	"github.com/rexliu/biosdk/pkg/storage/sqlite"
)

func newJournalCmd(flags *globalFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "List recent requests answered by the host",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.loadProfile()
			if err != nil {
				return err
			}
			store, err := sqlite.Open(config.ResolvePath(flags.Profile, cfg.Storage.DBPath))
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.Init(cmd.Context(), cfg.Storage); err != nil {
				return err
			}
			entries, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ANSWERED\tMETHOD\tRESULT\tLATENCY\tSESSION")
			for _, e := range entries {
				result := "ok"
				if !e.Success {
					result = fmt.Sprintf("error %d", e.ErrorCode)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					e.AnsweredAt.Format(time.RFC3339), e.Method, result,
					e.AnsweredAt.Sub(e.ReceivedAt), e.SessionID)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum entries to show")
	return cmd
}
