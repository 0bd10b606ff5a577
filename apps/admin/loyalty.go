package main

import (
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var nowFunc = time.Now // mockable

func (cli *commandLine) evaluateTiersCmd() *cobra.Command {
	var asOf, clientID string

	cmd := &cobra.Command{
		Use:   "evaluate-tiers",
		Short: "Run the monthly loyalty evaluation for the last closed month",
		Long: "Evaluates every client (or one with --client) on the units sent during the month before --as-of,\n" +
			"in each client's time zone. Clients already evaluated for that month are skipped.",
		RunE: func(cmd *cobra.Command, args []string) error {
			at := nowFunc()
			if asOf != "" {
				var err error
				if at, err = time.Parse(time.RFC3339, asOf); err != nil {
					return errors.Wrap(err, "parsing --as-of")
				}
			}

			if clientID != "" {
				ev, err := cli.clientSvc.EvaluateClient(cmd.Context(), clientID, at)
				if err != nil {
					return err
				}
				cli.printf("%s %s: %d units -> %s\n", ev.ClientID, ev.Month, ev.Units, ev.Tier)
				return nil
			}

			evs, err := cli.clientSvc.EvaluateAll(cmd.Context(), at)
			for _, ev := range evs {
				cli.printf("%s %s: %d units -> %s\n", ev.ClientID, ev.Month, ev.Units, ev.Tier)
			}
			cli.printf("%d client(s) evaluated\n", len(evs))
			return err
		},
	}

	cmd.Flags().StringVar(&asOf, "as-of", "", "Evaluation time (RFC 3339), defaults to now")
	cmd.Flags().StringVar(&clientID, "client", "", "Evaluate a single client")

	return cmd
}
