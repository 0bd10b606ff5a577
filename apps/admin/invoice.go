package main

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/trezcool/roofest/core/project"
)

var errNoInvoicer = errors.New("billing is not configured (set the stripe secret key)")

func (cli *commandLine) pushInvoiceCmd() *cobra.Command {
	var clientID string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "push-invoice",
		Short: "Push a client's sent estimates to the billing backend as invoice items",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := cli.clientSvc.GetByID(ctx, clientID)
			if err != nil {
				return err
			}
			lines, err := cli.projectSvc.InvoiceLines(ctx, client.ID)
			if err != nil {
				return err
			}
			for _, l := range lines {
				cli.printf("%s  %s  %d x %s = %s %s\n", l.ProjectID, l.Description, l.Qty, l.PriceEach, l.Amount, l.Currency)
			}
			cli.printf("total: %s (%d line(s))\n", project.InvoiceTotal(lines), len(lines))
			if dryRun || len(lines) == 0 {
				return nil
			}

			if cli.invoicer == nil {
				return errNoInvoicer
			}
			if client.BillingCustomerID == "" {
				return errors.Errorf("client %s has no billing customer", client.ID)
			}
			ids, err := cli.invoicer.Push(ctx, client.BillingCustomerID, lines)
			cli.printf("%d invoice item(s) pushed\n", len(ids))
			return err
		},
	}

	cmd.Flags().StringVar(&clientID, "client", "", "Client ID")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Only print the invoice lines")
	_ = cmd.MarkFlagRequired("client")

	return cmd
}
