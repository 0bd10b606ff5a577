package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/trezcool/roofest/core"
	"github.com/trezcool/roofest/core/user"
)

func (cli *commandLine) resetPasswordCmd() *cobra.Command {
	var uname string

	cmd := &cobra.Command{
		Use:   "resetpassword",
		Short: "Reset a user's password; the password is prompted next",
		RunE: func(cmd *cobra.Command, args []string) error {
			pwd, err := cli.readPassword("Enter password:")
			if err != nil {
				return err
			}
			return cli.resetPassword(cmd.Context(), uname, pwd)
		},
	}

	cmd.Flags().StringVar(&uname, "username", "", "The user's username or email")
	_ = cmd.MarkFlagRequired("username")

	return cmd
}

func (cli *commandLine) resetPassword(ctx context.Context, uname, pwd string) error {
	usr, err := cli.usrRepo.GetUser(ctx, user.GetFilter{UsernameOrEmail: core.CleanString(uname, true /* lower */)})
	if err != nil {
		return err
	}
	if err := usr.SetPassword(pwd); err != nil {
		return err
	}
	usr.UpdatedAt = time.Now().UTC()
	if _, err := cli.usrRepo.UpdateUser(ctx, usr); err != nil {
		return err
	}
	return nil
}
