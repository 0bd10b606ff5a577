package main

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/trezcool/roofest/core"
	"github.com/trezcool/roofest/core/user"
)

func (cli *commandLine) addUserCmd() *cobra.Command {
	var uname, email, name, role, clientID string

	cmd := &cobra.Command{
		Use:   "adduser",
		Short: "Create a user, or update the role and password of an existing one",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !user.IsValidRole(role) {
				return errors.Errorf("invalid role %q (want one of %v)", role, user.AllRoles)
			}
			if role == user.RoleUser && clientID == "" {
				return errors.New("client users need a --client")
			}
			pwd, err := cli.readPassword("Enter password:")
			if err != nil {
				return err
			}
			usr, err := cli.addUser(cmd.Context(), uname, email, name, role, clientID, pwd)
			if err != nil {
				return err
			}
			cli.printf("user %s (%s) saved\n", usr.Username, usr.Role)
			return nil
		},
	}

	cmd.Flags().StringVar(&uname, "username", "", "Username")
	cmd.Flags().StringVar(&email, "email", "", "Email address")
	cmd.Flags().StringVar(&name, "name", "", "Full name (defaults to the username)")
	cmd.Flags().StringVar(&role, "role", user.RoleAdmin, "Role: admin, estimator or user")
	cmd.Flags().StringVar(&clientID, "client", "", "Client ID, required for client users")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

// addUser updates or creates a user.User
func (cli *commandLine) addUser(ctx context.Context, uname, email, name, role, clientID, pwd string) (user.User, error) {
	uname = core.CleanString(uname, true /* lower */)
	email = core.CleanString(email, true /* lower */)
	if name = core.CleanString(name); name == "" {
		name = uname
	}

	usr, err := cli.findUser(ctx, uname, email)
	isNew := errors.Is(err, user.ErrNotFound)
	if err != nil && !isNew {
		return user.User{}, err
	}
	if isNew {
		usr = user.User{
			ID:        core.NewID(),
			Name:      name,
			Username:  uname,
			Email:     email,
			CreatedAt: time.Now().UTC(),
		}
	}
	usr.Role = role
	usr.ClientID = clientID
	usr.IsActive = true
	usr.UpdatedAt = time.Now().UTC()
	if err := usr.SetPassword(pwd); err != nil {
		return user.User{}, errors.Wrap(err, "hashing password")
	}

	if isNew {
		return cli.usrRepo.CreateUser(ctx, usr)
	}
	return cli.usrRepo.UpdateUser(ctx, usr)
}

func (cli *commandLine) findUser(ctx context.Context, uname, email string) (user.User, error) {
	usr, err := cli.usrRepo.GetUser(ctx, user.GetFilter{Username: uname})
	if errors.Is(err, user.ErrNotFound) {
		return cli.usrRepo.GetUser(ctx, user.GetFilter{Email: email})
	}
	return usr, err
}
