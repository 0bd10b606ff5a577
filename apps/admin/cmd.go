package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/trezcool/roofest/core/loyalty"
	"github.com/trezcool/roofest/core/project"
	"github.com/trezcool/roofest/core/user"
)

var (
	readPasswordFunc = term.ReadPassword // mockable
	stdinIsTerminal  = func() bool {     // mockable
		return isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
	}

	errNoPassword = errors.New("a password is required")
)

// Invoicer pushes invoice lines to the billing backend.
type Invoicer interface {
	Push(ctx context.Context, customerID string, lines []project.InvoiceLine) ([]string, error)
}

type commandLine struct {
	db         *sqlx.DB
	usrRepo    user.Repository
	clientSvc  *loyalty.Service
	projectSvc *project.Service
	invoicer   Invoicer

	in  io.Reader
	out io.Writer
}

func (cli *commandLine) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "admin",
		Short:         "Roofest administration commands",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(cli.in)
	root.SetOut(cli.out)
	root.SetErr(cli.out)

	root.AddCommand(
		cli.addUserCmd(),
		cli.resetPasswordCmd(),
		cli.migrateCmd(),
		cli.evaluateTiersCmd(),
		cli.pushInvoiceCmd(),
	)
	return root
}

// run executes the command line; args exclude the program name.
func (cli *commandLine) run(ctx context.Context, args []string) error {
	root := cli.rootCmd()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func (cli *commandLine) printf(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(cli.out, format, args...)
}

// readPassword prompts on a terminal without echo; piped input is read line by line.
func (cli *commandLine) readPassword(prompt string) (string, error) {
	var pwd string
	if stdinIsTerminal() {
		cli.printf("%s", prompt)
		b, err := readPasswordFunc(int(syscall.Stdin))
		cli.printf("\n")
		if err != nil {
			return "", errors.Wrap(err, "reading password")
		}
		pwd = string(b)
	} else {
		line, err := bufio.NewReader(cli.in).ReadString('\n')
		if err != nil && err != io.EOF {
			return "", errors.Wrap(err, "reading password")
		}
		pwd = strings.TrimRight(line, "\r\n")
	}
	if pwd == "" {
		return "", errNoPassword
	}
	return pwd, nil
}
