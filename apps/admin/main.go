package main

import (
	"context"
	"log"
	"os"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/roofest/core"
	"github.com/trezcool/roofest/core/loyalty"
	"github.com/trezcool/roofest/core/pricing"
	"github.com/trezcool/roofest/core/project"
	billingsvc "github.com/trezcool/roofest/services/billing"
	emailsvc "github.com/trezcool/roofest/services/email"
	logsvc "github.com/trezcool/roofest/services/logger"
	"github.com/trezcool/roofest/storage/database"
	sqlxrepos "github.com/trezcool/roofest/storage/database/sqlx"
)

var logger *log.Logger

func main() {
	logger = log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)

	conf, err := core.NewConfig()
	errAndDie(err)

	// set up DB
	db, err := database.Open(conf)
	errAndDie(err)

	// start CLI
	cli, err := newCommandLine(conf, db, logger)
	errAndDie(err)

	err = cli.run(context.Background(), os.Args[1:])
	_ = db.Close()
	if err != nil {
		logger.Printf("error: %s\n", err)
		os.Exit(1)
	}
}

func newCommandLine(conf *core.Config, db *sqlx.DB, std *log.Logger) (*commandLine, error) {
	appLogger := logsvc.NewRollbarLogger(std, conf)

	tiers, err := loyalty.NewTiersFromConfig(conf)
	if err != nil {
		return nil, errors.Wrap(err, "loading loyalty tiers")
	}
	conv, err := pricing.NewConverterFromConfig(conf)
	if err != nil {
		return nil, errors.Wrap(err, "loading currency rates")
	}
	table := pricing.NewTable(conv)

	tx := database.NewTransactor(db)
	clientRepo := sqlxrepos.NewClientRepository(db)
	projectRepo := sqlxrepos.NewProjectRepository(db)
	evaluator := loyalty.NewEvaluator(tiers, table, loyalty.ParseOverridePolicy(conf.Loyalty.OverridePolicy), conf.Loyalty.ReferencePlan)

	cli := &commandLine{
		db:         db,
		usrRepo:    sqlxrepos.NewUserRepository(db),
		clientSvc:  loyalty.NewService(conf, tx, clientRepo, projectRepo, evaluator, appLogger),
		projectSvc: project.NewService(tx, projectRepo, clientRepo, project.NewCapturer(table, tiers), sqlxrepos.NewOutboxRepository(db), emailsvc.NewConsoleService(conf, appLogger), appLogger),
		in:         os.Stdin,
		out:        os.Stdout,
	}
	if conf.Stripe.SecretKey != "" {
		cli.invoicer = billingsvc.NewStripeInvoicer(conf, appLogger)
	}
	return cli, nil
}

func errAndDie(err error) {
	if err != nil {
		logger.Fatal(err)
	}
}
