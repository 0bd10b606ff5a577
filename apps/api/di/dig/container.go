package dig_container

import (
	"context"
	"fmt"
	"log"
	"os"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/dig"

	echoapi "github.com/trezcool/roofest/apps/api/echo"
	"github.com/trezcool/roofest/core"
	"github.com/trezcool/roofest/core/loyalty"
	"github.com/trezcool/roofest/core/pricing"
	"github.com/trezcool/roofest/core/project"
	"github.com/trezcool/roofest/core/user"
	billingsvc "github.com/trezcool/roofest/services/billing"
	emailsvc "github.com/trezcool/roofest/services/email"
	eventsvc "github.com/trezcool/roofest/services/events"
	logsvc "github.com/trezcool/roofest/services/logger"
	"github.com/trezcool/roofest/storage/database"
	sqlxrepos "github.com/trezcool/roofest/storage/database/sqlx"
)

type DBLoggerParam struct {
	dig.In
	Logger core.Logger `name:"dbLogger"`
}

type depsParams struct {
	dig.In

	Conf       *core.Config
	UserSvc    *user.Service
	ClientSvc  *loyalty.Service
	ProjectSvc *project.Service
	Pricing    *pricing.Table
	Invoicer   *billingsvc.StripeInvoicer
	Limiter    echoapi.RateLimiter
	Validate   *validator.Validate
	Translator ut.Translator
}

func newLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "API : ", log.LstdFlags)
	return logsvc.NewRollbarLogger(stdLogger, conf)
}

func newDBLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	return logsvc.NewRollbarLogger(stdLogger, conf)
}

func newDB(conf *core.Config, loggerParam DBLoggerParam) *sqlx.DB {
	setUp := func() (*sqlx.DB, error) {
		if err := database.CreateIfNotExist(conf); err != nil {
			return nil, err
		}

		db, err := database.Open(conf)
		if err != nil {
			return nil, err
		}

		if err = database.Migrate(context.Background(), db); err != nil {
			return nil, err
		}
		return db, nil
	}

	db, err := setUp()
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	return db
}

func newEmailService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.Debug {
		return emailsvc.NewConsoleService(conf, logger)
	}
	return emailsvc.NewSendgridService(conf, logger)
}

func newPricingTable(conf *core.Config) (*pricing.Table, error) {
	conv, err := pricing.NewConverterFromConfig(conf)
	if err != nil {
		return nil, err
	}
	return pricing.NewTable(conv), nil
}

func newValidation(table *pricing.Table) (*validator.Validate, ut.Translator) {
	validate, translator := core.NewValidator()
	user.RegisterValidators(validate, translator)
	pricing.RegisterValidators(validate, translator, table)
	return validate, translator
}

func newEvaluator(conf *core.Config, tiers *loyalty.Tiers, table *pricing.Table) *loyalty.Evaluator {
	return loyalty.NewEvaluator(tiers, table, loyalty.ParseOverridePolicy(conf.Loyalty.OverridePolicy), conf.Loyalty.ReferencePlan)
}

func newCapturer(table *pricing.Table, tiers *loyalty.Tiers) *project.Capturer {
	return project.NewCapturer(table, tiers)
}

// newRateLimiter shares the API rate limits through Redis when it is configured.
func newRateLimiter(conf *core.Config, logger core.Logger) echoapi.RateLimiter {
	if conf.Redis.Addr == "" {
		logger.Info("rate limiting in memory (no redis configured)")
		return echoapi.NewMemoryRateLimiter(conf.Server.RateLimit, conf.Server.RateLimitWindow)
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     conf.Redis.Addr,
		Password: conf.Redis.Password,
		DB:       conf.Redis.DB,
	})
	return echoapi.NewRedisRateLimiter(rdb, conf.Server.RateLimit, conf.Server.RateLimitWindow)
}

func newServerDeps(p depsParams) *echoapi.Deps {
	deps := &echoapi.Deps{
		UserSvc:    p.UserSvc,
		ClientSvc:  p.ClientSvc,
		ProjectSvc: p.ProjectSvc,
		Pricing:    p.Pricing,
		Limiter:    p.Limiter,
		Validate:   p.Validate,
		Translator: p.Translator,
	}
	// invoice pushes answer 503 without a billing backend
	if p.Conf.Stripe.SecretKey != "" {
		deps.Invoicer = p.Invoicer
	}
	return deps
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newDB))
	must(c.Provide(database.NewTransactor, dig.As(new(core.Transactor))))
	must(c.Provide(newEmailService))

	must(c.Provide(sqlxrepos.NewUserRepository, dig.As(new(user.Repository))))
	must(c.Provide(sqlxrepos.NewClientRepository, dig.As(new(loyalty.Repository), new(project.ClientFinder))))
	must(c.Provide(sqlxrepos.NewProjectRepository, dig.As(new(project.Repository), new(loyalty.UnitCounter))))
	must(c.Provide(sqlxrepos.NewOutboxRepository, dig.As(new(core.EventRecorder), new(eventsvc.Outbox))))

	must(c.Provide(newPricingTable))
	must(c.Provide(loyalty.NewTiersFromConfig))
	must(c.Provide(newValidation))
	must(c.Provide(newEvaluator))
	must(c.Provide(newCapturer))

	must(c.Provide(user.NewService))
	must(c.Provide(loyalty.NewService))
	must(c.Provide(project.NewService))

	must(c.Provide(billingsvc.NewStripeInvoicer))
	must(c.Provide(eventsvc.NewPublisher))
	must(c.Provide(newRateLimiter))
	must(c.Provide(newServerDeps))
	must(c.Provide(echoapi.NewServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
