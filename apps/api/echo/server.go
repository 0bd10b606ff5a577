package echoapi

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/pkg/errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/trezcool/roofest/core"
	"github.com/trezcool/roofest/core/loyalty"
	"github.com/trezcool/roofest/core/pricing"
	"github.com/trezcool/roofest/core/project"
	"github.com/trezcool/roofest/core/user"
)

type (
	// Invoicer pushes invoice lines to the billing backend; billingsvc.StripeInvoicer satisfies it.
	Invoicer interface {
		Push(ctx context.Context, customerID string, lines []project.InvoiceLine) ([]string, error)
	}

	Deps struct {
		UserSvc    *user.Service
		ClientSvc  *loyalty.Service
		ProjectSvc *project.Service
		Pricing    *pricing.Table
		Invoicer   Invoicer
		Limiter    RateLimiter
		Validate   *validator.Validate
		Translator ut.Translator
	}

	Server struct {
		conf     *core.Config
		logger   core.Logger
		deps     *Deps
		app      *echo.Echo
		auth     *authenticator
		srv      *http.Server
		errors   chan error
		shutdown chan os.Signal
	}
)

func NewServer(conf *core.Config, logger core.Logger, deps *Deps) *Server {
	s := &Server{
		conf:     conf,
		logger:   logger,
		deps:     deps,
		app:      echo.New(),
		auth:     newAuthenticator(conf),
		errors:   make(chan error, 1),
		shutdown: make(chan os.Signal, 1),
	}
	s.setup()
	s.srv = &http.Server{
		Addr:    conf.Server.Address,
		Handler: otelhttp.NewHandler(s.app, conf.AppName+" API"),
	}
	signal.Notify(s.shutdown, os.Interrupt, syscall.SIGTERM)
	return s
}

func (s *Server) setup() {
	s.app.HideBanner = true
	s.app.Debug = s.conf.Debug

	s.app.Pre(middleware.RemoveTrailingSlash())
	if !s.conf.Server.DisableRequestLogs {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(s.conf.Debug || s.conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.logger, s.deps.Translator, s.auth, s.SignalShutdown)

	s.app.GET("/", s.home)

	v1 := s.app.Group("/v1")
	jwt := middleware.JWTWithConfig(s.auth.jwtConfig)

	limiter := s.deps.Limiter
	if limiter == nil {
		limiter = NewMemoryRateLimiter(s.conf.Server.RateLimit, s.conf.Server.RateLimitWindow)
	}
	limit := rateLimitMiddleware(limiter, s.logger)

	registerUserAPI(v1, jwt, limit, s.auth, s.deps)
	registerPricingAPI(v1, s.deps)
	registerClientAPI(v1, jwt, s.auth, s.deps)
	registerProjectAPI(v1, jwt, s.auth, s.deps)
}

// Start serves until Shutdown; unexpected failures are sent to Errors.
func (s *Server) Start() {
	s.logger.Info("API listening", map[string]interface{}{"address": s.srv.Addr})
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.errors <- err
	}
}

func (s *Server) Errors() <-chan error { return s.errors }

func (s *Server) ShutdownSignal() <-chan os.Signal { return s.shutdown }

// SignalShutdown asks the process to shut down gracefully.
func (s *Server) SignalShutdown() {
	select {
	case s.shutdown <- syscall.SIGTERM:
	default:
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	signal.Stop(s.shutdown)
	return s.srv.Shutdown(ctx)
}

func (s *Server) Close() error {
	return s.srv.Close()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.srv.Handler.ServeHTTP(w, r)
}

func (s *Server) home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to "+s.conf.AppName+" API!")
}
