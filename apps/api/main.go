package main

import (
	"context"
	"expvar"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"

	"github.com/jmoiron/sqlx"

	dig_container "github.com/trezcool/roofest/apps/api/di/dig"
	echoapi "github.com/trezcool/roofest/apps/api/echo"
	"github.com/trezcool/roofest/core"
	eventsvc "github.com/trezcool/roofest/services/events"
	"github.com/trezcool/roofest/services/tracing"
)

func main() {
	c := dig_container.New()

	must(c.Invoke(func(
		conf *core.Config,
		apiLogger core.Logger,
		dbLoggerParam dig_container.DBLoggerParam,
		db *sqlx.DB,
		publisher *eventsvc.Publisher,
		server *echoapi.Server,
	) {
		// =========================================================================
		// Initialize App

		apiLogger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))

		dbLogger := dbLoggerParam.Logger
		defer func() {
			if err := db.Close(); err != nil {
				dbLogger.Fatal("Failed to close", err)
			}
		}()
		defer apiLogger.Info("Application stopped")

		shutdownTracing, err := tracing.Setup(context.Background(), conf)
		if err != nil {
			apiLogger.Fatal(fmt.Sprintf("setting up tracing: %v", err), err)
		}
		defer func() {
			if err := shutdownTracing(context.Background()); err != nil {
				apiLogger.Error(fmt.Sprintf("could not flush traces: %v", err), err)
			}
		}()

		// =========================================================================
		// Start Debug Service
		//
		// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
		// /debug/vars - Added to the default mux by importing the expvar package.

		// Expose important info under /debug/vars.
		expvar.NewString("build").Set(conf.Build)
		expvar.NewString("env").Set(conf.Env)

		go func() {
			if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
				apiLogger.Error(fmt.Sprintf("debug server closed: %v", err), err)
			}
		}()

		// =========================================================================
		// Start Outbox Publisher

		pubCtx, stopPublisher := context.WithCancel(context.Background())
		pubDone := make(chan struct{})
		go func() {
			defer close(pubDone)
			publisher.Run(pubCtx)
		}()
		defer func() {
			stopPublisher()
			<-pubDone
		}()

		// =========================================================================
		// Start API Service

		go func() {
			server.Start()
		}()

		// =========================================================================
		// Shutdown

		select {
		case err := <-server.Errors():
			apiLogger.Fatal(fmt.Sprintf("server error: %v", err), err)

		case sig := <-server.ShutdownSignal():
			apiLogger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

			// give outstanding requests a deadline for completion
			ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
			defer cancel()

			// asking listener to shut down and shed load
			if err := server.Shutdown(ctx); err != nil {
				apiLogger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

				if err = server.Close(); err != nil {
					apiLogger.Fatal(fmt.Sprintf("could not force stop server: %v", err), err)
				}
			}
		}
	}))
}

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}
