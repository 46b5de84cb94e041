package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ruteri/dlt-service-federation/cmd/flags"
	"github.com/ruteri/dlt-service-federation/federation"
	"github.com/ruteri/dlt-service-federation/httpserver"
	"github.com/ruteri/dlt-service-federation/ledger"
	"github.com/urfave/cli/v2"
)

var flagListenAddr = &cli.StringFlag{
	Name:    "listen-addr",
	Value:   "127.0.0.1:8080",
	Usage:   "address to listen on for API",
	EnvVars: []string{"FEDERATION_LISTEN_ADDR"},
}

var flagJournal = &cli.StringFlag{
	Name:    "journal",
	Value:   "",
	Usage:   "SQLite journal path. Without it the ledger is kept in memory and lost on exit",
	EnvVars: []string{"FEDERATION_JOURNAL"},
}

var flagFreezeConsumerEndpoint = &cli.BoolFlag{
	Name:    "freeze-consumer-endpoint",
	Value:   false,
	Usage:   "reject consumer endpoint updates once a service is deployed",
	EnvVars: []string{"FEDERATION_FREEZE_CONSUMER_ENDPOINT"},
}

func main() {
	app := &cli.App{
		Name:  "ledger-node",
		Usage: "Serve the federation ledger API",
		Flags: append([]cli.Flag{
			flagListenAddr,
			flagJournal,
			flagFreezeConsumerEndpoint,
			flags.LogServiceFlagFn("ledger-node"),
		}, flags.CommonFlags...),
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)
			ctx := context.Background()

			cfg := ledger.Config{
				Options: federation.Options{
					FreezeConsumerEndpoint: cCtx.Bool(flagFreezeConsumerEndpoint.Name),
				},
				Log: logger,
			}

			if path := cCtx.String(flagJournal.Name); path != "" {
				logger.Info("Opening journal", "path", path)
				journal, err := ledger.OpenSQLiteJournal(path)
				if err != nil {
					logger.Error("Failed to open journal", "err", err)
					return err
				}
				cfg.Journal = journal
			} else {
				logger.Warn("No journal configured, ledger state will not survive a restart")
			}

			l, err := ledger.NewLocal(ctx, cfg)
			if err != nil {
				logger.Error("Failed to start ledger", "err", err)
				return err
			}
			defer l.Close()

			handler := httpserver.NewHandler(l, logger)
			server, err := httpserver.New(flags.ConfigureServer(cCtx, logger, cCtx.String(flagListenAddr.Name)), handler)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			server.RunInBackground()

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

			logger.Info("Ledger node is running, press Ctrl+C to stop", "head", l.Head().Hex())
			<-exit
			logger.Info("Shutdown signal received")

			server.Shutdown()
			logger.Info("Server shutdown complete")
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
