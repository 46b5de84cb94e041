package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ruteri/dlt-service-federation/cmd/flags"
	"github.com/ruteri/dlt-service-federation/coordinator"
	"github.com/ruteri/dlt-service-federation/interfaces"
	"github.com/ruteri/dlt-service-federation/metrics"
	"github.com/ruteri/dlt-service-federation/orchestrator"
	"github.com/ruteri/dlt-service-federation/storage"
	"github.com/urfave/cli/v2"
)

var flagProfile = &cli.StringFlag{
	Name:     "profile",
	Required: true,
	Usage:    "domain profile YAML file",
	EnvVars:  []string{"FEDERATION_PROFILE"},
}

var flagUnregister = &cli.BoolFlag{
	Name:    "unregister",
	Value:   false,
	Usage:   "unregister the domain once the workflow ends",
	EnvVars: []string{"FEDERATION_UNREGISTER"},
}

var flagMetricsAddr = &cli.StringFlag{
	Name:    "metrics-addr",
	Value:   "",
	Usage:   "address to serve Prometheus metrics on while the workflow runs",
	EnvVars: []string{"FEDERATION_METRICS_ADDR"},
}

func main() {
	app := &cli.App{
		Name:  "federation-coordinator",
		Usage: "Run one federation workflow as consumer or provider",
		Flags: append(append([]cli.Flag{
			flagProfile,
			flagUnregister,
			flagMetricsAddr,
			flags.LogServiceFlagFn("federation-coordinator"),
		}, flags.LogFlags...), flags.LedgerFlags...),
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	profile, err := coordinator.LoadProfile(cCtx.String(flagProfile.Name))
	if err != nil {
		logger.Error("Failed to load profile", "err", err)
		return err
	}
	logger = logger.With("domain", profile.Domain, "role", profile.Role)

	key, err := flags.PrivateKey(cCtx)
	if err != nil {
		return err
	}
	ledger, identity, err := flags.Ledger(cCtx, logger, key)
	if err != nil {
		logger.Error("Failed to connect to ledger", "err", err)
		return err
	}

	collab, err := collaborators(profile, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if addr := cCtx.String(flagMetricsAddr.Name); addr != "" {
		metricsSrv, err := metrics.New(addr)
		if err != nil {
			return err
		}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server failed", "err", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsSrv.Shutdown(shutdownCtx)
		}()
	}

	c := coordinator.New(ledger, identity, profile.Config(), collab, logger)

	var outcome *coordinator.Outcome
	switch profile.Role {
	case coordinator.RoleConsumer:
		outcome, err = c.RunConsumer(ctx, profile.ConsumerRequest())
	case coordinator.RoleProvider:
		outcome, err = c.RunProvider(ctx, profile.ProviderRequest())
	default:
		return fmt.Errorf("unknown role %q", profile.Role)
	}

	if outcome != nil {
		encoded, _ := json.MarshalIndent(outcome, "", "  ")
		fmt.Println(string(encoded))
	}

	if cCtx.Bool(flagUnregister.Name) {
		unregisterCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if uerr := c.Unregister(unregisterCtx); uerr != nil {
			logger.Warn("Failed to unregister domain", "err", uerr)
		}
	}

	if err != nil {
		return err
	}
	if outcome.Status != coordinator.StatusDeployed && outcome.Status != coordinator.StatusNotChosen {
		return fmt.Errorf("federation ended with status %s", outcome.Status)
	}
	return nil
}

// collaborators builds the orchestrator client and the outcome archive the
// profile asks for.
func collaborators(profile *coordinator.Profile, logger *slog.Logger) (coordinator.Collaborators, error) {
	var collab coordinator.Collaborators

	if profile.Orchestrator != nil {
		client := orchestrator.NewClient(orchestrator.Config{
			BaseURL:   profile.Orchestrator.URL,
			Interface: profile.Orchestrator.Interface,
			Provider:  profile.Role == coordinator.RoleProvider,
			SubnetID:  profile.Orchestrator.SubnetID,
			Endpoint:  profile.Endpoint,
		}, logger)
		collab.Deployer = client
		collab.Connector = client
	} else if profile.Role == coordinator.RoleProvider {
		return collab, errors.New("provider profile needs an orchestrator")
	}

	if len(profile.Archive) > 0 {
		locations := make([]interfaces.StorageBackendLocation, 0, len(profile.Archive))
		for _, uri := range profile.Archive {
			location, err := interfaces.NewStorageBackendLocation(uri)
			if err != nil {
				return collab, fmt.Errorf("invalid archive location %q: %w", uri, err)
			}
			locations = append(locations, location)
		}
		archive, err := storage.NewStorageBackendFactory(logger).CreateMultiBackend(locations)
		if err != nil {
			return collab, fmt.Errorf("failed to create archive: %w", err)
		}
		collab.Archive = archive
	}

	return collab, nil
}
