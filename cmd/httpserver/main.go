package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ruteri/blob-publisher/cmd/flags"
	"github.com/ruteri/blob-publisher/cmd/publishercommon"
	"github.com/ruteri/blob-publisher/httpserver"
	"github.com/urfave/cli/v2"
)

func main() {
	flagSet := []cli.Flag{flags.LogServiceFlagFn("blob-publisher")}
	flagSet = append(flagSet, flags.LogFlags...)
	flagSet = append(flagSet, flags.PublisherFlags...)
	flagSet = append(flagSet, flags.ServerFlags...)

	app := &cli.App{
		Name:  "blob-publisher-server",
		Usage: "Serve the blob publisher API",
		Flags: flagSet,
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)

			publisher, err := publishercommon.SetupPublisher(cCtx, logger)
			if err != nil {
				logger.Error("Failed to set up publisher", "err", err)
				return err
			}
			defer publisher.Close()

			cfg := publisher.Config
			var archive httpserver.CheckpointArchive
			if publisher.Archive != nil {
				archive = publisher.Archive
			}

			handler := httpserver.NewHandler(publisher.Orchestrator, archive, httpserver.HandlerConfig{
				Owner:         publisher.Owner,
				DefaultEpochs: cfg.DefaultEpochs(),
				RunTTL:        cfg.RunTTL(),
				MaxRuns:       cfg.Server.MaxRuns,
			}, logger)

			serverCfg := flags.ConfigureServer(cCtx, logger, cfg.Server.ListenAddr, cfg.Server.MetricsAddr, cfg.DrainDuration())
			server, err := httpserver.New(serverCfg, handler)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}
			publisher.Orchestrator.SetMetrics(server.Metrics())

			server.RunInBackground()

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

			logger.Info("Server is running, press Ctrl+C to stop", "owner", publisher.Owner.Hex())
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
