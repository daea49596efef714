package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/soulkeep/encryption-engine/cmd/flags"
	"github.com/soulkeep/encryption-engine/cryptoutils"
	"github.com/soulkeep/encryption-engine/directory"
	"github.com/soulkeep/encryption-engine/httpserver"
	"github.com/soulkeep/encryption-engine/interfaces"
	"github.com/soulkeep/encryption-engine/storage"
	"github.com/urfave/cli/v2"
)

var serviceLogFlag = flags.LogServiceFlagFn("encryption-engine")

func main() {
	app := &cli.App{
		Name:  "encryption-server",
		Usage: "Serve the zero-knowledge encryption engine",
		Flags: append([]cli.Flag{
			flags.ListenAddrFlag,
			flags.StorageFlag,
			flags.AIServiceIDFlag,
			flags.IdleTimeoutFlag,
			serviceLogFlag,
		}, flags.CommonFlags...),
		Action: func(cCtx *cli.Context) error {
			listenAddr := cCtx.String(flags.ListenAddrFlag.Name)
			storageURIs := cCtx.StringSlice(flags.StorageFlag.Name)
			idleTimeout := cCtx.Duration(flags.IdleTimeoutFlag.Name)

			logger := flags.SetupLogger(cCtx)

			aiServiceID, err := interfaces.NewUserID(cCtx.String(flags.AIServiceIDFlag.Name))
			if err != nil {
				logger.Error("Invalid AI service id", "err", err)
				return err
			}

			storageFactory := storage.NewStorageBackendFactory(logger)
			backend, err := storageFactory.CreateMultiBackend(storageURIs)
			if err != nil {
				logger.Error("Failed to create storage backend", "err", err)
				return err
			}
			records := storage.NewRecordStore(backend)

			memDir := directory.NewMemoryDirectory()
			pinnedDir := directory.NewPinningDirectory(memDir, logger)

			registry, err := httpserver.NewEngineRegistry(&httpserver.EngineConfig{
				Provider:    cryptoutils.NewNativeProvider(),
				Blobs:       records,
				Tokens:      records,
				Grants:      records,
				Keys:        records,
				Directory:   pinnedDir,
				Registrar:   memDir,
				AIServiceID: aiServiceID,
				IdleTimeout: idleTimeout,
				Log:         logger,
			})
			if err != nil {
				logger.Error("Failed to create engine registry", "err", err)
				return err
			}

			handler := httpserver.NewHandler(registry, logger)
			srv, err := httpserver.New(flags.ConfigureServer(cCtx, logger, listenAddr), handler)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			srv.RunInBackground()

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

			logger.Info("Server is running, press Ctrl+C to stop")
			<-exit
			logger.Info("Shutdown signal received")

			srv.Shutdown()
			logger.Info("Server shutdown complete")

			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
