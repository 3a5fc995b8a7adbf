package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/opencurate/ferry/internal/config"
	"github.com/opencurate/ferry/internal/observability"
	"github.com/opencurate/ferry/internal/server"
	"github.com/opencurate/ferry/pkg/dispatch"
	"github.com/opencurate/ferry/pkg/jobstore"
	"github.com/opencurate/ferry/pkg/provider"
	"github.com/opencurate/ferry/pkg/provider/localfs"
	"github.com/opencurate/ferry/pkg/provider/s3"
	"github.com/opencurate/ferry/pkg/runner"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "Override the listen host")
	serveCmd.Flags().Int("port", 0, "Override the listen port")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Server.Host = host
	}
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		cfg.Server.Port = port
	}
	if err := observability.Init(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		return err
	}
	log := observability.ServerLogger

	store, err := jobstore.NewStore(jobstore.Config{RootDir: cfg.Jobs.RootDir})
	if err != nil {
		return err
	}

	registry, err := buildRegistry(cfg)
	if err != nil {
		return err
	}

	dispatcher := dispatch.New(store, log)
	srv := server.New(cfg.Server, server.Deps{
		Store:      store,
		Dispatcher: dispatcher,
		Runner:     runner.New(registry),
		Jobs:       cfg.Jobs,
		Log:        log,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutdown signal received, draining")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown incomplete", zap.Error(err))
	}

	// Running job bodies finish and finalize their records before exit.
	dispatcher.Wait()
	return <-errCh
}

func buildRegistry(cfg *config.Config) (*provider.Registry, error) {
	registry := provider.NewRegistry()

	if cfg.Providers.LocalFS.Enabled {
		conn, err := localfs.New(localfs.Config{BaseDir: cfg.Providers.LocalFS.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("localfs provider: %w", err)
		}
		registry.RegisterAll(provider.KindLocalFS, conn, jobstore.Actions()...)
	}

	if cfg.Providers.S3.Enabled {
		conn, err := s3.New(s3.Config{
			Bucket:         cfg.Providers.S3.Bucket,
			Region:         cfg.Providers.S3.Region,
			Endpoint:       cfg.Providers.S3.Endpoint,
			Profile:        cfg.Providers.S3.Profile,
			ForcePathStyle: cfg.Providers.S3.ForcePathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 provider: %w", err)
		}
		registry.RegisterAll(provider.KindS3, conn, jobstore.Actions()...)
	}

	return registry, nil
}
