package main

import (
	"context"
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/MrEthical07/accountguard"
	"github.com/MrEthical07/accountguard/config"
	deliveryhttp "github.com/MrEthical07/accountguard/internal/delivery/http"
	"github.com/MrEthical07/accountguard/internal/delivery/http/handler"
	"github.com/MrEthical07/accountguard/internal/delivery/http/middleware"
	promexport "github.com/MrEthical07/accountguard/metrics/export/prometheus"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app := fx.New(serveOptions(opts))
			if err := app.Err(); err != nil {
				return err
			}
			app.Run()
			return nil
		},
	}
}

func serveOptions(opts *rootOptions) fx.Option {
	return fx.Options(
		coreOptions(opts),
		fx.Provide(
			asHandlerEngine,
			handler.NewRecoveryHandler,
			handler.NewLockoutHandler,
			newInternalKey,
			fx.Annotate(
				newMetricsHandler,
				fx.ResultTags(`name:"metrics"`),
			),
			deliveryhttp.NewServer,
		),
		fx.Invoke(startServer),
	)
}

func asHandlerEngine(engine *accountguard.Engine) handler.Engine {
	return engine
}

func newInternalKey(cfg *config.Config) *middleware.InternalKey {
	return middleware.NewInternalKey(cfg.HTTP.InternalKey)
}

func newMetricsHandler(engine *accountguard.Engine) echo.HandlerFunc {
	return echo.WrapHandler(promexport.NewPrometheusExporter(engine).Handler())
}

func startServer(lc fx.Lifecycle, shutdowner fx.Shutdowner, server *deliveryhttp.Server, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := server.Serve(context.Background()); err != nil {
					logger.Error("Failed to start server", slog.Any("error", err))
					_ = shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
	})
}
