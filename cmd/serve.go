package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/classmesh/classmesh/internal/application/config"
	"github.com/classmesh/classmesh/internal/application/constant"
	"github.com/classmesh/classmesh/internal/application/metric"
	"github.com/classmesh/classmesh/internal/infra/adapters/memory"
	"github.com/classmesh/classmesh/internal/infra/adapters/postgres"
	"github.com/classmesh/classmesh/internal/infra/adapters/postgres/repository"
	"github.com/classmesh/classmesh/internal/infra/ports/http/handlers"
	"github.com/classmesh/classmesh/internal/infra/ports/http/server"
	"github.com/classmesh/classmesh/internal/usecase"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the signaling hub",
	Run: func(cmd *cobra.Command, args []string) {
		runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cfg, err := config.New()
	if err != nil {
		slog.Error("parse config", slog.Any(constant.Error, err))
		os.Exit(1)
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}

	slog.SetDefault(
		slog.New(
			slog.NewJSONHandler(
				os.Stdout,
				&slog.HandlerOptions{Level: level},
			),
		),
	)

	// The attendance sink is optional; without postgres the hub runs fully
	// in-memory and join/leave records are discarded.
	var attendance repository.AttendanceRepository = repository.NopAttendanceRepo{}

	if cfg.Postgres.Enabled {
		dbConn, err := postgres.NewPostgres(ctx, cfg.Postgres.DSN())
		if err != nil {
			slog.Error("connect to postgres", slog.Any(constant.Error, err))
			os.Exit(1)
		}
		defer dbConn.Close()

		attendance = repository.NewAttendanceRepo(dbConn)
	}

	participantRegistry := memory.NewParticipantRegistry()
	roomRegistry := memory.NewRoomRegistry()
	connRegistry := memory.NewConnectionRegistry()

	signalingUsecase := usecase.NewSignalingUsecase(
		participantRegistry,
		roomRegistry,
		connRegistry,
		attendance,
	)

	iceHandler := handlers.NewIceHandler(cfg)
	wsHandler := handlers.NewWebSocketHandler(cfg, signalingUsecase, connRegistry)

	echoSrv := server.New(cfg, iceHandler, wsHandler)

	metricsSrv := metric.NewServer()

	echoSrvCh := make(chan error, 1)
	metricsSrvCh := make(chan error, 1)

	go func() {
		echoSrvCh <- echoSrv.Start(":" + cfg.Port)
	}()

	go func() {
		metricsSrvCh <- metricsSrv.Start(":" + cfg.MetricPort)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down servers due to context cancel")
	case err := <-echoSrvCh:
		slog.Error("HTTP server failed", slog.Any(constant.Error, err))
		os.Exit(1)
	case err := <-metricsSrvCh:
		slog.Error("metrics server failed", slog.Any(constant.Error, err))
		os.Exit(1)
	}

	timeoutCtx, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer timeoutCancel()

	if err := echoSrv.Shutdown(timeoutCtx); err != nil {
		slog.Error("shutdown HTTP server", slog.Any(constant.Error, err))
	}

	if err := metricsSrv.Shutdown(timeoutCtx); err != nil {
		slog.Error("shutdown metrics server", slog.Any(constant.Error, err))
	}
}
