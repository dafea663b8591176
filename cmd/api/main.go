package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"edgauth.org/internal/app"
	"edgauth.org/internal/config"
	"edgauth.org/internal/httpapi"
	"edgauth.org/internal/obs"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		obs.Logger().Fatal().Err(err).Msg("load config")
	}
	obs.SetLogger(obs.NewLogger(cfg.AppEnv, os.Stdout))
	log := obs.Logger()

	obs.Init()
	obs.InitBuildInfo(cfg.Version, cfg.Commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("build service")
	}
	defer a.Close()

	probe := httpapi.ReadyProbe{DB: a.DB}
	if a.Throttle != nil {
		probe.Cache = a.Throttle
	}

	api := httpapi.New(httpapi.Options{
		Service:    a.Service,
		Roles:      a.Roles,
		Ready:      probe,
		Version:    cfg.Version,
		CORSOrigin: cfg.CORSAllowedOrigin,
		RateBurst:  cfg.RateBurst,
		RatePerSec: cfg.RatePerSec,
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	health := httpapi.NewGRPCServer(probe, cfg.Version)
	grpcSrv := grpc.NewServer()
	health.Register(grpcSrv)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", cfg.GRPCAddr).Msg("grpc listen")
	}
	health.Probe(ctx)

	go func() {
		log.Info().Str("addr", cfg.GRPCAddr).Msg("grpc health listening")
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Error().Err(err).Msg("grpc serve")
			stop()
		}
	}()
	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", cfg.Version).Msg("starting edg-auth")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("listen")
			stop()
		}
	}()
	go a.RunSweeper(ctx, cfg.SweepInterval)

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	health.Shutdown()
	_ = srv.Shutdown(shutdownCtx)
	grpcSrv.GracefulStop()
	log.Info().Msg("stopped")
}
