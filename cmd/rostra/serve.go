package main

import (
	"context"
	"errors"
	"flag"
	"net/http"

	"go.uber.org/zap"

	"github.com/OnslaughtSnail/rostra/internal/server"
)

func runServe(ctx context.Context, args []string) error {
	var common commonFlags
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	common.register(fs)
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if common.showVersion {
		printVersion()
		return nil
	}

	a, err := newApp(ctx, common.configPath)
	if err != nil {
		return err
	}
	srvCfg := server.Config{
		Host:        a.cfg.Server.Host,
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
	}
	if a.cfg.Metrics.Enabled {
		srvCfg.Gatherer = a.registry
	}
	if a.archive != nil {
		srvCfg.Archive = a.archive
	}
	srv, err := server.New(a.runtime, a.logger, srvCfg)
	if err != nil {
		_ = a.close(ctx)
		return err
	}

	sigCtx, stop := notifyInterrupt(ctx)
	defer stop()
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var runErr error
	select {
	case <-sigCtx.Done():
		a.logger.Info(ctx, "shutdown signal received")
	case runErr = <-errCh:
		if runErr != nil {
			a.logger.Error(ctx, "http server failed", zap.Error(runErr))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn(shutdownCtx, "http shutdown incomplete", zap.Error(err))
	}
	return errors.Join(runErr, a.close(shutdownCtx))
}
