package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/vango-go/vai-rooms/internal/dotenv"
	"github.com/vango-go/vai-rooms/pkg/gateway/config"
	gatewayserver "github.com/vango-go/vai-rooms/pkg/gateway/server"
)

type roomsDeps struct {
	loadConfig   func() (config.Config, error)
	newGateway   func(context.Context, config.Config, *slog.Logger) (*gatewayserver.Server, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultRoomsDeps() roomsDeps {
	return roomsDeps{
		loadConfig: config.LoadFromEnv,
		newGateway: func(ctx context.Context, cfg config.Config, logger *slog.Logger) (*gatewayserver.Server, error) {
			return gatewayserver.New(ctx, cfg, logger)
		},
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
	}
}

func newLogger(w io.Writer, format config.LogFormat) *slog.Logger {
	if format == config.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, nil))
	}
	return slog.New(slog.NewTextHandler(w, nil))
}

func runRooms(ctx context.Context, cfg config.Config, logger *slog.Logger, deps roomsDeps) (err error) {
	if deps.newGateway == nil {
		return errors.New("missing newGateway dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	gw, err := deps.newGateway(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build gateway: %w", err)
	}
	// The worker sweep must run on every exit path, including listen errors.
	defer func() {
		sweepCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
		defer cancel()
		if serr := gw.Shutdown(sweepCtx); serr != nil {
			logger.Error("worker shutdown sweep incomplete", "error", serr)
			if err == nil {
				err = fmt.Errorf("shutdown workers: %w", serr)
			}
		}
	}()
	gw.Start()

	httpSrv := buildHTTPServer(cfg, gw.Handler())

	logger.Info("starting rooms gateway",
		"addr", cfg.Addr,
		"bot_implementation", cfg.BotImplementation,
		"bot_command", cfg.Command().String(),
		"max_per_room", cfg.BotMaxPerRoom,
	)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	gw.SetDraining(true)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("rooms gateway stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps roomsDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}

	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(stderr, "vai-rooms: %v\n", err)
		return 1
	}
	if deps.loadConfig == nil {
		fmt.Fprintln(stderr, "vai-rooms: missing loadConfig dependency")
		return 1
	}
	cfg, err := deps.loadConfig()
	if err != nil {
		fmt.Fprintf(stderr, "vai-rooms: load config: %v\n", err)
		return 1
	}
	logger := newLogger(stderr, cfg.LogFormat)

	if err := runRooms(ctx, cfg, logger, deps); err != nil {
		fmt.Fprintf(stderr, "vai-rooms: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultRoomsDeps()))
}
