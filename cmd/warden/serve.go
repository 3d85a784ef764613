package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jkaninda/warden/internal/config"
	"github.com/jkaninda/warden/internal/gateway"
	"github.com/jkaninda/warden/internal/gateway/auth"
	"github.com/jkaninda/warden/internal/gateway/cli"
	"github.com/jkaninda/warden/internal/gateway/httpapi"
	"github.com/jkaninda/warden/internal/gateway/ws"
	"github.com/jkaninda/warden/internal/ratelimit"
)

const shutdownGrace = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dispatcher with every gateway enabled in config (CLI, HTTP, WebSocket)",
	RunE:  runServe,
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sc, err := initShared(cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	rt, err := buildRuntime(ctx, sc)
	if err != nil {
		return err
	}
	defer rt.Close()

	gateways := buildGateways(cfg, sc, rt)
	if len(gateways) == 0 {
		return fmt.Errorf("no gateways enabled in config")
	}
	logger.Info("gateways configured", slog.Int("count", len(gateways)))

	return runGateways(ctx, gateways, logger)
}

// runGateways starts every gateway and blocks until a signal arrives or the
// first gateway exits, then stops them in reverse order.
func runGateways(ctx context.Context, gateways []gateway.Gateway, logger *slog.Logger) error {
	errs := make(chan error, len(gateways))
	for _, gw := range gateways {
		go func(g gateway.Gateway) {
			errs <- g.Start(ctx)
		}(gw)
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case runErr = <-errs:
		if runErr != nil {
			logger.Error("gateway exited with error", slog.String("error", runErr.Error()))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	for i := len(gateways) - 1; i >= 0; i-- {
		if err := gateways[i].Stop(shutdownCtx); err != nil {
			logger.Error("stopping gateway", slog.String("error", err.Error()))
		}
	}
	return runErr
}

// buildGateways creates the enabled gateways. The WebSocket channel is
// mounted on the HTTP listener when both are enabled.
func buildGateways(cfg *config.Config, sc *SharedComponents, rt *Runtime) []gateway.Gateway {
	var gateways []gateway.Gateway
	gws := cfg.Gateways

	var wsServer *ws.Server
	if gws.WebSocket != nil && gws.WebSocket.Enabled {
		wsServer = ws.NewServer(rt.Dispatcher, wsAuthenticator(cfg), gws.WebSocket, sc.Logger)
	}

	if gws.HTTP != nil && gws.HTTP.Enabled {
		httpGW := buildHTTPGateway(cfg, sc, rt)
		if wsServer != nil {
			httpGW.WithHandler(wsServer.Path(), wsServer.Handler())
			sc.Logger.Info("websocket channel mounted on http gateway", slog.String("path", wsServer.Path()))
		}
		gateways = append(gateways, httpGW)
	} else if wsServer != nil {
		gateways = append(gateways, wsServer)
	}

	if gws.CLI != nil && gws.CLI.Enabled {
		gateways = append(gateways, newCLIGateway(cfg, rt, sc))
	}
	return gateways
}

func buildHTTPGateway(cfg *config.Config, sc *SharedComponents, rt *Runtime) *httpapi.Gateway {
	hc := cfg.Gateways.HTTP
	gwCfg := httpapi.Config{
		ListenAddr:     hc.Addr(),
		EnableDocs:     hc.EnableDocs,
		MaxRequestSize: hc.MaxRequestSizeBytes,
		Auth:           auth.New(hc.APIKeys, hc.JWTSecret, hc.JWTIssuer),
		HealthChecker:  sc.Obs.HealthOrNew(sc.Logger),
		Tracer:         sc.Obs.TracerOrNil().Tracer(),
	}
	if m := sc.Obs.MetricsOrNil(); m != nil {
		gwCfg.Metrics = m
		gwCfg.MetricsRegistry = m.Registry
		if cfg.Observability != nil {
			gwCfg.MetricsPath = cfg.Observability.Metrics.MetricsPath()
		}
	}
	gwCfg.HealthChecker.AddPinger("storage", sc.Store)

	rl := ratelimit.NewLimiter(ratelimit.Config{
		RequestsPerMinute: hc.RateLimit.RequestsPerMinute,
		BurstSize:         hc.RateLimit.BurstSize,
	})

	return httpapi.NewGateway(gwCfg, rt.Dispatcher, sc.Store.Audit(), rl, sc.Logger)
}

// wsAuthenticator prefers the channel's shared token and falls back to the
// HTTP gateway credentials.
func wsAuthenticator(cfg *config.Config) *auth.Authenticator {
	if token := cfg.Gateways.WebSocket.Token; token != "" {
		return auth.New(map[string]string{token: "ws"}, "", "")
	}
	if hc := cfg.Gateways.HTTP; hc != nil {
		return auth.New(hc.APIKeys, hc.JWTSecret, hc.JWTIssuer)
	}
	return auth.New(nil, "", "")
}

func newCLIGateway(cfg *config.Config, rt *Runtime, sc *SharedComponents) *cli.Gateway {
	var opts []cli.Option
	if cfg.Gateways.CLI != nil && cfg.Gateways.CLI.NoColor {
		opts = append(opts, cli.WithNoColor())
	}
	return cli.NewGateway(rt.Dispatcher, sc.Logger, opts...)
}
