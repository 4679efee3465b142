package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ARB4ME/arb4me-unified-sub000/internal/api/rest"
	"github.com/ARB4ME/arb4me-unified-sub000/internal/backtest"
	"github.com/ARB4ME/arb4me-unified-sub000/internal/config"
	"github.com/ARB4ME/arb4me-unified-sub000/internal/exchange/binance"
	"github.com/ARB4ME/arb4me-unified-sub000/internal/exchange/common"
	"github.com/ARB4ME/arb4me-unified-sub000/internal/exchange/kraken"
	"github.com/ARB4ME/arb4me-unified-sub000/internal/exchange/valr"
	"github.com/ARB4ME/arb4me-unified-sub000/internal/executor"
	"github.com/ARB4ME/arb4me-unified-sub000/internal/feed"
	"github.com/ARB4ME/arb4me-unified-sub000/internal/guard"
	"github.com/ARB4ME/arb4me-unified-sub000/internal/infra/health"
	"github.com/ARB4ME/arb4me-unified-sub000/internal/infra/http/middleware"
	"github.com/ARB4ME/arb4me-unified-sub000/internal/infra/log"
	"github.com/ARB4ME/arb4me-unified-sub000/internal/infra/metrics"
	"github.com/ARB4ME/arb4me-unified-sub000/internal/infra/netutil"
	"github.com/ARB4ME/arb4me-unified-sub000/internal/infra/network"
	"github.com/ARB4ME/arb4me-unified-sub000/internal/infra/version"
	"github.com/ARB4ME/arb4me-unified-sub000/internal/ledger"
	"github.com/ARB4ME/arb4me-unified-sub000/internal/paths"
	"github.com/ARB4ME/arb4me-unified-sub000/internal/scanner"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.Load()
	logger := log.NewLogger(cfg)
	registry := metrics.Init(logger)

	catalog, err := paths.NewCatalog(cfg.Arbitrage.Pairs, cfg.Arbitrage.PathSets)
	if err != nil {
		logger.Fatal().Err(err).Msg("path catalog rejected configuration")
	}
	logger.Info().Strs("sets", catalog.SetNames()).Msg("path catalog loaded")

	// one cooperative rate limit bucket per exchange, shared by retries
	gateways := map[string]common.Gateway{}
	for name, gw := range map[string]common.Gateway{
		"valr":    valr.New(cfg.Exchanges.VALR),
		"binance": binance.New(cfg.Exchanges.Binance),
		"kraken":  kraken.New(cfg.Exchanges.Kraken),
	} {
		policy := common.DefaultRetryPolicy()
		policy.Bucket = network.NewTokenBucket(10, 5, 200)
		gateways[name] = common.WithRetry(gw, policy)
	}
	if _, ok := gateways[cfg.Exchanges.Default]; !ok {
		logger.Fatal().Str("exchange", cfg.Exchanges.Default).Msg("unknown default exchange")
	}

	var tradeLedger ledger.Ledger = ledger.Noop{}
	if cfg.Database.DSN != "" {
		pg, err := ledger.NewPostgres(ctx, cfg.Database.DSN, cfg.Database.MaxConns, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("trade ledger unavailable")
		}
		tradeLedger = pg
	}
	defer tradeLedger.Close()

	var oppFeed feed.Publisher = feed.Noop{}
	if cfg.Redis.Addr != "" {
		rf, err := feed.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Channel, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("opportunity feed unavailable")
		}
		oppFeed = rf
	}
	defer oppFeed.Close()

	scan := scanner.New(catalog, cfg.Arbitrage.Eval, cfg.Arbitrage.ScanConcurrency, logger)
	exec := executor.New(cfg.Arbitrage.Exec, logger)

	api := rest.New(rest.Deps{
		Catalog:         catalog,
		Scanner:         scan,
		Executor:        exec,
		Guard:           guard.New(),
		Ledger:          tradeLedger,
		Feed:            oppFeed,
		Gateways:        gateways,
		DefaultExchange: cfg.Exchanges.Default,
		Eval:            cfg.Arbitrage.Eval,
		Exec:            cfg.Arbitrage.Exec,
		Logger:          logger,
	})

	mux := http.NewServeMux()
	mux.Handle("/api/v1/", api.Handler())
	// admin endpoints (metrics, pprof) behind IP allowlist gate
	adminCIDRs := netutil.MustParseCIDRs(cfg.Server.AdminAllowCIDRs)
	mux.Handle("/metrics", middleware.AdminGate(adminCIDRs, metrics.Handler(registry)))
	mux.HandleFunc("/healthz", health.Healthz)
	mux.HandleFunc("/readyz", health.Readyz)
	mux.HandleFunc("/version", version.Handler)
	if cfg.Server.Pprof {
		mux.Handle("/debug/pprof/", middleware.AdminGate(adminCIDRs, http.HandlerFunc(pprof.Index)))
		mux.Handle("/debug/pprof/cmdline", middleware.AdminGate(adminCIDRs, http.HandlerFunc(pprof.Cmdline)))
		mux.Handle("/debug/pprof/profile", middleware.AdminGate(adminCIDRs, http.HandlerFunc(pprof.Profile)))
		mux.Handle("/debug/pprof/symbol", middleware.AdminGate(adminCIDRs, http.HandlerFunc(pprof.Symbol)))
		mux.Handle("/debug/pprof/trace", middleware.AdminGate(adminCIDRs, http.HandlerFunc(pprof.Trace)))
	}

	handler := middleware.RequestID(middleware.Logger(logger)(mux))
	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 2 * time.Second,
		ReadTimeout:       time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:       time.Duration(cfg.Server.IdleTimeoutSeconds) * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		return server.Shutdown(shutdownCtx)
	})

	// optional offline replay before the daemon settles in
	if id := os.Getenv("ARB4ME_BACKTEST_PATH"); id != "" {
		if p, err := catalog.PathByID(id); err != nil {
			logger.Error().Err(err).Msg("backtest path not in catalog")
		} else if err := backtest.RunCSV(p, cfg.Arbitrage.Eval, cfg.Arbitrage.ScanNotional); err != nil {
			logger.Error().Err(err).Msg("backtest failed")
		}
	}

	if cfg.Arbitrage.AutoScan {
		g.Go(func() error {
			return autoScan(gctx, cfg, scan, oppFeed, gateways[cfg.Exchanges.Default], logger)
		})
	}

	health.SetReady(true)
	logger.Info().Str("addr", cfg.Server.Addr).Str("exchange", cfg.Exchanges.Default).Msg("arb4me started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-gctx.Done():
	case s := <-sigCh:
		logger.Info().Str("signal", s.String()).Msg("shutdown signal received")
	}

	health.SetReady(false)
	cancel()
	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("shutdown with error")
	}
	logger.Info().Msg("shutdown complete")
}

// autoScan periodically scans the configured set and pushes profitable
// opportunities to the feed; failures are logged and the next tick tries
// again.
func autoScan(ctx context.Context, cfg config.Config, scan *scanner.Scanner, oppFeed feed.Publisher, gw common.Gateway, logger log.Logger) error {
	interval := time.Duration(cfg.Arbitrage.ScanIntervalSec) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	logger.Info().Str("set", cfg.Arbitrage.ScanSet).Dur("interval", interval).Msg("auto-scan enabled")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			res, err := scan.Scan(ctx, cfg.Arbitrage.ScanSet, cfg.Arbitrage.ScanNotional, gw)
			if err != nil {
				logger.Warn().Err(err).Msg("auto-scan failed")
				continue
			}
			oppFeed.PublishOpportunities(ctx, gw.Name(), res.Opportunities)
		}
	}
}
