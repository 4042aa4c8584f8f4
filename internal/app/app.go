package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/bookshop-checkout/internal/domain/cart"
	"github.com/xenking/bookshop-checkout/internal/domain/checkout"
	"github.com/xenking/bookshop-checkout/internal/handler"
	"github.com/xenking/bookshop-checkout/internal/notify"
	"github.com/xenking/bookshop-checkout/internal/payment"
	"github.com/xenking/bookshop-checkout/internal/storage/memory"
	"github.com/xenking/bookshop-checkout/internal/storage/postgres"
	"github.com/xenking/bookshop-checkout/pkg/health"
	"github.com/xenking/bookshop-checkout/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server and the stale-order
// sweep, and handles graceful shutdown. It is the single wiring point for
// the application.
func Run(ctx context.Context, lg *zap.Logger, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Stock-change broadcast hub.
	hub := notify.NewHub(lg.Named("notify"))
	defer hub.Close()

	// Storage. Session carts live in the abstract keyed store; the in-memory
	// store matches their session-bound lifetime.
	productRepo := postgres.NewProductRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	ledger := postgres.NewStockLedger(pool, hub, lg.Named("stock"))
	cartStore := memory.NewCartStore()

	// Domain services.
	carts := cart.NewManager(cartStore, ledger, productRepo, cfg.CartHold, lg.Named("cart"))

	redirectGw := payment.NewRedirect(payment.RedirectConfig{
		PayURL:       cfg.Gateway.Redirect.PayURL,
		ReturnURL:    cfg.Gateway.Redirect.ReturnURL,
		MerchantCode: cfg.Gateway.Redirect.MerchantCode,
	})
	gateways := map[payment.Method]payment.Gateway{
		payment.MethodCOD:      payment.COD{},
		payment.MethodRedirect: redirectGw,
		payment.MethodPushQR: payment.NewPushQR(payment.PushQRConfig{
			GenerateURL: cfg.Gateway.PushQR.GenerateURL,
			AccountNo:   cfg.Gateway.PushQR.AccountNo,
			AccountName: cfg.Gateway.PushQR.AccountName,
			BankID:      cfg.Gateway.PushQR.BankID,
			ClientID:    cfg.Gateway.PushQR.ClientID,
			APIKey:      cfg.Gateway.PushQR.APIKey,
		}, nil),
	}

	checkoutSvc := checkout.NewService(carts, orderRepo, gateways, lg.Named("checkout"))
	reconciler := checkout.NewReconciler(redirectGw, orderRepo, ledger, lg.Named("reconciler"))
	sweeper := checkout.NewSweeper(orderRepo, ledger, cfg.StaleOrderTTL, lg.Named("sweeper"))

	// HTTP surface: health endpoints + API routes on one server.
	h := handler.New(carts, checkoutSvc, reconciler, productRepo, hub)
	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	h.Register(mux)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      0, // the stock stream holds its response open
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "X-Session-ID"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
				// Keyed by session when present so buyers behind one NAT do
				// not share a bucket.
				KeyFunc: func(r *http.Request) string {
					if sid := r.Header.Get("X-Session-ID"); sid != "" {
						return sid
					}
					return httpmiddleware.ClientIP(r)
				},
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.LogRequests(),
		),
	}

	g, gctx := errgroup.WithContext(ctx)

	// Stale-order sweep: releases stock held by abandoned pending orders.
	g.Go(func() error {
		if err := sweeper.Run(gctx, cfg.SweepInterval); err != nil && !errors.Is(err, context.Canceled) {
			return errors.Wrap(err, "stale order sweep")
		}
		return nil
	})

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	g.Go(func() error {
		<-gctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		return nil
	})

	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})

	return g.Wait()
}
