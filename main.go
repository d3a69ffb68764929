package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lotline/lotline/lotline"
	"github.com/lotline/lotline/lotline/database"
	"github.com/lotline/lotline/lotline/database/repositories"
	"github.com/lotline/lotline/lotline/engine"
	"github.com/lotline/lotline/lotline/engine/metrics"
	"github.com/lotline/lotline/lotline/logger"
	"github.com/lotline/lotline/lotline/payment"
	"github.com/lotline/lotline/lotline/query"
	"github.com/lotline/lotline/web/handlers"
	"github.com/lotline/lotline/web/middleware"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	// Initialize custom logger
	customHandler := logger.NewHandler()
	slog.SetDefault(slog.New(customHandler))

	slog.Info("Starting Lotline auction engine",
		slog.String("version", version),
		slog.String("commit", commit))

	path := flag.String("config", "config.toml", "path to config")
	flag.Parse()

	cfg, err := lotline.LoadConfig(*path)
	if err != nil {
		slog.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(-1)
	}
	slog.Info("Configuration loaded successfully")

	slog.Info("Initializing database connection...")
	dbStartTime := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := database.New(ctx, cfg.DB)
	if err != nil {
		slog.Error("Database connection failed",
			slog.String("error", err.Error()),
			slog.Duration("attempted_for", time.Since(dbStartTime)))
		os.Exit(-1)
	}

	slog.Info("Database connected successfully",
		slog.String("database", cfg.DB.Database),
		slog.Duration("took", time.Since(dbStartTime)))

	slog.Info("Initializing database schema...")
	if err := db.InitializeSchema(ctx); err != nil {
		slog.Error("Failed to initialize database schema",
			slog.String("error", err.Error()))
		os.Exit(-1)
	}
	slog.Info("Database schema initialized successfully")

	defer db.Close()

	// Initialize repositories
	auctionRepo := repositories.NewAuctionRepository(db.BunDB())
	watchRepo := repositories.NewWatchRepository(db.BunDB())
	settlementRepo := repositories.NewSettlementRepository(db.BunDB())

	// Initialize the engine
	metrics.Init()
	fanout := engine.NewFanout()
	paymentClient := payment.NewHTTPClient(cfg.Payment)
	settler := engine.NewSettlementCoordinator(auctionRepo, settlementRepo, paymentClient,
		cfg.Engine.SettlementIntervalOrDefault())
	lifecycle := engine.NewLifecycleScheduler(auctionRepo, fanout, settler,
		cfg.Engine.SweepIntervalOrDefault())
	bids := engine.NewBidProcessor(auctionRepo, fanout)
	watches := engine.NewWatchTracker(auctionRepo, watchRepo, fanout)
	queryService := query.NewService(auctionRepo, watchRepo, 0)

	settler.Start()
	lifecycle.Start()

	// Initialize Fiber as API-only server
	app := fiber.New(fiber.Config{
		AppName:      "Lotline API",
		ServerHeader: "Lotline",
		ErrorHandler: middleware.CustomErrorHandler,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(middleware.SecurityHeaders())
	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))
	app.Use(middleware.LoggingMiddleware())

	webApp := &handlers.WebApp{
		Store:     auctionRepo,
		Bids:      bids,
		Lifecycle: lifecycle,
		Settler:   settler,
		Watches:   watches,
		Query:     queryService,
		Fanout:    fanout,
		Version:   version,
		Commit:    commit,
	}

	setupRoutes(app, webApp)

	// Metrics on a separate listener so the scrape path stays off the API
	metricsAddr := cfg.Web.MetricsAddr
	if metricsAddr == "" {
		metricsAddr = ":9091"
	}
	metricsServer := &http.Server{Addr: metricsAddr, Handler: promhttp.Handler()}
	go func() {
		slog.Info("Starting metrics server", slog.String("address", metricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Metrics server failed", slog.Any("error", err))
		}
	}()

	address := cfg.Web.Addr
	if address == "" {
		address = ":8080"
	}
	slog.Info("Starting API server", slog.String("address", address))

	// Graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := app.Listen(address); err != nil {
			slog.Error("Failed to start server", slog.String("error", err.Error()))
		}
	}()

	<-c
	slog.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		slog.Error("Server shutdown error", slog.String("error", err.Error()))
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("Metrics server shutdown error", slog.String("error", err.Error()))
	}

	lifecycle.Shutdown()
	settler.Shutdown()

	slog.Info("Shutdown complete")
}

// setupRoutes configures all application routes
func setupRoutes(app *fiber.App, webApp *handlers.WebApp) {
	app.Get("/health", handlers.HealthCheck(webApp))

	auctions := app.Group("/auctions")
	auctions.Get("/", handlers.AuctionsList(webApp))
	auctions.Post("/", handlers.AuctionsCreate(webApp))
	auctions.Get("/:id", handlers.AuctionsDetail(webApp))
	auctions.Get("/:id/bids", handlers.AuctionBids(webApp))
	auctions.Post("/:id/bids", handlers.BidsCreate(webApp))
	auctions.Post("/:id/sell-now", handlers.SellNow(webApp))
	auctions.Post("/:id/cancel", handlers.Cancel(webApp))
	auctions.Post("/:id/watch", handlers.WatchToggle(webApp))
	auctions.Get("/:id/events", handlers.EventsStream(webApp))

	users := app.Group("/users")
	users.Get("/:id/watched", handlers.WatchedAuctions(webApp))

	payments := app.Group("/payments")
	payments.Post("/webhook", handlers.PaymentWebhook(webApp))
}
