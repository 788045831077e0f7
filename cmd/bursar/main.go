package main

import (
	"context"

	"bursar/internal/alerts"
	"bursar/internal/handlers"
	"bursar/internal/jobs"
	"bursar/internal/ledger"
	"bursar/internal/pool"
	"bursar/internal/pricing"
	"bursar/pkg/auth"
	"bursar/pkg/config"
	"bursar/pkg/database"
	"bursar/pkg/logging"
	"bursar/pkg/monitoring"
	"bursar/pkg/server"
	"bursar/pkg/version"
)

func main() {
	logger := logging.NewLoggerWithService("bursar")
	config.LoadEnv(logger)

	dbURL := config.RequireEnv("DATABASE_URL")
	jwtSecret := config.RequireEnv("JWT_SECRET")
	serviceToken := config.RequireEnv("SERVICE_TOKEN")

	// Connect to database
	dbConfig := database.DefaultConfig()
	dbConfig.URL = dbURL
	db := database.MustConnect(dbConfig, logger)
	defer db.Close()

	// Apply embedded schema (idempotent DDL)
	if err := database.Migrate(context.Background(), db, logger); err != nil {
		logger.WithError(err).Fatal("Failed to apply database schema")
	}

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("bursar", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("bursar", version.Version, version.GitCommit)

	// Add health checks
	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"DATABASE_URL": dbURL,
		"JWT_SECRET":   jwtSecret,
	}))

	// Create custom ledger metrics
	metrics := &handlers.BursarMetrics{
		Deductions:   metricsCollector.NewCounter("credit_deductions_total", "Credit deductions performed", []string{"status"}),
		Purchases:    metricsCollector.NewCounter("credit_purchases_total", "Credit purchases recorded", []string{"status"}),
		ExpirySweeps: metricsCollector.NewCounter("expiry_sweeps_total", "Expiry sweeps triggered", []string{"status"}),
	}

	// Create database metrics
	metrics.DBQueries, metrics.DBDuration, metrics.DBConnections = metricsCollector.CreateDatabaseMetrics()

	// Wire the ledgers: alerts feed both the pool (low runway) and the org
	// ledger (usage thresholds).
	alertService := alerts.NewAlertService(logger)
	poolLedger := pool.NewLedger(db, logger, alertService)
	creditLedger := ledger.NewLedger(db, logger, poolLedger, pricing.NewTable(logger), alertService)

	// Start background jobs: hourly expiry sweep, monthly metrics reset
	jobManager := jobs.NewManager(creditLedger, poolLedger, logger)
	if err := jobManager.Start(); err != nil {
		logger.WithError(err).Fatal("Failed to start background jobs")
	}
	defer jobManager.Stop()

	// Initialize handlers
	handlers.Init(creditLedger, poolLedger, jobManager, logger, metrics)

	// Setup router with unified monitoring
	router := server.SetupServiceRouter(logger, "bursar", healthChecker, metricsCollector)

	// API routes (root level - nginx adds /api/bursar/ prefix)
	{
		// Service-to-service endpoints: usage metering and purchase events
		serviceAPI := router.Group("")
		serviceAPI.Use(auth.ServiceAuthMiddleware(serviceToken))
		{
			serviceAPI.POST("/credits/deduct", handlers.DeductCredits)
			serviceAPI.POST("/credits/check", handlers.CheckCredits)
			serviceAPI.POST("/purchases", handlers.RecordPurchase)
			serviceAPI.POST("/credits/bonus", handlers.RecordBonus)
			serviceAPI.POST("/orgs/:org_id/byok/enable", handlers.EnableBYOK)
			serviceAPI.POST("/orgs/:org_id/byok/disable", handlers.DisableBYOK)
			serviceAPI.POST("/jobs/expiry-sweep", handlers.TriggerExpirySweep)
			serviceAPI.POST("/jobs/monthly-reset", handlers.TriggerMonthlyReset)
		}

		// Authentication required endpoints
		protected := router.Group("")
		protected.Use(auth.JWTAuthMiddleware([]byte(jwtSecret)))
		{
			protected.GET("/orgs/:org_id/balance", handlers.GetBalance)
			protected.GET("/orgs/:org_id/transactions", handlers.GetTransactions)
			protected.GET("/pool/health", handlers.GetPoolHealth)
			protected.GET("/pool/transactions", handlers.GetPoolTransactions)
		}
	}

	// Start server with graceful shutdown
	serverConfig := server.DefaultConfig("bursar", "18010")
	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Server startup failed")
	}
}
