/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the tour booking server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, flags)
  2. Initialize logger and, when enabled, tracing
  3. Open the SQL store (SQLite or Postgres)
  4. Connect the payment gateway and event publisher
  5. Create booking services, API handler and router
  6. Start the reconciliation scheduler
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides HTTP_PORT)
  -db      Database DSN (overrides DB_DSN)
           Use ":memory:" for an in-memory SQLite database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler (waits for an in-flight run)
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Flush traces, close the publisher and database
  5. Exit

EXAMPLES:
  # Run with file database
  JWT_SECRET=dev ./server -db="./data/booking.db"

  # Run against Postgres
  JWT_SECRET=dev DB_DRIVER=pgx DB_DSN="postgres://localhost/booking" ./server

ENVIRONMENT:
  See config/config.go for every key and its default.

SEE ALSO:
  - api/server.go: Router configuration
  - api/scheduler.go: Reconciliation scheduler
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/warp/tour-booking/api"
	"github.com/warp/tour-booking/booking"
	"github.com/warp/tour-booking/config"
	"github.com/warp/tour-booking/gateway/omise"
	"github.com/warp/tour-booking/mq"
	"github.com/warp/tour-booking/obs"
	"github.com/warp/tour-booking/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	// Flags
	port := flag.Int("port", cfg.HTTPPort, "HTTP server port")
	dsn := flag.String("db", cfg.DBDSN, "Database DSN")
	flag.Parse()

	log, err := obs.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		logrus.Fatalf("Failed to create logger: %v", err)
	}

	ctx := context.Background()

	// Tracing
	shutdownTracer := func(context.Context) error { return nil }
	if cfg.OTELEnabled {
		shutdownTracer, err = obs.InitTracer(ctx, cfg.ServiceName, cfg.OTELEndpoint)
		if err != nil {
			log.Fatalf("Failed to initialize tracing: %v", err)
		}
	}

	// Initialize store
	store, err := sqlite.Open(cfg.DBDriver, *dsn)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Lifecycle events
	var events booking.Publisher = booking.NopPublisher{}
	if cfg.AMQPURL != "" {
		pub, err := mq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			log.Fatalf("Failed to connect to RabbitMQ: %v", err)
		}
		defer pub.Close()
		events = pub
	} else {
		log.Info("AMQP_URL not set, lifecycle events are not published")
	}

	// Booking services
	svc := &booking.Service{
		Store:  store,
		Clock:  booking.SystemClock,
		Events: events,
		Log:    log.WithField("component", "booking"),
	}
	reconciler := &booking.Reconciler{
		Store:    store,
		Clock:    booking.SystemClock,
		Location: cfg.Location(),
		Events:   events,
		Log:      log.WithField("component", "reconcile"),
	}

	handler := api.NewHandler(store, svc, log.WithField("component", "api"))
	handler.Reconciler = reconciler
	handler.Catalog = store

	if cfg.PaymentsConfigured() {
		gw, err := omise.New(cfg.OmisePublicKey, cfg.OmiseSecretKey, cfg.OmiseSourceType, log.WithField("component", "omise"))
		if err != nil {
			log.Fatalf("Failed to create payment gateway: %v", err)
		}
		handler.Payments = &booking.PaymentCoordinator{
			Store:      store,
			Gateway:    gw,
			Clock:      booking.SystemClock,
			Events:     events,
			Log:        log.WithField("component", "payment"),
			Currency:   cfg.Currency,
			SuccessURL: cfg.SuccessURL,
			CancelURL:  cfg.CancelURL,
			Timeout:    cfg.GatewayTimeout,
		}
		handler.Webhooks = gw
	} else {
		log.Warn("OMISE keys not set, checkout and webhook endpoints are disabled")
	}

	// Scheduler
	scheduler := api.NewReconciliationScheduler(reconciler, log.WithField("component", "scheduler"))
	scheduler.CheckInterval = cfg.ReconcileInterval
	scheduler.Start()
	handler.Scheduler = scheduler

	// Create router
	router := api.NewRouter(handler, api.NewAuthenticator(cfg.JWTSecret), cfg.Origins())

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.GatewayTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Infof("Server starting on http://localhost:%d", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")
	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Server forced to shutdown: %v", err)
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		log.Errorf("Failed to flush traces: %v", err)
	}

	log.Info("Server stopped")
}
