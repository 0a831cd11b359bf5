package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/diapredict/internal/api"
	"example.com/diapredict/internal/auth"
	"example.com/diapredict/internal/classifier"
	"example.com/diapredict/internal/config"
	"example.com/diapredict/internal/domain"
	"example.com/diapredict/internal/outbox"
	persistence "example.com/diapredict/internal/persistence/postgres"
	"example.com/diapredict/internal/sensor"
	httptransport "example.com/diapredict/internal/transport/http"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// A service that cannot load its model must refuse to start rather
	// than fail per-request.
	model, err := classifier.Load(cfg.ModelPath)
	if err != nil {
		log.Fatalf("failed to load classification model: %v", err)
	}

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	repo := persistence.NewRepository(pool)

	gateway := sensor.NewGateway(sensor.Config{
		BaseURL:   cfg.UpstreamBaseURL,
		ChannelID: cfg.UpstreamChannelID,
		ReadKey:   cfg.UpstreamReadKey,
		Timeout:   cfg.UpstreamTimeout,
	}, sensor.LoadReference(cfg.DPFReferenceCSV))

	authCfg := auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}
	signer := func(subject string, ttl time.Duration) (string, error) {
		return auth.Issue(subject, ttl, authCfg)
	}

	accounts := domain.NewAccountService(repo, signer, cfg.TokenTTL)
	predictions := domain.NewPredictionService(repo, gateway, model)

	producer := outbox.NewKafkaProducer(cfg.KafkaBrokers)
	defer producer.Close()

	dispatcher := outbox.NewDispatcher(pool, producer, cfg.OutboxPollInterval, cfg.OutboxBatchSize)
	go dispatcher.Start(ctx)

	handler := api.NewHandler(accounts, predictions, gateway)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	// Simple CORS middleware for the dashboard frontend
	cors := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", cfg.CORSOrigin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}

	// Basic request logger
	logger := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Printf("%s %s", r.Method, r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}

	publicPaths := map[string]struct{}{
		"/":               {},
		"/healthz":        {},
		"/metrics":        {},
		"/v1/auth/signup": {},
		"/v1/auth/login":  {},
	}
	authMiddleware := auth.NewMiddleware(authCfg, func(r *http.Request) bool {
		_, ok := publicPaths[r.URL.Path]
		return ok
	})

	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:      cfg.HTTPAddress,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, authMiddleware.Wrap(logger(cors(mux))))

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("diapredict api listening on %s", cfg.HTTPAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-shutdownCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	dispatcher.Wait()
}
