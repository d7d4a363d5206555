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
	"github.com/joho/godotenv"

	"example.com/integrations/internal/api"
	"example.com/integrations/internal/auth"
	"example.com/integrations/internal/config"
	"example.com/integrations/internal/oauth"
	"example.com/integrations/internal/outbox"
	persistence "example.com/integrations/internal/persistence/postgres"
	"example.com/integrations/internal/provider"
	"example.com/integrations/internal/provider/nutrio"
	"example.com/integrations/internal/provider/strive"
	"example.com/integrations/internal/sync"
	httptransport "example.com/integrations/internal/transport/http"
	"example.com/integrations/internal/webhook"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	if err := persistence.Migrate(ctx, pool); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	creds := persistence.NewCredentialRepository(pool)
	runs := persistence.NewSyncRunRepository(pool)
	records := persistence.NewExternalRecordRepository(pool)
	sessions := persistence.NewSessionCreator(pool)

	providerClient := provider.NewHTTPClient(cfg.ProviderTimeout)
	registry := provider.NewRegistry(
		strive.NewBundle(strive.Config{
			ClientID:      cfg.Strive.ClientID,
			ClientSecret:  cfg.Strive.ClientSecret,
			WebhookSecret: cfg.Strive.WebhookSecret,
			VerifyToken:   cfg.Strive.VerifyToken,
			APIBase:       cfg.Strive.APIBase,
			RedirectURL:   cfg.OAuthRedirectBase + "/v1/integrations/" + strive.Name + "/oauth/callback",
		}, providerClient),
		nutrio.NewBundle(nutrio.Config{
			ClientID:     cfg.Nutrio.ClientID,
			ClientSecret: cfg.Nutrio.ClientSecret,
			VerifyToken:  cfg.Nutrio.VerifyToken,
			APIBase:      cfg.Nutrio.APIBase,
			RedirectURL:  cfg.OAuthRedirectBase + "/v1/integrations/" + nutrio.Name + "/oauth/callback",
		}, providerClient),
	)

	tokens := oauth.NewManager(registry, creds, providerClient, cfg.OAuthStateSecret, cfg.TokenRefreshSkew)
	importer := sync.NewImporter(records, sessions, cfg.AutoImportTypes, nil)
	orchestrator := sync.NewOrchestrator(creds, runs, tokens, registry, importer, sync.Options{
		PageSize:  cfg.SyncPageSize,
		MaxPages:  cfg.SyncMaxPages,
		RunBudget: cfg.SyncRunBudget,
		ClaimTTL:  cfg.RunClaimTTL,
	}, nil)

	scheduler := sync.NewScheduler(orchestrator, creds, sync.SchedulerConfig{
		Interval:  cfg.SyncInterval,
		Workers:   cfg.SyncWorkers,
		QueueSize: cfg.SyncQueueSize,
	}, nil)
	if err := scheduler.Start(ctx); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}

	producer := outbox.NewKafkaProducer(cfg.KafkaBrokers)
	defer producer.Close()

	dispatcher := outbox.NewDispatcher(pool, producer, cfg.OutboxPollInterval, cfg.OutboxBatchSize, nil)
	go dispatcher.Start(ctx)

	ingestor := webhook.NewIngestor(registry, scheduler, nil)
	handler := api.NewHandler(creds, runs, tokens, scheduler, ingestor, cfg.OAuthRedirectBase, nil)
	router := httptransport.NewRouter(handler, auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer})

	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:      cfg.HTTPAddress,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, router)

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("integration-service listening on %s", cfg.HTTPAddress)
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

	scheduler.Stop()
	dispatcher.Wait()
}
