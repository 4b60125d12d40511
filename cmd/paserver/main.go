package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/priorauth/internal/audit"
	"github.com/xela07ax/priorauth/internal/infra"
	infraauth "github.com/xela07ax/priorauth/internal/infra/auth"
	"github.com/xela07ax/priorauth/internal/lookup"
	"github.com/xela07ax/priorauth/internal/pipeline"
	"github.com/xela07ax/priorauth/internal/repository/postgres"
	"github.com/xela07ax/priorauth/internal/server"
	"github.com/xela07ax/priorauth/internal/server/handler"
	"github.com/xela07ax/priorauth/internal/server/service"
)

func main() {
	// 1. Configuration and infrastructure
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	repo, err := postgres.NewRepo(appCtx, cfg.Database)
	if err != nil {
		logger.Fatal("failed to open postgres pool", zap.Error(err))
	}
	defer repo.Close()

	pingCtx, pingCancel := context.WithTimeout(appCtx, 5*time.Second)
	if err := repo.Ping(pingCtx); err != nil {
		logger.Fatal("database unreachable", zap.Error(err))
	}
	pingCancel()

	// 2. Audit: synchronous decision recorder plus the buffered check log
	recorder := audit.NewRecorder(repo, logger)
	checkLog := audit.NewCheckLog(repo, logger,
		cfg.Pipeline.CheckLogBufferSize, cfg.Pipeline.CheckLogFlushInterval)
	checkLog.Start()
	defer checkLog.Stop()

	// 3. Reference lookups wrapped in cache and reliability decorators
	relOpts := lookup.ReliabilityOptions{
		Attempts:      cfg.Pipeline.RetryAttempts,
		CallTimeout:   cfg.Pipeline.CollaboratorTimeout,
		CBMaxRequests: cfg.Pipeline.CBMaxRequests,
		CBInterval:    cfg.Pipeline.CBInterval,
		CBTimeout:     cfg.Pipeline.CBTimeout,
	}

	if err := lookup.WarmExclusionCache(appCtx, rdb, repo, cfg.Pipeline.ExclusionCacheTTL, logger); err != nil {
		logger.Warn("exclusion cache warm-up failed, continuing cold", zap.Error(err))
	}

	exclusions := lookup.NewReliableExclusionLookup(
		lookup.NewCachedExclusionLookup(repo, rdb, cfg.Pipeline.ExclusionCacheTTL, logger),
		lookup.NewReliability("exclusions", relOpts),
	)
	relations := lookup.NewReliableCodeRelationLookup(repo,
		lookup.NewReliability("code-relations", relOpts))
	diagnoses := lookup.NewReliableDiagnosisValidator(repo,
		lookup.NewReliability("icd10", relOpts))
	mandates := lookup.NewReliableRegulatoryLookup(repo,
		lookup.NewReliability("regulatory", relOpts))

	// External collaborators over HTTP
	benefits := lookup.NewReliableEligibilityChecker(
		lookup.NewEligibilityClient(cfg.Collaborators.EligibilityURL, cfg.Pipeline.CollaboratorTimeout),
		lookup.NewReliability("eligibility", relOpts),
	)
	policyEval := lookup.NewReliablePolicyEvaluator(
		lookup.NewPolicyClient(cfg.Collaborators.PolicyURL, cfg.Pipeline.CollaboratorTimeout),
		lookup.NewReliability("policy", relOpts),
	)

	// 4. Cancellation control plane
	cancels := pipeline.NewCancelManager(rdb, logger)
	if err := cancels.Init(appCtx); err != nil {
		logger.Fatal("failed to init cancel manager", zap.Error(err))
	}
	go cancels.StartListener(appCtx)

	// 5. Metrics
	reg := prometheus.NewRegistry()
	metrics := pipeline.NewMetrics(reg)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		addr := fmt.Sprintf(":%d", cfg.Server.MetricsPort)
		logger.Info("metrics endpoint started", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()

	// 6. Pipeline core
	controller := pipeline.NewController(
		pipeline.NewSanctionsStage(exclusions, checkLog, logger),
		pipeline.NewCodingStage(diagnoses, relations, checkLog, logger),
		pipeline.NewEligibilityStage(benefits, logger),
		pipeline.NewPolicyStage(policyEval, logger),
		pipeline.NewRegulatoryStage(mandates, checkLog, cfg.Pipeline.RegulatoryLookbackDays, logger),
		recorder,
		cancels,
		metrics,
		logger,
	)

	// 7. HTTP layer
	privateKey, err := infraauth.ParseRSAPrivateKey(cfg.Auth.PrivateKey)
	if err != nil {
		logger.Fatal("failed to parse signing key", zap.Error(err))
	}

	authService := service.NewAuthService(repo, privateKey, cfg.Auth.TokenTTL)
	adjService := service.NewAdjudicationService(controller, cancels, repo)

	srvHandler := server.New(
		cfg,
		logger,
		authService,
		handler.NewAuthHandler(authService),
		handler.NewPriorAuthHandler(adjService, logger),
		handler.NewDashboardHandler(adjService, logger),
		handler.NewHealthHandler(repo),
	)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      srvHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 8. Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("adjudication service started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-stop
	logger.Info("adjudication service stopping")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server shutdown failed", zap.Error(err))
	}
	logger.Info("adjudication service exited properly")
}
