package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"krishmitra/handler"
	"krishmitra/internal/config"
	"krishmitra/internal/integrations/askapi"
	"krishmitra/internal/integrations/paramstore"
	"krishmitra/internal/repository"
	"krishmitra/internal/session"
	"krishmitra/internal/usecase"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}

	// ---- AWS SDK config (only when a driver needs it) ----
	var awsCfg aws.Config
	if cfg.Store == "dynamodb" || cfg.ParamPrefix != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			logger.Error("failed to load AWS config", "err", err)
			os.Exit(1)
		}
	}

	// ---- Secrets from SSM Parameter Store, when configured ----
	var params *paramstore.Client
	if cfg.ParamPrefix != "" {
		params, err = paramstore.New(awsssm.NewFromConfig(awsCfg))
		if err != nil {
			logger.Error("failed to create SSM client", "err", err)
			os.Exit(1)
		}
		if cfg.Store == "supabase" && cfg.SupabaseAPIKey == "" {
			key, err := params.GetParameter(ctx, cfg.ParamPrefix+"/supabase-api-key")
			if err != nil {
				logger.Error("failed to resolve supabase API key", "err", err)
				os.Exit(1)
			}
			cfg.SupabaseAPIKey = key
		}
	}

	// ---- Record store ----
	store, err := newStore(cfg, awsCfg)
	if err != nil {
		logger.Error("failed to create record store", "store", cfg.Store, "err", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	// ---- Answering service client ----
	askOpts := []askapi.Option{}
	if params != nil {
		askOpts = append(askOpts, askapi.WithAPIKeyParameter(params, cfg.ParamPrefix+"/askapi-key"))
	}
	asker, err := askapi.NewClient(cfg.AskAPIURL, askOpts...)
	if err != nil {
		logger.Error("failed to create askapi client", "err", err)
		os.Exit(1)
	}

	// ---- Services and handler ----
	registry := session.NewRegistry(store, logger)
	turns, err := usecase.NewTurnService(asker, logger)
	if err != nil {
		logger.Error("failed to create turn service", "err", err)
		os.Exit(1)
	}
	h, err := handler.New(registry, turns, logger)
	if err != nil {
		logger.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", srv.Addr, "store", cfg.Store)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "err", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "err", err)
	}
	logger.Info("stopped")
}

func newStore(cfg *config.Config, awsCfg aws.Config) (repository.RecordStore, error) {
	switch cfg.Store {
	case "supabase":
		return repository.NewStore(repository.StoreTypeSupabase,
			repository.WithSupabase(cfg.SupabaseURL, cfg.SupabaseAPIKey))
	case "dynamodb":
		return repository.NewStore(repository.StoreTypeDynamoDB,
			repository.WithDynamoDB(awsdynamodb.NewFromConfig(awsCfg), cfg.DynamoTable))
	default:
		return repository.NewStore(repository.StoreTypeMemory)
	}
}
