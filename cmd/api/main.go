package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"intellect/handler"
	"intellect/internal/integrations/gemini"
	"intellect/internal/integrations/gnews"
	"intellect/internal/integrations/openai"
	"intellect/internal/integrations/paramstore"
	"intellect/internal/integrations/supabase"
	"intellect/internal/observability"
	"intellect/internal/repository"
	"intellect/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	table := mustEnv("CONVERSATIONS_TABLE")
	paramPrefix := mustEnv("PARAM_PREFIX")
	provider := envString("LLM_PROVIDER", "openai")
	maxQueryLen := envInt("MAX_QUERY_LENGTH", 500)
	logger := observability.Setup(os.Stdout, envString("LOG_FORMAT", "json"), envString("LOG_LEVEL", "info"))

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		logger.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	var params paramstore.Getter
	if envString("PARAM_SOURCE", "ssm") == "env" {
		params = paramstore.NewEnv()
	} else {
		ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
		if err != nil {
			logger.Error("failed to create SSM client", "err", err)
			os.Exit(1)
		}
		params = ssmClient
	}

	conversations, err := repository.New(awsdynamodb.NewFromConfig(cfg), table)
	if err != nil {
		logger.Error("failed to create conversation store", "err", err)
		os.Exit(1)
	}

	news, err := gnews.NewClient(params, paramPrefix, gnews.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create news client", "err", err)
		os.Exit(1)
	}

	llm, err := newLLM(provider, params, paramPrefix)
	if err != nil {
		logger.Error("failed to create LLM client", "provider", provider, "err", err)
		os.Exit(1)
	}

	auth, err := supabase.NewClient(params, paramPrefix, supabase.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create auth client", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	composer, err := usecase.NewComposer(llm, news, logger)
	if err != nil {
		logger.Error("failed to create composer", "err", err)
		os.Exit(1)
	}
	askService, err := usecase.NewAskService(composer, auth, conversations, maxQueryLen, logger)
	if err != nil {
		logger.Error("failed to create ask service", "err", err)
		os.Exit(1)
	}
	newsService, err := usecase.NewNewsService(news)
	if err != nil {
		logger.Error("failed to create news service", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewHandler(askService, newsService, logger)
	if err != nil {
		logger.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

func newLLM(provider string, params paramstore.Getter, paramPrefix string) (usecase.Completer, error) {
	switch strings.ToLower(provider) {
	case "gemini":
		return gemini.NewClient(params, paramPrefix, gemini.WithModel(os.Getenv("GEMINI_MODEL")))
	default:
		return openai.NewClient(params, paramPrefix, openai.WithModel(os.Getenv("OPENAI_MODEL")))
	}
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
