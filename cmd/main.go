package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"legalguide-agent/handler"
	"legalguide-agent/internal/integrations/identity"
	"legalguide-agent/internal/integrations/openai"
	"legalguide-agent/internal/integrations/paramstore"
	"legalguide-agent/internal/integrations/places"
	"legalguide-agent/internal/repository"
	"legalguide-agent/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	stateTable := mustEnv("STATE_TABLE")
	paramPrefix := mustEnv("PARAM_PREFIX")
	authBaseURL := mustEnv("AUTH_BASE_URL")
	placesEnabled := envBool("PLACES_ENABLED", true)
	maxIssueLen := envInt("MAX_ISSUE_LENGTH", 2000)
	maxHistory := envInt("MAX_HISTORY_ITEMS", 20)
	rateLimit := envInt("RATE_LIMIT_PER_HOUR", 10)

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		slog.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}
	dynamoClient := awsdynamodb.NewFromConfig(cfg)
	stateClient, err := repository.New(dynamoClient, stateTable)
	if err != nil {
		slog.Error("failed to create state client", "err", err)
		os.Exit(1)
	}

	identityClient, err := identity.NewClient(ssmClient, authBaseURL, paramPrefix+"/auth-service-key")
	if err != nil {
		slog.Error("failed to create identity client", "err", err)
		os.Exit(1)
	}
	openaiClient, err := openai.NewClient(ssmClient, paramPrefix+"/open-ai-token")
	if err != nil {
		slog.Error("failed to create OpenAI client", "err", err)
		os.Exit(1)
	}

	// Absent places credential means the advisory pipeline skips the lookup
	// and returns advice without recommendations.
	var placesClient usecase.PlacesClient
	if placesEnabled {
		pc, err := places.NewClient(ssmClient, paramPrefix+"/google-places-key")
		if err != nil {
			slog.Error("failed to create places client", "err", err)
			os.Exit(1)
		}
		placesClient = pc
	}

	// ---- Services ----
	adviseService, err := usecase.NewAdviseService(ssmClient, identityClient, openaiClient, stateClient, placesClient, usecase.Config{
		ParamPrefix: paramPrefix,
		MaxIssueLen: maxIssueLen,
		MaxHistory:  maxHistory,
		RateLimit:   rateLimit,
	})
	if err != nil {
		slog.Error("failed to create advise service", "err", err)
		os.Exit(1)
	}
	conversationService, err := usecase.NewConversationService(identityClient, stateClient)
	if err != nil {
		slog.Error("failed to create conversation service", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	h, err := handler.NewHandler(adviseService, conversationService)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
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

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
