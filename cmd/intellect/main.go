package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/joho/godotenv"

	"intellect/internal/audio"
	"intellect/internal/domain"
	"intellect/internal/integrations/assemblyai"
	"intellect/internal/integrations/elevenlabs"
	"intellect/internal/integrations/gemini"
	"intellect/internal/integrations/gnews"
	"intellect/internal/integrations/openai"
	"intellect/internal/integrations/paramstore"
	"intellect/internal/integrations/supabase"
	"intellect/internal/integrations/tavus"
	"intellect/internal/metrics"
	"intellect/internal/observability"
	"intellect/internal/presenter"
	"intellect/internal/repository"
	"intellect/internal/speech"
	"intellect/internal/usecase"
)

func main() {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Configuration (read only here) ----
	paramPrefix := envString("PARAM_PREFIX", "/intellect")
	provider := envString("LLM_PROVIDER", "openai")
	table := os.Getenv("CONVERSATIONS_TABLE")
	stateFile := envString("STATE_FILE", defaultStateFile())
	streamInterval := envDuration("STREAM_INTERVAL", presenter.DefaultInterval)
	metricsAddr := os.Getenv("METRICS_ADDR")
	speakWithoutVideo := envBool("SPEECH_OUTPUT", true)
	logger := observability.Setup(os.Stderr, envString("LOG_FORMAT", "text"), envString("LOG_LEVEL", "warn"))

	// ---- Parameters ----
	var params paramstore.Getter = paramstore.NewEnv()
	var dynamo *awsdynamodb.Client
	if envString("PARAM_SOURCE", "env") == "ssm" || table != "" {
		cfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			logger.Error("failed to load AWS config", "err", err)
			os.Exit(1)
		}
		if envString("PARAM_SOURCE", "env") == "ssm" {
			ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
			if err != nil {
				logger.Error("failed to create SSM client", "err", err)
				os.Exit(1)
			}
			// Locally exported variables fill in parameters SSM lacks.
			params = paramstore.Chain(ssmClient, params)
		}
		if table != "" {
			dynamo = awsdynamodb.NewFromConfig(cfg)
		}
	}

	// ---- Clients ----
	news, err := gnews.NewClient(params, paramPrefix, gnews.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create news client", "err", err)
		os.Exit(1)
	}
	openaiClient, err := openai.NewClient(params, paramPrefix, openai.WithModel(os.Getenv("OPENAI_MODEL")))
	if err != nil {
		logger.Error("failed to create OpenAI client", "err", err)
		os.Exit(1)
	}
	var llm usecase.Completer = openaiClient
	if strings.EqualFold(provider, "gemini") {
		g, err := gemini.NewClient(params, paramPrefix, gemini.WithModel(os.Getenv("GEMINI_MODEL")))
		if err != nil {
			logger.Error("failed to create Gemini client", "err", err)
			os.Exit(1)
		}
		llm = g
	}
	auth, err := supabase.NewClient(params, paramPrefix, supabase.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create auth client", "err", err)
		os.Exit(1)
	}
	session, err := repository.NewHistoryStore(stateFile)
	if err != nil {
		logger.Error("failed to create session store", "err", err)
		os.Exit(1)
	}

	composer, err := usecase.NewComposer(llm, news, logger)
	if err != nil {
		logger.Error("failed to create composer", "err", err)
		os.Exit(1)
	}

	mic := audio.NewMicrophone(logger)
	defer func() {
		if err := mic.Close(); err != nil {
			logger.Warn("closing microphone", "err", err)
		}
	}()

	opts := []usecase.OrchestratorOption{
		usecase.WithLogger(logger),
		usecase.WithAuthenticator(auth),
		usecase.WithSessionPersister(session),
		usecase.WithPresenter(presenter.New(presenter.WithInterval(streamInterval))),
		usecase.WithVoiceInput(newVoiceInput(ctx, mic, params, paramPrefix, openaiClient, logger)),
	}
	if speakWithoutVideo {
		opts = append(opts, usecase.WithVoiceOutput(newVoiceOutput(params, paramPrefix, logger)))
	}

	var history conversationLister
	if dynamo != nil {
		conversations, err := repository.New(dynamo, table)
		if err != nil {
			logger.Error("failed to create conversation store", "err", err)
			os.Exit(1)
		}
		opts = append(opts, usecase.WithConversationStore(conversations))
		history = conversations
	} else {
		logger.Warn("CONVERSATIONS_TABLE not set, conversations are not persisted")
	}

	if video, persona := newVideo(ctx, params, paramPrefix, logger); video != nil {
		opts = append(opts, usecase.WithVideo(video, persona))
	}

	orch, err := usecase.NewOrchestrator(composer, news, opts...)
	if err != nil {
		logger.Error("failed to create orchestrator", "err", err)
		os.Exit(1)
	}
	defer orch.Close()

	unsubscribe := auth.Subscribe(func(_ supabase.AuthEvent, u *domain.User) { orch.SetUser(u) })
	defer unsubscribe()

	if metricsAddr != "" {
		srv := &http.Server{Addr: metricsAddr, Handler: metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("metrics server stopped", "addr", metricsAddr, "err", err)
			}
		}()
		defer func() { _ = srv.Close() }()
	}

	app := newApp(orch, auth, news, history, os.Stdin, os.Stdout)
	if err := app.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("session ended with error", "err", err)
		os.Exit(1)
	}
}

// newVoiceInput prefers streaming transcription and falls back to batch
// transcription of the captured utterance.
func newVoiceInput(ctx context.Context, mic speech.Microphone, params paramstore.Getter, paramPrefix string, stt speech.Transcriber, logger *slog.Logger) *speech.Input {
	inputOpts := []speech.InputOption{speech.WithInputLogger(logger)}

	stream, err := assemblyai.NewClient(params, paramPrefix, assemblyai.WithLogger(logger), assemblyai.WithSampleRate(speech.SampleRate))
	if err != nil {
		logger.Warn("streaming transcription disabled", "err", err)
	} else if !stream.Configured(ctx) {
		logger.Warn("speech-token not set, using batch transcription only")
	} else {
		inputOpts = append(inputOpts, speech.WithStreaming(speech.AssemblyAI(stream)))
	}

	batch, err := speech.NewBatchRecognizer(stt, speech.WithLanguage(envString("SPEECH_LANGUAGE", "en")))
	if err != nil {
		logger.Warn("batch transcription disabled", "err", err)
	} else {
		inputOpts = append(inputOpts, speech.WithRecognizer(batch))
	}
	return speech.NewInput(mic, inputOpts...)
}

func newVoiceOutput(params paramstore.Getter, paramPrefix string, logger *slog.Logger) *speech.Speaker {
	synth, err := elevenlabs.NewClient(params, paramPrefix)
	if err != nil {
		logger.Warn("speech output disabled", "err", err)
		return speech.NewSpeaker(nil, logger)
	}
	engine, err := audio.NewVoiceEngine(synth, audio.NewPlayer(elevenlabs.SampleRate))
	if err != nil {
		logger.Warn("speech output disabled", "err", err)
		return speech.NewSpeaker(nil, logger)
	}
	return speech.NewSpeaker(engine, logger)
}

// newVideo returns nil when no avatar credentials are configured, leaving
// video mode local.
func newVideo(ctx context.Context, params paramstore.Getter, paramPrefix string, logger *slog.Logger) (*tavus.Client, string) {
	if _, err := paramstore.FetchToken(ctx, params, paramstore.Join(paramPrefix, "tavus-token")); err != nil {
		logger.Warn("video avatar disabled, answers will be spoken locally", "err", err)
		return nil, ""
	}
	client, err := tavus.NewClient(params, paramPrefix)
	if err != nil {
		logger.Warn("video avatar disabled", "err", err)
		return nil, ""
	}
	persona, err := paramstore.FetchToken(ctx, params, paramstore.Join(paramPrefix, "tavus-persona-id"))
	if err != nil {
		logger.Warn("tavus-persona-id not set", "err", err)
	}
	return client, persona
}

func defaultStateFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".intellect-state.json"
	}
	return filepath.Join(dir, "intellect", "state.json")
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
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
