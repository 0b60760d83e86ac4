// Command luthien runs the Luthien gateway HTTP server: it loads
// configuration, wires the configured event sinks, builds the provider
// registry and policy, and serves the OpenAI/Anthropic-compatible
// ingress surface.
//
// Grounded on the teacher's cmd/llmrouter: a flat main that loads
// config, builds a provider registry, constructs the server, and calls
// ListenAndServe with read/write timeouts off the config struct.
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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/luthien-control/luthien-gateway/internal/config"
	"github.com/luthien-control/luthien-gateway/internal/emitter"
	"github.com/luthien-control/luthien-gateway/internal/httpapi"
	"github.com/luthien-control/luthien-gateway/internal/metrics"
	"github.com/luthien-control/luthien-gateway/internal/policy"
	"github.com/luthien-control/luthien-gateway/internal/policy/policies"
	"github.com/luthien-control/luthien-gateway/internal/provider"
	"github.com/luthien-control/luthien-gateway/internal/recorder"
	"github.com/luthien-control/luthien-gateway/internal/telemetry"
)

func main() {
	configPath := "config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var sinks []emitter.Sink
	sinks = append(sinks, emitter.NewStdoutSink(os.Stdout))

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatalf("parsing redis url: %v", err)
		}
		redisClient = redis.NewClient(opts)
		sinks = append(sinks, emitter.NewRedisSink(redisClient))
	}

	var pgPool *pgxpool.Pool
	if cfg.Database.URL != "" {
		pgPool, err = pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			log.Fatalf("connecting to postgres: %v", err)
		}
		defer pgPool.Close()
		sinks = append(sinks, emitter.NewPostgresSink(pgPool))
	}

	var tracer policy.Tracer
	if cfg.Telemetry.Endpoint != "" {
		tp, err := telemetry.NewTracerProvider(ctx, cfg.Telemetry.Endpoint)
		if err != nil {
			log.Fatalf("starting tracer provider: %v", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				log.Printf("shutting down tracer provider: %v", err)
			}
		}()
		sinks = append(sinks, emitter.SpanSink{})
		tracer = telemetry.NewTracer(telemetry.ServiceName)
	}

	ev := emitter.New(sinks...)

	models := buildProviderRegistry(cfg)

	pol := resolvePolicy(cfg.Policy)

	reg := prometheus.NewRegistry()
	stats := metrics.New(reg)

	newRecorder := func(transactionID string) recorder.Recorder {
		return recorder.NewDefault(ev, transactionID, defaultMaxChunksQueued)
	}

	var subscribeActivity func(context.Context) (emitter.ActivitySubscriber, func() error, error)
	if redisClient != nil {
		subscribeActivity = func(ctx context.Context) (emitter.ActivitySubscriber, func() error, error) {
			return emitter.NewRedisActivitySubscriber(ctx, redisClient)
		}
	}

	srv := httpapi.New(cfg, models, pol, ev, tracer, newRecorder, nil, stats, reg, defaultPolicyTimeoutSeconds, subscribeActivity)

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      srv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutting down http server: %v", err)
		}
		if redisClient != nil {
			redisClient.Close()
		}
	}()

	log.Printf("luthien gateway listening on %s", httpSrv.Addr)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("serving: %v", err)
	}
}

// defaultMaxChunksQueued bounds the recorder's per-transaction buffers
// (spec §4.3 "Cap policy"). It is always used; no config field
// overrides it.
const defaultMaxChunksQueued = 4096

// defaultPolicyTimeoutSeconds is the executor keep-alive deadline. It is
// always used; cfg.Policy.Config is not consulted for it.
const defaultPolicyTimeoutSeconds = 30.0

// buildProviderRegistry constructs the model name -> Provider map the
// HTTP layer resolves every request against, the same registry shape
// as the teacher's resolveProvider.
func buildProviderRegistry(cfg *config.Config) map[string]provider.Provider {
	models := make(map[string]provider.Provider)
	client := &http.Client{Timeout: 5 * time.Minute}

	for name, pc := range cfg.Providers {
		var p provider.Provider
		switch name {
		case "google":
			p = provider.NewGoogleProvider(pc.APIKey, pc.BaseURL, client)
		case "anthropic":
			p = provider.NewAnthropicProvider(pc.APIKey, pc.BaseURL, client)
		default:
			log.Printf("unknown provider %q in config, skipping", name)
			continue
		}
		for _, model := range pc.Models {
			models[model] = p
		}
	}

	return models
}

// resolvePolicy maps the configured policy class name to a constructor
// (spec §3 "class, config"; spec §8 S5/S6 reference policies double as
// the class names this switch recognizes). An unknown or empty class
// falls back to policy.Base, the pure-passthrough default.
func resolvePolicy(pc config.PolicyConfig) policy.Policy {
	switch pc.Class {
	case "slow_chunk":
		delay := 300 * time.Millisecond
		switch ms := pc.Config["delay_ms"].(type) {
		case int:
			delay = time.Duration(ms) * time.Millisecond
		case float64:
			delay = time.Duration(ms) * time.Millisecond
		}
		return policies.SlowChunkPolicy{Delay: delay}
	case "sql_guard":
		return policies.SQLGuardPolicy{}
	case "", "passthrough":
		return policy.Base{}
	default:
		log.Printf("unknown policy class %q, falling back to passthrough", pc.Class)
		return policy.Base{}
	}
}
