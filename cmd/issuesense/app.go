package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/issuesense/config"
	"github.com/mohammad-safakhou/issuesense/internal/dedupe"
	"github.com/mohammad-safakhou/issuesense/internal/embedding"
	"github.com/mohammad-safakhou/issuesense/internal/github"
	"github.com/mohammad-safakhou/issuesense/internal/ingest"
	"github.com/mohammad-safakhou/issuesense/internal/queue"
	"github.com/mohammad-safakhou/issuesense/internal/runtime"
	"github.com/mohammad-safakhou/issuesense/internal/similarity"
	"github.com/mohammad-safakhou/issuesense/internal/store"
)

// app holds the shared dependencies every command builds from config.
type app struct {
	cfg       *config.Config
	telemetry *runtime.Telemetry
	store     *store.Store
	rdb       *redis.Client
	queue     *queue.RedisQueue
	embedder  *embedding.OpenAI
	ingest    *ingest.Service
	processor *queue.Processor
}

func newLogger(prefix string) *log.Logger {
	return log.New(os.Stdout, "["+prefix+"] ", log.LstdFlags)
}

func newApp(ctx context.Context, cfg *config.Config, service string) (*app, error) {
	tel, err := runtime.SetupTelemetry(ctx, cfg.Telemetry, runtime.TelemetryOptions{
		ServiceName:    cfg.Telemetry.ServiceName + "-" + service,
		ServiceVersion: version,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	a := &app{cfg: cfg, telemetry: tel}

	pgTimeout := cfg.Storage.Postgres.Timeout
	if pgTimeout <= 0 {
		pgTimeout = 5 * time.Second
	}
	pgCtx, cancel := context.WithTimeout(ctx, pgTimeout)
	defer cancel()
	a.store, err = store.NewWithDSN(pgCtx, cfg.Storage.Postgres.DSN(), cfg.Embedding.Dimensions)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("postgres: %w", err)
	}

	rc := cfg.Storage.Redis
	a.rdb = redis.NewClient(&redis.Options{
		Addr:        rc.Addr(),
		Password:    rc.Password,
		DB:          rc.DB,
		DialTimeout: rc.Timeout,
	})
	if err := a.rdb.Ping(ctx).Err(); err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("redis connection failed (%s): %w", rc.Addr(), err)
	}
	a.queue = queue.NewRedisQueue(a.rdb, cfg.Queue.Key)

	ec := cfg.Embedding
	a.embedder, err = embedding.NewOpenAI(embedding.OpenAIConfig{
		APIKey:            ec.APIKey,
		BaseURL:           ec.BaseURL,
		Model:             ec.Model,
		Dimensions:        ec.Dimensions,
		RequestsPerSecond: ec.RequestsPerSecond,
		Timeout:           ec.Timeout,
	})
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("embedder: %w", err)
	}

	a.ingest, err = ingest.New(newLogger("INGEST"), a.store, a.queue, a.embedder, ec.Mode)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	a.processor = queue.NewProcessor(newLogger("QUEUE"), a.queue, a.store, a.embedder, queue.Config{
		BaseDelay:   cfg.Queue.BaseDelay(),
		MaxAttempts: cfg.Queue.MaxAttempts,
	}, tel.Meter, tel.Tracer)
	return a, nil
}

// engine builds the dedupe engine with a GitHub client from config.
func (a *app) engine() (*dedupe.Engine, error) {
	client, err := newGitHubClient(a.cfg.GitHub)
	if err != nil {
		return nil, err
	}
	sc := a.cfg.Similarity
	rc := a.cfg.Recommendation
	return dedupe.New(newLogger("DEDUPE"), client, a.store, a.embedder, dedupe.Config{
		Thresholds:            sc.Thresholds(),
		Scope:                 similarity.Scope(sc.Scope),
		TopK:                  sc.TopK,
		MatchWeights:          sc.MatchWeights.Weights(),
		AnnotateWeights:       sc.AnnotateWeights.Weights(),
		FootnoteMinSimilarity: sc.FootnoteMinSimilarity,
		CheckOnOpen:           a.cfg.Dedupe.CheckOnOpen,
		Recommend: dedupe.RecommendConfig{
			Enabled:         rc.Enabled,
			AlwaysRecommend: rc.AlwaysRecommend,
			RequestedUsers:  rc.RequestedUsers,
			MaxSuggestions:  rc.MaxSuggestions,
		},
	}, a.telemetry.Meter, a.telemetry.Tracer)
}

func newGitHubClient(gc config.GitHubConfig) (*github.Client, error) {
	if !gc.UsesApp() {
		return github.NewClient(github.Options{Token: gc.Token, BaseURL: gc.BaseURL})
	}
	pem := []byte(gc.PrivateKey)
	if strings.TrimSpace(gc.PrivateKey) == "" {
		b, err := os.ReadFile(gc.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("read github private key: %w", err)
		}
		pem = b
	}
	tokens, err := github.NewAppTokenSource(gc.AppID, gc.InstallationID, pem, gc.BaseURL, nil)
	if err != nil {
		return nil, err
	}
	return github.NewClient(github.Options{Tokens: tokens, BaseURL: gc.BaseURL})
}

func (a *app) Close(ctx context.Context) {
	var errs []error
	if a.rdb != nil {
		errs = append(errs, a.rdb.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	errs = append(errs, a.telemetry.Shutdown(ctx))
	if err := errors.Join(errs...); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
