package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	qd "github.com/qdrant/go-client/qdrant"
	"github.com/recallio/recall"
	"github.com/recallio/recall/extract"
	"github.com/recallio/recall/facts"
	"github.com/recallio/recall/internal/config"
	"github.com/recallio/recall/proactive"
	"github.com/recallio/recall/provider/openaicompat"
	"github.com/recallio/recall/queue/rabbit"
	neo4jstore "github.com/recallio/recall/store/neo4j"
	"github.com/recallio/recall/store/postgres"
	qdrantstore "github.com/recallio/recall/store/qdrant"
	redisstore "github.com/recallio/recall/store/redis"
	"github.com/recallio/recall/worker"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	if err := run(logger); err != nil && err != context.Canceled {
		logger.Error("recalld exited", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	// 1. Load config
	cfg := config.Load(os.Getenv("RECALL_CONFIG"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect backing stores
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	kv := redisstore.New(rdb, redisstore.WithLogger(logger))

	pool, err := pgxpool.New(ctx, cfg.Postgres.URL)
	if err != nil {
		return err
	}
	defer pool.Close()
	metadata := postgres.New(pool, postgres.WithLogger(logger))
	if err := metadata.Init(ctx); err != nil {
		return err
	}

	qc, err := qd.NewClient(&qd.Config{Host: cfg.Qdrant.Host, Port: cfg.Qdrant.Port})
	if err != nil {
		return err
	}
	defer qc.Close()
	vectors := qdrantstore.New(qc, cfg.Embedding.Dimensions,
		qdrantstore.WithCollection(cfg.Qdrant.Collection),
		qdrantstore.WithLogger(logger))
	if err := vectors.Init(ctx); err != nil {
		return err
	}

	driver, err := neo4j.NewDriverWithContext(cfg.Neo4j.URI,
		neo4j.BasicAuth(cfg.Neo4j.User, cfg.Neo4j.Password, ""))
	if err != nil {
		return err
	}
	defer driver.Close(ctx)
	graph := neo4jstore.New(driver,
		neo4jstore.WithDatabase(cfg.Neo4j.Database),
		neo4jstore.WithLogger(logger))
	if err := graph.Init(ctx); err != nil {
		return err
	}

	queue, err := rabbit.Dial(cfg.Rabbit.URL, rabbit.WithLogger(logger))
	if err != nil {
		return err
	}
	defer queue.Close()

	// 3. Providers, each behind its own breaker
	recovery := time.Duration(cfg.Breaker.RecoverySecs) * time.Second
	llm := openaicompat.New(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.BaseURL,
		openaicompat.WithBreaker(recall.NewBreaker("llm", uint32(cfg.Breaker.FailureThreshold), recovery, logger)))
	embedder := openaicompat.New(cfg.Embedding.APIKey, cfg.LLM.Model, cfg.Embedding.BaseURL,
		openaicompat.WithEmbeddingModel(cfg.Embedding.Model, cfg.Embedding.Dimensions),
		openaicompat.WithBreaker(recall.NewBreaker("embedding", uint32(cfg.Breaker.FailureThreshold), recovery, logger)))

	// 4. Memory pipeline
	repo := facts.New(vectors, graph, metadata, facts.WithLogger(logger))
	extractor := extract.New(llm, extract.WithLogger(logger))

	w := worker.New(queue, metadata, extractor, embedder, repo, kv,
		worker.WithQueueName(cfg.Rabbit.Queue),
		worker.WithPrefetch(cfg.Rabbit.Prefetch),
		worker.WithLogger(logger))

	cacher := proactive.New(embedder, repo, metadata, metadata, kv,
		proactive.WithWarmTTL(time.Duration(cfg.Search.ResultTTLMins)*time.Minute),
		proactive.WithLogger(logger))
	runner := proactive.NewRunner(cacher, time.Duration(cfg.Proactive.IntervalSecs)*time.Second)

	// 5. Run until signalled
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.Run(ctx) })
	if cfg.Proactive.Enabled {
		g.Go(func() error { return runner.Run(ctx) })
	}

	logger.Info("recalld started", "queue", cfg.Rabbit.Queue, "proactive", cfg.Proactive.Enabled)
	return g.Wait()
}
