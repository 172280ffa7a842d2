package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"docqa/internal/access"
	"docqa/internal/ai"
	"docqa/internal/app"
	"docqa/internal/cache"
	"docqa/internal/config"
	mysqlClient "docqa/internal/platform/mysql"
	rabbitmqClient "docqa/internal/platform/rabbitmq"
	redisClient "docqa/internal/platform/redis"
	"docqa/internal/rag"
	"docqa/internal/repository"
	"docqa/internal/vectorstore"
	"docqa/internal/worker"
)

type App struct {
	Config      *config.Config
	MySQL       *gorm.DB
	Redis       *redis.Client
	MQConn      *amqp.Connection
	IndexWorker *worker.IndexWorker

	Auth      *app.AuthService
	Documents *app.DocumentService
	QA        *app.QAService

	StartedAt time.Time
}

func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg, StartedAt: time.Now()}
	if err := a.init(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.Config

	mysqlDB, err := mysqlClient.New(ctx, cfg.MySQLDSN())
	if err != nil {
		return err
	}
	a.MySQL = mysqlDB
	if err := mysqlClient.Migrate(mysqlDB); err != nil {
		return err
	}

	var turns rag.TurnStore
	if cfg.Redis.Addr != "" {
		redisCli, err := redisClient.New(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		a.Redis = redisCli
		turns = cache.NewTurnStore(redisCli, time.Duration(cfg.Redis.TurnTTLSeconds)*time.Second, cfg.RAG.MaxMemoryTurns)
	} else {
		log.Warn().Msg("redis not configured, conversation memory will not survive eviction")
	}

	store, err := vectorstore.NewChromemStore(cfg.VectorStore.Path, cfg.VectorStore.Compress)
	if err != nil {
		return err
	}
	embedder, err := ai.NewEmbedder(cfg.LLM)
	if err != nil {
		return fmt.Errorf("create embedder failed: %w", err)
	}
	llm, err := ai.NewModel(cfg.LLM)
	if err != nil {
		return fmt.Errorf("create generation model failed: %w", err)
	}

	chunker, err := rag.NewChunker(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap)
	if err != nil {
		return err
	}
	indexer := rag.NewIndexer(store, embedder,
		rag.WithEmbedConcurrency(cfg.RAG.EmbedConcurrency),
		rag.WithIndexTimeouts(cfg.Timeouts.Embed(), cfg.Timeouts.Vector()),
	)
	retriever := rag.NewRetriever(store, embedder, cfg.RAG.TopK, cfg.Timeouts.Embed(), cfg.Timeouts.Vector())
	chains, err := rag.NewChainCache(cfg.RAG.MaxSessions)
	if err != nil {
		return err
	}

	userRepo := repository.NewUserRepository(mysqlDB)
	docRepo := repository.NewDocumentRepository(mysqlDB)

	a.Auth = app.NewAuthService(
		userRepo,
		cfg.Auth.JWTSecret,
		time.Duration(cfg.Auth.JWTExpireMinute)*time.Minute,
		cfg.Auth.DefaultRoles,
	)
	gate := access.NewGate(app.NewDocumentPolicies(docRepo), a.Auth, cfg.Timeouts.Metadata())

	var publisher app.IndexJobPublisher
	if cfg.Indexing.Mode == config.IndexingModeQueue {
		mqConn, err := rabbitmqClient.New(ctx, cfg.RabbitMQ.URL, cfg.RabbitMQ.IndexQueue)
		if err != nil {
			return err
		}
		a.MQConn = mqConn
		publisher = rabbitmqClient.NewIndexPublisher(mqConn, cfg.RabbitMQ.IndexQueue)
	}

	a.Documents = app.NewDocumentService(docRepo, chunker, indexer, publisher, gate, app.DocumentConfig{
		UploadDir:        cfg.App.UploadDir,
		IndexGranularity: cfg.RAG.IndexGranularity,
		SharedIndex:      cfg.RAG.SharedIndex,
		IndexingMode:     cfg.Indexing.Mode,
		MetadataTimeout:  cfg.Timeouts.Metadata(),
	})
	a.QA = app.NewQAService(gate, docRepo, chains, retriever, ai.NewGenerator(llm), turns, app.QAConfig{
		IndexGranularity: cfg.RAG.IndexGranularity,
		SharedIndex:      cfg.RAG.SharedIndex,
		MaxMemoryTurns:   cfg.RAG.MaxMemoryTurns,
		GenerateTimeout:  cfg.Timeouts.Generate(),
		MetadataTimeout:  cfg.Timeouts.Metadata(),
		TurnTimeout:      cfg.Timeouts.Turn(),
	})

	if a.MQConn != nil {
		a.IndexWorker = worker.NewIndexWorker(a.MQConn, a.Documents, cfg.RabbitMQ.IndexQueue, 1)
		if err := a.IndexWorker.Start(ctx); err != nil {
			return fmt.Errorf("start index worker failed: %w", err)
		}
	}

	log.Info().
		Str("provider", cfg.LLM.Provider).
		Str("granularity", cfg.RAG.IndexGranularity).
		Str("indexing_mode", cfg.Indexing.Mode).
		Bool("turn_persistence", turns != nil).
		Msg("services ready")
	return nil
}

// HealthChecks lists a probe for every external dependency in use.
func (a *App) HealthChecks() map[string]func(context.Context) error {
	checks := map[string]func(context.Context) error{
		"mysql": func(ctx context.Context) error { return mysqlClient.Ping(ctx, a.MySQL) },
	}
	if a.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return a.Redis.Ping(ctx).Err() }
	}
	if a.MQConn != nil {
		checks["rabbitmq"] = func(context.Context) error {
			if a.MQConn.IsClosed() {
				return errors.New("connection closed")
			}
			return nil
		}
	}
	return checks
}

func (a *App) Close() error {
	var closeErr error
	if a.IndexWorker != nil {
		a.IndexWorker.Close()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MySQL != nil {
		sqlDB, err := a.MySQL.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				closeErr = err
			}
		}
	}
	return closeErr
}
