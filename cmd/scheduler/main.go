package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/iceymoss/go-discovery/internal/candidate"
	"github.com/iceymoss/go-discovery/internal/conf"
	"github.com/iceymoss/go-discovery/internal/core"
	"github.com/iceymoss/go-discovery/internal/crawl"
	"github.com/iceymoss/go-discovery/internal/crawl/fetcher"
	"github.com/iceymoss/go-discovery/internal/discovery"
	"github.com/iceymoss/go-discovery/internal/enrichment"
	"github.com/iceymoss/go-discovery/internal/moderation"
	"github.com/iceymoss/go-discovery/internal/publish"
	"github.com/iceymoss/go-discovery/internal/repo"
	"github.com/iceymoss/go-discovery/internal/server"
	// import anonymously to register tasks to the list
	_ "github.com/iceymoss/go-discovery/internal/tasks/ai"
	_ "github.com/iceymoss/go-discovery/internal/tasks/discovery"
	_ "github.com/iceymoss/go-discovery/internal/tasks/network"
	_ "github.com/iceymoss/go-discovery/internal/tasks/publish"
	"github.com/iceymoss/go-discovery/pkg/db"
	"github.com/iceymoss/go-discovery/pkg/logger"
	"github.com/iceymoss/go-discovery/pkg/sensitive"
	"github.com/iceymoss/go-discovery/pkg/storage"
	"github.com/iceymoss/go-discovery/pkg/transaction"
)

func main() {
	if err := godotenv.Load(); err != nil {
		logger.Warn("⚠️ .env not loaded, using process env", zap.Error(err))
	}

	cfgPath := os.Getenv("DISCOVERY_CONFIG")
	if cfgPath == "" {
		cfgPath = "configs/config.yaml"
	}
	cfg, err := conf.LoadConfig(cfgPath)
	if err != nil {
		logger.Fatal("❌ LoadConfig error", zap.Error(err))
	}
	gin.SetMode(cfg.Server.Mode)
	defer logger.Sync()

	env, err := buildEnv(cfg)
	if err != nil {
		logger.Fatal("❌ Init error", zap.Error(err))
	}

	srv := server.NewServer(env)

	port := cfg.Server.Port
	if port == "" {
		port = ":8080"
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("🌐 API running", zap.String("addr", "http://localhost"+port))
	if err := srv.Run(ctx, port); err != nil {
		logger.Fatal("❌ Server error", zap.Error(err))
	}
	logger.Info("👋 Bye")
}

// buildEnv 组装存储、外部依赖和业务服务
func buildEnv(cfg *conf.Config) (*core.Env, error) {
	if cfg.DB.Driver == db.DriverSQLite && cfg.DB.DSN != "" && cfg.DB.DSN != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DB.DSN), 0755); err != nil {
			return nil, err
		}
	}
	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(dbConn); err != nil {
		return nil, err
	}
	tm := transaction.NewManager(dbConn)

	topics := repo.NewTopicRepo(tm)
	sources := repo.NewSourceRepo(tm)
	contents := repo.NewContentRepo(tm)
	jobs := repo.NewJobRepo(tm)

	registry := fetcher.NewDefaultRegistry(&http.Client{}, cfg.Crawl.UserAgent)
	discoverer := discovery.NewDiscoverer(tm, nil)
	orchestrator := crawl.NewOrchestrator(topics, sources, jobs, discoverer, registry, newArchive(cfg), cfg.Crawl)

	var enricher enrichment.Enricher
	if llm, err := enrichment.NewLLMEnricher(cfg.LLM); err != nil {
		logger.Warn("⚠️ LLM enricher disabled", zap.Error(err))
	} else {
		enricher = llm
	}

	words, err := sensitive.NewWord(cfg.Moderation.DictPath, cfg.Moderation.Words...)
	if err != nil {
		return nil, err
	}

	var locker candidate.Locker
	if cfg.RedisDB.Enabled() {
		rdb, err := db.GetRedisConn(cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		locker = candidate.NewRedisLocker(rdb, cfg.Publish.LockTTL)
	}

	return &core.Env{
		Config:       cfg,
		Topics:       topics,
		Sources:      sources,
		Contents:     contents,
		Jobs:         jobs,
		Orchestrator: orchestrator,
		Enrichment:   enrichment.NewService(tm, enricher),
		Generator:    candidate.NewGenerator(tm, cfg.Pipeline.Lang, cfg.Pipeline.Tone),
		Moderation:   moderation.NewService(tm, moderation.NewModerator(words, cfg.Moderation)),
		Candidates: candidate.NewService(tm, locker,
			publish.NewWebhookPublisher(cfg.Publish.WebhookURL, cfg.Publish.Timeout),
			publish.NewWebhookNotifier(cfg.Publish.NotifyURL, cfg.Publish.Timeout),
		),
	}, nil
}

// newArchive 归档失败只记日志，不阻塞启动
func newArchive(cfg *conf.Config) crawl.Archive {
	switch cfg.Crawl.Archive {
	case "mongo":
		client, err := db.GetMongoConn(cfg.Mongo)
		if err != nil {
			logger.Warn("⚠️ Mongo archive disabled", zap.Error(err))
			return nil
		}
		return crawl.NewMongoArchive(client, cfg.Mongo.Database, cfg.Mongo.Collection)
	case "local":
		return crawl.NewFileArchive(storage.NewLocalStorage(cfg.Upload.BasePath, cfg.Upload.BaseURL))
	}
	return nil
}
