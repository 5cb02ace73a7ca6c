package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/iceymoss/go-discovery/internal/core"
	"github.com/iceymoss/go-discovery/internal/engine"
	"github.com/iceymoss/go-discovery/internal/tasks"
	"github.com/iceymoss/go-discovery/pkg/constants"
	"github.com/iceymoss/go-discovery/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	engine    *gin.Engine
	scheduler *engine.Scheduler
	env       *core.Env
}

func NewServer(env *core.Env) *Server {
	scheduler := engine.NewScheduler(env)

	tasks.ApplyAutoJobs(scheduler, map[string]string{
		"discovery:daily_crawl": env.Config.Crawl.Cron,
	})

	// 注册所有配置型任务
	for _, job := range env.Config.Jobs {
		if !job.Enable {
			continue
		}
		err := scheduler.AddJob(job.Cron, job.Name, job.Name, job.Params, string(constants.TaskTypeYAML))
		if err != nil {
			logger.Warn("⚠️ Failed to schedule", zap.String("job", job.Name), zap.Error(err))
		} else {
			logger.Info("✅ Job scheduled", zap.String("job", job.Name), zap.String("cron", job.Cron))
		}
	}

	s := &Server{engine: gin.New(), scheduler: scheduler, env: env}
	s.routes()
	return s
}

func (s *Server) routes() {
	router := s.engine
	router.Use(gin.Recovery(), requestLog())

	api := router.Group("/api")
	{
		api.GET("/tasks", func(c *gin.Context) {
			ok(c, s.scheduler.Stats.GetAll())
		})

		api.POST("/tasks/:name/run", func(c *gin.Context) {
			name := c.Param("name")
			if err := s.scheduler.ManualRun(name); err != nil {
				status := http.StatusConflict
				if errors.Is(err, engine.ErrJobNotFound) {
					status = http.StatusNotFound
				}
				c.JSON(status, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusAccepted, gin.H{"message": "Triggered"})
		})
	}

	s.registerCatalog(api)
	s.registerPipeline(api)
	s.registerCrawl(api)

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "API not found"})
	})
}

// requestLog 用 zap 记录请求，替代 gin 默认的 stdout 日志
func requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

// Handler 暴露路由，便于测试
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run 启动调度器和 HTTP 服务，ctx 取消后优雅退出
func (s *Server) Run(ctx context.Context, addr string) error {
	// 启动任务调度器
	s.scheduler.Start()
	defer s.scheduler.Stop()

	srv := &http.Server{Addr: addr, Handler: s.engine}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info("🛑 Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
