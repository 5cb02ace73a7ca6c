package server

import (
	"time"

	"github.com/gin-gonic/gin"
)

type runRequest struct {
	Date string `json:"date"`
}

func (s *Server) registerCrawl(api *gin.RouterGroup) {
	env := s.env

	api.GET("/crawl/jobs", func(c *gin.Context) {
		list, err := env.Jobs.ListJobs(c.Request.Context(), c.Query("date"), queryInt(c, "limit", 30))
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, list)
	})

	api.GET("/crawl/jobs/:id", func(c *gin.Context) {
		id, valid := idParam(c, "id")
		if !valid {
			return
		}
		ctx := c.Request.Context()
		job, err := env.Jobs.GetJob(ctx, id)
		if err != nil {
			fail(c, err)
			return
		}
		logs, err := env.Jobs.FetchLogs(ctx, id)
		if err != nil {
			fail(c, err)
			return
		}
		job.FetchLogs = logs
		ok(c, job)
	})

	// 同步执行当天批次，重复运行返回 409
	api.POST("/crawl/run", func(c *gin.Context) {
		var req runRequest
		_ = c.ShouldBindJSON(&req)
		day := time.Now()
		if req.Date != "" {
			parsed, err := time.Parse("2006-01-02", req.Date)
			if err != nil {
				badRequest(c, err)
				return
			}
			day = parsed
		}
		job, err := env.Orchestrator.Run(c.Request.Context(), day)
		if err != nil {
			// 超时或被看门狗中止时带上批次的最终状态
			if job != nil {
				failWith(c, err, job)
				return
			}
			fail(c, err)
			return
		}
		ok(c, job)
	})

	api.POST("/crawl/abort-stale", func(c *gin.Context) {
		olderThan := env.Config.Crawl.StaleAfter
		if v := c.Query("older_than"); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				badRequest(c, err)
				return
			}
			olderThan = d
		}
		n, err := env.Orchestrator.AbortStale(c.Request.Context(), olderThan)
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, gin.H{"aborted": n})
	})
}
