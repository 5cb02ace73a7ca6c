package server

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/iceymoss/go-discovery/internal/candidate"
	"github.com/iceymoss/go-discovery/internal/repo"
	"github.com/iceymoss/go-discovery/pkg/db/objects"
)

type generateRequest struct {
	Platforms []string `json:"platforms"`
}

type candidateRequest struct {
	ContentID           uint64     `json:"content_id" binding:"required"`
	Platform            string     `json:"platform" binding:"required"`
	Lang                string     `json:"lang"`
	Tone                string     `json:"tone"`
	BodyText            string     `json:"body_text"`
	IntendedPublishTime *time.Time `json:"intended_publish_time"`
}

// candidatePatch 只允许改正文和发布时间，状态只能通过动作接口修改
type candidatePatch struct {
	BodyText            *string    `json:"body_text"`
	IntendedPublishTime *time.Time `json:"intended_publish_time"`
	ClearPublishTime    bool       `json:"clear_publish_time"`
}

type reviewRequest struct {
	Status   string `json:"status" binding:"required"`
	Notes    string `json:"notes"`
	Reviewer string `json:"reviewer" binding:"required"`
}

type rejectRequest struct {
	Reason   string `json:"reason"`
	Reviewer string `json:"reviewer"`
}

func (s *Server) registerPipeline(api *gin.RouterGroup) {
	env := s.env

	api.GET("/contents", func(c *gin.Context) {
		f := repo.ContentFilter{
			TopicID:     queryUint(c, "topic_id"),
			SourceID:    queryUint(c, "source_id"),
			ContentType: c.Query("content_type"),
			IsDuplicate: queryBool(c, "duplicate"),
			Enriched:    queryBool(c, "enriched"),
			Limit:       queryInt(c, "limit", 50),
			Offset:      queryInt(c, "offset", 0),
		}
		if v, err := strconv.ParseFloat(c.Query("min_relevance"), 64); err == nil {
			f.MinRelevance = v
		}
		list, err := env.Contents.ListContents(c.Request.Context(), f)
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, list)
	})

	api.GET("/contents/:id", func(c *gin.Context) {
		id, valid := idParam(c, "id")
		if !valid {
			return
		}
		content, err := env.Contents.GetContent(c.Request.Context(), id)
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, content)
	})

	api.DELETE("/contents/:id", func(c *gin.Context) {
		id, valid := idParam(c, "id")
		if !valid {
			return
		}
		if err := env.Contents.DeleteContent(c.Request.Context(), id); err != nil {
			fail(c, err)
			return
		}
		ok(c, gin.H{"deleted": id})
	})

	// ?supersede=true 重新生成
	api.POST("/contents/:id/enrich", func(c *gin.Context) {
		id, valid := idParam(c, "id")
		if !valid {
			return
		}
		ctx := c.Request.Context()
		var (
			row *objects.ContentEnrichment
			err error
		)
		if c.Query("supersede") == "true" {
			row, err = env.Enrichment.Supersede(ctx, id)
		} else {
			row, err = env.Enrichment.Enrich(ctx, id)
		}
		if err != nil {
			fail(c, err)
			return
		}
		created(c, row)
	})

	api.GET("/contents/:id/enrichment", func(c *gin.Context) {
		id, valid := idParam(c, "id")
		if !valid {
			return
		}
		row, err := env.Enrichment.Get(c.Request.Context(), id)
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, row)
	})

	api.POST("/contents/:id/candidates", func(c *gin.Context) {
		id, valid := idParam(c, "id")
		if !valid {
			return
		}
		var req generateRequest
		_ = c.ShouldBindJSON(&req)
		if len(req.Platforms) == 0 {
			req.Platforms = env.Config.Pipeline.Platforms
		}
		list, err := env.Generator.Generate(c.Request.Context(), id, req.Platforms)
		if err != nil {
			fail(c, err)
			return
		}
		created(c, list)
	})

	api.GET("/candidates", func(c *gin.Context) {
		list, err := env.Candidates.List(c.Request.Context(), candidate.Filter{
			Status:    c.Query("status"),
			Platform:  c.Query("platform"),
			ContentID: queryUint(c, "content_id"),
			Limit:     queryInt(c, "limit", 100),
			Offset:    queryInt(c, "offset", 0),
		})
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, list)
	})

	api.POST("/candidates", func(c *gin.Context) {
		var req candidateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		cand := &objects.PostCandidate{
			ContentID:           req.ContentID,
			Platform:            req.Platform,
			Lang:                req.Lang,
			Tone:                req.Tone,
			BodyText:            req.BodyText,
			IntendedPublishTime: req.IntendedPublishTime,
		}
		if err := env.Candidates.Create(c.Request.Context(), cand); err != nil {
			fail(c, err)
			return
		}
		created(c, cand)
	})

	api.GET("/candidates/:id", func(c *gin.Context) {
		id, valid := idParam(c, "id")
		if !valid {
			return
		}
		cand, err := env.Candidates.Get(c.Request.Context(), id)
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, cand)
	})

	api.PATCH("/candidates/:id", func(c *gin.Context) {
		id, valid := idParam(c, "id")
		if !valid {
			return
		}
		var patch candidatePatch
		if err := c.ShouldBindJSON(&patch); err != nil {
			badRequest(c, err)
			return
		}
		ctx := c.Request.Context()
		var (
			cand *objects.PostCandidate
			err  error
		)
		if patch.BodyText != nil {
			if cand, err = env.Candidates.UpdateBody(ctx, id, *patch.BodyText); err != nil {
				fail(c, err)
				return
			}
		}
		if patch.IntendedPublishTime != nil || patch.ClearPublishTime {
			if cand, err = env.Candidates.SetPublishTime(ctx, id, patch.IntendedPublishTime); err != nil {
				fail(c, err)
				return
			}
		}
		if cand == nil {
			if cand, err = env.Candidates.Get(ctx, id); err != nil {
				fail(c, err)
				return
			}
		}
		ok(c, cand)
	})

	api.POST("/candidates/:id/moderate", func(c *gin.Context) {
		id, valid := idParam(c, "id")
		if !valid {
			return
		}
		log, err := env.Moderation.Moderate(c.Request.Context(), id)
		if err != nil {
			fail(c, err)
			return
		}
		created(c, log)
	})

	api.POST("/candidates/:id/review", func(c *gin.Context) {
		id, valid := idParam(c, "id")
		if !valid {
			return
		}
		var req reviewRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		log, err := env.Moderation.Review(c.Request.Context(), id, req.Status, req.Notes, req.Reviewer)
		if err != nil {
			fail(c, err)
			return
		}
		created(c, log)
	})

	api.GET("/candidates/:id/moderation", func(c *gin.Context) {
		id, valid := idParam(c, "id")
		if !valid {
			return
		}
		logs, err := env.Moderation.Logs(c.Request.Context(), id)
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, logs)
	})

	transition := func(fn func(c *gin.Context, id uint64) (*objects.PostCandidate, error)) gin.HandlerFunc {
		return func(c *gin.Context) {
			id, valid := idParam(c, "id")
			if !valid {
				return
			}
			cand, err := fn(c, id)
			if err != nil {
				if cand != nil {
					failWith(c, err, cand)
					return
				}
				fail(c, err)
				return
			}
			ok(c, cand)
		}
	}

	api.POST("/candidates/:id/approve", transition(func(c *gin.Context, id uint64) (*objects.PostCandidate, error) {
		return env.Candidates.Approve(c.Request.Context(), id)
	}))
	api.POST("/candidates/:id/schedule", transition(func(c *gin.Context, id uint64) (*objects.PostCandidate, error) {
		return env.Candidates.Schedule(c.Request.Context(), id)
	}))
	api.POST("/candidates/:id/publish", transition(func(c *gin.Context, id uint64) (*objects.PostCandidate, error) {
		return env.Candidates.Publish(c.Request.Context(), id)
	}))
	api.POST("/candidates/:id/reopen", transition(func(c *gin.Context, id uint64) (*objects.PostCandidate, error) {
		return env.Candidates.Reopen(c.Request.Context(), id)
	}))
	api.POST("/candidates/:id/reject", transition(func(c *gin.Context, id uint64) (*objects.PostCandidate, error) {
		var req rejectRequest
		_ = c.ShouldBindJSON(&req)
		return env.Candidates.Reject(c.Request.Context(), id, req.Reason, req.Reviewer)
	}))
}
