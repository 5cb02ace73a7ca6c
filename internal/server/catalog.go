package server

import (
	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"

	"github.com/iceymoss/go-discovery/internal/repo"
	"github.com/iceymoss/go-discovery/pkg/db/objects"
)

type topicRequest struct {
	Name        string `json:"name" binding:"required"`
	Slug        string `json:"slug"`
	Description string `json:"description"`
	Priority    int    `json:"priority"`
	IsActive    *bool  `json:"is_active"`
}

type queryRequest struct {
	QueryText     string               `json:"query_text" binding:"required"`
	Filters       objects.QueryFilters `json:"filters"`
	RecencyWindow int                  `json:"recency_window"`
	LangPref      string               `json:"lang_pref"`
	Weight        float64              `json:"weight"`
	IsActive      *bool                `json:"is_active"`
}

type sourceRequest struct {
	Name             string  `json:"name" binding:"required"`
	SourceType       string  `json:"source_type" binding:"required"`
	BaseURL          string  `json:"base_url" binding:"required"`
	FeedURL          *string `json:"feed_url"`
	ReliabilityScore float64 `json:"reliability_score"`
	IsActive         *bool   `json:"is_active"`
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func (s *Server) registerCatalog(api *gin.RouterGroup) {
	topics := s.env.Topics
	sources := s.env.Sources

	api.GET("/topics", func(c *gin.Context) {
		list, err := topics.ListTopics(c.Request.Context(), queryBool(c, "active"))
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, list)
	})

	api.POST("/topics", func(c *gin.Context) {
		var req topicRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		t := &objects.Topic{
			Name:        req.Name,
			Slug:        req.Slug,
			Description: req.Description,
			Priority:    req.Priority,
			IsActive:    boolOr(req.IsActive, true),
		}
		if err := topics.CreateTopic(c.Request.Context(), t); err != nil {
			fail(c, err)
			return
		}
		created(c, t)
	})

	api.GET("/topics/:id", func(c *gin.Context) {
		id, valid := idParam(c, "id")
		if !valid {
			return
		}
		t, err := topics.GetTopic(c.Request.Context(), id)
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, t)
	})

	api.PATCH("/topics/:id", func(c *gin.Context) {
		id, valid := idParam(c, "id")
		if !valid {
			return
		}
		var patch repo.TopicPatch
		if err := c.ShouldBindJSON(&patch); err != nil {
			badRequest(c, err)
			return
		}
		t, err := topics.UpdateTopic(c.Request.Context(), id, patch)
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, t)
	})

	api.DELETE("/topics/:id", func(c *gin.Context) {
		id, valid := idParam(c, "id")
		if !valid {
			return
		}
		if err := topics.DeleteTopic(c.Request.Context(), id); err != nil {
			fail(c, err)
			return
		}
		ok(c, gin.H{"deleted": id})
	})

	api.POST("/topics/:id/queries", func(c *gin.Context) {
		id, valid := idParam(c, "id")
		if !valid {
			return
		}
		var req queryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		q := &objects.TopicQuery{
			TopicID:       id,
			QueryText:     req.QueryText,
			Filters:       datatypes.NewJSONType(req.Filters),
			RecencyWindow: req.RecencyWindow,
			LangPref:      req.LangPref,
			Weight:        req.Weight,
			IsActive:      boolOr(req.IsActive, true),
		}
		if err := topics.AddQuery(c.Request.Context(), q); err != nil {
			fail(c, err)
			return
		}
		created(c, q)
	})

	api.PATCH("/queries/:id", func(c *gin.Context) {
		id, valid := idParam(c, "id")
		if !valid {
			return
		}
		var patch repo.QueryPatch
		if err := c.ShouldBindJSON(&patch); err != nil {
			badRequest(c, err)
			return
		}
		q, err := topics.UpdateQuery(c.Request.Context(), id, patch)
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, q)
	})

	api.DELETE("/queries/:id", func(c *gin.Context) {
		id, valid := idParam(c, "id")
		if !valid {
			return
		}
		if err := topics.DeleteQuery(c.Request.Context(), id); err != nil {
			fail(c, err)
			return
		}
		ok(c, gin.H{"deleted": id})
	})

	api.GET("/sources", func(c *gin.Context) {
		list, err := sources.ListSources(c.Request.Context(), repo.SourceFilter{
			SourceType: c.Query("type"),
			Active:     queryBool(c, "active"),
		})
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, list)
	})

	api.POST("/sources", func(c *gin.Context) {
		var req sourceRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		src := &objects.ContentSource{
			Name:             req.Name,
			SourceType:       req.SourceType,
			BaseURL:          req.BaseURL,
			FeedURL:          req.FeedURL,
			ReliabilityScore: req.ReliabilityScore,
			IsActive:         boolOr(req.IsActive, true),
		}
		if err := sources.CreateSource(c.Request.Context(), src); err != nil {
			fail(c, err)
			return
		}
		created(c, src)
	})

	api.GET("/sources/:id", func(c *gin.Context) {
		id, valid := idParam(c, "id")
		if !valid {
			return
		}
		src, err := sources.GetSource(c.Request.Context(), id)
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, src)
	})

	api.PATCH("/sources/:id", func(c *gin.Context) {
		id, valid := idParam(c, "id")
		if !valid {
			return
		}
		var patch repo.SourcePatch
		if err := c.ShouldBindJSON(&patch); err != nil {
			badRequest(c, err)
			return
		}
		src, err := sources.UpdateSource(c.Request.Context(), id, patch)
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, src)
	})

	api.DELETE("/sources/:id", func(c *gin.Context) {
		id, valid := idParam(c, "id")
		if !valid {
			return
		}
		if err := sources.DeleteSource(c.Request.Context(), id); err != nil {
			fail(c, err)
			return
		}
		ok(c, gin.H{"deleted": id})
	})
}
