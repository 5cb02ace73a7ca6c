package core

import (
	"github.com/iceymoss/go-discovery/internal/candidate"
	"github.com/iceymoss/go-discovery/internal/conf"
	"github.com/iceymoss/go-discovery/internal/crawl"
	"github.com/iceymoss/go-discovery/internal/enrichment"
	"github.com/iceymoss/go-discovery/internal/moderation"
	"github.com/iceymoss/go-discovery/internal/repo"
)

// Env 进程内共享的业务服务，由 main 组装
type Env struct {
	Config *conf.Config

	Topics   *repo.TopicRepo
	Sources  *repo.SourceRepo
	Contents *repo.ContentRepo
	Jobs     *repo.JobRepo

	Orchestrator *crawl.Orchestrator
	Enrichment   *enrichment.Service
	Generator    *candidate.Generator
	Moderation   *moderation.Service
	Candidates   *candidate.Service
}
