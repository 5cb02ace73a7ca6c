package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/iceymoss/go-discovery/pkg/db/objects"
)

// Migrate 自动建表
func Migrate(dbConn *gorm.DB) error {
	if err := dbConn.AutoMigrate(
		&objects.Topic{},
		&objects.TopicQuery{},
		&objects.ContentSource{},
		&objects.DiscoveredContent{},
		&objects.ContentEnrichment{},
		&objects.PostCandidate{},
		&objects.ModerationLog{},
		&objects.CrawlJob{},
		&objects.FetchLog{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
