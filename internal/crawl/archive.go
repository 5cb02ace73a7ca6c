package crawl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/iceymoss/go-discovery/internal/discovery"
	"github.com/iceymoss/go-discovery/pkg/storage"
)

// Record 一次成功抓取的原始条目
type Record struct {
	RunID     string           `json:"run_id" bson:"run_id"`
	RunDate   string           `json:"run_date" bson:"run_date"`
	JobID     uint64           `json:"job_id" bson:"job_id"`
	FetchID   uint64           `json:"fetch_id" bson:"fetch_id"`
	Signature string           `json:"request_signature" bson:"request_signature"`
	Attempt   int              `json:"attempt" bson:"attempt"`
	SourceID  uint64           `json:"source_id" bson:"source_id"`
	SourceURL string           `json:"source_url" bson:"source_url"`
	FetchedAt time.Time        `json:"fetched_at" bson:"fetched_at"`
	Items     []discovery.Item `json:"items" bson:"items"`
}

// Archive 原始抓取结果归档，失败不影响抓取结果
type Archive interface {
	Store(ctx context.Context, rec Record) error
}

// MongoArchive 每次抓取一个文档
type MongoArchive struct {
	coll *mongo.Collection
}

func NewMongoArchive(client *mongo.Client, database, collection string) *MongoArchive {
	if collection == "" {
		collection = "raw_fetches"
	}
	return &MongoArchive{coll: client.Database(database).Collection(collection)}
}

func (a *MongoArchive) Store(ctx context.Context, rec Record) error {
	if _, err := a.coll.InsertOne(ctx, rec); err != nil {
		return fmt.Errorf("insert raw fetch: %w", err)
	}
	return nil
}

// FileArchive 按日期目录写 JSON 文件
type FileArchive struct {
	store storage.FileStorage
}

func NewFileArchive(store storage.FileStorage) *FileArchive {
	return &FileArchive{store: store}
}

func (a *FileArchive) Store(ctx context.Context, rec Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode raw fetch: %w", err)
	}
	name := fmt.Sprintf("%s-%d.json", rec.Signature, rec.Attempt)
	if _, err := a.store.UploadFile(ctx, bytes.NewReader(body), name, "raw/"+rec.RunDate); err != nil {
		return fmt.Errorf("write raw fetch: %w", err)
	}
	return nil
}
