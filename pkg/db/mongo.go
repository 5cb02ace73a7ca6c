package db

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/iceymoss/go-discovery/pkg/config"
)

var mongoConn = make(map[string]*mongo.Client)
var mongoMutex sync.Mutex

// GetMongoConn 连接 mongo，用于原始抓取结果归档
func GetMongoConn(cfg config.MongoDB) (*mongo.Client, error) {
	mongoMutex.Lock()
	defer mongoMutex.Unlock()

	if conn, ok := mongoConn["main"]; ok {
		return conn, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Link).SetMaxPoolSize(120))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	mongoConn["main"] = client
	return client, nil
}
