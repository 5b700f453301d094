package task

import (
	"context"
	"fmt"
	"time"

	"github.com/charlesren/ylog"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoConfig struct {
	URI        string        `yaml:"uri" mapstructure:"uri"`
	Database   string        `yaml:"database" mapstructure:"database"`
	Collection string        `yaml:"collection" mapstructure:"collection"`
	Timeout    time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// MongoHandler 把结果事件写入集合，一个事件一个文档
type MongoHandler struct {
	client     *mongo.Client
	collection *mongo.Collection
	timeout    time.Duration
}

func NewMongoHandler(cfg MongoConfig) (*MongoHandler, error) {
	if cfg.URI == "" || cfg.Database == "" {
		return nil, fmt.Errorf("mongo handler requires uri and database")
	}
	if cfg.Collection == "" {
		cfg.Collection = "results"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	ylog.Infof("mongo_handler", "storing results in %s.%s", cfg.Database, cfg.Collection)
	return &MongoHandler{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
		timeout:    cfg.Timeout,
	}, nil
}

func (h *MongoHandler) HandleResult(events []ResultEvent) error {
	if len(events) == 0 {
		return nil
	}
	docs := make([]interface{}, 0, len(events))
	for _, event := range events {
		docs = append(docs, event)
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	res, err := h.collection.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err != nil {
		return fmt.Errorf("MongoDB InsertMany failed: %w", err)
	}
	ylog.Debugf("mongo_handler", "inserted %d result documents", len(res.InsertedIDs))
	return nil
}

func (h *MongoHandler) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	return h.client.Disconnect(ctx)
}
