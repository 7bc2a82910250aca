package repository

import (
	"context"
	"fmt"
	"time"

	"forwardbot/internal/forward"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// userConfigDoc 用户配置文档
type userConfigDoc struct {
	UserID    int64          `bson:"user_id"`
	Config    forward.Config `bson:"config"`
	UpdatedAt time.Time      `bson:"updated_at"`
}

// MongoConfigRepository 用户转发配置存储（MongoDB 实现）
type MongoConfigRepository struct {
	collection *mongo.Collection
}

// NewMongoConfigRepository 创建配置 Repository
func NewMongoConfigRepository(db *mongo.Database) ConfigRepository {
	return &MongoConfigRepository{
		collection: db.Collection("user_configs"),
	}
}

// GetByUserID 获取用户配置，不存在时返回默认配置
func (r *MongoConfigRepository) GetByUserID(ctx context.Context, userID int64) (forward.Config, error) {
	var doc userConfigDoc
	err := r.collection.FindOne(ctx, bson.M{"user_id": userID}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return forward.DefaultConfig(), nil
		}
		return forward.Config{}, fmt.Errorf("failed to get user config: %w", err)
	}

	// 旧记录可能缺少新增的类别开关，补齐默认值
	if doc.Config.Filters == nil {
		doc.Config.Filters = forward.DefaultConfig().Filters
	}
	return doc.Config, nil
}

// Update 整体覆盖用户配置
func (r *MongoConfigRepository) Update(ctx context.Context, userID int64, cfg forward.Config) error {
	filter := bson.M{"user_id": userID}
	update := bson.M{
		"$set": bson.M{
			"config":     cfg,
			"updated_at": time.Now(),
		},
	}

	opts := options.Update().SetUpsert(true)
	if _, err := r.collection.UpdateOne(ctx, filter, update, opts); err != nil {
		return fmt.Errorf("failed to update user config: %w", err)
	}
	return nil
}

// EnsureIndexes 确保索引存在
func (r *MongoConfigRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}

	if _, err := r.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create indexes for user_configs: %w", err)
	}
	return nil
}
