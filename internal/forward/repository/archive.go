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

// MongoArchiveRepository 频道消息归档（MongoDB 实现）
type MongoArchiveRepository struct {
	collection *mongo.Collection
}

// NewMongoArchiveRepository 创建归档 Repository
func NewMongoArchiveRepository(db *mongo.Database) ArchiveRepository {
	return &MongoArchiveRepository{
		collection: db.Collection("channel_messages"),
	}
}

// Save 归档一条消息（按 chat+message_id 幂等）
func (r *MongoArchiveRepository) Save(ctx context.Context, chatID int64, msg *forward.Message) error {
	filter := bson.M{
		"chat_id":    chatID,
		"message_id": msg.ID,
	}

	update := bson.M{
		"$set": bson.M{
			"kind":      msg.Kind,
			"service":   msg.Service,
			"size":      msg.Size,
			"file_name": msg.FileName,
			"file_id":   msg.FileID,
			"caption":   msg.Caption,
			"text":      msg.Text,
		},
		"$setOnInsert": bson.M{
			"archived_at": time.Now(),
		},
	}

	opts := options.Update().SetUpsert(true)
	if _, err := r.collection.UpdateOne(ctx, filter, update, opts); err != nil {
		return fmt.Errorf("failed to archive message: %w", err)
	}
	return nil
}

// PageAscending 返回 ID 在 (afterID, beforeID] 内的一页消息，按ID升序
func (r *MongoArchiveRepository) PageAscending(ctx context.Context, chatID, afterID, beforeID int64, limit int) ([]*forward.Message, error) {
	idRange := bson.M{"$gt": afterID}
	if beforeID > 0 {
		idRange["$lte"] = beforeID
	}
	filter := bson.M{
		"chat_id":    chatID,
		"message_id": idRange,
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "message_id", Value: 1}}).
		SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to page messages: %w", err)
	}
	defer cursor.Close(ctx)

	var messages []*forward.Message
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}
	return messages, nil
}

// EnsureIndexes 确保索引存在
func (r *MongoArchiveRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		// 分页查询与幂等归档共用的复合唯一索引
		{
			Keys: bson.D{
				{Key: "chat_id", Value: 1},
				{Key: "message_id", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
	}

	if _, err := r.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create indexes for channel_messages: %w", err)
	}
	return nil
}
