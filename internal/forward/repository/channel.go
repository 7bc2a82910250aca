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

// MongoChannelRepository 频道引用存储（MongoDB 实现）
type MongoChannelRepository struct {
	collection *mongo.Collection
}

// NewMongoChannelRepository 创建频道引用 Repository
func NewMongoChannelRepository(db *mongo.Database) ChannelRepository {
	return &MongoChannelRepository{
		collection: db.Collection("channel_refs"),
	}
}

// Add 登记频道引用
func (r *MongoChannelRepository) Add(ctx context.Context, ref *forward.ChannelRef) error {
	if ref.AddedAt.IsZero() {
		ref.AddedAt = time.Now()
	}

	if _, err := r.collection.InsertOne(ctx, ref); err != nil {
		return fmt.Errorf("failed to add channel ref: %w", err)
	}
	return nil
}

// GetByRefID 根据引用ID获取
func (r *MongoChannelRepository) GetByRefID(ctx context.Context, userID int64, refID string) (*forward.ChannelRef, error) {
	filter := bson.M{"user_id": userID, "ref_id": refID}

	var ref forward.ChannelRef
	err := r.collection.FindOne(ctx, filter).Decode(&ref)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, forward.ErrChannelNotFound
		}
		return nil, fmt.Errorf("failed to get channel ref: %w", err)
	}
	return &ref, nil
}

// ListByUser 列出用户的全部频道引用
func (r *MongoChannelRepository) ListByUser(ctx context.Context, userID int64) ([]*forward.ChannelRef, error) {
	opts := options.Find().SetSort(bson.D{{Key: "added_at", Value: -1}})
	cursor, err := r.collection.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list channel refs: %w", err)
	}
	defer cursor.Close(ctx)

	var refs []*forward.ChannelRef
	if err := cursor.All(ctx, &refs); err != nil {
		return nil, fmt.Errorf("failed to decode channel refs: %w", err)
	}
	return refs, nil
}

// UpdateTitle 刷新频道标题
func (r *MongoChannelRepository) UpdateTitle(ctx context.Context, refID string, title string) error {
	update := bson.M{"$set": bson.M{"title": title}}
	if _, err := r.collection.UpdateOne(ctx, bson.M{"ref_id": refID}, update); err != nil {
		return fmt.Errorf("failed to update channel title: %w", err)
	}
	return nil
}

// UpdateLastMessage 登记频道的最后一条消息ID，作为下次任务的窗口上界
func (r *MongoChannelRepository) UpdateLastMessage(ctx context.Context, refID string, messageID int64) error {
	update := bson.M{"$set": bson.M{"last_message_id": messageID}}
	result, err := r.collection.UpdateOne(ctx, bson.M{"ref_id": refID}, update)
	if err != nil {
		return fmt.Errorf("failed to update channel last message: %w", err)
	}
	if result.MatchedCount == 0 {
		return forward.ErrChannelNotFound
	}
	return nil
}

// Delete 删除频道引用
func (r *MongoChannelRepository) Delete(ctx context.Context, userID int64, refID string) error {
	filter := bson.M{"user_id": userID, "ref_id": refID}
	result, err := r.collection.DeleteOne(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to delete channel ref: %w", err)
	}
	if result.DeletedCount == 0 {
		return forward.ErrChannelNotFound
	}
	return nil
}

// EnsureIndexes 确保索引存在
func (r *MongoChannelRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "ref_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{
				{Key: "user_id", Value: 1},
				{Key: "chat_id", Value: 1},
			},
		},
	}

	if _, err := r.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create indexes for channel_refs: %w", err)
	}
	return nil
}
