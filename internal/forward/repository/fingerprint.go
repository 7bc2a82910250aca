package repository

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoFingerprintRepository 去重指纹存储（MongoDB 实现）
type MongoFingerprintRepository struct {
	collection *mongo.Collection
}

// NewMongoFingerprintRepository 创建指纹 Repository
func NewMongoFingerprintRepository(db *mongo.Database) FingerprintRepository {
	return &MongoFingerprintRepository{
		collection: db.Collection("fingerprints"),
	}
}

// Seen 判断指纹是否已在目标中出现过
func (r *MongoFingerprintRepository) Seen(ctx context.Context, destChatID int64, fingerprint string) (bool, error) {
	filter := bson.M{"dest_chat_id": destChatID, "fingerprint": fingerprint}

	err := r.collection.FindOne(ctx, filter).Err()
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return false, nil
		}
		return false, fmt.Errorf("failed to query fingerprint: %w", err)
	}
	return true, nil
}

// Record 记录指纹，重复记录静默成功
func (r *MongoFingerprintRepository) Record(ctx context.Context, destChatID int64, fingerprint string) error {
	filter := bson.M{"dest_chat_id": destChatID, "fingerprint": fingerprint}
	update := bson.M{
		"$setOnInsert": bson.M{"created_at": time.Now()},
	}

	opts := options.Update().SetUpsert(true)
	if _, err := r.collection.UpdateOne(ctx, filter, update, opts); err != nil {
		return fmt.Errorf("failed to record fingerprint: %w", err)
	}
	return nil
}

// EnsureIndexes 确保索引存在
func (r *MongoFingerprintRepository) EnsureIndexes(ctx context.Context, ttl time.Duration) error {
	indexes := []mongo.IndexModel{
		// 目标内指纹唯一
		{
			Keys: bson.D{
				{Key: "dest_chat_id", Value: 1},
				{Key: "fingerprint", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
		// TTL 索引，过期自动清理
		{
			Keys:    bson.D{{Key: "created_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(ttl.Seconds())),
		},
	}

	if _, err := r.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create indexes for fingerprints: %w", err)
	}
	return nil
}
