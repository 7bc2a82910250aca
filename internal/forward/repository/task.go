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

// MongoTaskRepository 任务进度存储（MongoDB 实现）
type MongoTaskRepository struct {
	collection *mongo.Collection
}

// NewMongoTaskRepository 创建任务 Repository
func NewMongoTaskRepository(db *mongo.Database) TaskRepository {
	return &MongoTaskRepository{
		collection: db.Collection("forward_tasks"),
	}
}

// SaveTask 创建或整体覆盖任务记录
func (r *MongoTaskRepository) SaveTask(ctx context.Context, task *forward.Task) error {
	now := time.Now()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now

	filter := bson.M{"task_id": task.TaskID}
	update := bson.M{
		"$set": bson.M{
			"user_id":        task.UserID,
			"source_ref_id":  task.SourceRefID,
			"dest_ref_id":    task.DestRefID,
			"source_chat_id": task.SourceChatID,
			"dest_chat_id":   task.DestChatID,
			"start_after_id": task.StartAfterID,
			"upper_bound_id": task.UpperBoundID,
			"checkpoint":     task.Checkpoint,
			"counters":       task.Counters,
			"status":         task.Status,
			"error":          task.Error,
			"config":         task.Config,
			"updated_at":     task.UpdatedAt,
		},
		"$setOnInsert": bson.M{
			"created_at": task.CreatedAt,
		},
	}

	opts := options.Update().SetUpsert(true)
	if _, err := r.collection.UpdateOne(ctx, filter, update, opts); err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}
	return nil
}

// GetByTaskID 根据任务ID获取任务
func (r *MongoTaskRepository) GetByTaskID(ctx context.Context, taskID string) (*forward.Task, error) {
	var task forward.Task
	err := r.collection.FindOne(ctx, bson.M{"task_id": taskID}).Decode(&task)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, forward.ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return &task, nil
}

// ListByUser 列出用户的任务，statuses 非空时按状态过滤
func (r *MongoTaskRepository) ListByUser(ctx context.Context, userID int64, statuses []forward.Status) ([]*forward.Task, error) {
	filter := bson.M{"user_id": userID}
	if len(statuses) > 0 {
		filter["status"] = bson.M{"$in": statuses}
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer cursor.Close(ctx)

	var tasks []*forward.Task
	if err := cursor.All(ctx, &tasks); err != nil {
		return nil, fmt.Errorf("failed to decode tasks: %w", err)
	}
	return tasks, nil
}

// FindActiveByPair 查找同一 (源, 目标) 通路上的 active 任务
func (r *MongoTaskRepository) FindActiveByPair(ctx context.Context, pair forward.Pair) (*forward.Task, error) {
	filter := bson.M{
		"source_chat_id": pair.SourceChatID,
		"dest_chat_id":   pair.DestChatID,
		"status":         forward.StatusActive,
	}

	var task forward.Task
	err := r.collection.FindOne(ctx, filter).Decode(&task)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, forward.ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to find active task: %w", err)
	}
	return &task, nil
}

// UpdateProgress 原子更新检查点和计数器
// 检查点和计数器在同一个文档更新内写入，并发读不会看到撕裂
func (r *MongoTaskRepository) UpdateProgress(ctx context.Context, taskID string, checkpoint int64, counters forward.Counters) error {
	filter := bson.M{"task_id": taskID}
	update := bson.M{
		"$set": bson.M{
			"checkpoint": checkpoint,
			"counters":   counters,
			"updated_at": time.Now(),
		},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to update progress: %w", err)
	}
	if result.MatchedCount == 0 {
		return forward.ErrTaskNotFound
	}
	return nil
}

// UpdateStatus 更新任务状态
func (r *MongoTaskRepository) UpdateStatus(ctx context.Context, taskID string, status forward.Status, errDetail string) error {
	if status != forward.StatusFailed {
		errDetail = ""
	}

	filter := bson.M{"task_id": taskID}
	update := bson.M{
		"$set": bson.M{
			"status":     status,
			"error":      errDetail,
			"updated_at": time.Now(),
		},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	if result.MatchedCount == 0 {
		return forward.ErrTaskNotFound
	}
	return nil
}

// DeleteTask 删除任务，active 状态拒绝删除
func (r *MongoTaskRepository) DeleteTask(ctx context.Context, taskID string) error {
	filter := bson.M{
		"task_id": taskID,
		"status":  bson.M{"$ne": forward.StatusActive},
	}

	result, err := r.collection.DeleteOne(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	if result.DeletedCount == 0 {
		// 要么不存在，要么是 active 被条件挡下，查一次区分
		if _, err := r.GetByTaskID(ctx, taskID); err != nil {
			return err
		}
		return forward.ErrTaskActive
	}
	return nil
}

// DemoteActiveTasks 启动时把所有 active 任务降级为 paused
func (r *MongoTaskRepository) DemoteActiveTasks(ctx context.Context) (int64, error) {
	filter := bson.M{"status": forward.StatusActive}
	update := bson.M{
		"$set": bson.M{
			"status":     forward.StatusPaused,
			"updated_at": time.Now(),
		},
	}

	result, err := r.collection.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("failed to demote active tasks: %w", err)
	}
	return result.ModifiedCount, nil
}

// PurgeTerminalTasks 清理早于 before 的终态任务
func (r *MongoTaskRepository) PurgeTerminalTasks(ctx context.Context, before time.Time) (int64, error) {
	filter := bson.M{
		"status":     bson.M{"$in": []forward.Status{forward.StatusCompleted, forward.StatusCancelled}},
		"updated_at": bson.M{"$lt": before},
	}

	result, err := r.collection.DeleteMany(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to purge terminal tasks: %w", err)
	}
	return result.DeletedCount, nil
}

// EnsureIndexes 确保索引存在
func (r *MongoTaskRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		// task_id 唯一索引
		{
			Keys:    bson.D{{Key: "task_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		// 用户+状态查询索引
		{
			Keys: bson.D{
				{Key: "user_id", Value: 1},
				{Key: "status", Value: 1},
			},
		},
		// 同一通路至多一个 active 任务的存储级兜底
		{
			Keys: bson.D{
				{Key: "source_chat_id", Value: 1},
				{Key: "dest_chat_id", Value: 1},
			},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"status": forward.StatusActive}),
		},
	}

	if _, err := r.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create indexes for forward_tasks: %w", err)
	}
	return nil
}
