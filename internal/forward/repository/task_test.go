package repository

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"forwardbot/internal/forward"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

func TestMongoTaskRepositorySaveTask(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("success", func(mt *mtest.T) {
		repo := &MongoTaskRepository{collection: mt.Coll}
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 1},
			bson.E{Key: "nModified", Value: 1},
		))

		task := &forward.Task{
			TaskID:       "task_abc12345",
			UserID:       1001,
			SourceChatID: -100200,
			DestChatID:   -100300,
			Status:       forward.StatusActive,
			Config:       forward.DefaultConfig(),
		}

		if err := repo.SaveTask(context.Background(), task); err != nil {
			t.Fatalf("SaveTask failed: %v", err)
		}
		if task.CreatedAt.IsZero() || task.UpdatedAt.IsZero() {
			t.Fatalf("expected created_at and updated_at to be set")
		}
	})

	mt.Run("write error", func(mt *mtest.T) {
		repo := &MongoTaskRepository{collection: mt.Coll}
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{
			Code:    123,
			Name:    "WriteError",
			Message: "mock write failure",
		}))

		err := repo.SaveTask(context.Background(), &forward.Task{TaskID: "task_bad"})
		if err == nil {
			t.Fatalf("expected error but got nil")
		}
		if !strings.Contains(err.Error(), "failed to save task") {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestMongoTaskRepositoryGetByTaskID(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("success", func(mt *mtest.T) {
		repo := &MongoTaskRepository{collection: mt.Coll}
		now := time.Now().UTC().Truncate(time.Second)
		mt.AddMockResponses(mtest.CreateCursorResponse(
			0,
			taskNamespace(mt),
			mtest.FirstBatch,
			bson.D{
				{Key: "task_id", Value: "task_def67890"},
				{Key: "user_id", Value: int64(1001)},
				{Key: "source_chat_id", Value: int64(-100200)},
				{Key: "dest_chat_id", Value: int64(-100300)},
				{Key: "checkpoint", Value: int64(42)},
				{Key: "status", Value: string(forward.StatusPaused)},
				{Key: "counters", Value: bson.D{
					{Key: "total", Value: int64(100)},
					{Key: "forwarded", Value: int64(42)},
				}},
				{Key: "created_at", Value: now},
				{Key: "updated_at", Value: now},
			},
		))

		task, err := repo.GetByTaskID(context.Background(), "task_def67890")
		if err != nil {
			t.Fatalf("GetByTaskID failed: %v", err)
		}
		if task.Checkpoint != 42 {
			t.Fatalf("unexpected checkpoint: got %d, want 42", task.Checkpoint)
		}
		if task.Status != forward.StatusPaused {
			t.Fatalf("unexpected status: got %s", task.Status)
		}
		if task.Counters.Total != 100 {
			t.Fatalf("unexpected total counter: got %d", task.Counters.Total)
		}
	})

	mt.Run("not found", func(mt *mtest.T) {
		repo := &MongoTaskRepository{collection: mt.Coll}
		mt.AddMockResponses(mtest.CreateCursorResponse(
			0,
			taskNamespace(mt),
			mtest.FirstBatch,
		))

		_, err := repo.GetByTaskID(context.Background(), "task_missing")
		if !errors.Is(err, forward.ErrTaskNotFound) {
			t.Fatalf("expected ErrTaskNotFound, got %v", err)
		}
	})
}

func TestMongoTaskRepositoryFindActiveByPair(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("found", func(mt *mtest.T) {
		repo := &MongoTaskRepository{collection: mt.Coll}
		mt.AddMockResponses(mtest.CreateCursorResponse(
			0,
			taskNamespace(mt),
			mtest.FirstBatch,
			bson.D{
				{Key: "task_id", Value: "task_active01"},
				{Key: "source_chat_id", Value: int64(-1)},
				{Key: "dest_chat_id", Value: int64(-2)},
				{Key: "status", Value: string(forward.StatusActive)},
			},
		))

		task, err := repo.FindActiveByPair(context.Background(), forward.Pair{SourceChatID: -1, DestChatID: -2})
		if err != nil {
			t.Fatalf("FindActiveByPair failed: %v", err)
		}
		if task.TaskID != "task_active01" {
			t.Fatalf("unexpected task id: %s", task.TaskID)
		}
	})

	mt.Run("none", func(mt *mtest.T) {
		repo := &MongoTaskRepository{collection: mt.Coll}
		mt.AddMockResponses(mtest.CreateCursorResponse(
			0,
			taskNamespace(mt),
			mtest.FirstBatch,
		))

		_, err := repo.FindActiveByPair(context.Background(), forward.Pair{SourceChatID: -1, DestChatID: -2})
		if !errors.Is(err, forward.ErrTaskNotFound) {
			t.Fatalf("expected ErrTaskNotFound, got %v", err)
		}
	})
}

func TestMongoTaskRepositoryUpdateProgress(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("success", func(mt *mtest.T) {
		repo := &MongoTaskRepository{collection: mt.Coll}
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 1},
			bson.E{Key: "nModified", Value: 1},
		))

		counters := forward.Counters{Total: 10, Forwarded: 5}
		if err := repo.UpdateProgress(context.Background(), "task_x", 55, counters); err != nil {
			t.Fatalf("UpdateProgress failed: %v", err)
		}
	})

	mt.Run("missing task", func(mt *mtest.T) {
		repo := &MongoTaskRepository{collection: mt.Coll}
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 0},
			bson.E{Key: "nModified", Value: 0},
		))

		err := repo.UpdateProgress(context.Background(), "task_missing", 55, forward.Counters{})
		if !errors.Is(err, forward.ErrTaskNotFound) {
			t.Fatalf("expected ErrTaskNotFound, got %v", err)
		}
	})
}

func TestMongoTaskRepositoryDemoteActiveTasks(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("demotes", func(mt *mtest.T) {
		repo := &MongoTaskRepository{collection: mt.Coll}
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 3},
			bson.E{Key: "nModified", Value: 3},
		))

		count, err := repo.DemoteActiveTasks(context.Background())
		if err != nil {
			t.Fatalf("DemoteActiveTasks failed: %v", err)
		}
		if count != 3 {
			t.Fatalf("expected 3 demoted tasks, got %d", count)
		}
	})
}

func taskNamespace(mt *mtest.T) string {
	return mt.DB.Name() + "." + mt.Coll.Name()
}
