package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go_relay/internal/relay/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const taskCounterID = "tasks"

// MongoTaskRepository 任务数据访问层（配置存储）
type MongoTaskRepository struct {
	collection *mongo.Collection
	counters   *mongo.Collection
}

// NewMongoTaskRepository 创建任务 Repository
func NewMongoTaskRepository(db *mongo.Database) *MongoTaskRepository {
	return &MongoTaskRepository{
		collection: db.Collection("tasks"),
		counters:   db.Collection("counters"),
	}
}

// Create 创建任务
func (r *MongoTaskRepository) Create(ctx context.Context, task *models.Task) error {
	task.Sources = models.NormalizeChats(task.Sources)
	task.Targets = models.NormalizeChats(task.Targets)
	task.ForwardMode = task.NormalizedMode()
	if err := task.Validate(); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}

	id, err := r.nextID(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	task.ID = id
	task.CreatedAt = now
	task.UpdatedAt = now

	if _, err := r.collection.InsertOne(ctx, task); err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

func (r *MongoTaskRepository) nextID(ctx context.Context) (int64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	err := r.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": taskCounterID},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		opts,
	).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate task id: %w", err)
	}
	return counter.Seq, nil
}

// GetByID 根据 ID 获取任务
func (r *MongoTaskRepository) GetByID(ctx context.Context, taskID int64) (*models.Task, error) {
	var task models.Task
	err := r.collection.FindOne(ctx, bson.M{"_id": taskID}).Decode(&task)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %d", ErrTaskNotFound, taskID)
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return &task, nil
}

// GetSettings 获取任务配置包
func (r *MongoTaskRepository) GetSettings(ctx context.Context, taskID int64) (*models.Settings, error) {
	task, err := r.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return &task.Settings, nil
}

// ListActive 按创建顺序列出所有启用的任务
func (r *MongoTaskRepository) ListActive(ctx context.Context) ([]*models.Task, error) {
	return r.find(ctx, bson.M{"active": true})
}

// ListByOwner 列出某用户的所有任务
func (r *MongoTaskRepository) ListByOwner(ctx context.Context, ownerID int64) ([]*models.Task, error) {
	return r.find(ctx, bson.M{"owner_id": ownerID})
}

func (r *MongoTaskRepository) find(ctx context.Context, filter bson.M) ([]*models.Task, error) {
	opts := options.Find().SetSort(bson.D{
		{Key: "created_at", Value: 1},
		{Key: "_id", Value: 1},
	})

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer cursor.Close(ctx)

	var tasks []*models.Task
	if err := cursor.All(ctx, &tasks); err != nil {
		return nil, fmt.Errorf("failed to decode tasks: %w", err)
	}
	return tasks, nil
}

// SetActive 启用/停用任务，启用前校验源和目标非空
func (r *MongoTaskRepository) SetActive(ctx context.Context, ownerID, taskID int64, active bool) error {
	task, err := r.GetByID(ctx, taskID)
	if err != nil {
		return err
	}
	if task.OwnerID != ownerID {
		return fmt.Errorf("%w: %d", ErrTaskNotFound, taskID)
	}

	task.Active = active
	if err := task.Validate(); err != nil {
		return fmt.Errorf("cannot change task state: %w", err)
	}

	return r.updateOwned(ctx, ownerID, taskID, bson.M{"active": active})
}

// UpdateSettings 更新任务配置包
func (r *MongoTaskRepository) UpdateSettings(ctx context.Context, ownerID, taskID int64, settings models.Settings) error {
	return r.updateOwned(ctx, ownerID, taskID, bson.M{"settings": settings})
}

func (r *MongoTaskRepository) updateOwned(ctx context.Context, ownerID, taskID int64, fields bson.M) error {
	fields["updated_at"] = time.Now()

	result, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": taskID, "owner_id": ownerID},
		bson.M{"$set": fields},
	)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%w: %d", ErrTaskNotFound, taskID)
	}
	return nil
}

// Delete 删除任务
func (r *MongoTaskRepository) Delete(ctx context.Context, ownerID, taskID int64) error {
	result, err := r.collection.DeleteOne(ctx, bson.M{"_id": taskID, "owner_id": ownerID})
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	if result.DeletedCount == 0 {
		return fmt.Errorf("%w: %d", ErrTaskNotFound, taskID)
	}
	return nil
}

// EnsureIndexes 确保索引存在
func (r *MongoTaskRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "active", Value: 1}, {Key: "created_at", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "owner_id", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "sources.id", Value: 1}},
		},
	}

	_, err := r.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create indexes for tasks: %w", err)
	}
	return nil
}
