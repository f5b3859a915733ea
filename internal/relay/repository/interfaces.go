package repository

import (
	"context"
	"errors"
	"time"

	"go_relay/internal/relay/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ErrTaskNotFound 任务不存在或不属于该用户
var ErrTaskNotFound = errors.New("task not found")

// TaskStore 转发核心使用的只读配置接口
type TaskStore interface {
	// ListActive 按创建顺序列出所有启用的任务
	ListActive(ctx context.Context) ([]*models.Task, error)

	// GetSettings 获取任务配置包
	GetSettings(ctx context.Context, taskID int64) (*models.Settings, error)
}

// TaskRepository 任务数据访问接口
type TaskRepository interface {
	TaskStore

	// Create 创建任务并分配自增 ID
	Create(ctx context.Context, task *models.Task) error

	// GetByID 根据 ID 获取任务
	GetByID(ctx context.Context, taskID int64) (*models.Task, error)

	// ListByOwner 列出某用户的所有任务
	ListByOwner(ctx context.Context, ownerID int64) ([]*models.Task, error)

	// SetActive 启用/停用任务
	SetActive(ctx context.Context, ownerID, taskID int64, active bool) error

	// UpdateSettings 更新任务配置包
	UpdateSettings(ctx context.Context, ownerID, taskID int64, settings models.Settings) error

	// Delete 删除任务
	Delete(ctx context.Context, ownerID, taskID int64) error

	// EnsureIndexes 确保索引存在
	EnsureIndexes(ctx context.Context) error
}

// DeliveryRecordRepository 投递记录数据访问接口
type DeliveryRecordRepository interface {
	// BulkCreate 批量写入投递记录，已成功的记录不会被覆盖
	BulkCreate(ctx context.Context, records []*models.DeliveryRecord) error

	// ListByMessage 查询某条源消息的所有投递记录
	ListByMessage(ctx context.Context, chatID int64, messageID int64) ([]*models.DeliveryRecord, error)

	// ListDueForDeletion 查询到期需要自动删除的副本
	ListDueForDeletion(ctx context.Context, now time.Time, limit int64) ([]*models.DeliveryRecord, error)

	// MarkDeleted 记录副本删除结果
	MarkDeleted(ctx context.Context, id primitive.ObjectID, at time.Time, deleteErr string) error

	// EnsureIndexes 确保索引存在
	EnsureIndexes(ctx context.Context) error
}
