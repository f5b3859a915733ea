package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DeliveryRecord 投递记录（按消息批量写入，48 小时后过期）
type DeliveryRecord struct {
	ID              primitive.ObjectID `bson:"_id,omitempty"`
	RunID           string             `bson:"run_id"`                 // 单条入站消息的处理批次 (UUID)
	TaskID          int64              `bson:"task_id"`                // 任务 ID
	SourceChatID    int64              `bson:"source_chat_id"`         // 源聊天 ID
	SourceMessageID int64              `bson:"source_message_id"`      // 源消息 ID
	TargetChatID    int64              `bson:"target_chat_id"`         // 目标聊天 ID
	TargetMessageID int64              `bson:"target_message_id"`      // 投递后的消息 ID
	Status          string             `bson:"status"`                 // success/failed/cancelled/skipped/deactivated
	Attempts        int                `bson:"attempts"`               // 发送尝试次数
	Error           string             `bson:"error,omitempty"`        // 最后一次错误
	DeleteAt        *time.Time         `bson:"delete_at,omitempty"`    // 计划自动删除时间
	DeletedAt       *time.Time         `bson:"deleted_at,omitempty"`   // 副本删除（或放弃删除）的时间
	DeleteError     string             `bson:"delete_error,omitempty"` // 放弃删除时的错误
	CreatedAt       time.Time          `bson:"created_at"`             // 创建时间（TTL索引）
}

// Delivered 副本是否仍存在于目标聊天
func (r *DeliveryRecord) Delivered() bool {
	return r.Status == DeliveryStatusSuccess && r.TargetMessageID != 0 && r.DeletedAt == nil
}

const (
	DeliveryStatusSuccess   = "success"
	DeliveryStatusFailed    = "failed"
	DeliveryStatusCancelled = "cancelled"
	DeliveryStatusSkipped   = "skipped"
	// 任务在投递途中被停用
	DeliveryStatusDeactivated = "deactivated"
)
