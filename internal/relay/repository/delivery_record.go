package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go_relay/internal/relay/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const deliveryRecordTTLSeconds = 48 * 3600

type deliveryRecordRepository struct {
	collection *mongo.Collection
}

// NewDeliveryRecordRepository 创建投递记录仓储实例
func NewDeliveryRecordRepository(db *mongo.Database) DeliveryRecordRepository {
	return &deliveryRecordRepository{
		collection: db.Collection("delivery_records"),
	}
}

// BulkCreate 批量写入投递记录（无序写入）。
// 未成功的旧记录被新结果覆盖；已成功的记录保持不变，命中唯一索引的重复键被忽略
func (r *deliveryRecordRepository) BulkCreate(ctx context.Context, records []*models.DeliveryRecord) error {
	if len(records) == 0 {
		return nil
	}

	writes := make([]mongo.WriteModel, 0, len(records))
	for _, record := range records {
		filter := bson.M{
			"task_id":           record.TaskID,
			"source_chat_id":    record.SourceChatID,
			"source_message_id": record.SourceMessageID,
			"target_chat_id":    record.TargetChatID,
			"status":            bson.M{"$ne": models.DeliveryStatusSuccess},
		}
		writes = append(writes, mongo.NewReplaceOneModel().
			SetFilter(filter).
			SetReplacement(record).
			SetUpsert(true))
	}

	_, err := r.collection.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false))
	if err != nil && !onlyDuplicateKeys(err) {
		return fmt.Errorf("failed to bulk create delivery records: %w", err)
	}
	return nil
}

// onlyDuplicateKeys 平台重投时同一 (任务, 消息, 目标) 可能已存在
func onlyDuplicateKeys(err error) bool {
	var bwe mongo.BulkWriteException
	if !errors.As(err, &bwe) {
		return false
	}
	if bwe.WriteConcernError != nil || len(bwe.WriteErrors) == 0 {
		return false
	}
	for _, we := range bwe.WriteErrors {
		if we.Code != 11000 {
			return false
		}
	}
	return true
}

// ListByMessage 查询某条源消息的所有投递记录
func (r *deliveryRecordRepository) ListByMessage(ctx context.Context, chatID int64, messageID int64) ([]*models.DeliveryRecord, error) {
	filter := bson.M{
		"source_chat_id":    chatID,
		"source_message_id": messageID,
	}

	cursor, err := r.collection.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query delivery records: %w", err)
	}
	defer cursor.Close(ctx)

	var records []*models.DeliveryRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode delivery records: %w", err)
	}
	return records, nil
}

// ListDueForDeletion 查询到期需要自动删除的副本，按到期时间排序
func (r *deliveryRecordRepository) ListDueForDeletion(ctx context.Context, now time.Time, limit int64) ([]*models.DeliveryRecord, error) {
	filter := bson.M{
		"status":     models.DeliveryStatusSuccess,
		"delete_at":  bson.M{"$lte": now},
		"deleted_at": bson.M{"$exists": false},
	}
	opts := options.Find().SetSort(bson.D{{Key: "delete_at", Value: 1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query due delivery records: %w", err)
	}
	defer cursor.Close(ctx)

	var records []*models.DeliveryRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode delivery records: %w", err)
	}
	return records, nil
}

// MarkDeleted 记录副本的删除结果；deleteErr 非空表示删除失败且不再重试
func (r *deliveryRecordRepository) MarkDeleted(ctx context.Context, id primitive.ObjectID, at time.Time, deleteErr string) error {
	fields := bson.M{"deleted_at": at}
	if deleteErr != "" {
		fields["delete_error"] = deleteErr
	}

	result, err := r.collection.UpdateByID(ctx, id, bson.M{"$set": fields})
	if err != nil {
		return fmt.Errorf("failed to mark delivery record deleted: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("delivery record not found: %s", id.Hex())
	}
	return nil
}

// EnsureIndexes 确保索引存在
func (r *deliveryRecordRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "source_chat_id", Value: 1}, {Key: "source_message_id", Value: 1}},
		},
		// TTL 索引（48小时自动删除）
		{
			Keys:    bson.D{{Key: "created_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(deliveryRecordTTLSeconds),
		},
		// 自动删除扫描
		{
			Keys:    bson.D{{Key: "delete_at", Value: 1}},
			Options: options.Index().SetSparse(true),
		},
		// 复合唯一索引（防止重复投递记录）
		{
			Keys: bson.D{
				{Key: "task_id", Value: 1},
				{Key: "source_chat_id", Value: 1},
				{Key: "source_message_id", Value: 1},
				{Key: "target_chat_id", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
	}

	_, err := r.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create indexes for delivery_records: %w", err)
	}
	return nil
}
