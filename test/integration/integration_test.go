//go:build integration

package integration

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	mongoclient "go_relay/internal/mongo"
	"go_relay/internal/relay/models"
	"go_relay/internal/relay/repository"
	"go_relay/internal/relay/resolver"

	mongodriver "go.mongodb.org/mongo-driver/mongo"
)

func TestTaskRepositoryIntegrationFlow(t *testing.T) {
	t.Parallel()

	db := setupIntegrationDatabase(t)
	repo := repository.NewMongoTaskRepository(db)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := repo.EnsureIndexes(ctx); err != nil {
		t.Fatalf("failed to ensure indexes: %v", err)
	}

	first := &models.Task{
		OwnerID: 42,
		Name:    "news",
		Sources: []models.Chat{{ID: -1001}},
		Targets: []models.Chat{{ID: -2001}, {ID: -2002}},
		Active:  true,
	}
	second := &models.Task{
		OwnerID:     42,
		Name:        "mirror",
		ForwardMode: models.ForwardModeRelay,
		Sources:     []models.Chat{{ID: -1001}},
		Targets:     []models.Chat{{ID: -2003}},
		Active:      true,
	}
	for _, task := range []*models.Task{first, second} {
		if err := repo.Create(ctx, task); err != nil {
			t.Fatalf("failed to create task %q: %v", task.Name, err)
		}
	}
	if second.ID != first.ID+1 {
		t.Fatalf("expected sequential ids, got %d and %d", first.ID, second.ID)
	}

	r := resolver.New(repo, time.Minute)
	if err := r.Refresh(ctx); err != nil {
		t.Fatalf("failed to refresh resolver: %v", err)
	}
	tasks := r.Resolve(-1001)
	if len(tasks) != 2 || tasks[0].ID != first.ID || tasks[1].ID != second.ID {
		t.Fatalf("unexpected resolved tasks: %+v", tasks)
	}

	settings := models.Settings{Watermark: models.WatermarkSettings{Enabled: true, Text: "@relay", ApplyPhotos: true}}
	if err := repo.UpdateSettings(ctx, 42, first.ID, settings); err != nil {
		t.Fatalf("failed to update settings: %v", err)
	}
	got, err := repo.GetSettings(ctx, first.ID)
	if err != nil {
		t.Fatalf("failed to read settings: %v", err)
	}
	if got.Watermark.Text != "@relay" {
		t.Fatalf("unexpected watermark text: %q", got.Watermark.Text)
	}

	if err := repo.SetActive(ctx, 42, second.ID, false); err != nil {
		t.Fatalf("failed to deactivate task: %v", err)
	}
	if err := r.Refresh(ctx); err != nil {
		t.Fatalf("failed to refresh resolver: %v", err)
	}
	if r.IsActive(second.ID) {
		t.Fatalf("expected task %d to be inactive", second.ID)
	}

	if err := repo.Delete(ctx, 7, first.ID); !errors.Is(err, repository.ErrTaskNotFound) {
		t.Fatalf("expected other owner delete to fail, got %v", err)
	}
	if err := repo.Delete(ctx, 42, first.ID); err != nil {
		t.Fatalf("failed to delete task: %v", err)
	}
	if _, err := repo.GetByID(ctx, first.ID); !errors.Is(err, repository.ErrTaskNotFound) {
		t.Fatalf("expected deleted task to be gone, got %v", err)
	}
}

func TestDeliveryRecordRepositoryIntegrationFlow(t *testing.T) {
	t.Parallel()

	db := setupIntegrationDatabase(t)
	repo := repository.NewDeliveryRecordRepository(db)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := repo.EnsureIndexes(ctx); err != nil {
		t.Fatalf("failed to ensure indexes: %v", err)
	}

	now := time.Now().UTC()
	records := []*models.DeliveryRecord{
		{RunID: "run-1", TaskID: 1, SourceChatID: -1001, SourceMessageID: 5, TargetChatID: -2001, Status: models.DeliveryStatusSuccess, Attempts: 1, CreatedAt: now},
		{RunID: "run-1", TaskID: 1, SourceChatID: -1001, SourceMessageID: 5, TargetChatID: -2002, Status: models.DeliveryStatusFailed, Attempts: 5, Error: "chat not found", CreatedAt: now},
	}
	if err := repo.BulkCreate(ctx, records); err != nil {
		t.Fatalf("failed to create records: %v", err)
	}

	// 已成功的记录不会被重投覆盖
	duplicate := *records[0]
	duplicate.RunID = "run-2"
	duplicate.Status = models.DeliveryStatusFailed
	// 失败的记录被重投成功后的结果替换
	retried := *records[1]
	retried.RunID = "run-2"
	retried.Status = models.DeliveryStatusSuccess
	retried.TargetMessageID = 88
	retried.Error = ""
	if err := repo.BulkCreate(ctx, []*models.DeliveryRecord{&duplicate, &retried}); err != nil {
		t.Fatalf("expected redelivery write to succeed, got %v", err)
	}

	listed, err := repo.ListByMessage(ctx, -1001, 5)
	if err != nil {
		t.Fatalf("failed to list records: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("unexpected record count: got %d, want 2", len(listed))
	}
	for _, record := range listed {
		if record.Status != models.DeliveryStatusSuccess {
			t.Fatalf("expected every record to be successful, got %+v", record)
		}
		switch record.TargetChatID {
		case -2001:
			if record.RunID != "run-1" {
				t.Fatalf("successful record was overwritten: %+v", record)
			}
		case -2002:
			if record.RunID != "run-2" || record.TargetMessageID != 88 {
				t.Fatalf("failed record was not replaced: %+v", record)
			}
		}
	}

	// 自动删除扫描
	past := now.Add(-time.Minute)
	due := &models.DeliveryRecord{RunID: "run-3", TaskID: 2, SourceChatID: -1001, SourceMessageID: 6, TargetChatID: -2001,
		TargetMessageID: 99, Status: models.DeliveryStatusSuccess, DeleteAt: &past, CreatedAt: now}
	if err := repo.BulkCreate(ctx, []*models.DeliveryRecord{due}); err != nil {
		t.Fatalf("failed to create due record: %v", err)
	}
	pending, err := repo.ListDueForDeletion(ctx, now, 10)
	if err != nil {
		t.Fatalf("failed to list due records: %v", err)
	}
	if len(pending) != 1 || pending[0].TargetMessageID != 99 {
		t.Fatalf("unexpected due records: %+v", pending)
	}
	if err := repo.MarkDeleted(ctx, pending[0].ID, now, ""); err != nil {
		t.Fatalf("failed to mark record deleted: %v", err)
	}
	pending, err = repo.ListDueForDeletion(ctx, now, 10)
	if err != nil {
		t.Fatalf("failed to list due records: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no due records after deletion, got %d", len(pending))
	}
}

func setupIntegrationDatabase(t *testing.T) *mongodriver.Database {
	t.Helper()

	uri := envOrDefault("MONGO_URI", "mongodb://localhost:27017")
	baseDatabase := envOrDefault("TEST_DATABASE", "test_go_relay")
	databaseName := fmt.Sprintf("%s_%d", baseDatabase, time.Now().UnixNano())

	client, err := mongoclient.NewClient(mongoclient.Config{
		URI:      uri,
		Database: databaseName,
		Timeout:  5 * time.Second,
	})
	if err != nil {
		if isCIEnvironment() {
			t.Fatalf("failed to connect MongoDB in CI: %v", err)
		}
		t.Skipf("MongoDB is not available locally, skip integration test: %v", err)
		return nil
	}

	db := client.Database()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := db.Drop(ctx); err != nil {
			t.Errorf("failed to drop integration database %s: %v", databaseName, err)
		}
		if err := client.Close(ctx); err != nil {
			t.Errorf("failed to close MongoDB connection: %v", err)
		}
	})

	return db
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func isCIEnvironment() bool {
	return os.Getenv("CI") == "true" || os.Getenv("GITHUB_ACTIONS") == "true"
}
