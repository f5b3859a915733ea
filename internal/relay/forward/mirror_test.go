package forward

import (
	"context"
	"sync"
	"testing"
	"time"

	"go_relay/internal/relay/cache"
	"go_relay/internal/relay/delivery"
	"go_relay/internal/relay/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type editCall struct {
	ChatID    int64
	MessageID int64
	Caption   bool
	Text      string
}

type fakeEditor struct {
	mu      sync.Mutex
	edits   []editCall
	deletes []editCall
	fails   map[int64][]error
}

func (f *fakeEditor) Edit(ctx context.Context, task *models.Task, chatID, messageID int64, caption bool, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, editCall{ChatID: chatID, MessageID: messageID, Caption: caption, Text: text})
	return f.next(chatID)
}

func (f *fakeEditor) Delete(ctx context.Context, chatID, messageID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, editCall{ChatID: chatID, MessageID: messageID})
	return f.next(chatID)
}

func (f *fakeEditor) next(chatID int64) error {
	if errs := f.fails[chatID]; len(errs) > 0 {
		f.fails[chatID] = errs[1:]
		return errs[0]
	}
	return nil
}

func deliveredRecord(taskID, target, targetMessageID int64, messageID int) *models.DeliveryRecord {
	return &models.DeliveryRecord{
		ID:              primitive.NewObjectID(),
		RunID:           "run-1",
		TaskID:          taskID,
		SourceChatID:    sourceChat,
		SourceMessageID: int64(messageID),
		TargetChatID:    target,
		TargetMessageID: targetMessageID,
		Status:          models.DeliveryStatusSuccess,
		Attempts:        1,
		CreatedAt:       time.Now(),
	}
}

func newMirrorService(tasks []*models.Task, records *memoryRecords, editor Editor) *Service {
	var opts []Option
	if editor != nil {
		opts = append(opts, WithEditor(editor))
	}
	return NewService(
		staticResolver{sourceChat: tasks},
		cache.New(time.Second),
		nil,
		delivery.NewController(delivery.DefaultPolicy(), nil, nil),
		&fakeSender{},
		records,
		time.Minute,
		opts...,
	)
}

func TestHandleEditUpdatesSyncedCopies(t *testing.T) {
	synced := newTask(1, targetA, targetB)
	synced.Settings.Delivery.SyncEdit = true
	synced.Settings.HeaderFooter = models.HeaderFooterSettings{FooterEnabled: true, FooterText: "via src"}

	unsynced := newTask(2, targetA)

	relayed := newTask(3, targetB)
	relayed.ForwardMode = models.ForwardModeRelay
	relayed.Settings.Delivery.SyncEdit = true

	failed := deliveredRecord(1, targetB, 0, 20)
	failed.Status = models.DeliveryStatusFailed

	records := &memoryRecords{records: []*models.DeliveryRecord{
		deliveredRecord(1, targetA, 501, 20),
		failed,
		deliveredRecord(2, targetA, 502, 20),
		deliveredRecord(3, targetB, 503, 20),
	}}
	editor := &fakeEditor{}
	svc := newMirrorService([]*models.Task{synced, unsynced, relayed}, records, editor)

	report := svc.HandleEdit(context.Background(), &models.InboundMessage{MessageID: 20, ChatID: sourceChat, Text: "fixed typo"})

	assert.Equal(t, 1, report.Tasks)
	require.Len(t, editor.edits, 1)
	assert.Equal(t, editCall{ChatID: targetA, MessageID: 501, Text: "fixed typo\n\nvia src"}, editor.edits[0])
	require.Len(t, report.Lanes, 1)
	assert.Equal(t, models.DeliveryStatusSuccess, report.Lanes[0].Status)
}

func TestHandleEditCaptionAndRetry(t *testing.T) {
	task := newTask(1, targetA)
	task.Settings.Delivery.SyncEdit = true

	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	records := &memoryRecords{records: []*models.DeliveryRecord{deliveredRecord(1, targetA, 601, 21)}}
	editor := &fakeEditor{fails: map[int64][]error{
		targetA: {&delivery.RateLimitError{Op: "editMessageCaption", RetryAfter: 10 * time.Second}},
	}}
	svc := NewService(
		staticResolver{sourceChat: {task}},
		cache.New(time.Second),
		nil,
		delivery.NewController(delivery.DefaultPolicy(), nil, nil, delivery.WithClock(clock.Now, clock.Sleep)),
		&fakeSender{},
		records,
		0,
		WithEditor(editor),
	)

	report := svc.HandleEdit(context.Background(), photo(21))

	require.Len(t, editor.edits, 2)
	assert.True(t, editor.edits[1].Caption)
	assert.Equal(t, "caption", editor.edits[1].Text)
	assert.Equal(t, 2, report.Lanes[0].Attempts)
	assert.Equal(t, models.DeliveryStatusSuccess, report.Lanes[0].Status)
}

func TestHandleEditSkipsFilteredText(t *testing.T) {
	task := newTask(1, targetA)
	task.Settings.Delivery.SyncEdit = true
	task.Settings.Filters.BlockedWords = []string{"spam"}

	records := &memoryRecords{records: []*models.DeliveryRecord{deliveredRecord(1, targetA, 701, 22)}}
	editor := &fakeEditor{}
	svc := newMirrorService([]*models.Task{task}, records, editor)

	report := svc.HandleEdit(context.Background(), &models.InboundMessage{MessageID: 22, ChatID: sourceChat, Text: "now with spam"})

	assert.Empty(t, editor.edits)
	require.Len(t, report.Lanes, 1)
	assert.Equal(t, models.DeliveryStatusSkipped, report.Lanes[0].Status)
}

func TestHandleEditWithoutEditorIsNoop(t *testing.T) {
	task := newTask(1, targetA)
	task.Settings.Delivery.SyncEdit = true
	records := &memoryRecords{records: []*models.DeliveryRecord{deliveredRecord(1, targetA, 801, 23)}}
	svc := newMirrorService([]*models.Task{task}, records, nil)

	report := svc.HandleEdit(context.Background(), &models.InboundMessage{MessageID: 23, ChatID: sourceChat, Text: "x"})
	assert.Empty(t, report.Lanes)
}

func TestRetract(t *testing.T) {
	owned := newTask(1, targetA)
	owned.Settings.Delivery.SyncDelete = true

	foreign := newTask(2, targetB)
	foreign.OwnerID = 7
	foreign.Settings.Delivery.SyncDelete = true

	noSync := newTask(3, targetA)

	newRecords := func() *memoryRecords {
		return &memoryRecords{records: []*models.DeliveryRecord{
			deliveredRecord(1, targetA, 901, 30),
			deliveredRecord(2, targetB, 902, 30),
			deliveredRecord(3, targetA, 903, 30),
		}}
	}
	key := models.MessageKey{ChatID: sourceChat, MessageID: 30}

	t.Run("owner retracts own copies", func(t *testing.T) {
		records := newRecords()
		editor := &fakeEditor{}
		svc := newMirrorService([]*models.Task{owned, foreign, noSync}, records, editor)

		report, err := svc.Retract(context.Background(), key, 42)
		require.NoError(t, err)

		assert.Equal(t, 1, report.Tasks)
		assert.Equal(t, []editCall{{ChatID: targetA, MessageID: 901}}, editor.deletes)
		assert.NotNil(t, records.records[0].DeletedAt)
		assert.Nil(t, records.records[1].DeletedAt)
	})

	t.Run("bot owner retracts every synced task", func(t *testing.T) {
		records := newRecords()
		editor := &fakeEditor{}
		svc := newMirrorService([]*models.Task{owned, foreign, noSync}, records, editor)

		report, err := svc.Retract(context.Background(), key, 0)
		require.NoError(t, err)

		assert.Equal(t, 2, report.Count(models.DeliveryStatusSuccess))
		assert.Len(t, editor.deletes, 2)
		assert.Nil(t, records.records[2].DeletedAt, "task without delete sync is untouched")
	})

	t.Run("already deleted copies are not retried", func(t *testing.T) {
		records := newRecords()
		at := time.Now()
		records.records[0].DeletedAt = &at
		editor := &fakeEditor{}
		svc := newMirrorService([]*models.Task{owned}, records, editor)

		report, err := svc.Retract(context.Background(), key, 42)
		require.NoError(t, err)
		assert.Empty(t, report.Lanes)
		assert.Empty(t, editor.deletes)
	})

	t.Run("fatal delete keeps the record", func(t *testing.T) {
		records := newRecords()
		editor := &fakeEditor{fails: map[int64][]error{
			targetA: {&delivery.FatalError{Op: "deleteMessage", Reason: "message can't be deleted"}},
		}}
		svc := newMirrorService([]*models.Task{owned}, records, editor)

		report, err := svc.Retract(context.Background(), key, 42)
		require.NoError(t, err)
		assert.Equal(t, models.DeliveryStatusFailed, report.Lanes[0].Status)
		assert.Nil(t, records.records[0].DeletedAt)
	})

	t.Run("disabled without editor", func(t *testing.T) {
		svc := newMirrorService([]*models.Task{owned}, newRecords(), nil)
		_, err := svc.Retract(context.Background(), key, 42)
		assert.Error(t, err)
	})
}
