package forward

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go_relay/internal/relay/cache"
	"go_relay/internal/relay/delivery"
	"go_relay/internal/relay/models"
	"go_relay/internal/relay/transform"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type staticResolver map[int64][]*models.Task

func (r staticResolver) Resolve(chatID int64) []*models.Task {
	return r[chatID]
}

type sentMessage struct {
	TaskID  int64
	Target  int64
	Content *models.Content
	At      time.Time
}

type fakeSender struct {
	mu    sync.Mutex
	now   func() time.Time
	sent  []sentMessage
	fails map[int64][]error // 按目标预设的错误序列
}

func (f *fakeSender) Send(ctx context.Context, task *models.Task, target models.Chat, msg *models.InboundMessage, content *models.Content) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	at := time.Now()
	if f.now != nil {
		at = f.now()
	}
	f.sent = append(f.sent, sentMessage{TaskID: task.ID, Target: target.ID, Content: content, At: at})
	if errs := f.fails[target.ID]; len(errs) > 0 {
		f.fails[target.ID] = errs[1:]
		return 0, errs[0]
	}
	return int64(len(f.sent)), nil
}

func (f *fakeSender) attemptsTo(target int64) []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentMessage
	for _, s := range f.sent {
		if s.Target == target {
			out = append(out, s)
		}
	}
	return out
}

type countingWatermarker struct {
	mu    sync.Mutex
	calls int
}

func (w *countingWatermarker) Watermark(ctx context.Context, in transform.MediaInput, s models.WatermarkSettings) (transform.MediaOutput, error) {
	w.mu.Lock()
	w.calls++
	w.mu.Unlock()
	time.Sleep(5 * time.Millisecond)
	return transform.MediaOutput{Data: append([]byte(s.Text+":"), in.Data...), FileName: in.FileName}, nil
}

type bytesFetcher []byte

func (b bytesFetcher) FetchMedia(ctx context.Context, ref *models.MediaRef) ([]byte, error) {
	return b, nil
}

type processorFunc func(ctx context.Context, msg *models.InboundMessage, task *models.Task) (cache.Result, error)

func (f processorFunc) Process(ctx context.Context, msg *models.InboundMessage, task *models.Task) (cache.Result, error) {
	return f(ctx, msg, task)
}

type memoryRecords struct {
	mu      sync.Mutex
	records []*models.DeliveryRecord
}

func (m *memoryRecords) BulkCreate(ctx context.Context, records []*models.DeliveryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, records...)
	return nil
}

func (m *memoryRecords) ListByMessage(ctx context.Context, chatID int64, messageID int64) ([]*models.DeliveryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.DeliveryRecord
	for _, r := range m.records {
		if r.SourceChatID == chatID && r.SourceMessageID == messageID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memoryRecords) ListDueForDeletion(ctx context.Context, now time.Time, limit int64) ([]*models.DeliveryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.DeliveryRecord
	for _, r := range m.records {
		if r.Delivered() && r.DeleteAt != nil && !r.DeleteAt.After(now) && int64(len(out)) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memoryRecords) MarkDeleted(ctx context.Context, id primitive.ObjectID, at time.Time, deleteErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.ID == id {
			r.DeletedAt = &at
			r.DeleteError = deleteErr
			return nil
		}
	}
	return errors.New("delivery record not found")
}

func (m *memoryRecords) EnsureIndexes(ctx context.Context) error { return nil }

func (m *memoryRecords) byTarget(target int64) *models.DeliveryRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.TargetChatID == target {
			return r
		}
	}
	return nil
}

type inactiveTasks struct{}

func (inactiveTasks) IsActive(taskID int64) bool { return false }

// fakeClock 每次 sleep 直接推进时间
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
	return ctx.Err()
}

const (
	sourceChat = int64(-100)
	targetA    = int64(-201)
	targetB    = int64(-202)
)

func newTask(id int64, targets ...int64) *models.Task {
	t := &models.Task{
		ID:      id,
		OwnerID: 42,
		Name:    "task",
		Sources: []models.Chat{{ID: sourceChat}},
		Active:  true,
	}
	for _, target := range targets {
		t.Targets = append(t.Targets, models.Chat{ID: target})
	}
	return t
}

func watermarked(t *models.Task) *models.Task {
	t.Settings.Watermark = models.WatermarkSettings{Enabled: true, Text: "@relay", ApplyPhotos: true}
	return t
}

func photo(id int) *models.InboundMessage {
	return &models.InboundMessage{
		MessageID: id,
		ChatID:    sourceChat,
		Text:      "caption",
		Media:     &models.MediaRef{Kind: models.MediaPhoto, FileID: "file", FileName: "p.jpg"},
	}
}

func TestHandleSharesTransformAcrossTasksAndTargets(t *testing.T) {
	t1 := watermarked(newTask(1, targetA, targetB))
	t2 := watermarked(newTask(2, targetA))

	c := cache.New(time.Second)
	wm := &countingWatermarker{}
	sender := &fakeSender{}
	records := &memoryRecords{}
	svc := NewService(
		staticResolver{sourceChat: {t1, t2}},
		c,
		transform.NewPipeline(c, bytesFetcher("raw"), wm, nil),
		delivery.NewController(delivery.DefaultPolicy(), nil, nil),
		sender,
		records,
		time.Minute,
	)

	report := svc.Handle(context.Background(), photo(10))

	assert.Equal(t, 1, wm.calls, "transform computed once")
	require.Len(t, sender.sent, 3)
	for _, s := range sender.sent {
		require.NotNil(t, s.Content)
		assert.Equal(t, []byte("@relay:raw"), s.Content.Data)
	}
	assert.Equal(t, 3, report.Count(models.DeliveryStatusSuccess))

	lanes := make([][2]int64, 0, len(report.Lanes))
	for _, lane := range report.Lanes {
		lanes = append(lanes, [2]int64{lane.TaskID, lane.Target.ID})
	}
	assert.Equal(t, [][2]int64{{1, targetA}, {1, targetB}, {2, targetA}}, lanes)

	assert.Equal(t, 0, c.Len(), "entries released after delivery")
	assert.Len(t, records.records, 3)
	assert.Equal(t, report.RunID, records.records[0].RunID)
}

func TestHandleRateLimitedTargetDoesNotBlockSibling(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	sender := &fakeSender{
		now: clock.Now,
		fails: map[int64][]error{
			targetA: {&delivery.RateLimitError{Op: "sendMessage", RetryAfter: 45 * time.Second}},
		},
	}
	task := newTask(1, targetA, targetB)
	task.Settings.Formatting = models.FormattingSettings{Enabled: true, Style: models.FormatBold}

	c := cache.New(time.Second)
	svc := NewService(
		staticResolver{sourceChat: {task}},
		c,
		transform.NewPipeline(c, nil, nil, nil),
		delivery.NewController(delivery.DefaultPolicy(), nil, nil, delivery.WithClock(clock.Now, clock.Sleep)),
		sender,
		nil,
		0,
	)

	report := svc.Handle(context.Background(), &models.InboundMessage{MessageID: 1, ChatID: sourceChat, Text: "hi"})

	require.Len(t, report.Lanes, 2)
	a, b := report.Lanes[0], report.Lanes[1]
	assert.Equal(t, delivery.StateSuccess, a.State)
	assert.Equal(t, 2, a.Attempts)
	assert.Equal(t, delivery.StateSuccess, b.State)
	assert.Equal(t, 1, b.Attempts)

	attemptsA := sender.attemptsTo(targetA)
	require.Len(t, attemptsA, 2)
	assert.GreaterOrEqual(t, attemptsA[1].At.Sub(attemptsA[0].At), 45*time.Second)
	assert.Equal(t, "<b>hi</b>", attemptsA[1].Content.Text)
}

func TestHandleSuppressesDuplicates(t *testing.T) {
	c := cache.New(time.Second)
	sender := &fakeSender{}
	svc := NewService(
		staticResolver{sourceChat: {newTask(1, targetA)}},
		c,
		transform.NewPipeline(c, nil, nil, nil),
		delivery.NewController(delivery.DefaultPolicy(), nil, nil),
		sender,
		nil,
		time.Minute,
	)

	msg := &models.InboundMessage{MessageID: 7, ChatID: sourceChat, Text: "once"}
	first := svc.Handle(context.Background(), msg)
	second := svc.Handle(context.Background(), msg)

	assert.False(t, first.Duplicate)
	assert.True(t, second.Duplicate)
	assert.Len(t, sender.sent, 1)
	assert.Nil(t, sender.sent[0].Content, "unchanged content is copied as is")
}

func TestHandleTransformFailureIsolatedPerTask(t *testing.T) {
	boom := &transform.TransformError{Step: "watermark", Err: errors.New("ffmpeg exited 1"), Permanent: true}
	processor := processorFunc(func(ctx context.Context, msg *models.InboundMessage, task *models.Task) (cache.Result, error) {
		if task.ID == 1 {
			return cache.Result{}, boom
		}
		return cache.Result{Unchanged: true}, nil
	})

	sender := &fakeSender{}
	records := &memoryRecords{}
	svc := NewService(
		staticResolver{sourceChat: {newTask(1, targetA), newTask(2, targetB)}},
		cache.New(time.Second),
		processor,
		delivery.NewController(delivery.DefaultPolicy(), nil, nil),
		sender,
		records,
		0,
	)

	report := svc.Handle(context.Background(), photo(3))

	require.Len(t, report.Lanes, 2)
	assert.Equal(t, models.DeliveryStatusFailed, report.Lanes[0].Status)
	assert.ErrorIs(t, report.Lanes[0].Err, boom)
	assert.Equal(t, models.DeliveryStatusSuccess, report.Lanes[1].Status)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, targetB, sender.sent[0].Target)
	require.Len(t, records.records, 2)
	assert.Contains(t, records.records[0].Error, "ffmpeg exited 1")
}

func TestHandleRetriesTransientTransformFailure(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
	)
	processor := processorFunc(func(ctx context.Context, msg *models.InboundMessage, task *models.Task) (cache.Result, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return cache.Result{}, &transform.TransformError{Step: "fetch", Err: errors.New("connection reset")}
		}
		return cache.Result{Unchanged: true}, nil
	})

	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	sender := &fakeSender{now: clock.Now}
	svc := NewService(
		staticResolver{sourceChat: {newTask(1, targetA, targetB)}},
		cache.New(time.Second),
		processor,
		delivery.NewController(delivery.DefaultPolicy(), nil, nil, delivery.WithClock(clock.Now, clock.Sleep)),
		sender,
		nil,
		time.Minute,
	)

	report := svc.Handle(context.Background(), photo(4))

	require.Len(t, report.Lanes, 2)
	for _, lane := range report.Lanes {
		assert.Equal(t, models.DeliveryStatusSuccess, lane.Status)
		assert.Equal(t, 2, lane.Attempts)
	}
	assert.Len(t, sender.sent, 2)
	assert.Equal(t, 2, calls, "failed transform recomputed once and shared")
}

func TestHandleAllowsRedeliveryWhenNothingDelivered(t *testing.T) {
	var calls int
	processor := processorFunc(func(ctx context.Context, msg *models.InboundMessage, task *models.Task) (cache.Result, error) {
		calls++
		return cache.Result{}, &transform.TransformError{Step: "watermark", Err: errors.New("bad input"), Permanent: true}
	})

	svc := NewService(
		staticResolver{sourceChat: {newTask(1, targetA)}},
		cache.New(time.Second),
		processor,
		delivery.NewController(delivery.DefaultPolicy(), nil, nil),
		&fakeSender{},
		nil,
		time.Minute,
	)

	msg := photo(5)
	first := svc.Handle(context.Background(), msg)
	second := svc.Handle(context.Background(), msg)

	assert.Equal(t, models.DeliveryStatusFailed, first.Lanes[0].Status)
	assert.False(t, second.Duplicate, "redelivery is processed again")
	assert.Equal(t, 2, calls)
}

func TestHandleKeepsDedupAfterPartialSuccess(t *testing.T) {
	sender := &fakeSender{fails: map[int64][]error{
		targetA: {&delivery.FatalError{Op: "sendMessage", Reason: "chat not found"}},
	}}
	svc := NewService(
		staticResolver{sourceChat: {newTask(1, targetA, targetB)}},
		cache.New(time.Second),
		processorFunc(func(ctx context.Context, msg *models.InboundMessage, task *models.Task) (cache.Result, error) {
			return cache.Result{Unchanged: true}, nil
		}),
		delivery.NewController(delivery.DefaultPolicy(), nil, nil),
		sender,
		nil,
		time.Minute,
	)

	msg := &models.InboundMessage{MessageID: 6, ChatID: sourceChat, Text: "hi"}
	first := svc.Handle(context.Background(), msg)
	second := svc.Handle(context.Background(), msg)

	assert.Equal(t, 1, first.Count(models.DeliveryStatusSuccess))
	assert.True(t, second.Duplicate)
	assert.Len(t, sender.sent, 2)
}

func TestHandleDeactivatedTaskStatus(t *testing.T) {
	records := &memoryRecords{}
	svc := NewService(
		staticResolver{sourceChat: {newTask(1, targetA)}},
		cache.New(time.Second),
		processorFunc(func(ctx context.Context, msg *models.InboundMessage, task *models.Task) (cache.Result, error) {
			return cache.Result{Unchanged: true}, nil
		}),
		delivery.NewController(delivery.DefaultPolicy(), inactiveTasks{}, nil),
		&fakeSender{},
		records,
		time.Minute,
	)

	report := svc.Handle(context.Background(), &models.InboundMessage{MessageID: 8, ChatID: sourceChat, Text: "hi"})

	require.Len(t, report.Lanes, 1)
	assert.Equal(t, delivery.StateCancelled, report.Lanes[0].State)
	assert.Equal(t, models.DeliveryStatusDeactivated, report.Lanes[0].Status)
	require.Len(t, records.records, 1)
	assert.Equal(t, models.DeliveryStatusDeactivated, records.records[0].Status)
}

func TestHandleSchedulesAutoDelete(t *testing.T) {
	task := newTask(1, targetA, targetB)
	task.Settings.Delivery.AutoDelete = true
	task.Settings.Delivery.AutoDeleteSeconds = 300

	records := &memoryRecords{}
	sender := &fakeSender{fails: map[int64][]error{
		targetB: {&delivery.FatalError{Op: "sendMessage", Reason: "forbidden"}},
	}}
	svc := NewService(
		staticResolver{sourceChat: {task}},
		cache.New(time.Second),
		processorFunc(func(ctx context.Context, msg *models.InboundMessage, task *models.Task) (cache.Result, error) {
			return cache.Result{Unchanged: true}, nil
		}),
		delivery.NewController(delivery.DefaultPolicy(), nil, nil),
		sender,
		records,
		0,
	)

	svc.Handle(context.Background(), &models.InboundMessage{MessageID: 9, ChatID: sourceChat, Text: "hi"})

	delivered := records.byTarget(targetA)
	require.NotNil(t, delivered)
	require.NotNil(t, delivered.DeleteAt)
	assert.Equal(t, 5*time.Minute, delivered.DeleteAt.Sub(delivered.CreatedAt))

	failed := records.byTarget(targetB)
	require.NotNil(t, failed)
	assert.Nil(t, failed.DeleteAt, "failed lanes are never scheduled")
}

type gatedSender struct {
	*fakeSender
	target int64
	gate   chan struct{}
}

func (g gatedSender) Send(ctx context.Context, task *models.Task, target models.Chat, msg *models.InboundMessage, content *models.Content) (int64, error) {
	if target.ID == g.target {
		<-g.gate
	}
	return g.fakeSender.Send(ctx, task, target, msg, content)
}

func TestHandleReportKeepsResolverOrder(t *testing.T) {
	inner := &fakeSender{}
	sender := gatedSender{fakeSender: inner, target: targetA, gate: make(chan struct{})}
	svc := NewService(
		staticResolver{sourceChat: {newTask(1, targetA), newTask(2, targetB)}},
		cache.New(time.Second),
		processorFunc(func(ctx context.Context, msg *models.InboundMessage, task *models.Task) (cache.Result, error) {
			return cache.Result{Unchanged: true}, nil
		}),
		delivery.NewController(delivery.DefaultPolicy(), nil, nil),
		sender,
		nil,
		0,
	)

	// 第二个任务先完成后才放行第一个任务
	go func() {
		for len(inner.attemptsTo(targetB)) == 0 {
			time.Sleep(time.Millisecond)
		}
		close(sender.gate)
	}()

	report := svc.Handle(context.Background(), &models.InboundMessage{MessageID: 10, ChatID: sourceChat, Text: "hi"})

	require.Len(t, inner.sent, 2)
	assert.Equal(t, targetB, inner.sent[0].Target)
	require.Len(t, report.Lanes, 2)
	assert.Equal(t, int64(1), report.Lanes[0].TaskID)
	assert.Equal(t, int64(2), report.Lanes[1].TaskID)
}

func TestHandleFilteredTaskIsSkipped(t *testing.T) {
	filtered := newTask(1, targetA)
	filtered.Settings.Filters.BlockedWords = []string{"spam"}

	sender := &fakeSender{}
	svc := NewService(
		staticResolver{sourceChat: {filtered, newTask(2, targetB)}},
		cache.New(time.Second),
		processorFunc(func(ctx context.Context, msg *models.InboundMessage, task *models.Task) (cache.Result, error) {
			return cache.Result{Unchanged: true}, nil
		}),
		delivery.NewController(delivery.DefaultPolicy(), nil, nil),
		sender,
		nil,
		0,
	)

	report := svc.Handle(context.Background(), &models.InboundMessage{MessageID: 1, ChatID: sourceChat, Text: "SPAM offer"})

	assert.Equal(t, models.DeliveryStatusSkipped, report.Lanes[0].Status)
	assert.Equal(t, models.DeliveryStatusSuccess, report.Lanes[1].Status)
	assert.Len(t, sender.sent, 1)
}

func TestHandleEmptyContentAfterTransformIsSkipped(t *testing.T) {
	task := newTask(1, targetA)
	task.Settings.TextCleaning.RemoveLinks = true

	sender := &fakeSender{}
	svc := NewService(
		staticResolver{sourceChat: {task}},
		cache.New(time.Second),
		transform.NewPipeline(cache.New(time.Second), nil, nil, nil),
		delivery.NewController(delivery.DefaultPolicy(), nil, nil),
		sender,
		nil,
		0,
	)

	report := svc.Handle(context.Background(), &models.InboundMessage{MessageID: 1, ChatID: sourceChat, Text: "https://t.me/spam"})

	require.Len(t, report.Lanes, 1)
	assert.Equal(t, models.DeliveryStatusSkipped, report.Lanes[0].Status)
	assert.Empty(t, sender.sent)
}

func TestHandleUnknownChat(t *testing.T) {
	sender := &fakeSender{}
	svc := NewService(staticResolver{}, cache.New(time.Second), nil,
		delivery.NewController(delivery.DefaultPolicy(), nil, nil), sender, nil, time.Minute)

	report := svc.Handle(context.Background(), &models.InboundMessage{MessageID: 1, ChatID: -5})
	assert.Equal(t, 0, report.Tasks)
	assert.Empty(t, report.Lanes)
	assert.Empty(t, sender.sent)
}

func TestDispatchDoesNotBlockOnWaitingLane(t *testing.T) {
	release := make(chan struct{})
	sleep := func(ctx context.Context, d time.Duration) error {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	sender := &fakeSender{fails: map[int64][]error{
		targetA: {&delivery.RateLimitError{Op: "send", RetryAfter: time.Minute}},
	}}
	c := cache.New(time.Second)
	svc := NewService(
		staticResolver{sourceChat: {newTask(1, targetA)}},
		c,
		transform.NewPipeline(c, nil, nil, nil),
		delivery.NewController(delivery.DefaultPolicy(), nil, nil, delivery.WithClock(nil, sleep)),
		sender,
		nil,
		time.Minute,
	)

	svc.Dispatch(context.Background(), &models.InboundMessage{MessageID: 1, ChatID: sourceChat, Text: "first"})
	assert.Eventually(t, func() bool { return len(sender.attemptsTo(targetA)) == 1 }, time.Second, 5*time.Millisecond)

	// 第一条消息仍在等待限流时，第二条消息正常投递
	sender.mu.Lock()
	sender.fails = nil
	sender.mu.Unlock()
	svc.Dispatch(context.Background(), &models.InboundMessage{MessageID: 2, ChatID: sourceChat, Text: "second"})
	assert.Eventually(t, func() bool { return len(sender.attemptsTo(targetA)) == 2 }, time.Second, 5*time.Millisecond)

	close(release)
	require.NoError(t, svc.Shutdown(context.Background()))
	assert.Len(t, sender.attemptsTo(targetA), 3)
}

func TestDispatchOutlivesCallerContext(t *testing.T) {
	sender := &fakeSender{}
	svc := NewService(
		staticResolver{sourceChat: {newTask(1, targetA)}},
		cache.New(time.Second),
		processorFunc(func(ctx context.Context, msg *models.InboundMessage, task *models.Task) (cache.Result, error) {
			return cache.Result{Unchanged: true}, nil
		}),
		delivery.NewController(delivery.DefaultPolicy(), nil, nil),
		sender,
		nil,
		0,
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc.Dispatch(ctx, &models.InboundMessage{MessageID: 1, ChatID: sourceChat, Text: "late"})

	require.NoError(t, svc.Shutdown(context.Background()))
	assert.Len(t, sender.attemptsTo(targetA), 1)
}

func TestShutdownCancelsWaitingLanesAfterDeadline(t *testing.T) {
	sleep := func(ctx context.Context, d time.Duration) error {
		<-ctx.Done()
		return ctx.Err()
	}
	sender := &fakeSender{fails: map[int64][]error{
		targetA: {&delivery.RateLimitError{Op: "send", RetryAfter: time.Hour}},
	}}
	records := &memoryRecords{}
	svc := NewService(
		staticResolver{sourceChat: {newTask(1, targetA)}},
		cache.New(time.Second),
		processorFunc(func(ctx context.Context, msg *models.InboundMessage, task *models.Task) (cache.Result, error) {
			return cache.Result{Unchanged: true}, nil
		}),
		delivery.NewController(delivery.DefaultPolicy(), nil, nil, delivery.WithClock(nil, sleep)),
		sender,
		records,
		0,
	)

	svc.Dispatch(context.Background(), &models.InboundMessage{MessageID: 1, ChatID: sourceChat, Text: "stuck"})
	assert.Eventually(t, func() bool { return len(sender.attemptsTo(targetA)) == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := svc.Shutdown(ctx)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.Len(t, records.records, 1)
	assert.Equal(t, models.DeliveryStatusCancelled, records.records[0].Status)
}

func TestSeenCacheExpires(t *testing.T) {
	c := newSeenCache(time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	key := models.MessageKey{ChatID: -1, MessageID: 1}
	assert.True(t, c.MarkSeen(key))
	assert.False(t, c.MarkSeen(key))

	now = now.Add(2 * time.Minute)
	assert.True(t, c.MarkSeen(key))
	assert.Equal(t, 1, c.Len())

	c.Forget(key)
	assert.True(t, c.MarkSeen(key))

	var disabled *seenCache
	assert.True(t, disabled.MarkSeen(key))
	assert.True(t, disabled.MarkSeen(key))
}
