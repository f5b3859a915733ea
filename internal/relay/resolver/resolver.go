package resolver

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go_relay/internal/logger"
	"go_relay/internal/relay/models"
	"go_relay/internal/relay/repository"

	"github.com/robfig/cron/v3"
)

// Resolver 将源聊天映射到启用的任务，基于定期刷新的内存快照
type Resolver struct {
	store    repository.TaskStore
	interval time.Duration
	now      func() time.Time

	mu          sync.RWMutex
	bySource    map[int64][]*models.Task
	byID        map[int64]*models.Task
	refreshedAt time.Time

	cron *cron.Cron
}

// New 创建 Resolver，interval 为快照刷新周期
func New(store repository.TaskStore, interval time.Duration) *Resolver {
	return &Resolver{
		store:    store,
		interval: interval,
		now:      time.Now,
		bySource: make(map[int64][]*models.Task),
		byID:     make(map[int64]*models.Task),
	}
}

// Start 加载首个快照并启动定时刷新
func (r *Resolver) Start(ctx context.Context) error {
	if err := r.Refresh(ctx); err != nil {
		return err
	}
	if r.interval <= 0 {
		return nil
	}

	r.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	r.cron.Schedule(cron.Every(r.interval), cron.FuncJob(func() {
		refreshCtx, cancel := context.WithTimeout(ctx, r.interval)
		defer cancel()
		if err := r.Refresh(refreshCtx); err != nil {
			logger.L().Warnf("Task snapshot refresh failed, keeping previous snapshot: %v", err)
		}
	}))
	r.cron.Start()

	logger.L().Infof("Task resolver started: refresh_interval=%s", r.interval)
	return nil
}

// Stop 停止定时刷新
func (r *Resolver) Stop() {
	if r.cron == nil {
		return
	}
	<-r.cron.Stop().Done()
	logger.L().Info("Task resolver stopped")
}

// Refresh 立即重新加载启用任务；失败时保留旧快照
func (r *Resolver) Refresh(ctx context.Context) error {
	tasks, err := r.store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to load active tasks: %w", err)
	}

	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].ID < tasks[j].ID
		}
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})

	bySource := make(map[int64][]*models.Task)
	byID := make(map[int64]*models.Task, len(tasks))
	for _, task := range tasks {
		if task == nil || !task.Active {
			continue
		}
		if err := task.Validate(); err != nil {
			logger.L().Warnf("Skipping invalid task: task_id=%d, error=%v", task.ID, err)
			continue
		}
		byID[task.ID] = task
		seen := make(map[int64]struct{}, len(task.Sources))
		for _, src := range task.Sources {
			if _, dup := seen[src.ID]; dup {
				continue
			}
			seen[src.ID] = struct{}{}
			bySource[src.ID] = append(bySource[src.ID], task)
		}
	}

	r.mu.Lock()
	changed := len(byID) != len(r.byID)
	r.bySource = bySource
	r.byID = byID
	r.refreshedAt = r.now()
	r.mu.Unlock()

	if changed {
		logger.L().Infof("Task snapshot refreshed: active_tasks=%d, sources=%d", len(byID), len(bySource))
	} else {
		logger.L().Debugf("Task snapshot refreshed: active_tasks=%d", len(byID))
	}
	return nil
}

// Resolve 返回源集合包含 chatID 的所有启用任务（按创建顺序），未知聊天返回空切片
func (r *Resolver) Resolve(chatID int64) []*models.Task {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tasks := r.bySource[chatID]
	out := make([]*models.Task, len(tasks))
	copy(out, tasks)
	return out
}

// IsActive 任务在当前快照中是否启用
func (r *Resolver) IsActive(taskID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.byID[taskID]
	return ok
}

// OwnerOf 返回任务所有者
func (r *Resolver) OwnerOf(taskID int64) (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	task, ok := r.byID[taskID]
	if !ok {
		return 0, false
	}
	return task.OwnerID, true
}

// Stats 快照统计
func (r *Resolver) Stats() (activeTasks, sources int, refreshedAt time.Time) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID), len(r.bySource), r.refreshedAt
}
