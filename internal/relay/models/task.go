package models

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// ForwardMode 转发模式
type ForwardMode string

const (
	ForwardModeCopy  ForwardMode = "copy"  // 以 Bot 身份重新发送（可应用转换）
	ForwardModeRelay ForwardMode = "relay" // 原样转发（保留来源标记）
)

// Chat 源/目标聊天
type Chat struct {
	ID   int64  `bson:"id"`             // Telegram Chat ID
	Name string `bson:"name,omitempty"` // 展示名称
}

// Task 转发任务
type Task struct {
	ID          int64       `bson:"_id"`          // 自增任务 ID
	OwnerID     int64       `bson:"owner_id"`     // 任务所有者 Telegram 用户 ID
	Name        string      `bson:"name"`         // 任务名称
	ForwardMode ForwardMode `bson:"forward_mode"` // copy/relay
	Sources     []Chat      `bson:"sources"`      // 有序源聊天集合
	Targets     []Chat      `bson:"targets"`      // 有序目标聊天集合
	Settings    Settings    `bson:"settings"`     // 转换配置
	Active      bool        `bson:"active"`       // 是否启用

	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// ErrEmptyChatSet 启用的任务必须同时拥有源和目标
var ErrEmptyChatSet = errors.New("active task requires at least one source and one target")

// Validate 校验任务不变量
func (t *Task) Validate() error {
	if t == nil {
		return errors.New("task is nil")
	}
	if strings.TrimSpace(t.Name) == "" {
		return errors.New("task name cannot be empty")
	}
	switch t.NormalizedMode() {
	case ForwardModeCopy, ForwardModeRelay:
	default:
		return fmt.Errorf("unknown forward mode %q", t.ForwardMode)
	}
	if t.Active && (len(t.Sources) == 0 || len(t.Targets) == 0) {
		return ErrEmptyChatSet
	}
	if err := t.Settings.Delivery.Validate(); err != nil {
		return err
	}
	return nil
}

// NormalizedMode 空模式按 copy 处理
func (t *Task) NormalizedMode() ForwardMode {
	if t.ForwardMode == "" {
		return ForwardModeCopy
	}
	return t.ForwardMode
}

// HasSource 判断 chatID 是否属于源集合
func (t *Task) HasSource(chatID int64) bool {
	return slices.ContainsFunc(t.Sources, func(c Chat) bool { return c.ID == chatID })
}

// TargetByID 返回目标聊天；目标已被移除时只保留 ID
func (t *Task) TargetByID(chatID int64) Chat {
	if i := slices.IndexFunc(t.Targets, func(c Chat) bool { return c.ID == chatID }); i >= 0 {
		return t.Targets[i]
	}
	return Chat{ID: chatID}
}

// NormalizeChats 去重并保持原有顺序
func NormalizeChats(chats []Chat) []Chat {
	if len(chats) == 0 {
		return nil
	}
	seen := make(map[int64]struct{}, len(chats))
	clean := make([]Chat, 0, len(chats))
	for _, c := range chats {
		if c.ID == 0 {
			continue
		}
		if _, ok := seen[c.ID]; ok {
			continue
		}
		seen[c.ID] = struct{}{}
		clean = append(clean, Chat{ID: c.ID, Name: strings.TrimSpace(c.Name)})
	}
	if len(clean) == 0 {
		return nil
	}
	return clean
}

// DisplayName 返回聊天的可读名称
func (c Chat) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return fmt.Sprintf("%d", c.ID)
}
