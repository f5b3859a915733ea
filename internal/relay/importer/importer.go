// Package importer loads forwarding tasks from a YAML file into the task store.
//
// The file uses the same snake_case field names as the stored documents:
//
//	tasks:
//	  - owner_id: 42
//	    name: news
//	    forward_mode: copy
//	    sources: [{id: -1001}]
//	    targets: [{id: -2001}, {id: -2002}]
//	    active: true
//	    settings:
//	      watermark: {enabled: true, text: "@news", apply_photos: true}
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go_relay/internal/logger"
	"go_relay/internal/relay/models"

	"go.mongodb.org/mongo-driver/bson"
	"gopkg.in/yaml.v3"
)

// TaskCreator 写入任务
type TaskCreator interface {
	Create(ctx context.Context, task *models.Task) error
}

type document struct {
	Tasks []map[string]any `yaml:"tasks"`
}

// Parse 解析并校验 YAML 中的任务定义
func Parse(r io.Reader) ([]*models.Task, error) {
	var doc document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to decode tasks file: %w", err)
	}

	tasks := make([]*models.Task, 0, len(doc.Tasks))
	for i, raw := range doc.Tasks {
		task, err := decodeTask(raw)
		if err != nil {
			return nil, fmt.Errorf("task #%d: %w", i+1, err)
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// decodeTask 经 bson 编解码，使 YAML 字段与存储文档的字段名保持一致
func decodeTask(raw map[string]any) (*models.Task, error) {
	if _, ok := raw["_id"]; ok {
		return nil, errors.New("_id is assigned by the store and cannot be imported")
	}

	data, err := bson.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid task definition: %w", err)
	}
	var task models.Task
	if err := bson.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("invalid task definition: %w", err)
	}

	if task.OwnerID == 0 {
		return nil, errors.New("owner_id is required")
	}
	task.Sources = models.NormalizeChats(task.Sources)
	task.Targets = models.NormalizeChats(task.Targets)
	task.ForwardMode = task.NormalizedMode()
	if err := task.Validate(); err != nil {
		return nil, err
	}
	return &task, nil
}

// Import 依次创建任务，遇到错误即停止，返回已创建数量
func Import(ctx context.Context, store TaskCreator, tasks []*models.Task) (int, error) {
	for i, task := range tasks {
		if err := store.Create(ctx, task); err != nil {
			return i, fmt.Errorf("failed to create task %q: %w", task.Name, err)
		}
		logger.L().Infof("Imported task #%d %q: sources=%d targets=%d active=%t",
			task.ID, task.Name, len(task.Sources), len(task.Targets), task.Active)
	}
	return len(tasks), nil
}
