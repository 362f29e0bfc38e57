package storage

import (
	"context"
	"fmt"

	"sessionrecorder/pkg/model"
)

// Key 临时存储中的键
type Key string

const (
	KeyRecording Key = "isRecording"
	KeyEvents    Key = "events"
	KeySettings  Key = "settings"
)

// Change 临时存储变更通知
type Change struct {
	Key Key
}

// Ephemeral 快速临时存储，事件日志的权威来源
type Ephemeral interface {
	Events(ctx context.Context) ([]model.Event, error)
	SetEvents(ctx context.Context, events []model.Event) error
	// Settings 返回已保存的配置，第二个返回值表示是否存在
	Settings(ctx context.Context) (model.Settings, bool, error)
	SetSettings(ctx context.Context, s model.Settings) error
	Recording(ctx context.Context) (bool, error)
	SetRecording(ctx context.Context, on bool) error
	// Subscribe 订阅变更通知，ctx 结束时通道关闭
	Subscribe(ctx context.Context) (<-chan Change, error)
}

// Durable 持久化存储，仅作为临时存储的全量镜像
type Durable interface {
	Load(ctx context.Context) ([]model.Event, *model.Settings, error)
	Mirror(ctx context.Context, events []model.Event, settings *model.Settings) error
}

// PersistenceError 存储读写失败
type PersistenceError struct {
	Op    string
	Store string
	Err   error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s %s store: %v", e.Op, e.Store, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func ephemeralErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Store: "ephemeral", Err: err}
}

func durableErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Store: "durable", Err: err}
}
