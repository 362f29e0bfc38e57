package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"sessionrecorder/pkg/model"
)

// Service 录制服务接口，控制消息与 HTTP 接口共用
type Service interface {
	// StartRecording 开始录制所有捕获上下文
	StartRecording(ctx context.Context) error

	// StopRecording 停止录制所有捕获上下文
	StopRecording(ctx context.Context) error

	// Recording 全局录制标记
	Recording(ctx context.Context) (bool, error)

	// UpdateSettings 浅合并配置并下发到所有上下文
	UpdateSettings(ctx context.Context, patch json.RawMessage) (model.Settings, error)

	// Settings 当前配置
	Settings(ctx context.Context) (model.Settings, error)

	// CaptureScreenshot 截取指定上下文，id 为空时使用当前活动上下文
	CaptureScreenshot(ctx context.Context, id model.ContextID) (string, error)

	// Events 当前事件日志
	Events(ctx context.Context) ([]model.Event, error)

	// ClearEvents 清空事件日志
	ClearEvents(ctx context.Context) error
}

// Action 控制消息动作
type Action string

const (
	ActionStartRecording    Action = "startRecording"
	ActionStopRecording     Action = "stopRecording"
	ActionUpdateSettings    Action = "updateSettings"
	ActionCaptureScreenshot Action = "captureScreenshot"
	ActionClearEvents       Action = "clearEvents"
)

// ErrUnknownAction 未知的控制动作
var ErrUnknownAction = errors.New("unknown action")

// Message 控制消息
type Message struct {
	ID        string          `json:"id,omitempty"`
	Action    Action          `json:"action"`
	ContextID model.ContextID `json:"contextId,omitempty"`
	Settings  json.RawMessage `json:"settings,omitempty"`
}

// Response 控制消息应答
type Response struct {
	ID         string          `json:"id,omitempty"`
	OK         bool            `json:"ok"`
	Screenshot string          `json:"screenshot,omitempty"`
	Settings   *model.Settings `json:"settings,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// Dispatch 执行一条控制消息
func Dispatch(ctx context.Context, svc Service, msg Message) Response {
	resp := Response{ID: msg.ID}
	var err error
	switch msg.Action {
	case ActionStartRecording:
		err = svc.StartRecording(ctx)
	case ActionStopRecording:
		err = svc.StopRecording(ctx)
	case ActionUpdateSettings:
		var s model.Settings
		if s, err = svc.UpdateSettings(ctx, msg.Settings); err == nil {
			resp.Settings = &s
		}
	case ActionCaptureScreenshot:
		resp.Screenshot, err = svc.CaptureScreenshot(ctx, msg.ContextID)
	case ActionClearEvents:
		err = svc.ClearEvents(ctx)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownAction, msg.Action)
	}
	if err != nil {
		resp.Error = err.Error()
		return resp
	}
	resp.OK = true
	return resp
}
