package model

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ContextID 捕获上下文（页面目标）标识
type ContextID string

// EventType 事件类型
type EventType string

const (
	TypeClick             EventType = "click"
	TypeKeypress          EventType = "keypress"
	TypeInputCommit       EventType = "input_commit"
	TypeFormSubmit        EventType = "form_submit"
	TypeNavigation        EventType = "navigation"
	TypeTabHidden         EventType = "tab_hidden"
	TypeTabVisible        EventType = "tab_visible"
	TypeTabCreated        EventType = "tab_created"
	TypeTabActivated      EventType = "tab_activated"
	TypeSiteSpecificInput EventType = "site_specific_input"
	TypeRecordingStarted  EventType = "recording_started"
	TypeRecordingStopped  EventType = "recording_stopped"
)

// Valid 判断是否为已知事件类型
func (t EventType) Valid() bool {
	switch t {
	case TypeClick, TypeKeypress, TypeInputCommit, TypeFormSubmit, TypeNavigation,
		TypeTabHidden, TypeTabVisible, TypeTabCreated, TypeTabActivated,
		TypeSiteSpecificInput, TypeRecordingStarted, TypeRecordingStopped:
		return true
	}
	return false
}

// ScreenshotErrorMarker 截图失败时写入事件的标记
const ScreenshotErrorMarker = "Screenshot unavailable"

// TimeLayout 事件时间戳格式（UTC，毫秒精度）
const TimeLayout = "2006-01-02T15:04:05.000Z"

// ErrContextInvalidated 捕获上下文已被宿主销毁
var ErrContextInvalidated = errors.New("capture context invalidated")

// Event 录制事件，创建后不可修改
type Event struct {
	ID              string
	Type            EventType
	Timestamp       time.Time
	Description     string
	URL             string
	Screenshot      string
	ScreenshotError string
	Payload         Payload
}

// Payload 事件类型相关的附加字段
type Payload interface {
	eventType() EventType
}

// Coordinates 点击坐标
type Coordinates struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// ClickPayload click 事件字段
type ClickPayload struct {
	Element     string      `json:"element"`
	Coordinates Coordinates `json:"coordinates"`
}

// KeyPayload keypress 事件字段
type KeyPayload struct {
	Key     string `json:"key"`
	Element string `json:"element"`
}

// InputCommitPayload input_commit 事件字段
type InputCommitPayload struct {
	TypedText string `json:"typedText"`
	Element   string `json:"element"`
	Trigger   string `json:"trigger"`
}

// FormSubmitPayload form_submit 事件字段
type FormSubmitPayload struct {
	Element string `json:"element"`
}

// NavigationPayload navigation 事件字段
type NavigationPayload struct {
	PreviousURL string `json:"previousUrl"`
}

// SiteInputPayload site_specific_input 事件字段
type SiteInputPayload struct {
	TypedText string `json:"typedText"`
	Selector  string `json:"selector"`
}

// TabPayload tab_created / tab_activated 事件字段
type TabPayload struct {
	TabID string `json:"tabId,omitempty"`
	// Activated 区分 tab_activated 与 tab_created，不参与序列化
	Activated bool `json:"-"`
}

func (ClickPayload) eventType() EventType       { return TypeClick }
func (KeyPayload) eventType() EventType         { return TypeKeypress }
func (InputCommitPayload) eventType() EventType { return TypeInputCommit }
func (FormSubmitPayload) eventType() EventType  { return TypeFormSubmit }
func (NavigationPayload) eventType() EventType  { return TypeNavigation }
func (SiteInputPayload) eventType() EventType   { return TypeSiteSpecificInput }

func (p TabPayload) eventType() EventType {
	if p.Activated {
		return TypeTabActivated
	}
	return TypeTabCreated
}

// NewPayload 按事件类型返回对应载荷的零值指针，无载荷类型返回 nil
func NewPayload(t EventType) Payload {
	switch t {
	case TypeClick:
		return &ClickPayload{}
	case TypeKeypress:
		return &KeyPayload{}
	case TypeInputCommit:
		return &InputCommitPayload{}
	case TypeFormSubmit:
		return &FormSubmitPayload{}
	case TypeNavigation:
		return &NavigationPayload{}
	case TypeSiteSpecificInput:
		return &SiteInputPayload{}
	case TypeTabCreated:
		return &TabPayload{}
	case TypeTabActivated:
		return &TabPayload{Activated: true}
	}
	return nil
}

// Draft 尚未盖章的事件
type Draft struct {
	Type        EventType
	Description string
	URL         string
	Payload     Payload
}

// Stamp 为草稿分配 ID 与时间戳，生成不可变事件
func Stamp(d Draft, now time.Time) Event {
	return Event{
		ID:          NewEventID(),
		Type:        d.Type,
		Timestamp:   now.UTC(),
		Description: d.Description,
		URL:         d.URL,
		Payload:     d.Payload,
	}
}

// WithScreenshot 返回附加截图后的事件副本
func (e Event) WithScreenshot(dataURL string) Event {
	e.Screenshot = dataURL
	e.ScreenshotError = ""
	return e
}

// WithScreenshotError 返回附加截图失败标记后的事件副本
func (e Event) WithScreenshotError() Event {
	e.Screenshot = ""
	e.ScreenshotError = ScreenshotErrorMarker
	return e
}

// NewEventID 生成事件 ID，同一毫秒内连续生成也不会重复
func NewEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
