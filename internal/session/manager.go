package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"sessionrecorder/internal/logger"
	"sessionrecorder/internal/recorder"
	"sessionrecorder/internal/screenshot"
	"sessionrecorder/pkg/api"
	"sessionrecorder/pkg/model"
)

// ErrUnknownContext 捕获上下文不存在
var ErrUnknownContext = errors.New("unknown capture context")

// Store 会话管理器依赖的存储能力
type Store interface {
	Append(ctx context.Context, ev model.Event) error
	Clear(ctx context.Context) error
	Events(ctx context.Context) ([]model.Event, error)
	Settings(ctx context.Context) (model.Settings, error)
	SaveSettings(ctx context.Context, s model.Settings) error
	Recording(ctx context.Context) (bool, error)
	SetRecording(ctx context.Context, on bool) error
}

// Options 新建录制器使用的参数
type Options struct {
	SiteWatchers map[string][]string
	PollInterval time.Duration
	Debounce     time.Duration
	Now          func() time.Time
}

// Manager 全局会话管理器，持有所有捕获上下文的录制器
type Manager struct {
	mu        sync.RWMutex
	recorders map[model.ContextID]*recorder.Recorder
	active    model.ContextID

	store Store
	shots *screenshot.Service
	opts  Options
	log   logger.Logger
}

var _ api.Service = (*Manager)(nil)

// NewManager 创建会话管理器
func NewManager(store Store, shots *screenshot.Service, opts Options, l logger.Logger) *Manager {
	if l == nil {
		l = logger.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		recorders: make(map[model.ContextID]*recorder.Recorder),
		store:     store,
		shots:     shots,
		opts:      opts,
		log:       l,
	}
}

// Attach 为新的捕获上下文创建录制器，全局处于录制中时立即开始录制
func (m *Manager) Attach(ctx context.Context, id model.ContextID, host recorder.Host) (*recorder.Recorder, error) {
	settings, err := m.store.Settings(ctx)
	if err != nil {
		return nil, err
	}

	var rec *recorder.Recorder
	rec = recorder.New(recorder.Config{
		ID:           id,
		Host:         host,
		Screenshots:  m.shots,
		Store:        m.store,
		Logger:       m.log,
		Settings:     settings,
		SiteWatchers: m.opts.SiteWatchers,
		PollInterval: m.opts.PollInterval,
		Debounce:     m.opts.Debounce,
		Now:          m.opts.Now,
		OnInvalidated: func(model.ContextID) {
			m.remove(id, rec)
		},
	})

	m.mu.Lock()
	old := m.recorders[id]
	m.recorders[id] = rec
	if m.active == "" {
		m.active = id
	}
	m.mu.Unlock()
	if old != nil {
		old.Stop()
	}
	m.log.Info("附加捕获上下文", "context", string(id))

	on, err := m.store.Recording(ctx)
	if err != nil {
		return rec, err
	}
	if on {
		if err := rec.Start(ctx); err != nil {
			return rec, err
		}
	}
	return rec, nil
}

// Detach 停止并移除捕获上下文
func (m *Manager) Detach(id model.ContextID) {
	m.mu.Lock()
	rec, ok := m.recorders[id]
	delete(m.recorders, id)
	if m.active == id {
		m.active = ""
	}
	m.mu.Unlock()
	if ok {
		rec.Stop()
		m.log.Info("分离捕获上下文", "context", string(id))
	}
}

func (m *Manager) remove(id model.ContextID, rec *recorder.Recorder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recorders[id] != rec {
		return
	}
	delete(m.recorders, id)
	if m.active == id {
		m.active = ""
	}
	m.log.Info("捕获上下文失效，已移除", "context", string(id))
}

// Get 获取录制器
func (m *Manager) Get(id model.ContextID) (*recorder.Recorder, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.recorders[id]
	return rec, ok
}

// List 返回所有录制器，按上下文标识排序
func (m *Manager) List() []*recorder.Recorder {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := make([]*recorder.Recorder, 0, len(m.recorders))
	for _, rec := range m.recorders {
		list = append(list, rec)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID() < list[j].ID() })
	return list
}

// SetActive 设置当前活动上下文
func (m *Manager) SetActive(id model.ContextID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.recorders[id]; ok {
		m.active = id
	}
}

// Active 当前活动上下文
func (m *Manager) Active() model.ContextID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

func (m *Manager) activeURL() string {
	m.mu.RLock()
	rec := m.recorders[m.active]
	m.mu.RUnlock()
	if rec == nil {
		return ""
	}
	return rec.CurrentURL()
}

// StartRecording 置位录制标记，启动所有上下文并记录 recording_started
func (m *Manager) StartRecording(ctx context.Context) error {
	if err := m.store.SetRecording(ctx, true); err != nil {
		return err
	}
	for _, rec := range m.List() {
		if err := rec.Start(ctx); err != nil {
			m.log.Err(err, "上下文启动录制失败", "context", string(rec.ID()))
		}
	}
	m.log.Info("录制会话开始")
	return m.appendLifecycle(ctx, model.TypeRecordingStarted, "Recording session started")
}

// StopRecording 清除录制标记，停止所有上下文并记录 recording_stopped
func (m *Manager) StopRecording(ctx context.Context) error {
	if err := m.store.SetRecording(ctx, false); err != nil {
		return err
	}
	for _, rec := range m.List() {
		rec.Stop()
	}
	m.log.Info("录制会话结束")
	return m.appendLifecycle(ctx, model.TypeRecordingStopped, "Recording session stopped")
}

func (m *Manager) appendLifecycle(ctx context.Context, t model.EventType, desc string) error {
	ev := model.Stamp(model.Draft{Type: t, Description: desc, URL: m.activeURL()}, m.opts.Now())
	return m.store.Append(ctx, ev)
}

// Recording 全局录制标记
func (m *Manager) Recording(ctx context.Context) (bool, error) {
	return m.store.Recording(ctx)
}

// UpdateSettings 浅合并、保存并下发到每个上下文
func (m *Manager) UpdateSettings(ctx context.Context, patch json.RawMessage) (model.Settings, error) {
	current, err := m.store.Settings(ctx)
	if err != nil {
		return model.Settings{}, err
	}
	next, err := current.Merge(patch)
	if err != nil {
		return model.Settings{}, err
	}
	if err := m.store.SaveSettings(ctx, next); err != nil {
		return model.Settings{}, err
	}
	for _, rec := range m.List() {
		rec.UpdateSettings(next)
	}
	m.log.Info("配置已更新", "throttleMs", next.ScreenshotThrottle, "skipPasswords", next.SkipPasswords)
	return next, nil
}

// Settings 当前配置
func (m *Manager) Settings(ctx context.Context) (model.Settings, error) {
	return m.store.Settings(ctx)
}

// CaptureScreenshot 截取指定上下文，不经过节流闸门
func (m *Manager) CaptureScreenshot(ctx context.Context, id model.ContextID) (string, error) {
	if id == "" {
		id = m.Active()
	}
	if _, ok := m.Get(id); !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownContext, id)
	}
	return m.shots.Capture(ctx, id)
}

// RecordTabCreated 录制中出现新标签页时记录 tab_created
func (m *Manager) RecordTabCreated(ctx context.Context, id model.ContextID, url string) error {
	on, err := m.store.Recording(ctx)
	if err != nil || !on {
		return err
	}
	shown := url
	if shown == "" {
		shown = "about:blank"
	}
	ev := model.Stamp(model.Draft{
		Type:        model.TypeTabCreated,
		Description: "New tab created: " + shown,
		URL:         url,
		Payload:     model.TabPayload{TabID: string(id)},
	}, m.opts.Now())
	return m.store.Append(ctx, ev)
}

// Events 当前事件日志
func (m *Manager) Events(ctx context.Context) ([]model.Event, error) {
	return m.store.Events(ctx)
}

// ClearEvents 清空事件日志
func (m *Manager) ClearEvents(ctx context.Context) error {
	return m.store.Clear(ctx)
}

// Close 停止所有上下文
func (m *Manager) Close() {
	for _, rec := range m.List() {
		rec.Stop()
	}
}
