package storage

import (
	"context"
	"time"

	"sessionrecorder/internal/logger"
	"sessionrecorder/pkg/model"
)

// Manager 双存储管理器：临时存储为权威来源，变更时异步全量镜像到持久化存储
type Manager struct {
	eph Ephemeral
	dur Durable
	log logger.Logger

	defaults model.Settings

	// mirrored 每次镜像尝试结束后回调，测试中用于同步
	mirrored func(error)
}

// NewManager 创建双存储管理器
func NewManager(eph Ephemeral, dur Durable, l logger.Logger) *Manager {
	if l == nil {
		l = logger.NewNop()
	}
	return &Manager{eph: eph, dur: dur, log: l, defaults: model.DefaultSettings()}
}

// SetDefaults 替换未保存过配置时使用的默认值
func (m *Manager) SetDefaults(s model.Settings) {
	m.defaults = s
}

// Init 冷启动：持久化存储中有事件时回填临时存储，否则初始化为空日志与默认配置
func (m *Manager) Init(ctx context.Context) error {
	events, settings, err := m.dur.Load(ctx)
	if err != nil {
		m.log.Err(err, "读取持久化存储失败，按空日志初始化")
		events, settings = nil, nil
	}
	if len(events) == 0 {
		events = []model.Event{}
	}
	if settings == nil {
		def := m.defaults
		settings = &def
	}

	if err := m.eph.SetEvents(ctx, events); err != nil {
		return ephemeralErr("init", err)
	}
	if err := m.eph.SetSettings(ctx, *settings); err != nil {
		return ephemeralErr("init", err)
	}
	if err := m.eph.SetRecording(ctx, false); err != nil {
		return ephemeralErr("init", err)
	}
	m.log.Info("事件日志初始化完成", "events", len(events))
	return nil
}

// Append 读取日志、追加事件、整体写回。未加跨调用锁，并发写入时以最后一次为准。
func (m *Manager) Append(ctx context.Context, ev model.Event) error {
	events, err := m.eph.Events(ctx)
	if err != nil {
		m.log.Err(err, "读取事件日志失败", "event", ev.ID)
		return ephemeralErr("append", err)
	}
	events = append(events, ev)
	if err := m.eph.SetEvents(ctx, events); err != nil {
		m.log.Err(err, "写入事件日志失败", "event", ev.ID)
		return ephemeralErr("append", err)
	}
	m.log.Debug("事件已追加", "event", ev.ID, "type", string(ev.Type), "total", len(events))
	return nil
}

// Clear 清空事件日志
func (m *Manager) Clear(ctx context.Context) error {
	if err := m.eph.SetEvents(ctx, []model.Event{}); err != nil {
		return ephemeralErr("clear", err)
	}
	m.log.Info("事件日志已清空")
	return nil
}

// Events 当前事件日志
func (m *Manager) Events(ctx context.Context) ([]model.Event, error) {
	events, err := m.eph.Events(ctx)
	if err != nil {
		return nil, ephemeralErr("read", err)
	}
	return events, nil
}

// Settings 当前配置，未保存过时返回默认值
func (m *Manager) Settings(ctx context.Context) (model.Settings, error) {
	s, ok, err := m.eph.Settings(ctx)
	if err != nil {
		return model.Settings{}, ephemeralErr("read", err)
	}
	if !ok {
		return m.defaults, nil
	}
	return s, nil
}

// SaveSettings 整体替换配置
func (m *Manager) SaveSettings(ctx context.Context, s model.Settings) error {
	return ephemeralErr("save settings", m.eph.SetSettings(ctx, s))
}

// Recording 读取全局录制标记
func (m *Manager) Recording(ctx context.Context) (bool, error) {
	on, err := m.eph.Recording(ctx)
	return on, ephemeralErr("read", err)
}

// SetRecording 写入全局录制标记
func (m *Manager) SetRecording(ctx context.Context, on bool) error {
	return ephemeralErr("set recording", m.eph.SetRecording(ctx, on))
}

// MirrorNow 读取当前快照并全量写入持久化存储
func (m *Manager) MirrorNow(ctx context.Context) error {
	events, err := m.eph.Events(ctx)
	if err != nil {
		return ephemeralErr("snapshot", err)
	}
	var settings *model.Settings
	if s, ok, err := m.eph.Settings(ctx); err != nil {
		return ephemeralErr("snapshot", err)
	} else if ok {
		settings = &s
	}
	if err := m.dur.Mirror(ctx, events, settings); err != nil {
		return durableErr("mirror", err)
	}
	m.log.Debug("持久化镜像完成", "events", len(events))
	return nil
}

// RunMirror 监听临时存储变更并镜像，阻塞至 ctx 结束。镜像失败只记录日志。
func (m *Manager) RunMirror(ctx context.Context) {
	for {
		changes, err := m.eph.Subscribe(ctx)
		if err != nil {
			m.log.Err(err, "订阅存储变更失败")
		} else {
			m.consume(ctx, changes)
		}
		if ctx.Err() != nil {
			return
		}
		m.log.Warn("存储变更订阅中断，稍后重连")
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func (m *Manager) consume(ctx context.Context, changes <-chan Change) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-changes:
			if !ok {
				return
			}
			if c.Key != KeyEvents && c.Key != KeySettings {
				continue
			}
			err := m.MirrorNow(ctx)
			if err != nil && ctx.Err() == nil {
				m.log.Err(err, "持久化镜像失败")
			}
			if m.mirrored != nil {
				m.mirrored(err)
			}
		}
	}
}
