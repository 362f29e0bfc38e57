package recorder

import (
	"sync"
	"time"
)

// debounceEntry 单个键的待触发任务
type debounceEntry struct {
	timer *time.Timer
}

// Debouncer 按键去抖，同一键在窗口内重复调度只保留最后一次
type Debouncer struct {
	mu      sync.Mutex
	delay   time.Duration
	pending map[string]*debounceEntry
	stopped bool
}

// NewDebouncer 创建去抖注册表
func NewDebouncer(delay time.Duration) *Debouncer {
	return &Debouncer{delay: delay, pending: make(map[string]*debounceEntry)}
}

// Schedule 取消该键已有任务并重新计时，触发时先移除登记再执行 fn
func (d *Debouncer) Schedule(key string, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if old, ok := d.pending[key]; ok {
		old.timer.Stop()
	}
	e := &debounceEntry{}
	e.timer = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		if d.pending[key] != e {
			d.mu.Unlock()
			return
		}
		delete(d.pending, key)
		d.mu.Unlock()
		fn()
	})
	d.pending[key] = e
}

// Stop 取消全部任务，之后的调度被忽略
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, e := range d.pending {
		e.timer.Stop()
		delete(d.pending, key)
	}
	d.stopped = true
}

// Len 待触发任务数
func (d *Debouncer) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}
