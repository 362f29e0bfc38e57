package screenshot

import (
	"sync"
	"time"
)

// Throttle 截图冷却闸门，只有成功截图才推进时钟
type Throttle struct {
	mu          sync.Mutex
	lastSuccess time.Time
}

// CanCapture 距上次成功截图已超过 interval 时返回 true
func (t *Throttle) CanCapture(now time.Time, interval time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lastSuccess.IsZero() {
		return true
	}
	return now.Sub(t.lastSuccess) >= interval
}

// Record 记录一次成功截图
func (t *Throttle) Record(now time.Time) {
	t.mu.Lock()
	t.lastSuccess = now
	t.mu.Unlock()
}

// LastSuccess 最近一次成功截图时间
func (t *Throttle) LastSuccess() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastSuccess
}
