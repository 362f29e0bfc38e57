package navigation

import (
	"context"
	"net/url"
	"sync"
	"time"
)

// Tracker 记录当前地址，将多路导航信号合并为一次导航事件
type Tracker struct {
	mu      sync.Mutex
	current string
	emit    func(previous, next string)
}

// NewTracker 创建导航追踪器，emit 在地址真正变化时调用一次
func NewTracker(initial string, emit func(previous, next string)) *Tracker {
	return &Tracker{current: initial, emit: emit}
}

// Current 当前地址
func (t *Tracker) Current() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// OnURLChanged 地址变化处理入口。同一变化被多路信号重复观察时只产生一次事件。
func (t *Tracker) OnURLChanged(next string) bool {
	t.mu.Lock()
	if next == "" || next == t.current {
		t.mu.Unlock()
		return false
	}
	previous := t.current
	t.current = next
	t.mu.Unlock()

	if t.emit != nil {
		t.emit(previous, next)
	}
	return true
}

// ResolveURL 以 base 为基准解析 history API 传入的相对地址
func ResolveURL(base, ref string) string {
	if ref == "" {
		return base
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	b, err := url.Parse(base)
	if err != nil || r.IsAbs() {
		return r.String()
	}
	return b.ResolveReference(r).String()
}

// Poller 兜底轮询，周期比对实时地址与当前地址
type Poller struct {
	interval time.Duration
	location func(ctx context.Context) (string, error)
	onChange func(string)
	onError  func(error)

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPoller 创建轮询器
func NewPoller(interval time.Duration, location func(ctx context.Context) (string, error), onChange func(string), onError func(error)) *Poller {
	if interval <= 0 {
		interval = time.Second
	}
	return &Poller{interval: interval, location: location, onChange: onChange, onError: onError}
}

// Start 启动轮询，重复调用无效
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	go p.run(ctx, p.done)
}

// Stop 停止轮询并等待协程退出
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (p *Poller) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			u, err := p.location(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if p.onError != nil {
					p.onError(err)
				}
				continue
			}
			p.onChange(u)
		}
	}
}
