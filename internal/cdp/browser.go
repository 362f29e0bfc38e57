package cdp

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/protocol/target"
	"github.com/mafredri/cdp/rpcc"

	"sessionrecorder/internal/logger"
	"sessionrecorder/internal/screenshot"
	"sessionrecorder/pkg/model"
)

const (
	listRetries  = 5
	listInterval = 200 * time.Millisecond
)

// TargetInfo 浏览器页面目标摘要
type TargetInfo struct {
	ID    model.ContextID
	URL   string
	Title string
}

// Browser 管理 DevTools 浏览器连接和已附加的页面
type Browser struct {
	devtoolsURL string
	log         logger.Logger

	mu      sync.Mutex
	pages   map[model.ContextID]*Page
	onFocus func(model.ContextID)
}

var _ screenshot.Capturer = (*Browser)(nil)

// NewBrowser 创建浏览器管理器
func NewBrowser(devtoolsURL string, l logger.Logger) *Browser {
	if l == nil {
		l = logger.NewNop()
	}
	return &Browser{
		devtoolsURL: devtoolsURL,
		log:         l,
		pages:       make(map[model.ContextID]*Page),
	}
}

// OnFocus 设置页面获得焦点时的回调，对之后附加的页面生效
func (b *Browser) OnFocus(fn func(model.ContextID)) {
	b.mu.Lock()
	b.onFocus = fn
	b.mu.Unlock()
}

// Targets 列出当前所有页面目标
func (b *Browser) Targets(ctx context.Context) ([]TargetInfo, error) {
	dt := devtool.New(b.devtoolsURL)
	targets, err := dt.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]TargetInfo, 0, len(targets))
	for _, t := range targets {
		if string(t.Type) != "page" {
			continue
		}
		out = append(out, TargetInfo{ID: model.ContextID(t.ID), URL: t.URL, Title: t.Title})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Attach 连接页面目标并注入采集脚本，已附加时直接返回
func (b *Browser) Attach(ctx context.Context, id model.ContextID) (*Page, error) {
	b.mu.Lock()
	if p, ok := b.pages[id]; ok {
		b.mu.Unlock()
		return p, nil
	}
	b.mu.Unlock()

	sel, err := b.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	conn, err := rpcc.DialContext(ctx, sel.WebSocketDebuggerURL)
	if err != nil {
		return nil, fmt.Errorf("dial target %s: %w", id, err)
	}
	p := newPage(id, conn, b.log)

	enableCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	if err := p.enable(enableCtx); err != nil {
		_ = p.Close()
		return nil, err
	}

	b.mu.Lock()
	if existing, ok := b.pages[id]; ok {
		b.mu.Unlock()
		_ = p.Close()
		return existing, nil
	}
	p.onFocus = b.onFocus
	b.pages[id] = p
	b.mu.Unlock()

	b.log.Info("已附加页面目标", "context", string(id), "url", sel.URL)
	return p, nil
}

// lookup 新建目标可能尚未出现在列表中，短暂重试
func (b *Browser) lookup(ctx context.Context, id model.ContextID) (*devtool.Target, error) {
	dt := devtool.New(b.devtoolsURL)
	for attempt := 0; ; attempt++ {
		targets, err := dt.List(ctx)
		if err != nil {
			return nil, err
		}
		for _, t := range targets {
			if model.ContextID(t.ID) == id && string(t.Type) == "page" {
				return t, nil
			}
		}
		if attempt >= listRetries {
			return nil, fmt.Errorf("no page target %s", id)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(listInterval):
		}
	}
}

// Detach 断开页面目标
func (b *Browser) Detach(id model.ContextID) error {
	b.mu.Lock()
	p, ok := b.pages[id]
	delete(b.pages, id)
	b.mu.Unlock()
	if !ok {
		return nil
	}
	return p.Close()
}

// Page 获取已附加的页面
func (b *Browser) Page(id model.ContextID) (*Page, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.pages[id]
	return p, ok
}

// CaptureVisible 截取指定页面的可见区域
func (b *Browser) CaptureVisible(ctx context.Context, id model.ContextID) (string, error) {
	p, ok := b.Page(id)
	if !ok {
		return "", fmt.Errorf("%w: %s not attached", model.ErrContextInvalidated, id)
	}
	return p.Capture(ctx)
}

// Watch 订阅浏览器级目标发现事件，阻塞直到 ctx 结束或连接断开
func (b *Browser) Watch(ctx context.Context, onCreated func(TargetInfo), onDestroyed func(model.ContextID)) error {
	dt := devtool.New(b.devtoolsURL)
	ver, err := dt.Version(ctx)
	if err != nil {
		return fmt.Errorf("browser version: %w", err)
	}
	conn, err := rpcc.DialContext(ctx, ver.WebSocketDebuggerURL)
	if err != nil {
		return fmt.Errorf("dial browser: %w", err)
	}
	defer conn.Close()
	client := cdp.NewClient(conn)

	created, err := client.Target.TargetCreated(ctx)
	if err != nil {
		return err
	}
	defer created.Close()
	destroyed, err := client.Target.TargetDestroyed(ctx)
	if err != nil {
		return err
	}
	defer destroyed.Close()
	if err := client.Target.SetDiscoverTargets(ctx, target.NewSetDiscoverTargetsArgs(true)); err != nil {
		return fmt.Errorf("discover targets: %w", err)
	}
	b.log.Info("开始监听浏览器目标")

	errc := make(chan error, 2)
	go func() {
		for {
			ev, err := created.Recv()
			if err != nil {
				errc <- err
				return
			}
			if ev.TargetInfo.Type != "page" {
				continue
			}
			onCreated(TargetInfo{
				ID:    model.ContextID(ev.TargetInfo.TargetID),
				URL:   ev.TargetInfo.URL,
				Title: ev.TargetInfo.Title,
			})
		}
	}()
	go func() {
		for {
			ev, err := destroyed.Recv()
			if err != nil {
				errc <- err
				return
			}
			onDestroyed(model.ContextID(ev.TargetID))
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errc:
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
}

// Close 断开所有页面
func (b *Browser) Close() {
	b.mu.Lock()
	pages := b.pages
	b.pages = make(map[model.ContextID]*Page)
	b.mu.Unlock()
	for _, p := range pages {
		_ = p.Close()
	}
}
