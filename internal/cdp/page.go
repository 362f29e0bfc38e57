package cdp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/protocol/page"
	"github.com/mafredri/cdp/protocol/runtime"
	"github.com/mafredri/cdp/rpcc"

	adapter "sessionrecorder/internal/adapter/cdp"
	"sessionrecorder/internal/logger"
	"sessionrecorder/internal/recorder"
	"sessionrecorder/internal/screenshot"
	"sessionrecorder/pkg/dom"
	"sessionrecorder/pkg/model"
)

// callTimeout 单次协议调用超时
const callTimeout = 5 * time.Second

// invalidationMarkers 目标已销毁时浏览器返回的错误片段
var invalidationMarkers = []string{
	"Target closed",
	"No target with given id",
	"Session closed",
	"Inspected target navigated or closed",
}

type handlerEntry struct {
	seq int
	fn  func(dom.Signal)
}

// Page 单个页面目标的宿主实现
type Page struct {
	id     model.ContextID
	conn   *rpcc.Conn
	client *cdp.Client
	log    logger.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	seq       int
	handlers  map[dom.SignalKind][]handlerEntry
	history   func(url string)
	watch     func(dom.Signal)
	selectors []string
	onFocus   func(model.ContextID)
	closed    bool
}

var _ recorder.Host = (*Page)(nil)

func newPage(id model.ContextID, conn *rpcc.Conn, l logger.Logger) *Page {
	ctx, cancel := context.WithCancel(context.Background())
	return &Page{
		id:       id,
		conn:     conn,
		client:   cdp.NewClient(conn),
		log:      l.With("context", string(id)),
		ctx:      ctx,
		cancel:   cancel,
		handlers: make(map[dom.SignalKind][]handlerEntry),
	}
}

// ID 页面目标标识
func (p *Page) ID() model.ContextID { return p.id }

// enable 启用 Page/Runtime 域，注册绑定并注入采集脚本
func (p *Page) enable(ctx context.Context) error {
	if err := p.client.Page.Enable(ctx); err != nil {
		return fmt.Errorf("page enable: %w", mapErr(err))
	}
	if err := p.client.Runtime.Enable(ctx); err != nil {
		return fmt.Errorf("runtime enable: %w", mapErr(err))
	}

	bindings, err := p.client.Runtime.BindingCalled(p.ctx)
	if err != nil {
		return fmt.Errorf("binding stream: %w", mapErr(err))
	}
	loads, err := p.client.Page.DOMContentEventFired(p.ctx)
	if err != nil {
		bindings.Close()
		return fmt.Errorf("dom content stream: %w", mapErr(err))
	}

	if err := p.client.Runtime.AddBinding(ctx, runtime.NewAddBindingArgs(adapter.BindingName)); err != nil {
		bindings.Close()
		loads.Close()
		return fmt.Errorf("add binding: %w", mapErr(err))
	}
	if _, err := p.client.Page.AddScriptToEvaluateOnNewDocument(ctx, page.NewAddScriptToEvaluateOnNewDocumentArgs(adapter.Script)); err != nil {
		bindings.Close()
		loads.Close()
		return fmt.Errorf("inject script: %w", mapErr(err))
	}
	if _, err := p.client.Runtime.Evaluate(ctx, runtime.NewEvaluateArgs(adapter.Script)); err != nil {
		bindings.Close()
		loads.Close()
		return fmt.Errorf("evaluate script: %w", mapErr(err))
	}

	go p.consumeBindings(bindings)
	go p.consumeLoads(loads)
	return nil
}

func (p *Page) consumeBindings(stream runtime.BindingCalledClient) {
	defer stream.Close()
	for {
		ev, err := stream.Recv()
		if err != nil {
			p.log.Debug("绑定事件流结束", "error", err)
			return
		}
		if ev.Name != adapter.BindingName {
			continue
		}
		sig, err := adapter.ToSignal(ev.Payload)
		if err != nil {
			p.log.Warn("忽略无法解析的页面信号", "error", err)
			continue
		}
		p.dispatch(sig)
	}
}

// consumeLoads 新文档加载后重新下发选择器监听
func (p *Page) consumeLoads(stream page.DOMContentEventFiredClient) {
	defer stream.Close()
	for {
		if _, err := stream.Recv(); err != nil {
			return
		}
		p.mu.Lock()
		selectors := p.selectors
		p.mu.Unlock()
		if len(selectors) == 0 {
			continue
		}
		if err := p.evalWatch(p.ctx, selectors); err != nil {
			p.log.Err(err, "重新挂载选择器监听失败")
		}
	}
}

// dispatch 将页面信号分发给已注册的监听
func (p *Page) dispatch(sig dom.Signal) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	var fns []func(dom.Signal)
	switch sig.Kind {
	case dom.SignalHistoryPush:
		if h := p.history; h != nil {
			url := sig.URL
			fns = append(fns, func(dom.Signal) { h(url) })
		}
	case dom.SignalSiteInput:
		if p.watch != nil {
			fns = append(fns, p.watch)
		}
	default:
		for _, e := range p.handlers[sig.Kind] {
			fns = append(fns, e.fn)
		}
	}
	onFocus := p.onFocus
	p.mu.Unlock()

	if sig.Kind == dom.SignalFocus && onFocus != nil {
		onFocus(p.id)
	}
	for _, fn := range fns {
		fn(sig)
	}
}

// AddListener 注册一类页面信号的监听
func (p *Page) AddListener(kind dom.SignalKind, fn func(dom.Signal)) (recorder.Listener, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, model.ErrContextInvalidated
	}
	p.seq++
	seq := p.seq
	p.handlers[kind] = append(p.handlers[kind], handlerEntry{seq: seq, fn: fn})
	return recorder.ListenerFunc(func() error {
		p.mu.Lock()
		defer p.mu.Unlock()
		list := p.handlers[kind]
		for i, e := range list {
			if e.seq == seq {
				p.handlers[kind] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
		return nil
	}), nil
}

// InterceptHistory 接收页面 pushState/replaceState 之后的地址
func (p *Page) InterceptHistory(fn func(url string)) (recorder.Listener, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, model.ErrContextInvalidated
	}
	p.history = fn
	return recorder.ListenerFunc(func() error {
		p.mu.Lock()
		p.history = nil
		p.mu.Unlock()
		return nil
	}), nil
}

// WatchSelectors 在页面内挂载选择器输入监听
func (p *Page) WatchSelectors(selectors []string, fn func(dom.Signal)) (recorder.Listener, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, model.ErrContextInvalidated
	}
	p.watch = fn
	p.selectors = append([]string(nil), selectors...)
	p.mu.Unlock()

	if err := p.evalWatch(p.ctx, selectors); err != nil {
		p.clearWatch()
		return nil, err
	}
	return recorder.ListenerFunc(func() error {
		p.clearWatch()
		ctx, cancel := context.WithTimeout(p.ctx, callTimeout)
		defer cancel()
		_, err := p.evaluate(ctx, "window.__recorder && window.__recorder.unwatch()")
		return err
	}), nil
}

func (p *Page) clearWatch() {
	p.mu.Lock()
	p.watch = nil
	p.selectors = nil
	p.mu.Unlock()
}

func (p *Page) evalWatch(ctx context.Context, selectors []string) error {
	list, err := json.Marshal(selectors)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	_, err = p.evaluate(ctx, "window.__recorder && window.__recorder.watch("+string(list)+")")
	return err
}

// Location 页面实时地址
func (p *Page) Location(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	raw, err := p.evaluate(ctx, "location.href")
	if err != nil {
		return "", err
	}
	var href string
	if err := json.Unmarshal(raw, &href); err != nil {
		return "", fmt.Errorf("decode location: %w", err)
	}
	return href, nil
}

// Capture 截取页面可见区域，返回 JPEG data URL
func (p *Page) Capture(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	args := page.NewCaptureScreenshotArgs().SetFormat("jpeg").SetQuality(70)
	reply, err := p.client.Page.CaptureScreenshot(ctx, args)
	if err != nil {
		return "", mapErr(err)
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(reply.Data), nil
}

func (p *Page) evaluate(ctx context.Context, expr string) (json.RawMessage, error) {
	reply, err := p.client.Runtime.Evaluate(ctx, runtime.NewEvaluateArgs(expr).SetReturnByValue(true))
	if err != nil {
		return nil, mapErr(err)
	}
	if reply.ExceptionDetails != nil {
		return nil, fmt.Errorf("evaluate %q: %s", expr, reply.ExceptionDetails.Text)
	}
	return reply.Result.Value, nil
}

// Close 断开页面连接
func (p *Page) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.handlers = make(map[dom.SignalKind][]handlerEntry)
	p.history = nil
	p.watch = nil
	p.mu.Unlock()
	p.cancel()
	return p.conn.Close()
}

// mapErr 将协议层错误归类为上下文失效或瞬时截图失败
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var closed interface{ Closed() bool }
	if (errors.As(err, &closed) && closed.Closed()) || errors.Is(err, rpcc.ErrConnClosing) {
		return fmt.Errorf("%w: %v", model.ErrContextInvalidated, err)
	}
	msg := err.Error()
	if cause := cdp.ErrorCause(err); cause != nil {
		msg = cause.Error()
	}
	for _, m := range invalidationMarkers {
		if strings.Contains(msg, m) {
			return fmt.Errorf("%w: %v", model.ErrContextInvalidated, err)
		}
	}
	if strings.Contains(msg, "Unable to capture screenshot") {
		return screenshot.Transient(err)
	}
	return err
}
