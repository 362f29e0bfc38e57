package recorder

import (
	"context"

	"sessionrecorder/pkg/dom"
	"sessionrecorder/pkg/model"
)

// Listener 已挂载的宿主监听，Remove 撤销挂载
type Listener interface {
	Remove() error
}

// ListenerFunc 函数适配器
type ListenerFunc func() error

func (f ListenerFunc) Remove() error { return f() }

// Host 捕获上下文的宿主能力
type Host interface {
	// AddListener 挂载一类页面信号的监听
	AddListener(kind dom.SignalKind, fn func(dom.Signal)) (Listener, error)
	// InterceptHistory 包装 pushState/replaceState，fn 收到调用方传入的地址（可能是相对地址）
	InterceptHistory(fn func(url string)) (Listener, error)
	// WatchSelectors 监听命中选择器的输入元素，包括之后插入页面的元素
	WatchSelectors(selectors []string, fn func(dom.Signal)) (Listener, error)
	// Location 页面实时地址
	Location(ctx context.Context) (string, error)
}

// Appender 事件写入端
type Appender interface {
	Append(ctx context.Context, ev model.Event) error
}

// listenerKinds Start 时按此顺序挂载
var listenerKinds = []dom.SignalKind{
	dom.SignalClick,
	dom.SignalKeyDown,
	dom.SignalBlur,
	dom.SignalSubmit,
	dom.SignalVisibility,
	dom.SignalPopState,
	dom.SignalFocus,
}
