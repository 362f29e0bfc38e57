package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"sessionrecorder/internal/ctxkeys"
	"sessionrecorder/internal/logger"
	"sessionrecorder/internal/navigation"
	"sessionrecorder/internal/screenshot"
	"sessionrecorder/pkg/dom"
	"sessionrecorder/pkg/model"
)

// State 录制状态
type State int

const (
	Stopped State = iota
	Recording
)

func (s State) String() string {
	if s == Recording {
		return "recording"
	}
	return "stopped"
}

// Config 录制器依赖与参数
type Config struct {
	ID           model.ContextID
	Host         Host
	Screenshots  *screenshot.Service
	Store        Appender
	Logger       logger.Logger
	Settings     model.Settings
	SiteWatchers map[string][]string
	PollInterval time.Duration
	Debounce     time.Duration
	// Now 时钟，默认 time.Now
	Now func() time.Time
	// OnInvalidated 上下文失效并完成清理后回调
	OnInvalidated func(model.ContextID)
}

// attachment 一次录制期间挂载的全部资源
type attachment struct {
	listeners []Listener
	poller    *navigation.Poller
	debouncer *Debouncer
	cancel    context.CancelFunc
}

// close 按挂载的逆序撤销
func (a *attachment) close(l logger.Logger) {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
	}
	if a.debouncer != nil {
		a.debouncer.Stop()
	}
	if a.poller != nil {
		a.poller.Stop()
	}
	for i := len(a.listeners) - 1; i >= 0; i-- {
		if err := a.listeners[i].Remove(); err != nil {
			l.Debug("撤销监听失败", "error", err.Error())
		}
	}
	a.listeners = nil
}

// Recorder 单个捕获上下文的事件编排器
type Recorder struct {
	id            model.ContextID
	host          Host
	shots         *screenshot.Service
	throttle      screenshot.Throttle
	store         Appender
	log           logger.Logger
	watchers      map[string][]string
	pollInterval  time.Duration
	debounce      time.Duration
	now           func() time.Time
	onInvalidated func(model.ContextID)

	settings atomic.Pointer[model.Settings]

	// lifecycle 串行化 Start/Stop
	lifecycle sync.Mutex

	mu          sync.Mutex
	state       State
	invalidated bool
	gen         uint64
	att         *attachment
	runCtx      context.Context
	tracker     *navigation.Tracker
	watchHost   string

	// appendMu 同一上下文内的追加按到达顺序串行
	appendMu sync.Mutex
}

// New 创建录制器，初始为 Stopped
func New(cfg Config) *Recorder {
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = time.Second
	}
	r := &Recorder{
		id:            cfg.ID,
		host:          cfg.Host,
		shots:         cfg.Screenshots,
		store:         cfg.Store,
		log:           cfg.Logger.With("context", string(cfg.ID)),
		watchers:      cfg.SiteWatchers,
		pollInterval:  cfg.PollInterval,
		debounce:      cfg.Debounce,
		now:           cfg.Now,
		onInvalidated: cfg.OnInvalidated,
	}
	s := cfg.Settings.Clone()
	r.settings.Store(&s)
	return r
}

// ID 捕获上下文标识
func (r *Recorder) ID() model.ContextID { return r.id }

// State 当前状态
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Settings 当前生效的配置
func (r *Recorder) Settings() model.Settings {
	return *r.settings.Load()
}

// UpdateSettings 整体替换配置
func (r *Recorder) UpdateSettings(s model.Settings) {
	c := s.Clone()
	r.settings.Store(&c)
}

// CurrentURL 导航追踪器记录的当前地址
func (r *Recorder) CurrentURL() string {
	r.mu.Lock()
	t := r.tracker
	r.mu.Unlock()
	if t == nil {
		return ""
	}
	return t.Current()
}

// Start 挂载监听、启动轮询、拦截 history 并按站点启动输入监听。任一步失败则撤销已挂载部分。
func (r *Recorder) Start(ctx context.Context) error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	r.mu.Lock()
	switch {
	case r.invalidated:
		r.mu.Unlock()
		return model.ErrContextInvalidated
	case r.state == Recording:
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	current, err := r.host.Location(ctx)
	if err != nil {
		r.failOnInvalidation(err)
		return fmt.Errorf("read location: %w", err)
	}
	tracker := navigation.NewTracker(current, r.onNavigate)
	runCtx, cancel := context.WithCancel(ctxkeys.WithContextID(context.WithoutCancel(ctx), string(r.id)))
	a := &attachment{cancel: cancel, debouncer: NewDebouncer(r.debounce)}
	watchHost := dom.Hostname(current)

	// 挂载信号源之前进入录制态
	r.mu.Lock()
	r.state = Recording
	r.gen++
	r.att = a
	r.runCtx = runCtx
	r.tracker = tracker
	r.watchHost = watchHost
	r.mu.Unlock()

	fail := func(step string, err error) error {
		r.mu.Lock()
		if r.att == a {
			r.att = nil
			r.state = Stopped
			r.gen++
		}
		r.mu.Unlock()
		a.close(r.log)
		r.failOnInvalidation(err)
		r.log.Err(err, "启动录制失败", "step", step)
		return fmt.Errorf("attach %s: %w", step, err)
	}

	for _, kind := range listenerKinds {
		l, err := r.host.AddListener(kind, r.signalHandler(kind))
		if err != nil {
			return fail(string(kind), err)
		}
		a.listeners = append(a.listeners, l)
	}

	a.poller = navigation.NewPoller(r.pollInterval, r.host.Location,
		func(u string) { tracker.OnURLChanged(u) },
		r.onPollError,
	)
	a.poller.Start(runCtx)

	hl, err := r.host.InterceptHistory(func(ref string) {
		tracker.OnURLChanged(navigation.ResolveURL(tracker.Current(), ref))
	})
	if err != nil {
		return fail("history", err)
	}
	a.listeners = append(a.listeners, hl)

	if selectors := r.watchers[watchHost]; len(selectors) > 0 {
		wl, err := r.host.WatchSelectors(selectors, r.onSiteInput)
		if err != nil {
			return fail("site watcher", err)
		}
		a.listeners = append(a.listeners, wl)
	}

	r.log.Info("开始录制", "url", current, "listeners", len(a.listeners))
	return nil
}

// Stop 撤销所有监听、轮询与去抖任务，可重复调用
func (r *Recorder) Stop() {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	r.mu.Lock()
	a := r.att
	wasRecording := r.state == Recording
	r.att = nil
	r.state = Stopped
	r.gen++
	r.mu.Unlock()

	a.close(r.log)
	if wasRecording {
		r.log.Info("停止录制")
	}
}

// invalidate 标记失效并异步清理，回调可能来自轮询协程本身
func (r *Recorder) invalidate(cause error) {
	r.mu.Lock()
	if r.invalidated {
		r.mu.Unlock()
		return
	}
	r.invalidated = true
	r.mu.Unlock()

	r.log.Warn("捕获上下文已失效，停止录制", "error", cause.Error())
	go func() {
		r.Stop()
		if r.onInvalidated != nil {
			r.onInvalidated(r.id)
		}
	}()
}

func (r *Recorder) failOnInvalidation(err error) {
	if errors.Is(err, model.ErrContextInvalidated) {
		r.invalidate(err)
	}
}

func (r *Recorder) onPollError(err error) {
	if errors.Is(err, model.ErrContextInvalidated) {
		r.invalidate(err)
		return
	}
	r.log.Debug("轮询读取地址失败", "error", err.Error())
}

// active 返回当前录制代次与运行上下文，未在录制时 ok 为 false
func (r *Recorder) active() (gen uint64, ctx context.Context, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != Recording || r.invalidated {
		return 0, nil, false
	}
	return r.gen, r.runCtx, true
}

func (r *Recorder) stillActive(gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == Recording && !r.invalidated && r.gen == gen
}

// captureEvent 盖章、按需截图、追加到事件日志
func (r *Recorder) captureEvent(d model.Draft, needsScreenshot bool) {
	gen, ctx, ok := r.active()
	if !ok {
		return
	}
	ctx = ctxkeys.WithTraceID(ctx)
	if d.URL == "" {
		d.URL = r.CurrentURL()
	}
	ev := model.Stamp(d, r.now())

	if needsScreenshot && r.shots != nil && r.throttle.CanCapture(r.now(), r.Settings().Throttle()) {
		img, err := r.shots.Capture(ctx, r.id)
		switch {
		case err == nil:
			ev = ev.WithScreenshot(img)
			r.throttle.Record(r.now())
		case errors.Is(err, model.ErrContextInvalidated):
			r.invalidate(err)
			return
		case ctx.Err() != nil:
			r.log.Debug("录制已停止，丢弃截图中的事件", "event", ev.ID, "type", string(ev.Type))
			return
		default:
			r.log.Warn("截图不可用", "event", ev.ID, "error", err.Error())
			ev = ev.WithScreenshotError()
		}
	}

	r.appendMu.Lock()
	defer r.appendMu.Unlock()
	if !r.stillActive(gen) {
		r.log.Debug("录制已停止，丢弃事件", "event", ev.ID, "type", string(ev.Type))
		return
	}
	if err := r.store.Append(context.WithoutCancel(ctx), ev); err != nil {
		if errors.Is(err, model.ErrContextInvalidated) {
			r.invalidate(err)
			return
		}
		r.log.Err(err, "保存事件失败", "event", ev.ID, "type", string(ev.Type))
		return
	}
	r.log.Debug("事件已记录", "event", ev.ID, "type", string(ev.Type), "screenshot", ev.Screenshot != "", "traceId", ctxkeys.TraceID(ctx))
}
