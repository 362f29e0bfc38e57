package recorder

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"sessionrecorder/internal/ctxkeys"
	"sessionrecorder/internal/screenshot"
	"sessionrecorder/pkg/dom"
	"sessionrecorder/pkg/model"
)

const pageURL = "https://shop.example/cart"

type fakeHost struct {
	mu       sync.Mutex
	handlers map[dom.SignalKind]func(dom.Signal)
	history  func(string)
	watch    func(dom.Signal)
	watched  []string
	location string
	failOn   dom.SignalKind
	active   int
	// onWatch 在 WatchSelectors 返回前调用，模拟挂载期间到达的页面信号
	onWatch func()
}

func newFakeHost(location string) *fakeHost {
	return &fakeHost{handlers: make(map[dom.SignalKind]func(dom.Signal)), location: location}
}

func (h *fakeHost) listener(remove func()) Listener {
	h.active++
	return ListenerFunc(func() error {
		h.mu.Lock()
		defer h.mu.Unlock()
		remove()
		h.active--
		return nil
	})
}

func (h *fakeHost) AddListener(kind dom.SignalKind, fn func(dom.Signal)) (Listener, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if kind == h.failOn {
		return nil, errors.New("attach refused")
	}
	h.handlers[kind] = fn
	return h.listener(func() { delete(h.handlers, kind) }), nil
}

func (h *fakeHost) InterceptHistory(fn func(string)) (Listener, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.history = fn
	return h.listener(func() { h.history = nil }), nil
}

func (h *fakeHost) WatchSelectors(selectors []string, fn func(dom.Signal)) (Listener, error) {
	h.mu.Lock()
	h.watch = fn
	h.watched = selectors
	l := h.listener(func() { h.watch = nil })
	hook := h.onWatch
	h.mu.Unlock()
	if hook != nil {
		hook()
	}
	return l, nil
}

func (h *fakeHost) Location(context.Context) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.location, nil
}

func (h *fakeHost) setLocation(u string) {
	h.mu.Lock()
	h.location = u
	h.mu.Unlock()
}

func (h *fakeHost) activeCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.active
}

// emit 同步投递信号，监听已撤销时静默忽略
func (h *fakeHost) emit(kind dom.SignalKind, sig dom.Signal) {
	h.mu.Lock()
	fn := h.handlers[kind]
	h.mu.Unlock()
	sig.Kind = kind
	if sig.URL == "" {
		sig.URL = pageURL
	}
	if fn != nil {
		fn(sig)
	}
}

func (h *fakeHost) pushState(ref string) {
	h.mu.Lock()
	fn := h.history
	h.mu.Unlock()
	if fn != nil {
		fn(ref)
	}
}

func (h *fakeHost) siteInput(sig dom.Signal) {
	h.mu.Lock()
	fn := h.watch
	h.mu.Unlock()
	if fn != nil {
		fn(sig)
	}
}

type fakeStore struct {
	mu     sync.Mutex
	log    []model.Event
	traces []string
	err    error
}

func (s *fakeStore) Append(ctx context.Context, ev model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.log = append(s.log, ev)
	s.traces = append(s.traces, ctxkeys.TraceID(ctx))
	return nil
}

func (s *fakeStore) events() []model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Event(nil), s.log...)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	host     *fakeHost
	store    *fakeStore
	clock    *fakeClock
	rec      *Recorder
	mu       sync.Mutex
	shots    int
	shotErr  error
	shotHook func(ctx context.Context) error
}

func (f *fixture) capture(ctx context.Context, _ model.ContextID) (string, error) {
	f.mu.Lock()
	f.shots++
	err, hook := f.shotErr, f.shotHook
	f.mu.Unlock()
	if hook != nil {
		if err := hook(ctx); err != nil {
			return "", err
		}
	}
	if err != nil {
		return "", err
	}
	return "data:image/jpeg;base64,AAAA", nil
}

func (f *fixture) shotCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.shots
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()
	f := &fixture{
		host:  newFakeHost(pageURL),
		store: &fakeStore{},
		clock: &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
	}
	svc := screenshot.NewService(screenshot.CapturerFunc(f.capture), nil,
		screenshot.WithSleep(func(context.Context, time.Duration) error { return nil }))
	cfg := Config{
		ID:           "page-1",
		Host:         f.host,
		Screenshots:  svc,
		Store:        f.store,
		Settings:     model.DefaultSettings(),
		PollInterval: time.Hour,
		Debounce:     20 * time.Millisecond,
		Now:          f.clock.Now,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	f.rec = New(cfg)
	t.Cleanup(f.rec.Stop)
	return f
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	if err := f.rec.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func button(text string) *dom.Element {
	return &dom.Element{Tag: "BUTTON", Text: text}
}

func TestClickRecordsEventWithScreenshot(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t)

	f.host.emit(dom.SignalClick, dom.Signal{Target: button("Submit"), X: 10, Y: 20})

	events := f.store.events()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	ev := events[0]
	if ev.Type != model.TypeClick || ev.URL != pageURL {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev.Description != `Clicked on button "Submit"` {
		t.Fatalf("description = %q", ev.Description)
	}
	p, ok := ev.Payload.(model.ClickPayload)
	if !ok || p.Coordinates != (model.Coordinates{X: 10, Y: 20}) || p.Element != `button "Submit"` {
		t.Fatalf("payload = %#v", ev.Payload)
	}
	if ev.Screenshot == "" || ev.ScreenshotError != "" {
		t.Fatalf("expected screenshot, got %+v", ev)
	}
	if ev.ID == "" || !ev.Timestamp.Equal(f.clock.Now()) {
		t.Fatalf("event not stamped: %+v", ev)
	}
}

func TestClickSuppressedByDenylist(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.Settings.DenylistSelectors = []string{".secret"}
	})
	f.start(t)

	f.host.emit(dom.SignalClick, dom.Signal{Target: &dom.Element{Tag: "div", ClassName: "card secret"}})
	if n := len(f.store.events()); n != 0 {
		t.Fatalf("expected suppression, got %d events", n)
	}

	s := f.rec.Settings()
	s.DenylistSelectors = nil
	s.DenylistDomains = []string{"shop.example"}
	f.rec.UpdateSettings(s)
	f.host.emit(dom.SignalClick, dom.Signal{Target: button("ok")})
	if n := len(f.store.events()); n != 0 {
		t.Fatalf("expected domain suppression, got %d events", n)
	}
}

func TestKeypressOnlyImportantKeys(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t)

	target := &dom.Element{Tag: "div", ID: "app"}
	f.host.emit(dom.SignalKeyDown, dom.Signal{Target: target, Key: "a"})
	f.host.emit(dom.SignalKeyDown, dom.Signal{Target: target, Key: " "})
	f.host.emit(dom.SignalKeyDown, dom.Signal{Target: target, Key: "Escape"})

	events := f.store.events()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Description != "Pressed Space on div#app" {
		t.Fatalf("description = %q", events[0].Description)
	}
	if p := events[0].Payload.(model.KeyPayload); p.Key != " " {
		t.Fatalf("key = %q", p.Key)
	}
	if events[1].Description != "Pressed Escape on div#app" {
		t.Fatalf("description = %q", events[1].Description)
	}
}

func TestEnterCommitsInput(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t)

	input := &dom.Element{Tag: "INPUT", ID: "q", Type: "text", Value: "running shoes"}
	f.host.emit(dom.SignalKeyDown, dom.Signal{Target: input, Key: "Enter"})
	f.host.emit(dom.SignalKeyDown, dom.Signal{Target: input, Key: "Enter", Shift: true})

	events := f.store.events()
	if len(events) != 3 {
		t.Fatalf("expected keypress, commit, keypress; got %d events", len(events))
	}
	if events[0].Type != model.TypeKeypress || events[1].Type != model.TypeInputCommit || events[2].Type != model.TypeKeypress {
		t.Fatalf("unexpected order: %s %s %s", events[0].Type, events[1].Type, events[2].Type)
	}
	p := events[1].Payload.(model.InputCommitPayload)
	if p.TypedText != "running shoes" || p.Trigger != "enter" || p.Element != "input#q" {
		t.Fatalf("payload = %#v", p)
	}
	if events[1].Description != "Input committed (enter) on input#q" {
		t.Fatalf("description = %q", events[1].Description)
	}
}

func TestBlurCommitSkipsPasswordsAndBlank(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t)

	password := &dom.Element{Tag: "input", Type: "password", Value: "hunter2"}
	f.host.emit(dom.SignalBlur, dom.Signal{Target: password})
	f.host.emit(dom.SignalBlur, dom.Signal{Target: &dom.Element{Tag: "textarea", Value: "   \n"}})
	f.host.emit(dom.SignalBlur, dom.Signal{Target: &dom.Element{Tag: "span", Text: "not editable"}})
	if n := len(f.store.events()); n != 0 {
		t.Fatalf("expected nothing recorded, got %d", n)
	}

	s := f.rec.Settings()
	s.SkipPasswords = false
	f.rec.UpdateSettings(s)
	f.host.emit(dom.SignalBlur, dom.Signal{Target: password})

	editable := &dom.Element{Tag: "div", ContentEditable: true, Text: "draft note"}
	f.host.emit(dom.SignalBlur, dom.Signal{Target: editable})

	events := f.store.events()
	if len(events) != 2 {
		t.Fatalf("expected 2 commits, got %d", len(events))
	}
	if p := events[0].Payload.(model.InputCommitPayload); p.TypedText != "hunter2" || p.Trigger != "blur" {
		t.Fatalf("payload = %#v", p)
	}
	if p := events[1].Payload.(model.InputCommitPayload); p.TypedText != "draft note" {
		t.Fatalf("payload = %#v", p)
	}
}

func TestFormSubmitAndVisibility(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.Settings.ScreenshotThrottle = 0 })
	f.start(t)

	f.host.emit(dom.SignalSubmit, dom.Signal{Target: &dom.Element{Tag: "FORM", ID: "login"}})
	f.host.emit(dom.SignalVisibility, dom.Signal{Hidden: true})
	f.host.emit(dom.SignalVisibility, dom.Signal{Hidden: false})

	events := f.store.events()
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Description != "Form submitted: form#login" || events[0].Screenshot == "" {
		t.Fatalf("form event = %+v", events[0])
	}
	if events[1].Type != model.TypeTabHidden || events[1].Screenshot != "" {
		t.Fatalf("hidden event = %+v", events[1])
	}
	if events[2].Type != model.TypeTabVisible || events[2].Screenshot == "" {
		t.Fatalf("visible event = %+v", events[2])
	}
	if f.shotCount() != 2 {
		t.Fatalf("captures = %d, want 2", f.shotCount())
	}
}

func TestFocusRecordsTabActivated(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t)

	f.host.emit(dom.SignalFocus, dom.Signal{Title: "Cart"})
	f.host.emit(dom.SignalFocus, dom.Signal{})

	events := f.store.events()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Type != model.TypeTabActivated || events[0].Description != "Switched to tab: Cart" {
		t.Fatalf("event = %+v", events[0])
	}
	if events[1].Description != "Switched to tab: "+pageURL {
		t.Fatalf("description = %q", events[1].Description)
	}
	if f.shotCount() != 0 {
		t.Fatal("tab_activated must not capture")
	}
}

func TestScreenshotThrottle(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t)

	f.host.emit(dom.SignalClick, dom.Signal{Target: button("a")})
	f.clock.Advance(300 * time.Millisecond)
	f.host.emit(dom.SignalClick, dom.Signal{Target: button("b")})
	f.clock.Advance(400 * time.Millisecond)
	f.host.emit(dom.SignalClick, dom.Signal{Target: button("c")})

	events := f.store.events()
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Screenshot == "" || events[2].Screenshot == "" {
		t.Fatal("expected screenshots on first and third click")
	}
	if events[1].Screenshot != "" || events[1].ScreenshotError != "" {
		t.Fatalf("throttled event must carry neither screenshot nor error: %+v", events[1])
	}
	if f.shotCount() != 2 {
		t.Fatalf("captures = %d, want 2", f.shotCount())
	}
}

func TestScreenshotFailureDegradesEvent(t *testing.T) {
	f := newFixture(t, nil)
	f.shotErr = errors.New("no surface")
	f.start(t)

	f.host.emit(dom.SignalClick, dom.Signal{Target: button("a")})
	f.host.emit(dom.SignalClick, dom.Signal{Target: button("b")})

	events := f.store.events()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	for _, ev := range events {
		if ev.ScreenshotError != model.ScreenshotErrorMarker || ev.Screenshot != "" {
			t.Fatalf("event = %+v", ev)
		}
	}
	// 失败不推进节流时钟
	if f.shotCount() != 2 {
		t.Fatalf("captures = %d, want 2", f.shotCount())
	}
}

func TestNavigationDeduplicatedAcrossSignals(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t)

	f.host.pushState("/checkout?step=1")
	f.host.emit(dom.SignalPopState, dom.Signal{URL: "https://shop.example/checkout?step=1"})
	f.host.pushState("https://shop.example/checkout?step=1")

	events := f.store.events()
	if len(events) != 1 {
		t.Fatalf("expected 1 navigation, got %d", len(events))
	}
	ev := events[0]
	if ev.Type != model.TypeNavigation || ev.URL != "https://shop.example/checkout?step=1" {
		t.Fatalf("event = %+v", ev)
	}
	if p := ev.Payload.(model.NavigationPayload); p.PreviousURL != pageURL {
		t.Fatalf("previousUrl = %q", p.PreviousURL)
	}
	if f.rec.CurrentURL() != ev.URL {
		t.Fatalf("current = %q", f.rec.CurrentURL())
	}
}

func TestNavigationDuringStartIsRecorded(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.SiteWatchers = map[string][]string{"www.youtube.com": {"input#search"}}
	})
	f.host.setLocation("https://www.youtube.com/")
	f.host.onWatch = func() { f.host.pushState("/results?q=cats") }
	f.start(t)

	events := f.store.events()
	if len(events) != 1 || events[0].Type != model.TypeNavigation {
		t.Fatalf("events = %+v", events)
	}
	if events[0].URL != "https://www.youtube.com/results?q=cats" {
		t.Fatalf("url = %q", events[0].URL)
	}

	f.host.pushState("/watch?v=1")
	events = f.store.events()
	if len(events) != 2 {
		t.Fatalf("expected 2 navigations, got %d", len(events))
	}
	if p := events[1].Payload.(model.NavigationPayload); p.PreviousURL != "https://www.youtube.com/results?q=cats" {
		t.Fatalf("previousUrl = %q", p.PreviousURL)
	}
}

func TestFailedStartRecordsNothing(t *testing.T) {
	f := newFixture(t, nil)
	f.host.failOn = dom.SignalFocus
	if err := f.rec.Start(context.Background()); err == nil {
		t.Fatal("expected attach error")
	}
	f.host.emit(dom.SignalClick, dom.Signal{Target: button("Buy")})
	if n := len(f.store.events()); n != 0 {
		t.Fatalf("recorded %d events after failed start", n)
	}
	if f.rec.State() != Stopped {
		t.Fatalf("state = %v", f.rec.State())
	}
}

func TestEachEventCarriesTraceID(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t)

	f.host.emit(dom.SignalClick, dom.Signal{Target: button("A")})
	f.clock.Advance(time.Second)
	f.host.emit(dom.SignalClick, dom.Signal{Target: button("B")})

	f.store.mu.Lock()
	traces := append([]string(nil), f.store.traces...)
	f.store.mu.Unlock()
	if len(traces) != 2 || traces[0] == "" || traces[1] == "" {
		t.Fatalf("traces = %v", traces)
	}
	if traces[0] == traces[1] {
		t.Fatal("events share a trace id")
	}
}

func TestPollerDetectsNavigation(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.PollInterval = 10 * time.Millisecond })
	f.start(t)

	f.host.setLocation("https://shop.example/thanks")
	waitFor(t, "polled navigation", func() bool { return len(f.store.events()) == 1 })

	time.Sleep(50 * time.Millisecond)
	if n := len(f.store.events()); n != 1 {
		t.Fatalf("expected exactly one navigation, got %d", n)
	}
}

func TestStartIsIdempotentAndStopDetachesEverything(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t)
	attached := f.host.activeCount()
	if attached != len(listenerKinds)+1 {
		t.Fatalf("attached %d listeners", attached)
	}
	f.start(t)
	if f.host.activeCount() != attached {
		t.Fatal("second start must be a no-op")
	}

	f.rec.Stop()
	f.rec.Stop()
	if f.host.activeCount() != 0 {
		t.Fatalf("%d listeners left after stop", f.host.activeCount())
	}
	if f.rec.State() != Stopped {
		t.Fatalf("state = %v", f.rec.State())
	}

	f.start(t)
	if f.rec.State() != Recording || f.host.activeCount() != attached {
		t.Fatal("restart did not reattach")
	}
}

func TestStartRollsBackOnFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.host.failOn = dom.SignalSubmit

	err := f.rec.Start(context.Background())
	if err == nil || !strings.Contains(err.Error(), "submit") {
		t.Fatalf("expected attach error, got %v", err)
	}
	if f.host.activeCount() != 0 {
		t.Fatalf("%d listeners leaked", f.host.activeCount())
	}
	if f.rec.State() != Stopped {
		t.Fatalf("state = %v", f.rec.State())
	}
}

func TestInvalidationStopsContext(t *testing.T) {
	invalidated := make(chan model.ContextID, 1)
	f := newFixture(t, func(c *Config) {
		c.OnInvalidated = func(id model.ContextID) { invalidated <- id }
	})
	f.shotErr = model.ErrContextInvalidated
	f.start(t)

	f.host.emit(dom.SignalClick, dom.Signal{Target: button("a")})

	select {
	case id := <-invalidated:
		if id != "page-1" {
			t.Fatalf("id = %s", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("invalidation callback not called")
	}
	if n := len(f.store.events()); n != 0 {
		t.Fatalf("event must be dropped, got %d", n)
	}
	if f.host.activeCount() != 0 {
		t.Fatalf("%d listeners left", f.host.activeCount())
	}
	if err := f.rec.Start(context.Background()); !errors.Is(err, model.ErrContextInvalidated) {
		t.Fatalf("start after invalidation = %v", err)
	}
}

func TestStopDiscardsInFlightCapture(t *testing.T) {
	f := newFixture(t, nil)
	entered := make(chan struct{})
	f.shotHook = func(ctx context.Context) error {
		close(entered)
		<-ctx.Done()
		return ctx.Err()
	}
	f.start(t)

	done := make(chan struct{})
	go func() {
		f.host.emit(dom.SignalClick, dom.Signal{Target: button("a")})
		close(done)
	}()
	<-entered
	f.rec.Stop()
	<-done

	if n := len(f.store.events()); n != 0 {
		t.Fatalf("in-flight event must be discarded, got %d", n)
	}
}

func TestSiteInputDebounced(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.SiteWatchers = map[string][]string{"www.youtube.com": {"input#search"}}
	})
	f.host.setLocation("https://www.youtube.com/")
	f.start(t)
	if len(f.host.watched) != 1 {
		t.Fatalf("watched = %v", f.host.watched)
	}

	for _, v := range []string{"c", "ca", "cat"} {
		f.host.siteInput(dom.Signal{
			Kind:     dom.SignalSiteInput,
			Target:   &dom.Element{Tag: "input", ID: "search", Value: v},
			Selector: "input#search",
			ElemKey:  "search-0",
			URL:      "https://www.youtube.com/",
		})
	}
	f.host.siteInput(dom.Signal{
		Target:   &dom.Element{Tag: "input", ID: "search"},
		Selector: "input#search",
		ElemKey:  "search-1",
	})

	waitFor(t, "debounced input", func() bool { return len(f.store.events()) == 1 })
	time.Sleep(60 * time.Millisecond)

	events := f.store.events()
	if len(events) != 1 {
		t.Fatalf("expected one settled input, got %d", len(events))
	}
	ev := events[0]
	if ev.Description != `[www.youtube.com] Input in input#search: "cat"` {
		t.Fatalf("description = %q", ev.Description)
	}
	if p := ev.Payload.(model.SiteInputPayload); p.TypedText != "cat" || p.Selector != "input#search" {
		t.Fatalf("payload = %#v", p)
	}
}

func TestStopCancelsPendingSiteInput(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.SiteWatchers = map[string][]string{"m.youtube.com": {`input[type="text"]`}}
		c.Debounce = 30 * time.Millisecond
	})
	f.host.setLocation("https://m.youtube.com/")
	f.start(t)

	f.host.siteInput(dom.Signal{
		Target:   &dom.Element{Tag: "input", Type: "text", Value: "lofi"},
		Selector: `input[type="text"]`,
		ElemKey:  "k",
	})
	f.rec.Stop()
	time.Sleep(80 * time.Millisecond)
	if n := len(f.store.events()); n != 0 {
		t.Fatalf("expected pending input to be cancelled, got %d", n)
	}
}

func TestNoWatcherForUnlistedHost(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.SiteWatchers = map[string][]string{"www.youtube.com": {"input#search"}}
	})
	f.start(t)
	if f.host.watched != nil {
		t.Fatalf("unexpected watcher on %s", pageURL)
	}
}

func TestAppendFailureIsLogged(t *testing.T) {
	f := newFixture(t, nil)
	f.store.err = errors.New("quota")
	f.start(t)

	f.host.emit(dom.SignalClick, dom.Signal{Target: button("a")})
	if f.rec.State() != Recording {
		t.Fatal("ordinary append failure must not stop recording")
	}
}
