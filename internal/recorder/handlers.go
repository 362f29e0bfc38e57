package recorder

import (
	"fmt"
	"strings"

	"sessionrecorder/internal/filter"
	"sessionrecorder/pkg/dom"
	"sessionrecorder/pkg/model"
)

// keyNames 会被记录的按键及其展示名
var keyNames = map[string]string{
	"Enter":  "Enter",
	"Escape": "Escape",
	"Tab":    "Tab",
	" ":      "Space",
}

func (r *Recorder) signalHandler(kind dom.SignalKind) func(dom.Signal) {
	switch kind {
	case dom.SignalClick:
		return r.onClick
	case dom.SignalKeyDown:
		return r.onKeyDown
	case dom.SignalBlur:
		return r.onBlur
	case dom.SignalSubmit:
		return r.onSubmit
	case dom.SignalVisibility:
		return r.onVisibility
	case dom.SignalPopState:
		return r.onPopState
	case dom.SignalFocus:
		return r.onFocus
	}
	return func(sig dom.Signal) {
		r.log.Debug("忽略未知信号", "kind", string(sig.Kind))
	}
}

func (r *Recorder) onClick(sig dom.Signal) {
	if filter.ShouldSuppress(sig.Target, dom.Hostname(sig.URL), r.Settings()) {
		return
	}
	desc := Describe(sig.Target)
	r.captureEvent(model.Draft{
		Type:        model.TypeClick,
		Description: "Clicked on " + desc,
		URL:         sig.URL,
		Payload: model.ClickPayload{
			Element:     desc,
			Coordinates: model.Coordinates{X: sig.X, Y: sig.Y},
		},
	}, true)
}

func (r *Recorder) onKeyDown(sig dom.Signal) {
	if name, ok := keyNames[sig.Key]; ok {
		desc := Describe(sig.Target)
		r.captureEvent(model.Draft{
			Type:        model.TypeKeypress,
			Description: fmt.Sprintf("Pressed %s on %s", name, desc),
			URL:         sig.URL,
			Payload:     model.KeyPayload{Key: sig.Key, Element: desc},
		}, true)
	}
	if sig.Key == "Enter" && !sig.Shift && sig.Target.IsTextInput() {
		r.commitInput(sig, "enter")
	}
}

func (r *Recorder) onBlur(sig dom.Signal) {
	if sig.Target.IsTextInput() {
		r.commitInput(sig, "blur")
	}
}

// commitInput 输入提交，跳过密码框与空白内容
func (r *Recorder) commitInput(sig dom.Signal, trigger string) {
	el := sig.Target
	if r.Settings().SkipPasswords && el.IsPassword() {
		return
	}
	value := el.InputValue()
	if strings.TrimSpace(value) == "" {
		return
	}
	desc := Describe(el)
	r.captureEvent(model.Draft{
		Type:        model.TypeInputCommit,
		Description: fmt.Sprintf("Input committed (%s) on %s", trigger, desc),
		URL:         sig.URL,
		Payload: model.InputCommitPayload{
			TypedText: value,
			Element:   desc,
			Trigger:   trigger,
		},
	}, true)
}

func (r *Recorder) onSubmit(sig dom.Signal) {
	desc := Describe(sig.Target)
	r.captureEvent(model.Draft{
		Type:        model.TypeFormSubmit,
		Description: "Form submitted: " + desc,
		URL:         sig.URL,
		Payload:     model.FormSubmitPayload{Element: desc},
	}, true)
}

func (r *Recorder) onVisibility(sig dom.Signal) {
	if sig.Hidden {
		r.captureEvent(model.Draft{
			Type:        model.TypeTabHidden,
			Description: "Tab became hidden",
			URL:         sig.URL,
		}, false)
		return
	}
	r.captureEvent(model.Draft{
		Type:        model.TypeTabVisible,
		Description: "Tab became visible",
		URL:         sig.URL,
	}, true)
}

func (r *Recorder) onPopState(sig dom.Signal) {
	r.mu.Lock()
	t := r.tracker
	r.mu.Unlock()
	if t != nil {
		t.OnURLChanged(sig.URL)
	}
}

func (r *Recorder) onFocus(sig dom.Signal) {
	label := sig.Title
	if label == "" {
		label = sig.URL
	}
	r.captureEvent(model.Draft{
		Type:        model.TypeTabActivated,
		Description: "Switched to tab: " + label,
		URL:         sig.URL,
		Payload:     model.TabPayload{TabID: string(r.id), Activated: true},
	}, false)
}

// onNavigate 导航追踪器确认地址变化后调用
func (r *Recorder) onNavigate(previous, next string) {
	r.captureEvent(model.Draft{
		Type:        model.TypeNavigation,
		Description: "Navigated to " + next,
		URL:         next,
		Payload:     model.NavigationPayload{PreviousURL: previous},
	}, true)
}

// onSiteInput 站点输入按元素去抖，静止一个窗口后记录最终值
func (r *Recorder) onSiteInput(sig dom.Signal) {
	value := sig.Target.InputValue()
	if value == "" {
		return
	}
	r.mu.Lock()
	a, host := r.att, r.watchHost
	r.mu.Unlock()
	if a == nil {
		return
	}
	key := sig.ElemKey
	if key == "" {
		key = sig.Selector
	}
	a.debouncer.Schedule(key, func() {
		r.captureEvent(model.Draft{
			Type:        model.TypeSiteSpecificInput,
			Description: fmt.Sprintf(`[%s] Input in %s: "%s"`, host, sig.Selector, value),
			URL:         sig.URL,
			Payload:     model.SiteInputPayload{TypedText: value, Selector: sig.Selector},
		}, true)
	})
}
