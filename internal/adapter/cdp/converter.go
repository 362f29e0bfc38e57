package cdp

import (
	"fmt"

	"github.com/tidwall/gjson"

	"sessionrecorder/pkg/dom"
)

// BindingName 页面脚本回传信号使用的 Runtime 绑定名
const BindingName = "__recorderSignal"

// maxParentDepth 父元素链最大深度
const maxParentDepth = 16

// ToSignal 将绑定回传的 JSON 载荷转换为中立信号
func ToSignal(payload string) (dom.Signal, error) {
	if !gjson.Valid(payload) {
		return dom.Signal{}, fmt.Errorf("invalid signal payload")
	}
	r := gjson.Parse(payload)
	kind := r.Get("kind").String()
	if kind == "" {
		return dom.Signal{}, fmt.Errorf("signal payload missing kind")
	}
	return dom.Signal{
		Kind:     dom.SignalKind(kind),
		Target:   ToElement(r.Get("target"), 0),
		X:        int(r.Get("x").Int()),
		Y:        int(r.Get("y").Int()),
		Key:      r.Get("key").String(),
		Shift:    r.Get("shift").Bool(),
		Hidden:   r.Get("hidden").Bool(),
		URL:      r.Get("url").String(),
		Title:    r.Get("title").String(),
		Selector: r.Get("selector").String(),
		ElemKey:  r.Get("elemKey").String(),
	}, nil
}

// ToElement 将页面脚本生成的元素快照转换为中立元素，缺失时返回 nil
func ToElement(r gjson.Result, depth int) *dom.Element {
	if !r.IsObject() || depth > maxParentDepth {
		return nil
	}
	el := &dom.Element{
		Tag:             r.Get("tag").String(),
		ID:              r.Get("id").String(),
		ClassName:       r.Get("className").String(),
		Type:            r.Get("type").String(),
		ContentEditable: r.Get("contentEditable").Bool(),
		Value:           r.Get("value").String(),
		Text:            r.Get("text").String(),
		Parent:          ToElement(r.Get("parent"), depth+1),
	}
	if attrs := r.Get("attrs"); attrs.IsObject() {
		el.Attrs = make(map[string]string)
		attrs.ForEach(func(k, v gjson.Result) bool {
			el.Attrs[k.String()] = v.String()
			return true
		})
	}
	return el
}
