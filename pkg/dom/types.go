package dom

import (
	"net/url"
	"strings"
)

// Element 中立的 DOM 元素快照
type Element struct {
	Tag             string            // 标签名（大小写不敏感）
	ID              string            // id 属性
	ClassName       string            // class 属性原文
	Type            string            // type 属性的 DOM 取值，未声明时为浏览器默认值
	ContentEditable bool              // contenteditable="true"
	Value           string            // input/textarea 当前值
	Text            string            // textContent
	Attrs           map[string]string // 元素上实际声明的属性
	Parent          *Element          // 父元素，根元素为 nil
}

// TagName 小写标签名
func (e *Element) TagName() string {
	if e == nil {
		return ""
	}
	return strings.ToLower(e.Tag)
}

// Attr 读取声明的属性值，id/class 从专用字段返回
func (e *Element) Attr(key string) (string, bool) {
	if e == nil {
		return "", false
	}
	switch strings.ToLower(key) {
	case "id":
		return e.ID, e.ID != ""
	case "class":
		return e.ClassName, e.ClassName != ""
	}
	v, ok := e.Attrs[strings.ToLower(key)]
	return v, ok
}

// IsTextInput 是否为可输入文本的元素
func (e *Element) IsTextInput() bool {
	switch e.TagName() {
	case "input", "textarea":
		return true
	}
	return e != nil && e.ContentEditable
}

// IsPassword 是否为密码输入框
func (e *Element) IsPassword() bool {
	return e.TagName() == "input" && strings.EqualFold(e.Type, "password")
}

// InputValue 输入框取 value，可编辑区域取文本内容
func (e *Element) InputValue() string {
	if e == nil {
		return ""
	}
	switch e.TagName() {
	case "input", "textarea":
		return e.Value
	}
	if e.ContentEditable {
		return e.Text
	}
	return ""
}

// SignalKind 宿主信号类型
type SignalKind string

const (
	SignalClick       SignalKind = "click"
	SignalKeyDown     SignalKind = "keydown"
	SignalBlur        SignalKind = "blur"
	SignalSubmit      SignalKind = "submit"
	SignalVisibility  SignalKind = "visibilitychange"
	SignalPopState    SignalKind = "popstate"
	SignalFocus       SignalKind = "focus"
	SignalSiteInput   SignalKind = "site_input"
	SignalHistoryPush SignalKind = "history"
)

// Signal 宿主上报的一次原始事件
type Signal struct {
	Kind     SignalKind
	Target   *Element
	X, Y     int
	Key      string
	Shift    bool
	Hidden   bool
	URL      string // 信号发生时的页面地址
	Title    string // 页面标题
	Selector string // 站点监听命中的选择器
	ElemKey  string // 站点监听元素的稳定标识
}

// Hostname 解析页面地址中的主机名
func Hostname(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
