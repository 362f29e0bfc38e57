package recorder

import (
	"strings"

	"sessionrecorder/pkg/dom"
)

const snippetLimit = 30

// Describe 元素描述：小写标签名、#id、最多两个 class，以及截断后的文本片段
func Describe(el *dom.Element) string {
	if el == nil {
		return "unknown"
	}
	var b strings.Builder
	b.WriteString(el.TagName())
	if el.ID != "" {
		b.WriteString("#" + el.ID)
	}
	classes := strings.Fields(el.ClassName)
	if len(classes) > 2 {
		classes = classes[:2]
	}
	if len(classes) > 0 {
		b.WriteString("." + strings.Join(classes, "."))
	}
	if text := snippet(el.Text); text != "" {
		b.WriteString(` "` + text + `"`)
	}
	return b.String()
}

func snippet(text string) string {
	r := []rune(strings.TrimSpace(text))
	if len(r) <= snippetLimit {
		return string(r)
	}
	return string(r[:snippetLimit]) + "..."
}
