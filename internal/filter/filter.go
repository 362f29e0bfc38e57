// Package filter 判断交互事件是否应被忽略。
package filter

import (
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"sessionrecorder/pkg/dom"
	"sessionrecorder/pkg/model"
)

// ShouldSuppress 元素命中选择器黑名单，或当前域名包含黑名单子串时返回 true。
// 非法选择器视为不匹配。
func ShouldSuppress(el *dom.Element, currentDomain string, settings model.Settings) bool {
	if MatchesAny(el, settings.DenylistSelectors) {
		return true
	}
	return DomainDenied(currentDomain, settings.DenylistDomains)
}

// DomainDenied 域名是否包含任一黑名单子串
func DomainDenied(currentDomain string, denylist []string) bool {
	for _, d := range denylist {
		if d != "" && strings.Contains(currentDomain, d) {
			return true
		}
	}
	return false
}

// MatchesAny 元素是否匹配任一选择器
func MatchesAny(el *dom.Element, selectors []string) bool {
	if el == nil || len(selectors) == 0 {
		return false
	}
	var node *html.Node
	for _, s := range selectors {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		sel, err := cascadia.Compile(s)
		if err != nil {
			continue
		}
		if node == nil {
			node = toNode(el)
		}
		if sel.Match(node) {
			return true
		}
	}
	return false
}

// toNode 将元素及其祖先链转换为 html 节点树，返回目标元素对应的节点
func toNode(el *dom.Element) *html.Node {
	var chain []*dom.Element
	for e := el; e != nil; e = e.Parent {
		chain = append(chain, e)
	}

	parent := &html.Node{Type: html.DocumentNode}
	var n *html.Node
	for i := len(chain) - 1; i >= 0; i-- {
		n = elementNode(chain[i])
		parent.AppendChild(n)
		parent = n
	}
	return n
}

func elementNode(e *dom.Element) *html.Node {
	tag := e.TagName()
	n := &html.Node{
		Type:     html.ElementNode,
		Data:     tag,
		DataAtom: atom.Lookup([]byte(tag)),
	}
	if e.ID != "" {
		n.Attr = append(n.Attr, html.Attribute{Key: "id", Val: e.ID})
	}
	if e.ClassName != "" {
		n.Attr = append(n.Attr, html.Attribute{Key: "class", Val: e.ClassName})
	}
	if e.ContentEditable {
		n.Attr = append(n.Attr, html.Attribute{Key: "contenteditable", Val: "true"})
	}
	for k, v := range e.Attrs {
		switch strings.ToLower(k) {
		case "id", "class", "contenteditable":
			continue
		}
		n.Attr = append(n.Attr, html.Attribute{Key: strings.ToLower(k), Val: v})
	}
	return n
}
