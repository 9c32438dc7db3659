// Package caret 在规范文本中的字符偏移与标记树中的具体位置之间互相转换。
//
// 标记树中的光标标记不包含文本，转换时对它们完全透明。
// 所有偏移均按字符（rune）计数。
package caret

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"

	"github.com/lk2023060901/coedit-go/internal/client/marker"
)

// Endpoint 为标记树中的一个位置。
//
// 对文本节点 Offset 表示字符偏移；对元素节点 Offset 表示子节点下标。
type Endpoint struct {
	Node   *html.Node
	Offset int
}

// MeasureOffset 返回 root 起点到 sel 之间可见文本的字符数。
//
// sel 为 nil 或不在 root 内时返回 0。
func MeasureOffset(root *html.Node, sel *Endpoint) int {
	if root == nil || sel == nil || sel.Node == nil {
		return 0
	}
	before, found := textBefore(root, sel.Node)
	if !found {
		return 0
	}

	if sel.Node.Type == html.TextNode {
		return before + min(max(sel.Offset, 0), utf8.RuneCountInString(sel.Node.Data))
	}

	i := 0
	for c := sel.Node.FirstChild; c != nil && i < sel.Offset; c = c.NextSibling {
		before += TextLength(c)
		i++
	}
	return before
}

// textBefore 统计先序遍历中位于 target 之前的可见文本长度。
func textBefore(root, target *html.Node) (int, bool) {
	count := 0
	var walk func(n *html.Node) bool
	walk = func(n *html.Node) bool {
		if n == target {
			return true
		}
		if marker.IsMarker(n) {
			return false
		}
		if n.Type == html.TextNode {
			count += utf8.RuneCountInString(n.Data)
			return false
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if walk(c) {
				return true
			}
		}
		return false
	}
	found := walk(root)
	return count, found
}

// ResolvePosition 将字符偏移 target 映射回标记树中的文本节点位置。
//
// 深度优先、从左到右遍历，remaining 初始为 target：
// 遇到文本节点时，若 remaining 不超过其长度则落在该节点内，否则减去其长度继续；
// 元素节点按顺序递归其子节点；光标标记既不消耗 remaining 也不会成为落点。
// 遍历结束仍未命中时返回 false，调用方应保持原有光标不变。
//
// remaining 在整个递归过程中共享，因此即使无条件进入每个子树，
// 命中的也总是按文档顺序第一个覆盖 target 的文本节点。
func ResolvePosition(root *html.Node, target int) (Endpoint, bool) {
	if root == nil || target < 0 {
		return Endpoint{}, false
	}
	remaining := target
	var walk func(n *html.Node) (Endpoint, bool)
	walk = func(n *html.Node) (Endpoint, bool) {
		if marker.IsMarker(n) {
			return Endpoint{}, false
		}
		if n.Type == html.TextNode {
			length := utf8.RuneCountInString(n.Data)
			if remaining <= length {
				return Endpoint{Node: n, Offset: remaining}, true
			}
			remaining -= length
			return Endpoint{}, false
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if ep, ok := walk(c); ok {
				return ep, true
			}
		}
		return Endpoint{}, false
	}
	if ep, ok := walk(root); ok {
		return ep, true
	}
	// 没有文本节点的树（空文档）中，偏移 0 落在容器起点。
	if target == 0 {
		return Endpoint{Node: root, Offset: 0}, true
	}
	return Endpoint{}, false
}

// TextLength 返回节点内可见文本的字符数，光标标记不计入。
func TextLength(n *html.Node) int {
	return utf8.RuneCountInString(Text(n))
}

// Text 返回节点内拼接后的可见文本，光标标记被剔除。
func Text(n *html.Node) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if marker.IsMarker(n) {
			return
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	if n != nil {
		walk(n)
	}
	return b.String()
}
