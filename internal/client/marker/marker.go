// Package marker 将其他参与者的光标以零宽标记插入到文档文本中，并生成标记树。
package marker

import (
	"fmt"
	"html"
	"slices"
	"strings"

	xhtml "golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/lk2023060901/coedit-go/internal/protocol"
)

const (
	// CaretClass 为光标标记元素的 class。
	CaretClass = "user-caret"
	// HiddenClass 为闪烁时隐藏标记使用的 class。
	HiddenClass = "hidden"
	// ContainerClass 为编辑器容器元素的 class。
	ContainerClass = "text-editor"
)

// Order 决定多个标记插入同一字符序列时的顺序。
type Order int

const (
	// OrderParticipant 按参与者注册顺序依次插入，且不修正此前插入的标记造成的偏移。
	// 相邻位置的多个光标会因此互相推移，与浏览器端的原始行为一致。
	OrderParticipant Order = iota
	// OrderRightmostFirst 按光标位置从右到左插入，每个标记都落在真实的字符偏移上。
	OrderRightmostFirst
)

// Injector 生成带光标标记的文档片段。
type Injector struct {
	Order Order
}

// New 创建默认的 Injector（OrderParticipant）。
func New() *Injector {
	return &Injector{Order: OrderParticipant}
}

// Tag 返回单个参与者的光标标记。
func Tag(p protocol.Participant) string {
	return fmt.Sprintf(`<strong class="%s" style="color: #%s" title="%s"></strong>`,
		CaretClass, html.EscapeString(p.Color), html.EscapeString(p.Name))
}

// piece 为拼接序列中的一项：单个字符，或一个参与者的光标标记。
type piece struct {
	text   string
	marker *protocol.Participant
}

// layout 将文本按字符拆分，并在每个参与者的 caretPosition 处插入一个标记。
//
// caretPosition 会被限制在 [0, 字符数] 范围内。
func (inj *Injector) layout(text string, others []protocol.Participant) []piece {
	runes := []rune(text)
	seq := make([]piece, 0, len(runes)+len(others))
	for _, r := range runes {
		seq = append(seq, piece{text: string(r)})
	}
	if len(others) == 0 {
		return seq
	}

	n := len(runes)
	if inj != nil && inj.Order == OrderRightmostFirst {
		// 从右往左插入，已插入的标记不会影响左侧的位置；
		// 同一位置按参与者逆序插入，最终仍保持参与者顺序。
		idx := make([]int, len(others))
		for i := range idx {
			idx[i] = i
		}
		slices.SortFunc(idx, func(a, b int) int {
			pa, pb := clampPos(others[a].CaretPosition, n), clampPos(others[b].CaretPosition, n)
			if pa != pb {
				return pb - pa
			}
			return b - a
		})
		for _, i := range idx {
			seq = slices.Insert(seq, clampPos(others[i].CaretPosition, n), piece{marker: &others[i]})
		}
		return seq
	}

	// 按参与者顺序插入，位置按当前序列长度截断，不修正前面标记带来的偏移。
	for i := range others {
		seq = slices.Insert(seq, clampPos(others[i].CaretPosition, len(seq)), piece{marker: &others[i]})
	}
	return seq
}

func clampPos(pos, n int) int {
	return min(max(pos, 0), n)
}

// Markup 返回带光标标记的 HTML 片段，文本按字符转义。
func (inj *Injector) Markup(text string, others []protocol.Participant) string {
	var sb strings.Builder
	for _, p := range inj.layout(text, others) {
		if p.marker != nil {
			sb.WriteString(Tag(*p.marker))
			continue
		}
		sb.WriteString(html.EscapeString(p.text))
	}
	return sb.String()
}

// Render 直接构造一个 <div class="text-editor"> 容器节点：相邻字符合并为一个文本节点，
// 标记为空的 <strong> 元素。文本原样保留，不经过 HTML 解析。
func (inj *Injector) Render(text string, others []protocol.Participant) *xhtml.Node {
	container := &xhtml.Node{
		Type:     xhtml.ElementNode,
		DataAtom: atom.Div,
		Data:     atom.Div.String(),
		Attr:     []xhtml.Attribute{{Key: "class", Val: ContainerClass}},
	}

	var run strings.Builder
	flush := func() {
		if run.Len() == 0 {
			return
		}
		container.AppendChild(&xhtml.Node{Type: xhtml.TextNode, Data: run.String()})
		run.Reset()
	}
	for _, p := range inj.layout(text, others) {
		if p.marker == nil {
			run.WriteString(p.text)
			continue
		}
		flush()
		container.AppendChild(newMarker(*p.marker))
	}
	flush()
	return container
}

// newMarker 构造单个参与者的光标标记元素，属性值在渲染时转义。
func newMarker(p protocol.Participant) *xhtml.Node {
	return &xhtml.Node{
		Type:     xhtml.ElementNode,
		DataAtom: atom.Strong,
		Data:     atom.Strong.String(),
		Attr: []xhtml.Attribute{
			{Key: "class", Val: CaretClass},
			{Key: "style", Val: "color: #" + p.Color},
			{Key: "title", Val: p.Name},
		},
	}
}

// IsMarker 判断节点是否为光标标记元素。
func IsMarker(n *xhtml.Node) bool {
	if n == nil || n.Type != xhtml.ElementNode || n.DataAtom != atom.Strong {
		return false
	}
	return HasClass(n, CaretClass)
}

// Markers 按文档顺序返回树中的所有光标标记。
func Markers(root *xhtml.Node) []*xhtml.Node {
	var out []*xhtml.Node
	var walk func(n *xhtml.Node)
	walk = func(n *xhtml.Node) {
		if IsMarker(n) {
			out = append(out, n)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	if root != nil {
		walk(root)
	}
	return out
}

// HasClass 判断元素的 class 属性是否包含 name。
func HasClass(n *xhtml.Node, name string) bool {
	for _, a := range n.Attr {
		if a.Key == "class" {
			return slices.Contains(strings.Fields(a.Val), name)
		}
	}
	return false
}

// ToggleClass 切换元素上的 class，返回切换后是否包含该 class。
func ToggleClass(n *xhtml.Node, name string) bool {
	if HasClass(n, name) {
		RemoveClass(n, name)
		return false
	}
	for i, a := range n.Attr {
		if a.Key == "class" {
			n.Attr[i].Val = strings.TrimSpace(a.Val + " " + name)
			return true
		}
	}
	n.Attr = append(n.Attr, xhtml.Attribute{Key: "class", Val: name})
	return true
}

// RemoveClass 从元素上移除 class。
func RemoveClass(n *xhtml.Node, name string) {
	for i, a := range n.Attr {
		if a.Key != "class" {
			continue
		}
		fields := slices.DeleteFunc(strings.Fields(a.Val), func(f string) bool { return f == name })
		n.Attr[i].Val = strings.Join(fields, " ")
	}
}
