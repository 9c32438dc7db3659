package marker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	xhtml "golang.org/x/net/html"

	"github.com/lk2023060901/coedit-go/internal/protocol"
)

var (
	ann = protocol.Participant{ID: 1, Color: "ff0000", Name: "Ann", CaretPosition: 1}
	bob = protocol.Participant{ID: 2, Color: "00ff00", Name: "Bob", CaretPosition: 3}
)

func TestMarkupWithoutOthersEscapes(t *testing.T) {
	assert.Equal(t, "a&lt;b&amp;", New().Markup("a<b&", nil))
}

func TestMarkupParticipantOrderDrifts(t *testing.T) {
	got := New().Markup("abcd", []protocol.Participant{ann, bob})
	// Bob 的标记被 Ann 的标记向左推了一个字符。
	assert.Equal(t, "a"+Tag(ann)+"b"+Tag(bob)+"cd", got)
}

func TestMarkupRightmostFirstKeepsOffsets(t *testing.T) {
	inj := &Injector{Order: OrderRightmostFirst}
	got := inj.Markup("abcd", []protocol.Participant{ann, bob})
	assert.Equal(t, "a"+Tag(ann)+"bc"+Tag(bob)+"d", got)

	// 同一位置保持参与者顺序。
	same := bob
	same.CaretPosition = 1
	got = inj.Markup("abcd", []protocol.Participant{ann, same})
	assert.Equal(t, "a"+Tag(ann)+Tag(same)+"bcd", got)
}

func TestMarkupClampsPositions(t *testing.T) {
	far := ann
	far.CaretPosition = 99
	neg := bob
	neg.CaretPosition = -5
	got := New().Markup("ab", []protocol.Participant{far, neg})
	assert.Equal(t, Tag(neg)+"ab"+Tag(far), got)
}

func TestMarkupCountsRunes(t *testing.T) {
	p := ann
	p.CaretPosition = 2
	assert.Equal(t, "日本"+Tag(p)+"語", New().Markup("日本語", []protocol.Participant{p}))
}

func TestTagEscapesName(t *testing.T) {
	p := protocol.Participant{Color: "0000ff", Name: `"><script>`}
	assert.Equal(t, `<strong class="user-caret" style="color: #0000ff" title="&#34;&gt;&lt;script&gt;"></strong>`, Tag(p))
}

func TestRenderBuildsContainer(t *testing.T) {
	root := New().Render("a<bc", []protocol.Participant{ann})
	assert.Equal(t, "div", root.Data)
	assert.True(t, HasClass(root, ContainerClass))

	markers := Markers(root)
	require.Len(t, markers, 1)
	assert.True(t, IsMarker(markers[0]))
	assert.Nil(t, markers[0].FirstChild)

	var b strings.Builder
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xhtml.TextNode {
			b.WriteString(c.Data)
		}
	}
	assert.Equal(t, "a<bc", b.String())
}

func TestClassHelpers(t *testing.T) {
	root := New().Render("x", []protocol.Participant{ann})
	m := Markers(root)[0]

	assert.True(t, ToggleClass(m, HiddenClass))
	assert.True(t, HasClass(m, HiddenClass))
	assert.True(t, IsMarker(m))
	assert.False(t, ToggleClass(m, HiddenClass))
	assert.False(t, HasClass(m, HiddenClass))

	plain := &xhtml.Node{Type: xhtml.ElementNode, Data: "span"}
	assert.False(t, IsMarker(plain))
	assert.True(t, ToggleClass(plain, HiddenClass))
	RemoveClass(plain, HiddenClass)
	assert.False(t, HasClass(plain, HiddenClass))
}

func TestRenderKeepsRawText(t *testing.T) {
	for _, text := range []string{"a\r\nb", "x\ry", "a\x00b", "\r\n", "  lead"} {
		root := New().Render(text, []protocol.Participant{{ID: 1, Color: "ff0000", Name: "a", CaretPosition: 1}})
		var b strings.Builder
		for c := root.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == xhtml.TextNode {
				b.WriteString(c.Data)
			}
		}
		assert.Equal(t, text, b.String(), "text %q", text)
		require.Len(t, Markers(root), 1)
	}
}

func TestRenderMatchesMarkup(t *testing.T) {
	others := []protocol.Participant{
		{ID: 1, Color: "ff0000", Name: `a"b`, CaretPosition: 1},
		{ID: 2, Color: "00ff00", Name: "c", CaretPosition: 3},
	}
	inj := New()
	root := inj.Render("x<y&z", others)

	var b strings.Builder
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		require.NoError(t, xhtml.Render(&b, c))
	}
	assert.Equal(t, inj.Markup("x<y&z", others), b.String())
}

func TestRenderEmpty(t *testing.T) {
	root := New().Render("", nil)
	assert.Nil(t, root.FirstChild)
	assert.True(t, HasClass(root, ContainerClass))
}
