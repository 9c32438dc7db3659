package collab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/coedit-go/internal/protocol"
)

func fixedColor(c uint32) RegistryOption {
	return WithColorSource(func() uint32 { return c })
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func TestRegisterAssignsIncreasingIDs(t *testing.T) {
	reg := NewRegistry(fixedColor(0xABC))

	var last uint64
	for i := 0; i < 10; i++ {
		p := reg.Register(nil)
		assert.Greater(t, p.ID, last)
		last = p.ID
		if i%3 == 0 {
			reg.Unregister(p.ID)
		}
	}

	// ID 不复用。
	p := reg.Register(nil)
	assert.Equal(t, uint64(11), p.ID)
	assert.Equal(t, "Unknown 11", p.Name)
	assert.Equal(t, "000abc", p.Color)
	assert.Equal(t, 0, p.CaretPosition)
}

func TestRandomColorIsSixHexDigits(t *testing.T) {
	reg := NewRegistry()
	for i := 0; i < 50; i++ {
		p := reg.Register(nil)
		assert.Regexp(t, `^[0-9a-f]{6}$`, p.Color)
	}
}

func TestApplyPartialUpdate(t *testing.T) {
	reg := NewRegistry(fixedColor(1))
	p := reg.Register(nil)

	require.True(t, reg.Apply(p.ID, protocol.Update{Text: strPtr("hi"), CaretPosition: intPtr(2)}))
	assert.Equal(t, "hi", reg.Text())
	assert.Equal(t, 2, p.CaretPosition)
	assert.Equal(t, "Unknown 1", p.Name)

	require.True(t, reg.Apply(p.ID, protocol.Update{Name: strPtr("Ann")}))
	assert.Equal(t, "Ann", p.Name)
	assert.Equal(t, "hi", reg.Text())
	assert.Equal(t, 2, p.CaretPosition)

	require.True(t, reg.Apply(p.ID, protocol.Update{CaretPosition: intPtr(-4)}))
	assert.Equal(t, 0, p.CaretPosition)
}

func TestApplyUnknownIsNoop(t *testing.T) {
	reg := NewRegistry(fixedColor(1))
	p := reg.Register(nil)
	require.True(t, reg.Apply(p.ID, protocol.Update{Text: strPtr("keep")}))
	reg.Unregister(p.ID)

	assert.False(t, reg.Apply(p.ID, protocol.Update{Text: strPtr("lost"), Name: strPtr("ghost")}))
	assert.Equal(t, "keep", reg.Text())
	assert.Equal(t, 0, reg.Len())
	_, ok := reg.Participant(p.ID)
	assert.False(t, ok)
}

func TestUnregisterIsIdempotent(t *testing.T) {
	reg := NewRegistry()
	p := reg.Register(nil)
	assert.True(t, reg.Unregister(p.ID))
	assert.False(t, reg.Unregister(p.ID))
	assert.False(t, reg.Unregister(999))
}

func TestSnapshotForExcludesSelfInInsertionOrder(t *testing.T) {
	reg := NewRegistry(fixedColor(0xFF))
	a := reg.Register(nil)
	b := reg.Register(nil)
	c := reg.Register(nil)
	reg.Apply(b.ID, protocol.Update{Text: strPtr("doc")})

	snap, ok := reg.SnapshotFor(b.ID)
	require.True(t, ok)
	assert.Equal(t, b.ID, snap.User.ID)
	assert.Equal(t, "doc", snap.Text)
	require.Len(t, snap.Others, 2)
	assert.Equal(t, a.ID, snap.Others[0].ID)
	assert.Equal(t, c.ID, snap.Others[1].ID)

	for _, id := range reg.IDs() {
		s, _ := reg.SnapshotFor(id)
		for _, o := range s.Others {
			assert.NotEqual(t, id, o.ID)
		}
	}

	_, ok = reg.SnapshotFor(42)
	assert.False(t, ok)
}

func TestSnapshotForAloneHasEmptyOthers(t *testing.T) {
	reg := NewRegistry()
	p := reg.Register(nil)
	snap, ok := reg.SnapshotFor(p.ID)
	require.True(t, ok)
	assert.NotNil(t, snap.Others)
	assert.Empty(t, snap.Others)
	assert.Equal(t, "", snap.Text)
}
