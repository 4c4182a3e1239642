package matcher

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/blelink/internal/device"
)

func char(uuid string, read, write, notify bool) device.Characteristic {
	return device.Characteristic{UUID: uuid, Properties: device.Properties{Read: read, Write: write, Notify: notify}}
}

func TestMatchCharacteristics(t *testing.T) {
	chars := []device.Characteristic{
		char("2a00", true, false, false),
		char("ffe1", false, true, true),
		char("ffe2", true, true, false),
		char("ffe3", false, false, true),
	}

	t.Run("capability selection is first-wins", func(t *testing.T) {
		r := MatchCharacteristics(chars, device.MatchPolicy{})
		assert.Equal(t, Result{Write: "ffe1", Read: "2a00", Notify: "ffe1"}, r)
	})

	t.Run("explicit policy short-circuits with uuid only", func(t *testing.T) {
		r := MatchCharacteristics(chars, device.Exact("FFE2"))
		assert.Equal(t, Result{UUID: "ffe2"}, r, "capability fields MUST stay empty")
	})

	t.Run("explicit policy without a match falls back to capabilities", func(t *testing.T) {
		r := MatchCharacteristics(chars, device.Exact("abcd"))
		assert.Equal(t, "", r.UUID)
		assert.Equal(t, "ffe1", r.Write)
	})

	t.Run("empty input", func(t *testing.T) {
		assert.True(t, MatchCharacteristics(nil, device.MatchPolicy{}).IsEmpty())
	})
}

func TestMatchServicesCharacteristics(t *testing.T) {
	tree := NewServiceTree()
	tree.Add("1800", []device.Characteristic{char("2a00", true, false, false)})
	tree.Add("ffe0", []device.Characteristic{char("ffe1", false, true, true)})
	tree.Add("fff0", []device.Characteristic{char("fff1", false, true, false), char("fff2", false, false, true)})

	t.Run("first qualifying service in discovery order wins", func(t *testing.T) {
		sel, err := MatchServicesCharacteristics(tree, MatchWrite, device.MatchPolicy{})
		require.NoError(t, err)
		assert.Equal(t, "ffe0", sel.Service)
		assert.Equal(t, "ffe1", sel.Characteristic)
	})

	t.Run("explicit uuid policy selects across services", func(t *testing.T) {
		sel, err := MatchServicesCharacteristics(tree, MatchUUID, device.Pattern(regexp.MustCompile(`(?i)^FFF2$`)))
		require.NoError(t, err)
		assert.Equal(t, Selection{Service: "fff0", Characteristic: "fff2", Result: Result{UUID: "fff2"}}, sel)
	})

	t.Run("no qualifying service fails characteristic match", func(t *testing.T) {
		_, err := MatchServicesCharacteristics(tree, MatchUUID, device.Exact("abcd"))
		assert.ErrorIs(t, err, device.ErrCharacteristicMatchFailed)
	})

	t.Run("empty tree fails service match", func(t *testing.T) {
		_, err := MatchServicesCharacteristics(NewServiceTree(), MatchWrite, device.MatchPolicy{})
		assert.ErrorIs(t, err, device.ErrServiceMatchFailed)
	})
}

func TestTypeFor(t *testing.T) {
	assert.Equal(t, MatchNotify, TypeFor(device.MatchPolicy{}, MatchNotify))
	assert.Equal(t, MatchUUID, TypeFor(device.Exact("ffe1"), MatchNotify))
}

func TestServiceTreeOrder(t *testing.T) {
	tree := NewServiceTree()
	tree.Add("b", nil)
	tree.Add("a", nil)
	tree.Add("c", []device.Characteristic{char("c1", true, false, false)})
	tree.Add("b", []device.Characteristic{char("b1", true, false, false)})

	assert.Equal(t, []string{"b", "a", "c"}, tree.Services(), "re-adding MUST keep discovery position")
	chars, ok := tree.Characteristics("b")
	require.True(t, ok)
	assert.Equal(t, "b1", chars[0].UUID)

	var nilTree *ServiceTree
	assert.Equal(t, 0, nilTree.Len())
	assert.Nil(t, nilTree.Services())
}
