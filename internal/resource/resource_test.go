package resource

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBundleArithmetic(t *testing.T) {
	hand := Of(Brick, 2, Ore, 3)
	assert.Equal(t, 5, hand.Total())
	assert.True(t, hand.Covers(Of(Ore, 3)))
	assert.False(t, hand.Covers(Of(Ore, 4)))
	assert.False(t, hand.Covers(Of(Wool, 1)))

	cp := hand.Clone()
	cp.Sub(Of(Brick, 2))
	assert.Equal(t, 2, hand[Brick], "clone must not alias")
	assert.Equal(t, 0, cp[Brick])

	cp.Add(Of(Grain, 1))
	assert.Equal(t, []Kind{Grain, Ore, Ore, Ore}, cp.Cards())
}

func TestBundleValidate(t *testing.T) {
	assert.NoError(t, Of(Wool, 1).Validate())
	assert.Error(t, Bundle{"gold": 1}.Validate())
	assert.Error(t, Bundle{Wool: -1}.Validate())
}
