package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRing_PushEvictsOldest(t *testing.T) {
	r := NewRing[int](3)
	for i := 1; i <= 3; i++ {
		_, evicted := r.Push(i)
		assert.False(t, evicted)
	}

	old, evicted := r.Push(4)
	assert.True(t, evicted)
	assert.Equal(t, 1, old)
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, []int{2, 3, 4}, []int{r.At(0), r.At(1), r.At(2)})

	var newestFirst []int
	r.Do(func(v int) bool {
		newestFirst = append(newestFirst, v)
		return true
	})
	assert.Equal(t, []int{4, 3, 2}, newestFirst)

	r.Clear()
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, 3, r.Cap())
}

func TestRing_MinimumCapacity(t *testing.T) {
	r := NewRing[string](0)
	r.Push("a")
	r.Push("b")
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, "b", r.At(0))
}
