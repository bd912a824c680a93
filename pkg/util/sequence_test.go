package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequence_InsertRemove(t *testing.T) {
	s := NewSequence("b", "d")
	s.InsertAt(0, "a")
	s.InsertAt(2, "c")
	s.InsertAt(99, "e")
	s.InsertAt(-3, "start")
	assert.Equal(t, []string{"start", "a", "b", "c", "d", "e"}, s.Items())

	item, ok := s.RemoveAt(0)
	assert.True(t, ok)
	assert.Equal(t, "start", item)

	item, ok = s.RemoveAt(2)
	assert.True(t, ok)
	assert.Equal(t, "c", item)

	_, ok = s.RemoveAt(10)
	assert.False(t, ok)
	assert.Equal(t, []string{"a", "b", "d", "e"}, s.Items())
	assert.Equal(t, 4, s.Len())

	last, ok := s.At(3)
	assert.True(t, ok)
	assert.Equal(t, "e", last)
	_, ok = s.At(-1)
	assert.False(t, ok)
}

func TestSequence_NoAliasing(t *testing.T) {
	src := []int{1, 2, 3}
	s := NewSequence(src...)
	src[0] = 100

	items := s.Items()
	items[1] = 200
	s.Append(4)

	assert.Equal(t, []int{1, 2, 3, 4}, s.Items())
	assert.Equal(t, []int{1, 200, 3}, items)
}
