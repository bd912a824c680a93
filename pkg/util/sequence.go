package util

// Sequence is an ordered collection owned by one caller. Accessors return
// copies so the backing array is never shared.
type Sequence[T any] struct {
	items []T
}

func NewSequence[T any](items ...T) *Sequence[T] {
	s := &Sequence[T]{}
	s.items = append(s.items, items...)
	return s
}

func (s *Sequence[T]) Len() int {
	return len(s.items)
}

// Append adds items to the end.
func (s *Sequence[T]) Append(items ...T) {
	s.items = append(s.items, items...)
}

// InsertAt places item at index i, shifting later items right. An index
// past the end appends; a negative index prepends.
func (s *Sequence[T]) InsertAt(i int, item T) {
	if i < 0 {
		i = 0
	}
	if i >= len(s.items) {
		s.items = append(s.items, item)
		return
	}
	s.items = append(s.items, item)
	copy(s.items[i+1:], s.items[i:])
	s.items[i] = item
}

// RemoveAt deletes and returns the item at index i.
func (s *Sequence[T]) RemoveAt(i int) (T, bool) {
	var zero T
	if i < 0 || i >= len(s.items) {
		return zero, false
	}
	item := s.items[i]
	copy(s.items[i:], s.items[i+1:])
	s.items[len(s.items)-1] = zero
	s.items = s.items[:len(s.items)-1]
	return item, true
}

func (s *Sequence[T]) At(i int) (T, bool) {
	var zero T
	if i < 0 || i >= len(s.items) {
		return zero, false
	}
	return s.items[i], true
}

// Items returns a copy of the current contents.
func (s *Sequence[T]) Items() []T {
	out := make([]T, len(s.items))
	copy(out, s.items)
	return out
}
