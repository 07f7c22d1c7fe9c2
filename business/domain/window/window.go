package window

// DefaultCapacity is the number of observations kept per history.
const DefaultCapacity = 10

// Window is a bounded FIFO history. When full, a push evicts the oldest element first.
type Window[T any] struct {
	capacity int
	items    []T
}

func New[T any](capacity int) *Window[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Window[T]{
		capacity: capacity,
		items:    make([]T, 0, capacity),
	}
}

// FromSlice restores a window from persisted items. Only the newest capacity items are kept.
func FromSlice[T any](capacity int, items []T) *Window[T] {
	w := New[T](capacity)
	for _, item := range items {
		w.Push(item)
	}
	return w
}

func (w *Window[T]) Push(value T) {
	if len(w.items) == w.capacity {
		copy(w.items, w.items[1:])
		w.items = w.items[:len(w.items)-1]
	}
	w.items = append(w.items, value)
}

// Items returns a copy of the contents, oldest first.
func (w *Window[T]) Items() []T {
	items := make([]T, len(w.items))
	copy(items, w.items)
	return items
}

func (w *Window[T]) Len() int {
	return len(w.items)
}
