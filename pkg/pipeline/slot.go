// Package pipeline runs the fiducial and object detection workers and the
// dispatch loop that feeds them from the camera.
package pipeline

// Slot is a queue holding at most one item. None of its operations block
// except Take.
type Slot[T any] struct {
	ch chan T
}

// NewSlot returns an empty slot.
func NewSlot[T any]() *Slot[T] {
	return &Slot[T]{ch: make(chan T, 1)}
}

// TryPut stores v if the slot is empty and reports whether it did.
func (s *Slot[T]) TryPut(v T) bool {
	select {
	case s.ch <- v:
		return true
	default:
		return false
	}
}

// Replace stores v, discarding an unread item. It reports whether an item
// was discarded. Only safe with a single producer.
func (s *Slot[T]) Replace(v T) bool {
	replaced := false
	for {
		select {
		case s.ch <- v:
			return replaced
		default:
		}
		select {
		case <-s.ch:
			replaced = true
		default:
		}
	}
}

// TryTake removes and returns the item if one is present.
func (s *Slot[T]) TryTake() (T, bool) {
	select {
	case v := <-s.ch:
		return v, true
	default:
		var zero T
		return zero, false
	}
}

// Take waits for an item.
func (s *Slot[T]) Take() T {
	return <-s.ch
}

// Len is 0 or 1.
func (s *Slot[T]) Len() int {
	return len(s.ch)
}
