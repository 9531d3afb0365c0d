package tracker

import "github.com/vincentbai/behaviortrace/internal/models"

// Queue is a FIFO of sanitized envelopes awaiting batch delivery. It is not
// safe for concurrent use; Tracker guards it.
type Queue struct {
	items    []models.Envelope
	capacity int
}

func NewQueue(capacity int) *Queue {
	return &Queue{capacity: capacity}
}

// Push appends events, evicting from the head once capacity is exceeded. It
// returns the number of evicted events.
func (q *Queue) Push(events ...models.Envelope) int {
	q.items = append(q.items, events...)
	if q.capacity <= 0 || len(q.items) <= q.capacity {
		return 0
	}
	over := len(q.items) - q.capacity
	q.items = append(q.items[:0:0], q.items[over:]...)
	return over
}

// Take removes and returns up to n events from the head.
func (q *Queue) Take(n int) []models.Envelope {
	if n > len(q.items) {
		n = len(q.items)
	}
	if n == 0 {
		return nil
	}
	out := make([]models.Envelope, n)
	copy(out, q.items[:n])
	q.items = append(q.items[:0:0], q.items[n:]...)
	return out
}

func (q *Queue) Len() int { return len(q.items) }
