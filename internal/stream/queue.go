package stream

import (
	"slices"

	"snapshot-capture/internal/capture"
)

// Queue holds targets not yet assigned to a worker. It is not safe for
// concurrent use; the stream guards it with its own lock.
type Queue struct {
	items []capture.Target
}

func NewQueue(targets []capture.Target) *Queue {
	return &Queue{
		items: slices.Clone(targets),
	}
}

func (q *Queue) Pop() (capture.Target, bool) {
	if len(q.items) == 0 {
		return capture.Target{}, false
	}
	t := q.items[0]
	q.items[0] = capture.Target{}
	q.items = q.items[1:]
	return t, true
}

func (q *Queue) Len() int {
	return len(q.items)
}
