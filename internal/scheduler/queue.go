package scheduler

import "sync"

// Queue is the shared work list. It is filled once and only drained.
type Queue struct {
	mu    sync.Mutex
	items []string
}

func NewQueue(urls []string) *Queue {
	return &Queue{items: append([]string(nil), urls...)}
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// popLocked removes the head of the queue; q.mu must be held.
func (q *Queue) popLocked() (string, bool) {
	if len(q.items) == 0 {
		return "", false
	}
	url := q.items[0]
	q.items[0] = ""
	q.items = q.items[1:]
	return url, true
}
