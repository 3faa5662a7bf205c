package transfer

import (
	"container/heap"
	"sync"
	"time"
)

// retryItem is one chunk scheduled for retransmission.
type retryItem struct {
	index   int
	attempt int
	due     time.Time
}

type retryHeap []*retryItem

func (h retryHeap) Len() int            { return len(h) }
func (h retryHeap) Less(i, j int) bool  { return h[i].due.Before(h[j].due) }
func (h retryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *retryHeap) Push(x interface{}) { *h = append(*h, x.(*retryItem)) }
func (h *retryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// RetryQueue schedules chunk retransmissions ordered by due time.
// Workers poll it ahead of fresh indices so that overdue chunks are
// resent before new data widens the in-flight set.
type RetryQueue struct {
	mu    sync.Mutex
	items retryHeap
}

func NewRetryQueue() *RetryQueue {
	rq := &RetryQueue{}
	heap.Init(&rq.items)
	return rq
}

// Schedule enqueues a retransmission with an exponential backoff delay
// derived from the attempt number.
func (rq *RetryQueue) Schedule(index, attempt int, baseDelay time.Duration) {
	delay := baseDelay << uint(attempt-1)
	rq.mu.Lock()
	defer rq.mu.Unlock()
	heap.Push(&rq.items, &retryItem{index: index, attempt: attempt, due: time.Now().Add(delay)})
}

// PopDue removes and returns the earliest retransmission whose due time
// has passed. ok is false when nothing is due yet.
func (rq *RetryQueue) PopDue() (index, attempt int, ok bool) {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	if len(rq.items) == 0 || rq.items[0].due.After(time.Now()) {
		return 0, 0, false
	}
	item := heap.Pop(&rq.items).(*retryItem)
	return item.index, item.attempt, true
}

// Len reports the number of scheduled retransmissions, due or not.
func (rq *RetryQueue) Len() int {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	return len(rq.items)
}
