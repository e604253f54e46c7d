// Package queue provides the bounded heap used to collect the top-K search
// candidates.
package queue

import (
	"container/heap"
	"sort"
)

// Compile time check to ensure TopK satisfies the heap interface.
var _ heap.Interface = (*TopK)(nil)

// Item is a scored candidate.
type Item struct {
	ID    uint64
	Score float32
}

// better orders by descending score, then ascending id so equal scores
// produce a stable ranking.
func better(a, b Item) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.ID < b.ID
}

// TopK keeps the k best items seen so far. The root is the worst kept item.
type TopK struct {
	k     int
	items []Item
}

// NewTopK creates a collector for at most k items. k must be positive.
func NewTopK(k int) *TopK {
	return &TopK{k: k, items: make([]Item, 0, k)}
}

// Offer adds an item if it ranks among the best k.
func (q *TopK) Offer(it Item) {
	if len(q.items) < q.k {
		heap.Push(q, it)
		return
	}
	if better(it, q.items[0]) {
		q.items[0] = it
		heap.Fix(q, 0)
	}
}

// Sorted returns the kept items best-first and resets the queue.
func (q *TopK) Sorted() []Item {
	out := q.items
	q.items = nil
	sort.Slice(out, func(i, j int) bool { return better(out[i], out[j]) })
	return out
}

// Len returns the number of elements in the queue.
func (q *TopK) Len() int { return len(q.items) }

// Less puts the worst item at the root.
func (q *TopK) Less(i, j int) bool { return better(q.items[j], q.items[i]) }

// Swap swaps the elements with indexes i and j.
func (q *TopK) Swap(i, j int) { q.items[i], q.items[j] = q.items[j], q.items[i] }

// Push adds x to the queue.
func (q *TopK) Push(x any) { q.items = append(q.items, x.(Item)) }

// Pop removes and returns the last element.
func (q *TopK) Pop() any {
	n := len(q.items)
	item := q.items[n-1]
	q.items = q.items[:n-1]
	return item
}
