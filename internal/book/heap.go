package book

// indexHeap implements heap.Interface over index records. The top of the
// heap (position 0) is the record with the highest execution priority.
type indexHeap []Index

func (h indexHeap) Len() int { return len(h) }

// Ordering function for heap
func (h indexHeap) Less(i, j int) bool { return Before(h[i], h[j]) }

func (h indexHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
}

func (h *indexHeap) Push(x any) {
	*h = append(*h, x.(Index))
}

func (h *indexHeap) Pop() any {
	old := *h
	n := len(old)
	idx := old[n-1]
	*h = old[0 : n-1]
	return idx
}

// retain filters the backing slice in place, keeping records for which keep
// returns true. The result is no longer a valid heap until re-initialised.
func (h *indexHeap) retain(keep func(Index) bool) {
	kept := (*h)[:0]
	for _, idx := range *h {
		if keep(idx) {
			kept = append(kept, idx)
		}
	}
	clear((*h)[len(kept):])
	*h = kept
}
