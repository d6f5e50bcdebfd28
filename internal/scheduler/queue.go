package scheduler

import "container/heap"

// workItem is one unit of work: a claimed-but-not-yet-fetched file plus
// the source URL it came from.
type workItem struct {
	fileID    int64
	priority  int
	sourceURL string
	seq       int64 // enqueue order, breaks priority ties FIFO-within-tier
}

// priorityQueue orders workItems by ascending priority (lower drains
// first: metadata/small files at 10, standard at 50, large at 80), and by
// enqueue order within a tier — the manifest's natural order, per spec
// section 4.6.
type priorityQueue []*workItem

func (q priorityQueue) Len() int { return len(q) }
func (q priorityQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority < q[j].priority
	}
	return q[i].seq < q[j].seq
}
func (q priorityQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *priorityQueue) Push(x any) { *q = append(*q, x.(*workItem)) }

func (q *priorityQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}

var _ = heap.Interface(&priorityQueue{})
