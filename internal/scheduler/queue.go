package scheduler

import "container/heap"

// taskQueue is a max-heap on priority with FIFO order among equal priorities.
type taskQueue []*task

func (q taskQueue) Len() int { return len(q) }

func (q taskQueue) Less(i, j int) bool {
	if q[i].Priority != q[j].Priority {
		return q[i].Priority > q[j].Priority
	}
	return q[i].seq < q[j].seq
}

func (q taskQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *taskQueue) Push(x any) { *q = append(*q, x.(*task)) }

func (q *taskQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return t
}

func (q *taskQueue) push(t *task) { heap.Push(q, t) }

func (q *taskQueue) pop() (*task, bool) {
	if q.Len() == 0 {
		return nil, false
	}
	return heap.Pop(q).(*task), true
}
