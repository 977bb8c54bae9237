package scheduler

import "container/heap"

// arbiter models the single logical core this runtime's tasks contend for.
// Go has no facility to externally suspend a running goroutine, so true
// preemption of an in-flight task body is not implementable; instead the
// arbiter orders *waiting* tasks strictly by priority at the moment the core
// frees up, which is the fixed-priority behavior that matters at release
// boundaries (spec: "higher-priority tasks strictly preempt lower-priority
// tasks at release boundaries").
type arbiter struct {
	mu      chanMutex
	busy    bool
	waiting waitHeap
	seq     uint64
}

// chanMutex is a trivial channel-backed mutex; used instead of sync.Mutex
// only so arbiter's zero value is directly usable without a constructor.
type chanMutex chan struct{}

func (c *chanMutex) lock() {
	if *c == nil {
		*c = make(chanMutex, 1)
	}
	*c <- struct{}{}
}

func (c *chanMutex) unlock() { <-*c }

type waitNode struct {
	priority Priority
	seq      uint64
	ready    chan struct{}
}

type waitHeap []*waitNode

func (h waitHeap) Len() int { return len(h) }
func (h waitHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h waitHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *waitHeap) Push(x any)        { *h = append(*h, x.(*waitNode)) }
func (h *waitHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// acquire blocks until the caller holds the core, at the given priority.
// preempted is set to true if the core was already busy or other tasks were
// already waiting when this call was made (i.e. this task's release was
// delayed by contention), which the caller surfaces as PreemptionCount.
func (a *arbiter) acquire(priority Priority) (preempted bool) {
	a.mu.lock()
	if !a.busy && len(a.waiting) == 0 {
		a.busy = true
		a.mu.unlock()
		return false
	}
	a.seq++
	node := &waitNode{priority: priority, seq: a.seq, ready: make(chan struct{})}
	heap.Push(&a.waiting, node)
	a.mu.unlock()
	<-node.ready
	return true
}

// release hands the core to the next highest-priority waiter, if any.
func (a *arbiter) release() {
	a.mu.lock()
	if len(a.waiting) > 0 {
		n := heap.Pop(&a.waiting).(*waitNode)
		close(n.ready)
	} else {
		a.busy = false
	}
	a.mu.unlock()
}
