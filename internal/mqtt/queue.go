package mqtt

// Policy decides what a full queue does with a new item.
type Policy int

const (
	// EvictOldest drops the oldest item to make room.
	EvictOldest Policy = iota
	// RejectNew keeps the queue as is and drops the new item.
	RejectNew
)

func (p Policy) String() string {
	if p == RejectNew {
		return "reject-new"
	}
	return "evict-oldest"
}

// ParsePolicy parses the configuration form of a Policy.
func ParsePolicy(s string) (Policy, bool) {
	switch s {
	case "evict-oldest", "":
		return EvictOldest, true
	case "reject-new":
		return RejectNew, true
	default:
		return EvictOldest, false
	}
}

// fixedQueue is a FIFO of byte strings with fixed depth and a per-item size
// limit. Storage is allocated once up front.
// Not safe for concurrent use; the caller synchronizes.
type fixedQueue struct {
	store      []byte
	lens       []int
	depth      int
	maxItemLen int
	policy     Policy

	head  int // oldest item
	count int

	dropped int // items lost to eviction or rejection since last reset
}

func newFixedQueue(depth, maxItemLen int, policy Policy) *fixedQueue {
	return &fixedQueue{
		store:      make([]byte, depth*maxItemLen),
		lens:       make([]int, depth),
		depth:      depth,
		maxItemLen: maxItemLen,
		policy:     policy,
	}
}

func (q *fixedQueue) slot(i int) []byte {
	off := i * q.maxItemLen
	return q.store[off : off+q.maxItemLen]
}

// push appends item. Items longer than the per-item limit are ignored.
// Returns false if the item was not stored.
func (q *fixedQueue) push(item []byte) bool {
	if len(item) > q.maxItemLen || q.depth == 0 {
		return false
	}
	if q.count == q.depth {
		if q.policy == RejectNew {
			q.dropped++
			return false
		}
		q.pop()
		q.dropped++
	}
	tail := (q.head + q.count) % q.depth
	q.lens[tail] = copy(q.slot(tail), item)
	q.count++
	return true
}

// front returns the oldest item. The slice is only valid until the next push.
func (q *fixedQueue) front() ([]byte, bool) {
	if q.count == 0 {
		return nil, false
	}
	return q.slot(q.head)[:q.lens[q.head]], true
}

func (q *fixedQueue) pop() {
	if q.count == 0 {
		return
	}
	q.head = (q.head + 1) % q.depth
	q.count--
}

func (q *fixedQueue) len() int {
	return q.count
}

func (q *fixedQueue) empty() bool {
	return q.count == 0
}

// takeDropped returns and clears the dropped counter.
func (q *fixedQueue) takeDropped() int {
	n := q.dropped
	q.dropped = 0
	return n
}
