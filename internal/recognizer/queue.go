package recognizer

// queueCapacity bounds the number of undelivered results.
const queueCapacity = 3

// resultQueue is a bounded FIFO between the detect worker and the
// dispatcher. Sends never block.
type resultQueue struct {
	ch chan Result
}

func newResultQueue(capacity int) *resultQueue {
	return &resultQueue{ch: make(chan Result, capacity)}
}

// TrySend enqueues r unless the queue is full.
func (q *resultQueue) TrySend(r Result) bool {
	select {
	case q.ch <- r:
		return true
	default:
		return false
	}
}

// C returns the receive side.
func (q *resultQueue) C() <-chan Result { return q.ch }

// Len returns the number of pending results.
func (q *resultQueue) Len() int { return len(q.ch) }
