// Package rwqueue provides an admission queue that orders concurrent
// readers and writers of a shared resource. Admission is granted in FIFO
// order with one relaxation: a contiguous run of readers at the head of the
// queue is admitted together. At most one writer is active at any instant
// and never concurrently with readers. Because a writer may not overtake
// readers queued before it and vice versa, neither side starves.
package rwqueue

import (
	"sync"
)

// waiter is a pending admission request. Admission is granted by closing
// its ready channel. Each waiter belongs to a single acquire call; the queue
// only links it while it is pending.
type waiter struct {
	reader bool
	ready  chan struct{}
	next   *waiter
}

// Queue is a reader/writer admission queue. The zero value is ready to use.
type Queue struct {
	mu      sync.Mutex
	reading int
	writing int
	head    *waiter
	tail    *waiter
}

// New returns an empty admission queue.
func New() *Queue {
	return &Queue{}
}

// AcquireRead blocks until read admission is granted. A reader is admitted
// immediately when no writer is active and nothing is queued ahead of it;
// otherwise it queues behind every earlier request.
func (q *Queue) AcquireRead() {
	q.mu.Lock()
	if q.head == nil && q.writing == 0 {
		q.reading++
		q.mu.Unlock()
		return
	}
	w := &waiter{reader: true, ready: make(chan struct{})}
	q.enqueue(w)
	q.mu.Unlock()
	<-w.ready
}

// AcquireWrite blocks until exclusive write admission is granted. A writer
// is admitted immediately only when nothing is queued and no reader or
// writer is active.
func (q *Queue) AcquireWrite() {
	q.mu.Lock()
	if q.head == nil && q.writing == 0 && q.reading == 0 {
		q.writing++
		q.mu.Unlock()
		return
	}
	w := &waiter{ready: make(chan struct{})}
	q.enqueue(w)
	q.mu.Unlock()
	<-w.ready
}

// ReleaseRead gives up read admission and admits whatever has become
// runnable at the head of the queue.
func (q *Queue) ReleaseRead() {
	q.mu.Lock()
	q.reading--
	q.drain()
	q.mu.Unlock()
}

// ReleaseWrite gives up write admission and admits whatever has become
// runnable at the head of the queue.
func (q *Queue) ReleaseWrite() {
	q.mu.Lock()
	q.writing--
	q.drain()
	q.mu.Unlock()
}

func (q *Queue) enqueue(w *waiter) {
	if q.tail == nil {
		q.head, q.tail = w, w
	} else {
		q.tail.next = w
		q.tail = w
	}
}

func (q *Queue) dequeue() *waiter {
	w := q.head
	q.head = w.next
	if q.head == nil {
		q.tail = nil
	}
	w.next = nil
	return w
}

// drain admits the longest admissible prefix of the queue: a single writer
// once no readers remain active, or every contiguous reader at the head.
// A queued writer behind still-active readers stays put; a later release
// will admit it. Callers hold q.mu.
func (q *Queue) drain() {
	w := q.head
	if w == nil || q.writing > 0 {
		return
	}
	if !w.reader {
		if q.reading == 0 {
			q.writing++
			close(q.dequeue().ready)
		}
		return
	}
	for w != nil && w.reader {
		q.reading++
		close(q.dequeue().ready)
		w = q.head
	}
}
