package filepool

import "weak"

// queuedFileData is one entry of a FilePool's streaming backlog: a weak
// reference to the caller-owned FileId (so the queue never keeps a region
// or voice's FileId alive past its natural lifetime) plus the strong
// FileData it resolves to.
type queuedFileData struct {
	id   weak.Pointer[FileId]
	data *FileData
}

// fileLoadQueue is a bounded, multi-producer multi-consumer queue with
// non-blocking try-semantics, realized with a buffered channel. A render
// thread's TryPush and a dispatcher goroutine's TryPop are both O(1),
// allocation-free, and never block — exactly the "lock-free bounded queue"
// collaborator the real-time path needs.
type fileLoadQueue struct {
	ch chan queuedFileData
}

func newFileLoadQueue(capacity int) *fileLoadQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &fileLoadQueue{ch: make(chan queuedFileData, capacity)}
}

// TryPush enqueues without blocking. Returns false if the queue is full.
func (q *fileLoadQueue) TryPush(v queuedFileData) bool {
	select {
	case q.ch <- v:
		return true
	default:
		return false
	}
}

// TryPop dequeues without blocking. Returns false if the queue is empty.
func (q *fileLoadQueue) TryPop() (queuedFileData, bool) {
	select {
	case v := <-q.ch:
		return v, true
	default:
		return queuedFileData{}, false
	}
}

// Len reports the number of entries currently queued. Approximate under
// concurrent access, useful only for stats reporting.
func (q *fileLoadQueue) Len() int {
	return len(q.ch)
}
