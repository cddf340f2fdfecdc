package filepool

import "sync/atomic"

// spinMutex is a CAS busy-wait lock. It exists only for garbageMutex, which
// the collector and streaming workers hold for a handful of instructions at
// a time — short enough that spinning costs less than parking a goroutine,
// and simple enough to guarantee no allocation and no syscall on the path a
// streaming worker takes while touching a FileData's buffer pointer.
type spinMutex struct {
	locked atomic.Bool
}

func (m *spinMutex) Lock() {
	for !m.locked.CompareAndSwap(false, true) {
	}
}

func (m *spinMutex) Unlock() {
	m.locked.Store(false)
}

func (m *spinMutex) TryLock() bool {
	return m.locked.CompareAndSwap(false, true)
}
