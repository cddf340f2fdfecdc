package filepool

import (
	"sync"
	"sync/atomic"
	"time"
)

// Status is a FileData's position in its lifecycle automaton. Transitions
// away from Invalid and through the streaming states are atomic
// compare-and-swaps so the real-time path never takes a lock to move a
// FileData from Preloaded to PendingStreaming.
type Status int32

const (
	StatusInvalid Status = iota
	StatusPreloaded
	StatusFullLoaded
	StatusPendingStreaming
	StatusStreaming
	StatusDone
)

func (s Status) String() string {
	switch s {
	case StatusInvalid:
		return "invalid"
	case StatusPreloaded:
		return "preloaded"
	case StatusFullLoaded:
		return "full-loaded"
	case StatusPendingStreaming:
		return "pending-streaming"
	case StatusStreaming:
		return "streaming"
	case StatusDone:
		return "done"
	default:
		return "unknown"
	}
}

// addSecondaryOwnerTimeout bounds how long a pool waits for a FileData
// created by another pool to finish its synchronous preload.
const addSecondaryOwnerTimeout = 10 * time.Second

// FileData is the cache entry shared across every FilePool that has
// declared interest in a given FileId, the global registry, the collector,
// and any live FileDataHolder. See SPEC_FULL.md §3/§4.1.
type FileData struct {
	information FileInformation

	preloadedData atomic.Pointer[FileAudioBuffer]
	fileDataBuf   atomic.Pointer[FileAudioBuffer]

	availableFrames atomic.Uint64
	maxOffset       atomic.Uint32
	status          atomic.Int32
	readerCount     atomic.Uint32

	readyOnce sync.Once
	readyCh   chan struct{}

	ownerMu          sync.Mutex
	ownerMap         map[*FilePool]bool
	preloadCallCount int

	lastViewerLeftAt atomic.Int64

	garbageMu spinMutex
}

// newFileData allocates an entry in the Invalid state, ready to be
// registered in a dedup table before any decoding happens.
func newFileData(info FileInformation) *FileData {
	fd := &FileData{
		information: info,
		readyCh:     make(chan struct{}),
		ownerMap:    make(map[*FilePool]bool),
	}
	fd.status.Store(int32(StatusInvalid))
	fd.maxOffset.Store(info.MaxOffset)
	return fd
}

// Status returns the current automaton state.
func (fd *FileData) Status() Status { return Status(fd.status.Load()) }

// AvailableFrames returns how many frames of fileData are safe to read.
func (fd *FileData) AvailableFrames() uint64 { return fd.availableFrames.Load() }

// ReaderCount returns the number of live FileDataHolders.
func (fd *FileData) ReaderCount() uint32 { return fd.readerCount.Load() }

// Information returns the immutable decoded metadata.
func (fd *FileData) Information() FileInformation { return fd.information }

// MaxOffset returns the live, possibly-grown preload offset hint.
func (fd *FileData) MaxOffset() uint32 { return fd.maxOffset.Load() }

// GrowMaxOffset raises the live offset hint to at least n, returning the
// resulting value. Safe for concurrent callers: uses CAS, not a plain store,
// since multiple FilePool control goroutines may share this FileData.
func (fd *FileData) GrowMaxOffset(n uint32) uint32 {
	for {
		cur := fd.maxOffset.Load()
		if n <= cur {
			return cur
		}
		if fd.maxOffset.CompareAndSwap(cur, n) {
			return n
		}
	}
}

// PreloadedData returns the current preload buffer pointer. Safe to call
// from the render thread.
func (fd *FileData) PreloadedData() *FileAudioBuffer { return fd.preloadedData.Load() }

// FileBody returns the current streamed buffer pointer (may be nil before
// any streaming has happened, or after collector eviction).
func (fd *FileData) FileBody() *FileAudioBuffer { return fd.fileDataBuf.Load() }

// initWith is FileData's one-shot constructor step: it may only run while
// status == Invalid, stores the decoded metadata and preload buffer, sets
// the terminal preload status, and wakes anyone blocked in
// addSecondaryOwner or a stream job's wait for this entry to leave Invalid.
func (fd *FileData) initWith(status Status, info FileInformation, buf *FileAudioBuffer) {
	fd.information = info
	fd.maxOffset.Store(info.MaxOffset)
	fd.preloadedData.Store(buf)
	fd.status.CompareAndSwap(int32(StatusInvalid), int32(status))
	fd.readyOnce.Do(func() { close(fd.readyCh) })
}

// waitReady blocks up to addSecondaryOwnerTimeout for initWith to run.
func (fd *FileData) waitReady() bool {
	return fd.waitReadyFor(addSecondaryOwnerTimeout)
}

// waitReadyFor blocks up to timeout for initWith to run. Used both by
// addSecondaryOwner (10s budget) and by StreamJob's wait for a freshly
// registered FileData to leave Invalid (a much shorter budget) — see
// SPEC_FULL.md §3's resolution of the spin-wait open question.
func (fd *FileData) waitReadyFor(timeout time.Duration) bool {
	select {
	case <-fd.readyCh:
		return true
	case <-time.After(timeout):
		return false
	}
}

// AddOwner registers pool as wanting this file. Callable only before or
// during initWith; never waits.
func (fd *FileData) AddOwner(pool *FilePool) {
	fd.ownerMu.Lock()
	defer fd.ownerMu.Unlock()
	fd.addOwnerLocked(pool)
}

func (fd *FileData) addOwnerLocked(pool *FilePool) {
	active, exists := fd.ownerMap[pool]
	switch {
	case !exists:
		fd.ownerMap[pool] = true
		fd.preloadCallCount += 2
	case !active:
		fd.ownerMap[pool] = true
		fd.preloadCallCount++
	default:
		// already an active owner; idempotent.
	}
}

// AddSecondaryOwner waits for initWith (up to 10s) then, if the entry is
// still live (preloadCallCount > 0), registers pool and returns true. A
// false return means either the wait timed out (err is ErrTimeout) or the
// entry is being collected (err is nil). PreloadFileErr falls back to
// creating a fresh FileData only in the second case; a timeout is returned
// to its caller.
func (fd *FileData) AddSecondaryOwner(pool *FilePool) (bool, error) {
	if !fd.waitReady() {
		return false, ErrTimeout
	}
	fd.ownerMu.Lock()
	defer fd.ownerMu.Unlock()
	if fd.preloadCallCount == 0 {
		return false, nil
	}
	fd.addOwnerLocked(pool)
	return true, nil
}

// PrepareForRemovingOwner flips an active owner flag to inactive (phase 1
// of the two-phase release protocol).
func (fd *FileData) PrepareForRemovingOwner(pool *FilePool) {
	fd.ownerMu.Lock()
	defer fd.ownerMu.Unlock()
	if active, ok := fd.ownerMap[pool]; ok && active {
		fd.ownerMap[pool] = false
		fd.preloadCallCount--
	}
}

// CheckAndRemoveOwner drops an inactive owner entry entirely (phase 2).
// Returns whether an entry was actually removed.
func (fd *FileData) CheckAndRemoveOwner(pool *FilePool) bool {
	fd.ownerMu.Lock()
	defer fd.ownerMu.Unlock()
	if active, ok := fd.ownerMap[pool]; ok && !active {
		delete(fd.ownerMap, pool)
		fd.preloadCallCount--
		return true
	}
	return false
}

// CanRemove reports whether no pool wants this file anymore.
func (fd *FileData) CanRemove() bool {
	fd.ownerMu.Lock()
	defer fd.ownerMu.Unlock()
	return fd.preloadCallCount == 0
}

// acquireReader increments readerCount; pairs with releaseReader.
func (fd *FileData) acquireReader() {
	fd.readerCount.Add(1)
}

// releaseReader decrements readerCount, stamping lastViewerLeftAt when it
// reaches zero.
func (fd *FileData) releaseReader() {
	if fd.readerCount.Add(^uint32(0)) == 0 {
		fd.lastViewerLeftAt.Store(time.Now().UnixNano())
	}
}

// idleSince reports how long it has been since readerCount last reached
// zero. A FileData that has never had a reader leave (ts == 0) is treated
// as maximally idle, since "never viewed" is at least as collectible as
// "viewed a while ago."
func (fd *FileData) idleSince() time.Duration {
	ts := fd.lastViewerLeftAt.Load()
	if ts == 0 {
		return time.Duration(1<<62 - 1)
	}
	return time.Since(time.Unix(0, ts))
}

// casStatus performs the CAS transitions the automaton allows off the
// collector path.
func (fd *FileData) casStatus(from, to Status) bool {
	return fd.status.CompareAndSwap(int32(from), int32(to))
}
