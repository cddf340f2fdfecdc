package filepool

import (
	"testing"
	"time"
)

func TestFileDataOwnerAccounting(t *testing.T) {
	fd := newFileData(FileInformation{})
	poolA := &FilePool{}
	poolB := &FilePool{}

	fd.AddOwner(poolA)
	if fd.preloadCallCount != 2 {
		t.Fatalf("preloadCallCount after first AddOwner = %d, want 2", fd.preloadCallCount)
	}
	fd.initWith(StatusPreloaded, FileInformation{}, NewFileAudioBuffer(1, 10))

	if added, err := fd.AddSecondaryOwner(poolB); !added {
		t.Fatalf("AddSecondaryOwner(poolB) = false, %v, want true", err)
	}
	if fd.preloadCallCount != 4 {
		t.Fatalf("preloadCallCount after AddSecondaryOwner = %d, want 4", fd.preloadCallCount)
	}

	fd.PrepareForRemovingOwner(poolA)
	if fd.preloadCallCount != 3 {
		t.Fatalf("preloadCallCount after PrepareForRemovingOwner = %d, want 3", fd.preloadCallCount)
	}
	if !fd.CheckAndRemoveOwner(poolA) {
		t.Fatalf("CheckAndRemoveOwner(poolA) = false, want true")
	}
	if fd.preloadCallCount != 2 {
		t.Fatalf("preloadCallCount after CheckAndRemoveOwner = %d, want 2", fd.preloadCallCount)
	}
	if fd.CanRemove() {
		t.Fatalf("CanRemove() = true with poolB still active")
	}

	fd.PrepareForRemovingOwner(poolB)
	fd.CheckAndRemoveOwner(poolB)
	if !fd.CanRemove() {
		t.Fatalf("CanRemove() = false after every owner released")
	}
}

func TestFileDataWaitReadyTimesOutBeforeReady(t *testing.T) {
	fd := newFileData(FileInformation{})
	fd.AddOwner(&FilePool{})
	// never call initWith: the ready wait that AddSecondaryOwner relies on
	// must give up once its timeout expires instead of hanging forever.
	if fd.waitReadyFor(20 * time.Millisecond) {
		t.Fatalf("waitReadyFor returned true before initWith ran")
	}
}

func TestFileDataStatusAutomaton(t *testing.T) {
	fd := newFileData(FileInformation{})
	fd.initWith(StatusPreloaded, FileInformation{End: 99, NumChannels: 1}, NewFileAudioBuffer(1, 10))

	if got := fd.Status(); got != StatusPreloaded {
		t.Fatalf("status after initWith = %v, want Preloaded", got)
	}
	if !fd.casStatus(StatusPreloaded, StatusPendingStreaming) {
		t.Fatalf("Preloaded -> PendingStreaming CAS failed")
	}
	if fd.casStatus(StatusPreloaded, StatusPendingStreaming) {
		t.Fatalf("stale CAS from Preloaded succeeded after the transition already happened")
	}
	if !fd.casStatus(StatusPendingStreaming, StatusStreaming) {
		t.Fatalf("PendingStreaming -> Streaming CAS failed")
	}
	if !fd.casStatus(StatusStreaming, StatusDone) {
		t.Fatalf("Streaming -> Done CAS failed")
	}
}

func TestFileDataReaderCountStampsIdleTime(t *testing.T) {
	fd := newFileData(FileInformation{})
	holder := newFileDataHolder(fd)
	if fd.ReaderCount() != 1 {
		t.Fatalf("ReaderCount after acquire = %d, want 1", fd.ReaderCount())
	}
	holder.Release()
	if fd.ReaderCount() != 0 {
		t.Fatalf("ReaderCount after release = %d, want 0", fd.ReaderCount())
	}
	if fd.idleSince() <= 0 {
		t.Fatalf("idleSince() should be positive once a reader has left")
	}
	holder.Release() // double release must stay harmless
	if fd.ReaderCount() != 0 {
		t.Fatalf("double Release changed ReaderCount to %d", fd.ReaderCount())
	}
}
