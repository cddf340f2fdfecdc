package filepool

import (
	"testing"
	"weak"
)

func TestFileLoadQueueTryPushTryPop(t *testing.T) {
	q := newFileLoadQueue(2)
	id := FileId{Filename: "loop.wav"}
	fd := newFileData(FileInformation{})

	if !q.TryPush(queuedFileData{id: weak.Make(&id), data: fd}) {
		t.Fatalf("first TryPush failed on an empty queue")
	}
	if !q.TryPush(queuedFileData{id: weak.Make(&id), data: fd}) {
		t.Fatalf("second TryPush failed before the queue was full")
	}
	if q.TryPush(queuedFileData{id: weak.Make(&id), data: fd}) {
		t.Fatalf("third TryPush succeeded past capacity 2")
	}

	if _, ok := q.TryPop(); !ok {
		t.Fatalf("TryPop failed on a non-empty queue")
	}
	if !q.TryPush(queuedFileData{id: weak.Make(&id), data: fd}) {
		t.Fatalf("TryPush after freeing a slot failed")
	}

	drained := 0
	for {
		if _, ok := q.TryPop(); !ok {
			break
		}
		drained++
	}
	if drained != 2 {
		t.Fatalf("drained %d entries, want 2", drained)
	}
	if _, ok := q.TryPop(); ok {
		t.Fatalf("TryPop succeeded on an empty queue")
	}
}

func TestFileLoadQueueWeakIdExpires(t *testing.T) {
	fd := newFileData(FileInformation{})
	q := newFileLoadQueue(1)

	func() {
		id := FileId{Filename: "transient.wav"}
		q.TryPush(queuedFileData{id: weak.Make(&id), data: fd})
	}()

	entry, ok := q.TryPop()
	if !ok {
		t.Fatalf("TryPop failed unexpectedly")
	}
	// The weak pointer may or may not have been collected yet depending on
	// GC timing; Value() must not panic either way.
	_, _ = entry.id.Value()
}
