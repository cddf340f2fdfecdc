package filepool

import (
	"runtime"
	"testing"
	"time"
)

func newTestRegistry(t *testing.T, opts RegistryOptions) *GlobalRegistry {
	t.Helper()
	r := NewGlobalRegistry(opts)
	t.Cleanup(r.Close)
	return r
}

func TestPreloadFileSharing(t *testing.T) {
	registry := newTestRegistry(t, RegistryOptions{})
	opener := newFakeOpener()
	opener.add("loop.wav", 2, 4096)

	poolA := newTestPool(registry, opener)
	defer poolA.Close()
	poolB := newTestPool(registry, opener)
	defer poolB.Close()

	id := FileId{Filename: "loop.wav"}
	if !poolA.PreloadFile(id, 0) {
		t.Fatalf("poolA.PreloadFile failed")
	}
	if !poolB.PreloadFile(id, 0) {
		t.Fatalf("poolB.PreloadFile failed")
	}

	if got := poolA.GetActualNumPreloadedSamples(); got != 1 {
		t.Fatalf("poolA local preloaded = %d, want 1", got)
	}
	if got := poolB.GetActualNumPreloadedSamples(); got != 1 {
		t.Fatalf("poolB local preloaded = %d, want 1", got)
	}
	if got := poolA.GetGlobalNumPreloadedSamples(); got != 1 {
		t.Fatalf("global preloaded = %d, want 1", got)
	}
	if opener.openCount() != 1 {
		t.Fatalf("decoder opened %d times, want exactly 1 (dedup failed)", opener.openCount())
	}
}

func TestPreloadFileSwapKeepsSharedBuffer(t *testing.T) {
	registry := newTestRegistry(t, RegistryOptions{})
	opener := newFakeOpener()
	opener.add("loop.wav", 1, 2048)

	pool := newTestPool(registry, opener)
	defer pool.Close()

	id := FileId{Filename: "loop.wav"}
	if !pool.PreloadFile(id, 0) {
		t.Fatalf("initial PreloadFile failed")
	}

	// Swap: reload the same instrument. resetPreloadCallCounts marks the
	// entry inactive; re-preloading the same id before the sweep flips it
	// back active, so removeUnusedPreloadedData must not drop it.
	pool.ResetPreloadCallCounts()
	if !pool.PreloadFile(id, 0) {
		t.Fatalf("re-PreloadFile during swap failed")
	}
	pool.RemoveUnusedPreloadedData()

	if got := pool.GetActualNumPreloadedSamples(); got != 1 {
		t.Fatalf("preloaded count after swap = %d, want 1 (file was dropped)", got)
	}
}

func TestReleaseCascade(t *testing.T) {
	registry := newTestRegistry(t, RegistryOptions{})
	opener := newFakeOpener()
	opener.add("loop.wav", 1, 1024)

	poolA := newTestPool(registry, opener)
	poolB := newTestPool(registry, opener)
	defer poolB.Close()

	id := FileId{Filename: "loop.wav"}
	if !poolA.PreloadFile(id, 0) {
		t.Fatalf("poolA.PreloadFile failed")
	}
	if !poolB.PreloadFile(id, 0) {
		t.Fatalf("poolB.PreloadFile failed")
	}

	poolA.Close() // equivalent to reloading an empty instrument / destroying poolA
	if got := poolA.GetActualNumPreloadedSamples(); got != 0 {
		t.Fatalf("poolA local count after Close = %d, want 0", got)
	}
	// The entry leaves the global table only once the collector sweeps it;
	// invoke the sweep directly instead of waiting on its periodic timer.
	registry.sweepPreloaded()
	if got := poolA.GetGlobalNumPreloadedSamples(); got != 1 {
		t.Fatalf("global count after poolA alone released = %d, want 1 (poolB still owns it)", got)
	}

	poolB.Close()
	registry.sweepPreloaded()
	if got := poolB.GetGlobalNumPreloadedSamples(); got != 0 {
		t.Fatalf("global count after every pool released = %d, want 0", got)
	}
}

func TestStreamingUnderBudgetReachesDone(t *testing.T) {
	registry := newTestRegistry(t, RegistryOptions{LoaderWorkers: 1})
	opener := newFakeOpener()
	totalFrames := 10 * defaultFileChunkSize
	opener.add("long.wav", 1, totalFrames)

	pool := newTestPool(registry, opener)
	defer pool.Close()

	id := FileId{Filename: "long.wav"}
	if !pool.PreloadFile(id, 0) {
		t.Fatalf("PreloadFile failed")
	}

	holder, ok := pool.GetPromise(&id)
	if !ok {
		t.Fatalf("GetPromise returned false")
	}
	defer holder.Release()

	pool.WaitForBackgroundLoading()

	fd := holder.Data()
	deadline := time.Now().Add(2 * time.Second)
	for fd.Status() != StatusDone && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
		pool.WaitForBackgroundLoading()
	}
	// GetPromise only weak-references id; keep it reachable until every
	// re-queued continuation of the stream job has had a chance to resolve it.
	runtime.KeepAlive(&id)

	if got := fd.Status(); got != StatusDone {
		t.Fatalf("status after streaming = %v, want Done", got)
	}
	if got := fd.AvailableFrames(); got != uint64(totalFrames) {
		t.Fatalf("availableFrames = %d, want %d", got, totalFrames)
	}
}

func TestCollectorEvictsIdleFileData(t *testing.T) {
	registry := newTestRegistry(t, RegistryOptions{
		FileClearingPeriod: 20 * time.Millisecond,
		LoaderWorkers:      1,
	})
	opener := newFakeOpener()
	totalFrames := 3 * defaultFileChunkSize
	opener.add("idle.wav", 1, totalFrames)

	pool := newTestPool(registry, opener)
	defer pool.Close()

	id := FileId{Filename: "idle.wav"}
	pool.PreloadFile(id, 0)
	holder, _ := pool.GetPromise(&id)
	pool.WaitForBackgroundLoading()

	fd := holder.Data()
	deadline := time.Now().Add(2 * time.Second)
	for fd.Status() != StatusDone && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	runtime.KeepAlive(&id)
	holder.Release() // readerCount -> 0, stamps lastViewerLeftAt

	// Back-date lastViewerLeftAt so the sweep sees it as idle past the
	// clearing period without sleeping in the test.
	fd.lastViewerLeftAt.Store(time.Now().Add(-time.Hour).UnixNano())

	registry.sweepPreloaded()

	if got := fd.Status(); got != StatusPreloaded {
		t.Fatalf("status after sweep = %v, want Preloaded", got)
	}
	if got := fd.AvailableFrames(); got != 0 {
		t.Fatalf("availableFrames after sweep = %d, want 0", got)
	}

	// A subsequent promise restarts streaming from scratch and reaches Done
	// again, proving the evicted entry is fully reusable rather than stuck.
	holder2, ok := pool.GetPromise(&id)
	if !ok {
		t.Fatalf("GetPromise after eviction returned false")
	}
	defer holder2.Release()

	deadline = time.Now().Add(2 * time.Second)
	for fd.Status() != StatusDone && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
		pool.WaitForBackgroundLoading()
	}
	runtime.KeepAlive(&id)
	if got := fd.Status(); got != StatusDone {
		t.Fatalf("status after re-streaming = %v, want Done", got)
	}
	if got := fd.AvailableFrames(); got != uint64(totalFrames) {
		t.Fatalf("availableFrames after re-streaming = %d, want %d", got, totalFrames)
	}
}

func TestGetPromiseAlwaysReturnsAHolderOncePreloaded(t *testing.T) {
	registry := newTestRegistry(t, RegistryOptions{})
	opener := newFakeOpener()
	opener.add("a.wav", 1, 4*defaultFileChunkSize)
	opener.add("b.wav", 1, 4*defaultFileChunkSize)

	pool := NewFilePool(PoolOptions{
		RootDirectory: "/samples",
		Registry:      registry,
		Opener:        opener,
		QueueCapacity: 1,
	})
	defer pool.Close()

	idA := FileId{Filename: "a.wav"}
	idB := FileId{Filename: "b.wav"}
	pool.PreloadFile(idA, 0)
	pool.PreloadFile(idB, 0)

	// With QueueCapacity 1, the second GetPromise may race the dispatcher
	// and find the queue full; either way GetPromise must never block and
	// must always hand back a valid holder backed by the preloaded prefix.
	h1, ok1 := pool.GetPromise(&idA)
	h2, ok2 := pool.GetPromise(&idB)
	if !ok1 || !ok2 {
		t.Fatalf("GetPromise returned false; should always succeed once preloaded")
	}
	h1.Release()
	h2.Release()
	pool.WaitForBackgroundLoading()
	runtime.KeepAlive(&idA)
	runtime.KeepAlive(&idB)
}
