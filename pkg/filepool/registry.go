package filepool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
	"weak"

	"go.uber.org/zap"
)

// RegistryStats is a snapshot of the global registry's dedup tables, used
// by the admin HTTP surface.
type RegistryStats struct {
	PreloadedCount int
	LoadedCount    int
	QueuedForClear int
}

// RegistryOptions configures a GlobalRegistry.
type RegistryOptions struct {
	FileClearingPeriod time.Duration
	LoaderWorkers      int
	Logger             *zap.Logger
	// Sink, if set, is notified when the collector evicts an idle entry.
	Sink EventSink
}

func (o RegistryOptions) withDefaults() RegistryOptions {
	if o.FileClearingPeriod <= 0 {
		o.FileClearingPeriod = defaultFileClearingPeriod
	}
	if o.LoaderWorkers <= 0 {
		o.LoaderWorkers = defaultLoaderWorkers
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// GlobalRegistry is the process-wide dedup table plus the shared loader
// pool and collector. Grounded on original_source/src/sfizz/FilePool.cpp's
// GlobalObject: a weak-pointer-cached singleton in the original; here
// realized as an explicit value any number of FilePools can share (a
// process typically constructs one via NewGlobalRegistry and passes it to
// every FilePool it creates — see pkg/runtime/runtime.go).
type GlobalRegistry struct {
	opts RegistryOptions

	preloadedFiles sync.Map // FileId -> weak.Pointer[FileData]
	loadedFiles    sync.Map // FileId -> weak.Pointer[FileData]

	loader *loaderPool

	runningRender atomic.Int32
	garbageSig    *postSignal

	closed chan struct{}
	wg     sync.WaitGroup

	lastPassMu sync.Mutex
	lastPass   time.Time
}

// NewGlobalRegistry starts the loader pool and collector goroutine.
func NewGlobalRegistry(opts RegistryOptions) *GlobalRegistry {
	opts = opts.withDefaults()
	r := &GlobalRegistry{
		opts:       opts,
		loader:     newLoaderPool(opts.LoaderWorkers),
		garbageSig: newPostSignal(),
		closed:     make(chan struct{}),
	}
	r.wg.Add(1)
	go r.garbageJob()
	return r
}

// Close stops the collector and the loader pool, waiting for in-flight
// jobs to finish.
func (r *GlobalRegistry) Close() {
	close(r.closed)
	r.garbageSig.Post() // wake the collector immediately
	r.wg.Wait()
	r.loader.Close()
}

// StartRender / StopRender gate the collector away from real-time
// rendering, matching the distilled spec's runningRender counter.
func (r *GlobalRegistry) StartRender() { r.runningRender.Add(1) }

func (r *GlobalRegistry) StopRender() {
	if r.runningRender.Add(-1) == 0 {
		r.garbageSig.Post()
	}
}

// Stats reports table sizes for the admin API.
func (r *GlobalRegistry) Stats() RegistryStats {
	var s RegistryStats
	r.preloadedFiles.Range(func(_, value any) bool {
		s.PreloadedCount++
		if fd := value.(weak.Pointer[FileData]).Value(); fd != nil && fd.ReaderCount() == 0 &&
			fd.AvailableFrames() > 0 && fd.idleSince() >= r.opts.FileClearingPeriod {
			s.QueuedForClear++
		}
		return true
	})
	r.loadedFiles.Range(func(_, _ any) bool { s.LoadedCount++; return true })
	return s
}

// loadOrCreatePreloaded resolves id's shared FileData, creating a fresh
// Invalid placeholder and registering it if no live entry exists. created
// is true when the caller (a FilePool's preloadFile) must do the actual
// decode + initWith + addOwner sequence.
func (r *GlobalRegistry) loadOrCreatePreloaded(id FileId) (fd *FileData, created bool) {
	return loadOrCreate(&r.preloadedFiles, id)
}

func (r *GlobalRegistry) loadOrCreateLoaded(id FileId) (fd *FileData, created bool) {
	return loadOrCreate(&r.loadedFiles, id)
}

func loadOrCreate(table *sync.Map, id FileId) (*FileData, bool) {
	for {
		if v, ok := table.Load(id); ok {
			if existing := v.(weak.Pointer[FileData]).Value(); existing != nil {
				return existing, false
			}
			placeholder := newFileData(FileInformation{})
			if table.CompareAndSwap(id, v, weak.Make(placeholder)) {
				return placeholder, true
			}
			continue
		}
		placeholder := newFileData(FileInformation{})
		actual, loaded := table.LoadOrStore(id, weak.Make(placeholder))
		if !loaded {
			return placeholder, true
		}
		if existing := actual.(weak.Pointer[FileData]).Value(); existing != nil {
			return existing, false
		}
		// Stale entry raced in between Load and LoadOrStore; retry.
	}
}

// submitStreamJob hands a job closure to the shared loader pool. Called
// only from FilePool dispatcher goroutines, never the render thread.
func (r *GlobalRegistry) submitStreamJob(job func()) {
	r.loader.Submit(job)
}

// garbageJob is the collector: see SPEC_FULL.md §4.2 for the per-step
// grounding of each replacement relative to FilePool.cpp's garbageJob.
func (r *GlobalRegistry) garbageJob() {
	defer r.wg.Done()
	for {
		ctx, cancel := context.WithTimeout(context.Background(), r.opts.FileClearingPeriod)
		_ = r.garbageSig.Wait(ctx)
		cancel()

		select {
		case <-r.closed:
			return
		default:
		}

		if r.runningRender.Load() != 0 {
			continue
		}

		r.lastPassMu.Lock()
		elapsed := time.Since(r.lastPass)
		if elapsed < r.opts.FileClearingPeriod {
			r.lastPassMu.Unlock()
			continue
		}
		r.lastPass = time.Now()
		r.lastPassMu.Unlock()

		r.sweepPreloaded()
		r.sweepLoaded()
	}
}

func (r *GlobalRegistry) sweepPreloaded() {
	r.preloadedFiles.Range(func(key, value any) bool {
		id := key.(FileId)
		wp := value.(weak.Pointer[FileData])
		fd := wp.Value()
		if fd == nil {
			r.preloadedFiles.CompareAndDelete(id, value)
			return true
		}
		if fd.CanRemove() {
			r.preloadedFiles.CompareAndDelete(id, value)
			return true
		}
		if fd.AvailableFrames() == 0 || fd.ReaderCount() != 0 {
			return true
		}
		switch fd.Status() {
		case StatusInvalid, StatusStreaming:
			return true
		}
		if fd.idleSince() < r.opts.FileClearingPeriod {
			return true
		}
		if !fd.garbageMu.TryLock() {
			return true
		}
		if fd.ReaderCount() == 0 {
			// Mirrors FilePool.cpp's garbageJob: any non-FullLoaded entry
			// gets its status reset to Preloaded, but only if the CAS from
			// its currently-observed status succeeds — otherwise it raced
			// against a new owner (e.g. back into PendingStreaming) between
			// the checks above and here, and zeroing the body now would
			// strand that entry in an inconsistent state.
			current := fd.Status()
			if current != StatusFullLoaded && fd.status.CompareAndSwap(int32(current), int32(StatusPreloaded)) {
				fd.availableFrames.Store(0)
				fd.fileDataBuf.Store(nil)
				if current == StatusDone && r.opts.Sink != nil {
					r.opts.Sink.Evicted(id)
				}
			}
		}
		fd.garbageMu.Unlock()
		return true
	})
}

// ForceCollect runs one collector pass synchronously, bypassing the periodic
// timer. Exposed for the admin HTTP surface's debug endpoint and for tests.
func (r *GlobalRegistry) ForceCollect() {
	r.sweepPreloaded()
	r.sweepLoaded()
}

func (r *GlobalRegistry) sweepLoaded() {
	r.loadedFiles.Range(func(key, value any) bool {
		fd := value.(weak.Pointer[FileData]).Value()
		if fd == nil || fd.CanRemove() {
			r.loadedFiles.CompareAndDelete(key, value)
		}
		return true
	})
}

// loaderPool is a fixed-size goroutine pool draining a buffered channel of
// job closures — the idiomatic Go realization of the "thread pool"
// collaborator the distilled spec treats as external (see DESIGN.md).
type loaderPool struct {
	jobs chan func()
	wg   sync.WaitGroup
}

func newLoaderPool(workers int) *loaderPool {
	if workers <= 0 {
		workers = 1
	}
	lp := &loaderPool{jobs: make(chan func(), workers*4)}
	lp.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go lp.worker()
	}
	return lp
}

func (lp *loaderPool) worker() {
	defer lp.wg.Done()
	for job := range lp.jobs {
		job()
	}
}

func (lp *loaderPool) Submit(job func()) {
	lp.jobs <- job
}

func (lp *loaderPool) Close() {
	close(lp.jobs)
	lp.wg.Wait()
}
