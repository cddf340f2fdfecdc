package filepool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
	"weak"

	"go.uber.org/zap"
)

// PoolOptions configures a FilePool.
type PoolOptions struct {
	RootDirectory string
	Registry      *GlobalRegistry
	Opener        Opener
	Preexec       PathPreexecFunc
	Logger        *zap.Logger
	PreloadSize   uint32
	FreeWheeling  bool
	QueueCapacity int
	// Sink, if set, is notified of this pool's preload and streaming
	// completions. Never blocks the synchronous or real-time-safe paths.
	Sink EventSink
}

// PoolStats is a snapshot of one FilePool's dedup counts, used by the
// "Sharing"/"Release cascade" scenarios and the admin HTTP surface.
type PoolStats struct {
	LocalPreloaded  int
	LocalLoaded     int
	GlobalPreloaded int
}

// FilePool is the per-synthesizer facade: preload/load/promise API plus
// the dispatcher that feeds the shared GlobalRegistry's loader pool.
// Grounded on original_source/src/sfizz/FilePool.cpp's sfz::FilePool.
type FilePool struct {
	rootDirectory string
	registry      *GlobalRegistry
	opener        Opener
	preexec       PathPreexecFunc
	logger        *zap.Logger
	freeWheeling  bool
	sink          EventSink

	preloadedFiles sync.Map // FileId -> *FileData (strong, local)
	loadedFiles    sync.Map // FileId -> *FileData (strong, local)

	loadQueue   *fileLoadQueue
	dispatchSig *postSignal

	preloadSize atomic.Uint32
	loadInRam   atomic.Bool

	jobsWG sync.WaitGroup

	dispatcherDone chan struct{}
}

// NewFilePool starts the pool's dispatcher goroutine. opts.Registry must be
// shared with every other FilePool that should dedup against this one.
func NewFilePool(opts PoolOptions) *FilePool {
	if opts.Opener == nil {
		opts.Opener = newExtensionOpener()
	}
	if opts.Preexec == nil {
		opts.Preexec = defaultPathPreexec
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = defaultQueueCapacityPerVoice
	}

	p := &FilePool{
		rootDirectory:  opts.RootDirectory,
		registry:       opts.Registry,
		opener:         opts.Opener,
		preexec:        opts.Preexec,
		logger:         opts.Logger,
		freeWheeling:   opts.FreeWheeling,
		sink:           opts.Sink,
		loadQueue:      newFileLoadQueue(opts.QueueCapacity),
		dispatchSig:    newPostSignal(),
		dispatcherDone: make(chan struct{}),
	}
	p.preloadSize.Store(opts.PreloadSize)
	go p.dispatchLoop()
	return p
}

// Close stops the dispatcher and releases every owner registration this
// pool holds (equivalent to the original's destructor sweeping its owner
// map before tearing down). A second sequential call is a no-op.
func (p *FilePool) Close() {
	select {
	case <-p.dispatcherDone:
		return
	default:
	}
	close(p.dispatcherDone)
	p.dispatchSig.Post()
	p.Clear()
}

// StartRender / StopRender gate the shared collector away from eviction
// work while this pool's render thread is active.
func (p *FilePool) StartRender() { p.registry.StartRender() }
func (p *FilePool) StopRender()  { p.registry.StopRender() }

// WaitForBackgroundLoading blocks until every stream job this pool has
// submitted (including re-queued continuations) has finished.
func (p *FilePool) WaitForBackgroundLoading() { p.jobsWG.Wait() }

func (p *FilePool) localLookup(id FileId) (*FileData, bool) {
	if v, ok := p.loadedFiles.Load(id); ok {
		return v.(*FileData), true
	}
	if v, ok := p.preloadedFiles.Load(id); ok {
		return v.(*FileData), true
	}
	return nil, false
}

// CheckSampleID rewrites id.Filename via the path-resolution collaborator
// if needed and reports whether the sample is resolvable.
func (p *FilePool) CheckSampleID(id *FileId) bool {
	if _, ok := p.localLookup(*id); ok {
		return true
	}
	path := filepath.Join(p.rootDirectory, id.Filename)
	resolved, ok := p.preexec(path)
	if !ok {
		return false
	}
	if resolved != path {
		if rel, err := filepath.Rel(p.rootDirectory, resolved); err == nil {
			id.Filename = rel
		}
	}
	if _, err := os.Stat(resolved); err != nil {
		return false
	}
	return true
}

// GetFileInformation returns decoded metadata, preferring an already-known
// local entry over reopening the decoder.
func (p *FilePool) GetFileInformation(id FileId) (FileInformation, bool) {
	info, err := p.GetFileInformationErr(id)
	return info, err == nil
}

// GetFileInformationErr is GetFileInformation's error-returning sibling, for
// control-plane callers (SPEC_FULL.md §7) that want the reason rather than
// a collapsed bool.
func (p *FilePool) GetFileInformationErr(id FileId) (FileInformation, error) {
	if fd, ok := p.localLookup(id); ok {
		return fd.Information(), nil
	}
	path := filepath.Join(p.rootDirectory, id.Filename)
	resolved, ok := p.preexec(path)
	if !ok {
		return FileInformation{}, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	reader, err := p.opener.Open(resolved, id.Reverse)
	if err != nil {
		return FileInformation{}, err
	}
	defer reader.Close()
	if reader.Channels() != 1 && reader.Channels() != 2 {
		return FileInformation{}, ErrUnsupportedChannels
	}
	if reader.Frames() <= 0 {
		return FileInformation{}, fmt.Errorf("%w: zero frames", ErrDecodeOpen)
	}
	return fileInformationFrom(reader, 0), nil
}

// fileInformationFrom assumes reader.Frames() > 0; callers must reject
// zero-frame files before calling this (End is the last valid frame
// index, so there is no End value that means "zero frames").
func fileInformationFrom(reader Reader, maxOffset uint32) FileInformation {
	frames := reader.Frames()
	if frames <= 0 {
		frames = 1
	}
	info := FileInformation{
		End:         uint32(frames - 1),
		SampleRate:  reader.SampleRate(),
		NumChannels: reader.Channels(),
		MaxOffset:   maxOffset,
	}
	if rk, ok := reader.RootKey(); ok {
		info.RootKey = &rk
	}
	if lp, ok := reader.Loop(); ok {
		info.Loop = &lp
	}
	if wt, ok := reader.Wavetable(); ok {
		info.Wavetable = &wt
	}
	return info
}

// decodeInto synchronously reads up to numFrames frames from reader's
// current position (after seeking to 0) into a freshly allocated buffer.
func decodeInto(reader Reader, numFrames int64) (*FileAudioBuffer, error) {
	if numFrames < 0 {
		numFrames = 0
	}
	if err := reader.Seek(0); err != nil {
		return nil, err
	}
	buf := NewFileAudioBuffer(reader.Channels(), int(numFrames))
	var read int64
	for read < numFrames {
		want := numFrames - read
		if want > defaultFileChunkSize {
			want = defaultFileChunkSize
		}
		channels, n, err := reader.ReadBlock(int(want))
		if n > 0 {
			for c := 0; c < buf.NumChannels() && c < len(channels); c++ {
				copy(buf.Channel(c)[read:read+int64(n)], channels[c])
			}
			read += int64(n)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		if n == 0 {
			break
		}
	}
	return buf, nil
}

// PreloadFile implements SPEC_FULL.md §4.3's three-tier lookup: local
// tables, then the global registry, then a fresh decode.
func (p *FilePool) PreloadFile(id FileId, maxOffset uint32) bool {
	ok, err := p.PreloadFileErr(id, maxOffset)
	if err != nil {
		p.logger.Warn("preload failed", zap.String("file", id.Filename), zap.Error(err))
	}
	return ok
}

// PreloadFileErr is PreloadFile's error-returning sibling (SPEC_FULL.md §7).
func (p *FilePool) PreloadFileErr(id FileId, maxOffset uint32) (bool, error) {
	if fd, ok := p.localLookup(id); ok {
		added, err := fd.AddSecondaryOwner(p)
		if added {
			fd.GrowMaxOffset(maxOffset)
			p.regrowPreload(id, fd)
			return true, nil
		}
		if err != nil {
			return false, err
		}
	}

	fd, created := p.registry.loadOrCreatePreloaded(id)
	if !created {
		added, err := fd.AddSecondaryOwner(p)
		if added {
			p.preloadedFiles.Store(id, fd)
			return true, nil
		}
		if err != nil {
			return false, err
		}
		// The entry we found is being collected right now; retry once,
		// which is race-safe because creation is serialized by the
		// registry's LoadOrStore/CompareAndSwap dance.
		fd, created = p.registry.loadOrCreatePreloaded(id)
		if !created {
			return false, nil
		}
	}

	fd.AddOwner(p)
	return p.finishPreload(id, fd, maxOffset)
}

func (p *FilePool) finishPreload(id FileId, fd *FileData, maxOffset uint32) (bool, error) {
	path := filepath.Join(p.rootDirectory, id.Filename)
	resolved, ok := p.preexec(path)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	reader, err := p.opener.Open(resolved, id.Reverse)
	if err != nil {
		return false, err
	}
	defer reader.Close()
	if reader.Channels() != 1 && reader.Channels() != 2 {
		return false, ErrUnsupportedChannels
	}
	if reader.Frames() <= 0 {
		return false, fmt.Errorf("%w: zero frames", ErrDecodeOpen)
	}

	total := reader.Frames()
	fd.GrowMaxOffset(maxOffset)
	framesToLoad := total
	if !p.loadInRam.Load() {
		want := int64(fd.MaxOffset()) + int64(p.preloadSize.Load())
		if want < framesToLoad {
			framesToLoad = want
		}
	}

	buf, err := decodeInto(reader, framesToLoad)
	if err != nil {
		return false, err
	}

	info := fileInformationFrom(reader, maxOffset)
	status := StatusPreloaded
	if framesToLoad >= total {
		status = StatusFullLoaded
	}
	fd.initWith(status, info, buf)
	p.preloadedFiles.Store(id, fd)
	if p.sink != nil {
		p.sink.Preloaded(id, uint64(framesToLoad))
	}
	return true, nil
}

// regrowPreload re-decodes an already-initialized FileData's prefix, used
// by PreloadFile when a second owner asks for a larger maxOffset and by
// SetPreloadSize/SetRamLoading.
func (p *FilePool) regrowPreload(id FileId, fd *FileData) {
	info := fd.Information()
	total := int64(info.TotalFrames())
	want := int64(fd.MaxOffset()) + int64(p.preloadSize.Load())
	if p.loadInRam.Load() || want > total {
		want = total
	}
	if int64(fd.PreloadedData().NumFrames()) >= want {
		return // already covers the requested offset.
	}

	path := filepath.Join(p.rootDirectory, id.Filename)
	resolved, ok := p.preexec(path)
	if !ok {
		return
	}
	reader, err := p.opener.Open(resolved, id.Reverse)
	if err != nil {
		return
	}
	defer reader.Close()

	buf, err := decodeInto(reader, want)
	if err != nil {
		return
	}
	fd.preloadedData.Store(buf)
	if want >= total {
		fd.status.CompareAndSwap(int32(StatusPreloaded), int32(StatusFullLoaded))
	} else {
		fd.status.CompareAndSwap(int32(StatusFullLoaded), int32(StatusPreloaded))
	}
}

// LoadFile always decodes the entire file, storing it under loadedFiles.
func (p *FilePool) LoadFile(id FileId) (FileDataHolder, bool) {
	if v, ok := p.loadedFiles.Load(id); ok {
		fd := v.(*FileData)
		if added, err := fd.AddSecondaryOwner(p); added {
			return newFileDataHolder(fd), true
		} else if err != nil {
			p.logger.Warn("load failed", zap.String("file", id.Filename), zap.Error(err))
		}
	}

	fd, created := p.registry.loadOrCreateLoaded(id)
	if !created {
		if added, err := fd.AddSecondaryOwner(p); added {
			p.loadedFiles.Store(id, fd)
			return newFileDataHolder(fd), true
		} else if err != nil {
			p.logger.Warn("load failed", zap.String("file", id.Filename), zap.Error(err))
		}
		fd, created = p.registry.loadOrCreateLoaded(id)
		if !created {
			return FileDataHolder{}, false
		}
	}
	fd.AddOwner(p)

	path := filepath.Join(p.rootDirectory, id.Filename)
	resolved, ok := p.preexec(path)
	if !ok {
		return FileDataHolder{}, false
	}
	reader, err := p.opener.Open(resolved, id.Reverse)
	if err != nil {
		return FileDataHolder{}, false
	}
	defer reader.Close()
	if reader.Channels() != 1 && reader.Channels() != 2 {
		return FileDataHolder{}, false
	}
	if reader.Frames() <= 0 {
		return FileDataHolder{}, false
	}

	buf, err := decodeInto(reader, reader.Frames())
	if err != nil {
		return FileDataHolder{}, false
	}
	fd.initWith(StatusFullLoaded, fileInformationFrom(reader, 0), buf)
	p.loadedFiles.Store(id, fd)
	return newFileDataHolder(fd), true
}

// LoadFromRam decodes an in-memory buffer in full, bypassing the path
// resolution hook entirely.
func (p *FilePool) LoadFromRam(id FileId, data []byte) (FileDataHolder, bool) {
	fd, created := p.registry.loadOrCreateLoaded(id)
	if !created {
		if added, err := fd.AddSecondaryOwner(p); added {
			p.loadedFiles.Store(id, fd)
			return newFileDataHolder(fd), true
		} else if err != nil {
			p.logger.Warn("load-from-ram failed", zap.String("file", id.Filename), zap.Error(err))
		}
		fd, created = p.registry.loadOrCreateLoaded(id)
		if !created {
			return FileDataHolder{}, false
		}
	}
	fd.AddOwner(p)

	reader, err := p.opener.OpenMemory(data, id.Reverse)
	if err != nil {
		return FileDataHolder{}, false
	}
	defer reader.Close()
	if reader.Channels() != 1 && reader.Channels() != 2 {
		return FileDataHolder{}, false
	}
	if reader.Frames() <= 0 {
		return FileDataHolder{}, false
	}

	buf, err := decodeInto(reader, reader.Frames())
	if err != nil {
		return FileDataHolder{}, false
	}
	fd.initWith(StatusFullLoaded, fileInformationFrom(reader, 0), buf)
	p.loadedFiles.Store(id, fd)
	return newFileDataHolder(fd), true
}

// GetPromise is the real-time-safe path: only atomic loads/CAS, one
// non-blocking queue push, and one signal post. idRef must outlive the
// call (ownership stays with the caller, e.g. a voice or region); the
// queue only keeps a weak reference to it.
func (p *FilePool) GetPromise(idRef *FileId) (FileDataHolder, bool) {
	if v, ok := p.loadedFiles.Load(*idRef); ok {
		return newFileDataHolder(v.(*FileData)), true
	}
	v, ok := p.preloadedFiles.Load(*idRef)
	if !ok {
		return FileDataHolder{}, false
	}
	fd := v.(*FileData)
	holder := newFileDataHolder(fd)

	if fd.casStatus(StatusPreloaded, StatusPendingStreaming) {
		pushed := p.loadQueue.TryPush(queuedFileData{id: weak.Make(idRef), data: fd})
		if pushed {
			p.dispatchSig.Post()
		} else {
			fd.casStatus(StatusPendingStreaming, StatusPreloaded)
			if p.sink != nil {
				p.sink.Failed(*idRef, ErrQueueFull)
			}
		}
	}
	return holder, true
}

// dispatchLoop is the dispatcher thread from SPEC_FULL.md §4.4: wait on
// the barrier, drain whatever the queue holds, hand live jobs to the
// shared loader pool.
func (p *FilePool) dispatchLoop() {
	for {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		err := p.dispatchSig.Wait(ctx)
		cancel()

		select {
		case <-p.dispatcherDone:
			return
		default:
		}
		if err != nil {
			continue // timed out waiting; loop back and check shutdown again.
		}

		for {
			job, ok := p.loadQueue.TryPop()
			if !ok {
				break
			}
			if _, live := job.id.Value(); !live {
				continue
			}
			if job.data.Status() != StatusPendingStreaming {
				continue
			}
			p.jobsWG.Add(1)
			captured := job
			p.registry.submitStreamJob(func() {
				defer p.jobsWG.Done()
				p.runStreamJob(captured)
			})
		}
	}
}

// SetPreloadSize changes the target prefix length and re-decodes every
// locally-preloaded entry's prefix to cover it. Not real-time safe.
func (p *FilePool) SetPreloadSize(n uint32) {
	p.preloadSize.Store(n)
	p.preloadedFiles.Range(func(key, value any) bool {
		p.regrowPreload(key.(FileId), value.(*FileData))
		return true
	})
}

// GetPreloadSize returns the current target prefix length.
func (p *FilePool) GetPreloadSize() uint32 { return p.preloadSize.Load() }

// SetRamLoading switches between fully-resident and prefix-only modes.
func (p *FilePool) SetRamLoading(flag bool) {
	p.loadInRam.Store(flag)
	if flag {
		p.preloadedFiles.Range(func(key, value any) bool {
			p.regrowPreload(key.(FileId), value.(*FileData))
			return true
		})
		return
	}
	p.SetPreloadSize(p.preloadSize.Load())
}

// ResetPreloadCallCounts is phase 1 of the two-phase release protocol:
// mark every local entry inactive without removing it yet.
func (p *FilePool) ResetPreloadCallCounts() {
	p.preloadedFiles.Range(func(_, value any) bool {
		value.(*FileData).PrepareForRemovingOwner(p)
		return true
	})
}

// RemoveUnusedPreloadedData is phase 2: drop anything still inactive (a
// re-preload pass between the two phases reactivates what's still wanted).
func (p *FilePool) RemoveUnusedPreloadedData() {
	p.preloadedFiles.Range(func(key, value any) bool {
		if value.(*FileData).CheckAndRemoveOwner(p) {
			p.preloadedFiles.Delete(key)
		}
		return true
	})
}

// Clear unconditionally releases every local entry's ownership and empties
// both local tables.
func (p *FilePool) Clear() {
	p.preloadedFiles.Range(func(key, value any) bool {
		fd := value.(*FileData)
		fd.PrepareForRemovingOwner(p)
		fd.CheckAndRemoveOwner(p)
		p.preloadedFiles.Delete(key)
		return true
	})
	p.loadedFiles.Range(func(key, value any) bool {
		fd := value.(*FileData)
		fd.PrepareForRemovingOwner(p)
		fd.CheckAndRemoveOwner(p)
		p.loadedFiles.Delete(key)
		return true
	})
}

// Stats reports local and global dedup counts.
func (p *FilePool) Stats() PoolStats {
	var s PoolStats
	p.preloadedFiles.Range(func(_, _ any) bool { s.LocalPreloaded++; return true })
	p.loadedFiles.Range(func(_, _ any) bool { s.LocalLoaded++; return true })
	s.GlobalPreloaded = p.registry.Stats().PreloadedCount
	return s
}

// GetActualNumPreloadedSamples / GetNumPreloadedSamples / GetGlobalNumPreloadedSamples
// name the exact counters the distilled spec's test scenarios check.
func (p *FilePool) GetActualNumPreloadedSamples() int { return p.Stats().LocalPreloaded }
func (p *FilePool) GetNumPreloadedSamples() int       { return p.GetActualNumPreloadedSamples() }
func (p *FilePool) GetGlobalNumPreloadedSamples() int { return p.Stats().GlobalPreloaded }
