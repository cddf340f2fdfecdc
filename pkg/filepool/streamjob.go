package filepool

import (
	"errors"
	"io"
	"path/filepath"

	"go.uber.org/zap"
)

// runStreamJob is StreamJob from SPEC_FULL.md §4.4, executed on one of the
// GlobalRegistry's loader pool goroutines. Grounded step-for-step on
// original_source/src/sfizz/FilePool.cpp's loadingJob/streamFromFile.
func (p *FilePool) runStreamJob(job queuedFileData) {
	id, ok := job.id.Value()
	if !ok {
		return // the caller-owned FileId is gone; nothing to do.
	}
	fd := job.data

	if !fd.waitReadyFor(streamInvalidWaitBudget) {
		p.logger.Warn("stream job gave up waiting for preload to finish",
			zap.String("file", id.Filename), zap.Error(ErrStuckInvalid))
		if p.sink != nil {
			p.sink.Failed(id, ErrStuckInvalid)
		}
		return
	}

	if !fd.casStatus(StatusPendingStreaming, StatusStreaming) {
		return // another worker already picked this up.
	}

	path := filepath.Join(p.rootDirectory, id.Filename)
	reader, err := p.opener.Open(path, id.Reverse)
	if err != nil {
		p.logger.Warn("stream job failed to open sample",
			zap.String("file", id.Filename), zap.Error(err))
		fd.casStatus(StatusStreaming, StatusPendingStreaming)
		return
	}
	defer reader.Close()

	holder := newFileDataHolder(fd)
	defer holder.Release()

	if fd.FileBody() == nil {
		total := fd.information.TotalFrames()
		fd.fileDataBuf.Store(NewFileAudioBuffer(fd.information.NumChannels, int(total)))
	}

	unbounded := p.freeWheeling || !reader.Seekable()
	budget := defaultNumChunksPerDispatch
	if unbounded {
		budget = -1
	}

	exhausted, streamErr := p.streamChunks(fd, reader, budget)
	if streamErr != nil {
		p.logger.Warn("stream job decode error",
			zap.String("file", id.Filename), zap.Error(streamErr))
	}

	if exhausted {
		if fd.casStatus(StatusStreaming, StatusDone) && p.sink != nil {
			p.sink.StreamDone(id, fd.AvailableFrames())
		}
		return
	}

	fd.casStatus(StatusStreaming, StatusPendingStreaming)
	// Re-submit directly to the shared loader pool: the chunk budget was
	// exhausted, not the input, so this same FileData needs another pass.
	// The continuation bypasses filesToLoad and the dispatcher, but it still
	// resolves the same weak FileId first and ends without streaming if the
	// caller's FileId is gone by then.
	requeue := job
	p.jobsWG.Add(1)
	p.registry.submitStreamJob(func() {
		defer p.jobsWG.Done()
		p.runStreamJob(requeue)
	})
}

// streamChunks reads fileChunkSize-frame blocks into fd's file body,
// advancing availableFrames after each one. budget < 0 means unbounded
// (free-wheeling or a non-seekable decoder); otherwise it caps how many
// chunks this single invocation will read, bounding worker occupancy so
// one large file cannot starve others sharing the pool.
func (p *FilePool) streamChunks(fd *FileData, reader Reader, budget int) (exhausted bool, err error) {
	body := fd.FileBody()
	if err := reader.Seek(int64(fd.AvailableFrames())); err != nil {
		return false, err
	}

	chunks := 0
	for budget < 0 || chunks < budget {
		channels, n, readErr := reader.ReadBlock(defaultFileChunkSize)
		if n > 0 {
			offset := fd.AvailableFrames()
			for c := 0; c < body.NumChannels() && c < len(channels); c++ {
				copy(body.Channel(c)[offset:offset+uint64(n)], channels[c])
			}
			fd.availableFrames.Add(uint64(n))
		}
		chunks++
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return true, nil
			}
			return false, readErr
		}
	}
	return false, nil
}
