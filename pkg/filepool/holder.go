package filepool

// FileDataHolder is a scoped reference to a FileData: acquiring one keeps
// the buffer alive (and readerCount above zero) for as long as the render
// callback that holds it needs. It is returned by value on purpose — a
// pointer-returning constructor forces the holder onto the heap on every
// GetPromise call, which is exactly the allocation the render-thread
// lookup path is meant to avoid. Go has no destructors, so callers must
// defer Release (or Close, for io.Closer-friendly call sites) on every exit
// path; Release takes a pointer receiver and nils out data so a second
// call (or a double defer) is harmless.
//
// A holder is single-owner: don't assign it to more than one variable that
// each independently call Release. Call Clone to create an independent
// reader-count unit for a second owner instead (the direct analogue of
// copying a C++ shared_ptr-backed RAII guard).
type FileDataHolder struct {
	data *FileData
}

func newFileDataHolder(fd *FileData) FileDataHolder {
	fd.acquireReader()
	return FileDataHolder{data: fd}
}

// Data returns the underlying FileData. Valid only while the holder itself
// has not been released.
func (h *FileDataHolder) Data() *FileData { return h.data }

// Clone acquires a second, independent reader-count unit over the same
// FileData.
func (h *FileDataHolder) Clone() FileDataHolder {
	return newFileDataHolder(h.data)
}

// Release decrements readerCount at most once, no matter how many times it
// is called on the same holder.
func (h *FileDataHolder) Release() {
	if h.data == nil {
		return
	}
	h.data.releaseReader()
	h.data = nil
}

// Close is Release under the io.Closer name, for defer-friendly call sites.
func (h *FileDataHolder) Close() error {
	h.Release()
	return nil
}
