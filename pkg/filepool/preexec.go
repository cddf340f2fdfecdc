package filepool

// PathPreexecFunc optionally rewrites a resolved path before the decoder
// opens it, and may run an arbitrary pre-open action (e.g. warming a local
// cache for a file that lives elsewhere). Returning ok=false aborts the
// open as if the file did not exist.
//
// Grounded on original_source/src/sfizz/FileOpenPreexec.h's HandlerFunction
// collaborator; the default is a pass-through, same as that header's
// default handler.
type PathPreexecFunc func(path string) (resolved string, ok bool)

func defaultPathPreexec(path string) (string, bool) { return path, true }
