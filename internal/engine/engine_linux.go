//go:build linux

// Package engine owns the process-wide precache state behind the
// interposed libc entry points: the EncFS resolver, the per-directory-handle
// detector streams, and the mutex serializing them.
//
// The engine consumes directory and open events; it never performs the
// intercepted operation itself. The interposition glue (or a test harness)
// calls one handler per intercepted call.
package engine

import (
	"path/filepath"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/dsmmcken/precache/internal/config"
	"github.com/dsmmcken/precache/internal/dirscan"
	"github.com/dsmmcken/precache/internal/encfs"
	"github.com/dsmmcken/precache/internal/extent"
	"github.com/dsmmcken/precache/internal/fsm"
	"github.com/dsmmcken/precache/internal/precache"
)

// Handle identifies one open directory stream; the glue passes the DIR*
// pointer value.
type Handle uint64

// dirStream is the per-handle state: the directory name as recorded at
// opendir, the pre-drained entries, the read cursor, and the detector.
//
// The directory is drained completely at opendir time so that when the
// detector fires, the yet-to-be-returned entries are known without
// re-reading the directory.
type dirStream struct {
	name    string
	dirents []string
	cursor  int
	tracker fsm.Tracker
}

// Engine is the process-wide singleton state. All exported methods take the
// engine mutex; I/O (draining, extent enumeration, reading) currently
// happens inside the critical section, which is fine for the single-threaded
// copy tools the detector targets.
type Engine struct {
	mu       sync.Mutex
	resolver *encfs.Resolver
	query    *extent.Query
	dirs     map[Handle]*dirStream
	order    []Handle // insertion order for first-match open attribution

	// runPrecache is swapped out by tests.
	runPrecache func(paths []string) precache.Stats
}

// New constructs an Engine with a fresh resolver.
func New() *Engine {
	r := encfs.NewResolver()
	e := &Engine{
		resolver: r,
		query:    extent.NewQuery(r),
		dirs:     make(map[Handle]*dirStream),
	}
	e.runPrecache = func(paths []string) precache.Stats {
		return precache.New(e.query, config.Resolve()).Precache(paths)
	}
	return e
}

// Opendir records a new directory stream for h and drains the directory
// into its buffer. A drain failure leaves an empty stream; the handle is
// still tracked so the remaining events stay balanced.
func (e *Engine) Opendir(h Handle, path string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	name := filepath.Clean(path)
	s := &dirStream{name: name}
	if err := dirscan.Scan(name, func(_ uint64, entry string) {
		s.dirents = append(s.dirents, entry)
	}); err != nil {
		log.Debugf("engine: draining %s: %v", name, err)
	}

	if _, ok := e.dirs[h]; ok {
		e.dropLocked(h)
	}
	e.dirs[h] = s
	e.order = append(e.order, h)
}

// Readdir serves the next buffered entry of h and feeds the detector. The
// second result is false once the stream (or an unknown handle) is
// exhausted. "." and ".." never appear: the drain excludes them, matching
// their inertness in the detector.
func (e *Engine) Readdir(h Handle) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.dirs[h]
	if !ok || s.cursor >= len(s.dirents) {
		return "", false
	}
	name := s.dirents[s.cursor]
	s.cursor++
	s.tracker.Observe(fsm.Readdir)
	s.tracker.ConsumeDirent()
	return name, true
}

// Rewinddir resets the cursor and the detector for h.
func (e *Engine) Rewinddir(h Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if s, ok := e.dirs[h]; ok {
		s.cursor = 0
		s.tracker.Rewind()
	}
}

// Closedir forgets h.
func (e *Engine) Closedir(h Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dropLocked(h)
}

func (e *Engine) dropLocked(h Handle) {
	delete(e.dirs, h)
	for i, o := range e.order {
		if o == h {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
}

// Open observes an open(2) of path.
func (e *Engine) Open(path string) {
	e.Openat(unix.AT_FDCWD, path)
}

// Openat observes an openat(2). Opens relative to a real directory fd are
// ignored for now; resolving them would need an fd→path mapping.
// TODO: resolve non-AT_FDCWD atfd via /proc/self/fd before matching.
func (e *Engine) Openat(atfd int, path string) {
	if atfd != unix.AT_FDCWD {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Only the first stream (in opendir order) naming this directory is
	// advanced; concurrent identical iteration is unresolved and keeps
	// first-match semantics.
	for _, h := range e.order {
		s := e.dirs[h]
		if !isDirectChild(path, s.name) {
			continue
		}
		if s.tracker.Observe(fsm.Open) {
			e.triggerLocked(s)
		}
		return
	}
}

// triggerLocked precaches the remaining window of s: the entry most
// recently returned by readdir (the one being opened) through the end of
// the buffer.
func (e *Engine) triggerLocked(s *dirStream) {
	pos := s.cursor - 1
	if pos < 0 {
		pos = 0
	}
	rest := s.dirents[pos:]
	paths := make([]string, len(rest))
	for i, entry := range rest {
		paths[i] = s.name + "/" + entry
	}

	log.Debugf("engine: bulk copy detected in %s, precaching %d entries", s.name, len(paths))
	stats := e.runPrecache(paths)
	s.tracker.SetQueued(stats.FilesQueued)
}

// isDirectChild reports whether path names an immediate child of dir.
func isDirectChild(path, dir string) bool {
	prefix := dir
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	rest := path[len(prefix):]
	return rest != "" && !strings.Contains(rest, "/")
}

// Close drains all streams and the resolver state. The interposition
// library calls this from its unload path.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.dirs = make(map[Handle]*dirStream)
	e.order = nil
	e.resolver.Close()
}
