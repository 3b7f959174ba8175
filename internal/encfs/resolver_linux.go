//go:build linux

package encfs

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"

	"github.com/dsmmcken/precache/internal/dirscan"
)

// mount is one front→back mapping discovered from a running encfs process.
type mount struct {
	front          string // overlay mount point
	back           string // backing dir of encrypted files
	pid            int
	pendingRemoval bool
}

// Mount is the read-only view of a mapping handed out to callers.
type Mount struct {
	Front string
	Back  string
	PID   int
}

// Resolver tracks encfs mounts and maps overlay paths to backing paths.
//
// EncFS preserves inode numbers between the overlay and the backing store,
// so a front path is mapped by collecting the inode of each path component
// up to the mount point and then descending from the backing dir, matching
// children by inode at every level.
//
// The resolver itself is not synchronized; the engine serializes access
// with its process-wide mutex, and the CLI drives it from one goroutine.
type Resolver struct {
	mounts []*mount
	inodes map[uint64]string // inode → backing path shortcut

	refreshLimit rate.Sometimes
	procRoot     string
}

// NewResolver returns a Resolver scanning the real /proc.
func NewResolver() *Resolver {
	return newResolverProc("/proc")
}

func newResolverProc(procRoot string) *Resolver {
	return &Resolver{
		inodes:       make(map[uint64]string),
		refreshLimit: rate.Sometimes{Interval: time.Second},
		procRoot:     procRoot,
	}
}

// onFUSE reports whether path sits on a FUSE filesystem. Statfs failures
// count as no: resolution then falls back to the path as given.
func onFUSE(path string) bool {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return false
	}
	return st.Type == unix.FUSE_SUPER_MAGIC
}

// ForceRefresh unconditionally rescans /proc for encfs processes. On scan
// failure the previous mount table is preserved.
func (r *Resolver) ForceRefresh() error {
	entries, err := os.ReadDir(r.procRoot)
	if err != nil {
		return fmt.Errorf("reading %s: %w", r.procRoot, err)
	}

	for _, m := range r.mounts {
		m.pendingRemoval = true
	}

	for _, e := range entries {
		pid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		data, err := os.ReadFile(filepath.Join(r.procRoot, e.Name(), "cmdline"))
		if err != nil {
			continue
		}
		back, front, ok := parseEncfsCmdline(data)
		if !ok {
			continue
		}
		r.upsert(front, back, pid)
	}

	kept := r.mounts[:0]
	for _, m := range r.mounts {
		if m.pendingRemoval {
			log.Debugf("encfs: mount %s gone (pid %d)", m.front, m.pid)
			r.invalidateBack(m.back)
			continue
		}
		kept = append(kept, m)
	}
	r.mounts = kept
	return nil
}

// upsert records a front→back mapping for pid, replacing a stale mapping
// for the same front when the owning process changed.
func (r *Resolver) upsert(front, back string, pid int) {
	for _, m := range r.mounts {
		if m.front != front {
			continue
		}
		if m.pid == pid {
			m.pendingRemoval = false
			return
		}
		r.invalidateBack(m.back)
		m.back = back
		m.pid = pid
		m.pendingRemoval = false
		return
	}
	r.mounts = append(r.mounts, &mount{front: front, back: back, pid: pid})
}

// invalidateBack drops every inode-cache entry under back.
func (r *Resolver) invalidateBack(back string) {
	for ino, path := range r.inodes {
		if pathHasPrefix(path, back) {
			delete(r.inodes, ino)
		}
	}
}

// RefreshIfStale rescans the mount table at most once per second, and not
// at all when probe is not on a FUSE filesystem.
func (r *Resolver) RefreshIfStale(probe string) {
	if !onFUSE(probe) {
		return
	}
	r.refreshLimit.Do(func() {
		if err := r.ForceRefresh(); err != nil {
			log.Debugf("encfs: refresh: %v", err)
		}
	})
}

// Resolve maps src to its backing path. Paths not on FUSE, not under any
// known mount, or failing inode tracing come back unchanged; the caller
// treats those as regular files.
func (r *Resolver) Resolve(src string) string {
	if !onFUSE(src) {
		return src
	}
	r.RefreshIfStale(src)

	for _, m := range r.mounts {
		if !pathHasPrefix(src, m.front) {
			continue
		}
		if p, ok := r.resolveUnder(m, src); ok {
			return p
		}
	}
	return src
}

// resolveUnder maps src through one mount.
func (r *Resolver) resolveUnder(m *mount, src string) (string, bool) {
	var st unix.Stat_t
	if err := unix.Lstat(src, &st); err != nil || st.Mode&unix.S_IFMT != unix.S_IFREG {
		return "", false
	}
	if p, ok := r.inodes[st.Ino]; ok {
		return p, true
	}

	// Inode trace, deepest component first: src itself, then each ancestor
	// up to (but excluding) the mount point.
	trace := []uint64{st.Ino}
	for cur := filepath.Dir(src); cur != m.front; cur = filepath.Dir(cur) {
		var ast unix.Stat_t
		if err := unix.Lstat(cur, &ast); err != nil {
			return "", false
		}
		trace = append(trace, ast.Ino)
		if cur == filepath.Dir(cur) {
			// Hit the filesystem root without meeting the mount point.
			return "", false
		}
	}

	// Head start: descend from the deepest traced ancestor already cached.
	current := m.back
	next := len(trace) - 1
	for i := 0; i < len(trace); i++ {
		if p, ok := r.inodes[trace[i]]; ok {
			current = p
			next = i - 1
			break
		}
	}

	for ; next >= 0; next-- {
		child, ok := r.findChildByInode(current, trace[next])
		if !ok {
			return "", false
		}
		current = child
	}
	return current, true
}

// findChildByInode scans dir for an entry with inode ino, filling the inode
// cache with every listed child along the way.
func (r *Resolver) findChildByInode(dir string, ino uint64) (string, bool) {
	var match string
	err := dirscan.Scan(dir, func(childIno uint64, name string) {
		path := dir + "/" + name
		r.inodes[childIno] = path
		if childIno == ino {
			match = path
		}
	})
	if err != nil {
		log.Debugf("encfs: %v", err)
		return "", false
	}
	if match == "" {
		return "", false
	}
	return match, true
}

// Mounts returns a snapshot of the current front→back table.
func (r *Resolver) Mounts() []Mount {
	out := make([]Mount, 0, len(r.mounts))
	for _, m := range r.mounts {
		out = append(out, Mount{Front: m.front, Back: m.back, PID: m.pid})
	}
	return out
}

// Close drops the mount table and the inode cache.
func (r *Resolver) Close() {
	r.mounts = nil
	r.inodes = make(map[uint64]string)
}
