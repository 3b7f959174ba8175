//go:build linux

// Package walk precaches a whole directory tree: a level-order walk bounded
// to one filesystem, reading each level's extents in disk order straight
// off the block device.
package walk

import (
	"fmt"

	"github.com/moby/sys/mountinfo"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/dsmmcken/precache/internal/dirscan"
	"github.com/dsmmcken/precache/internal/extent"
	"github.com/dsmmcken/precache/internal/precache"
	"github.com/dsmmcken/precache/internal/reader"
	"github.com/dsmmcken/precache/internal/segment"
)

// GuessDevice picks the block device backing root from the mount table:
// the mount whose mount point shares the longest common byte prefix with
// root, among mounts whose source is an absolute device path.
func GuessDevice(root string) (string, error) {
	mounts, err := mountinfo.GetMounts(nil)
	if err != nil {
		return "", fmt.Errorf("reading mount table: %w", err)
	}

	best := ""
	bestLen := -1
	for _, m := range mounts {
		if len(m.Source) == 0 || m.Source[0] != '/' {
			continue
		}
		if n := commonPrefixLen(m.Mountpoint, root); n > bestLen {
			best = m.Source
			bestLen = n
		}
	}
	if best == "" {
		return "", fmt.Errorf("no device mount matches %s", root)
	}
	return best, nil
}

// commonPrefixLen returns the length of the shared byte prefix of a and b.
func commonPrefixLen(a, b string) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n
}

// Walker precaches directory trees through a raw device reader.
type Walker struct {
	query  *extent.Query
	device *reader.DeviceReader
}

// New returns a Walker reading from the device opened at devicePath.
// Resolution through r applies to every enumerated path; a nil r walks the
// tree as-is.
func New(devicePath string, r extent.Resolver) (*Walker, error) {
	dev, err := reader.OpenDevice(devicePath)
	if err != nil {
		return nil, fmt.Errorf("opening device %s: %w", devicePath, err)
	}
	return &Walker{query: extent.NewQuery(r), device: dev}, nil
}

// Close releases the device.
func (w *Walker) Close() error {
	return w.device.Close()
}

// Precache walks the tree under root in levels. Each level's entries are
// extent-mapped into one pool, sorted, and streamed off the device; then
// the next frontier is built from the subdirectories that live on root's
// filesystem.
func (w *Walker) Precache(root string) (precache.Stats, error) {
	var rootSt unix.Stat_t
	if err := unix.Stat(root, &rootSt); err != nil {
		return precache.Stats{}, fmt.Errorf("stat %s: %w", root, err)
	}

	var (
		stats precache.Stats
		pool  segment.Pool
	)
	frontier := []string{root}
	for level := 0; len(frontier) > 0; level++ {
		pool.Reset()
		for _, dir := range frontier {
			w.enumerateLevel(dir, &pool, &stats)
		}
		pool.Sort()

		segs := pool.Segments()
		for i := range segs {
			stats.BytesRead += w.device.ReadSegment(&segs[i])
		}
		stats.Segments += len(segs)
		log.Debugf("walk: level %d: %d dirs, %d segments", level, len(frontier), len(segs))

		next := make([]string, 0)
		for _, dir := range frontier {
			next = append(next, subdirs(dir, rootSt.Dev)...)
		}
		frontier = next
	}
	return stats, nil
}

// enumerateLevel maps every entry of dir into pool. Extent queries on
// non-regular entries yield nothing and are harmless.
func (w *Walker) enumerateLevel(dir string, pool *segment.Pool, stats *precache.Stats) {
	err := dirscan.Scan(dir, func(_ uint64, name string) {
		if w.query.Enumerate(dir+"/"+name, pool) > 0 {
			stats.FilesQueued++
		}
	})
	if err != nil {
		log.Debugf("walk: %v", err)
	}
}

// subdirs returns the child directories of dir that live on the device dev,
// keeping the walk on a single filesystem.
func subdirs(dir string, dev uint64) []string {
	var out []string
	err := dirscan.Scan(dir, func(_ uint64, name string) {
		path := dir + "/" + name
		var st unix.Stat_t
		if err := unix.Lstat(path, &st); err != nil {
			return
		}
		if st.Mode&unix.S_IFMT == unix.S_IFDIR && st.Dev == dev {
			out = append(out, path)
		}
	})
	if err != nil {
		log.Debugf("walk: %v", err)
	}
	return out
}
