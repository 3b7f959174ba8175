//go:build linux

// Package precache orchestrates one precache event: enumerate extents for a
// set of files, sort them into disk order, and read them to warm the page
// cache.
package precache

import (
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/dsmmcken/precache/internal/config"
	"github.com/dsmmcken/precache/internal/extent"
	"github.com/dsmmcken/precache/internal/reader"
	"github.com/dsmmcken/precache/internal/segment"
)

// Stats summarizes one precache event.
type Stats struct {
	FilesQueued int    `json:"files_queued"`
	Segments    int    `json:"segments"`
	BytesRead   uint64 `json:"bytes_read"`
}

// Driver runs precache events against a shared extent query.
type Driver struct {
	query    *extent.Query
	settings config.Settings
}

// New returns a Driver using the given query and settings.
func New(q *extent.Query, s config.Settings) *Driver {
	return &Driver{query: q, settings: s}
}

// Precache enumerates, sorts and reads the given files. Files are queued in
// order until adding the next one would push the cumulative logical size
// past the byte budget; that file is not queued and iteration halts. The
// budget is checked against file sizes up front so the event never commits
// to reading more than allowed.
func (d *Driver) Precache(paths []string) Stats {
	if d.settings.Sync {
		unix.Sync()
	}

	var (
		pool  segment.Pool
		total int64
		stats Stats
	)
	for _, p := range paths {
		var st unix.Stat_t
		if err := unix.Lstat(p, &st); err != nil {
			log.Debugf("precache: lstat %s: %v", p, err)
			continue
		}
		if total+st.Size > d.settings.Limit {
			log.Debugf("precache: budget reached at %s (%d queued)", p, stats.FilesQueued)
			break
		}
		total += st.Size
		d.query.Enumerate(p, &pool)
		stats.FilesQueued++
	}

	pool.Sort()
	stats.Segments = pool.Len()

	fr := reader.NewFileReader()
	segs := pool.Segments()
	for i := range segs {
		stats.BytesRead += fr.ReadSegment(&segs[i])
	}
	pool.Reset()
	return stats
}
