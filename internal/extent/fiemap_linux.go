//go:build linux

// Package extent queries the filesystem extent map of a file and turns it
// into segments carrying the physical on-disk position of each run.
package extent

import (
	"os"
	"unsafe"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/dsmmcken/precache/internal/segment"
)

// FIEMAP constants from linux/fiemap.h and linux/fs.h.
const (
	// fsIOCFIEMAP: _IOWR('f', 11, struct fiemap) where sizeof = 32.
	// x/sys/unix does not carry the FIEMAP ioctl.
	fsIOCFIEMAP = 0xc020660b

	// fiemapExtentLast marks the final extent of the file.
	fiemapExtentLast = 0x1

	// fiemapMaxOffset asks the kernel to map to end of file.
	fiemapMaxOffset = ^uint64(0)
)

// extentBatch is the number of extent records requested per ioctl. Files
// fragmented beyond this resume from the last returned logical offset.
const extentBatch = 1000

// fiemapExtent matches struct fiemap_extent from linux/fiemap.h (56 bytes).
type fiemapExtent struct {
	logical    uint64 // file offset of the extent
	physical   uint64 // device offset of the extent
	length     uint64
	reserved64 [2]uint64
	flags      uint32
	reserved   [3]uint32
}

// fiemapReq matches struct fiemap from linux/fiemap.h (32-byte header)
// followed by the inline extent array the kernel fills in.
type fiemapReq struct {
	start         uint64 // byte offset to start mapping from
	length        uint64 // bytes to map
	flags         uint32
	mappedExtents uint32 // output: extents actually returned
	extentCount   uint32 // capacity of the extents array
	reserved      uint32
	extents       [extentBatch]fiemapExtent
}

// Compile-time layout assertions.
var _ [56]byte = [unsafe.Sizeof(fiemapExtent{})]byte{}
var _ [32 + 56*extentBatch]byte = [unsafe.Sizeof(fiemapReq{})]byte{}

// Resolver maps a path that may live on an overlay filesystem to the real
// on-disk file the extent map belongs to.
type Resolver interface {
	Resolve(path string) string
}

// identityResolver is used when no overlay resolution is wanted.
type identityResolver struct{}

func (identityResolver) Resolve(path string) string { return path }

// Query enumerates extents, resolving each path through an overlay resolver
// first.
type Query struct {
	resolver Resolver
}

// NewQuery returns a Query resolving paths through r. A nil r disables
// overlay resolution.
func NewQuery(r Resolver) *Query {
	if r == nil {
		r = identityResolver{}
	}
	return &Query{resolver: r}
}

// Enumerate appends one segment per physical extent of path to pool and
// returns the number appended. Enumeration is best-effort: any failure to
// resolve, open, stat or map the file ends it and whatever was collected
// stands.
func (q *Query) Enumerate(path string, pool *segment.Pool) int {
	resolved := q.resolver.Resolve(path)

	f, err := os.Open(resolved)
	if err != nil {
		log.Debugf("extent: open %s: %v", resolved, err)
		return 0
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		log.Debugf("extent: stat %s: %v", resolved, err)
		return 0
	}
	size := uint64(fi.Size())

	appended := 0
	req := &fiemapReq{}
	for start := uint64(0); start < size; {
		req.start = start
		req.length = fiemapMaxOffset - start
		req.flags = 0
		req.extentCount = extentBatch
		req.mappedExtents = 0

		_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), fsIOCFIEMAP,
			uintptr(unsafe.Pointer(req)))
		if errno != 0 {
			log.Debugf("extent: fiemap %s: %v", resolved, errno)
			return appended
		}
		if req.mappedExtents == 0 {
			break
		}

		last := false
		for i := uint32(0); i < req.mappedExtents; i++ {
			fe := &req.extents[i]
			if fe.flags&fiemapExtentLast != 0 {
				last = true
			}
			start = fe.logical + fe.length

			if fe.logical >= size {
				continue
			}
			length := fe.length
			if fe.logical+length > size {
				length = size - fe.logical
			}
			if length == 0 {
				continue
			}
			pool.Append(segment.Segment{
				Path:        resolved,
				PhysicalPos: fe.physical,
				FileOffset:  fe.logical,
				Length:      length,
			})
			appended++
		}
		if last {
			break
		}
	}
	return appended
}
