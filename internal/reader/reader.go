//go:build linux

// Package reader streams segments off disk purely for their side effect:
// the kernel caches what was read, so later reads through the normal file
// paths are served from RAM.
package reader

import (
	"os"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/dsmmcken/precache/internal/segment"
)

// bufSize is the chunk size for positioned reads.
const bufSize = 512 * 1024

// readSpan reads length bytes from fd starting at off, in bufSize chunks,
// retrying EINTR. It stops at EOF or on the first other error and returns
// the bytes actually read. The data itself is discarded.
func readSpan(fd int, buf []byte, off int64, length uint64) uint64 {
	var total uint64
	for total < length {
		chunk := length - total
		if chunk > uint64(len(buf)) {
			chunk = uint64(len(buf))
		}
		n, err := unix.Pread(fd, buf[:chunk], off)
		if err == unix.EINTR {
			continue
		}
		if err != nil || n == 0 {
			break
		}
		total += uint64(n)
		off += int64(n)
	}
	return total
}

// FileReader reads each segment from its owning file at logical offsets,
// priming the page cache for that file.
type FileReader struct {
	buf []byte
}

// NewFileReader returns a FileReader with its transfer buffer allocated.
func NewFileReader() *FileReader {
	return &FileReader{buf: make([]byte, bufSize)}
}

// ReadSegment reads seg from its file and returns the bytes read. Open or
// read failures abort the segment.
func (r *FileReader) ReadSegment(seg *segment.Segment) uint64 {
	f, err := os.Open(seg.Path)
	if err != nil {
		log.Debugf("reader: open %s: %v", seg.Path, err)
		return 0
	}
	defer f.Close()
	return readSpan(int(f.Fd()), r.buf, int64(seg.FileOffset), seg.Length)
}

// DeviceReader reads segments from the raw block device at their physical
// positions. This stages blocks in the drive in disk order without charging
// them to any file's page cache.
type DeviceReader struct {
	f   *os.File
	buf []byte
}

// OpenDevice opens the block device at path read-only.
func OpenDevice(path string) (*DeviceReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &DeviceReader{f: f, buf: make([]byte, bufSize)}, nil
}

// ReadSegment reads seg at its physical position on the device and returns
// the bytes read.
func (r *DeviceReader) ReadSegment(seg *segment.Segment) uint64 {
	return readSpan(int(r.f.Fd()), r.buf, int64(seg.PhysicalPos), seg.Length)
}

// Close releases the device descriptor.
func (r *DeviceReader) Close() error {
	return r.f.Close()
}
