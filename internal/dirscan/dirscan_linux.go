//go:build linux

// Package dirscan lists directories through getdents64, exposing the inode
// number of every entry, which os.ReadDir hides.
package dirscan

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

// direntBufSize holds a batch of linux_dirent64 records per getdents call.
const direntBufSize = 64 * 1024

// linux_dirent64 header layout: d_ino (8), d_off (8), d_reclen (2),
// d_type (1), then the NUL-terminated name.
const direntNameOff = 19

// Scan calls fn with the inode number and name of every entry of dir,
// excluding "." and "..". Entries with a zero inode (deleted but not yet
// reclaimed) are skipped.
func Scan(dir string, fn func(ino uint64, name string)) error {
	fd, err := unix.Open(dir, unix.O_RDONLY|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("opening %s: %w", dir, err)
	}
	defer unix.Close(fd)

	buf := make([]byte, direntBufSize)
	for {
		n, err := unix.Getdents(fd, buf)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("getdents %s: %w", dir, err)
		}
		if n == 0 {
			return nil
		}
		for off := 0; off < n; {
			rec := buf[off:n]
			if len(rec) < direntNameOff {
				return fmt.Errorf("getdents %s: truncated record", dir)
			}
			ino := binary.NativeEndian.Uint64(rec[0:8])
			reclen := int(binary.NativeEndian.Uint16(rec[16:18]))
			if reclen < direntNameOff || reclen > len(rec) {
				return fmt.Errorf("getdents %s: bad record length %d", dir, reclen)
			}
			name := cstring(rec[direntNameOff:reclen])
			off += reclen

			if ino == 0 || name == "." || name == ".." || name == "" {
				continue
			}
			fn(ino, name)
		}
	}
}

// cstring returns the bytes of b up to the first NUL as a string.
func cstring(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
