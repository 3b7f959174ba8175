// Package segment holds the on-disk extent records collected for one
// precache event and orders them by physical position on the device.
package segment

import "sort"

// Segment is one contiguous run of a file on disk.
type Segment struct {
	// Path of the file the segment belongs to. When the file sits behind
	// an EncFS overlay this is the resolved backing path.
	Path string

	// PhysicalPos is the byte offset of the run on the block device.
	PhysicalPos uint64

	// FileOffset is the logical byte offset of the run within the file.
	FileOffset uint64

	// Length in bytes, already clamped so FileOffset+Length never exceeds
	// the file size observed at enumeration time.
	Length uint64
}

// Pool is an append-only collection of segments, built per precache event
// and discarded when the event finishes.
type Pool struct {
	segs []Segment
}

// Append adds s to the pool.
func (p *Pool) Append(s Segment) {
	p.segs = append(p.segs, s)
}

// Len returns the number of segments collected so far.
func (p *Pool) Len() int {
	return len(p.segs)
}

// Sort orders the pool by ascending physical position. The sort is stable;
// segments at equal physical positions keep their insertion order.
func (p *Pool) Sort() {
	sort.SliceStable(p.segs, func(i, j int) bool {
		return p.segs[i].PhysicalPos < p.segs[j].PhysicalPos
	})
}

// Segments returns the pool contents for iteration. The slice is owned by
// the pool and valid until Reset.
func (p *Pool) Segments() []Segment {
	return p.segs
}

// Reset drops all segments so the pool can be reused for the next level or
// event.
func (p *Pool) Reset() {
	p.segs = p.segs[:0]
}
