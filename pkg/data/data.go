package data

import "fmt"

// Data is a growable byte region. The visible window [start, end) lies
// inside the full allocation; bytes outside the window are reserved room
// for headers of wrapping store layers.
type Data struct {
	buf   []byte
	start int
	end   int
}

// New allocates a zeroed Data of the given size with no reservations.
func New(size int) *Data {
	return Allocate(size, 0, 0)
}

// Allocate allocates a zeroed Data of the given size with reserved prefix
// and suffix capacity for later GrowRegion calls.
func Allocate(size, prefixCapacity, suffixCapacity int) *Data {
	if size < 0 || prefixCapacity < 0 || suffixCapacity < 0 {
		panic(fmt.Sprintf("data.Allocate: negative argument (size=%d prefix=%d suffix=%d)", size, prefixCapacity, suffixCapacity))
	}
	return &Data{
		buf:   make([]byte, prefixCapacity+size+suffixCapacity),
		start: prefixCapacity,
		end:   prefixCapacity + size,
	}
}

// FromBytes copies b into a fresh Data with no reservations.
func FromBytes(b []byte) *Data {
	d := New(len(b))
	copy(d.Bytes(), b)
	return d
}

// Len returns the length of the visible region.
func (d *Data) Len() int {
	return d.end - d.start
}

// Bytes returns the visible region. The slice aliases the underlying
// allocation; writes through it mutate the Data.
func (d *Data) Bytes() []byte {
	return d.buf[d.start:d.end]
}

// AvailablePrefixBytes returns how many reserved bytes precede the
// visible region.
func (d *Data) AvailablePrefixBytes() int {
	return d.start
}

// AvailableSuffixBytes returns how many reserved bytes follow the
// visible region.
func (d *Data) AvailableSuffixBytes() int {
	return len(d.buf) - d.end
}

// ShrinkToSubregion narrows the visible region to [start, end), given
// relative to the current region. The bytes shrunk away stay reserved and
// can be reclaimed with GrowRegion. Panics if the range is out of bounds.
func (d *Data) ShrinkToSubregion(start, end int) {
	if start < 0 || end < start || end > d.Len() {
		panic(fmt.Sprintf("data.ShrinkToSubregion: range [%d, %d) out of bounds for region of length %d", start, end, d.Len()))
	}
	newStart := d.start + start
	d.end = d.start + end
	d.start = newStart
}

// GrowRegion widens the visible region by prefixBytes to the front and
// suffixBytes to the back, into previously reserved capacity. Fails if the
// reservation is too small; the Data is unchanged on failure.
func (d *Data) GrowRegion(prefixBytes, suffixBytes int) error {
	if prefixBytes < 0 || suffixBytes < 0 {
		panic(fmt.Sprintf("data.GrowRegion: negative argument (prefix=%d suffix=%d)", prefixBytes, suffixBytes))
	}
	if prefixBytes > d.AvailablePrefixBytes() || suffixBytes > d.AvailableSuffixBytes() {
		return fmt.Errorf("cannot grow region by (%d, %d): only (%d, %d) bytes reserved",
			prefixBytes, suffixBytes, d.AvailablePrefixBytes(), d.AvailableSuffixBytes())
	}
	d.start -= prefixBytes
	d.end += suffixBytes
	return nil
}

// Resize changes the visible region to newLen bytes. Shrinking drops
// trailing bytes but keeps them reserved. Growing first consumes reserved
// suffix capacity and only reallocates when that is exhausted; new bytes
// are zero.
func (d *Data) Resize(newLen int) {
	if newLen < 0 {
		panic(fmt.Sprintf("data.Resize: negative length %d", newLen))
	}
	switch {
	case newLen <= d.Len():
		d.end = d.start + newLen
	case newLen <= d.Len()+d.AvailableSuffixBytes():
		grown := d.buf[d.end : d.start+newLen]
		for i := range grown {
			grown[i] = 0
		}
		d.end = d.start + newLen
	default:
		buf := make([]byte, d.start+newLen)
		copy(buf[d.start:], d.Bytes())
		d.buf = buf
		d.end = d.start + newLen
	}
}

// Copy returns a deep copy. Reserved capacity is preserved so the copy can
// grow the same way the original could.
func (d *Data) Copy() *Data {
	c := &Data{
		buf:   make([]byte, len(d.buf)),
		start: d.start,
		end:   d.end,
	}
	copy(c.buf, d.buf)
	return c
}
