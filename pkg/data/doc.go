/*
Package data provides the byte buffer used for block payloads.

A Data is a heap-allocated byte region with a visible window into it. Layered
block stores prepend and append headers to payloads; to do that without
copying, a Data can be allocated with reserved prefix and suffix capacity,
shrunk to a subregion, and later grown back into the reserved bytes. Within
the lifetime of a Data no reallocation happens once reservations are set,
except through an explicit Resize.

# Usage

	d := data.Allocate(payloadLen, headerLen, 0)
	fill(d.Bytes())
	if err := d.GrowRegion(headerLen, 0); err != nil { ... }
	copy(d.Bytes()[:headerLen], header)
*/
package data
