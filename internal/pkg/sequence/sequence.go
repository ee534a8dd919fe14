// Package sequence implements the 16-bit wraparound message IDs used to
// order and deduplicate the chat and entity event streams.
package sequence

// ID is a wrapping 16-bit stream identifier. The zero value is reserved to
// mean "nothing sent/applied yet"; live IDs start at 1.
type ID uint16

// MoreRecent reports whether b was generated after a, accounting for
// wraparound: b is more recent than a iff (b - a) mod 65536 falls in
// (0, 32768).
func MoreRecent(b, a ID) bool {
	d := uint16(b - a)
	return d != 0 && d < 0x8000
}

// Advances reports whether b moves a stream position currently at a
// forward. The reserved zero position is the "nothing yet" baseline that
// every live ID advances past; MoreRecent alone mishandles that baseline
// for IDs in the upper half of the ring.
func Advances(b, a ID) bool {
	if b == 0 {
		return false
	}
	return a == 0 || MoreRecent(b, a)
}

// Counter hands out consecutive IDs for one stream.
type Counter struct {
	last ID
}

// Next advances the counter and returns the new ID, skipping the reserved
// zero value on wraparound.
func (c *Counter) Next() ID {
	c.last++
	if c.last == 0 {
		c.last = 1
	}
	return c.last
}

// Last returns the most recently issued ID, or 0 if none has been issued.
func (c *Counter) Last() ID { return c.last }

// Reset rewinds the counter to the unissued state.
func (c *Counter) Reset() { c.last = 0 }
