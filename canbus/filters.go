package canbus

// FrameFilter decides whether a frame should be delivered to a subscriber.
type FrameFilter func(Frame) bool

// Filter is an identifier/mask acceptance filter as programmed into a CAN
// controller. A frame matches when (frame.ID & Mask) == (ID & Mask) and its
// identifier type equals Extended. RTR frames never match.
type Filter struct {
	ID       uint32
	Mask     uint32
	Extended bool
}

// Validate checks that ID and Mask fit the identifier width.
func (f Filter) Validate() error {
	limit := uint32(StdIDMask)
	if f.Extended {
		limit = ExtIDMask
	}
	if f.ID > limit || f.Mask > limit {
		return ErrInvalidID
	}
	return nil
}

// Match reports whether the frame passes the acceptance filter.
func (f Filter) Match(fr Frame) bool {
	return fr.Extended == f.Extended && !fr.RTR && (fr.ID&f.Mask) == (f.ID&f.Mask)
}

// FrameFilter converts the acceptance filter into a predicate.
func (f Filter) FrameFilter() FrameFilter {
	return f.Match
}

// Typed and composable helpers for FrameFilter.

// ByID returns a filter that matches frames with the exact identifier.
func ByID(id uint32) FrameFilter {
	return func(f Frame) bool { return f.ID == id }
}

// ByRange matches frames whose ID is within [minID, maxID], inclusive.
func ByRange(minID, maxID uint32) FrameFilter {
	if maxID < minID {
		minID, maxID = maxID, minID
	}
	return func(f Frame) bool { return f.ID >= minID && f.ID <= maxID }
}

// ByMask matches when (frame.ID & mask) == (id & mask).
func ByMask(id uint32, mask uint32) FrameFilter {
	want := id & mask
	return func(f Frame) bool { return (f.ID & mask) == want }
}

// StandardOnly matches standard (11-bit) identifiers.
func StandardOnly() FrameFilter {
	return func(f Frame) bool { return !f.Extended }
}

// DataOnly matches non-RTR frames.
func DataOnly() FrameFilter {
	return func(f Frame) bool { return !f.RTR }
}

// LenAtLeast matches frames carrying at least n data bytes.
func LenAtLeast(n uint8) FrameFilter {
	return func(f Frame) bool { return f.Len >= n }
}

// And composes two filters; the result matches when both match.
func And(a, b FrameFilter) FrameFilter {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	default:
		return func(f Frame) bool { return a(f) && b(f) }
	}
}

// Or composes two filters; the result matches when either matches.
func Or(a, b FrameFilter) FrameFilter {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	default:
		return func(f Frame) bool { return a(f) || b(f) }
	}
}

// Not inverts a filter.
func Not(a FrameFilter) FrameFilter {
	if a == nil {
		return func(f Frame) bool { return false }
	}
	return func(f Frame) bool { return !a(f) }
}
