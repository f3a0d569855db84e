package gear

import "github.com/notnil/simwheel/canbus"

// Wire contract of the gear message.
const (
	FrameID  uint32 = 0x100
	FrameLen uint8  = 1
)

// Codec maps states to frames for one identifier. The zero value is not
// usable; use DefaultCodec or NewCodec.
type Codec struct {
	id uint32
}

// DefaultCodec encodes on FrameID.
var DefaultCodec = Codec{id: FrameID}

// NewCodec returns a codec for a standard identifier other than FrameID.
func NewCodec(id uint32) (Codec, error) {
	if id > canbus.StdIDMask {
		return Codec{}, canbus.ErrInvalidID
	}
	return Codec{id: id}, nil
}

// ID is the identifier frames are encoded with and filtered on.
func (c Codec) ID() uint32 { return c.id }

// Encode builds a fresh frame carrying s in its single payload byte.
func (c Codec) Encode(s State) canbus.Frame {
	var f canbus.Frame
	f.ID = c.id
	f.Len = FrameLen
	f.Data[0] = byte(s)
	return f
}

// Decode returns the raw gear byte of a frame addressed to this codec. ok is
// false for any other frame, which callers ignore. The byte is reported as
// is; reception never feeds a State back into the transmitter.
func (c Codec) Decode(f canbus.Frame) (gear uint8, ok bool) {
	if f.ID != c.id || f.Extended || f.RTR || f.Len < FrameLen {
		return 0, false
	}
	return f.Data[0], true
}

// RxFilter is the acceptance filter for this codec's identifier.
func (c Codec) RxFilter() canbus.Filter {
	return canbus.Filter{ID: c.id, Mask: canbus.StdIDMask}
}

// Encode encodes s with DefaultCodec.
func Encode(s State) canbus.Frame { return DefaultCodec.Encode(s) }

// Decode decodes f with DefaultCodec.
func Decode(f canbus.Frame) (uint8, bool) { return DefaultCodec.Decode(f) }

// RxFilter is DefaultCodec's acceptance filter.
func RxFilter() canbus.Filter { return DefaultCodec.RxFilter() }
