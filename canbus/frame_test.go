package canbus

import (
	"testing"
)

func TestFrame_Validate_Marshal_Unmarshal_String(t *testing.T) {
	cases := []struct {
		name    string
		frame   Frame
		wantStr string
	}{
		{
			name:    "standard frame with data",
			frame:   MustFrame(0x123, []byte{0xDE, 0xAD}),
			wantStr: "123 [2] DE AD",
		},
		{
			name:    "gear frame",
			frame:   MustFrame(0x100, []byte{6}),
			wantStr: "100 [1] 06",
		},
		{
			name:    "extended RTR, zero length",
			frame:   Frame{ID: 0x1ABCDEFF, Extended: true, RTR: true, Len: 0},
			wantStr: "1ABCDEFF [0] RTR",
		},
	}

	for _, tc := range cases {
		if err := tc.frame.Validate(); err != nil {
			t.Fatalf("%s: Validate() error = %v", tc.name, err)
		}
		b, err := tc.frame.MarshalBinary()
		if err != nil {
			t.Fatalf("%s: MarshalBinary() error = %v", tc.name, err)
		}
		if len(b) != 16 {
			t.Fatalf("%s: MarshalBinary() len = %d, want 16", tc.name, len(b))
		}
		var g Frame
		if err := g.UnmarshalBinary(b); err != nil {
			t.Fatalf("%s: UnmarshalBinary() error = %v", tc.name, err)
		}
		if g != tc.frame {
			t.Fatalf("%s: roundtrip mismatch: got %+v want %+v", tc.name, g, tc.frame)
		}
		if got := g.String(); got != tc.wantStr {
			t.Fatalf("%s: String() = %q, want %q", tc.name, got, tc.wantStr)
		}
	}
}

func TestFrame_Invalid(t *testing.T) {
	{
		f := Frame{ID: 0x800, Len: 0} // standard, out of range
		if err := f.Validate(); err != ErrInvalidID {
			t.Fatalf("expected invalid standard ID, got %v", err)
		}
	}
	{
		f := Frame{ID: 0x20000000, Extended: true} // extended, out of range
		if err := f.Validate(); err != ErrInvalidID {
			t.Fatalf("expected invalid extended ID, got %v", err)
		}
	}
	{
		f := Frame{ID: 0x100, Len: 9}
		if err := f.Validate(); err != ErrInvalidLen {
			t.Fatalf("expected invalid length, got %v", err)
		}
	}
	{
		var f Frame
		if err := f.UnmarshalBinary(make([]byte, 4)); err == nil {
			t.Fatalf("expected short buffer error")
		}
	}
	{
		defer func() {
			if r := recover(); r == nil {
				t.Fatalf("MustFrame should panic for len>8")
			}
		}()
		_ = MustFrame(0x123, make([]byte, 9))
	}
}

func TestFrame_Payload(t *testing.T) {
	f := MustFrame(0x100, []byte{3})
	p := f.Payload()
	if len(p) != 1 || p[0] != 3 {
		t.Fatalf("payload = %x", p)
	}
	p[0] = 9
	if f.Data[0] != 3 {
		t.Fatalf("payload must not alias the frame")
	}
}
