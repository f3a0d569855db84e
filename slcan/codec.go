// Package slcan implements a canbus.Bus over serial-line CAN adapters that
// speak the Lawicel SLCAN ASCII protocol (CANable, CANtact, USBtin and
// similar).
package slcan

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/notnil/simwheel/canbus"
)

var (
	// ErrMalformed is returned for lines that are not valid SLCAN frames.
	ErrMalformed = errors.New("slcan: malformed frame")
	// ErrAdapter is returned by Send when the adapter answers a frame with BEL.
	ErrAdapter = fmt.Errorf("slcan: adapter error: %w", canbus.ErrRejected)
)

// Adapter commands. Each is terminated with '\r'.
const (
	cmdClose      = "C"
	cmdOpen       = "O"
	cmdListenOnly = "L"
	cmdBitrate    = "S"
)

// Adapter replies: '\r' acknowledges a command, BEL reports an error and
// 'z'/'Z' acknowledge a transmitted standard/extended frame.
const (
	eol = '\r'
	bel = '\a'
)

var bitrates = []uint32{10000, 20000, 50000, 100000, 125000, 250000, 500000, 800000, 1000000}

// BitrateCommand returns the "S<n>" command selecting bitrate.
func BitrateCommand(bitrate uint32) (string, error) {
	for i, b := range bitrates {
		if b == bitrate {
			return cmdBitrate + strconv.Itoa(i), nil
		}
	}
	return "", fmt.Errorf("slcan: unsupported bitrate %d", bitrate)
}

// EncodeFrame converts a frame into its SLCAN line, including the trailing
// carriage return.
func EncodeFrame(frame canbus.Frame) (string, error) {
	if err := frame.Validate(); err != nil {
		return "", err
	}
	var b strings.Builder
	switch {
	case frame.RTR && frame.Extended:
		b.WriteByte('R')
	case frame.RTR:
		b.WriteByte('r')
	case frame.Extended:
		b.WriteByte('T')
	default:
		b.WriteByte('t')
	}
	if frame.Extended {
		fmt.Fprintf(&b, "%08X", frame.ID)
	} else {
		fmt.Fprintf(&b, "%03X", frame.ID)
	}
	b.WriteByte('0' + frame.Len)
	if !frame.RTR {
		for _, d := range frame.Payload() {
			fmt.Fprintf(&b, "%02X", d)
		}
	}
	b.WriteByte(eol)
	return b.String(), nil
}

// DecodeFrame parses one SLCAN frame line without its terminator. A trailing
// 4 digit timestamp, as sent by adapters with timestamps enabled, is ignored.
func DecodeFrame(line string) (canbus.Frame, error) {
	var f canbus.Frame
	if line == "" {
		return f, ErrMalformed
	}
	idLen := 3
	switch line[0] {
	case 't':
	case 'r':
		f.RTR = true
	case 'T':
		f.Extended, idLen = true, 8
	case 'R':
		f.Extended, f.RTR, idLen = true, true, 8
	default:
		return f, fmt.Errorf("%w: unknown type %q", ErrMalformed, line[0])
	}
	if len(line) < 1+idLen+1 {
		return f, fmt.Errorf("%w: %q too short", ErrMalformed, line)
	}
	id, err := strconv.ParseUint(line[1:1+idLen], 16, 32)
	if err != nil {
		return f, fmt.Errorf("%w: id: %v", ErrMalformed, err)
	}
	f.ID = uint32(id)
	dlc := line[1+idLen]
	if dlc < '0' || dlc > '8' {
		return f, fmt.Errorf("%w: dlc %q", ErrMalformed, dlc)
	}
	f.Len = dlc - '0'

	rest := line[2+idLen:]
	if !f.RTR {
		n := int(f.Len) * 2
		if len(rest) < n {
			return f, fmt.Errorf("%w: %q missing data", ErrMalformed, line)
		}
		for i := 0; i < int(f.Len); i++ {
			v, err := strconv.ParseUint(rest[2*i:2*i+2], 16, 8)
			if err != nil {
				return f, fmt.Errorf("%w: data: %v", ErrMalformed, err)
			}
			f.Data[i] = byte(v)
		}
		rest = rest[n:]
	}
	if len(rest) != 0 && len(rest) != 4 {
		return f, fmt.Errorf("%w: %q trailing bytes", ErrMalformed, line)
	}
	return f, f.Validate()
}
