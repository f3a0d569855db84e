//go:build linux

package canbus

import (
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"syscall"
	"unsafe"
)

// Linux network interface helpers. IFF_UP is read and toggled via ioctl on a
// SOCK_DGRAM socket; CAN link parameters go through iproute2.
//
// Changing flags or link parameters requires CAP_NET_ADMIN. Without it the
// kernel answers EPERM, which RequireRootOrCapNetAdmin rewrites.

const (
	ifNameSize   = 16     // IFNAMSIZ
	siocGIFFlags = 0x8913 // SIOCGIFFLAGS
	siocSIFFlags = 0x8914 // SIOCSIFFLAGS
	iffUp        = 0x1    // IFF_UP
)

// ifreqFlags mirrors the layout of struct ifreq for flag operations on Linux.
// sizeof(struct ifreq) = 40 on most 64-bit Linux: 16 (name) + 24 (union).
type ifreqFlags struct {
	Name  [ifNameSize]byte
	Flags uint16
	pad   [22]byte
}

func checkIfName(name string) error {
	if len(name) == 0 || len(name) >= ifNameSize {
		return fmt.Errorf("canbus: invalid interface name %q", name)
	}
	return nil
}

func ifFlagsIoctl(name string, req uintptr, ifr *ifreqFlags) error {
	if err := checkIfName(name); err != nil {
		return err
	}
	fd, err := syscall.Socket(syscall.AF_INET, syscall.SOCK_DGRAM, 0)
	if err != nil {
		return err
	}
	defer syscall.Close(fd)
	copy(ifr.Name[:], name)
	_, _, errno := syscall.Syscall(syscall.SYS_IOCTL, uintptr(fd), req, uintptr(unsafe.Pointer(ifr)))
	if errno != 0 {
		return errno
	}
	return nil
}

func getInterfaceFlags(name string) (uint16, error) {
	var ifr ifreqFlags
	if err := ifFlagsIoctl(name, siocGIFFlags, &ifr); err != nil {
		return 0, err
	}
	return ifr.Flags, nil
}

func setInterfaceUp(name string, up bool) error {
	flags, err := getInterfaceFlags(name)
	if err != nil {
		return err
	}
	if (flags&iffUp != 0) == up {
		return nil
	}
	ifr := ifreqFlags{Flags: flags &^ iffUp}
	if up {
		ifr.Flags = flags | iffUp
	}
	return RequireRootOrCapNetAdmin(ifFlagsIoctl(name, siocSIFFlags, &ifr))
}

// IsInterfaceUp returns true if the Linux network interface has IFF_UP set.
func IsInterfaceUp(name string) (bool, error) {
	flags, err := getInterfaceFlags(name)
	if err != nil {
		return false, err
	}
	return flags&iffUp != 0, nil
}

// SetInterfaceUp sets IFF_UP on the given interface. Requires CAP_NET_ADMIN.
func SetInterfaceUp(name string) error { return setInterfaceUp(name, true) }

// SetInterfaceDown clears IFF_UP on the given interface. Requires CAP_NET_ADMIN.
func SetInterfaceDown(name string) error { return setInterfaceUp(name, false) }

// RequireRootOrCapNetAdmin maps EPERM to an error advising to grant
// CAP_NET_ADMIN to the binary. Other errors pass through.
func RequireRootOrCapNetAdmin(err error) error {
	if errors.Is(err, syscall.EPERM) {
		return fmt.Errorf("operation requires CAP_NET_ADMIN (or root): %w", err)
	}
	return err
}

// LinuxCANInterfaceOptions controls CAN link parameters. Zero fields are
// left unchanged.
type LinuxCANInterfaceOptions struct {
	// Bitrate in bits per second (e.g., 125000, 500000, 1000000).
	Bitrate uint32
	// RestartMs is the automatic bus-off recovery delay.
	RestartMs uint32
}

// ConfigureLinuxCANInterface takes the interface down, applies opts via
// `ip link set ... type can` and brings it back up. Virtual interfaces
// (vcan) have no bitrate; pass zero options to only bring them up.
func ConfigureLinuxCANInterface(name string, opts LinuxCANInterfaceOptions) error {
	if err := checkIfName(name); err != nil {
		return err
	}
	if opts.Bitrate != 0 || opts.RestartMs != 0 {
		if err := SetInterfaceDown(name); err != nil {
			return err
		}
		args := []string{"link", "set", "dev", name, "type", "can"}
		if opts.Bitrate != 0 {
			args = append(args, "bitrate", strconv.FormatUint(uint64(opts.Bitrate), 10))
		}
		if opts.RestartMs != 0 {
			args = append(args, "restart-ms", strconv.FormatUint(uint64(opts.RestartMs), 10))
		}
		if out, err := exec.Command("ip", args...).CombinedOutput(); err != nil {
			return RequireRootOrCapNetAdmin(fmt.Errorf("ip link set type can failed: %w; output: %s", err, string(out)))
		}
	}
	return SetInterfaceUp(name)
}
